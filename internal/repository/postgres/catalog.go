package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/repository"
)

const appsTable = "market.apps"

// CatalogRepository reads app identity and list price from the catalog tables.
// The catalog subsystem owns these rows; nothing here writes them.
type CatalogRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCatalogRepository constructs a read-only catalog repository.
func NewCatalogRepository(exec pgExecutor) *CatalogRepository {
	return &CatalogRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetApp returns the app with its current price.
func (r *CatalogRepository) GetApp(ctx context.Context, id string) (*domain.App, error) {
	stmt, args, err := r.builder.Select("id", "name", "price").
		From(appsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select app sql: %w", err)
	}

	var app domain.App
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&app.ID, &app.Name, &app.Price); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan app: %w", err)
	}

	return &app, nil
}

var _ port.AppCatalog = (*CatalogRepository)(nil)
