package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/infra/logger"
	"github.com/arklim/appmarket-accounts/internal/infra/telemetry"
	"github.com/arklim/appmarket-accounts/internal/repository"
)

const (
	minDisplayNameLength = 3
	maxDisplayNameLength = 64
)

// AccessGateConfig drives the lockout state machine.
type AccessGateConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	SessionTTL      time.Duration
}

func DefaultAccessGateConfig() AccessGateConfig {
	return AccessGateConfig{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
		SessionTTL:      30 * 24 * time.Hour,
	}
}

// AuthResult is returned on successful authentication.
type AuthResult struct {
	Credential string
	ExpiresAt  time.Time
	Account    domain.AccountSummary
}

type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

// AccessGate authenticates credentials and is the only writer of the login counter,
// lockout and last-login fields.
type AccessGate struct {
	accounts  port.AccountRepository
	hasher    port.PasswordHasher
	issuer    port.CredentialIssuer
	publisher port.EventPublisher
	policy    port.PasswordPolicyValidator
	cfg       AccessGateConfig
	logger    *zap.Logger
	metrics   *telemetry.LedgerMetrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewAccessGate(
	accounts port.AccountRepository,
	hasher port.PasswordHasher,
	issuer port.CredentialIssuer,
	publisher port.EventPublisher,
	cfg AccessGateConfig,
	log *zap.Logger,
) *AccessGate {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultAccessGateConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaults.LockoutDuration
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}

	return &AccessGate{
		accounts:  accounts,
		hasher:    hasher,
		issuer:    issuer,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.Named("access"),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

func (g *AccessGate) WithMetrics(metrics *telemetry.LedgerMetrics) *AccessGate {
	g.metrics = metrics
	return g
}

// WithPasswordPolicy enables strength checks on registration.
func (g *AccessGate) WithPasswordPolicy(policy port.PasswordPolicyValidator) *AccessGate {
	g.policy = policy
	return g
}

func (g *AccessGate) WithClock(now func() time.Time) *AccessGate {
	if now != nil {
		g.now = now
	}
	return g
}

// Authenticate checks email and password against the stored account.
//
// A locked account is rejected with *LockedError before the password is looked at and
// without any write. Every other attempt writes the account row: a wrong password bumps
// the failure counter (locking the account once it reaches MaxAttempts), a correct one
// resets it. The failure that triggers the lockout is itself reported as *LockedError.
func (g *AccessGate) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := g.tracer.Start(ctx, "AccessGate.Authenticate")
	defer span.End()

	email = normalizeEmail(email)
	if email == "" {
		g.metrics.ObserveLogin(telemetry.OutcomeInvalid)
		return nil, invalid("email", "is required")
	}
	if password == "" {
		g.metrics.ObserveLogin(telemetry.OutcomeInvalid)
		return nil, invalid("password", "is required")
	}

	log := logger.WithContext(ctx, g.logger).With(zap.String("email", logger.MaskEmail(email)))
	now := g.now().UTC()

	account, err := g.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			g.metrics.ObserveLogin(telemetry.OutcomeInvalidPassword)
			log.Info("login rejected: unknown email")
			return nil, ErrInvalidCredentials
		}
		g.metrics.ObserveLogin(telemetry.OutcomeError)
		return nil, g.storageFailure(ctx, span, "lookup account", err)
	}
	state := account.AccessState(now)
	span.SetAttributes(
		attribute.String("account.id", account.ID),
		attribute.String("account.access_state", string(state)),
	)
	log = log.With(zap.String("account_id", account.ID), zap.String("access_state", string(state)))

	if state == domain.AccessStateLocked {
		g.metrics.ObserveLogin(telemetry.OutcomeLocked)
		log.Info("login rejected: account locked", zap.Time("lockout_until", *account.LockoutUntil))
		return nil, newLockedError(*account.LockoutUntil, account.LockoutRemaining(now))
	}

	ok, err := g.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		g.metrics.ObserveLogin(telemetry.OutcomeError)
		return nil, g.internalFailure(ctx, span, "verify password", err)
	}

	if !ok {
		return nil, g.recordFailure(ctx, span, log, account.ID, now)
	}

	if err := g.accounts.RecordLoginSuccess(ctx, account.ID, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrPreconditionFailed):
			// A concurrent failure locked the account between the read and this write.
			return nil, g.lockedFromStore(ctx, span, log, account.ID, now)
		case errors.Is(err, repository.ErrNotFound):
			g.metrics.ObserveLogin(telemetry.OutcomeInvalidPassword)
			return nil, ErrInvalidCredentials
		}
		g.metrics.ObserveLogin(telemetry.OutcomeError)
		return nil, g.storageFailure(ctx, span, "record login success", err)
	}

	summary := account.Summary()
	credential, err := g.issuer.Issue(summary, now, g.cfg.SessionTTL)
	if err != nil {
		g.metrics.ObserveLogin(telemetry.OutcomeError)
		return nil, g.internalFailure(ctx, span, "issue credential", err)
	}

	g.metrics.ObserveLogin(telemetry.OutcomeSuccess)
	log.Info("login succeeded", zap.Int("previous_failed_attempts", account.FailedLoginAttempts))

	return &AuthResult{
		Credential: credential,
		ExpiresAt:  now.Add(g.cfg.SessionTTL),
		Account:    summary,
	}, nil
}

func (g *AccessGate) recordFailure(ctx context.Context, span trace.Span, log *zap.Logger, accountID string, now time.Time) error {
	result, err := g.accounts.RecordLoginFailure(ctx, accountID, port.LoginFailure{
		MaxAttempts:  g.cfg.MaxAttempts,
		LockoutUntil: now.Add(g.cfg.LockoutDuration),
		Now:          now,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPreconditionFailed):
			return g.lockedFromStore(ctx, span, log, accountID, now)
		case errors.Is(err, repository.ErrNotFound):
			g.metrics.ObserveLogin(telemetry.OutcomeInvalidPassword)
			return ErrInvalidCredentials
		}
		g.metrics.ObserveLogin(telemetry.OutcomeError)
		return g.storageFailure(ctx, span, "record login failure", err)
	}

	if !result.Locked(now) {
		g.metrics.ObserveLogin(telemetry.OutcomeInvalidPassword)
		log.Info("login rejected: invalid password", zap.Int("failed_attempts", result.FailedAttempts))
		return ErrInvalidCredentials
	}

	g.metrics.ObserveLogin(telemetry.OutcomeLocked)
	g.metrics.ObserveLockout()
	log.Warn("account locked after repeated login failures",
		zap.Int("failed_attempts", result.FailedAttempts),
		zap.Time("lockout_until", *result.LockoutUntil),
	)

	if g.publisher != nil {
		event := domain.AccountLockedEvent{
			EventID:        uuid.NewString(),
			AccountID:      accountID,
			FailedAttempts: result.FailedAttempts,
			LockedAt:       now,
			LockedUntil:    *result.LockoutUntil,
		}
		if err := g.publisher.PublishAccountLocked(ctx, event); err != nil {
			log.Warn("publish account locked event failed", zap.Error(err))
		}
	}

	return newLockedError(*result.LockoutUntil, result.LockoutUntil.Sub(now))
}

// lockedFromStore re-reads an account whose guarded update was rejected and reports
// the lockout that beat this attempt.
func (g *AccessGate) lockedFromStore(ctx context.Context, span trace.Span, log *zap.Logger, accountID string, now time.Time) error {
	account, err := g.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			g.metrics.ObserveLogin(telemetry.OutcomeInvalidPassword)
			return ErrInvalidCredentials
		}
		g.metrics.ObserveLogin(telemetry.OutcomeError)
		return g.storageFailure(ctx, span, "reload account", err)
	}
	if !account.IsLocked(now) {
		g.metrics.ObserveLogin(telemetry.OutcomeInvalidPassword)
		return ErrInvalidCredentials
	}

	g.metrics.ObserveLogin(telemetry.OutcomeLocked)
	log.Info("login rejected: locked by concurrent attempt", zap.Time("lockout_until", *account.LockoutUntil))
	return newLockedError(*account.LockoutUntil, account.LockoutRemaining(now))
}

// Register creates an account with zero balance, a clean login counter and the USER role.
func (g *AccessGate) Register(ctx context.Context, input RegisterInput) (*domain.Account, error) {
	ctx, span := g.tracer.Start(ctx, "AccessGate.Register")
	defer span.End()

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, invalid("email", "is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, invalid("email", "must be a valid email address")
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if n := utf8.RuneCountInString(displayName); n < minDisplayNameLength || n > maxDisplayNameLength {
		return nil, invalid("display_name", fmt.Sprintf("must be between %d and %d characters", minDisplayNameLength, maxDisplayNameLength))
	}

	if input.Password == "" {
		return nil, invalid("password", "is required")
	}
	if g.policy != nil {
		if err := g.policy.Validate(input.Password, email, displayName); err != nil {
			return nil, invalid("password", err.Error())
		}
	}

	hash, err := g.hasher.Hash(input.Password)
	if err != nil {
		return nil, g.internalFailure(ctx, span, "hash password", err)
	}

	now := g.now().UTC()
	account := domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Balance:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := g.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAccountExists
		}
		return nil, g.storageFailure(ctx, span, "create account", err)
	}

	logger.WithContext(ctx, g.logger).Info("account registered",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(email)),
	)

	account.PasswordHash = ""
	return &account, nil
}

func (g *AccessGate) storageFailure(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	logger.WithContext(ctx, g.logger).Error("access storage failure", zap.String("op", op), zap.Error(err))
	return &StorageError{Op: op}
}

func (g *AccessGate) internalFailure(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	logger.WithContext(ctx, g.logger).Error("access internal failure", zap.String("op", op), zap.Error(err))
	return &InternalError{Op: op}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
