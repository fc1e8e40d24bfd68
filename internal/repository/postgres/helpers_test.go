package postgres

import (
	"github.com/shopspring/decimal"
)

// decimalArg matches decimal query arguments by value. pgxmock hands encoded arguments
// to matchers, so the driver string form is accepted as well.
type decimalArg struct {
	want decimal.Decimal
}

func (a decimalArg) Match(v interface{}) bool {
	switch got := v.(type) {
	case decimal.Decimal:
		return got.Equal(a.want)
	case *decimal.Decimal:
		return got != nil && got.Equal(a.want)
	case string:
		d, err := decimal.NewFromString(got)
		return err == nil && d.Equal(a.want)
	}
	return false
}

func dec(value string) decimalArg {
	return decimalArg{want: decimal.RequireFromString(value)}
}

func strPtr(s string) *string {
	return &s
}
