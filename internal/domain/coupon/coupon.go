package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrCodeTaken is returned by Repository.Create when the code already exists.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrAlreadyIssued is returned by Repository.Create when the return
	// request already has a coupon.
	ErrAlreadyIssued = errors.New("coupon already issued for return")
	// ErrNotFound is returned when no coupon matches a lookup.
	ErrNotFound = errors.New("coupon not found")
	// ErrExhausted is returned when no free code could be generated.
	ErrExhausted = errors.New("could not allocate a unique coupon code")
	// ErrInvalidAmount is returned for non-positive coupon values.
	ErrInvalidAmount = errors.New("coupon amount must be positive")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Exchange coupons are single-use fixed discounts tied to a return request.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	Description  string
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	ReturnID     string
	CreatedAt    time.Time
}

// Repository persists coupon rules.
type Repository interface {
	// Create stores rule, returning ErrCodeTaken on a code collision and
	// ErrAlreadyIssued when rule.ReturnID already has a coupon.
	Create(ctx context.Context, rule *Rule) error
	Exists(ctx context.Context, code string) (bool, error)
	FindByReturn(ctx context.Context, returnID string) (*Rule, error)
}
