package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-payments/internal/domain/coupon"
)

const (
	createCouponSQL = `INSERT INTO coupons
		(code, discount_type, value, description, valid_until, max_uses, uses, return_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`

	getCouponByReturnSQL = `SELECT code, discount_type, value, description, valid_until,
		max_uses, uses, COALESCE(return_id::text, ''), created_at
		FROM coupons WHERE return_id = $1`

	uniqueViolation = "23505"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts rule. Unique violations map to coupon.ErrCodeTaken or
// coupon.ErrAlreadyIssued depending on the constraint hit.
func (r *CouponRepository) Create(ctx context.Context, rule *coupon.Rule) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		rule.Code, string(rule.DiscountType), rule.Value, rule.Description, rule.ValidUntil,
		rule.MaxUses, rule.Uses, nullUUID(rule.ReturnID), rule.CreatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "coupons_return_id_key" {
			return coupon.ErrAlreadyIssued
		}
		return coupon.ErrCodeTaken
	}
	return fmt.Errorf("creating coupon %q: %w", rule.Code, err)
}

// Exists reports whether a coupon with code exists (case-insensitive).
func (r *CouponRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", code, err)
	}
	return exists, nil
}

// FindByReturn returns the coupon issued for a return request.
func (r *CouponRepository) FindByReturn(ctx context.Context, returnID string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByReturnSQL, returnID)
	if err != nil {
		return nil, fmt.Errorf("finding coupon of return %q: %w", returnID, err)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon of return %q: %w", returnID, err)
	}
	return &rule, nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&rule.Code, &discountType, &rule.Value, &rule.Description, &rule.ValidUntil,
		&maxUses, &uses, &rule.ReturnID, &rule.CreatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return rule, err
}

func nullUUID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
