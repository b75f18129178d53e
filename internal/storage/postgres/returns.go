package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

const (
	createReturnSQL = `INSERT INTO return_requests
		(id, order_number, customer_email, customer_name, customer_phone, type, resolution,
		 status, reason, items, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getReturnSQL = `SELECT id, order_number, customer_email, customer_name, customer_phone,
		type, resolution, status, reason, items, coupon_code, coupon_amount, refund_amount,
		shipping_label, tracking_number, notes, created_at, updated_at
		FROM return_requests WHERE id = $1`

	updateReturnStatusSQL = `UPDATE return_requests SET status = $2, notes = $3, updated_at = $4
		WHERE id = $1 AND status = $5`

	setReturnCouponSQL = `UPDATE return_requests SET coupon_code = $2, coupon_amount = $3, updated_at = now()
		WHERE id = $1 AND coupon_code IS NULL`

	setReturnRefundSQL = `UPDATE return_requests SET refund_amount = $2, updated_at = now()
		WHERE id = $1 AND refund_amount IS NULL`

	setReturnLabelSQL = `UPDATE return_requests SET shipping_label = $2, tracking_number = $3, updated_at = now()
		WHERE id = $1`

	returnExistsSQL = `SELECT EXISTS (SELECT 1 FROM return_requests WHERE id = $1)`

	addNotificationSQL = `INSERT INTO return_notifications
		(id, return_id, type, status, recipient, content, error, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listNotificationsSQL = `SELECT id, return_id, type, status, recipient, content, error, created_at, sent_at
		FROM return_notifications WHERE return_id = $1 ORDER BY created_at, id`

	invalidTextRepresentation = "22P02"
)

var _ returns.Repository = (*ReturnRepository)(nil)

// ReturnRepository implements returns.Repository backed by PostgreSQL.
type ReturnRepository struct {
	pool *pgxpool.Pool
}

// NewReturnRepository returns a ReturnRepository that uses the given pool.
func NewReturnRepository(pool *pgxpool.Pool) *ReturnRepository {
	return &ReturnRepository{pool: pool}
}

// Create inserts a new request.
func (r *ReturnRepository) Create(ctx context.Context, req *returns.Request) error {
	_, err := r.pool.Exec(ctx, createReturnSQL,
		req.ID, req.OrderNumber, req.CustomerEmail, req.CustomerName, req.CustomerPhone,
		string(req.Type), string(req.Resolution), string(req.Status), req.Reason, req.Items,
		req.Notes, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating return request %q: %w", req.ID, err)
	}
	return nil
}

// Get returns a request or returns.ErrNotFound.
func (r *ReturnRepository) Get(ctx context.Context, id string) (*returns.Request, error) {
	if err := checkReturnID(id); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, getReturnSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding return request %q: %w", id, err)
	}
	req, err := pgx.CollectExactlyOneRow(rows, scanReturn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, returns.ErrNotFound
		}
		return nil, fmt.Errorf("finding return request %q: %w", id, err)
	}
	return &req, nil
}

// checkReturnID returns returns.ErrNotFound for ids that cannot name a stored
// request, since the id column is a uuid and Postgres rejects other text.
func checkReturnID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return returns.ErrNotFound
	}
	return nil
}

func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// UpdateStatus writes the status only if the stored one still equals from.
func (r *ReturnRepository) UpdateStatus(ctx context.Context, req *returns.Request, from returns.Status) error {
	if err := checkReturnID(req.ID); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, updateReturnStatusSQL,
		req.ID, string(req.Status), req.Notes, req.UpdatedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating status of return request %q: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, req.ID, returns.ErrConflict)
	}
	return nil
}

// SetCoupon stores the coupon unless one is already set.
func (r *ReturnRepository) SetCoupon(ctx context.Context, id, code string, amount decimal.Decimal) error {
	if err := checkReturnID(id); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, setReturnCouponSQL, id, code, amount)
	if err != nil {
		return fmt.Errorf("setting coupon of return request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, returns.ErrAlreadySet)
	}
	return nil
}

// SetRefund stores the refund amount unless one is already set.
func (r *ReturnRepository) SetRefund(ctx context.Context, id string, amount decimal.Decimal) error {
	if err := checkReturnID(id); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, setReturnRefundSQL, id, amount)
	if err != nil {
		return fmt.Errorf("setting refund of return request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, returns.ErrAlreadySet)
	}
	return nil
}

// SetLabel stores the shipping label and tracking number.
func (r *ReturnRepository) SetLabel(ctx context.Context, id, labelURL, trackingNumber string) error {
	if err := checkReturnID(id); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, setReturnLabelSQL, id, labelURL, trackingNumber)
	if err != nil {
		return fmt.Errorf("setting label of return request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return returns.ErrNotFound
	}
	return nil
}

// AddNotification inserts a notification record.
func (r *ReturnRepository) AddNotification(ctx context.Context, n *returns.Notification) error {
	_, err := r.pool.Exec(ctx, addNotificationSQL,
		n.ID, n.ReturnID, string(n.Type), string(n.Status), n.Recipient, n.Content,
		n.Error, n.CreatedAt, n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("adding notification for return request %q: %w", n.ReturnID, err)
	}
	return nil
}

// ListNotifications returns the notifications of a request, oldest first.
func (r *ReturnRepository) ListNotifications(ctx context.Context, returnID string) ([]returns.Notification, error) {
	if err := checkReturnID(returnID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, listNotificationsSQL, returnID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications of return request %q: %w", returnID, err)
	}
	out, err := pgx.CollectRows(rows, scanNotification)
	if err != nil {
		return nil, fmt.Errorf("listing notifications of return request %q: %w", returnID, err)
	}
	return out, nil
}

func (r *ReturnRepository) missingOr(ctx context.Context, id string, err error) error {
	var exists bool
	if qErr := r.pool.QueryRow(ctx, returnExistsSQL, id).Scan(&exists); qErr != nil {
		return fmt.Errorf("checking return request %q: %w", id, qErr)
	}
	if !exists {
		return returns.ErrNotFound
	}
	return err
}

func scanReturn(row pgx.CollectableRow) (returns.Request, error) {
	var (
		req                     returns.Request
		typ, resolution, status string
		couponCode              *string
	)
	err := row.Scan(
		&req.ID, &req.OrderNumber, &req.CustomerEmail, &req.CustomerName, &req.CustomerPhone,
		&typ, &resolution, &status, &req.Reason, &req.Items, &couponCode,
		&req.CouponAmount, &req.RefundAmount, &req.ShippingLabel, &req.TrackingNumber,
		&req.Notes, &req.CreatedAt, &req.UpdatedAt,
	)
	req.Type = returns.Type(typ)
	req.Resolution = returns.Resolution(resolution)
	req.Status = returns.Status(status)
	if couponCode != nil {
		req.CouponCode = *couponCode
	}
	return req, err
}

func scanNotification(row pgx.CollectableRow) (returns.Notification, error) {
	var (
		n           returns.Notification
		typ, status string
	)
	err := row.Scan(
		&n.ID, &n.ReturnID, &typ, &status, &n.Recipient, &n.Content,
		&n.Error, &n.CreatedAt, &n.SentAt,
	)
	n.Type = returns.Channel(typ)
	n.Status = returns.NotificationStatus(status)
	return n, err
}
