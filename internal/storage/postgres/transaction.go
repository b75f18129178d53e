package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-payments/internal/domain/transaction"
)

const (
	getTransactionSQL = `SELECT order_id, payment_id, gateway, status, amount, currency,
		items, shipping_address, metadata, created_at, updated_at, processed_at, failure_reason,
		refunded_amount
		FROM payment_transactions WHERE order_id = $1`

	saveTransactionSQL = `INSERT INTO payment_transactions
		(order_id, payment_id, gateway, status, amount, currency, items, shipping_address,
		 metadata, created_at, updated_at, processed_at, failure_reason, refunded_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (order_id) DO UPDATE SET
			payment_id = EXCLUDED.payment_id,
			gateway = EXCLUDED.gateway,
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			items = EXCLUDED.items,
			shipping_address = EXCLUDED.shipping_address,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			processed_at = EXCLUDED.processed_at,
			failure_reason = EXCLUDED.failure_reason,
			refunded_amount = EXCLUDED.refunded_amount`
)

var _ transaction.Store = (*TransactionStore)(nil)

// TransactionStore holds the projected transaction of each order.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore returns a TransactionStore that uses the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Get returns the transaction of an order or transaction.ErrNotFound.
func (s *TransactionStore) Get(ctx context.Context, orderID string) (*transaction.Transaction, error) {
	rows, err := s.pool.Query(ctx, getTransactionSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding transaction %q: %w", orderID, err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrNotFound
		}
		return nil, fmt.Errorf("finding transaction %q: %w", orderID, err)
	}
	return &t, nil
}

// Save upserts t. The JSONB columns are encoded by pgx.
func (s *TransactionStore) Save(ctx context.Context, t *transaction.Transaction) error {
	items := t.Items
	if items == nil {
		items = []transaction.Item{}
	}
	md := t.Metadata
	if md == nil {
		md = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, saveTransactionSQL,
		t.OrderID, t.PaymentID, t.Gateway, string(t.Status), t.Amount, t.Currency,
		items, t.ShippingAddress, md, t.CreatedAt, t.UpdatedAt, t.ProcessedAt, t.FailureReason,
		t.RefundedAmount,
	)
	if err != nil {
		return fmt.Errorf("saving transaction %q: %w", t.OrderID, err)
	}
	return nil
}

func scanTransaction(row pgx.CollectableRow) (transaction.Transaction, error) {
	var (
		t      transaction.Transaction
		status string
	)
	err := row.Scan(
		&t.OrderID, &t.PaymentID, &t.Gateway, &status, &t.Amount, &t.Currency,
		&t.Items, &t.ShippingAddress, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
		&t.ProcessedAt, &t.FailureReason, &t.RefundedAmount,
	)
	t.Status = transaction.Status(status)
	return t, err
}
