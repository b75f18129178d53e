package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-payments/internal/eventlog"
)

const (
	appendEntrySQL = `INSERT INTO payment_log
		(id, ts, level, event, gateway, order_id, payment_id, request_id, return_id, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	selectEntryColumns = `SELECT id, ts, level, event, gateway, order_id, payment_id,
		request_id, return_id, message, metadata FROM payment_log`

	listEntriesByOrderSQL = selectEntryColumns + ` WHERE order_id = $1 ORDER BY seq`

	listEntriesSinceSQL = selectEntryColumns + ` WHERE ts >= $1 AND ($2 = '' OR gateway = $2) ORDER BY seq`
)

var _ eventlog.Store = (*EventLog)(nil)

// EventLog is the append-only payment log table.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog returns an EventLog that uses the given pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append inserts e. Rows are never updated or deleted.
func (l *EventLog) Append(ctx context.Context, e eventlog.Entry) error {
	md := e.Metadata
	if md == nil {
		md = map[string]string{}
	}
	_, err := l.pool.Exec(ctx, appendEntrySQL,
		e.ID, e.Timestamp, string(e.Level), string(e.Event), e.Gateway, e.OrderID,
		e.PaymentID, e.RequestID, e.ReturnID, e.Message, md,
	)
	if err != nil {
		return fmt.Errorf("appending %s for order %q: %w", e.Event, e.OrderID, err)
	}
	return nil
}

// ListByOrder returns the entries of one order in append order.
func (l *EventLog) ListByOrder(ctx context.Context, orderID string) ([]eventlog.Entry, error) {
	rows, err := l.pool.Query(ctx, listEntriesByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing entries of order %q: %w", orderID, err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("listing entries of order %q: %w", orderID, err)
	}
	return entries, nil
}

// ListSince returns entries at or after since, optionally for one gateway.
func (l *EventLog) ListSince(ctx context.Context, since time.Time, gateway string) ([]eventlog.Entry, error) {
	rows, err := l.pool.Query(ctx, listEntriesSinceSQL, since, gateway)
	if err != nil {
		return nil, fmt.Errorf("listing entries since %s: %w", since.Format(time.RFC3339), err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("listing entries since %s: %w", since.Format(time.RFC3339), err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (eventlog.Entry, error) {
	var (
		e            eventlog.Entry
		level, event string
	)
	err := row.Scan(
		&e.ID, &e.Timestamp, &level, &event, &e.Gateway, &e.OrderID,
		&e.PaymentID, &e.RequestID, &e.ReturnID, &e.Message, &e.Metadata,
	)
	e.Level = eventlog.Level(level)
	e.Event = eventlog.Event(event)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}
