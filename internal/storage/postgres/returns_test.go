package postgres

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

func TestReturnRepository_MalformedID(t *testing.T) {
	ctx := context.Background()
	// Malformed ids never reach the pool.
	repo := NewReturnRepository(nil)

	for _, id := range []string{"", "not-a-uuid", "r1", "123", "6ba7b810-9dad-11d1-80b4"} {
		t.Run(id, func(t *testing.T) {
			_, err := repo.Get(ctx, id)
			require.ErrorIs(t, err, returns.ErrNotFound)

			require.ErrorIs(t, repo.UpdateStatus(ctx, &returns.Request{ID: id, Status: returns.StatusApproved}, returns.StatusPending), returns.ErrNotFound)
			require.ErrorIs(t, repo.SetCoupon(ctx, id, "CAMBIO-1", decimal.NewFromInt(1)), returns.ErrNotFound)
			require.ErrorIs(t, repo.SetRefund(ctx, id, decimal.NewFromInt(1)), returns.ErrNotFound)
			require.ErrorIs(t, repo.SetLabel(ctx, id, "https://labels/1.pdf", "TRK-1"), returns.ErrNotFound)

			_, err = repo.ListNotifications(ctx, id)
			require.ErrorIs(t, err, returns.ErrNotFound)
		})
	}
}

func TestIsInvalidText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "invalid uuid text", err: &pgconn.PgError{Code: "22P02"}, want: true},
		{name: "wrapped", err: errors.Wrap(&pgconn.PgError{Code: "22P02"}, "query"), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: uniqueViolation}},
		{name: "other", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isInvalidText(tt.err))
		})
	}
}
