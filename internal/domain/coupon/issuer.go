package coupon

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultPrefix is prepended to exchange coupon codes.
const DefaultPrefix = "CAMBIO"

const maxAttempts = 16

// IssueRequest describes an exchange coupon.
type IssueRequest struct {
	ReturnID    string
	Amount      decimal.Decimal
	Description string
	Validity    time.Duration
}

// Issuer allocates unique PREFIX-dddddd codes and stores them as single-use
// fixed-amount rules.
//
// A bloom filter remembers codes this process has issued or seen taken. A
// negative answer skips the repository lookup; the unique constraint behind
// Repository.Create still catches codes issued elsewhere.
type Issuer struct {
	repo   Repository
	prefix string
	now    func() time.Time
	digits func() int

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewIssuer creates an Issuer. An empty prefix uses DefaultPrefix.
func NewIssuer(repo Repository, prefix string) *Issuer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Issuer{
		repo:   repo,
		prefix: prefix,
		now:    time.Now,
		digits: func() int { return rand.IntN(1_000_000) },
		seen:   bloom.NewWithEstimates(100_000, 0.001),
	}
}

// Issue creates a new coupon for req. Issuing twice for the same ReturnID
// returns the first coupon.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Rule, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	for range maxAttempts {
		code := fmt.Sprintf("%s-%06d", i.prefix, i.digits())

		if i.maybeSeen(code) {
			exists, err := i.repo.Exists(ctx, code)
			if err != nil {
				return nil, errors.Wrap(err, "check coupon code")
			}
			if exists {
				continue
			}
		}

		rule := &Rule{
			Code:         code,
			DiscountType: DiscountFixed,
			Value:        req.Amount,
			Description:  req.Description,
			MaxUses:      1,
			ReturnID:     req.ReturnID,
			CreatedAt:    i.now().UTC(),
		}
		if req.Validity > 0 {
			until := rule.CreatedAt.Add(req.Validity)
			rule.ValidUntil = &until
		}

		err := i.repo.Create(ctx, rule)
		i.remember(code)
		switch {
		case errors.Is(err, ErrCodeTaken):
			continue
		case errors.Is(err, ErrAlreadyIssued):
			existing, err := i.repo.FindByReturn(ctx, req.ReturnID)
			if err != nil {
				return nil, errors.Wrap(err, "find issued coupon")
			}
			return existing, nil
		case err != nil:
			return nil, errors.Wrap(err, "create coupon")
		}
		return rule, nil
	}
	return nil, ErrExhausted
}

func (i *Issuer) maybeSeen(code string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen.TestString(code)
}

func (i *Issuer) remember(code string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen.AddString(code)
}
