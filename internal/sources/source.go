// Package sources adapts external deposit data providers to a common DepositSource interface
package sources

import (
	"context"
	"errors"
	"sort"
	"time"

	"autopay-backend/internal/clients"
	"autopay-backend/internal/config"
	"autopay-backend/internal/models"
	"autopay-backend/internal/types"

	"github.com/shopspring/decimal"
)

// DepositSource locates deposits for one payment method
type DepositSource interface {
	Method() models.PaymentMethod
	// Verify looks up the deposit asserted by the intent's claim and checks it
	// against the intent's unique amount and the configured destination.
	Verify(ctx context.Context, intent *models.PaymentIntent, settings models.PaymentSettings) (*models.DepositCandidate, error)
	// FetchCandidates lists recent confirmed incoming deposits for polling
	FetchCandidates(ctx context.Context, settings models.PaymentSettings) ([]*models.DepositCandidate, error)
	// TestConnection checks that the configured credentials work
	TestConnection(ctx context.Context, settings models.PaymentSettings) error
}

// ClaimChecker reports whether a pending intent other than exceptID asserted the deposit txID
type ClaimChecker interface {
	ClaimedByOther(ctx context.Context, method models.PaymentMethod, txID string, exceptID uint64) (bool, error)
}

type claimAware interface {
	SetClaimChecker(c ClaimChecker)
}

// Registry holds one source per method
type Registry struct {
	sources map[models.PaymentMethod]DepositSource
}

// NewRegistry builds a registry; a later source replaces an earlier one for the same method
func NewRegistry(srcs ...DepositSource) *Registry {
	r := &Registry{sources: make(map[models.PaymentMethod]DepositSource, len(srcs))}
	for _, s := range srcs {
		r.sources[s.Method()] = s
	}
	return r
}

// NewRegistryFromConfig wires the three production sources
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	timeout := cfg.Payment.HTTPTimeout()
	return NewRegistry(
		NewExchangeEmailSource(clients.NewCoinExClient(cfg.Sources.CoinEx.BaseURL, cfg.Sources.CoinEx.PageLimit, timeout)),
		NewEVMTokenSource(clients.NewBscScanClient(cfg.Sources.BscScan.BaseURL, timeout), cfg.Sources.BscScan),
		NewUTXOChainSource(clients.NewBlockCypherClient(cfg.Sources.BlockCypher.BaseURL, timeout), cfg.Sources.BlockCypher),
	)
}

// UseClaimChecker hands c to every source that matches deposits by amount
func (r *Registry) UseClaimChecker(c ClaimChecker) {
	for _, s := range r.sources {
		if aware, ok := s.(claimAware); ok {
			aware.SetClaimChecker(c)
		}
	}
}

// Get returns the source for method
func (r *Registry) Get(method models.PaymentMethod) (DepositSource, bool) {
	s, ok := r.sources[method]
	return s, ok
}

// Methods lists registered methods in stable order
func (r *Registry) Methods() []models.PaymentMethod {
	methods := make([]models.PaymentMethod, 0, len(r.sources))
	for m := range r.sources {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// WithinTolerance reports |observed - expected| <= tolerance
func WithinTolerance(observed, expected, tolerance decimal.Decimal) bool {
	return observed.Sub(expected).Abs().LessThanOrEqual(tolerance)
}

func amountMismatch(expected, got decimal.Decimal) error {
	return types.NewPaymentError(types.KindAmountMismatch, "AmountMismatch: expected %s, got %s",
		expected.StringFixed(2), got.StringFixed(2))
}

// classify maps client failures onto the payment error taxonomy
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var pe *types.PaymentError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, clients.ErrNotFound) {
		return types.WrapPaymentError(types.KindNotFound, err, "%s not found", what)
	}
	if errors.Is(err, context.Canceled) {
		return types.WrapPaymentError(types.KindAdapterUnavailable, err, "request cancelled")
	}
	return types.WrapPaymentError(types.KindAdapterUnavailable, err, "data source unavailable, try again later")
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// closestByAmount serves Verify for chain intents without a tx hash: the
// polled candidate closest to the unique amount, within tolerance. Deposits
// another pending intent asserted are left for that intent.
func closestByAmount(ctx context.Context, src DepositSource, claims ClaimChecker, intent *models.PaymentIntent, settings models.PaymentSettings, tolerance decimal.Decimal) (*models.DepositCandidate, error) {
	candidates, err := src.FetchCandidates(ctx, settings)
	if err != nil {
		return nil, err
	}
	var eligible []*models.DepositCandidate
	for _, c := range candidates {
		if c.ObservedAt != nil && c.ObservedAt.Before(intent.CreatedAt) {
			continue
		}
		if !WithinTolerance(c.Amount, intent.UniqueAmount, tolerance) {
			continue
		}
		eligible = append(eligible, c)
	}
	diff := func(c *models.DepositCandidate) decimal.Decimal { return c.Amount.Sub(intent.UniqueAmount).Abs() }
	sort.SliceStable(eligible, func(i, j int) bool { return diff(eligible[i]).LessThan(diff(eligible[j])) })

	for _, c := range eligible {
		if claims != nil {
			claimed, err := claims.ClaimedByOther(ctx, src.Method(), c.TxID, intent.ID)
			if err != nil {
				return nil, types.WrapPaymentError(types.KindAdapterUnavailable, err, "failed to check deposit %s", c.TxID)
			}
			if claimed {
				continue
			}
		}
		return c, nil
	}
	return nil, types.NewPaymentError(types.KindNoPendingMatch, "no transfer of %s received yet", intent.UniqueAmount.StringFixed(2))
}
