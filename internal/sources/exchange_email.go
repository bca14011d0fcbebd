package sources

import (
	"context"
	"strings"
	"time"

	"autopay-backend/internal/clients"
	"autopay-backend/internal/models"
	"autopay-backend/internal/types"
)

// Deposit statuses that count as received
var acceptedExchangeStatuses = map[string]bool{
	"finish":     true,
	"finished":   true,
	"confirming": true,
	"processing": true,
	"confirmed":  true,
}

// Statuses listed while polling
var polledExchangeStatuses = []string{"processing", "confirming", "finished"}

const (
	exchangeVerifyPages = 3
	// deposits created this long before the intent still count, to absorb clock skew
	exchangeClockSkew = 10 * time.Minute
)

// ExchangeEmailSource matches on-exchange transfers by the sender's account email
type ExchangeEmailSource struct {
	client *clients.CoinExClient
}

// NewExchangeEmailSource creates the exchange_email source
func NewExchangeEmailSource(client *clients.CoinExClient) *ExchangeEmailSource {
	return &ExchangeEmailSource{client: client}
}

func (s *ExchangeEmailSource) Method() models.PaymentMethod {
	return models.PaymentMethodExchangeEmail
}

func (s *ExchangeEmailSource) credentials(settings models.PaymentSettings) (clients.CoinExCredentials, error) {
	creds := clients.CoinExCredentials{AccessID: settings.CoinExAccessID, SecretKey: settings.CoinExSecretKey}
	if creds.Empty() {
		return creds, types.NewPaymentError(types.KindCredentialMissing, "exchange API credentials are not configured")
	}
	return creds, nil
}

// Verify finds a deposit whose sender email equals the claim and whose amount is within tolerance
func (s *ExchangeEmailSource) Verify(ctx context.Context, intent *models.PaymentIntent, settings models.PaymentSettings) (*models.DepositCandidate, error) {
	creds, err := s.credentials(settings)
	if err != nil {
		return nil, err
	}
	claim := intent.Claim()
	if !claim.IsSenderEmail() || claim.IsEmpty() {
		return nil, types.NewPaymentError(types.KindNoPendingMatch, "no sender email on this request")
	}
	tolerance := settings.ToleranceFor(s.Method())
	notBefore := intent.CreatedAt.Add(-exchangeClockSkew)

	var closest *clients.CoinExDeposit
	for page := 1; page <= exchangeVerifyPages; page++ {
		deposits, hasNext, err := s.client.DepositHistory(ctx, creds, clients.DepositHistoryQuery{
			Ccy:  intent.Currency,
			Page: page,
		})
		if err != nil {
			return nil, classify(err, "deposit history")
		}

		for i := range deposits {
			d := &deposits[i]
			if !strings.EqualFold(strings.TrimSpace(d.FromAddress), claim.Value()) {
				continue
			}
			if !acceptedExchangeStatuses[strings.ToLower(d.Status)] {
				continue
			}
			if created := d.CreatedTime(); !created.IsZero() && created.Before(notBefore) {
				continue
			}
			if WithinTolerance(d.Amount, intent.UniqueAmount, tolerance) {
				return exchangeCandidate(d), nil
			}
			if closest == nil || d.Amount.Sub(intent.UniqueAmount).Abs().LessThan(closest.Amount.Sub(intent.UniqueAmount).Abs()) {
				closest = d
			}
		}
		if !hasNext {
			break
		}
	}

	if closest != nil {
		return nil, amountMismatch(intent.UniqueAmount, closest.Amount)
	}
	return nil, types.NewPaymentError(types.KindNoPendingMatch, "no deposit from %s found yet", claim.Value())
}

// FetchCandidates lists recent deposits in the polled statuses, deduplicated by deposit id
func (s *ExchangeEmailSource) FetchCandidates(ctx context.Context, settings models.PaymentSettings) ([]*models.DepositCandidate, error) {
	creds, err := s.credentials(settings)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []*models.DepositCandidate
	for _, status := range polledExchangeStatuses {
		deposits, _, err := s.client.DepositHistory(ctx, creds, clients.DepositHistoryQuery{Status: status, Page: 1})
		if err != nil {
			return nil, classify(err, "deposit history")
		}
		for i := range deposits {
			d := &deposits[i]
			id := d.ExternalID()
			if id == "" || seen[id] || !acceptedExchangeStatuses[strings.ToLower(d.Status)] {
				continue
			}
			if strings.TrimSpace(d.FromAddress) == "" || !d.Amount.IsPositive() {
				continue
			}
			seen[id] = true
			candidates = append(candidates, exchangeCandidate(d))
		}
	}
	return candidates, nil
}

// TestConnection calls the account endpoint with the configured key pair
func (s *ExchangeEmailSource) TestConnection(ctx context.Context, settings models.PaymentSettings) error {
	creds, err := s.credentials(settings)
	if err != nil {
		return err
	}
	if _, err := s.client.AccountInfo(ctx, creds); err != nil {
		return classify(err, "account")
	}
	return nil
}

func exchangeCandidate(d *clients.CoinExDeposit) *models.DepositCandidate {
	return &models.DepositCandidate{
		Source:        models.PaymentMethodExchangeEmail,
		TxID:          d.ExternalID(),
		Amount:        d.Amount,
		Currency:      strings.ToUpper(d.Ccy),
		SenderID:      strings.ToLower(strings.TrimSpace(d.FromAddress)),
		Recipient:     d.ToAddress,
		Status:        strings.ToLower(d.Status),
		Confirmations: d.Confirmations,
		Chain:         d.Chain,
		ObservedAt:    timePtr(d.CreatedTime()),
		Raw: map[string]interface{}{
			"deposit_id":     d.DepositID.String(),
			"tx_id":          d.TxID,
			"from_address":   d.FromAddress,
			"amount":         d.Amount.String(),
			"ccy":            d.Ccy,
			"chain":          d.Chain,
			"deposit_method": d.DepositMethod,
			"status":         d.Status,
			"created_at":     d.CreatedAt,
		},
	}
}

var _ DepositSource = (*ExchangeEmailSource)(nil)
