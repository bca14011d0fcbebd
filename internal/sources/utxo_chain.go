package sources

import (
	"context"
	"strings"

	"autopay-backend/internal/clients"
	"autopay-backend/internal/config"
	"autopay-backend/internal/models"
	"autopay-backend/internal/types"

	"github.com/shopspring/decimal"
)

const (
	utxoBaseUnitExp = -8 // values are in 1e-8 units
	utxoPollLimit   = 50
)

// UTXOChainSource verifies Litecoin transfers through a BlockCypher-style explorer
type UTXOChainSource struct {
	client        *clients.BlockCypherClient
	confirmations int64
	claims        ClaimChecker
}

// NewUTXOChainSource creates the utxo_chain source
func NewUTXOChainSource(client *clients.BlockCypherClient, cfg config.BlockCypherConfig) *UTXOChainSource {
	confirmations := cfg.RequiredConfirmations
	if confirmations <= 0 {
		confirmations = 6
	}
	return &UTXOChainSource{client: client, confirmations: confirmations}
}

// SetClaimChecker lets amount fallback skip deposits other intents asserted
func (s *UTXOChainSource) SetClaimChecker(c ClaimChecker) {
	s.claims = c
}

func (s *UTXOChainSource) Method() models.PaymentMethod {
	return models.PaymentMethodUTXOChain
}

func (s *UTXOChainSource) depositAddress(settings models.PaymentSettings) (string, error) {
	addr := strings.TrimSpace(settings.UTXOChainAddress)
	if addr == "" {
		return "", types.NewPaymentError(types.KindCredentialMissing, "utxo_chain deposit address is not configured")
	}
	return addr, nil
}

// Verify checks confirmations, the output paying our address and its value
func (s *UTXOChainSource) Verify(ctx context.Context, intent *models.PaymentIntent, settings models.PaymentSettings) (*models.DepositCandidate, error) {
	address, err := s.depositAddress(settings)
	if err != nil {
		return nil, err
	}
	tolerance := settings.ToleranceFor(s.Method())

	claim := intent.Claim()
	if claim.IsEmpty() {
		return closestByAmount(ctx, s, s.claims, intent, settings, tolerance)
	}

	tx, err := s.client.GetTransaction(ctx, settings.UTXOToken(), claim.Value())
	if err != nil {
		return nil, classify(err, "transaction")
	}
	if tx.Confirmations < s.confirmations {
		return nil, types.NewPaymentError(types.KindUnconfirmed, "needs more confirmations (%d/%d)", tx.Confirmations, s.confirmations)
	}

	value, ok := tx.ValueTo(address)
	if !ok {
		return nil, types.NewPaymentError(types.KindWrongRecipient, "transaction does not pay the deposit address")
	}
	amount := decimal.New(value, utxoBaseUnitExp)
	if !WithinTolerance(amount, intent.UniqueAmount, tolerance) {
		return nil, amountMismatch(intent.UniqueAmount, amount)
	}
	return s.candidate(tx, address, amount), nil
}

// FetchCandidates lists recent confirmed transactions paying the deposit address
func (s *UTXOChainSource) FetchCandidates(ctx context.Context, settings models.PaymentSettings) ([]*models.DepositCandidate, error) {
	address, err := s.depositAddress(settings)
	if err != nil {
		return nil, err
	}
	txs, err := s.client.AddressTransactions(ctx, settings.UTXOToken(), address, utxoPollLimit)
	if err != nil {
		return nil, classify(err, "address transactions")
	}

	var candidates []*models.DepositCandidate
	for i := range txs {
		tx := &txs[i]
		if tx.Confirmations < s.confirmations || tx.Sender() == address {
			continue
		}
		value, ok := tx.ValueTo(address)
		if !ok || value <= 0 {
			continue
		}
		candidates = append(candidates, s.candidate(tx, address, decimal.New(value, utxoBaseUnitExp)))
	}
	return candidates, nil
}

// TestConnection queries the deposit address once
func (s *UTXOChainSource) TestConnection(ctx context.Context, settings models.PaymentSettings) error {
	address, err := s.depositAddress(settings)
	if err != nil {
		return err
	}
	if _, err := s.client.AddressTransactions(ctx, settings.UTXOToken(), address, 1); err != nil {
		return classify(err, "address")
	}
	return nil
}

func (s *UTXOChainSource) candidate(tx *clients.UTXOTransaction, address string, amount decimal.Decimal) *models.DepositCandidate {
	observed := tx.Confirmed
	if tx.Received != nil {
		observed = tx.Received
	}
	c := &models.DepositCandidate{
		Source:        s.Method(),
		TxID:          strings.ToLower(tx.Hash),
		Amount:        amount,
		Currency:      "LTC",
		SenderID:      tx.Sender(),
		Recipient:     address,
		Status:        "confirmed",
		Confirmations: tx.Confirmations,
		Chain:         "ltc",
		Raw: map[string]interface{}{
			"hash":          tx.Hash,
			"block_height":  tx.BlockHeight,
			"confirmations": tx.Confirmations,
			"value":         amount.String(),
		},
	}
	if observed != nil {
		c.ObservedAt = timePtr(*observed)
	}
	return c
}

var _ DepositSource = (*UTXOChainSource)(nil)
