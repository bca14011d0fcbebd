package sources

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"

	"autopay-backend/internal/clients"
	"autopay-backend/internal/config"
	"autopay-backend/internal/models"
	"autopay-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)")
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMTokenSource verifies BEP-20 token transfers through a BscScan-style explorer
type EVMTokenSource struct {
	client        *clients.BscScanClient
	tokenContract common.Address
	decimals      int32
	confirmations int64
	claims        ClaimChecker
}

// NewEVMTokenSource creates the evm_token source
func NewEVMTokenSource(client *clients.BscScanClient, cfg config.BscScanConfig) *EVMTokenSource {
	contract := cfg.TokenContract
	if contract == "" {
		contract = "0x55d398326f99059ff775485246999027b3197955"
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 18
	}
	confirmations := cfg.RequiredConfirmations
	if confirmations <= 0 {
		confirmations = 15
	}
	return &EVMTokenSource{
		client:        client,
		tokenContract: common.HexToAddress(contract),
		decimals:      int32(decimals),
		confirmations: confirmations,
	}
}

// SetClaimChecker lets amount fallback skip deposits other intents asserted
func (s *EVMTokenSource) SetClaimChecker(c ClaimChecker) {
	s.claims = c
}

func (s *EVMTokenSource) Method() models.PaymentMethod {
	return models.PaymentMethodEVMToken
}

func (s *EVMTokenSource) depositAddress(settings models.PaymentSettings) (common.Address, error) {
	raw := strings.TrimSpace(settings.EVMTokenAddress)
	if !common.IsHexAddress(raw) {
		return common.Address{}, types.NewPaymentError(types.KindCredentialMissing, "evm_token deposit address is not configured")
	}
	return common.HexToAddress(raw), nil
}

func (s *EVMTokenSource) apiKey(settings models.PaymentSettings) (string, error) {
	if strings.TrimSpace(settings.BscScanAPIKey) == "" {
		return "", types.NewPaymentError(types.KindCredentialMissing, "explorer API key is not configured")
	}
	return settings.BscScanAPIKey, nil
}

// Verify checks the asserted tx: successful receipt, token Transfer to our address, amount within tolerance.
// Intents without a tx hash fall back to the polled transfers and match by amount.
func (s *EVMTokenSource) Verify(ctx context.Context, intent *models.PaymentIntent, settings models.PaymentSettings) (*models.DepositCandidate, error) {
	deposit, err := s.depositAddress(settings)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.apiKey(settings)
	if err != nil {
		return nil, err
	}
	tolerance := settings.ToleranceFor(s.Method())

	claim := intent.Claim()
	if claim.IsEmpty() {
		return closestByAmount(ctx, s, s.claims, intent, settings, tolerance)
	}
	hash := claim.Value()

	receipt, err := s.client.GetTransactionReceipt(ctx, apiKey, hash)
	if errors.Is(err, clients.ErrNotFound) {
		tx, txErr := s.client.GetTransactionByHash(ctx, apiKey, hash)
		if txErr == nil && tx != nil {
			return nil, types.NewPaymentError(types.KindUnconfirmed, "transaction is not yet mined")
		}
		if txErr != nil && !errors.Is(txErr, clients.ErrNotFound) {
			return nil, classify(txErr, "transaction")
		}
		return nil, types.NewPaymentError(types.KindNotFound, "transaction %s not found", hash)
	}
	if err != nil {
		return nil, classify(err, "transaction receipt")
	}
	if !receipt.Succeeded() {
		return nil, types.NewPaymentError(types.KindNotFound, "transaction reverted")
	}

	sawTransfer := false
	var mismatch *decimal.Decimal
	for _, l := range receipt.Logs() {
		to, from, amount, ok := s.decodeTransfer(l)
		if !ok {
			continue
		}
		sawTransfer = true
		if to != deposit {
			continue
		}
		if WithinTolerance(amount, intent.UniqueAmount, tolerance) {
			return &models.DepositCandidate{
				Source:        s.Method(),
				TxID:          strings.ToLower(receipt.TxHash.Hex()),
				Amount:        amount,
				Currency:      "USDT",
				SenderID:      strings.ToLower(from.Hex()),
				Recipient:     strings.ToLower(to.Hex()),
				Status:        "success",
				Confirmations: 0,
				Chain:         "bsc",
				Raw: map[string]interface{}{
					"tx_hash":      receipt.TxHash.Hex(),
					"block_number": l.BlockNumber,
					"log_index":    l.Index,
					"contract":     l.Address.Hex(),
					"from":         from.Hex(),
					"to":           to.Hex(),
					"amount":       amount.String(),
				},
			}, nil
		}
		a := amount
		mismatch = &a
	}

	switch {
	case mismatch != nil:
		return nil, amountMismatch(intent.UniqueAmount, *mismatch)
	case sawTransfer:
		return nil, types.NewPaymentError(types.KindWrongRecipient, "token transfer was not sent to the deposit address")
	default:
		return nil, types.NewPaymentError(types.KindNotFound, "no token transfer found in transaction")
	}
}

// decodeTransfer reads a token Transfer log emitted by the configured contract
func (s *EVMTokenSource) decodeTransfer(l *ethtypes.Log) (to, from common.Address, amount decimal.Decimal, ok bool) {
	if l.Address != s.tokenContract || len(l.Topics) < 3 || l.Topics[0] != TransferEventTopic {
		return common.Address{}, common.Address{}, decimal.Zero, false
	}
	from = common.BytesToAddress(l.Topics[1].Bytes()[12:])
	to = common.BytesToAddress(l.Topics[2].Bytes()[12:])
	data := l.Data
	if len(data) > 32 {
		data = data[:32]
	}
	raw := new(big.Int).SetBytes(data)
	return to, from, decimal.NewFromBigInt(raw, -s.decimals), true
}

// FetchCandidates lists incoming token transfers with enough confirmations
func (s *EVMTokenSource) FetchCandidates(ctx context.Context, settings models.PaymentSettings) ([]*models.DepositCandidate, error) {
	deposit, err := s.depositAddress(settings)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.apiKey(settings)
	if err != nil {
		return nil, err
	}

	transfers, err := s.client.TokenTransfers(ctx, apiKey, s.tokenContract.Hex(), deposit.Hex())
	if err != nil {
		return nil, classify(err, "token transfers")
	}

	seen := make(map[string]bool)
	var candidates []*models.DepositCandidate
	for _, t := range transfers {
		if !common.IsHexAddress(t.To) || common.HexToAddress(t.To) != deposit {
			continue
		}
		confirmations, _ := strconv.ParseInt(t.Confirmations, 10, 64)
		if confirmations < s.confirmations {
			continue
		}
		value, ok := new(big.Int).SetString(t.Value, 10)
		if !ok || value.Sign() <= 0 {
			continue
		}
		decimals := s.decimals
		if d, err := strconv.Atoi(t.TokenDecimal); err == nil && d > 0 {
			decimals = int32(d)
		}
		hash := strings.ToLower(t.Hash)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		candidate := &models.DepositCandidate{
			Source:        s.Method(),
			TxID:          hash,
			Amount:        decimal.NewFromBigInt(value, -decimals),
			Currency:      "USDT",
			SenderID:      strings.ToLower(t.From),
			Recipient:     strings.ToLower(t.To),
			Status:        "confirmed",
			Confirmations: confirmations,
			Chain:         "bsc",
			Raw: map[string]interface{}{
				"hash":          t.Hash,
				"block_number":  t.BlockNumber,
				"from":          t.From,
				"to":            t.To,
				"value":         t.Value,
				"token_decimal": t.TokenDecimal,
				"confirmations": t.Confirmations,
				"time_stamp":    t.TimeStamp,
			},
		}
		if ts, err := strconv.ParseInt(t.TimeStamp, 10, 64); err == nil && ts > 0 {
			candidate.ObservedAt = timePtr(unixTime(ts))
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// TestConnection lists transfers once to validate the key and address
func (s *EVMTokenSource) TestConnection(ctx context.Context, settings models.PaymentSettings) error {
	_, err := s.FetchCandidates(ctx, settings)
	return err
}

var _ DepositSource = (*EVMTokenSource)(nil)
