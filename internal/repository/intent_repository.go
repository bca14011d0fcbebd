package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autopay-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CancelReasonReplaced is written to metadata when a newer intent supersedes a pending one
const CancelReasonReplaced = "replaced_by_new_request"

// AmountQuery selects the live pending intent a deposit of Amount can settle.
// Intents that asserted a hash other than TxHash are skipped.
type AmountQuery struct {
	Method    models.PaymentMethod
	Amount    decimal.Decimal
	Tolerance decimal.Decimal
	TxHash    string
	Now       time.Time
}

// IntentUpdate carries the columns written together with a status transition
type IntentUpdate struct {
	TxHash         *string
	AmountReceived *decimal.Decimal
	MatchedAt      *time.Time
	Metadata       map[string]interface{} // merged into the existing metadata
}

// IntentRepository defines the interface for PaymentIntent data access
type IntentRepository interface {
	// Writes
	CreateReplacingPending(ctx context.Context, intent *models.PaymentIntent) ([]string, error)
	Transition(ctx context.Context, id uint64, from, to models.IntentStatus, update IntentUpdate) (bool, error)
	MatchPending(ctx context.Context, id uint64, match *models.DepositMatch) (bool, error)
	MarkExpiredDue(ctx context.Context, now time.Time) ([]*models.PaymentIntent, error)
	SetUserTxHash(ctx context.Context, id uint64, hash string) (bool, error)

	// Lookups
	GetByID(ctx context.Context, id uint64) (*models.PaymentIntent, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error)
	GetMatch(ctx context.Context, requestID uint64) (*models.DepositMatch, error)
	FindActivePendingBySenderEmail(ctx context.Context, email string, now time.Time) (*models.PaymentIntent, error)
	FindActivePendingByTxHash(ctx context.Context, hash string, method *models.PaymentMethod, now time.Time) (*models.PaymentIntent, error)
	FindActivePendingByAmount(ctx context.Context, q AmountQuery) (*models.PaymentIntent, error)
	ReservedAmounts(ctx context.Context, method models.PaymentMethod, since, now time.Time) ([]decimal.Decimal, error)
	IsDepositMatched(ctx context.Context, source, txHash string) (bool, error)

	// Lists
	ListPendingByUser(ctx context.Context, userID int64, now time.Time) ([]*models.PaymentIntent, error)
	ListPendingByMethod(ctx context.Context, method models.PaymentMethod, now time.Time) ([]*models.PaymentIntent, error)
	ListByStatus(ctx context.Context, status models.IntentStatus, limit int) ([]*models.PaymentIntent, error)
	ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*models.PaymentIntent, int64, error)
	Stats(ctx context.Context) (*models.IntentStats, error)
}

// intentRepository implements IntentRepository
type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository creates a new IntentRepository instance
func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

// CreateReplacingPending cancels the user's pending intent for the same method and inserts the new one
func (r *intentRepository) CreateReplacingPending(ctx context.Context, intent *models.PaymentIntent) ([]string, error) {
	var replaced []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []*models.PaymentIntent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND method = ? AND status = ?", intent.UserID, intent.Method, models.IntentStatusPending).
			Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to load pending intents: %w", err)
		}

		for _, prev := range existing {
			meta := mergeMetadata(prev.Metadata, map[string]interface{}{
				"cancel_reason": CancelReasonReplaced,
				"replaced_by":   intent.OrderID,
				"cancelled_at":  intent.CreatedAt.UTC().Format(time.RFC3339),
			})
			result := tx.Model(&models.PaymentIntent{}).
				Where("id = ? AND status = ?", prev.ID, models.IntentStatusPending).
				Updates(map[string]interface{}{
					"status":   models.IntentStatusCancelled,
					"metadata": meta,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to cancel intent %s: %w", prev.OrderID, result.Error)
			}
			if result.RowsAffected == 1 {
				replaced = append(replaced, prev.OrderID)
			}
		}

		if err := tx.Create(intent).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrPendingExists
			}
			return fmt.Errorf("failed to insert intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// Transition moves an intent from one status to another with compare-and-set on status
func (r *intentRepository) Transition(ctx context.Context, id uint64, from, to models.IntentStatus, update IntentUpdate) (bool, error) {
	if err := models.ValidateTransition(from, to); err != nil {
		return false, err
	}

	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := transitionTx(tx, id, from, to, update)
		changed = ok
		return err
	})
	return changed, err
}

func transitionTx(tx *gorm.DB, id uint64, from, to models.IntentStatus, update IntentUpdate) (bool, error) {
	values := map[string]interface{}{"status": to}
	if update.TxHash != nil {
		values["tx_hash"] = *update.TxHash
	}
	if update.AmountReceived != nil {
		values["amount_received"] = *update.AmountReceived
	}
	if update.MatchedAt != nil {
		values["matched_at"] = update.MatchedAt.UTC()
	}
	if len(update.Metadata) > 0 {
		patch, err := json.Marshal(update.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to encode metadata: %w", err)
		}
		values["metadata"] = gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(patch))
	}

	result := tx.Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition intent %d %s -> %s: %w", id, from, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MatchPending records the deposit and moves the intent pending -> matched in one transaction
func (r *intentRepository) MatchPending(ctx context.Context, id uint64, match *models.DepositMatch) (bool, error) {
	matched := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txHash := match.TxHash
		amount := match.Amount
		matchedAt := match.MatchedAt.UTC()
		ok, err := transitionTx(tx, id, models.IntentStatusPending, models.IntentStatusMatched, IntentUpdate{
			TxHash:         &txHash,
			AmountReceived: &amount,
			MatchedAt:      &matchedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		match.RequestID = id
		if err := tx.Create(match).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDepositAlreadyMatched
			}
			return fmt.Errorf("failed to insert deposit match: %w", err)
		}
		matched = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}

// MarkExpiredDue bulk-expires pending intents whose deadline passed and returns them
func (r *intentRepository) MarkExpiredDue(ctx context.Context, now time.Time) ([]*models.PaymentIntent, error) {
	var expired []*models.PaymentIntent
	result := r.db.WithContext(ctx).
		Model(&expired).
		Clauses(clause.Returning{}).
		Where("status = ? AND expires_at < ?", models.IntentStatusPending, now.UTC()).
		Update("status", models.IntentStatusExpired)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to expire intents: %w", result.Error)
	}
	return expired, nil
}

// SetUserTxHash attaches a tx hash claim to a pending chain intent that has none
func (r *intentRepository) SetUserTxHash(ctx context.Context, id uint64, hash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ? AND (user_tx_hash IS NULL OR user_tx_hash = '')", id, models.IntentStatusPending).
		Update("user_tx_hash", hash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, ErrDepositAlreadyMatched
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetByID retrieves an intent by ID
func (r *intentRepository) GetByID(ctx context.Context, id uint64) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &intent, nil
}

// GetByOrderID retrieves an intent by its public order id
func (r *intentRepository) GetByOrderID(ctx context.Context, orderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&intent).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &intent, nil
}

// GetMatch retrieves the deposit match of an intent
func (r *intentRepository) GetMatch(ctx context.Context, requestID uint64) (*models.DepositMatch, error) {
	var match models.DepositMatch
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Order("id ASC").First(&match).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &match, nil
}

func (r *intentRepository) FindActivePendingBySenderEmail(ctx context.Context, email string, now time.Time) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("LOWER(user_sender_email) = LOWER(?) AND method = ? AND status = ? AND expires_at > ?",
			email, models.PaymentMethodExchangeEmail, models.IntentStatusPending, now.UTC()).
		Order("created_at ASC").
		First(&intent).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &intent, nil
}

func (r *intentRepository) FindActivePendingByTxHash(ctx context.Context, hash string, method *models.PaymentMethod, now time.Time) (*models.PaymentIntent, error) {
	query := r.db.WithContext(ctx).
		Where("LOWER(user_tx_hash) = LOWER(?) AND status = ? AND expires_at > ?", hash, models.IntentStatusPending, now.UTC())
	if method != nil {
		query = query.Where("method = ?", *method)
	} else {
		query = query.Where("method IN ?", models.ChainPaymentMethods)
	}

	var intent models.PaymentIntent
	if err := query.Order("created_at ASC").First(&intent).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &intent, nil
}

// FindActivePendingByAmount returns the unexpired pending intent whose unique amount is closest to q.Amount
func (r *intentRepository) FindActivePendingByAmount(ctx context.Context, q AmountQuery) (*models.PaymentIntent, error) {
	query := r.db.WithContext(ctx).
		Where("method = ? AND status = ? AND expires_at > ? AND ABS(unique_amount - ?) <= ?",
			q.Method, models.IntentStatusPending, q.Now.UTC(), q.Amount, q.Tolerance)
	if q.TxHash == "" {
		query = query.Where("COALESCE(user_tx_hash, '') = ''")
	} else {
		query = query.Where("(COALESCE(user_tx_hash, '') = '' OR LOWER(user_tx_hash) = LOWER(?))", q.TxHash)
	}

	var intent models.PaymentIntent
	err := query.
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "ABS(unique_amount - ?) ASC, created_at ASC",
			Vars:               []interface{}{q.Amount},
			WithoutParentheses: true,
		}}).
		First(&intent).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &intent, nil
}

// ReservedAmounts lists unique amounts of pending intents created after since or not yet expired at now
func (r *intentRepository) ReservedAmounts(ctx context.Context, method models.PaymentMethod, since, now time.Time) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("method = ? AND status = ? AND (created_at >= ? OR expires_at > ?)",
			method, models.IntentStatusPending, since.UTC(), now.UTC()).
		Pluck("unique_amount", &amounts).Error
	return amounts, err
}

func (r *intentRepository) IsDepositMatched(ctx context.Context, source, txHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DepositMatch{}).
		Where("deposit_source = ? AND LOWER(tx_hash) = LOWER(?)", source, txHash).
		Count(&count).Error
	return count > 0, err
}

func (r *intentRepository) ListPendingByUser(ctx context.Context, userID int64, now time.Time) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, models.IntentStatusPending, now.UTC()).
		Order("created_at DESC").
		Find(&intents).Error
	return intents, err
}

func (r *intentRepository) ListPendingByMethod(ctx context.Context, method models.PaymentMethod, now time.Time) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("method = ? AND status = ? AND expires_at > ?", method, models.IntentStatusPending, now.UTC()).
		Order("created_at ASC").
		Find(&intents).Error
	return intents, err
}

func (r *intentRepository) ListByStatus(ctx context.Context, status models.IntentStatus, limit int) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&intents).Error
	return intents, err
}

// ListByUser lists a user's intents with pagination
func (r *intentRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*models.PaymentIntent, int64, error) {
	var intents []*models.PaymentIntent
	var total int64

	query := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&intents).Error
	return intents, total, err
}

// Stats counts intents per status and sums completed amounts per method
func (r *intentRepository) Stats(ctx context.Context) (*models.IntentStats, error) {
	stats := newIntentStats()

	var statusRows []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return nil, fmt.Errorf("failed to count intents: %w", err)
	}
	for _, row := range statusRows {
		stats.ByStatus[models.IntentStatus(row.Status)] = row.Count
		stats.Total += row.Count
	}

	var methodRows []struct {
		Method string
		Count  int64
		Total  decimal.Decimal
	}
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Select("method, COUNT(*) AS count, COALESCE(SUM(expected_amount_usd), 0) AS total").
		Where("status = ?", models.IntentStatusCompleted).
		Group("method").
		Scan(&methodRows).Error; err != nil {
		return nil, fmt.Errorf("failed to sum completed intents: %w", err)
	}
	for _, row := range methodRows {
		stats.ByMethod[models.PaymentMethod(row.Method)] = &models.MethodStats{Count: row.Count, TotalUSD: row.Total}
		stats.TotalCompletedUSD = stats.TotalCompletedUSD.Add(row.Total)
	}
	return stats, nil
}

func newIntentStats() *models.IntentStats {
	stats := &models.IntentStats{
		ByStatus:          make(map[models.IntentStatus]int64),
		TotalCompletedUSD: decimal.Zero,
		ByMethod:          make(map[models.PaymentMethod]*models.MethodStats),
	}
	for _, s := range models.AllIntentStatuses {
		stats.ByStatus[s] = 0
	}
	for _, m := range models.AllPaymentMethods {
		stats.ByMethod[m] = &models.MethodStats{TotalUSD: decimal.Zero}
	}
	return stats
}

func mergeMetadata(base datatypes.JSONMap, patch map[string]interface{}) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
