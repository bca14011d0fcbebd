package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/sources"
	"autopay-backend/internal/types"

	"gorm.io/datatypes"
)

// PollReport summarizes one polling pass over a method
type PollReport struct {
	Method     models.PaymentMethod
	Pending    int
	Candidates int
	Journaled  int
	Matched    int
	Credited   int
}

// DepositPollingService pulls recent deposits from each source and feeds the matcher
type DepositPollingService struct {
	repos    *repository.Repositories
	registry *sources.Registry
	settings SettingsProvider
	matcher  *Matcher
	credit   *CreditApplier
	window   time.Duration
	now      func() time.Time

	// one pass per method at a time
	mutex   sync.Mutex
	running map[models.PaymentMethod]bool
}

// NewDepositPollingService creates a new DepositPollingService
func NewDepositPollingService(repos *repository.Repositories, registry *sources.Registry, settings SettingsProvider, matcher *Matcher, credit *CreditApplier, window time.Duration) *DepositPollingService {
	if window <= 0 {
		window = 2 * time.Hour
	}
	return &DepositPollingService{
		repos:    repos,
		registry: registry,
		settings: settings,
		matcher:  matcher,
		credit:   credit,
		window:   window,
		now:      time.Now,
		running:  make(map[models.PaymentMethod]bool),
	}
}

// PollMethod runs one pass for method. It makes no external call while the method has no pending intent.
func (s *DepositPollingService) PollMethod(ctx context.Context, method models.PaymentMethod) (*PollReport, error) {
	if !s.begin(method) {
		log.Printf("⚠️ [DepositPolling] %s pass still running, skipping", method)
		return &PollReport{Method: method}, nil
	}
	defer s.end(method)

	report := &PollReport{Method: method}
	source, ok := s.registry.Get(method)
	if !ok {
		return report, types.NewPaymentError(types.KindInvalidMethod, "payment method %s is not available", method)
	}

	pending, err := s.repos.Intents.ListPendingByMethod(ctx, method, s.now())
	if err != nil {
		return report, fmt.Errorf("failed to list pending %s intents: %w", method, err)
	}
	report.Pending = len(pending)
	metrics.PendingIntents.WithLabelValues(string(method)).Set(float64(len(pending)))
	if len(pending) == 0 {
		return report, nil
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return report, err
	}
	candidates, err := source.FetchCandidates(ctx, settings)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.TxID] = true
		if s.journal(ctx, c) {
			report.Journaled++
		}
	}

	// deposits journaled by earlier passes that no intent took yet
	unmatched, err := s.repos.Deposits.ListUnmatched(ctx, method, s.now().Add(-s.window))
	if err != nil {
		log.Printf("⚠️ [DepositPolling] Failed to list unmatched %s deposits: %v", method, err)
	}
	for _, d := range unmatched {
		if !seen[d.ExternalID] {
			candidates = append(candidates, candidateFromJournal(d))
			seen[d.ExternalID] = true
		}
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		result, err := s.matcher.MatchCandidate(ctx, c, settings)
		if err != nil {
			log.Printf("❌ [DepositPolling] Failed to match %s deposit %s: %v", method, c.TxID, err)
			continue
		}
		if result == nil {
			continue
		}
		report.Matched++

		credit, skipped, err := s.credit.Settle(ctx, result.Intent)
		if err != nil {
			log.Printf("❌ [DepositPolling] %s matched but not credited: %v", result.Intent.OrderID, err)
			continue
		}
		if !skipped && credit.Applied {
			report.Credited++
		}
	}

	if report.Matched > 0 || report.Journaled > 0 {
		log.Printf("✅ [DepositPolling] %s: pending=%d candidates=%d new=%d matched=%d credited=%d",
			method, report.Pending, report.Candidates, report.Journaled, report.Matched, report.Credited)
	}
	return report, nil
}

// PollAll polls each method in turn; a failing method does not stop the others
func (s *DepositPollingService) PollAll(ctx context.Context, methods []models.PaymentMethod) ([]*PollReport, error) {
	var reports []*PollReport
	var errs []error
	for _, method := range methods {
		report, err := s.PollMethod(ctx, method)
		reports = append(reports, report)
		if err != nil {
			if errors.Is(err, ErrCredentialMissing) {
				log.Printf("⚠️ [DepositPolling] %s skipped: %v", method, err)
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
		}
	}
	return reports, errors.Join(errs...)
}

func (s *DepositPollingService) begin(method models.PaymentMethod) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running[method] {
		return false
	}
	s.running[method] = true
	return true
}

func (s *DepositPollingService) end(method models.PaymentMethod) {
	s.mutex.Lock()
	delete(s.running, method)
	s.mutex.Unlock()
}

// journal stores the candidate in the observed-deposit table and reports whether it is new
func (s *DepositPollingService) journal(ctx context.Context, c *models.DepositCandidate) bool {
	deposit := &models.ObservedDeposit{
		Source:        c.Source,
		ExternalID:    c.TxID,
		TxHash:        c.TxID,
		SenderID:      c.SenderID,
		Amount:        c.Amount,
		Currency:      c.Currency,
		Chain:         c.Chain,
		Status:        c.Status,
		Confirmations: c.Confirmations,
		ReceivedAt:    c.ObservedAt,
	}
	if txID, ok := c.Raw["tx_id"].(string); ok && txID != "" {
		deposit.TxHash = txID
	}
	if len(c.Raw) > 0 {
		deposit.RawPayload = datatypes.JSONMap(c.Raw)
	}
	created, err := s.repos.Deposits.Upsert(ctx, deposit)
	if err != nil {
		log.Printf("⚠️ [DepositPolling] Failed to journal %s deposit %s: %v", c.Source, c.TxID, err)
		return false
	}
	if created {
		metrics.DepositsObserved.WithLabelValues(string(c.Source)).Inc()
	}
	return created
}

func candidateFromJournal(d *models.ObservedDeposit) *models.DepositCandidate {
	return &models.DepositCandidate{
		Source:        d.Source,
		TxID:          d.ExternalID,
		Amount:        d.Amount,
		Currency:      d.Currency,
		SenderID:      d.SenderID,
		Status:        d.Status,
		Confirmations: d.Confirmations,
		Chain:         d.Chain,
		ObservedAt:    d.ReceivedAt,
		Raw:           map[string]interface{}(d.RawPayload),
	}
}
