// Scheduler Service
// Runs the payment sweeps: expiry, deposit polling and credit retry
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"
)

// ErrUnknownJob is returned by RunNow for a name no job carries
var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic task; Run must honor ctx
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// SchedulerService manages periodic background tasks
type SchedulerService struct {
	jobs       []Job
	jobTimeout time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

// NewSchedulerService creates a scheduler; jobTimeout bounds every run
func NewSchedulerService(jobTimeout time.Duration, jobs ...Job) *SchedulerService {
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}
	return &SchedulerService{
		jobs:       jobs,
		jobTimeout: jobTimeout,
	}
}

// PaymentJobs builds the expiry, polling and credit retry jobs from config
func PaymentJobs(cfg config.PaymentConfig, expiry *IntentExpiryService, polling *DepositPollingService, credit *CreditApplier, methods []models.PaymentMethod) []Job {
	return []Job{
		{
			Name:     "expiry_sweep",
			Interval: cfg.ExpirySweepInterval(),
			Run: func(ctx context.Context) error {
				_, err := expiry.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "deposit_poll",
			Interval: cfg.PollInterval(),
			Run: func(ctx context.Context) error {
				_, err := polling.PollAll(ctx, methods)
				return err
			},
		},
		{
			Name:     "credit_retry",
			Interval: cfg.CreditRetryInterval(),
			Run: func(ctx context.Context) error {
				_, err := credit.RetryMatched(ctx)
				return err
			},
		},
	}
}

// PollMethods resolves payment.pollMethods, empty meaning every registered method
func PollMethods(cfg config.PaymentConfig, available []models.PaymentMethod) []models.PaymentMethod {
	if len(cfg.PollMethods) == 0 {
		return available
	}
	registered := make(map[models.PaymentMethod]bool, len(available))
	for _, m := range available {
		registered[m] = true
	}
	var methods []models.PaymentMethod
	for _, raw := range cfg.PollMethods {
		m, ok := models.ParsePaymentMethod(raw)
		if !ok || !registered[m] {
			log.Printf("⚠️  Unknown poll method %q ignored", raw)
			continue
		}
		methods = append(methods, m)
	}
	return methods
}

// Start begins all scheduled tasks
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	stop := make(chan struct{})
	s.stopChan = stop

	log.Println("🚀 Scheduler service starting...")
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			log.Printf("⚠️  Job %s has no interval, skipping", job.Name)
			continue
		}
		log.Printf("📅 %s interval: %v", job.Name, job.Interval)
		s.wg.Add(1)
		go s.runJob(job, stop)
	}
	log.Println("✅ Scheduler service started")
}

// Stop stops all tasks and waits for running jobs to return
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stop := s.stopChan
	s.mu.Unlock()

	log.Println("🛑 Stopping scheduler service...")
	close(stop)
	s.wg.Wait()
	log.Println("✅ Scheduler service stopped")
}

func (s *SchedulerService) runJob(job Job, stop <-chan struct{}) {
	defer s.wg.Done()

	// initial run on startup
	s.runOnce(job, stop)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Printf("⏰ %s scheduled task triggered", job.Name)
			s.runOnce(job, stop)
		case <-stop:
			log.Printf("🛑 %s task stopped", job.Name)
			return
		}
	}
}

func (s *SchedulerService) runOnce(job Job, stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	// Stop cancels an in-flight run
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.execute(ctx, job); err != nil {
		log.Printf("❌ Scheduled %s failed: %v", job.Name, err)
	}
}

func (s *SchedulerService) execute(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.JobRuns.WithLabelValues(job.Name, result).Inc()
		metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}()
	return job.Run(ctx)
}

// RunNow runs one job by name synchronously
func (s *SchedulerService) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			log.Printf("🔧 Manual %s triggered", name)
			runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
			defer cancel()
			return s.execute(runCtx, job)
		}
	}
	return fmt.Errorf("%w %q", ErrUnknownJob, name)
}
