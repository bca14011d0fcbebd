package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"autopay-backend/internal/clients"
	"autopay-backend/internal/config"
	"autopay-backend/internal/events"
	"autopay-backend/internal/repository"
	"autopay-backend/internal/services"
	"autopay-backend/internal/sources"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer owns the payment services and their lifecycles
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Database; nil with the memory driver
	DB    *gorm.DB
	Repos *repository.Repositories

	// Events
	NATSClient *clients.NATSClient
	Bus        *events.Bus

	// Sources
	Registry *sources.Registry

	// Core Services
	SettingsService       *services.SettingsService
	AmountMinter          *services.AmountMinter
	Matcher               *services.Matcher
	CreditApplier         *services.CreditApplier
	PaymentService        *services.PaymentService
	IntentExpiryService   *services.IntentExpiryService
	DepositPollingService *services.DepositPollingService

	// Push & Scheduler
	WebSocketPushService *services.WebSocketPushService
	SchedulerService     *services.SchedulerService

	startOnce   sync.Once
	cleanupOnce sync.Once
}

// NewServiceContainer builds every service; gdb may be nil when database.driver is memory
func NewServiceContainer(cfg *config.Config, gdb *gorm.DB, logger *logrus.Logger) (*ServiceContainer, error) {
	log.Println("🚀 Initializing Service Container...")
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &ServiceContainer{Config: cfg, Logger: logger, DB: gdb}

	// 1. Initialize Repositories
	if err := c.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// 2. Initialize Event Services (NATS is optional)
	c.initEventServices()

	// 3. Initialize Core Services
	if err := c.initCoreServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize core services: %w", err)
	}

	log.Println("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initRepositories() error {
	log.Println("📦 Initializing Repositories...")

	switch c.Config.Database.Driver {
	case "memory":
		log.Println("⚠️ Using in-memory repositories, data is lost on restart")
		c.Repos = repository.NewMemoryRepositories()
	case "postgres":
		if c.DB == nil {
			return fmt.Errorf("database driver postgres requires a connection")
		}
		c.Repos = repository.NewRepositories(c.DB)
	default:
		return fmt.Errorf("unsupported database driver %q", c.Config.Database.Driver)
	}

	log.Println("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initEventServices() {
	c.WebSocketPushService = services.NewWebSocketPushService(c.Config.CORS.AllowedOrigins)
	c.Bus = events.NewBus(c.WebSocketPushService)

	natsClient, err := events.ConnectNATS(c.Config.NATS)
	if err != nil {
		log.Printf("⚠️ Event publishing to NATS disabled: %v", err)
		return
	}
	if natsClient != nil {
		c.NATSClient = natsClient
		c.Bus.Add(events.NewNATSSink(natsClient))
	}
}

func (c *ServiceContainer) initCoreServices() error {
	log.Println("🔧 Initializing Core Services...")

	payment := c.Config.Payment
	window := payment.ActiveWindow()

	c.SettingsService = services.NewSettingsService(c.Repos.Settings)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.SettingsService.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed payment settings: %w", err)
	}

	c.Registry = sources.NewRegistryFromConfig(c.Config)
	c.AmountMinter = services.NewAmountMinter(c.Repos.Intents, c.SettingsService, window)
	c.Matcher = services.NewMatcher(c.Repos.Intents, c.Repos.Deposits, c.Bus)
	c.Registry.UseClaimChecker(c.Matcher)
	c.CreditApplier = services.NewCreditApplier(c.Repos.Intents, c.Repos.Ledger, c.SettingsService, c.Bus)
	c.PaymentService = services.NewPaymentService(
		c.Repos,
		c.SettingsService,
		c.AmountMinter,
		c.Matcher,
		c.CreditApplier,
		c.Registry,
		c.Bus,
		payment,
		c.Logger,
	)
	c.IntentExpiryService = services.NewIntentExpiryService(c.Repos.Intents, c.Bus)
	c.DepositPollingService = services.NewDepositPollingService(c.Repos, c.Registry, c.SettingsService, c.Matcher, c.CreditApplier, window)

	methods := services.PollMethods(payment, c.Registry.Methods())
	c.SchedulerService = services.NewSchedulerService(
		payment.JobTimeout(),
		services.PaymentJobs(payment, c.IntentExpiryService, c.DepositPollingService, c.CreditApplier, methods)...,
	)

	log.Printf("✅ Core Services initialized (sources: %v, polled: %v)", c.Registry.Methods(), methods)
	return nil
}

// Start starts the background jobs
func (c *ServiceContainer) Start() {
	c.startOnce.Do(func() {
		c.SchedulerService.Start()
	})
}

// Cleanup stops the background jobs and closes connections
func (c *ServiceContainer) Cleanup() {
	c.cleanupOnce.Do(func() {
		log.Println("🧹 Cleaning up Service Container...")

		if c.SchedulerService != nil {
			c.SchedulerService.Stop()
		}
		if c.WebSocketPushService != nil {
			c.WebSocketPushService.Stop()
		}
		if c.NATSClient != nil {
			c.NATSClient.Close()
		}
		if c.DB != nil {
			if sqlDB, err := c.DB.DB(); err == nil {
				sqlDB.Close()
			}
		}

		log.Println("✅ Service Container cleaned up")
	})
}
