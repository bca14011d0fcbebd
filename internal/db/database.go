package db

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/models"
	"autopay-backend/internal/repository"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects using config.AppConfig, migrates the schema and seeds default settings
func InitDB() {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	var err error
	DB, err = Open(config.AppConfig.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("✅ Database connected successfully")

	if err := Migrate(DB); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	sqlDB, err := DB.DB()
	if err == nil {
		if err := RunDataMigrations(sqlDB); err != nil {
			log.Printf("⚠️ Data migrations failed: %v", err)
		}
	}

	initPaymentSettings(DB)
	log.Println("✅ Database schema migrated successfully")
}

// Open opens a postgres connection whose sessions wait a bounded time on locks
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	log.Printf("Connecting to database (driver=%s)", cfg.Driver)

	gdb, err := gorm.Open(postgres.Open(withSessionTimeouts(cfg)), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return gdb, nil
}

// withSessionTimeouts appends lock and statement timeouts as runtime parameters
func withSessionTimeouts(cfg config.DatabaseConfig) string {
	dsn := strings.TrimSpace(cfg.DSN)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%slock_timeout=%d&statement_timeout=%d&timezone=UTC", dsn, sep, cfg.LockTimeoutMs, cfg.StatementTimeoutMs)
	}
	return fmt.Sprintf("%s lock_timeout=%d statement_timeout=%d timezone=UTC", dsn, cfg.LockTimeoutMs, cfg.StatementTimeoutMs)
}

// Migrate creates the payment tables and the indexes AutoMigrate cannot express
func Migrate(gdb *gorm.DB) error {
	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := gdb.AutoMigrate(
		&models.PaymentIntent{},
		&models.DepositMatch{},
		&models.PaymentSetting{},
		&models.CreditTransaction{},
		&models.UserBalance{},
		&models.ObservedDeposit{},
	); err != nil {
		return err
	}

	// One pending intent per (user, method), enforced by the store as well as by CreateReplacingPending
	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_apr_user_method_pending
			ON auto_payment_requests (user_id, method) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_apr_sender_email_lower
			ON auto_payment_requests (LOWER(user_sender_email)) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_apr_user_tx_hash_lower
			ON auto_payment_requests (LOWER(user_tx_hash)) WHERE status = 'pending'`,
	}
	for _, stmt := range statements {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// initPaymentSettings inserts default settings that do not exist yet
func initPaymentSettings(gdb *gorm.DB) {
	settings := repository.NewSettingsRepository(gdb)
	inserted, err := settings.SeedDefaults(context.Background(), models.DefaultPaymentSettings)
	if err != nil {
		log.Printf("⚠️ Failed to seed payment settings: %v", err)
		return
	}
	if inserted > 0 {
		log.Printf("✅ Seeded %d default payment settings", inserted)
	}
}
