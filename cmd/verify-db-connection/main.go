package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"autopay-backend/internal/config"

	_ "github.com/lib/pq"
)

var requiredTables = []string{
	"auto_payment_requests",
	"auto_payment_matches",
	"auto_payment_settings",
	"auto_payment_deposits",
	"credits_transactions",
	"user_credit_balances",
}

var requiredIndexes = []string{
	"idx_apr_status",
	"idx_apr_method",
	"idx_apr_user",
	"idx_apr_tx",
	"idx_apr_expires",
	"idx_apr_user_method_pending",
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and payment schema...")
	fmt.Println("============================================================")

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	dsn := config.AppConfig.Database.DSN
	if dsn == "" {
		log.Fatalf("database.dsn is empty")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var dbName string
	if err := sqlDB.QueryRowContext(ctx, "SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to query database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	missing := 0
	for _, table := range requiredTables {
		var exists bool
		err := sqlDB.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to check table %s: %v", table, err)
		}
		if !exists {
			fmt.Printf("❌ table %s is missing\n", table)
			missing++
			continue
		}
		var rows int64
		if err := sqlDB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&rows); err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}
		fmt.Printf("✅ table %s (%d rows)\n", table, rows)
	}

	for _, index := range requiredIndexes {
		var exists bool
		err := sqlDB.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE schemaname = 'public' AND indexname = $1
			)`, index).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to check index %s: %v", index, err)
		}
		if !exists {
			fmt.Printf("❌ index %s is missing\n", index)
			missing++
			continue
		}
		fmt.Printf("✅ index %s\n", index)
	}

	var settings int64
	if err := sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM auto_payment_settings").Scan(&settings); err == nil {
		fmt.Printf("📋 %d payment settings stored\n", settings)
	}

	if missing > 0 {
		fmt.Printf("\n❌ %d schema objects missing, start the server once to run migrations\n", missing)
		os.Exit(1)
	}
	fmt.Println("\n✅ Payment schema is complete")
}
