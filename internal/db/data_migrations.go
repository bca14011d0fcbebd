package db

import (
	"database/sql"
	"log"
	"strings"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
	Down        func(*sql.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Rename legacy payment method names",
			Up:          migrateLegacyMethodNames,
			Down:        rollbackLegacyMethodNames,
		},
		{
			Version:     "data_002",
			Description: "Lowercase claim emails and tx hashes",
			Up:          normalizeClaimColumns,
			Down:        func(*sql.DB) error { return nil },
		},
	}
}

var legacyMethodNames = map[string]string{
	"coinex":   "exchange_email",
	"bep20":    "evm_token",
	"litecoin": "utxo_chain",
}

// migrateLegacyMethodNames rewrites method and deposit_source values written by the previous bot
func migrateLegacyMethodNames(db *sql.DB) error {
	log.Println("🔄 Renaming legacy payment methods...")
	for legacy, current := range legacyMethodNames {
		res, err := db.Exec(`UPDATE auto_payment_requests SET method = $1 WHERE method = $2`, current, legacy)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			log.Printf("   %s -> %s: %d intents", legacy, current, n)
		}
		if _, err := db.Exec(`UPDATE auto_payment_matches SET deposit_source = $1 WHERE deposit_source = $2`, current, legacy); err != nil {
			return err
		}
	}
	return nil
}

func rollbackLegacyMethodNames(db *sql.DB) error {
	for legacy, current := range legacyMethodNames {
		if _, err := db.Exec(`UPDATE auto_payment_requests SET method = $1 WHERE method = $2`, legacy, current); err != nil {
			return err
		}
		if _, err := db.Exec(`UPDATE auto_payment_matches SET deposit_source = $1 WHERE deposit_source = $2`, legacy, current); err != nil {
			return err
		}
	}
	return nil
}

// normalizeClaimColumns lowercases claims so equality lookups can use the functional indexes
func normalizeClaimColumns(db *sql.DB) error {
	_, err := db.Exec(`
		UPDATE auto_payment_requests
		SET user_sender_email = LOWER(TRIM(user_sender_email)),
		    user_tx_hash = LOWER(TRIM(user_tx_hash))
		WHERE user_sender_email <> LOWER(TRIM(user_sender_email))
		   OR user_tx_hash <> LOWER(TRIM(user_tx_hash))
	`)
	return err
}

// RunDataMigrations applies migrations not yet recorded in schema_migrations_log
func RunDataMigrations(db *sql.DB) error {
	migrations := GetDataMigrations()

	for _, migration := range migrations {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count)

		if err != nil {
			if strings.Contains(err.Error(), "does not exist") {
				log.Printf("📋 Creating schema_migrations_log table...")
				createTableSQL := `
					CREATE TABLE IF NOT EXISTS schema_migrations_log (
						id SERIAL PRIMARY KEY,
						version VARCHAR(50) NOT NULL UNIQUE,
						description TEXT,
						executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
						rollback_at TIMESTAMP,
						status VARCHAR(20) DEFAULT 'completed'
					)
				`
				if _, createErr := db.Exec(createTableSQL); createErr != nil {
					return createErr
				}
				count = 0
			} else {
				return err
			}
		}

		if count > 0 {
			log.Printf("📋 Data migration %s already applied", migration.Version)
			continue
		}

		log.Printf("🚀 Running data migration: %s", migration.Description)
		if err := migration.Up(db); err != nil {
			return err
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		)
		if err != nil {
			return err
		}

		log.Printf("✅ Data migration %s completed", migration.Version)
	}

	return nil
}
