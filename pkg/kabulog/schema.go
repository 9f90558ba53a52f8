package kabulog

import (
	"database/sql"
	"fmt"
)

// DefaultAccountTypes seed the account_types table on first start.
var DefaultAccountTypes = []string{"特定口座", "一般口座", "新NISA", "旧NISA"}

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		code TEXT PRIMARY KEY,
		asset_type TEXT NOT NULL DEFAULT 'jp_stock',
		name TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS account_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL REFERENCES assets(code) ON DELETE CASCADE,
		account_type TEXT NOT NULL,
		broker TEXT,
		quantity TEXT NOT NULL,
		purchase_price TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS recent_codes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_timestamps (
		key TEXT PRIMARY KEY,
		fetched_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS portfolio_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		month TEXT NOT NULL,
		snapshot_date TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT,
		asset_type TEXT NOT NULL,
		account_type TEXT,
		quantity REAL NOT NULL,
		purchase_price REAL NOT NULL,
		price REAL,
		market_value REAL,
		profit_loss REAL,
		estimated_annual_dividend REAL
	)`,
	`CREATE TABLE IF NOT EXISTS operation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_type TEXT NOT NULL,
		code TEXT,
		details TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS ai_settings (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		provider TEXT NOT NULL DEFAULT 'gemini',
		base_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		risk_profile TEXT NOT NULL DEFAULT 'balanced',
		horizon TEXT NOT NULL DEFAULT 'long',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

var schemaIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_holdings_code ON holdings(code)",
	"CREATE INDEX IF NOT EXISTS idx_holdings_account_type ON holdings(account_type)",
	"CREATE INDEX IF NOT EXISTS idx_history_month ON portfolio_history(month)",
	"CREATE INDEX IF NOT EXISTS idx_operation_logs_created ON operation_logs(created_at)",
}

func initDatabase(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range schemaTables {
		if err := exec(tx, stmt); err != nil {
			return err
		}
	}

	// memo arrived after the first release.
	hasMemo, err := tableHasColumn(tx, "holdings", "memo")
	if err != nil {
		return err
	}
	if !hasMemo {
		if err := exec(tx, "ALTER TABLE holdings ADD COLUMN memo TEXT"); err != nil {
			return err
		}
	}

	var accountTypeCount int
	if err := tx.QueryRow("SELECT COUNT(*) FROM account_types").Scan(&accountTypeCount); err != nil {
		return err
	}
	if accountTypeCount == 0 {
		for _, name := range DefaultAccountTypes {
			if _, err := tx.Exec("INSERT INTO account_types (name) VALUES (?)", name); err != nil {
				return err
			}
		}
	}

	for _, idx := range schemaIndexes {
		if err := exec(tx, idx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exec(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
