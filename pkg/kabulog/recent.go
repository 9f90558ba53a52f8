package kabulog

import (
	"context"
	"database/sql"
)

// MaxRecentCodes bounds the recent codes list.
const MaxRecentCodes = 10

// RecentCodes returns recently added codes, newest first.
func (c *Core) RecentCodes(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT code FROM recent_codes ORDER BY seq DESC LIMIT ?", MaxRecentCodes)
	if err != nil {
		return nil, dbError("list recent codes", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, dbError("scan recent code", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// pushRecent moves code to the front of the list and drops the overflow.
func pushRecent(ctx context.Context, tx *sql.Tx, code string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM recent_codes WHERE code = ?", code); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO recent_codes (code) VALUES (?)", code); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM recent_codes WHERE seq NOT IN (
			SELECT seq FROM recent_codes ORDER BY seq DESC LIMIT ?
		)
	`, MaxRecentCodes)
	return err
}
