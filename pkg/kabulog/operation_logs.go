package kabulog

import (
	"context"
	"database/sql"
)

// AddOperationLog adds a new operation log entry.
func (c *Core) AddOperationLog(ctx context.Context, operation, code, details string) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		"INSERT INTO operation_logs (operation_type, code, details) VALUES (?, ?, ?)",
		operation, nullableString(code), nullableString(details),
	)
	if err != nil {
		return 0, dbError("insert operation log", err)
	}
	return result.LastInsertId()
}

// logOperation records an operation and only warns on failure; the audit
// trail never fails the operation it describes.
func (c *Core) logOperation(ctx context.Context, operation, code, details string) {
	if _, err := c.AddOperationLog(ctx, operation, code, details); err != nil {
		c.logger.Warn("operation log not written", "operation", operation, "code", code, "err", err)
	}
}

// GetOperationLogs returns recent operation logs, newest first.
func (c *Core) GetOperationLogs(ctx context.Context, limit, offset int) ([]OperationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, operation_type, code, details, created_at FROM operation_logs ORDER BY id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, dbError("list operation logs", err)
	}
	defer rows.Close()

	logs := []OperationLog{}
	for rows.Next() {
		var log OperationLog
		var code, details, createdAt sql.NullString
		if err := rows.Scan(&log.ID, &log.Operation, &code, &details, &createdAt); err != nil {
			return nil, dbError("scan operation log", err)
		}
		if code.Valid {
			log.Code = &code.String
		}
		if details.Valid {
			log.Details = &details.String
		}
		if createdAt.Valid {
			log.CreatedAt = &createdAt.String
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
