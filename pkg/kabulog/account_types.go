package kabulog

import (
	"context"
	"database/sql"
	"strings"
)

// GetAccountTypes returns all account types in insertion order.
func (c *Core) GetAccountTypes(ctx context.Context) ([]AccountType, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, name, created_at FROM account_types ORDER BY id")
	if err != nil {
		return nil, dbError("list account types", err)
	}
	defer rows.Close()

	types := []AccountType{}
	for rows.Next() {
		var at AccountType
		var createdAt sql.NullString
		if err := rows.Scan(&at.ID, &at.Name, &createdAt); err != nil {
			return nil, dbError("scan account type", err)
		}
		at.CreatedAt = stringOrEmpty(createdAt)
		types = append(types, at)
	}
	return types, rows.Err()
}

// AccountTypeExists reports whether name is a known account type.
func (c *Core) AccountTypeExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM account_types WHERE name = ?", strings.TrimSpace(name)).Scan(&count)
	if err != nil {
		return false, dbError("check account type", err)
	}
	return count > 0, nil
}

// AddAccountType adds a new account type.
func (c *Core) AddAccountType(ctx context.Context, name string) (AccountType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AccountType{}, NewError(ErrCodeInvalidInput, "account type name required")
	}
	exists, err := c.AccountTypeExists(ctx, name)
	if err != nil {
		return AccountType{}, err
	}
	if exists {
		return AccountType{}, NewError(ErrCodeDuplicate, "account type already exists: "+name)
	}
	result, err := c.db.ExecContext(ctx, "INSERT INTO account_types (name) VALUES (?)", name)
	if err != nil {
		return AccountType{}, dbError("insert account type", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return AccountType{}, dbError("insert account type", err)
	}
	return AccountType{ID: id, Name: name}, nil
}

// DeleteAccountType deletes an account type unless holdings still use it.
func (c *Core) DeleteAccountType(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	var inUse int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM holdings WHERE account_type = ?", name).Scan(&inUse); err != nil {
		return dbError("check account type usage", err)
	}
	if inUse > 0 {
		return NewError(ErrCodeInUse, "cannot delete: holdings use this account type")
	}
	result, err := c.db.ExecContext(ctx, "DELETE FROM account_types WHERE name = ?", name)
	if err != nil {
		return dbError("delete account type", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return dbError("delete account type", err)
	}
	if affected == 0 {
		return NewError(ErrCodeNotFound, "account type not found: "+name)
	}
	return nil
}
