package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// mapWriteError turns driver errors into repository sentinels
func mapWriteError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, repositories.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapReadError turns sql.ErrNoRows into repositories.ErrNotFound
func mapReadError(err error, entity string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s not found: %v: %w", entity, id, repositories.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", entity, err)
}

// casMiss explains why a version-guarded UPDATE touched no row
func casMiss(ctx context.Context, executor Executor, table string, id uuid.UUID) error {
	var version int64
	err := executor.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = $1", id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, repositories.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s version: %w", table, err)
	}
	return fmt.Errorf("%s %s at version %d: %w", table, id, version, repositories.ErrVersionConflict)
}

// checkCAS inspects the result of a version-guarded UPDATE
func checkCAS(ctx context.Context, executor Executor, result sql.Result, table string, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return casMiss(ctx, executor, table, id)
	}
	return nil
}

// lockClause is the row-locking suffix of a SELECT for mode
func lockClause(mode repositories.LockMode) string {
	if mode == repositories.LockUpdate {
		return " FOR UPDATE"
	}
	return " FOR SHARE"
}

func toJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return data, nil
}

func fromJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

// nullJSON stores empty raw messages as SQL NULL
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
