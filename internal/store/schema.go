package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	metaSchemaVersion = "schema_version"
	metaSpanStart     = "span_start"
	metaSpanEnd       = "span_end"
)

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}

	versionStr, ok, err := getMeta(ctx, tx, metaSchemaVersion)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if !ok {
		if err := setMeta(ctx, tx, metaSchemaVersion, strconv.Itoa(schemaVersion)); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	version, err := strconv.Atoi(versionStr)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("parse schema version: %w", err)
	}
	if version > schemaVersion {
		_ = tx.Rollback()
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}
	if version < schemaVersion {
		if err := setMeta(ctx, tx, metaSchemaVersion, strconv.Itoa(schemaVersion)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func getMeta(ctx context.Context, q execQuerier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func setMeta(ctx context.Context, q execQuerier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO metadata(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func deleteMeta(ctx context.Context, q execQuerier, keys ...string) error {
	for _, key := range keys {
		if _, err := q.ExecContext(ctx, "DELETE FROM metadata WHERE key = ?", key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}
