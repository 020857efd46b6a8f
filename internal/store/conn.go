package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
)

// WithConn checks out one connection from the pool for the duration of fn.
func WithConn(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// WithTx runs fn inside a transaction on one checked-out connection. The
// transaction is committed when fn returns nil and rolled back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return WithConn(ctx, db, func(conn *sql.Conn) (err error) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
			if err != nil {
				_ = tx.Rollback()
			}
		}()
		if err = fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// EncodeHistory serializes a history for storage. A nil history encodes as [].
func EncodeHistory(history []model.Turn) (string, error) {
	if history == nil {
		history = []model.Turn{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	return string(b), nil
}

// DecodeHistory parses a stored history. Empty or NULL input yields an empty slice.
func DecodeHistory(raw []byte) ([]model.Turn, error) {
	history := []model.Turn{}
	if len(raw) == 0 || string(raw) == "null" {
		return history, nil
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return history, nil
}
