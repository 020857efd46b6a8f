// Package mysql implements the conversation store on MySQL 8.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/XiaoXiong127/L1-Project-2/internal/store"
)

const errDupEntry = 1062

type DB struct {
	db *sql.DB
}

// NewDB opens a pool on dsn. parseTime, UTC location and found-rows
// semantics are forced so that row counts mean "matched", not "changed".
func NewDB(dsn string, maxOpen, maxIdle int) (store.Driver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector for %s@%s: %w", cfg.User, cfg.Addr, err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	return &DB{db: db}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `users` (" +
			"`id` CHAR(36) NOT NULL PRIMARY KEY," +
			"`username` VARCHAR(255) NOT NULL UNIQUE," +
			"`password_hash` VARCHAR(255) NOT NULL" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		"CREATE TABLE IF NOT EXISTS `conversations` (" +
			"`id` CHAR(36) NOT NULL PRIMARY KEY," +
			"`user_id` CHAR(36) NOT NULL," +
			"`title` VARCHAR(255) NOT NULL," +
			"`history` JSON NOT NULL," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)," +
			"`title_set` BOOLEAN NOT NULL DEFAULT FALSE," +
			"INDEX `idx_conversations_user_created` (`user_id`, `created_at`)," +
			"CONSTRAINT `fk_conversations_user` FOREIGN KEY (`user_id`) REFERENCES `users`(`id`)" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
	}
	return store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		for _, s := range stmts {
			if _, err := conn.ExecContext(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
}
