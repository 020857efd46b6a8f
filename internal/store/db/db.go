// Package db selects the SQL dialect backing the conversation store.
package db

import (
	"fmt"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
	"github.com/XiaoXiong127/L1-Project-2/internal/store/db/mysql"
	"github.com/XiaoXiong127/L1-Project-2/internal/store/db/postgres"
	"github.com/XiaoXiong127/L1-Project-2/internal/store/db/sqlite"
)

// NewDBDriver opens the driver named by cfg.DBDriver.
func NewDBDriver(cfg *config.Config) (store.Driver, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.NewDB(cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	case "mysql":
		return mysql.NewDB(cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	case "sqlite":
		return sqlite.NewDB(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported db driver: %q", cfg.DBDriver)
	}
}
