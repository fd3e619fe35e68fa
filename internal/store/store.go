// Package store selects the account store backend and provides the
// at-least-once retry queue for writes the trade engine could not persist.
package store

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
	"trading-simulator/internal/store/memory"
	"trading-simulator/internal/store/postgres"
	"trading-simulator/internal/store/sqlite"
)

// Drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the backend.
type Config struct {
	Driver   string          `mapstructure:"driver"`
	SQLite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Option `mapstructure:"postgres"`
}

// Open returns the configured AccountStore.
func Open(cfg Config, log *zap.Logger) (model.AccountStore, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		log.Warn("using in-memory store, accounts are lost on restart")
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.New(cfg.SQLite, log)
	case DriverPostgres:
		return postgres.New(cfg.Postgres, log)
	default:
		return nil, errors.Wrapf(model.ErrValidation, "unknown store driver %q", cfg.Driver)
	}
}
