// Package postgres persists accounts and trades in PostgreSQL through gorm.
package postgres

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trading-simulator/internal/model"
)

// Store is an AccountStore on PostgreSQL.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// New connects, migrates the schema and returns the store.
func New(opt Option, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(opt.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "postgres open")
	}
	if err := db.AutoMigrate(&accountRow{}, &tradeRow{}); err != nil {
		return nil, errors.Wrap(err, "postgres migrate")
	}

	log = log.Named("postgres")
	log.Info("connected", zap.String("host", opt.Host), zap.String("database", opt.Database))
	return &Store{db: db, log: log}, nil
}

// DB returns the underlying gorm.DB.
func (s *Store) DB() *gorm.DB { return s.db }

var accountUpsert = clause.OnConflict{
	Columns: []clause.Column{{Name: "user_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"balance", "currency", "starting_balance", "reset_at", "achievements", "version", "updated_at",
	}),
	Where: clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: "accounts.version < excluded.version"},
	}},
}

var tradeUpsert = clause.OnConflict{
	Columns: []clause.Column{{Name: "id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"status", "closed_at", "close_price", "close_reason", "profit_loss", "r_multiple",
	}),
	Where: clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: "trades.status = ?", Vars: []interface{}{string(model.StatusOpen)}},
	}},
}

func saveAccount(db *gorm.DB, a *model.Account) error {
	row, err := toAccountRow(a)
	if err != nil {
		return err
	}
	return errors.Wrapf(db.Clauses(accountUpsert).Create(&row).Error, "upsert account %s", a.UserID)
}

func saveTrade(db *gorm.DB, t *model.Trade) error {
	row := toTradeRow(t)
	return errors.Wrapf(db.Clauses(tradeUpsert).Create(&row).Error, "upsert trade %s", t.ID)
}

func (s *Store) LoadAccount(ctx context.Context, userID string) (*model.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(model.ErrNotFound, "account %s", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load account %s", userID)
	}
	return row.toModel()
}

func (s *Store) SaveAccount(ctx context.Context, acct *model.Account) error {
	return saveAccount(s.db.WithContext(ctx), acct)
}

func (s *Store) SaveTrade(ctx context.Context, t *model.Trade) error {
	return saveTrade(s.db.WithContext(ctx), t)
}

// CommitClose writes the account and trades in one transaction.
func (s *Store) CommitClose(ctx context.Context, acct *model.Account, trades ...*model.Trade) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveAccount(tx, acct); err != nil {
			return err
		}
		for _, t := range trades {
			if err := saveTrade(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListTrades(ctx context.Context, userID string) ([]*model.Trade, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("opened_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query trades of %s", userID)
	}
	trades := make([]*model.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, r.toModel())
	}
	return trades, nil
}

func (s *Store) ListOpenUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).
		Model(&tradeRow{}).
		Where("status = ?", string(model.StatusOpen)).
		Distinct().Order("user_id ASC").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, errors.Wrap(err, "query open users")
	}
	return users, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
