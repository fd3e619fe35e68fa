// Package sqlite persists accounts and trades in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string `mapstructure:"path"` // path to SQLite database file, e.g. "data/simulator.db"
}

// Store is an AccountStore on SQLite. Writes are serialised on a single
// connection; WAL keeps readers unblocked.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// Single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			user_id          TEXT    PRIMARY KEY,
			balance          REAL    NOT NULL,
			currency         TEXT    NOT NULL,
			starting_balance REAL    NOT NULL,
			reset_at         INTEGER NOT NULL,
			achievements     TEXT    NOT NULL DEFAULT '[]',
			version          INTEGER NOT NULL,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id           TEXT    PRIMARY KEY,
			user_id      TEXT    NOT NULL,
			symbol       TEXT    NOT NULL,
			direction    TEXT    NOT NULL,
			entry_price  REAL    NOT NULL,
			stop_loss    REAL    NOT NULL,
			take_profit  REAL    NOT NULL,
			size         REAL    NOT NULL,
			status       TEXT    NOT NULL,
			opened_at    INTEGER NOT NULL,
			closed_at    INTEGER,
			close_price  REAL,
			close_reason TEXT    NOT NULL DEFAULT '',
			profit_loss  REAL,
			r_multiple   REAL
		);

		CREATE INDEX IF NOT EXISTS idx_trades_user ON trades (user_id, opened_at);
	`)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertAccount = `
	INSERT INTO accounts (user_id, balance, currency, starting_balance, reset_at, achievements, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		balance = excluded.balance,
		currency = excluded.currency,
		starting_balance = excluded.starting_balance,
		reset_at = excluded.reset_at,
		achievements = excluded.achievements,
		version = excluded.version,
		updated_at = excluded.updated_at
	WHERE excluded.version > accounts.version`

const upsertTrade = `
	INSERT INTO trades (id, user_id, symbol, direction, entry_price, stop_loss, take_profit, size, status,
		opened_at, closed_at, close_price, close_reason, profit_loss, r_multiple)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		closed_at = excluded.closed_at,
		close_price = excluded.close_price,
		close_reason = excluded.close_reason,
		profit_loss = excluded.profit_loss,
		r_multiple = excluded.r_multiple
	WHERE trades.status = 'OPEN'`

func writeAccount(ctx context.Context, ex execer, a *model.Account) error {
	achievements, err := sonic.Marshal(a.Achievements)
	if err != nil {
		return errors.Wrap(err, "encode achievements")
	}
	_, err = ex.ExecContext(ctx, upsertAccount,
		a.UserID, a.Balance, a.Currency, a.StartingBalance, a.ResetAt.UnixMilli(), string(achievements),
		a.Version, a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli())
	return errors.Wrapf(err, "upsert account %s", a.UserID)
}

func writeTrade(ctx context.Context, ex execer, t *model.Trade) error {
	var closedAt sql.NullInt64
	if t.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: t.ClosedAt.UnixMilli(), Valid: true}
	}
	_, err := ex.ExecContext(ctx, upsertTrade,
		t.ID, t.UserID, t.Symbol, string(t.Direction), t.EntryPrice, t.StopLoss, t.TakeProfit, t.Size,
		string(t.Status), t.OpenedAt.UnixMilli(), closedAt, nullFloat(t.ClosePrice),
		string(t.CloseReason), nullFloat(t.ProfitLoss), nullFloat(t.RMultiple))
	return errors.Wrapf(err, "upsert trade %s", t.ID)
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func (s *Store) LoadAccount(ctx context.Context, userID string) (*model.Account, error) {
	var (
		a            model.Account
		achievements string
		resetAt      int64
		createdAt    int64
		updatedAt    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, currency, starting_balance, reset_at, achievements, version, created_at, updated_at
		FROM accounts WHERE user_id = ?`, userID).
		Scan(&a.UserID, &a.Balance, &a.Currency, &a.StartingBalance, &resetAt, &achievements,
			&a.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(model.ErrNotFound, "account %s", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load account %s", userID)
	}
	if err := sonic.UnmarshalString(achievements, &a.Achievements); err != nil {
		return nil, errors.Wrapf(err, "decode achievements of %s", userID)
	}
	a.ResetAt = fromMillis(resetAt)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.Equity = a.Balance
	return &a, nil
}

func (s *Store) SaveAccount(ctx context.Context, acct *model.Account) error {
	return writeAccount(ctx, s.db, acct)
}

func (s *Store) SaveTrade(ctx context.Context, t *model.Trade) error {
	return writeTrade(ctx, s.db, t)
}

// CommitClose writes the account and trades in one transaction.
func (s *Store) CommitClose(ctx context.Context, acct *model.Account, trades ...*model.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := writeAccount(ctx, tx, acct); err != nil {
		tx.Rollback()
		return err
	}
	for _, t := range trades {
		if err := writeTrade(ctx, tx, t); err != nil {
			tx.Rollback()
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *Store) ListTrades(ctx context.Context, userID string) ([]*model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, direction, entry_price, stop_loss, take_profit, size, status,
			opened_at, closed_at, close_price, close_reason, profit_loss, r_multiple
		FROM trades WHERE user_id = ?
		ORDER BY opened_at ASC, id ASC`, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "query trades of %s", userID)
	}
	defer rows.Close()

	var trades []*model.Trade
	for rows.Next() {
		var (
			t          model.Trade
			direction  string
			status     string
			reason     string
			openedAt   int64
			closedAt   sql.NullInt64
			closePrice sql.NullFloat64
			pnl        sql.NullFloat64
			rMultiple  sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &direction, &t.EntryPrice, &t.StopLoss,
			&t.TakeProfit, &t.Size, &status, &openedAt, &closedAt, &closePrice, &reason, &pnl, &rMultiple); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		t.Direction = model.Direction(direction)
		t.Status = model.TradeStatus(status)
		t.CloseReason = model.CloseReason(reason)
		t.OpenedAt = fromMillis(openedAt)
		if closedAt.Valid {
			ts := fromMillis(closedAt.Int64)
			t.ClosedAt = &ts
		}
		t.ClosePrice = floatPtr(closePrice)
		t.ProfitLoss = floatPtr(pnl)
		t.RMultiple = floatPtr(rMultiple)
		trades = append(trades, &t)
	}
	return trades, errors.Wrap(rows.Err(), "iterate trades")
}

func (s *Store) ListOpenUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM trades WHERE status = ? ORDER BY user_id`, string(model.StatusOpen))
	if err != nil {
		return nil, errors.Wrap(err, "query open users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan user id")
		}
		users = append(users, id)
	}
	return users, errors.Wrap(rows.Err(), "iterate open users")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
