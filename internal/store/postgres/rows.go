package postgres

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"trading-simulator/internal/model"
)

// accountRow is the gorm model of the accounts table.
type accountRow struct {
	UserID          string    `gorm:"primaryKey;size:128"`
	Balance         float64   `gorm:"not null"`
	Currency        string    `gorm:"size:8;not null"`
	StartingBalance float64   `gorm:"not null"`
	ResetAt         time.Time `gorm:"not null"`
	Achievements    string    `gorm:"type:text;not null;default:'[]'"`
	Version         int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
}

func (accountRow) TableName() string { return "accounts" }

// tradeRow is the gorm model of the trades table.
type tradeRow struct {
	ID          string     `gorm:"primaryKey;size:64"`
	UserID      string     `gorm:"size:128;not null;index:idx_trades_user,priority:1"`
	Symbol      string     `gorm:"size:32;not null"`
	Direction   string     `gorm:"size:4;not null"`
	EntryPrice  float64    `gorm:"not null"`
	StopLoss    float64    `gorm:"not null"`
	TakeProfit  float64    `gorm:"not null"`
	Size        float64    `gorm:"not null"`
	Status      string     `gorm:"size:8;not null"`
	OpenedAt    time.Time  `gorm:"not null;index:idx_trades_user,priority:2"`
	ClosedAt    *time.Time
	ClosePrice  *float64
	CloseReason string `gorm:"size:16;not null;default:''"`
	ProfitLoss  *float64
	RMultiple   *float64
}

func (tradeRow) TableName() string { return "trades" }

func toAccountRow(a *model.Account) (accountRow, error) {
	achievements, err := sonic.MarshalString(a.Achievements)
	if err != nil {
		return accountRow{}, errors.Wrap(err, "encode achievements")
	}
	return accountRow{
		UserID:          a.UserID,
		Balance:         a.Balance,
		Currency:        a.Currency,
		StartingBalance: a.StartingBalance,
		ResetAt:         a.ResetAt.UTC(),
		Achievements:    achievements,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
	}, nil
}

func (r accountRow) toModel() (*model.Account, error) {
	a := &model.Account{
		UserID:          r.UserID,
		Balance:         r.Balance,
		Equity:          r.Balance,
		Currency:        r.Currency,
		StartingBalance: r.StartingBalance,
		ResetAt:         r.ResetAt.UTC(),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if err := sonic.UnmarshalString(r.Achievements, &a.Achievements); err != nil {
		return nil, errors.Wrapf(err, "decode achievements of %s", r.UserID)
	}
	return a, nil
}

func toTradeRow(t *model.Trade) tradeRow {
	return tradeRow{
		ID:          t.ID,
		UserID:      t.UserID,
		Symbol:      t.Symbol,
		Direction:   string(t.Direction),
		EntryPrice:  t.EntryPrice,
		StopLoss:    t.StopLoss,
		TakeProfit:  t.TakeProfit,
		Size:        t.Size,
		Status:      string(t.Status),
		OpenedAt:    t.OpenedAt.UTC(),
		ClosedAt:    t.ClosedAt,
		ClosePrice:  t.ClosePrice,
		CloseReason: string(t.CloseReason),
		ProfitLoss:  t.ProfitLoss,
		RMultiple:   t.RMultiple,
	}
}

func (r tradeRow) toModel() *model.Trade {
	t := &model.Trade{
		ID:          r.ID,
		UserID:      r.UserID,
		Symbol:      r.Symbol,
		Direction:   model.Direction(r.Direction),
		EntryPrice:  r.EntryPrice,
		StopLoss:    r.StopLoss,
		TakeProfit:  r.TakeProfit,
		Size:        r.Size,
		Status:      model.TradeStatus(r.Status),
		OpenedAt:    r.OpenedAt.UTC(),
		ClosePrice:  r.ClosePrice,
		CloseReason: model.CloseReason(r.CloseReason),
		ProfitLoss:  r.ProfitLoss,
		RMultiple:   r.RMultiple,
	}
	if r.ClosedAt != nil {
		at := r.ClosedAt.UTC()
		t.ClosedAt = &at
	}
	return t
}
