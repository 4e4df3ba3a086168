package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyPnL is the single mutable P&L record for one UTC calendar date.
// Only the daily risk monitor writes it, one writer per date.
type DailyPnL struct {
	ID   uint64    `gorm:"primaryKey;autoIncrement"`
	Date time.Time `gorm:"type:date;not null;uniqueIndex"`

	// Explicit column names because default GORM naming turns "PnL" into "pn_l".
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	Fees          decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	GrossPnL      decimal.Decimal `gorm:"column:gross_pnl;type:numeric(30,10);not null;default:0"`
	NetPnL        decimal.Decimal `gorm:"column:net_pnl;type:numeric(30,10);not null;default:0"`

	TradeCount int `gorm:"not null;default:0"`
	WinCount   int `gorm:"not null;default:0"`
	LossCount  int `gorm:"not null;default:0"`

	PositionsOpened int `gorm:"not null;default:0"`
	PositionsClosed int `gorm:"not null;default:0"`

	// PeakPnL is the high-water mark of NetPnL within the date; it only moves up.
	PeakPnL     decimal.Decimal `gorm:"column:peak_pnl;type:numeric(30,10);not null;default:0"`
	Drawdown    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	DrawdownPct decimal.Decimal `gorm:"column:drawdown_pct;type:numeric(20,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (DailyPnL) TableName() string {
	return "daily_pnl"
}
