package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "ACTIVE"
	OpportunityExecuted OpportunityStatus = "EXECUTED"
	OpportunityExpired  OpportunityStatus = "EXPIRED"
	OpportunityMissed   OpportunityStatus = "MISSED"
)

// GuaranteedPayout is the fixed settlement value of a YES+NO pair, in ticks.
const GuaranteedPayout = 100

// ArbitrageOpportunity is one detected mispricing on a binary market.
// Re-scans update the ACTIVE row for a ticker in place; the partial unique
// index keeps at most one ACTIVE row per ticker.
type ArbitrageOpportunity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	MarketTicker string `gorm:"type:varchar(100);not null;uniqueIndex:idx_active_opportunity,where:status = 'ACTIVE';index"`
	MarketTitle  string `gorm:"type:text"`

	YesBid int `gorm:"not null;default:0"`
	YesAsk int `gorm:"not null;default:0"`
	NoBid  int `gorm:"not null;default:0"`
	NoAsk  int `gorm:"not null;default:0"`

	BuyBothCost int     `gorm:"not null"`
	Payout      int     `gorm:"not null;default:100"`
	ProfitCents int     `gorm:"not null"`
	ProfitPct   float64 `gorm:"not null"`

	Status OpportunityStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`

	// Quote keeps the raw detection snapshot for the review trail.
	Quote datatypes.JSON `gorm:"type:jsonb"`

	YesOrderID     *uint64          `gorm:"index"`
	NoOrderID      *uint64          `gorm:"index"`
	RealizedProfit *decimal.Decimal `gorm:"column:realized_profit;type:numeric(30,10)"`

	AlertSent bool `gorm:"not null;default:false"`

	DetectedAt time.Time  `gorm:"type:timestamptz;not null"`
	LastSeenAt time.Time  `gorm:"type:timestamptz;not null"`
	ExecutedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ArbitrageOpportunity) TableName() string {
	return "arbitrage_opportunities"
}
