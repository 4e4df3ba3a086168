package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type KillSwitchLevel string

const (
	LevelGlobal   KillSwitchLevel = "GLOBAL"
	LevelAccount  KillSwitchLevel = "ACCOUNT"
	LevelStrategy KillSwitchLevel = "STRATEGY"
	LevelMarket   KillSwitchLevel = "MARKET"
)

// Priority orders levels for blocking-switch selection: a GLOBAL trip
// outranks everything, a MARKET trip only its own market.
func (l KillSwitchLevel) Priority() int {
	switch l {
	case LevelGlobal:
		return 4
	case LevelAccount:
		return 3
	case LevelStrategy:
		return 2
	case LevelMarket:
		return 1
	default:
		return 0
	}
}

func (l KillSwitchLevel) Valid() bool {
	switch l {
	case LevelGlobal, LevelAccount, LevelStrategy, LevelMarket:
		return true
	default:
		return false
	}
}

type KillSwitchReason string

const (
	ReasonManual    KillSwitchReason = "MANUAL"
	ReasonLossLimit KillSwitchReason = "LOSS_LIMIT"
	ReasonErrorRate KillSwitchReason = "ERROR_RATE"
	ReasonAnomaly   KillSwitchReason = "ANOMALY"
)

// KillSwitch is one active or historical circuit-breaker instance. At most
// one active row may exist per (level, target_id); the partial unique index
// enforces that under concurrent triggers.
type KillSwitch struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Level KillSwitchLevel `gorm:"type:varchar(10);not null;uniqueIndex:idx_active_switch,where:active;index"`
	// TargetID is empty for GLOBAL and required for every other level.
	TargetID string `gorm:"type:varchar(100);not null;default:'';uniqueIndex:idx_active_switch,where:active"`

	Active      bool             `gorm:"not null;default:true;index"`
	Reason      KillSwitchReason `gorm:"type:varchar(20);not null"`
	Description string           `gorm:"type:text"`

	TriggeredBy string    `gorm:"type:varchar(100);not null"`
	TriggeredAt time.Time `gorm:"type:timestamptz;not null"`

	AutoResetAt *time.Time `gorm:"type:timestamptz;index"`
	ResetBy     *string    `gorm:"type:varchar(100)"`
	ResetAt     *time.Time `gorm:"type:timestamptz"`

	Metadata datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (KillSwitch) TableName() string {
	return "kill_switches"
}

// Expired reports whether a lapsed auto-reset time makes the switch inert.
// Expiry is evaluated lazily at read time; no background timer flips rows.
func (k KillSwitch) Expired(now time.Time) bool {
	return k.AutoResetAt != nil && !k.AutoResetAt.After(now)
}

// KillSwitchConfig holds the automatic trip thresholds for one
// (level, target_id) key. Manual triggers never consult it.
type KillSwitchConfig struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Level    KillSwitchLevel `gorm:"type:varchar(10);not null;uniqueIndex:idx_switch_config"`
	TargetID string          `gorm:"type:varchar(100);not null;default:'';uniqueIndex:idx_switch_config"`

	MaxDailyLoss   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	MaxDrawdownPct decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	MaxErrorRate   float64         `gorm:"not null;default:0"`
	MaxLatencyMs   int64           `gorm:"not null;default:0"`

	Active bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (KillSwitchConfig) TableName() string {
	return "kill_switch_configs"
}
