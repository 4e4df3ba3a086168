package models

import (
	"time"

	"gorm.io/datatypes"
)

// StateTransition is an append-only audit record of one order state change.
// Rows are never updated or deleted.
type StateTransition struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID uint64 `gorm:"not null;index"`

	// FromState is nil only for the initial transition into DRAFT.
	FromState *OrderState `gorm:"type:varchar(20)"`
	ToState   OrderState  `gorm:"type:varchar(20);not null"`

	Reason   string         `gorm:"type:text;not null"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (StateTransition) TableName() string {
	return "state_transitions"
}
