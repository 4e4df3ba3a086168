package models

import "time"

// Fill is one partial or full execution. Append-only; the sum of a given
// order's fill contracts must equal the order's filled count.
type Fill struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID uint64 `gorm:"not null;index"`

	Contracts int `gorm:"not null"`
	Price     int `gorm:"not null"` // ticks

	ExchangeFillID *string `gorm:"type:varchar(100)"`

	FilledAt  time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Fill) TableName() string {
	return "fills"
}
