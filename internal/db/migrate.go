package db

import (
	"tradegate/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Order{},
		&models.StateTransition{},
		&models.Fill{},
		&models.KillSwitch{},
		&models.KillSwitchConfig{},
		&models.DailyPnL{},
		&models.ArbitrageOpportunity{},
	)
}
