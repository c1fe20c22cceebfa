package database

import (
	"gatepass/internal/logger"
	"gatepass/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultUnits are seeded on first start so gatepasses can be created right away
var DefaultUnits = []model.Unit{
	{Code: "pcs", Name: "Pieces", Active: true},
	{Code: "kg", Name: "Kilograms", Active: true},
	{Code: "m", Name: "Meters", Active: true},
	{Code: "box", Name: "Boxes", Active: true},
}

// NewConnection initializes a new connection pool using GORM and brings the
// schema up to date.
func NewConnection(dsn string, log *logger.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	if err := SeedUnits(db); err != nil {
		log.Warnw("failed to seed default units", "error", err)
	}

	return db, nil
}

// Migrate auto-migrates the core models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Unit{},
		&model.Gatepass{},
		&model.GatepassItem{},
		&model.GatepassCounter{},
		&model.AuditLog{},
		&model.ImpersonationSession{},
	)
}

// SeedUnits inserts DefaultUnits, leaving existing codes untouched
func SeedUnits(db *gorm.DB) error {
	units := make([]model.Unit, len(DefaultUnits))
	copy(units, DefaultUnits)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&units).Error
}
