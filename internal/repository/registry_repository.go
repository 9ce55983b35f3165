package repository

import (
	"context"

	"gorm.io/gorm"

	"gate-service/internal/domain/gate"
)

type RegistryRepository struct {
	db *gorm.DB
}

func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

type registryRow struct {
	VehicleID   int64
	PlateNumber string
	Brand       string
	Model       string
	Type        string
	DriverName  *string
}

// FindActiveByPlate returns the active vehicle registered under the normalized
// plate, or nil when there is none.
func (r *RegistryRepository) FindActiveByPlate(ctx context.Context, normalized string) (*gate.RegistryMatch, error) {
	var rows []registryRow
	err := r.db.WithContext(ctx).
		Table("vehicles").
		Select("vehicles.id AS vehicle_id, vehicles.plate_number, vehicles.brand, vehicles.model, vehicles.type, drivers.full_name AS driver_name").
		Joins("LEFT JOIN drivers ON drivers.id = vehicles.driver_id AND drivers.active = ?", true).
		Where("vehicles.normalized_plate = ? AND vehicles.active = ?", normalized, true).
		Order("vehicles.id ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &gate.RegistryMatch{
		VehicleID:   row.VehicleID,
		PlateNumber: row.PlateNumber,
		Vehicle: gate.VehicleSummary{
			Brand: row.Brand,
			Model: row.Model,
			Type:  row.Type,
		},
		DriverName: row.DriverName,
	}, nil
}
