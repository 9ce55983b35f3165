package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"gate-service/internal/domain/gate"
)

type GateEventRepository struct {
	db *gorm.DB
}

func NewGateEventRepository(db *gorm.DB) *GateEventRepository {
	return &GateEventRepository{db: db}
}

func (r *GateEventRepository) Create(ctx context.Context, event gate.EventRecord) error {
	detections, err := json.Marshal(event.Detections)
	if err != nil {
		return err
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := GateEvent{
		ID:              event.ID,
		StreamID:        event.StreamID,
		Plate:           event.Plate,
		NormalizedPlate: event.NormalizedPlate,
		Registered:      event.Registered,
		VehicleID:       event.VehicleID,
		DriverName:      event.DriverName,
		Status:          string(event.Status),
		Detections:      detections,
		ImageW:          event.ImageWidth,
		ImageH:          event.ImageHeight,
		CreatedAt:       createdAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *GateEventRepository) List(ctx context.Context, normalizedPlate *string, limit, offset int) ([]gate.EventRecord, error) {
	limit, offset = clampPage(limit, offset)

	query := r.db.WithContext(ctx).Model(&GateEvent{})
	if normalizedPlate != nil {
		query = query.Where("normalized_plate = ?", *normalizedPlate)
	}

	var rows []GateEvent
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]gate.EventRecord, 0, len(rows))
	for _, row := range rows {
		detections := []gate.Detection{}
		if len(row.Detections) > 0 {
			if err := json.Unmarshal(row.Detections, &detections); err != nil {
				return nil, err
			}
		}
		result = append(result, gate.EventRecord{
			ID:              row.ID,
			StreamID:        row.StreamID,
			Plate:           row.Plate,
			NormalizedPlate: row.NormalizedPlate,
			Registered:      row.Registered,
			VehicleID:       row.VehicleID,
			DriverName:      row.DriverName,
			Status:          gate.GateStatus(row.Status),
			Detections:      detections,
			ImageWidth:      row.ImageW,
			ImageHeight:     row.ImageH,
			CreatedAt:       row.CreatedAt,
		})
	}
	return result, nil
}
