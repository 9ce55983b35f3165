package repository

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("record already exists")
	ErrNoActiveCredential = errors.New("no active credential")
	ErrMissingSecret      = errors.New("secret key is required for a new credential")
)

type APIKey struct {
	Identifier  string `gorm:"primaryKey"`
	DisplayName string `gorm:"not null;default:''"`
	SecretKey   string `gorm:"not null"`
	UsageCount  int64  `gorm:"not null;default:0"`
	Active      bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (APIKey) TableName() string { return "api_keys" }

type IdentificationType struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null;uniqueIndex"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (IdentificationType) TableName() string { return "identification_types" }

type RoleType struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null;uniqueIndex"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (RoleType) TableName() string { return "role_types" }

type Driver struct {
	ID                   int64  `gorm:"primaryKey"`
	FullName             string `gorm:"not null"`
	Gender               string `gorm:"not null"`
	ContactNumber        *string
	RoleTypeID           int64  `gorm:"not null"`
	IdentificationTypeID int64  `gorm:"not null"`
	IdentificationNumber string `gorm:"not null"`
	Active               bool   `gorm:"not null;default:true"`
	CreatedAt            time.Time
}

func (Driver) TableName() string { return "drivers" }

type Vehicle struct {
	ID              int64 `gorm:"primaryKey"`
	DriverID        *int64
	PlateNumber     string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null;index"`
	Type            string `gorm:"not null;default:''"`
	Model           string `gorm:"not null;default:''"`
	Brand           string `gorm:"not null;default:''"`
	Active          bool   `gorm:"not null;default:true"`
	CreatedAt       time.Time
}

func (Vehicle) TableName() string { return "vehicles" }

type User struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Username     string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (User) TableName() string { return "users" }

type GateEvent struct {
	ID              string `gorm:"primaryKey;type:uuid"`
	StreamID        *string
	Plate           *string
	NormalizedPlate *string `gorm:"index"`
	Registered      bool    `gorm:"not null;default:false"`
	VehicleID       *int64
	DriverName      *string
	Status          string `gorm:"not null"`
	Detections      datatypes.JSON
	ImageW          int       `gorm:"column:image_w;not null;default:0"`
	ImageH          int       `gorm:"column:image_h;not null;default:0"`
	CreatedAt       time.Time `gorm:"index"`
}

func (GateEvent) TableName() string { return "gate_events" }

// AutoMigrate creates the tables from the gorm models. Production databases
// use the SQL migrations in internal/db; this is for SQLite-backed tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&APIKey{},
		&IdentificationType{},
		&RoleType{},
		&Driver{},
		&Vehicle{},
		&User{},
		&GateEvent{},
	)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
