package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		identifier      TEXT PRIMARY KEY,
		display_name    TEXT NOT NULL DEFAULT '',
		secret_key      TEXT NOT NULL,
		usage_count     BIGINT NOT NULL DEFAULT 0,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_rotation ON api_keys(active, usage_count, identifier);`,
	`CREATE TABLE IF NOT EXISTS identification_types (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_identification_types_name ON identification_types(name);`,
	`CREATE TABLE IF NOT EXISTS role_types (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_role_types_name ON role_types(name);`,
	`CREATE TABLE IF NOT EXISTS drivers (
		id                      BIGSERIAL PRIMARY KEY,
		full_name               TEXT NOT NULL,
		gender                  TEXT NOT NULL,
		contact_number          TEXT,
		role_type_id            BIGINT NOT NULL REFERENCES role_types(id),
		identification_type_id  BIGINT NOT NULL REFERENCES identification_types(id),
		identification_number   TEXT NOT NULL,
		active                  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_drivers_identification
		ON drivers(identification_type_id, identification_number);`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id                  BIGSERIAL PRIMARY KEY,
		driver_id           BIGINT REFERENCES drivers(id),
		plate_number        TEXT NOT NULL,
		normalized_plate    TEXT NOT NULL,
		type                TEXT NOT NULL DEFAULT '',
		model               TEXT NOT NULL DEFAULT '',
		brand               TEXT NOT NULL DEFAULT '',
		active              BOOLEAN NOT NULL DEFAULT TRUE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_normalized_plate_active
		ON vehicles(normalized_plate) WHERE active;`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_driver_id ON vehicles(driver_id);`,
	`CREATE TABLE IF NOT EXISTS users (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		username        TEXT NOT NULL,
		password_hash   TEXT NOT NULL,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_username ON users(username);`,
	`CREATE TABLE IF NOT EXISTS gate_events (
		id                  UUID PRIMARY KEY,
		stream_id           TEXT,
		plate               TEXT,
		normalized_plate    TEXT,
		registered          BOOLEAN NOT NULL DEFAULT FALSE,
		vehicle_id          BIGINT REFERENCES vehicles(id),
		driver_name         TEXT,
		status              TEXT NOT NULL,
		detections          JSONB,
		image_w             INT NOT NULL DEFAULT 0,
		image_h             INT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_created_at ON gate_events(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_normalized_plate ON gate_events(normalized_plate);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM role_types) THEN
			INSERT INTO role_types (name) VALUES ('Student'), ('Staff'), ('Visitor');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM identification_types) THEN
			INSERT INTO identification_types (name) VALUES ('National ID'), ('Driver License'), ('Passport');
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
