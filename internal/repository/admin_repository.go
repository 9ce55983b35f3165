package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"gate-service/internal/domain/admin"
	"gate-service/internal/utils"
)

const (
	TableIdentificationTypes = "identification_types"
	TableRoleTypes           = "role_types"
)

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

type lookupRow struct {
	ID     int64
	Name   string
	Active bool
}

func (r *AdminRepository) ListLookups(ctx context.Context, table string) ([]admin.LookupType, error) {
	var rows []lookupRow
	err := r.db.WithContext(ctx).
		Table(table).
		Select("id, name, active").
		Where("active = ?", true).
		Order("name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]admin.LookupType, 0, len(rows))
	for _, row := range rows {
		result = append(result, admin.LookupType{ID: row.ID, Name: row.Name, Active: row.Active})
	}
	return result, nil
}

func (r *AdminRepository) findLookup(ctx context.Context, table, where string, args ...interface{}) (*lookupRow, error) {
	var rows []lookupRow
	err := r.db.WithContext(ctx).
		Table(table).
		Select("id, name, active").
		Where(where, args...).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindLookupID resolves an active lookup value by name.
func (r *AdminRepository) FindLookupID(ctx context.Context, table, name string) (int64, error) {
	row, err := r.findLookup(ctx, table, "name = ? AND active = ?", name, true)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, ErrNotFound
	}
	return row.ID, nil
}

// UpsertLookup inserts a new name, reactivates a deactivated one, or renames
// an existing row when in.ID is set.
func (r *AdminRepository) UpsertLookup(ctx context.Context, table string, in admin.LookupInput) (admin.LookupType, error) {
	existing, err := r.findLookup(ctx, table, "name = ?", in.Name)
	if err != nil {
		return admin.LookupType{}, err
	}

	if in.ID != nil {
		current, err := r.findLookup(ctx, table, "id = ?", *in.ID)
		if err != nil {
			return admin.LookupType{}, err
		}
		if current == nil {
			return admin.LookupType{}, ErrNotFound
		}
		if existing != nil && existing.ID != *in.ID {
			return admin.LookupType{}, ErrDuplicate
		}
		err = r.db.WithContext(ctx).
			Table(table).
			Where("id = ?", *in.ID).
			Updates(map[string]interface{}{"name": in.Name, "active": true}).Error
		if err != nil {
			return admin.LookupType{}, err
		}
		return admin.LookupType{ID: *in.ID, Name: in.Name, Active: true}, nil
	}

	if existing != nil {
		if existing.Active {
			return admin.LookupType{}, ErrDuplicate
		}
		err = r.db.WithContext(ctx).
			Table(table).
			Where("id = ?", existing.ID).
			Update("active", true).Error
		if err != nil {
			return admin.LookupType{}, err
		}
		return admin.LookupType{ID: existing.ID, Name: existing.Name, Active: true}, nil
	}

	err = r.db.WithContext(ctx).
		Table(table).
		Create(map[string]interface{}{"name": in.Name, "active": true, "created_at": time.Now()}).Error
	if err != nil {
		return admin.LookupType{}, err
	}

	created, err := r.findLookup(ctx, table, "name = ?", in.Name)
	if err != nil {
		return admin.LookupType{}, err
	}
	if created == nil {
		return admin.LookupType{}, ErrNotFound
	}
	return admin.LookupType{ID: created.ID, Name: created.Name, Active: created.Active}, nil
}

func (r *AdminRepository) DeactivateLookup(ctx context.Context, table string, id int64) error {
	return r.deactivate(ctx, table, "id = ?", id)
}

func (r *AdminRepository) deactivate(ctx context.Context, table, where string, args ...interface{}) error {
	res := r.db.WithContext(ctx).
		Table(table).
		Where(where, args...).
		Where("active = ?", true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type driverRow struct {
	ID                   int64
	FullName             string
	Gender               string
	ContactNumber        *string
	RoleType             string
	IdentificationType   string
	IdentificationNumber string
	Active               bool
}

func (r *AdminRepository) driverQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("drivers").
		Select(`drivers.id, drivers.full_name, drivers.gender, drivers.contact_number,
			role_types.name AS role_type, identification_types.name AS identification_type,
			drivers.identification_number, drivers.active`).
		Joins("JOIN role_types ON role_types.id = drivers.role_type_id").
		Joins("JOIN identification_types ON identification_types.id = drivers.identification_type_id")
}

func (r *AdminRepository) ListDrivers(ctx context.Context) ([]admin.Driver, error) {
	var rows []driverRow
	err := r.driverQuery(ctx).
		Where("drivers.active = ?", true).
		Order("drivers.full_name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]admin.Driver, 0, len(rows))
	for _, row := range rows {
		result = append(result, toAdminDriver(row))
	}
	return result, nil
}

func (r *AdminRepository) GetDriver(ctx context.Context, id int64) (admin.Driver, error) {
	var rows []driverRow
	err := r.driverQuery(ctx).
		Where("drivers.id = ? AND drivers.active = ?", id, true).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return admin.Driver{}, err
	}
	if len(rows) == 0 {
		return admin.Driver{}, ErrNotFound
	}
	return toAdminDriver(rows[0]), nil
}

// UpsertDriver stores a driver whose role and identification types are
// already resolved to ids.
func (r *AdminRepository) UpsertDriver(ctx context.Context, in admin.DriverInput, roleTypeID, identificationTypeID int64) (admin.Driver, error) {
	dup := r.db.WithContext(ctx).
		Model(&Driver{}).
		Where("identification_type_id = ? AND identification_number = ?", identificationTypeID, in.IdentificationNumber)
	if in.ID != nil {
		dup = dup.Where("id <> ?", *in.ID)
	}
	var count int64
	if err := dup.Count(&count).Error; err != nil {
		return admin.Driver{}, err
	}
	if count > 0 {
		return admin.Driver{}, ErrDuplicate
	}

	if in.ID == nil {
		row := Driver{
			FullName:             in.FullName,
			Gender:               in.Gender,
			ContactNumber:        in.ContactNumber,
			RoleTypeID:           roleTypeID,
			IdentificationTypeID: identificationTypeID,
			IdentificationNumber: in.IdentificationNumber,
			Active:               true,
			CreatedAt:            time.Now(),
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return admin.Driver{}, err
		}
		return r.GetDriver(ctx, row.ID)
	}

	res := r.db.WithContext(ctx).
		Model(&Driver{}).
		Where("id = ? AND active = ?", *in.ID, true).
		Updates(map[string]interface{}{
			"full_name":              in.FullName,
			"gender":                 in.Gender,
			"contact_number":         in.ContactNumber,
			"role_type_id":           roleTypeID,
			"identification_type_id": identificationTypeID,
			"identification_number":  in.IdentificationNumber,
		})
	if res.Error != nil {
		return admin.Driver{}, res.Error
	}
	if res.RowsAffected == 0 {
		return admin.Driver{}, ErrNotFound
	}
	return r.GetDriver(ctx, *in.ID)
}

func (r *AdminRepository) DeactivateDriver(ctx context.Context, id int64) error {
	return r.deactivate(ctx, "drivers", "id = ?", id)
}

func (r *AdminRepository) ListVehicles(ctx context.Context, filter admin.VehicleFilter) ([]admin.Vehicle, int64, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)

	query := r.db.WithContext(ctx).Model(&Vehicle{}).Where("active = ?", true)
	if filter.DriverID != nil {
		query = query.Where("driver_id = ?", *filter.DriverID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Vehicle
	err := query.
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	result := make([]admin.Vehicle, 0, len(rows))
	for _, row := range rows {
		result = append(result, toAdminVehicle(row))
	}
	return result, total, nil
}

// UpsertVehicle keeps normalized_plate in sync with the plate as entered.
func (r *AdminRepository) UpsertVehicle(ctx context.Context, in admin.VehicleInput) (admin.Vehicle, error) {
	normalized := utils.NormalizePlate(in.PlateNumber)

	dup := r.db.WithContext(ctx).
		Model(&Vehicle{}).
		Where("normalized_plate = ? AND active = ?", normalized, true)
	if in.ID != nil {
		dup = dup.Where("id <> ?", *in.ID)
	}
	var count int64
	if err := dup.Count(&count).Error; err != nil {
		return admin.Vehicle{}, err
	}
	if count > 0 {
		return admin.Vehicle{}, ErrDuplicate
	}

	if in.ID == nil {
		row := Vehicle{
			DriverID:        in.DriverID,
			PlateNumber:     in.PlateNumber,
			NormalizedPlate: normalized,
			Type:            in.Type,
			Model:           in.Model,
			Brand:           in.Brand,
			Active:          true,
			CreatedAt:       time.Now(),
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return admin.Vehicle{}, err
		}
		return toAdminVehicle(row), nil
	}

	var row Vehicle
	err := r.db.WithContext(ctx).Where("id = ? AND active = ?", *in.ID, true).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return admin.Vehicle{}, ErrNotFound
	}
	if err != nil {
		return admin.Vehicle{}, err
	}

	err = r.db.WithContext(ctx).
		Model(&row).
		Updates(map[string]interface{}{
			"driver_id":        in.DriverID,
			"plate_number":     in.PlateNumber,
			"normalized_plate": normalized,
			"type":             in.Type,
			"model":            in.Model,
			"brand":            in.Brand,
		}).Error
	if err != nil {
		return admin.Vehicle{}, err
	}

	row.DriverID = in.DriverID
	row.PlateNumber = in.PlateNumber
	row.NormalizedPlate = normalized
	row.Type = in.Type
	row.Model = in.Model
	row.Brand = in.Brand
	return toAdminVehicle(row), nil
}

func (r *AdminRepository) DeactivateVehicle(ctx context.Context, id int64) error {
	return r.deactivate(ctx, "vehicles", "id = ?", id)
}

func (r *AdminRepository) ListBrands(ctx context.Context) ([]string, error) {
	brands := []string{}
	err := r.db.WithContext(ctx).
		Model(&Vehicle{}).
		Where("active = ? AND brand <> ?", true, "").
		Distinct().
		Order("brand ASC").
		Pluck("brand", &brands).Error
	return brands, err
}

func (r *AdminRepository) ListUsers(ctx context.Context) ([]admin.User, error) {
	var rows []User
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("username ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]admin.User, 0, len(rows))
	for _, row := range rows {
		result = append(result, toAdminUser(row))
	}
	return result, nil
}

// FindUserByUsername returns the stored row including the password hash.
func (r *AdminRepository) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var row User
	err := r.db.WithContext(ctx).
		Where("username = ? AND active = ?", username, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *AdminRepository) FindUserByID(ctx context.Context, id int64) (*User, error) {
	var row User
	err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertUser creates a user or updates name and username. passwordHash is
// required on create and optional on update.
func (r *AdminRepository) UpsertUser(ctx context.Context, id *int64, name, username, passwordHash string) (admin.User, error) {
	dup := r.db.WithContext(ctx).Model(&User{}).Where("username = ?", username)
	if id != nil {
		dup = dup.Where("id <> ?", *id)
	}
	var count int64
	if err := dup.Count(&count).Error; err != nil {
		return admin.User{}, err
	}
	if count > 0 {
		return admin.User{}, ErrDuplicate
	}

	if id == nil {
		row := User{
			Name:         name,
			Username:     username,
			PasswordHash: passwordHash,
			Active:       true,
			CreatedAt:    time.Now(),
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return admin.User{}, err
		}
		return toAdminUser(row), nil
	}

	row, err := r.FindUserByID(ctx, *id)
	if err != nil {
		return admin.User{}, err
	}

	updates := map[string]interface{}{"name": name, "username": username}
	if passwordHash != "" {
		updates["password_hash"] = passwordHash
	}
	if err := r.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return admin.User{}, err
	}
	row.Name = name
	row.Username = username
	return toAdminUser(*row), nil
}

func (r *AdminRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res := r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND active = ?", id, true).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AdminRepository) DeactivateUser(ctx context.Context, id int64) error {
	return r.deactivate(ctx, "users", "id = ?", id)
}

func toAdminDriver(row driverRow) admin.Driver {
	return admin.Driver{
		ID:                   row.ID,
		FullName:             row.FullName,
		Gender:               row.Gender,
		ContactNumber:        row.ContactNumber,
		RoleType:             row.RoleType,
		IdentificationType:   row.IdentificationType,
		IdentificationNumber: row.IdentificationNumber,
		Active:               row.Active,
	}
}

func toAdminVehicle(row Vehicle) admin.Vehicle {
	return admin.Vehicle{
		ID:          row.ID,
		DriverID:    row.DriverID,
		PlateNumber: row.PlateNumber,
		Type:        row.Type,
		Model:       row.Model,
		Brand:       row.Brand,
		Active:      row.Active,
	}
}

func toAdminUser(row User) admin.User {
	return admin.User{
		UserID:   row.ID,
		Name:     row.Name,
		Username: row.Username,
		Active:   row.Active,
	}
}
