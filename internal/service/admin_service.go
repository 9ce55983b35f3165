package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"gate-service/internal/domain/admin"
	"gate-service/internal/repository"
	"gate-service/internal/utils"
)

type AdminService struct {
	repo        *repository.AdminRepository
	credentials *repository.CredentialRepository
	log         zerolog.Logger
}

func NewAdminService(repo *repository.AdminRepository, credentials *repository.CredentialRepository, log zerolog.Logger) *AdminService {
	return &AdminService{
		repo:        repo,
		credentials: credentials,
		log:         log.With().Str("component", "admin").Logger(),
	}
}

func (s *AdminService) ListLookups(ctx context.Context, table string) ([]admin.LookupType, error) {
	items, err := s.repo.ListLookups(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return items, nil
}

func (s *AdminService) UpsertLookup(ctx context.Context, table string, in admin.LookupInput) (admin.LookupType, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return admin.LookupType{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	item, err := s.repo.UpsertLookup(ctx, table, in)
	if err != nil {
		return admin.LookupType{}, mapRepoError(err)
	}
	s.log.Info().Str("table", table).Int64("id", item.ID).Str("name", item.Name).Msg("lookup saved")
	return item, nil
}

func (s *AdminService) DeleteLookup(ctx context.Context, table string, id int64) error {
	return mapRepoError(s.repo.DeactivateLookup(ctx, table, id))
}

func (s *AdminService) ListDrivers(ctx context.Context) ([]admin.Driver, error) {
	drivers, err := s.repo.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}
	return drivers, nil
}

func (s *AdminService) UpsertDriver(ctx context.Context, in admin.DriverInput) (admin.Driver, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	in.IdentificationNumber = strings.TrimSpace(in.IdentificationNumber)

	if in.FullName == "" {
		return admin.Driver{}, fmt.Errorf("%w: fullName is required", ErrInvalidInput)
	}
	if in.Gender != "male" && in.Gender != "female" {
		return admin.Driver{}, fmt.Errorf("%w: gender must be male or female", ErrInvalidInput)
	}
	if in.IdentificationNumber == "" {
		return admin.Driver{}, fmt.Errorf("%w: identificationNumber is required", ErrInvalidInput)
	}
	if in.ContactNumber != nil {
		trimmed := strings.TrimSpace(*in.ContactNumber)
		if trimmed == "" {
			in.ContactNumber = nil
		} else {
			in.ContactNumber = &trimmed
		}
	}

	roleID, err := s.repo.FindLookupID(ctx, repository.TableRoleTypes, strings.TrimSpace(in.RoleType))
	if err != nil {
		return admin.Driver{}, s.lookupError(err, "roleType", in.RoleType)
	}
	identID, err := s.repo.FindLookupID(ctx, repository.TableIdentificationTypes, strings.TrimSpace(in.IdentificationType))
	if err != nil {
		return admin.Driver{}, s.lookupError(err, "identificationType", in.IdentificationType)
	}

	driver, err := s.repo.UpsertDriver(ctx, in, roleID, identID)
	if err != nil {
		return admin.Driver{}, mapRepoError(err)
	}
	s.log.Info().Int64("driver_id", driver.ID).Msg("driver saved")
	return driver, nil
}

func (s *AdminService) lookupError(err error, field, value string) error {
	if mapRepoError(err) == ErrNotFound {
		return fmt.Errorf("%w: %s %q does not exist", ErrInvalidInput, field, value)
	}
	return err
}

func (s *AdminService) DeleteDriver(ctx context.Context, id int64) error {
	return mapRepoError(s.repo.DeactivateDriver(ctx, id))
}

func (s *AdminService) ListVehicles(ctx context.Context, filter admin.VehicleFilter) ([]admin.Vehicle, int64, error) {
	vehicles, total, err := s.repo.ListVehicles(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, total, nil
}

func (s *AdminService) UpsertVehicle(ctx context.Context, in admin.VehicleInput) (admin.Vehicle, error) {
	in.PlateNumber = strings.TrimSpace(in.PlateNumber)
	if utils.NormalizePlate(in.PlateNumber) == "" {
		return admin.Vehicle{}, fmt.Errorf("%w: plateNumber is required", ErrInvalidInput)
	}
	in.Brand = strings.TrimSpace(in.Brand)
	in.Model = strings.TrimSpace(in.Model)
	in.Type = strings.TrimSpace(in.Type)

	if in.DriverID != nil {
		if _, err := s.repo.GetDriver(ctx, *in.DriverID); err != nil {
			if mapRepoError(err) == ErrNotFound {
				return admin.Vehicle{}, fmt.Errorf("%w: driver %d does not exist", ErrInvalidInput, *in.DriverID)
			}
			return admin.Vehicle{}, err
		}
	}

	vehicle, err := s.repo.UpsertVehicle(ctx, in)
	if err != nil {
		return admin.Vehicle{}, mapRepoError(err)
	}
	s.log.Info().Int64("vehicle_id", vehicle.ID).Str("plate", vehicle.PlateNumber).Msg("vehicle saved")
	return vehicle, nil
}

func (s *AdminService) DeleteVehicle(ctx context.Context, id int64) error {
	return mapRepoError(s.repo.DeactivateVehicle(ctx, id))
}

func (s *AdminService) ListBrands(ctx context.Context) ([]string, error) {
	return s.repo.ListBrands(ctx)
}

func (s *AdminService) ListUsers(ctx context.Context) ([]admin.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *AdminService) UpsertUser(ctx context.Context, in admin.UserInput) (admin.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	if in.Name == "" || in.Username == "" {
		return admin.User{}, fmt.Errorf("%w: name and username are required", ErrInvalidInput)
	}
	if in.UserID == nil && in.Password == "" {
		return admin.User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	var hash string
	if in.Password != "" {
		h, err := hashPassword(in.Password)
		if err != nil {
			return admin.User{}, err
		}
		hash = h
	}

	user, err := s.repo.UpsertUser(ctx, in.UserID, in.Name, in.Username, hash)
	if err != nil {
		return admin.User{}, mapRepoError(err)
	}
	s.log.Info().Int64("user_id", user.UserID).Str("username", user.Username).Msg("user saved")
	return user, nil
}

func (s *AdminService) UpdatePassword(ctx context.Context, id int64, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return mapRepoError(s.repo.UpdatePassword(ctx, id, hash))
}

func (s *AdminService) DeleteUser(ctx context.Context, id int64) error {
	return mapRepoError(s.repo.DeactivateUser(ctx, id))
}

func (s *AdminService) ListAPIKeys(ctx context.Context) ([]admin.APIKey, error) {
	return s.credentials.List(ctx)
}

func (s *AdminService) UpsertAPIKey(ctx context.Context, in admin.APIKeyInput) (admin.APIKey, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	in.SecretKey = strings.TrimSpace(in.SecretKey)
	if in.Identifier == "" {
		return admin.APIKey{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}

	key, err := s.credentials.Upsert(ctx, in)
	if err != nil {
		return admin.APIKey{}, mapRepoError(err)
	}
	s.log.Info().Str("credential", key.Identifier).Bool("active", key.Active).Msg("api key saved")
	return key, nil
}

func (s *AdminService) DeactivateAPIKey(ctx context.Context, identifier string) error {
	return mapRepoError(s.credentials.Deactivate(ctx, identifier))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
