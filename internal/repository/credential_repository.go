package repository

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gate-service/internal/domain/admin"
	"gate-service/internal/domain/gate"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// AcquireLeastUsed locks the active key with the lowest usage count, bumps
// its counter and returns it. Select and increment share one transaction.
func (r *CredentialRepository) AcquireLeastUsed(ctx context.Context) (gate.Credential, error) {
	var key APIKey
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("active = ?", true).
			Order("usage_count ASC").
			Order("identifier ASC").
			First(&key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveCredential
		}
		if err != nil {
			return err
		}

		err = tx.Model(&APIKey{}).
			Where("identifier = ?", key.Identifier).
			UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
		if err != nil {
			return err
		}
		key.UsageCount++
		return nil
	})
	if err != nil {
		return gate.Credential{}, err
	}
	return toCredential(key), nil
}

func (r *CredentialRepository) List(ctx context.Context) ([]admin.APIKey, error) {
	var keys []APIKey
	err := r.db.WithContext(ctx).
		Order("identifier ASC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}

	result := make([]admin.APIKey, 0, len(keys))
	for _, k := range keys {
		result = append(result, toAdminAPIKey(k))
	}
	return result, nil
}

// Upsert creates a key or updates display name, secret and active flag of an
// existing one. Usage counters are never reset.
func (r *CredentialRepository) Upsert(ctx context.Context, in admin.APIKeyInput) (admin.APIKey, error) {
	var key APIKey
	err := r.db.WithContext(ctx).Where("identifier = ?", in.Identifier).First(&key).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return admin.APIKey{}, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if in.SecretKey == "" {
			return admin.APIKey{}, ErrMissingSecret
		}
		key = APIKey{
			Identifier:  in.Identifier,
			DisplayName: in.DisplayName,
			SecretKey:   in.SecretKey,
			Active:      true,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if in.Active != nil {
			key.Active = *in.Active
		}
		if err := r.db.WithContext(ctx).Create(&key).Error; err != nil {
			return admin.APIKey{}, err
		}
		// gorm skips zero values with a default tag on create
		if !key.Active {
			if err := r.db.WithContext(ctx).Model(&key).UpdateColumn("active", false).Error; err != nil {
				return admin.APIKey{}, err
			}
		}
		return toAdminAPIKey(key), nil
	}

	updates := map[string]interface{}{
		"display_name": in.DisplayName,
		"updated_at":   time.Now(),
	}
	if in.SecretKey != "" {
		updates["secret_key"] = in.SecretKey
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}
	if err := r.db.WithContext(ctx).Model(&key).Updates(updates).Error; err != nil {
		return admin.APIKey{}, err
	}
	if err := r.db.WithContext(ctx).Where("identifier = ?", in.Identifier).First(&key).Error; err != nil {
		return admin.APIKey{}, err
	}
	return toAdminAPIKey(key), nil
}

func (r *CredentialRepository) Deactivate(ctx context.Context, identifier string) error {
	res := r.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("identifier = ?", identifier).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func toCredential(k APIKey) gate.Credential {
	return gate.Credential{
		Identifier:  k.Identifier,
		DisplayName: k.DisplayName,
		SecretKey:   k.SecretKey,
		UsageCount:  k.UsageCount,
		Active:      k.Active,
	}
}

func toAdminAPIKey(k APIKey) admin.APIKey {
	return admin.APIKey{
		Identifier:  k.Identifier,
		DisplayName: k.DisplayName,
		MaskedKey:   MaskSecret(k.SecretKey),
		UsageCount:  k.UsageCount,
		Active:      k.Active,
	}
}

// MaskSecret keeps the last four characters of a secret.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}

// MemoryCredentialStore holds credentials configured statically (ocr.api_keys).
// Usage counters live only for the lifetime of the process.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds []gate.Credential
}

func NewMemoryCredentialStore(creds []gate.Credential) *MemoryCredentialStore {
	copied := make([]gate.Credential, len(creds))
	copy(copied, creds)
	return &MemoryCredentialStore{creds: copied}
}

// NewMemoryCredentialStoreFromKeys builds a store from bare secrets; identifiers
// are assigned in order ("key-1", "key-2", ...).
func NewMemoryCredentialStoreFromKeys(keys []string) *MemoryCredentialStore {
	creds := make([]gate.Credential, 0, len(keys))
	for i, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		creds = append(creds, gate.Credential{
			Identifier: "key-" + strconv.Itoa(i+1),
			SecretKey:  k,
			Active:     true,
		})
	}
	return NewMemoryCredentialStore(creds)
}

func (s *MemoryCredentialStore) AcquireLeastUsed(_ context.Context) (gate.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for i, c := range s.creds {
		if !c.Active {
			continue
		}
		if best == -1 ||
			c.UsageCount < s.creds[best].UsageCount ||
			(c.UsageCount == s.creds[best].UsageCount && c.Identifier < s.creds[best].Identifier) {
			best = i
		}
	}
	if best == -1 {
		return gate.Credential{}, ErrNoActiveCredential
	}

	s.creds[best].UsageCount++
	return s.creds[best], nil
}

func (s *MemoryCredentialStore) Snapshot() []gate.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]gate.Credential, len(s.creds))
	copy(out, s.creds)
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
