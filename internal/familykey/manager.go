package familykey

import (
	"fmt"
	"strings"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/kvstore"
)

const storagePrefix = "familyKey:"

// StorageKey returns the key-value store key for a family.
func StorageKey(familyID string) string {
	return storagePrefix + familyID
}

// Manager keeps one family key per family id.
type Manager struct {
	store kvstore.Store
}

func NewManager(store kvstore.Store) *Manager {
	return &Manager{store: store}
}

// InitializeFamilyKey imports a base64 family key and stores it for the family.
func (m *Manager) InitializeFamilyKey(base64Key, familyID string) (*Key, error) {
	if err := validateFamilyID(familyID); err != nil {
		return nil, err
	}
	key, err := ImportFamilyKey(base64Key)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(StorageKey(familyID), key.Base64()); err != nil {
		return nil, fmt.Errorf("storing family key for %s: %w", familyID, err)
	}
	return key, nil
}

// GetFamilyKey returns the family's key handle, or nil if none is stored.
func (m *Manager) GetFamilyKey(familyID string) (*Key, error) {
	encoded, err := m.GetFamilyKeyBase64(familyID)
	if err != nil || encoded == "" {
		return nil, err
	}
	return ImportFamilyKey(encoded)
}

// GetFamilyKeyBase64 returns the family's key re-exported as base64, or "" if none is stored.
func (m *Manager) GetFamilyKeyBase64(familyID string) (string, error) {
	if err := validateFamilyID(familyID); err != nil {
		return "", err
	}
	encoded, ok, err := m.store.Get(StorageKey(familyID))
	if err != nil {
		return "", fmt.Errorf("reading family key for %s: %w", familyID, err)
	}
	if !ok {
		return "", nil
	}
	return encoded, nil
}

// ClearFamilyKey removes one family's key, or every family key when familyID is empty.
func (m *Manager) ClearFamilyKey(familyID string) error {
	if familyID != "" {
		if err := m.store.Delete(StorageKey(familyID)); err != nil {
			return fmt.Errorf("clearing family key for %s: %w", familyID, err)
		}
		return nil
	}

	keys, err := m.store.Keys(storagePrefix)
	if err != nil {
		return fmt.Errorf("listing family keys: %w", err)
	}
	for _, k := range keys {
		if err := m.store.Delete(k); err != nil {
			return fmt.Errorf("clearing %s: %w", k, err)
		}
	}
	return nil
}

// FamilyIDs lists families with a locally stored key.
func (m *Manager) FamilyIDs() ([]string, error) {
	keys, err := m.store.Keys(storagePrefix)
	if err != nil {
		return nil, fmt.Errorf("listing family keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, storagePrefix))
	}
	return ids, nil
}

func validateFamilyID(familyID string) error {
	if strings.TrimSpace(familyID) == "" {
		return fmt.Errorf("family id must not be empty: %w", kerrors.ErrInvalidFamilyID)
	}
	return nil
}
