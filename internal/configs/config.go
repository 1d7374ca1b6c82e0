package configs

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Family roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type UserConfig struct {
	User     User                        `toml:"user"`
	Server   Server                      `toml:"server"`
	Families map[string]FamilyMembership `toml:"families"`
}

type User struct {
	Email  string `toml:"email"`
	UserID string `toml:"user_id"`
	Device string `toml:"device"`
}

// Server says where public keys and invites are exchanged.
// URL takes precedence over Directory when both are set.
type Server struct {
	Directory string `toml:"directory"`
	URL       string `toml:"url"`
}

type FamilyMembership struct {
	Name          string    `toml:"name"`
	Role          string    `toml:"role"`
	JoinedAt      time.Time `toml:"joined_at"`
	InvitesIssued int       `toml:"invites_issued,omitempty"`
}

// LoadUserConfig loads the user configuration from the default location.
func LoadUserConfig() (*UserConfig, error) {
	return LoadUserConfigFrom(UserWhanauSettings.ConfigPath())
}

// LoadUserConfigFrom loads a user configuration. A missing file yields an empty config.
func LoadUserConfigFrom(configPath string) (*UserConfig, error) {
	config := &UserConfig{
		Families: make(map[string]FamilyMembership),
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, nil
	}

	if err := LoadTOML(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if config.Families == nil {
		config.Families = make(map[string]FamilyMembership)
	}

	return config, nil
}

// SaveUserConfig saves the user configuration to the default location.
func SaveUserConfig(config *UserConfig) error {
	return SaveUserConfigTo(UserWhanauSettings.ConfigPath(), config)
}

func SaveUserConfigTo(configPath string, config *UserConfig) error {
	if err := SaveTOML(configPath, config); err != nil {
		return fmt.Errorf("failed to save user config: %w", err)
	}
	return nil
}

// GenerateUserID generates a new id for a user.
func GenerateUserID() string {
	return uuid.New().String()
}

// GenerateFamilyID generates a new id for a family.
func GenerateFamilyID() string {
	return uuid.New().String()
}

// EnsureUserConfig loads the config at configPath, assigning and saving a user id if it has none.
func EnsureUserConfig(configPath string) (*UserConfig, error) {
	config, err := LoadUserConfigFrom(configPath)
	if err != nil {
		return nil, err
	}

	if config.User.UserID == "" {
		config.User.UserID = GenerateUserID()
		if err := SaveUserConfigTo(configPath, config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// AddFamily records membership of a family. An existing entry is replaced.
func (c *UserConfig) AddFamily(familyID, name, role string, joinedAt time.Time) {
	if c.Families == nil {
		c.Families = make(map[string]FamilyMembership)
	}
	c.Families[familyID] = FamilyMembership{Name: name, Role: role, JoinedAt: joinedAt.UTC()}
}

// RemoveFamily forgets a family membership.
func (c *UserConfig) RemoveFamily(familyID string) {
	delete(c.Families, familyID)
}

// RecordInvite counts an invite issued for a family the user belongs to.
func (c *UserConfig) RecordInvite(familyID string) {
	f, ok := c.Families[familyID]
	if !ok {
		return
	}
	f.InvitesIssued++
	c.Families[familyID] = f
}

// FamilyIDByName returns the id of the family with the given name.
func (c *UserConfig) FamilyIDByName(name string) (string, bool) {
	for id, f := range c.Families {
		if f.Name == name {
			return id, true
		}
	}
	return "", false
}

// ResolveFamily accepts either a family id or a family name.
func (c *UserConfig) ResolveFamily(idOrName string) (string, bool) {
	if _, ok := c.Families[idOrName]; ok {
		return idOrName, true
	}
	return c.FamilyIDByName(idOrName)
}

// SortedFamilyIDs returns family ids ordered by join time, oldest first.
func (c *UserConfig) SortedFamilyIDs() []string {
	ids := make([]string, 0, len(c.Families))
	for id := range c.Families {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.Families[ids[i]], c.Families[ids[j]]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}
