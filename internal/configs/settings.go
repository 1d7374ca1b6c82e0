package configs

import (
	"os"
	"path/filepath"

	"github.com/PolarWolf314/whanau/internal/utils"
)

const appName = "whanau"

// UserSettings holds the per-user locations whanau reads and writes.
type UserSettings struct {
	ConfigDir string
	DataDir   string
	Username  string
}

// UserWhanauSettings is resolved once at startup. Tests may repoint it.
var UserWhanauSettings *UserSettings

func init() {
	UserWhanauSettings = ResolveUserSettings()
}

// ResolveUserSettings applies WHANAU_CONFIG_DIR and WHANAU_DATA_DIR over the XDG defaults.
func ResolveUserSettings() *UserSettings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}

	configDir := os.Getenv("WHANAU_CONFIG_DIR")
	if configDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = filepath.Join(homeDir, ".config")
		}
		configDir = filepath.Join(base, appName)
	}

	dataDir := os.Getenv("WHANAU_DATA_DIR")
	if dataDir == "" {
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			base = filepath.Join(homeDir, ".local", "share")
		}
		dataDir = filepath.Join(base, appName)
	}

	username, err := utils.GetUsername()
	if err != nil {
		username = "unknown"
	}

	return &UserSettings{
		ConfigDir: configDir,
		DataDir:   dataDir,
		Username:  username,
	}
}

func (s *UserSettings) ConfigPath() string {
	return filepath.Join(s.ConfigDir, "config.toml")
}

// KeystorePath is the SQLite database holding sealed private keys.
func (s *UserSettings) KeystorePath() string {
	return filepath.Join(s.DataDir, "keystore.db")
}

// FamilyKeysPath is the bolt database holding sealed family keys.
func (s *UserSettings) FamilyKeysPath() string {
	return filepath.Join(s.DataDir, "familykeys.db")
}

func (s *UserSettings) SessionDir() string {
	return filepath.Join(s.DataDir, "session")
}

func (s *UserSettings) AuditLogPath() string {
	return filepath.Join(s.DataDir, "audit.jsonl")
}
