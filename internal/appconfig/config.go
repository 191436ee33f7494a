package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	HomeRoot      string         `mapstructure:"home_root" yaml:"home_root"`
	Identity      IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Worker        WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Transfer      TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// IdentityConfig configures OS account provisioning.
type IdentityConfig struct {
	UsernamePrefix string `mapstructure:"username_prefix" yaml:"username_prefix"`
	// LocalAccounts switches from system useradd/userdel to an in-process
	// account table. Useful for development without root.
	LocalAccounts bool `mapstructure:"local_accounts" yaml:"local_accounts"`
	LocalUIDBase  int  `mapstructure:"local_uid_base" yaml:"local_uid_base"`
}

// WorkerConfig configures the per-account worker processes.
type WorkerConfig struct {
	Binary                string   `mapstructure:"binary" yaml:"binary"`
	Args                  []string `mapstructure:"args" yaml:"args"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	IdleTimeoutMinutes    int      `mapstructure:"idle_timeout_minutes" yaml:"idle_timeout_minutes"`
	DropPrivileges        bool     `mapstructure:"drop_privileges" yaml:"drop_privileges"`
}

// TransferConfig configures download/upload session defaults.
type TransferConfig struct {
	DefaultTTLMinutes int `mapstructure:"default_ttl_minutes" yaml:"default_ttl_minutes"`
	MaxUploadMB       int `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// HTTPConfig configures the public transfer HTTP server.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		HomeRoot:      filepath.Join(home, ".workbay", "homes"),
		Identity: IdentityConfig{
			UsernamePrefix: "wb",
			LocalAccounts:  false,
			LocalUIDBase:   20000,
		},
		Worker: WorkerConfig{
			Binary:                "workbay-worker",
			Args:                  []string{},
			RequestTimeoutSeconds: 60,
			IdleTimeoutMinutes:    30,
			DropPrivileges:        true,
		},
		Transfer: TransferConfig{
			DefaultTTLMinutes: 60,
			MaxUploadMB:       100,
		},
		HTTP: HTTPConfig{
			Addr:     ":27490",
			BaseURL:  "",
			BasePath: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".workbay", "config.yaml"), nil
}
