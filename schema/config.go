package schema

import (
	"errors"
	"strings"
)

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	// HomeRoot is the directory holding per-account homes.
	HomeRoot string
	// BaseURL is the public scheme://host for transfer links.
	BaseURL string
	// BasePath is an optional path prefix for transfer links.
	BasePath string
}

// NormalizeServiceConfig validates and normalizes a service config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	cfg.HomeRoot = strings.TrimSpace(cfg.HomeRoot)
	if cfg.HomeRoot == "" {
		return ServiceConfig{}, errors.New("home root is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.BasePath = strings.TrimSpace(cfg.BasePath)
	if cfg.BasePath != "" {
		if !strings.HasPrefix(cfg.BasePath, "/") {
			cfg.BasePath = "/" + cfg.BasePath
		}
		cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	}
	return cfg, nil
}
