package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Empty directories are derived from
// DataDir.
type Config struct {
	DataDir        string              `yaml:"data_dir"`
	Listen         string              `yaml:"listen"`
	BaseURL        string              `yaml:"base_url"`
	Locale         string              `yaml:"locale"`
	Theme          string              `yaml:"theme"`
	PluginsDir     string              `yaml:"plugins_dir"`
	ThemesDir      string              `yaml:"themes_dir"`
	LocaleDir      string              `yaml:"locale_dir"`
	AllowedOrigins []string            `yaml:"allowed_origins"`
	Roles          map[string][]string `yaml:"roles"`
	Users          map[string]string   `yaml:"users"`
	Debug          bool                `yaml:"debug"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:         "127.0.0.1:8989",
		BaseURL:        "http://localhost:8989",
		Locale:         "en_US",
		Theme:          "default",
		AllowedOrigins: []string{"*"},
		Roles: map[string][]string{
			"administrator": {"read", "edit_posts", "manage_options", "manage_plugins", "switch_themes"},
			"editor":        {"read", "edit_posts"},
			"subscriber":    {"read"},
		},
		Users: map[string]string{
			"admin": "administrator",
		},
	}
}

// LoadConfig reads path over the defaults, applies CMS_* environment
// overrides and fills derived directories. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			// users and roles from the file replace the defaults
			cfg.Users, cfg.Roles = nil, nil
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			defaults := DefaultConfig()
			if cfg.Users == nil {
				cfg.Users = defaults.Users
			}
			if cfg.Roles == nil {
				cfg.Roles = defaults.Roles
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if cfg.DataDir == "" {
		dir, err := getDataDir()
		if err != nil {
			return cfg, err
		}
		cfg.DataDir = dir
	}
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = filepath.Join(cfg.DataDir, "plugins")
	}
	if cfg.ThemesDir == "" {
		cfg.ThemesDir = filepath.Join(cfg.DataDir, "themes")
	}
	if cfg.LocaleDir == "" {
		cfg.LocaleDir = filepath.Join(cfg.DataDir, "locale")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CMS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CMS_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CMS_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CMS_LOCALE"); v != "" {
		c.Locale = v
	}
	if v := os.Getenv("CMS_THEME"); v != "" {
		c.Theme = v
	}
	if v := os.Getenv("CMS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}
	if v := os.Getenv("CMS_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CMS_DEBUG %q: %w", v, err)
		}
		c.Debug = debug
	}
	return nil
}
