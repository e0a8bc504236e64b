package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearCMSEnv(t *testing.T) {
	for _, key := range []string{"CMS_DATA_DIR", "CMS_LISTEN", "CMS_BASE_URL", "CMS_LOCALE", "CMS_THEME", "CMS_ALLOWED_ORIGINS", "CMS_DEBUG"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearCMSEnv(t)
	dataDir := t.TempDir()
	t.Setenv("CMS_DATA_DIR", dataDir)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8989", cfg.Listen)
	assert.Equal(t, "en_US", cfg.Locale)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "plugins"), cfg.PluginsDir)
	assert.Equal(t, filepath.Join(dataDir, "themes"), cfg.ThemesDir)
	assert.Equal(t, filepath.Join(dataDir, "locale"), cfg.LocaleDir)
	assert.Equal(t, "administrator", cfg.Users["admin"])
	assert.False(t, cfg.Debug)
}

func TestLoadConfig_File(t *testing.T) {
	clearCMSEnv(t)
	dataDir := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+dataDir+`
listen: ":9000"
base_url: https://cms.example.com/
locale: pt_BR
plugins_dir: /srv/plugins
users:
  alice: editor
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "https://cms.example.com", cfg.BaseURL)
	assert.Equal(t, "pt_BR", cfg.Locale)
	assert.Equal(t, "/srv/plugins", cfg.PluginsDir)
	assert.Equal(t, filepath.Join(dataDir, "themes"), cfg.ThemesDir)
	assert.Equal(t, map[string]string{"alice": "editor"}, cfg.Users)
	assert.Equal(t, DefaultConfig().Roles, cfg.Roles)
}

func TestLoadConfig_UsersReplaceDefaults(t *testing.T) {
	clearCMSEnv(t)
	t.Setenv("CMS_DATA_DIR", t.TempDir())

	tests := []struct {
		name      string
		yaml      string
		wantUsers map[string]string
		wantRoles []string
	}{
		{
			name:      "users only",
			yaml:      "users:\n  bob: editor\n",
			wantUsers: map[string]string{"bob": "editor"},
			wantRoles: []string{"administrator", "editor", "subscriber"},
		},
		{
			name:      "roles only",
			yaml:      "roles:\n  author: [read, edit_posts]\n",
			wantUsers: map[string]string{"admin": "administrator"},
			wantRoles: []string{"author"},
		},
		{
			name:      "empty users",
			yaml:      "users: {}\n",
			wantUsers: map[string]string{},
			wantRoles: []string{"administrator", "editor", "subscriber"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUsers, cfg.Users)
			var roles []string
			for role := range cfg.Roles {
				roles = append(roles, role)
			}
			assert.ElementsMatch(t, tt.wantRoles, roles)
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearCMSEnv(t)
	t.Setenv("CMS_DATA_DIR", t.TempDir())
	t.Setenv("CMS_LISTEN", "0.0.0.0:80")
	t.Setenv("CMS_LOCALE", "de_DE")
	t.Setenv("CMS_ALLOWED_ORIGINS", "https://a.test, https://b.test,")
	t.Setenv("CMS_DEBUG", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:80", cfg.Listen)
	assert.Equal(t, "de_DE", cfg.Locale)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearCMSEnv(t)
	t.Setenv("CMS_DATA_DIR", t.TempDir())

	t.Run("invalid debug flag", func(t *testing.T) {
		t.Setenv("CMS_DEBUG", "maybe")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "CMS_DEBUG")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0644))
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "failed to parse config")
	})
}
