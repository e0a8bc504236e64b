package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	writeTestPlugin(t, cfg, "greeter", "GreeterPlugin.lua", greeterPlugin)
	app := newTestApp(t, cfg)
	ctx := context.Background()

	_, err := NewPluginService(app).EnablePlugin(ctx, "GreeterPlugin")
	require.NoError(t, err)
	require.NoError(t, setSetting(app.db, "locale", "fr_FR"))
	require.NoError(t, setSetting(app.db, "smtp_password", "hunter2"))

	backupPath := filepath.Join(t.TempDir(), "backup.zip")
	manifest, err := app.CreateBackup(backupPath)
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Summary.ActivePlugins)
	assert.Equal(t, 1, manifest.Summary.PluginOptions)
	assert.Equal(t, 1, manifest.Summary.Settings)
	assert.Equal(t, 1, manifest.Summary.PluginFiles)
	assert.Equal(t, []string{"smtp_password"}, manifest.Excluded)

	validated, err := ValidateBackup(backupPath)
	require.NoError(t, err)
	assert.Equal(t, BackupFormatVersion, validated.FormatVersion)

	// diverge from the backup
	_, err = NewPluginService(app).DisablePlugin(ctx, "GreeterPlugin")
	require.NoError(t, err)
	require.NoError(t, deleteSetting(app.db, "locale"))
	require.NoError(t, os.RemoveAll(filepath.Join(app.pluginsDir(), "greeter")))

	require.NoError(t, app.RestoreBackup(backupPath))

	assert.FileExists(t, filepath.Join(app.pluginsDir(), "greeter", "GreeterPlugin.lua"))
	assert.True(t, app.pluginManager.IsActive(ctx, "GreeterPlugin"))
	require.Len(t, app.pluginManager.Loaded(), 1)

	assert.Equal(t, "fr_FR", app.setting("locale", ""))
	_, ok, err := getSetting(app.db, "smtp_password")
	require.NoError(t, err)
	assert.False(t, ok, "sensitive settings are not restored")

	var activated string
	require.NoError(t, app.db.QueryRow(
		"SELECT value FROM plugin_options WHERE class_name = ? AND key = ?", "GreeterPlugin", "activated",
	).Scan(&activated))
	assert.Equal(t, "yes", activated)
}

func TestValidateBackup_Invalid(t *testing.T) {
	dir := t.TempDir()

	notZip := filepath.Join(dir, "not.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("hello"), 0644))
	_, err := ValidateBackup(notZip)
	assert.ErrorContains(t, err, "invalid backup file")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err = zw.Create("other.txt")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	noManifest := filepath.Join(dir, "empty.zip")
	require.NoError(t, os.WriteFile(noManifest, buf.Bytes(), 0644))
	_, err = ValidateBackup(noManifest)
	assert.ErrorContains(t, err, "doesn't appear to be a go-cms backup")
}

func TestExtractZipFile_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("plugins/../../evil.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), "plugins")
	f := r.File[0]
	dest := filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(f.Name, backupPluginsDir)))
	err = extractPluginFile(f, dest, base)
	assert.ErrorContains(t, err, "path traversal")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(filepath.Dir(base)), "evil.txt"))
}

func TestFormatSQLValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"it's", "CAST(X'69742773' AS TEXT)"},
		{"", "CAST(X'' AS TEXT)"},
		{int64(42), "42"},
		{1.5, "1.5"},
		{true, "1"},
		{[]byte{0xde, 0xad}, "X'DEAD'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSQLValue(tt.in))
	}
}

func TestBackup_RoundTripPreservesAwkwardText(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	values := map[string]string{
		"site_footer": "a;\nb",
		"site_title":  "it's \"quoted\"; DROP TABLE settings;\n--",
		"site_motto":  "naïve ☕\r\n\ttabs",
		"site_empty":  "",
	}
	for key, value := range values {
		require.NoError(t, setSetting(app.db, key, value))
	}
	_, err := app.db.Exec(
		"INSERT INTO plugin_options (class_name, key, value) VALUES (?, ?, ?)",
		"GreeterPlugin", "note;\nkey", []byte("x;\ny"),
	)
	require.NoError(t, err)

	backupPath := filepath.Join(t.TempDir(), "backup.zip")
	_, err = app.CreateBackup(backupPath)
	require.NoError(t, err)

	for key := range values {
		require.NoError(t, deleteSetting(app.db, key))
	}
	require.NoError(t, app.RestoreBackup(backupPath))

	for key, want := range values {
		got, ok, err := getSetting(app.db, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	var value []byte
	require.NoError(t, app.db.QueryRow(
		"SELECT value FROM plugin_options WHERE class_name = ? AND key = ?", "GreeterPlugin", "note;\nkey",
	).Scan(&value))
	assert.Equal(t, "x;\ny", string(value))
}
