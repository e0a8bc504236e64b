package main

import (
	"archive/zip"
	"bufio"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"go-cms/plugin"
)

const (
	BackupFormatVersion = 1
	AppVersion          = "1.0.0"
)

// Backup archive members.
const (
	backupManifestFile = "manifest.json"
	backupSQLFile      = "database.sql"
	backupPluginsFile  = "plugins.json"
	backupPluginsDir   = "plugins/"
)

// maxRestoreLine bounds one INSERT in database.sql. Hex doubles the size of
// stored values.
const maxRestoreLine = 64 << 20

// BackupManifest is stored as manifest.json at the archive root.
type BackupManifest struct {
	FormatVersion int           `json:"format_version"`
	AppVersion    string        `json:"app_version"`
	CreatedAt     time.Time     `json:"created_at"`
	Platform      string        `json:"platform"`
	Summary       BackupSummary `json:"summary"`
	Excluded      []string      `json:"excluded"`
}

// BackupSummary counts what an archive holds.
type BackupSummary struct {
	ActivePlugins int `json:"active_plugins"`
	PluginOptions int `json:"plugin_options"`
	Settings      int `json:"settings"`
	PluginFiles   int `json:"plugin_files"`
}

// Settings whose key contains one of these words stay out of backups.
var secretSettingWords = []string{
	"api_key",
	"secret",
	"password",
	"token",
}

func isSecretSetting(key string) bool {
	key = strings.ToLower(key)
	return slices.ContainsFunc(secretSettingWords, func(word string) bool {
		return strings.Contains(key, word)
	})
}

// exportTableToSQL writes one INSERT statement per row of table. Rows for
// which skip returns true are left out.
func exportTableToSQL(db *sql.DB, table string, w io.Writer, skip func(map[string]any) bool) (int, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to get columns for %s: %w", table, err)
	}

	count := 0
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return count, fmt.Errorf("failed to scan row in %s: %w", table, err)
		}

		row := make(map[string]any, len(columns))
		literals := make([]string, len(columns))
		for i, col := range columns {
			row[col] = values[i]
			literals[i] = formatSQLValue(values[i])
		}
		if skip != nil && skip(row) {
			continue
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);\n",
			table, strings.Join(columns, ", "), strings.Join(literals, ", "))
		if _, err := io.WriteString(w, stmt); err != nil {
			return count, fmt.Errorf("failed to write SQL: %w", err)
		}
		count++
	}

	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("error iterating rows in %s: %w", table, err)
	}
	return count, nil
}

// formatSQLValue renders v as an SQLite literal. Text is hex encoded so no
// statement in the dump carries a raw quote, semicolon or newline.
func formatSQLValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(val)) + "'"
	case string:
		return textLiteral(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return textLiteral(val.UTC().Format(time.DateTime))
	default:
		return textLiteral(fmt.Sprint(val))
	}
}

func textLiteral(s string) string {
	return "CAST(X'" + strings.ToUpper(hex.EncodeToString([]byte(s))) + "' AS TEXT)"
}

// CreateBackup writes a ZIP with activation records, plugin options,
// non-sensitive settings and the plugin files to destPath.
func (a *App) CreateBackup(destPath string) (*BackupManifest, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	manifest := &BackupManifest{
		FormatVersion: BackupFormatVersion,
		AppVersion:    AppVersion,
		CreatedAt:     time.Now().UTC(),
		Platform:      runtime.GOOS,
	}

	records, err := a.pluginStore.Records(a.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read activation records: %w", err)
	}
	if err := writeZipJSON(zw, backupPluginsFile, records); err != nil {
		return nil, err
	}
	manifest.Summary.ActivePlugins = len(records)

	sqlWriter, err := zw.Create(backupSQLFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", backupSQLFile, err)
	}
	if err := a.exportDatabaseToSQL(sqlWriter, manifest); err != nil {
		return nil, fmt.Errorf("failed to export database: %w", err)
	}

	n, err := addDirToZip(zw, a.pluginsDir(), backupPluginsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to add plugin files: %w", err)
	}
	manifest.Summary.PluginFiles = n

	if err := writeZipJSON(zw, backupManifestFile, manifest); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish ZIP: %w", err)
	}

	a.log.Infof("Created backup %s (%d active plugins, %d plugin files)",
		destPath, manifest.Summary.ActivePlugins, manifest.Summary.PluginFiles)
	return manifest, nil
}

func (a *App) exportDatabaseToSQL(w io.Writer, manifest *BackupManifest) error {
	fmt.Fprintf(w, "-- go-cms backup\n-- Created: %s\n-- Format version: %d\n\n",
		manifest.CreatedAt.Format(time.RFC3339), BackupFormatVersion)

	io.WriteString(w, "-- Table: settings\n")
	count, err := exportTableToSQL(a.db, "settings", w, func(row map[string]any) bool {
		key, _ := row["key"].(string)
		if b, ok := row["key"].([]byte); ok {
			key = string(b)
		}
		if isSecretSetting(key) {
			manifest.Excluded = append(manifest.Excluded, key)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	manifest.Summary.Settings = count

	io.WriteString(w, "\n-- Table: plugin_options\n")
	count, err = exportTableToSQL(a.db, "plugin_options", w, nil)
	if err != nil {
		return err
	}
	manifest.Summary.PluginOptions = count
	return nil
}

func writeZipJSON(zw *zip.Writer, name string, v any) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// addDirToZip adds every regular file below srcDir under prefix.
func addDirToZip(zw *zip.Writer, srcDir, prefix string) (int, error) {
	count := 0
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		writer, err := zw.Create(prefix + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := io.Copy(writer, file); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// ValidateBackup reads the manifest of the archive at backupPath.
func ValidateBackup(backupPath string) (*BackupManifest, error) {
	r, err := zip.OpenReader(backupPath)
	if err != nil {
		return nil, fmt.Errorf("invalid backup file: %w", err)
	}
	defer r.Close()

	var manifest BackupManifest
	if err := readZipJSON(&r.Reader, backupManifestFile, &manifest); err != nil {
		return nil, fmt.Errorf("this doesn't appear to be a go-cms backup: %w", err)
	}
	return &manifest, nil
}

func findZipFile(r *zip.Reader, name string) *zip.File {
	for _, f := range r.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readZipJSON(r *zip.Reader, name string, v any) error {
	f := findZipFile(r, name)
	if f == nil {
		return fmt.Errorf("missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// RestoreBackup replaces activation records, plugin options, settings and
// plugin files with the contents of a backup, then reloads plugins.
func (a *App) RestoreBackup(backupPath string) error {
	manifest, err := ValidateBackup(backupPath)
	if err != nil {
		return err
	}
	if manifest.FormatVersion > BackupFormatVersion {
		a.log.Warnf("Backup format version %d is newer than supported %d", manifest.FormatVersion, BackupFormatVersion)
	}

	r, err := zip.OpenReader(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer r.Close()

	var records []plugin.Record
	if err := readZipJSON(&r.Reader, backupPluginsFile, &records); err != nil {
		return fmt.Errorf("backup is corrupted: %w", err)
	}
	sqlFile := findZipFile(&r.Reader, backupSQLFile)
	if sqlFile == nil {
		return fmt.Errorf("backup is corrupted (missing %s)", backupSQLFile)
	}

	if a.watcherManager != nil {
		a.watcherManager.Stop()
	}
	a.pluginManager.Shutdown()

	if err := a.restoreTables(sqlFile); err != nil {
		return err
	}
	if err := a.pluginStore.Replace(a.ctx, records); err != nil {
		return fmt.Errorf("failed to restore activation records: %w", err)
	}
	if err := a.restorePluginFiles(&r.Reader); err != nil {
		return err
	}

	if err := a.pluginManager.LoadActive(a.ctx); err != nil {
		a.log.Warnf("Failed to reload plugins: %v", err)
	}
	if a.watcherManager != nil {
		a.startWatcher()
	}

	a.log.Infof("Restored backup %s (%d active plugins)", backupPath, len(records))
	return nil
}

// restoreTables replays database.sql, one statement per line, in a single
// transaction over emptied settings and plugin_options tables.
func (a *App) restoreTables(sqlFile *zip.File) error {
	src, err := sqlFile.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", backupSQLFile, err)
	}
	defer src.Close()

	tx, err := a.db.BeginTx(a.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"settings", "plugin_options"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxRestoreLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if _, err := tx.Exec(line); err != nil {
			a.log.Warnf("Failed to execute restore statement: %v", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", backupSQLFile, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}
	return nil
}

func (a *App) restorePluginFiles(r *zip.Reader) error {
	pluginsDir := a.pluginsDir()
	if err := os.RemoveAll(pluginsDir); err != nil {
		a.log.Warnf("Failed to clear plugins directory: %v", err)
	}
	if err := os.MkdirAll(pluginsDir, 0755); err != nil {
		return fmt.Errorf("failed to create plugins directory: %w", err)
	}

	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, backupPluginsDir) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		dest := filepath.Join(pluginsDir, filepath.FromSlash(strings.TrimPrefix(f.Name, backupPluginsDir)))
		if err := extractPluginFile(f, dest, pluginsDir); err != nil {
			a.log.Warnf("Failed to extract plugin file %s: %v", f.Name, err)
		}
	}
	return nil
}

// extractPluginFile writes archive member f to dest, which must resolve
// below root.
func extractPluginFile(f *zip.File, dest, root string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(dest))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("archive member %s escapes %s (path traversal)", f.Name, root)
	}
	target := filepath.Join(root, rel)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
