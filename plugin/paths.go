package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"go-cms/hook"
)

// URL returns the public URL of path inside the plugin that owns
// pluginFile. Either argument may be empty. Paths containing ".." are
// dropped. The result is passed through the plugins_url filter.
func (m *Manager) URL(ctx context.Context, path, pluginFile string) string {
	url := m.baseURL + "/plugins"

	if pluginFile != "" {
		if rel := m.Basename(pluginFile); !filepath.IsAbs(rel) {
			if dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." {
				url += "/" + dir
			}
		}
	}

	if path != "" && !strings.Contains(path, "..") {
		url += "/" + strings.TrimLeft(path, "/")
	}

	return hook.Apply(ctx, m.hooks, hook.PluginsURL, url, path, pluginFile)
}

// Dir returns the directory of pluginFile with a trailing separator.
func (m *Manager) Dir(pluginFile string) string {
	return filepath.Dir(pluginFile) + string(filepath.Separator)
}

// Basename returns file relative to the plugins directory in slash form,
// e.g. hello/HelloPlugin.lua. Files outside the directory keep their
// full path.
func (m *Manager) Basename(file string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	rel, err := filepath.Rel(m.pluginsDir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}
