// Package theme reads theme metadata from theme.yaml files.
package theme

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetadataFile is the file every theme directory carries.
const MetadataFile = "theme.yaml"

var (
	// ErrThemeNotFound is returned when the theme directory or its metadata is missing.
	ErrThemeNotFound = errors.New("theme not found")

	// ErrInvalidTheme is returned when theme.yaml cannot be parsed or lacks a name.
	ErrInvalidTheme = errors.New("invalid theme")
)

// Theme describes an installed theme.
type Theme struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
	Author      string `yaml:"author" json:"author"`
	TextDomain  string `yaml:"text_domain" json:"text_domain"`
	DomainPath  string `yaml:"domain_path" json:"domain_path"`

	Slug string `yaml:"-" json:"slug"`
	Dir  string `yaml:"-" json:"-"`
}

// Load reads <themesDir>/<slug>/theme.yaml.
func Load(themesDir, slug string) (*Theme, error) {
	if slug == "" || slug != filepath.Base(slug) || strings.HasPrefix(slug, ".") {
		return nil, fmt.Errorf("%w: %q", ErrThemeNotFound, slug)
	}
	dir := filepath.Join(themesDir, slug)
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrThemeNotFound, slug)
		}
		return nil, fmt.Errorf("failed to read theme %s: %w", slug, err)
	}

	var t Theme
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTheme, slug, err)
	}
	if t.Name == "" {
		return nil, fmt.Errorf("%w: %s: missing name", ErrInvalidTheme, slug)
	}
	if t.TextDomain == "" {
		t.TextDomain = slug
	}
	if t.DomainPath == "" {
		t.DomainPath = "locale"
	}
	t.Slug = slug
	t.Dir = dir
	return &t, nil
}

// List returns every loadable theme below themesDir, sorted by slug.
// Directories without valid metadata are skipped.
func List(themesDir string) ([]*Theme, error) {
	entries, err := os.ReadDir(themesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var themes []*Theme
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		t, err := Load(themesDir, entry.Name())
		if err != nil {
			continue
		}
		themes = append(themes, t)
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].Slug < themes[j].Slug })
	return themes, nil
}

// LocaleDir returns the directory holding the theme catalogs.
func (t *Theme) LocaleDir() string {
	return filepath.Join(t.Dir, filepath.FromSlash(t.DomainPath))
}
