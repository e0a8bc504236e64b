package i18n

import (
	"context"

	"go-cms/hook"
)

// Source names a text domain and the locale directory its catalogs live in.
type Source struct {
	Domain string
	Dir    string
}

// LoadCoreTextdomain loads the application catalog from localeDir for the
// site locale.
func (t *Translator) LoadCoreTextdomain(ctx context.Context, localeDir string) bool {
	return t.loadFromDir(ctx, CoreDomain, localeDir, t.Locale(ctx))
}

// LoadThemeTextdomain loads a theme catalog. The locale passes through the
// theme_locale filter with the domain as argument.
func (t *Translator) LoadThemeTextdomain(ctx context.Context, domain, localeDir string) bool {
	locale := NormalizeLocale(hook.Apply(ctx, t.hooks, hook.ThemeLocale, t.Locale(ctx), domain))
	return t.loadFromDir(ctx, domain, localeDir, locale)
}

// LoadPluginTextdomain loads a plugin catalog. The locale passes through the
// plugin_locale filter with the domain as argument.
func (t *Translator) LoadPluginTextdomain(ctx context.Context, domain, localeDir string) bool {
	locale := NormalizeLocale(hook.Apply(ctx, t.hooks, hook.PluginLocale, t.Locale(ctx), domain))
	return t.loadFromDir(ctx, domain, localeDir, locale)
}

func (t *Translator) loadFromDir(ctx context.Context, domain, dir, locale string) bool {
	if domain == "" || dir == "" {
		return false
	}
	for _, candidate := range localeCandidates(locale) {
		if t.LoadTextdomain(ctx, domain, MofilePath(dir, candidate, domain)) {
			return true
		}
	}
	return false
}

// Bootstrap loads the core catalog, then the theme, then every plugin, in
// that order. It returns the domains that had a catalog.
func (t *Translator) Bootstrap(ctx context.Context, coreDir string, theme *Source, plugins []Source) []string {
	var loaded []string

	if t.LoadCoreTextdomain(ctx, coreDir) {
		loaded = append(loaded, CoreDomain)
	}
	if theme != nil && t.LoadThemeTextdomain(ctx, theme.Domain, theme.Dir) {
		loaded = append(loaded, theme.Domain)
	}
	for _, p := range plugins {
		if t.LoadPluginTextdomain(ctx, p.Domain, p.Dir) {
			loaded = append(loaded, p.Domain)
		}
	}

	t.log.Infof("Loaded %d text domains for locale %s", len(loaded), t.Locale(ctx))
	return loaded
}
