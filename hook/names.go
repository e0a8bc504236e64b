package hook

// Hook names used by the core. Plugins may fire and observe their own names
// as well.
const (
	// Locale filters the site locale: (locale string).
	Locale = "locale"
	// PluginLocale filters the locale used for a plugin text domain: (locale, domain).
	PluginLocale = "plugin_locale"
	// ThemeLocale filters the locale used for a theme text domain: (locale, domain).
	ThemeLocale = "theme_locale"
	// LoadTextdomainMofile filters the catalog path before loading: (mofile, domain).
	LoadTextdomainMofile = "load_textdomain_mofile"
	// LoadTextdomain fires after a catalog was loaded: (domain, mofile).
	LoadTextdomain = "load_textdomain"

	// AdminMenu filters the admin menu items: ([]menu.Item).
	AdminMenu = "admin_menu"
	// AdminMenuLink filters a rendered admin menu link: (html, menu.Item).
	AdminMenuLink = "admin_menu_link"

	// PluginsURL filters a plugin URL: (url, path, pluginFile).
	PluginsURL = "plugins_url"

	ActivatePlugin    = "activate_plugin"
	ActivatedPlugin   = "activated_plugin"
	DeactivatePlugin  = "deactivate_plugin"
	DeactivatedPlugin = "deactivated_plugin"

	// PluginsLoaded fires once every active plugin has been booted.
	PluginsLoaded = "plugins_loaded"
	// Init fires when the application finished bootstrapping.
	Init = "init"
)

// customHookLabel is the metric label shared by hooks outside the core set.
const customHookLabel = "custom"

var coreHooks = map[string]bool{
	Locale:               true,
	PluginLocale:         true,
	ThemeLocale:          true,
	LoadTextdomainMofile: true,
	LoadTextdomain:       true,
	AdminMenu:            true,
	AdminMenuLink:        true,
	PluginsURL:           true,
	ActivatePlugin:       true,
	ActivatedPlugin:      true,
	DeactivatePlugin:     true,
	DeactivatedPlugin:    true,
	PluginsLoaded:        true,
	Init:                 true,
}

// metricHookName keeps plugin-chosen names out of metric labels.
func metricHookName(name string) string {
	if coreHooks[name] {
		return name
	}
	return customHookLabel
}
