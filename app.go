package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go-cms/hook"
	"go-cms/i18n"
	"go-cms/menu"
	"go-cms/plugin"
	"go-cms/theme"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setting keys that override the config file at runtime.
const (
	settingLocale = "locale"
	settingTheme  = "theme"
)

// App struct holds the application state
type App struct {
	ctx            context.Context
	cfg            Config
	log            *zap.SugaredLogger
	db             *sql.DB
	gdb            *gorm.DB
	hooks          *hook.Dispatcher
	translator     *i18n.Translator
	menu           *menu.Menu
	pluginStore    *plugin.Store
	pluginManager  *plugin.Manager
	theme          *theme.Theme
	domains        []string
	watcherManager *WatcherManager
}

// NewApp creates a new App instance
func NewApp(cfg Config, log *zap.SugaredLogger) *App {
	return &App{cfg: cfg, log: log}
}

// newLogger builds the process logger. Debug selects the development
// encoder.
func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.Sugar(), nil
}

// startup wires storage, hooks, translations, plugins, the theme and the
// admin menu, then fires init.
func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx

	db, gdb, err := initDB(a.cfg.DataDir, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.gdb = gdb

	a.hooks = hook.NewDispatcher(a.log)
	a.translator = i18n.NewTranslator(a.hooks, a.setting(settingLocale, a.cfg.Locale), a.log)
	a.menu = menu.New(a.hooks, a.log)

	store, err := plugin.NewStore(gdb)
	if err != nil {
		return err
	}
	a.pluginStore = store

	pm, err := plugin.NewManager(ctx, store, a.hooks, a.cfg.PluginsDir,
		plugin.WithLogger(a.log),
		plugin.WithBaseURL(a.cfg.BaseURL),
		plugin.WithTranslator(a.translator),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize plugin manager: %w", err)
	}
	a.pluginManager = pm

	a.loadTheme()
	a.bootstrapTranslations(ctx)

	// plugins load their own text domain while booting
	if err := pm.LoadActive(ctx); err != nil {
		a.log.Warnf("Failed to load plugins: %v", err)
	}
	for _, p := range pm.Loaded() {
		if a.translator.IsLoaded(p.TextDomain()) {
			a.domains = append(a.domains, p.TextDomain())
		}
	}

	a.registerCoreMenu()

	a.hooks.DoAction(ctx, hook.Init)
	return nil
}

// startWatcher rescans the plugins directory on change while serving.
func (a *App) startWatcher() {
	wm, err := NewWatcherManager(a)
	if err != nil {
		a.log.Warnf("Failed to initialize plugin watcher: %v", err)
		return
	}
	a.watcherManager = wm
	if err := wm.Start(); err != nil {
		a.log.Warnf("Failed to start plugin watcher: %v", err)
	}
}

// shutdown is called when the app is closing
func (a *App) shutdown() {
	// Shutdown plugins first
	if a.pluginManager != nil {
		a.pluginManager.Shutdown()
	}

	if a.watcherManager != nil {
		a.watcherManager.Stop()
	}

	if a.db != nil {
		a.db.Close()
	}
	a.log.Sync()
}

// setting returns the stored setting for key, or fallback when unset.
func (a *App) setting(key, fallback string) string {
	value, ok, err := getSetting(a.db, key)
	if err != nil {
		a.log.Warnf("Failed to read setting %s: %v", key, err)
		return fallback
	}
	if !ok || value == "" {
		return fallback
	}
	return value
}

func (a *App) loadTheme() {
	slug := a.setting(settingTheme, a.cfg.Theme)
	if slug == "" {
		return
	}
	t, err := theme.Load(a.cfg.ThemesDir, slug)
	if err != nil {
		a.log.Warnf("Failed to load theme %s: %v", slug, err)
		return
	}
	a.theme = t
	a.log.Infof("Using theme: %s v%s", t.Name, t.Version)
}

// bootstrapTranslations loads the core catalog, then the theme's. Plugin
// catalogs follow as each active plugin boots.
func (a *App) bootstrapTranslations(ctx context.Context) {
	var themeSource *i18n.Source
	if a.theme != nil {
		themeSource = &i18n.Source{Domain: a.theme.TextDomain, Dir: a.theme.LocaleDir()}
	}
	a.domains = a.translator.Bootstrap(ctx, a.cfg.LocaleDir, themeSource, nil)
}

// __ translates a core string.
func (a *App) __(msgid string) string {
	return a.translator.Gettext(i18n.CoreDomain, msgid)
}

func (a *App) registerCoreMenu() {
	a.menu.Add(menu.Item{Slug: "dashboard", Title: a.__("Dashboard"), URL: "/admin/", Capability: "read", Position: 2})
	a.menu.Add(menu.Item{Slug: "posts", Title: a.__("Posts"), URL: "/admin/posts", Capability: "edit_posts", Position: 5})
	a.menu.Add(menu.Item{Slug: "appearance", Title: a.__("Appearance"), URL: "/admin/themes", Capability: "switch_themes", Position: 60})
	a.menu.AddSubmenu("appearance", menu.Item{Slug: "themes", Title: a.__("Themes"), URL: "/admin/themes", Capability: "switch_themes"})
	a.menu.Add(menu.Item{Slug: "plugins", Title: a.__("Plugins"), URL: "/admin/plugins", Capability: "manage_plugins", Position: 65})
	a.menu.AddSubmenu("plugins", menu.Item{Slug: "plugins-installed", Title: a.__("Installed Plugins"), URL: "/admin/plugins", Capability: "manage_plugins"})
	a.menu.Add(menu.Item{Slug: "settings", Title: a.__("Settings"), URL: "/admin/settings", Capability: "manage_options", Position: 80})
}

// SetLocale stores the site locale. It applies on the next start.
func (a *App) SetLocale(locale string) error {
	return setSetting(a.db, settingLocale, i18n.NormalizeLocale(locale))
}

// SetTheme validates and stores the active theme. It applies on the next
// start.
func (a *App) SetTheme(slug string) error {
	if _, err := theme.Load(a.cfg.ThemesDir, slug); err != nil {
		return err
	}
	return setSetting(a.db, settingTheme, slug)
}

// Themes returns the installed themes.
func (a *App) Themes() ([]*theme.Theme, error) {
	return theme.List(a.cfg.ThemesDir)
}

func (a *App) pluginsDir() string {
	if a.pluginManager != nil {
		return a.pluginManager.PluginsDir()
	}
	return filepath.Clean(a.cfg.PluginsDir)
}
