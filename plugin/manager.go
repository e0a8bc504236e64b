package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go-cms/hook"

	"go.uber.org/zap"
)

// FileSuffix is the suffix of a plugin entry file, e.g. hello/HelloPlugin.lua.
const FileSuffix = "Plugin.lua"

// Translator is the part of the i18n translator plugins use.
type Translator interface {
	Gettext(domain, msgid string) string
	NGettext(domain, singular, plural string, n int) string
	LoadPluginTextdomain(ctx context.Context, domain, localeDir string) bool
	UnloadTextdomain(domain string) bool
}

// Plugin represents a discovered plugin
type Plugin struct {
	Class    string
	File     string // absolute path of the entry file
	Basename string // entry file relative to the plugins dir
	Manifest *Manifest

	// sandbox is set and cleared under Manager.mu while Manager.opMu is held.
	sandbox *Sandbox
}

// TextDomain returns the declared text domain, or the plugin directory name.
func (p *Plugin) TextDomain() string {
	if p.Manifest != nil && p.Manifest.TextDomain != "" {
		return p.Manifest.TextDomain
	}
	return filepath.Base(filepath.Dir(p.File))
}

// LocaleDir returns the directory holding the plugin catalogs.
func (p *Plugin) LocaleDir() string {
	domainPath := "locale"
	if p.Manifest != nil && p.Manifest.DomainPath != "" {
		domainPath = p.Manifest.DomainPath
	}
	return filepath.Join(filepath.Dir(p.File), filepath.FromSlash(strings.TrimLeft(domainPath, "/")))
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithBaseURL sets the site URL plugin URLs are built from.
func WithBaseURL(baseURL string) Option {
	return func(m *Manager) { m.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithTranslator sets the translator used for plugin text domains.
func WithTranslator(t Translator) Option {
	return func(m *Manager) { m.translator = t }
}

// Manager discovers plugins and drives their activation lifecycle.
type Manager struct {
	ctx        context.Context
	store      *Store
	db         *sql.DB
	hooks      *hook.Dispatcher
	translator Translator
	log        *zap.SugaredLogger
	scheduler  *Scheduler
	notices    *Notices
	pluginsDir string
	baseURL    string

	opMu       sync.Mutex // serializes Activate/Deactivate
	mu         sync.RWMutex
	discovered map[string]*Plugin
	loaded     map[string]*Plugin
}

// NewManager creates a new plugin manager
func NewManager(ctx context.Context, store *Store, hooks *hook.Dispatcher, pluginsDir string, opts ...Option) (*Manager, error) {
	// Ensure plugins directory exists
	if err := os.MkdirAll(pluginsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}
	absDir, err := filepath.Abs(pluginsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugins directory: %w", err)
	}

	m := &Manager{
		ctx:        ctx,
		store:      store,
		hooks:      hooks,
		log:        zap.NewNop().Sugar(),
		pluginsDir: absDir,
		discovered: make(map[string]*Plugin),
		loaded:     make(map[string]*Plugin),
		notices:    &Notices{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scheduler = NewScheduler(ctx, m.log)

	db, err := store.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	m.db = db

	return m, nil
}

// PluginsDir returns the absolute plugins directory.
func (m *Manager) PluginsDir() string {
	return m.pluginsDir
}

// Discover scans the plugins directory for */*Plugin.lua files and reads
// their manifests. Loaded plugins keep their running instance.
func (m *Manager) Discover() ([]*Plugin, error) {
	files, err := filepath.Glob(filepath.Join(m.pluginsDir, "*", "*"+FileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to scan plugins: %w", err)
	}
	sort.Strings(files)

	found := make(map[string]*Plugin, len(files))
	for _, file := range files {
		manifest, err := ReadManifest(file)
		if err != nil {
			m.log.Warnf("Skipping plugin %s: %v", file, err)
			continue
		}

		class := manifest.Class
		if class == "" {
			class = strings.TrimSuffix(filepath.Base(file), ".lua")
		}
		if _, dup := found[class]; dup {
			m.log.Warnf("Skipping plugin %s: class %s already provided by %s", file, class, found[class].File)
			continue
		}

		found[class] = &Plugin{
			Class:    class,
			File:     file,
			Basename: m.Basename(file),
			Manifest: manifest,
		}
	}

	m.mu.Lock()
	for class, p := range m.loaded {
		found[class] = p
	}
	m.discovered = found
	m.mu.Unlock()

	return m.Plugins(), nil
}

// Notices returns the admin notice queue plugins write to.
func (m *Manager) Notices() *Notices {
	return m.notices
}

// Plugins returns the discovered plugins sorted by class name.
func (m *Manager) Plugins() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.discovered))
	for _, p := range m.discovered {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Class < plugins[j].Class })
	return plugins
}

// Get returns the discovered plugin with the class name.
func (m *Manager) Get(class string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.discovered[class]
	return p, ok
}

// Loaded returns the plugins currently running, sorted by class name.
func (m *Manager) Loaded() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.loaded))
	for _, p := range m.loaded {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Class < plugins[j].Class })
	return plugins
}

// IsLoaded reports whether class has a running sandbox.
func (m *Manager) IsLoaded(class string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.loaded[class]
	return ok && p.sandbox != nil
}

// IsActive reports whether an activation record exists for class. Storage
// errors are logged and reported as inactive.
func (m *Manager) IsActive(ctx context.Context, class string) bool {
	n, err := m.store.Count(ctx, class)
	if err != nil {
		m.log.Errorf("Failed to check plugin %s: %v", class, err)
		return false
	}
	return n > 0
}

// ActiveClasses returns the class names with an activation record.
func (m *Manager) ActiveClasses(ctx context.Context) ([]string, error) {
	return m.store.ClassNames(ctx)
}

// Activate records class as active and boots it. Failures are logged and
// leave the plugin inactive.
func (m *Manager) Activate(ctx context.Context, class string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	p, ok := m.Get(class)
	if !ok {
		m.log.Warnf("Cannot activate %s: %v", class, ErrPluginNotFound)
		lifecycleTotal.WithLabelValues(opActivate, resultNotFound).Inc()
		return
	}
	if m.IsActive(ctx, class) {
		m.log.Infof("Plugin %s is already active", class)
		lifecycleTotal.WithLabelValues(opActivate, resultNoop).Inc()
		return
	}

	m.hooks.DoAction(ctx, hook.ActivatePlugin, class)

	if err := m.loadPlugin(ctx, p); err != nil {
		m.log.Errorf("Failed to load plugin %s: %v", class, err)
		lifecycleTotal.WithLabelValues(opActivate, resultError).Inc()
		return
	}

	if _, err := m.store.Insert(ctx, class); err != nil {
		m.log.Errorf("Failed to activate plugin %s: %v", class, err)
		m.setSandbox(p, nil).Close()
		lifecycleTotal.WithLabelValues(opActivate, resultError).Inc()
		return
	}

	m.bootPlugin(ctx, p)
	if err := p.sandbox.CallGlobal(ctx, "on_activate"); err != nil {
		m.log.Errorf("Plugin %s on_activate failed: %v", class, err)
	}

	m.hooks.DoAction(ctx, hook.ActivatedPlugin, class)
	lifecycleTotal.WithLabelValues(opActivate, resultOK).Inc()
	m.log.Infof("Activated plugin: %s v%s", p.Manifest.Name, p.Manifest.Version)
}

// Deactivate removes every activation record for class and unloads it.
// Storage failures are logged and leave the plugin running.
func (m *Manager) Deactivate(ctx context.Context, class string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.hooks.DoAction(ctx, hook.DeactivatePlugin, class)

	n, err := m.store.DeleteByClass(ctx, class)
	if err != nil {
		m.log.Errorf("Failed to deactivate plugin %s: %v", class, err)
		lifecycleTotal.WithLabelValues(opDeactivate, resultError).Inc()
		return
	}

	m.mu.RLock()
	p, loaded := m.loaded[class]
	m.mu.RUnlock()

	if loaded {
		if err := p.sandbox.CallGlobal(ctx, "on_deactivate"); err != nil {
			m.log.Errorf("Plugin %s on_deactivate failed: %v", class, err)
		}
		m.unloadPlugin(p)
		if m.translator != nil {
			m.translator.UnloadTextdomain(p.TextDomain())
		}
	}

	m.hooks.DoAction(ctx, hook.DeactivatedPlugin, class)

	if n == 0 && !loaded {
		lifecycleTotal.WithLabelValues(opDeactivate, resultNoop).Inc()
		m.log.Infof("Plugin %s was not active", class)
		return
	}
	lifecycleTotal.WithLabelValues(opDeactivate, resultOK).Inc()
	m.log.Infof("Deactivated plugin: %s", class)
}

// LoadActive discovers plugins and boots every one with an activation
// record, then fires plugins_loaded.
func (m *Manager) LoadActive(ctx context.Context) error {
	if _, err := m.Discover(); err != nil {
		return err
	}

	classes, err := m.store.ClassNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to query active plugins: %w", err)
	}

	for _, class := range classes {
		p, ok := m.Get(class)
		if !ok {
			m.log.Warnf("Active plugin %s not found in %s", class, m.pluginsDir)
			continue
		}
		if m.IsLoaded(class) {
			continue
		}
		if err := m.loadPlugin(ctx, p); err != nil {
			m.log.Errorf("Failed to load plugin %s: %v", class, err)
			continue
		}
		m.bootPlugin(ctx, p)
	}

	m.hooks.DoAction(ctx, hook.PluginsLoaded)
	return nil
}

func (m *Manager) loadPlugin(ctx context.Context, p *Plugin) error {
	source, err := os.ReadFile(p.File)
	if err != nil {
		return fmt.Errorf("failed to read plugin file: %w", err)
	}

	sandbox := NewSandbox(p.Manifest, p.Class)
	L := sandbox.GetState()

	NewUtilsAPI(p.Class, m.log).Register(L)
	NewHooksAPI(m, p, sandbox).Register(L)
	NewOptionsAPI(m.db, p.Class).Register(L)
	NewNoticeAPI(p.Class, m.notices).Register(L)
	NewRemoteAPI(p.Class, p.Manifest.Network).Register(L)

	if err := sandbox.LoadSource(ctx, string(source)); err != nil {
		sandbox.Close()
		return fmt.Errorf("failed to load source: %w", err)
	}

	m.setSandbox(p, sandbox)
	return nil
}

// setSandbox swaps the running sandbox of p and returns the previous one.
func (m *Manager) setSandbox(p *Plugin, sb *Sandbox) *Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := p.sandbox
	p.sandbox = sb
	return prev
}

// bootPlugin loads the plugin's text domain, runs its boot function, which
// registers its hooks, and starts its scheduled tasks.
func (m *Manager) bootPlugin(ctx context.Context, p *Plugin) {
	if m.translator != nil {
		m.translator.LoadPluginTextdomain(ctx, p.TextDomain(), p.LocaleDir())
	}
	if err := p.sandbox.CallGlobal(ctx, "boot"); err != nil {
		m.log.Errorf("Plugin %s boot failed: %v", p.Class, err)
	}

	for _, sched := range p.Manifest.Schedules {
		m.scheduler.Schedule(p.Class, sched, p.sandbox)
	}

	m.mu.Lock()
	m.loaded[p.Class] = p
	m.mu.Unlock()

	m.log.Infof("Loaded plugin: %s v%s", p.Manifest.Name, p.Manifest.Version)
}

func (m *Manager) unloadPlugin(p *Plugin) {
	removed := m.hooks.RemoveOwner(p.Class)
	m.scheduler.Unschedule(p.Class)

	m.mu.Lock()
	sb := p.sandbox
	p.sandbox = nil
	delete(m.loaded, p.Class)
	m.mu.Unlock()

	if sb != nil {
		sb.Close()
	}

	m.log.Infof("Unloaded plugin: %s (%d hooks removed)", p.Class, removed)
}

// Shutdown stops all plugins without touching their activation records.
func (m *Manager) Shutdown() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.scheduler.StopAll()

	for _, p := range m.Loaded() {
		m.unloadPlugin(p)
	}
}
