// Package i18n loads gettext catalogs for the core, the active theme and
// active plugins, and answers translation lookups by text domain.
package i18n

import (
	"context"
	"os"
	"sort"
	"sync"

	"go-cms/hook"

	"github.com/leonelquinteros/gotext"
	"go.uber.org/zap"
)

// CoreDomain is the text domain of the application itself.
const CoreDomain = "default"

// lookup is the part of a parsed catalog the translator reads. Lookups
// never pass format arguments, so translations come back verbatim.
type lookup interface {
	Get(str string, vars ...interface{}) string
	GetN(str, plural string, n int, vars ...interface{}) string
	GetC(str, ctx string, vars ...interface{}) string
}

type catalog struct {
	path string
	mo   lookup
}

// Translator holds the loaded catalogs, keyed by text domain.
type Translator struct {
	hooks         *hook.Dispatcher
	log           *zap.SugaredLogger
	defaultLocale string

	mu      sync.RWMutex
	domains map[string][]*catalog
}

// NewTranslator creates a translator whose site locale starts from
// defaultLocale before the locale filter runs.
func NewTranslator(hooks *hook.Dispatcher, defaultLocale string, log *zap.SugaredLogger) *Translator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if hooks == nil {
		hooks = hook.NewDispatcher(log)
	}
	locale := NormalizeLocale(defaultLocale)
	if locale == "" {
		locale = DefaultLocale
	}
	return &Translator{
		hooks:         hooks,
		log:           log,
		defaultLocale: locale,
		domains:       make(map[string][]*catalog),
	}
}

// Locale returns the site locale after the locale filter.
func (t *Translator) Locale(ctx context.Context) string {
	locale := NormalizeLocale(hook.Apply(ctx, t.hooks, hook.Locale, t.defaultLocale))
	if locale == "" {
		return t.defaultLocale
	}
	return locale
}

// LoadTextdomain parses mofile into domain. The path is passed through the
// load_textdomain_mofile filter first. A missing file is skipped and
// reported as false.
func (t *Translator) LoadTextdomain(ctx context.Context, domain, mofile string) bool {
	mofile = hook.Apply(ctx, t.hooks, hook.LoadTextdomainMofile, mofile, domain)

	info, err := os.Stat(mofile)
	if err != nil || info.IsDir() {
		t.log.Debugf("Skipping missing catalog %s for domain %s", mofile, domain)
		return false
	}

	t.mu.Lock()
	for _, c := range t.domains[domain] {
		if c.path == mofile {
			t.mu.Unlock()
			return true
		}
	}
	mo := gotext.NewMo()
	mo.ParseFile(mofile)
	t.domains[domain] = append(t.domains[domain], &catalog{path: mofile, mo: mo})
	t.mu.Unlock()

	t.log.Debugf("Loaded catalog %s for domain %s", mofile, domain)
	t.hooks.DoAction(ctx, hook.LoadTextdomain, domain, mofile)
	return true
}

// UnloadTextdomain forgets every catalog of domain.
func (t *Translator) UnloadTextdomain(domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.domains[domain]; !ok {
		return false
	}
	delete(t.domains, domain)
	return true
}

// IsLoaded reports whether at least one catalog is loaded for domain.
func (t *Translator) IsLoaded(domain string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.domains[domain]) > 0
}

// Domains returns the loaded text domains in sorted order.
func (t *Translator) Domains() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.domains))
	for d := range t.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (t *Translator) catalogs(domain string) []*catalog {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.domains[domain]
}

// Gettext translates msgid in domain. Unknown domains and messages return
// msgid unchanged.
func (t *Translator) Gettext(domain, msgid string) string {
	for _, c := range t.catalogs(domain) {
		if s := c.mo.Get(msgid); s != msgid {
			return s
		}
	}
	return msgid
}

// NGettext translates a message with plural forms.
func (t *Translator) NGettext(domain, singular, plural string, n int) string {
	fallback := plural
	if n == 1 {
		fallback = singular
	}
	for _, c := range t.catalogs(domain) {
		if s := c.mo.GetN(singular, plural, n); s != fallback {
			return s
		}
	}
	return fallback
}

// PGettext translates msgid within a disambiguating context.
func (t *Translator) PGettext(domain, msgctxt, msgid string) string {
	for _, c := range t.catalogs(domain) {
		if s := c.mo.GetC(msgid, msgctxt); s != msgid {
			return s
		}
	}
	return msgid
}
