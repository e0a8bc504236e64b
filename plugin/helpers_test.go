package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go-cms/hook"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t testing.TB) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

// writePlugin writes <dir>/<slug>/<file> and returns its path.
func writePlugin(t testing.TB, dir, slug, file, source string) string {
	t.Helper()
	path := filepath.Join(dir, slug, file)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}

func newTestManager(t testing.TB, opts ...Option) (*Manager, *hook.Dispatcher, *Store) {
	t.Helper()

	hooks := hook.NewDispatcher(zap.NewNop().Sugar())
	store := newTestStore(t)
	m, err := NewManager(context.Background(), store, hooks, t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m, hooks, store
}

func optionValue(t testing.TB, s *Store, class, key string) string {
	t.Helper()
	var opt OptionRow
	err := s.DB().Where("class_name = ? AND key = ?", class, key).First(&opt).Error
	if err != nil {
		return ""
	}
	return string(opt.Value)
}

const helloPlugin = `
Plugin = {
    name = "Hello",
    version = "1.2.0",
    description = "Says hello",
    text_domain = "hello",
}

function boot()
    add_filter("the_title", function(title)
        return title .. "!"
    end)
    add_action("init", function()
        options.set("booted", "yes")
    end, 5)
    add_menu_page("hello", __("Hello"), "manage_options")
end

function on_activate()
    options.set("state", "active")
end

function on_deactivate()
    options.set("state", "inactive")
end
`
