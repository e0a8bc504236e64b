package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noticePlugin = `
Plugin = { name = "Notifier", version = "1.0.0" }

function boot() end

function on_activate()
    notice.add("Notifier is ready", "success")
end
`

func newTestServer(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Users["ed"] = "editor"
	writeTestPlugin(t, cfg, "greeter", "GreeterPlugin.lua", greeterPlugin)
	writeTestPlugin(t, cfg, "notifier", "NotifierPlugin.lua", noticePlugin)
	writeTestTheme(t, cfg, "classic", "Classic")

	app := newTestApp(t, cfg)
	srv := httptest.NewServer(app.router())
	t.Cleanup(srv.Close)
	return app, srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, user, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestServer_Health(t *testing.T) {
	_, srv := newTestServer(t)

	status, body := doRequest(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "en_US", health["locale"])
}

func TestServer_LivenessReadiness(t *testing.T) {
	app, srv := newTestServer(t)

	status, _ := doRequest(t, srv, http.MethodGet, "/live", "", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = doRequest(t, srv, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, status)

	require.NoError(t, os.RemoveAll(app.pluginsDir()))
	status, body := doRequest(t, srv, http.MethodGet, "/ready?full=1", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "plugins-dir")
}

func TestServer_PluginLifecycle(t *testing.T) {
	app, srv := newTestServer(t)

	status, body := doRequest(t, srv, http.MethodGet, "/api/plugins", "admin", "")
	require.Equal(t, http.StatusOK, status)
	var plugins []PluginInfo
	require.NoError(t, json.Unmarshal(body, &plugins))
	require.Len(t, plugins, 2)
	assert.Equal(t, "GreeterPlugin", plugins[0].Class)
	assert.False(t, plugins[0].Active)
	assert.Equal(t, "https://cms.test/plugins/greeter", plugins[0].URL)

	status, body = doRequest(t, srv, http.MethodPost, "/api/plugins/GreeterPlugin/activate", "admin", "")
	require.Equal(t, http.StatusOK, status)
	var info PluginInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.True(t, info.Active)
	assert.True(t, info.Loaded)

	// activating twice keeps a single record
	status, _ = doRequest(t, srv, http.MethodPost, "/api/plugins/GreeterPlugin/activate", "admin", "")
	require.Equal(t, http.StatusOK, status)
	n, err := app.pluginStore.Count(app.ctx, "GreeterPlugin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status, body = doRequest(t, srv, http.MethodGet, "/api/menu", "ed", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"greeter"`)

	status, body = doRequest(t, srv, http.MethodPost, "/api/plugins/GreeterPlugin/deactivate", "admin", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &info))
	assert.False(t, info.Active)

	_, body = doRequest(t, srv, http.MethodGet, "/api/menu", "ed", "")
	assert.NotContains(t, string(body), `"greeter"`)

	status, _ = doRequest(t, srv, http.MethodPost, "/api/plugins/MissingPlugin/activate", "admin", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_Capabilities(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"anonymous plugins", http.MethodGet, "/api/plugins", "", http.StatusUnauthorized},
		{"unknown user", http.MethodGet, "/api/plugins", "mallory", http.StatusUnauthorized},
		{"editor plugins", http.MethodGet, "/api/plugins", "ed", http.StatusForbidden},
		{"editor themes", http.MethodGet, "/api/themes", "ed", http.StatusForbidden},
		{"editor notices", http.MethodGet, "/api/notices", "ed", http.StatusOK},
		{"admin themes", http.MethodGet, "/api/themes", "admin", http.StatusOK},
		{"anonymous admin menu", http.MethodGet, "/admin/menu", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doRequest(t, srv, tt.method, tt.path, tt.user, "")
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestServer_AdminMenu(t *testing.T) {
	_, srv := newTestServer(t)

	status, body := doRequest(t, srv, http.MethodGet, "/admin/menu?current=/admin/posts", "ed", "")
	require.Equal(t, http.StatusOK, status)
	html := string(body)
	assert.Contains(t, html, "/admin/posts")
	assert.NotContains(t, html, "/admin/plugins")
}

func TestServer_Notices(t *testing.T) {
	_, srv := newTestServer(t)

	status, _ := doRequest(t, srv, http.MethodPost, "/api/plugins/NotifierPlugin/activate", "admin", "")
	require.Equal(t, http.StatusOK, status)

	_, body := doRequest(t, srv, http.MethodGet, "/api/notices", "admin", "")
	var notices []map[string]any
	require.NoError(t, json.Unmarshal(body, &notices))
	require.Len(t, notices, 1)
	assert.Equal(t, "Notifier is ready", notices[0]["message"])
	assert.Equal(t, "success", notices[0]["type"])

	// notices are drained on read
	_, body = doRequest(t, srv, http.MethodGet, "/api/notices", "admin", "")
	assert.JSONEq(t, `[]`, string(body))
}

func TestServer_ThemesAndLocale(t *testing.T) {
	app, srv := newTestServer(t)

	_, body := doRequest(t, srv, http.MethodGet, "/api/themes", "admin", "")
	var themes struct {
		Active string           `json:"active"`
		Themes []map[string]any `json:"themes"`
	}
	require.NoError(t, json.Unmarshal(body, &themes))
	require.Len(t, themes.Themes, 1)
	assert.Equal(t, "classic", themes.Themes[0]["slug"])

	status, _ := doRequest(t, srv, http.MethodPut, "/api/themes/active", "admin", `{"value": "classic"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "classic", app.setting(settingTheme, ""))

	status, _ = doRequest(t, srv, http.MethodPut, "/api/themes/active", "admin", `{"value": "../etc"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, srv, http.MethodPut, "/api/themes/active", "admin", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, srv, http.MethodPut, "/api/settings/locale", "admin", `{"value": "pt-br"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"locale": "pt_BR"}`, string(body))
	assert.Equal(t, "pt_BR", app.setting(settingLocale, ""))
}

func TestServer_PluginAssets(t *testing.T) {
	app, srv := newTestServer(t)

	cssDir := filepath.Join(app.pluginsDir(), "greeter", "css")
	require.NoError(t, os.MkdirAll(cssDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cssDir, "admin.css"), []byte("body{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(app.pluginsDir(), "greeter", ".env"), []byte("SECRET=1"), 0644))

	status, body := doRequest(t, srv, http.MethodGet, "/plugins/greeter/css/admin.css", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "body{}", string(body))

	for _, path := range []string{
		"/plugins/greeter/GreeterPlugin.lua",
		"/plugins/greeter/.env",
		"/plugins/greeter/css",
		"/plugins/greeter/missing.css",
	} {
		status, _ := doRequest(t, srv, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusNotFound, status, path)
	}
}

func TestServer_Metrics(t *testing.T) {
	app, srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/plugins/GreeterPlugin/activate", "admin", "")
	app.hooks.DoAction(app.ctx, "greeter_visit_4711")
	status, body := doRequest(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), `hook="activated_plugin"`)
	assert.Contains(t, string(body), `hook="custom"`)
	assert.NotContains(t, string(body), "greeter_visit_4711")
}
