package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go-cms/i18n"
	"go-cms/menu"
	"go-cms/plugin"
	"go-cms/theme"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// userHeader names the user a request acts as. Authentication happens in
// front of the CMS.
const userHeader = "X-CMS-User"

type authKey struct{}

// router builds the HTTP handler for the admin UI and API.
func (a *App) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.withUser)

	r.Get("/health", a.handleHealth)
	checks := a.healthChecks()
	r.Handle("/live", checks)
	r.Handle("/ready", checks)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/plugins/*", a.handlePluginAsset)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/menu", a.handleAdminMenu)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/menu", a.handleMenuItems)
		r.Get("/i18n/domains", a.handleDomains)

		r.With(a.require("manage_plugins")).Route("/plugins", func(r chi.Router) {
			r.Get("/", a.handleListPlugins)
			r.Get("/{class}", a.handleGetPlugin)
			r.Post("/{class}/activate", a.handleActivatePlugin)
			r.Post("/{class}/deactivate", a.handleDeactivatePlugin)
		})

		r.With(a.require("read")).Get("/notices", a.handleNotices)

		r.With(a.require("switch_themes")).Route("/themes", func(r chi.Router) {
			r.Get("/", a.handleListThemes)
			r.Put("/active", a.handleSetTheme)
		})

		r.With(a.require("manage_options")).Put("/settings/locale", a.handleSetLocale)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: a.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// serve runs the HTTP server until ctx is cancelled.
func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("Starting server on http://%s", a.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthChecks serves /live and /ready. Readiness needs the database and the
// plugins directory.
func (a *App) healthChecks() healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	h.AddReadinessCheck("database", healthcheck.DatabasePingCheck(a.db, time.Second))
	h.AddReadinessCheck("plugins-dir", func() error {
		info, err := os.Stat(a.pluginsDir())
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return errors.New("plugins path is not a directory")
		}
		return nil
	})
	return h
}

func (a *App) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := authorizerFor(a.cfg, r.Header.Get(userHeader))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, auth)))
	})
}

func authorizer(r *http.Request) menu.Authorizer {
	auth, _ := r.Context().Value(authKey{}).(menu.Authorizer)
	return auth
}

func (a *App) require(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := authorizer(r)
			if auth == nil {
				writeError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			if !auth.Can(capability) {
				writeError(w, http.StatusForbidden, "missing capability "+capability)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"plugins": len(a.pluginManager.Loaded()),
		"locale":  a.translator.Locale(r.Context()),
	})
}

func (a *App) handleAdminMenu(w http.ResponseWriter, r *http.Request) {
	current := r.URL.Query().Get("current")
	html := a.menu.Render(r.Context(), authorizer(r), current)
	if html == "" {
		writeError(w, http.StatusForbidden, "no menu for user")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (a *App) handleMenuItems(w http.ResponseWriter, r *http.Request) {
	items := a.menu.Items(r.Context(), authorizer(r))
	if items == nil {
		items = []menu.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *App) handleDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"locale":  a.translator.Locale(r.Context()),
		"domains": a.translator.Domains(),
	})
}

func (a *App) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	plugins, err := NewPluginService(a).GetPlugins(r.Context())
	if err != nil {
		a.log.Errorf("Failed to list plugins: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list plugins")
		return
	}
	writeJSON(w, http.StatusOK, plugins)
}

func (a *App) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	a.writePlugin(w, r, NewPluginService(a).GetPlugin)
}

func (a *App) handleActivatePlugin(w http.ResponseWriter, r *http.Request) {
	a.writePlugin(w, r, NewPluginService(a).EnablePlugin)
}

func (a *App) handleDeactivatePlugin(w http.ResponseWriter, r *http.Request) {
	a.writePlugin(w, r, NewPluginService(a).DisablePlugin)
}

func (a *App) writePlugin(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*PluginInfo, error)) {
	info, err := op(r.Context(), chi.URLParam(r, "class"))
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		a.log.Errorf("Plugin request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "plugin request failed")
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

func (a *App) handleNotices(w http.ResponseWriter, r *http.Request) {
	notices := a.pluginManager.Notices().Drain()
	if notices == nil {
		notices = []plugin.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (a *App) handleListThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := a.Themes()
	if err != nil {
		a.log.Errorf("Failed to list themes: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list themes")
		return
	}
	active := ""
	if a.theme != nil {
		active = a.theme.Slug
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "themes": themes})
}

type valueRequest struct {
	Value string `json:"value"`
}

func decodeValue(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": \"...\"}")
		return "", false
	}
	return req.Value, true
}

func (a *App) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	slug, ok := decodeValue(w, r)
	if !ok {
		return
	}
	err := a.SetTheme(slug)
	switch {
	case errors.Is(err, theme.ErrThemeNotFound), errors.Is(err, theme.ErrInvalidTheme):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		a.log.Errorf("Failed to set theme: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to set theme")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"theme": slug})
	}
}

func (a *App) handleSetLocale(w http.ResponseWriter, r *http.Request) {
	locale, ok := decodeValue(w, r)
	if !ok {
		return
	}
	if err := a.SetLocale(locale); err != nil {
		a.log.Errorf("Failed to set locale: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to set locale")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"locale": i18n.NormalizeLocale(locale)})
}

// handlePluginAsset serves files below the plugins directory. Plugin
// sources and hidden files are not served.
func (a *App) handlePluginAsset(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	clean := path.Clean("/" + rel)
	if strings.Contains(rel, "..") || strings.HasSuffix(clean, ".lua") || strings.Contains(clean, "/.") {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(a.pluginsDir(), filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}
