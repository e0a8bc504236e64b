package main

import (
	"context"
	"fmt"

	"go-cms/plugin"
)

// PluginService joins discovered plugins with their activation state for
// the API and the CLI.
type PluginService struct {
	app *App
}

// NewPluginService creates a new plugin service
func NewPluginService(app *App) *PluginService {
	return &PluginService{app: app}
}

// PluginInfo represents a plugin for API clients
type PluginInfo struct {
	Class       string            `json:"class"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Author      string            `json:"author"`
	AuthorURI   string            `json:"author_uri,omitempty"`
	PluginURI   string            `json:"plugin_uri,omitempty"`
	TextDomain  string            `json:"text_domain"`
	File        string            `json:"file"`
	URL         string            `json:"url"`
	Active      bool              `json:"active"`
	Loaded      bool              `json:"loaded"`
	Schedules   []plugin.Schedule `json:"schedules,omitempty"`
}

// GetPlugins rescans the plugins directory and returns every plugin.
func (s *PluginService) GetPlugins(ctx context.Context) ([]PluginInfo, error) {
	pm := s.app.pluginManager
	if pm == nil {
		return []PluginInfo{}, nil
	}

	found, err := pm.Discover()
	if err != nil {
		return nil, err
	}

	active, err := pm.ActiveClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query active plugins: %w", err)
	}
	isActive := make(map[string]bool, len(active))
	for _, class := range active {
		isActive[class] = true
	}

	plugins := make([]PluginInfo, 0, len(found))
	for _, p := range found {
		plugins = append(plugins, s.pluginToInfo(ctx, p, isActive[p.Class]))
	}
	return plugins, nil
}

// GetPlugin returns one plugin by class name.
func (s *PluginService) GetPlugin(ctx context.Context, class string) (*PluginInfo, error) {
	pm := s.app.pluginManager
	if pm == nil {
		return nil, plugin.ErrPluginNotFound
	}
	p, ok := pm.Get(class)
	if !ok {
		if _, err := pm.Discover(); err != nil {
			return nil, err
		}
		if p, ok = pm.Get(class); !ok {
			return nil, fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, class)
		}
	}
	info := s.pluginToInfo(ctx, p, pm.IsActive(ctx, class))
	return &info, nil
}

// EnablePlugin activates class and reports whether it is active afterwards.
func (s *PluginService) EnablePlugin(ctx context.Context, class string) (*PluginInfo, error) {
	if _, err := s.GetPlugin(ctx, class); err != nil {
		return nil, err
	}
	s.app.pluginManager.Activate(ctx, class)
	return s.GetPlugin(ctx, class)
}

// DisablePlugin deactivates class.
func (s *PluginService) DisablePlugin(ctx context.Context, class string) (*PluginInfo, error) {
	if _, err := s.GetPlugin(ctx, class); err != nil {
		return nil, err
	}
	s.app.pluginManager.Deactivate(ctx, class)
	return s.GetPlugin(ctx, class)
}

func (s *PluginService) pluginToInfo(ctx context.Context, p *plugin.Plugin, active bool) PluginInfo {
	info := PluginInfo{
		Class:      p.Class,
		TextDomain: p.TextDomain(),
		File:       p.Basename,
		URL:        s.app.pluginManager.URL(ctx, "", p.File),
		Active:     active,
		Loaded:     s.app.pluginManager.IsLoaded(p.Class),
	}
	if m := p.Manifest; m != nil {
		info.Name = m.Name
		info.Version = m.Version
		info.Description = m.Description
		info.Author = m.Author
		info.AuthorURI = m.AuthorURI
		info.PluginURI = m.PluginURI
		info.Schedules = m.Schedules
	}
	return info
}
