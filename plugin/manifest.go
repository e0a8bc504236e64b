package plugin

import (
	"context"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Manifest is the metadata a plugin declares in its Plugin table.
type Manifest struct {
	Name        string
	Version     string
	Description string
	Author      string
	AuthorURI   string
	PluginURI   string
	TextDomain  string
	DomainPath  string
	Class       string
	Network     map[string][]string // domain -> allowed methods
	Schedules   []Schedule
}

// Schedule represents a scheduled task
type Schedule struct {
	Name     string
	Interval int // seconds
}

// ReadManifest extracts the manifest from a plugin source file.
func ReadManifest(path string) (*Manifest, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin file: %w", err)
	}
	return ParseManifest(string(source))
}

// ParseManifest extracts the Plugin table from Lua source. The source runs in
// a restricted state without the plugin API, so top-level code must only
// declare the table and functions.
func ParseManifest(source string) (*Manifest, error) {
	L := newState()
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), MaxExecutionTime)
	defer cancel()
	L.SetContext(ctx)

	if err := L.DoString(source); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	tbl, ok := L.GetGlobal("Plugin").(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: plugin must define a Plugin table", ErrInvalidManifest)
	}

	manifest := &Manifest{
		Name:        field(tbl, "name"),
		Version:     field(tbl, "version"),
		Description: field(tbl, "description"),
		Author:      field(tbl, "author"),
		AuthorURI:   field(tbl, "author_uri"),
		PluginURI:   field(tbl, "plugin_uri"),
		TextDomain:  field(tbl, "text_domain"),
		DomainPath:  field(tbl, "domain_path"),
		Class:       field(tbl, "class"),
	}
	if manifest.Name == "" {
		return nil, fmt.Errorf("%w: plugin must have a name", ErrInvalidManifest)
	}
	if manifest.DomainPath == "" {
		manifest.DomainPath = "locale"
	}

	if network, ok := tbl.RawGetString("network").(*lua.LTable); ok {
		manifest.Network = make(map[string][]string)
		network.ForEach(func(domain, methods lua.LValue) {
			var allowed []string
			if list, ok := methods.(*lua.LTable); ok {
				list.ForEach(func(_, method lua.LValue) {
					allowed = append(allowed, strings.ToUpper(method.String()))
				})
			}
			if len(allowed) == 0 {
				allowed = []string{"GET"}
			}
			manifest.Network[domain.String()] = allowed
		})
	}

	if schedules, ok := tbl.RawGetString("schedules").(*lua.LTable); ok {
		schedules.ForEach(func(_, sched lua.LValue) {
			schedTbl, ok := sched.(*lua.LTable)
			if !ok {
				return
			}
			schedule := Schedule{Name: field(schedTbl, "name")}
			if num, ok := schedTbl.RawGetString("interval").(lua.LNumber); ok {
				schedule.Interval = int(num)
			}
			if schedule.Name != "" && schedule.Interval > 0 {
				manifest.Schedules = append(manifest.Schedules, schedule)
			}
		})
	}

	return manifest, nil
}

func field(tbl *lua.LTable, name string) string {
	v := tbl.RawGetString(name)
	if v == lua.LNil {
		return ""
	}
	return v.String()
}
