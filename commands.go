package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cellStyle     = lipgloss.NewStyle().PaddingRight(2)
)

func newRootCommand(version, commit, date string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cms",
		Short: "go-cms - content management server with Lua plugins",
		Long: `go-cms serves the admin API of a small content management system.

Plugins are Lua files in <data dir>/plugins/<name>/<Name>Plugin.lua. They hook
into actions and filters, add admin menu pages and ship their own translations.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CMS_CONFIG"), "path to config.yaml")

	open := func(cmd *cobra.Command) (*App, error) {
		return openApp(cmd.Context(), configPath)
	}

	rootCmd.AddCommand(newServeCommand(open))
	rootCmd.AddCommand(newPluginCommand(open))
	rootCmd.AddCommand(newI18nCommand(open))
	rootCmd.AddCommand(newBackupCommand(open))

	return rootCmd
}

type appOpener func(cmd *cobra.Command) (*App, error)

// openApp loads the configuration and starts the application.
func openApp(ctx context.Context, configPath string) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	app := NewApp(cfg, log)
	if err := app.startup(ctx); err != nil {
		app.shutdown()
		return nil, err
	}
	return app, nil
}

func newServeCommand(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()

			app.startWatcher()
			return app.serve(ctx)
		},
	}
}

func newPluginCommand(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage plugins",
		Example: `  # List installed plugins
  cms plugin list

  # Activate a plugin by class name
  cms plugin activate HelloPlugin`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()

			plugins, err := NewPluginService(app).GetPlugins(cmd.Context())
			if err != nil {
				return err
			}
			renderPluginTable(cmd.OutOrStdout(), plugins)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info [class]",
		Short: "Show plugin details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()

			info, err := NewPluginService(app).GetPlugin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderPluginInfo(cmd.OutOrStdout(), info)
			return nil
		},
	})

	lifecycle := func(use, short string, run func(s *PluginService, ctx context.Context, class string) (*PluginInfo, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [class]",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := open(cmd)
				if err != nil {
					return err
				}
				defer app.shutdown()

				info, err := run(NewPluginService(app), cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", info.Class, status(info.Active))
				return nil
			},
		}
	}
	cmd.AddCommand(lifecycle("activate", "Activate a plugin", (*PluginService).EnablePlugin))
	cmd.AddCommand(lifecycle("deactivate", "Deactivate a plugin", (*PluginService).DisablePlugin))

	return cmd
}

func status(active bool) string {
	if active {
		return activeStyle.Render("active")
	}
	return inactiveStyle.Render("inactive")
}

func renderPluginTable(w io.Writer, plugins []PluginInfo) {
	if len(plugins) == 0 {
		fmt.Fprintln(w, "No plugins installed.")
		return
	}

	header := []string{"CLASS", "NAME", "VERSION", "STATUS"}
	rows := [][]string{}
	for _, p := range plugins {
		rows = append(rows, []string{p.Class, p.Name, p.Version, status(p.Active)})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		out := make([]string, len(cells))
		for i, cell := range cells {
			out[i] = cellStyle.Width(widths[i] + 2).Render(style.Render(cell))
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, out...), " ")
	}

	fmt.Fprintln(w, line(header, headerStyle))
	for _, row := range rows {
		fmt.Fprintln(w, line(row, lipgloss.NewStyle()))
	}
}

func renderPluginInfo(w io.Writer, p *PluginInfo) {
	fmt.Fprintln(w, headerStyle.Render(p.Name+" "+p.Version))
	fields := [][2]string{
		{"Class", p.Class},
		{"Status", status(p.Active)},
		{"Description", p.Description},
		{"Author", p.Author},
		{"Plugin URI", p.PluginURI},
		{"Text domain", p.TextDomain},
		{"File", p.File},
		{"URL", p.URL},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(w, "  %-12s %s\n", f[0]+":", f[1])
	}
	for _, s := range p.Schedules {
		fmt.Fprintf(w, "  %-12s %s every %ds\n", "Schedule:", s.Name, s.Interval)
	}
}

func newI18nCommand(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "i18n",
		Short: "Inspect translations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "domains",
		Short: "List loaded text domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Locale: %s\n", app.translator.Locale(cmd.Context()))
			for _, d := range app.translator.Domains() {
				fmt.Fprintf(out, "  %s\n", d)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-locale [locale]",
		Short: "Store the site locale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()
			return app.SetLocale(args[0])
		},
	})
	return cmd
}

func newBackupCommand(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create and restore backups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create [file.zip]",
		Short: "Write a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()

			manifest, err := app.CreateBackup(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d activation records, %d plugin options, %d settings, %d plugin files\n",
				manifest.Summary.ActivePlugins, manifest.Summary.PluginOptions, manifest.Summary.Settings, manifest.Summary.PluginFiles)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore [file.zip]",
		Short: "Restore a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.shutdown()
			return app.RestoreBackup(args[0])
		},
	})
	return cmd
}
