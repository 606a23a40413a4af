package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradeflow/internal/config"
	"tradeflow/internal/logging"
	"tradeflow/internal/security"
	"tradeflow/internal/store"
	"tradeflow/internal/workflow"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger

	store *store.SQLStore
	audit *security.AuditLogger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "tradeflow",
		Short: "Workflow event ingestion and decision packet engine",
		Long: `Tradeflow ingests trading workflow events, keeps one decision packet per
trading idea, and derives alerts, journal drafts and coaching tasks under a
risk governor.

Run 'tradeflow migrate' once, then 'tradeflow serve'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tradeflow)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newMigrateCmd(app))
	rootCmd.AddCommand(newIngestCmd(app))
	rootCmd.AddCommand(newPacketsCmd(app))
	rootCmd.AddCommand(newOperatorCmd(app))
	rootCmd.AddCommand(newTokenCmd(app))

	return rootCmd
}

func (a *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.ConfigDir = dir
	a.Config = cfg

	logCfg := logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)
	return nil
}

// Store opens the configured database once. Migrations are not applied.
func (a *App) Store() (*store.SQLStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(store.Options{
		Driver:       a.Config.Database.Driver,
		DSN:          a.Config.DatabaseDSN(),
		MaxOpenConns: a.Config.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	a.store = s
	a.Logger.Debug().Str("driver", a.Config.Database.Driver).Msg("Store opened")
	return s, nil
}

// Audit opens the audit log, or returns nil when auditing is disabled.
func (a *App) Audit() (*security.AuditLogger, error) {
	if a.audit != nil || !a.Config.Audit.Enabled {
		return a.audit, nil
	}
	al, err := security.NewAuditLogger(security.AuditConfig{
		LogDir:     a.Config.Audit.LogDir,
		MaxSize:    a.Config.Audit.MaxSize,
		MaxBackups: a.Config.Audit.MaxBackups,
		MaxAge:     a.Config.Audit.MaxAge,
		Compress:   true,
	})
	if err != nil {
		return nil, err
	}
	a.audit = al
	return al, nil
}

// Engine builds a workflow engine over the configured store. It refuses to
// run against a schema with pending migrations.
func (a *App) Engine(ctx context.Context) (*workflow.Engine, error) {
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	if err := requireMigrated(ctx, s); err != nil {
		return nil, err
	}
	al, err := a.Audit()
	if err != nil {
		return nil, err
	}

	opts := workflow.DefaultOptions()
	opts.Thresholds = a.Config.Thresholds()
	opts.AutoAlerts = a.Config.Automation.AutoAlerts
	opts.AutoJournal = a.Config.Automation.AutoJournal
	opts.AutoCoach = a.Config.Automation.AutoCoach
	opts.MaxEvents = a.Config.Server.MaxEvents
	opts.Logger = a.Logger
	opts.Audit = al
	return workflow.NewEngine(s, opts)
}

// Close releases the store and audit log.
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
		a.store = nil
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.audit = nil
	}
	return firstErr
}

func requireMigrated(ctx context.Context, s *store.SQLStore) error {
	states, err := s.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	pending := 0
	for _, st := range states {
		if !st.Applied {
			pending++
		}
	}
	if pending > 0 {
		return fmt.Errorf("database has %d pending migration(s): run 'tradeflow migrate' first", pending)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("tradeflow v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func configPath(dir string) string {
	return filepath.Join(dir, "config.toml")
}
