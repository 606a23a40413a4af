package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradeflow/internal/api"
	"tradeflow/internal/session"
	"tradeflow/internal/telemetry"
)

func newServeCmd(app *App) *cobra.Command {
	var migrate bool
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := app.Config
			if addr != "" {
				cfg.Server.Addr = addr
			}
			app.Logger.Info().Str("config", configPath(app.ConfigDir)).Msg("Starting tradeflow")

			shutdown, err := telemetry.Setup(ctx, telemetry.Config{
				Enabled:     cfg.Telemetry.Enabled,
				ServiceName: cfg.Telemetry.ServiceName,
				Endpoint:    cfg.Telemetry.OTLPEndpoint,
				Insecure:    cfg.Telemetry.Insecure,
				SampleRatio: cfg.Telemetry.SampleRatio,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					app.Logger.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			if migrate || cfg.Server.MigrateOnStart {
				s, err := app.Store()
				if err != nil {
					return err
				}
				if err := s.Migrate(ctx); err != nil {
					return err
				}
				app.Logger.Info().Msg("Migrations applied")
			}

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			audit, err := app.Audit()
			if err != nil {
				return err
			}

			resolver := session.New(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.WorkspaceClaim, cfg.Auth.DevHeader)
			if cfg.Auth.JWTSecret == "" && !cfg.Auth.DevHeader {
				app.Logger.Warn().Msg("No jwt_secret or dev_header configured: every workflow request will be rejected")
			}
			if cfg.Auth.DevHeader {
				app.Logger.Warn().Msg("X-Workspace-ID header accepted without a token (development mode)")
			}

			srv := api.NewServer(engine, api.Options{
				Addr:         cfg.Server.Addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				RateLimit:    cfg.Server.RateLimit,
				RateBurst:    cfg.Server.RateBurst,
				Resolver:     resolver,
				Audit:        audit,
				Logger:       app.Logger,
			})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
