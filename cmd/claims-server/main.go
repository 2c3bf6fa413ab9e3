package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/claims/internal/config"
	"github.com/ehr/claims/internal/domain/claimstatus"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "claims-server",
		Short:         "Claim status tracking API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(reportCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
}

// withPool loads config and opens a pool for one CLI command.
func withPool(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("development auth is active: unauthenticated requests run as admin")
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := newServer(cfg, logger, pool)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", schema)
				renderMigrations(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant id %q", name)
			}
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
				n, err := db.CreateTenantSchema(ctx, pool, name, migrations.FS)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant created, %d migration(s) applied.\n", n)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

// withTenantService runs fn against the claim engine scoped to one tenant.
func withTenantService(cmd *cobra.Command, fn func(ctx context.Context, svc *claimstatus.Service) error) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		if tenant == "" {
			tenant = cfg.DefaultTenant
		}
		tctx, release, err := db.WithTenantConn(ctx, pool, tenant)
		if err != nil {
			return err
		}
		defer release()

		svc := claimstatus.NewService(claimstatus.NewClaimStorePG(pool), claimstatus.Options{
			StaleDaysDefault: cfg.StaleDaysDefault,
		})
		return fn(tctx, svc)
	})
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print claim follow-up reports",
	}
	cmd.PersistentFlags().String("tenant", "", "Tenant id (defaults to DEFAULT_TENANT)")

	cmd.AddCommand(&cobra.Command{
		Use:   "aging",
		Short: "Outstanding claims by days since last status update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenantService(cmd, func(ctx context.Context, svc *claimstatus.Service) error {
				rep, err := svc.GetAgingReport(ctx)
				if err != nil {
					return err
				}
				renderAging(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	})

	staleCmd := &cobra.Command{
		Use:   "stale",
		Short: "Open claims with no status update within the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return withTenantService(cmd, func(ctx context.Context, svc *claimstatus.Service) error {
				rep, err := svc.CheckStaleClaims(ctx, days)
				if err != nil {
					return err
				}
				renderStale(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}
	staleCmd.Flags().Int("days", 0, "Days without update (0 uses STALE_DAYS_DEFAULT)")
	cmd.AddCommand(staleCmd)

	return cmd
}

const tableTimeLayout = "2006-01-02 15:04"

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}
