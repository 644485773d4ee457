package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"forum-core/internal/config"
	"forum-core/internal/migrations"
	"forum-core/internal/repository"
	"forum-core/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "forumctl",
		Short:         "Operator tooling for the forum auth and session store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newConfigCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openDatabase loads and validates configuration, then connects.
func openDatabase(ctx context.Context) (*config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := config.OpenDatabase(connCtx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, db, nil
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Up(ctx, db, cfg.DatabaseDriver); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := migrations.List(ctx, db, cfg.DatabaseDriver)
			if err != nil {
				return err
			}
			return printMigrations(cmd.OutOrStdout(), statuses)
		},
	})
	return cmd
}

func printMigrations(w io.Writer, statuses []migrations.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tFILE")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, state, s.Path)
	}
	return tw.Flush()
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session store maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete expired and long-idle sessions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			repos, err := repository.New(cfg.DatabaseDriver, db)
			if err != nil {
				return err
			}
			defer repos.Close()

			n, err := service.NewSessionService(repos.Sessions, nil, nil).SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
			return nil
		},
	})
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate configuration from the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	})
	return cmd
}

// printConfig shows the effective settings with secrets left out.
func printConfig(w io.Writer, cfg *config.Config) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"ENVIRONMENT", cfg.Environment},
		{"PORT", cfg.Port},
		{"DATABASE_DRIVER", cfg.DatabaseDriver},
		{"RABBITMQ", enabled(cfg.RabbitMQURL != "")},
		{"JWT_ISSUER", cfg.JWTIssuer},
		{"JWT_AUDIENCE", cfg.JWTAudience},
		{"JWT_TTL", cfg.JWTTTL.String()},
		{"CSRF_DEV_BYPASS", enabled(cfg.CSRFDevBypass)},
		{"ALLOWED_ORIGINS", cfg.AllowedOrigins},
		{"SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval.String()},
		{"OPENAPI_VALIDATION", enabled(cfg.OpenAPIValidation)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	fmt.Fprintln(tw, "config OK")
	return tw.Flush()
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
