package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/migrate"
)

var logg = logger.New(logger.Options{ServiceName: "migrate"})

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the credit ledger schema",
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: withRunner(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner, _ []string) error {
		applied, err := r.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) %v\n", len(applied), applied)
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: withRunner(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner, _ []string) error {
		version, err := r.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d\n", version)
		return nil
	}),
}

var toCmd = &cobra.Command{
	Use:   "to VERSION",
	Short: "Migrate up or down to VERSION (YYYYMMDDHHMMSS)",
	Args:  cobra.ExactArgs(1),
	RunE: withRunner(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner, args []string) error {
		target, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		moved, err := r.To(ctx, target)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "at %d after %d step(s)\n", target, len(moved))
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE: withRunner(func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner, _ []string) error {
		statuses, err := r.Status(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, st := range statuses {
			applied := "pending"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%-16d %-10s %s\n", st.Source.Version, st.State, applied)
		}
		return nil
	}),
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Scaffold a new SQL migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		path, err := migrate.CreateSQLMigration(dir, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "created", path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check migration file names and goose markers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations ok")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{createCmd, validateCmd} {
		c.Flags().String("dir", migrate.SourceDir, "migration source directory")
	}
	rootCmd.AddCommand(upCmd, downCmd, toCmd, statusCmd, createCmd, validateCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		logg.Error(context.Background(), "migrate failed", err)
		os.Exit(1)
	}
}

type runnerFunc func(ctx context.Context, cmd *cobra.Command, r *migrate.Runner, args []string) error

// withRunner loads config and opens the database before handing a Runner to fn.
func withRunner(fn runnerFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.FeatureFlags.UseSQLite {
			return fmt.Errorf("goose migrations target postgres; sqlite is auto-migrated on boot")
		}
		logg = logger.New(logger.Options{
			ServiceName: "migrate",
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		})
		ctx := logg.WithFields(cmd.Context(), map[string]any{
			"env": cfg.App.Env,
			"cmd": cmd.Name(),
		})

		dbClient, err := db.New(ctx, cfg.DB, false, logg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer dbClient.Close()

		sqlDB, err := dbClient.DB().DB()
		if err != nil {
			return fmt.Errorf("unwrap sql.DB: %w", err)
		}
		runner, err := migrate.NewRunner(sqlDB)
		if err != nil {
			return err
		}
		logg.Info(ctx, "migrate ready")
		return fn(ctx, cmd, runner, args)
	}
}
