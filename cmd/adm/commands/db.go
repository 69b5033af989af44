// Package commands provides CLI commands for the admin tool
package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"levelquest/internal/config"
	"levelquest/internal/database"
	contextutils "levelquest/internal/utils"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(env *Env) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for levelquest.

Available commands:
  migrate     - Apply pending schema migrations
  status      - Show the applied migration version
  migrations  - List the migrations embedded in this binary
  reset       - Delete all sessions, course progress and stats`,
	}

	dbCmd.AddCommand(migrateCmd(env))
	dbCmd.AddCommand(statusCmd(env))
	dbCmd.AddCommand(migrationsCmd())
	dbCmd.AddCommand(resetCmd(env))

	return dbCmd
}

func requireDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", contextutils.WrapError(contextutils.ErrInvalidInput, "database.url is not configured")
	}
	return cfg.Database.URL, nil
}

func migrateCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbURL, err := requireDatabaseURL(env.Config)
			if err != nil {
				return err
			}
			ctx := context.Background()
			env.Logger.Info(ctx, "Running migrations", map[string]interface{}{"database": maskDatabaseURL(dbURL)})

			if err := database.NewManager(env.Logger).RunMigrations(dbURL); err != nil {
				return contextutils.WrapError(err, "migration failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func statusCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbURL, err := requireDatabaseURL(env.Config)
			if err != nil {
				return err
			}
			version, dirty, err := database.NewManager(env.Logger).MigrationStatus(dbURL)
			if err != nil {
				return err
			}
			names, err := database.MigrationNames()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database: %s\nversion:  %d\ndirty:    %t\nembedded: %d migrations\n",
				maskDatabaseURL(dbURL), version, dirty, len(names))
			return nil
		},
	}
}

func migrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "List the migrations embedded in this binary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := database.MigrationNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func resetCmd(env *Env) *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all sessions, course progress and stats",
		Long: `Permanently deletes every game session, course progress and user stats row.
The content catalog is kept. Intended for local development and testing only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbURL, err := requireDatabaseURL(env.Config)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", maskDatabaseURL(dbURL))
			if !assumeYes && !confirmReset(cmd.InOrStdin(), out) {
				fmt.Fprintln(out, "Reset cancelled.")
				return nil
			}

			ctx := context.Background()
			dm := database.NewManager(env.Logger)
			db, err := dm.InitDBWithoutMigrations(env.Config.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := dm.ResetGameData(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(out, "Game data deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&assumeYes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func confirmReset(in io.Reader, out io.Writer) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Are you sure you want to delete all game data? (type 'yes' to confirm): ")
		response, err := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))

		switch {
		case response == "yes":
			return true
		case response == "no" || response == "" || err != nil:
			return false
		default:
			fmt.Fprintln(out, "Please type 'yes' to confirm or 'no' to cancel.")
		}
	}
}
