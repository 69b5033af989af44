package commands

import (
	"context"
	"fmt"
	"os"

	"levelquest/internal/content"
	"levelquest/internal/database"
	contextutils "levelquest/internal/utils"

	"github.com/spf13/cobra"
)

// ContentCommands returns commands that check catalog files and import them into postgres
func ContentCommands(env *Env) *cobra.Command {
	contentCmd := &cobra.Command{
		Use:   "content",
		Short: "Validate catalog seed files and question documents",
	}

	contentCmd.AddCommand(&cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Validate a YAML catalog seed and upsert it into the postgres catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := requireDatabaseURL(env.Config)
			if err != nil {
				return err
			}
			catalog := content.NewMemoryCatalog()
			if err := catalog.LoadSeedFile(args[0]); err != nil {
				return err
			}

			ctx := context.Background()
			db, err := database.NewManager(env.Logger).InitDBWithoutMigrations(env.Config.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			result, err := content.ImportCatalog(ctx, db, catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d courses, %d chapters, %d levels into %s\n",
				result.Courses, result.Chapters, result.Levels, maskDatabaseURL(dbURL))
			return nil
		},
	})

	contentCmd.AddCommand(&cobra.Command{
		Use:   "validate-seed <catalog.yaml>",
		Short: "Load a YAML catalog seed and validate every level's questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := content.NewMemoryCatalog()
			if err := catalog.LoadSeedFile(args[0]); err != nil {
				return err
			}
			courses, chapters, levels := catalog.Size()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d courses, %d chapters, %d levels\n", args[0], courses, chapters, levels)
			return nil
		},
	})

	contentCmd.AddCommand(&cobra.Command{
		Use:   "validate-questions <questions.json>",
		Short: "Validate a level's questions document against the question schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return contextutils.WrapErrorf(err, "failed to read %s", args[0])
			}
			questions, err := content.DecodeQuestions(raw)
			if err != nil {
				return err
			}
			counts := make(map[string]int)
			for _, q := range questions {
				counts[string(q.Type)]++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d questions %v\n", args[0], len(questions), counts)
			return nil
		},
	})

	return contentCmd
}
