package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"levelquest/internal/models"
	contextutils "levelquest/internal/utils"

	"github.com/spf13/cobra"
)

// GameCommands returns the session maintenance and inspection commands
func GameCommands(env *Env) []*cobra.Command {
	return []*cobra.Command{
		sweepCmd(env),
		rebuildCmd(env),
		sessionCmd(env),
		statsCmd(env),
	}
}

func sweepCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions and retry pending aggregations once",
		Long: `Runs every worker job once against the configured store:
expires active sessions older than game.session_ttl and re-applies
completed sessions whose progress or stats update failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			wk, err := container.GetWorker()
			if err != nil {
				return err
			}

			wk.RunOnce(ctx)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSTATUS\tPROCESSED\tDURATION\tDETAILS")
			for _, run := range wk.GetHistory() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", run.Job, run.Status, run.Processed, run.Duration.Round(time.Millisecond), run.Details)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if msg := wk.GetStatus().LastRunError; msg != "" {
				return contextutils.WrapErrorf(contextutils.ErrInternalError, "sweep finished with errors: %s", msg)
			}
			return nil
		},
	}
}

func rebuildCmd(env *Env) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "rebuild-aggregates",
		Short: "Recompute a learner's course progress and stats from session history",
		Long: `Drops the learner's course progress and stats and replays every completed
session in completion order. Run it only while the learner is not playing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "--user is required")
			}
			ctx := context.Background()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			rebuild, err := container.GetRebuildService()
			if err != nil {
				return err
			}

			replayed, err := rebuild.RebuildUser(ctx, userID)
			if err != nil {
				return contextutils.WrapErrorf(err, "rebuild failed for user %s", userID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d completed sessions for %s\n", replayed, userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "learner id to rebuild")
	return cmd
}

func sessionCmd(env *Env) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect game sessions",
	}

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			sess, err := container.GetStore().GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sess)
		},
	}

	var (
		userID string
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List a learner's sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "--user is required")
			}
			ctx := context.Background()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			sessions, err := container.GetStore().ListSessions(ctx, models.SessionFilter{
				UserID:      userID,
				Status:      models.SessionStatus(status),
				NewestFirst: true,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			return writeSessionTable(cmd, sessions)
		},
	}
	list.Flags().StringVar(&userID, "user", "", "learner id")
	list.Flags().StringVar(&status, "status", "", "filter by status (active, completed, abandoned, expired)")
	list.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")

	sessionCmd.AddCommand(show, list)
	return sessionCmd
}

func writeSessionTable(cmd *cobra.Command, sessions []*models.Session) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLEVEL\tSTATUS\tSCORE\tSTARS\tLIVES\tANSWERED\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d/%d\t%s\n",
			s.ID, s.LevelID, s.Status, s.Score, s.MaxScore, s.Stars, s.Lives,
			len(s.AnsweredQuestions), s.QuestionCount, s.StartTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

func statsCmd(env *Env) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a learner's cross-course stats as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "--user is required")
			}
			ctx := context.Background()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			statsService, err := container.GetStatsService()
			if err != nil {
				return err
			}
			st, err := statsService.GetUserStats(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "learner id")
	return cmd
}
