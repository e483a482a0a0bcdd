package cli

import (
	"fmt"
	"time"

	"exam-prep-sync/internal/domain"
	"exam-prep-sync/internal/identity"
	"github.com/spf13/cobra"
)

// NewAnswerCmd records an attempt against a cached question.
func NewAnswerCmd(configPath *string) *cobra.Command {
	var seconds int
	cmd := &cobra.Command{
		Use:   "answer <questionId> <answer>",
		Short: "Record an answer to a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			questions, err := rt.cache.Questions(ctx)
			if err != nil {
				return err
			}
			var question *domain.Question
			for i := range questions {
				if questions[i].ID == args[0] {
					question = &questions[i]
					break
				}
			}
			if question == nil {
				return fmt.Errorf("question %s is not cached locally; fetch it first", args[0])
			}

			attempt := domain.Attempt{
				QuestionID:     question.ID,
				SelectedAnswer: args[1],
				IsCorrect:      args[1] == question.CorrectAnswer,
			}
			if seconds > 0 {
				attempt.TimeTakenSeconds = &seconds
			}
			recorded, err := rt.attempts.Record(ctx, attempt)
			if err != nil {
				return err
			}
			verdict := "incorrect"
			if recorded.IsCorrect {
				verdict = "correct"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (synced=%t)\n", verdict, recorded.Synced)
			if question.Explanation != nil {
				fmt.Fprintln(cmd.OutOrStdout(), *question.Explanation)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 0, "time taken to answer")
	return cmd
}

// NewStatsCmd summarizes locally cached attempts.
func NewStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show accuracy and pace from local attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			attempts, err := rt.cache.Attempts(ctx)
			if err != nil {
				return err
			}
			unsynced, err := rt.cache.UnsyncedAttempts(ctx)
			if err != nil {
				return err
			}

			var correct, timed, totalSeconds int
			for _, a := range attempts {
				if a.IsCorrect {
					correct++
				}
				if a.TimeTakenSeconds != nil {
					timed++
					totalSeconds += *a.TimeTakenSeconds
				}
			}
			avg := 0
			if timed > 0 {
				avg = totalSeconds / timed
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"attempts":    len(attempts),
				"correct":     correct,
				"accuracy":    identity.ScorePercent(correct, len(attempts)),
				"averageTime": identity.FormatDuration(avg),
				"unsynced":    len(unsynced),
				"asOf":        time.Now().Format(time.RFC3339),
			})
		},
	}
}
