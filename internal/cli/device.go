package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/identity"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewSyncCmd drains the sync queue once.
func NewSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes to the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.attempts.Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "delivered=%d dropped=%d remaining=%d\n",
				report.Delivered, report.Dropped, report.Remaining)
			return err
		},
	}
}

type questionView struct {
	ID         string   `json:"id"`
	Subject    string   `json:"subject"`
	Topic      string   `json:"topic"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Difficulty string   `json:"difficulty"`
}

// NewQuestionsCmd fetches a question set, optionally excluding used ones.
func NewQuestionsCmd(configPath *string) *cobra.Command {
	var (
		req     app.FetchRequest
		shuffle bool
		reset   bool
		markAll bool
	)
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Fetch practice questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			var set app.QuestionSet
			if reset {
				set, err = rt.questions.ResetUsed(ctx, req)
			} else {
				set, err = rt.questions.Fetch(ctx, req)
			}
			if err != nil {
				return err
			}

			questions := set.Questions
			if shuffle {
				questions = identity.Shuffle(questions)
			}
			out := make([]questionView, 0, len(questions))
			for _, q := range questions {
				options := q.Options
				if shuffle {
					options = identity.Shuffle(options)
				}
				out = append(out, questionView{
					ID:         q.ID,
					Subject:    q.Subject,
					Topic:      q.Topic,
					Question:   q.QuestionText,
					Options:    options,
					Difficulty: identity.DifficultyLabel(q.Difficulty),
				})
				if markAll {
					if err := rt.questions.MarkUsed(ctx, q.ID, req.SessionType); err != nil {
						return err
					}
				}
			}
			if set.FromCache {
				rt.logger.Warn("remote unavailable, served from local cache", "count", len(out))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&req.Subject, "subject", "", "subject filter")
	cmd.Flags().StringVar(&req.Topic, "topic", "", "topic filter")
	cmd.Flags().BoolVar(&req.ExcludeUsed, "exclude-used", false, "skip questions already used in this session type")
	cmd.Flags().StringVar(&req.SessionType, "session", app.DefaultSessionType, "session type for used-question bookkeeping")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "shuffle questions and options")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear used marks for the session type before fetching")
	cmd.Flags().BoolVar(&markAll, "mark-used", false, "mark every returned question as used")
	return cmd
}

// NewProgressCmd prints today's goal progress and streak.
func NewProgressCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show today's goal progress and streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := rt.progress.Load(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

// NewGoalCmd sets today's question target.
func NewGoalCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "goal <target>",
		Short: "Set today's question target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("target must be a number: %w", err)
			}
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := rt.progress.SaveGoal(cmd.Context(), target)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

// NewNicknameCmd prints or sets the device nickname.
func NewNicknameCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "nickname [name]",
		Short: "Show or change the nickname used in pods",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 1 {
				name := strings.TrimSpace(args[0])
				if name == "" {
					return fmt.Errorf("nickname must not be blank")
				}
				rt.identity.SetNickname(name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", rt.identity.Nickname(), rt.identity.DeviceID())
			return nil
		},
	}
}
