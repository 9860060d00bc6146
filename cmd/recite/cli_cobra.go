package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/recite/pkg/config"
	"github.com/dotsetgreg/recite/pkg/fsrs"
	"github.com/dotsetgreg/recite/pkg/history"
	"github.com/dotsetgreg/recite/pkg/notify"
	"github.com/dotsetgreg/recite/pkg/remind"
	"github.com/dotsetgreg/recite/pkg/review"
	"github.com/dotsetgreg/recite/pkg/schedule"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "recite",
		Short: "Spaced-repetition review scheduling for a Markdown knowledge graph",
		Long: strings.TrimSpace(`recite keeps a memory model per concept and schedules reviews.

Grade recall 1-4 per concept; recite updates difficulty and stability,
computes the next due date under the configured target retention, and
records every grading in an append-only history.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newInitCommand())
	root.AddCommand(newGradeCommand())
	root.AddCommand(newReviewCommand())
	root.AddCommand(newDueCommand())
	root.AddCommand(newPreviewCommand())
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newBackupCommand())
	root.AddCommand(newRemindCommand())
	root.AddCommand(newReplayCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// appEnv bundles the opened stores for one command invocation.
type appEnv struct {
	cfg   *config.Config
	store *schedule.Store
	log   *history.Log
	sched *review.Scheduler
}

func openEnv() (*appEnv, error) {
	cfg, err := config.LoadConfig(config.ConfigPath())
	if err != nil {
		return nil, err
	}

	store, err := schedule.Open(cfg.SchedulePath(), cfg.BackupDir(), cfg.Backup.RetentionCount)
	if err != nil {
		return nil, err
	}
	log, err := history.Open(cfg.HistoryPath())
	if err != nil {
		store.Close()
		return nil, err
	}

	model := fsrs.DefaultModel()
	if len(cfg.Review.Weights) == 17 {
		var w fsrs.Weights
		copy(w[:], cfg.Review.Weights)
		model, err = fsrs.NewModel(w)
		if err != nil {
			store.Close()
			log.Close()
			return nil, err
		}
	}

	sched, err := review.NewScheduler(model, store, log, review.Options{
		DesiredRetention: cfg.Review.DesiredRetention,
		MinIntervalDays:  cfg.Review.MinIntervalDays,
		MaxIntervalDays:  cfg.Review.MaxIntervalDays,
		FuzzFraction:     fuzzOrDisabled(cfg.Review.FuzzFraction),
	})
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}
	return &appEnv{cfg: cfg, store: store, log: log, sched: sched}, nil
}

// fuzzOrDisabled maps a configured 0 to the scheduler's explicit
// "disabled" value, since 0 means "use default" in review.Options.
func fuzzOrDisabled(f float64) float64 {
	if f == 0 {
		return -1
	}
	return f
}

func (e *appEnv) Close() {
	e.log.Close()
	e.store.Close()
}

// domainFilter matches concept IDs under a domain path prefix.
func domainFilter(domain string) func(string) bool {
	if domain == "" {
		return nil
	}
	prefix := strings.TrimSuffix(domain, "/") + "/"
	return func(id string) bool {
		return id == domain || strings.HasPrefix(id, prefix)
	}
}

func parseRating(s string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "again":
		return fsrs.Again, nil
	case "2", "hard":
		return fsrs.Hard, nil
	case "3", "good":
		return fsrs.Good, nil
	case "4", "easy":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("%w: %q (use 1-4 or again/hard/good/easy)", fsrs.ErrInvalidRating, s)
	}
}

func formatDue(due, now time.Time) string {
	d := due.Sub(now)
	switch {
	case d < 0:
		return fmt.Sprintf("overdue by %s", formatDays(-d))
	case d < 24*time.Hour:
		return fmt.Sprintf("due in %dh", int(d.Hours()))
	default:
		return fmt.Sprintf("due in %s", formatDays(d))
	}
}

func formatDays(d time.Duration) string {
	days := d.Hours() / 24
	if days < 1 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%.1fd", days)
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Create the default ~/.recite configuration and data directory",
		Example: "  recite onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(path, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.BackupDir(), 0o755); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Printf("Schedule:  %s\n", cfg.SchedulePath())
			fmt.Printf("History:   %s\n", cfg.HistoryPath())
			fmt.Printf("Backups:   %s\n", cfg.BackupDir())
			return nil
		},
	}
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init <concept-id>...",
		Short: "Register concepts as new, immediately-due cards",
		Example: strings.Join([]string{
			"  recite init math/chain-rule",
			"  recite init go/interfaces go/channels",
		}, "\n"),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			now := time.Now()
			for _, id := range args {
				if _, err := env.sched.Initialize(cmd.Context(), id, now); err != nil {
					return err
				}
				fmt.Printf("Initialized %s\n", id)
			}
			return nil
		},
	}
}

func newGradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "grade <concept-id> <rating>",
		Short:   "Grade one concept without an interactive session",
		Example: "  recite grade math/chain-rule 3",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := parseRating(args[1])
			if err != nil {
				return err
			}
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			now := time.Now()
			ms, err := env.sched.Grade(cmd.Context(), args[0], rating, now)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s → %s, stability %.1fd, %s\n",
				ms.ConceptID, rating, ms.State, ms.Stability, formatDue(ms.DueAt, now))
			return nil
		},
	}
}

func newDueCommand() *cobra.Command {
	var domain string
	var max int

	cmd := &cobra.Command{
		Use:     "due",
		Short:   "List concepts due for review",
		Example: "  recite due --domain math --max 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			now := time.Now()
			due, err := env.store.SelectDue(now, domainFilter(domain), max)
			if err != nil {
				return err
			}
			if len(due) == 0 {
				fmt.Println("Nothing due.")
				return nil
			}
			for _, ms := range due {
				fmt.Printf("%-40s %s  (%s, %d reviews)\n", ms.ConceptID, formatDue(ms.DueAt, now), ms.State, ms.ReviewCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Only concepts under this domain prefix")
	cmd.Flags().IntVarP(&max, "max", "m", 0, "Maximum number of concepts (0 = all)")
	return cmd
}

func newPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "preview <concept-id>",
		Short:   "Show the interval each rating would produce",
		Example: "  recite preview math/chain-rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			now := time.Now()
			preview, err := env.sched.Preview(cmd.Context(), args[0], now)
			if err != nil {
				return err
			}
			for _, r := range []fsrs.Rating{fsrs.Again, fsrs.Hard, fsrs.Good, fsrs.Easy} {
				ms := preview[r]
				fmt.Printf("%d %-6s stability %6.1fd  %s\n", int(r), r, ms.Stability, formatDue(ms.DueAt, now))
			}
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "history <concept-id>",
		Short:   "Show recent gradings for a concept, newest first",
		Example: "  recite history math/chain-rule --limit 10",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			entries, err := env.log.Query(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No history.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-5s  %s → %s  S %.1f → %.1f  D %.1f → %.1f\n",
					e.ReviewedAt.Local().Format("2006-01-02 15:04"), e.Rating,
					e.StateBefore, e.StateAfter,
					e.StabilityBefore, e.StabilityAfter,
					e.DifficultyBefore, e.DifficultyAfter)
			}
			if review.Struggling(entries, env.cfg.Struggle.Window, env.cfg.Struggle.MinLowRatings) {
				fmt.Println("⚠ struggling: repeated low ratings in the recent window")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum entries to show (0 = all)")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			states, err := env.store.Load()
			if err != nil {
				return err
			}
			now := time.Now()
			st := review.ComputeStats(states, now)

			fmt.Printf("Concepts:        %d\n", st.Total)
			order := []fsrs.State{fsrs.New, fsrs.Learning, fsrs.Review, fsrs.Relearning}
			for _, s := range order {
				if n := st.ByState[s]; n > 0 {
					fmt.Printf("  %-12s %d\n", s.String()+":", n)
				}
			}
			fmt.Printf("Due now:         %d\n", st.DueNow)
			fmt.Printf("Due within 7d:   %d\n", st.DueWithinWeek)
			fmt.Printf("Total lapses:    %d\n", st.TotalLapses)
			if st.Total > 0 {
				fmt.Printf("Avg difficulty:  %.1f\n", st.AvgDifficulty)
				fmt.Printf("Avg stability:   %.1fd\n", st.AvgStability)
			}

			if struggling := strugglingConcepts(cmd.Context(), env, states); len(struggling) > 0 {
				fmt.Printf("Struggling:      %s\n", strings.Join(struggling, ", "))
			}
			return nil
		},
	}
}

func strugglingConcepts(ctx context.Context, env *appEnv, states map[string]schedule.MemoryState) []string {
	var out []string
	for id := range states {
		entries, err := env.log.Query(ctx, id, env.cfg.Struggle.Window)
		if err != nil {
			continue
		}
		if review.Struggling(entries, env.cfg.Struggle.Window, env.cfg.Struggle.MinLowRatings) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up the schedule file and rotate old backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			path, err := env.store.Backup()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("No schedule file yet, nothing to back up.")
				return nil
			}
			fmt.Printf("Backed up to %s\n", path)
			return nil
		},
	}
}

func newRemindCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send due-review reminders on the configured cron schedule",
		Long: "Posts the number of due concepts to Discord when a reminder token is\n" +
			"configured, otherwise to stdout. --once checks immediately and exits.",
		Example: "  recite remind --once",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			var notifier notify.Notifier = notify.StdoutNotifier{}
			if env.cfg.Reminder.DiscordToken != "" {
				notifier, err = notify.NewDiscordNotifier(env.cfg.Reminder.DiscordToken, env.cfg.Reminder.DiscordChannel)
				if err != nil {
					return err
				}
			}
			defer notifier.Close()

			counter := func(now time.Time) (int, error) {
				due, err := env.store.SelectDue(now, nil, 0)
				if err != nil {
					return 0, err
				}
				return len(due), nil
			}
			svc, err := remind.New(env.cfg.Reminder.Cron, notifier, counter)
			if err != nil {
				return err
			}

			if once {
				return svc.RunOnce(cmd.Context())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Check once and exit instead of looping")
	return cmd
}

func newReplayCommand() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "replay <concept-id>",
		Short: "Recompute a concept's state from its review history",
		Long: "Re-applies every logged grading from scratch and compares the result\n" +
			"against the stored schedule entry. --repair writes the recomputed state\n" +
			"back when they differ.",
		Example: "  recite replay math/chain-rule --repair",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			replayed, err := env.sched.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if err := env.store.Acquire(); err != nil {
				return err
			}
			defer env.store.Release()
			states, err := env.store.Load()
			if err != nil {
				return err
			}
			stored, ok := states[args[0]]
			if ok && stored.Equal(replayed) {
				fmt.Println("Schedule matches history.")
				return nil
			}

			if !ok {
				fmt.Println("Concept missing from schedule.")
			} else {
				fmt.Printf("Mismatch: stored due %s, replayed due %s\n",
					stored.DueAt.Format(time.RFC3339), replayed.DueAt.Format(time.RFC3339))
			}
			if !repair {
				fmt.Println("Run with --repair to restore the replayed state.")
				return nil
			}
			states[args[0]] = replayed
			if err := env.store.Commit(states); err != nil {
				return err
			}
			fmt.Println("Repaired from history.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Write the replayed state back to the schedule")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
