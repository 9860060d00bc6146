package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/recite/pkg/review"
	"github.com/dotsetgreg/recite/pkg/schedule"
)

func newReviewCommand() *cobra.Command {
	var domain string
	var max int

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run an interactive review session over due concepts",
		Long: "Walks the due queue in order. For each concept, enter a rating 1-4\n" +
			"(again/hard/good/easy), s to skip, or q to end the session.",
		Example: "  recite review --domain go",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			limit := max
			if limit == 0 {
				limit = env.cfg.Review.MaxSessionSize
			}
			due, err := env.store.SelectDue(time.Now(), domainFilter(domain), limit)
			if err != nil {
				return err
			}
			if len(due) == 0 {
				fmt.Println("Nothing due. 🎉")
				return nil
			}

			fmt.Printf("%d concepts due. Ratings: 1=again 2=hard 3=good 4=easy, s=skip, q=quit.\n\n", len(due))
			runSession(cmd, env, due)
			return nil
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Only concepts under this domain prefix")
	cmd.Flags().IntVarP(&max, "max", "m", 0, "Session size cap (0 = configured default)")
	return cmd
}

func runSession(cmd *cobra.Command, env *appEnv, due []schedule.MemoryState) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rating> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".recite_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	graded, skipped := 0, 0
	for i, ms := range due {
		fmt.Printf("[%d/%d] %s  (%s, %d reviews", i+1, len(due), ms.ConceptID, ms.State, ms.ReviewCount)
		if ms.LapseCount > 0 {
			fmt.Printf(", %d lapses", ms.LapseCount)
		}
		fmt.Println(")")
		warnIfStruggling(cmd, env, ms.ConceptID)

		done := false
		for !done {
			line, err := rl.Readline()
			if err != nil {
				if err == readline.ErrInterrupt || err == io.EOF {
					printSessionSummary(graded, skipped)
					return
				}
				fmt.Printf("Error reading input: %v\n", err)
				continue
			}

			input := strings.TrimSpace(line)
			switch input {
			case "":
				continue
			case "q", "quit", "exit":
				printSessionSummary(graded, skipped)
				return
			case "s", "skip":
				skipped++
				done = true
				continue
			}

			rating, err := parseRating(input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}

			now := time.Now()
			next, err := env.sched.Grade(cmd.Context(), ms.ConceptID, rating, now)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				printSessionSummary(graded, skipped)
				return
			}
			fmt.Printf("  → %s\n\n", formatDue(next.DueAt, now))
			graded++
			done = true
		}
	}
	printSessionSummary(graded, skipped)
}

func warnIfStruggling(cmd *cobra.Command, env *appEnv, conceptID string) {
	entries, err := env.log.Query(cmd.Context(), conceptID, env.cfg.Struggle.Window)
	if err != nil {
		return
	}
	if review.Struggling(entries, env.cfg.Struggle.Window, env.cfg.Struggle.MinLowRatings) {
		fmt.Println("  ⚠ struggled with this one recently, consider revisiting the source note")
	}
}

func printSessionSummary(graded, skipped int) {
	fmt.Printf("\nSession done: %d graded, %d skipped.\n", graded, skipped)
}
