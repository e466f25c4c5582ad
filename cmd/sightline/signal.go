package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/model"
)

func newSignalCmd() *cobra.Command {
	var versions bool
	cmd := &cobra.Command{
		Use:   "signal <signal-id>",
		Short: "Show a signal, or every scored version of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			all, err := sess.svc.SignalVersions(ctx, args[0])
			if err != nil {
				return err
			}
			cur := all[len(all)-1]
			fmt.Println(headerStyle.Render(fmt.Sprintf("Signal %s (%s)", cur.ID, cur.ExternalID)))
			fmt.Printf("  kind         %s\n", cur.Kind)
			fmt.Printf("  channel      %s\n", cur.Channel)
			fmt.Printf("  timestamp    %s\n", cur.Timestamp.Format(time.RFC3339))
			if cur.Location != nil {
				fmt.Printf("  location     %.4f,%.4f\n", cur.Location.Lat, cur.Location.Lon)
			}
			if cur.Kind == model.SignalTransaction {
				fmt.Printf("  amount       %.2f %s\n", cur.Amount, cur.Currency)
			}
			if cur.Content != "" {
				fmt.Printf("\n  %s\n", cur.Content)
			}

			if !versions {
				fmt.Printf("\n  v%d  %s\n", cur.Version, formatScores(cur.Scores))
				return nil
			}
			fmt.Printf("\n%-4s %-20s %s\n", "VER", "INGESTED", "SCORES")
			for _, v := range all {
				fmt.Printf("%-4d %-20s %s\n", v.Version, v.IngestedAt.UTC().Format("2006-01-02 15:04:05"), formatScores(v.Scores))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&versions, "versions", false, "list every stored version, oldest first")
	return cmd
}

// formatScores renders normalized scores, "-" for the ones a scorer never set.
func formatScores(s model.Scores) string {
	f := func(p *float64) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", *p)
	}
	return strings.Join([]string{
		"suspicion=" + f(s.Suspicion),
		"sentiment=" + f(s.Sentiment),
		"credibility=" + f(s.Credibility),
	}, " ")
}
