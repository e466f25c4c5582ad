package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/coord"
)

func newPassCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one correlation pass over entities ingested since the watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since value: %w", err)
				}
				from = t
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			sum, err := sess.svc.RunCorrelationPass(ctx, from)
			printSummary(sum)
			return err
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 time to reprocess from (default: stored watermark)")
	return cmd
}

// printSummary prints a pass summary, including partial results of a
// failed pass.
func printSummary(sum coord.Summary) {
	if sum.PassID == "" {
		return
	}
	fmt.Println(headerStyle.Render("Pass " + sum.PassID))
	if !sum.Since.IsZero() {
		fmt.Printf("  window       %s .. %s\n", sum.Since.Format(time.RFC3339), sum.Cutoff.Format(time.RFC3339))
	} else {
		fmt.Printf("  window       start .. %s\n", sum.Cutoff.Format(time.RFC3339))
	}
	fmt.Printf("  entities     %d\n", sum.EntitiesProcessed)
	fmt.Printf("  links        %d new, %d existing, %d dropped\n", sum.LinksCreated, sum.LinksExisting, sum.LinksDropped)
	fmt.Printf("  classified   %d\n", sum.IncidentsClassified)
	if sum.UtilityRecomputed {
		fmt.Println("  utility      recomputed")
	}
	fmt.Printf("  duration     %s\n", sum.Duration.Round(time.Millisecond))

	if len(sum.Skipped) == 0 {
		return
	}
	fmt.Println(warnStyle.Render(fmt.Sprintf("  skipped      %d", len(sum.Skipped))))
	for _, s := range sum.Skipped {
		fmt.Printf("    %-11s %-48s %s\n", s.Matcher, s.Entity, dimStyle.Render(s.Reason))
	}
}
