package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/priority"
)

func newSourcesCmd() *cobra.Command {
	var (
		recompute bool
		base      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sources [source-id]",
		Short: "Show source utility scores and the poll interval they suggest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if recompute {
				if _, err := sess.svc.RecomputeUtility(ctx, time.Now()); err != nil {
					return err
				}
			}

			if len(args) == 1 {
				u, err := sess.svc.GetSourceUtility(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(headerStyle.Render(u.SourceID))
				fmt.Printf("  score            %.2f\n", u.Score)
				fmt.Printf("  linked incidents %d\n", u.LinkedIncidents)
				fmt.Printf("  avg confidence   %.3f\n", u.AvgConfidence)
				fmt.Printf("  false positives  %d\n", u.FalsePositives)
				fmt.Printf("  poll every       %s\n", priority.PollInterval(base, u.Score))
				fmt.Printf("  updated          %s\n", u.UpdatedAt.Format(time.RFC3339))
				return nil
			}

			ranking, err := sess.svc.SourceRanking(ctx)
			if err != nil {
				return err
			}
			if len(ranking) == 0 {
				fmt.Println(dimStyle.Render("no scored sources; run a pass or use --recompute"))
				return nil
			}
			fmt.Printf("%-32s %7s %7s %6s %4s %10s\n", "SOURCE", "SCORE", "LINKED", "CONF", "FP", "POLL")
			for _, u := range ranking {
				fmt.Printf("%-32s %7.2f %7d %6.3f %4d %10s\n",
					truncate(u.SourceID, 32), u.Score, u.LinkedIncidents, u.AvgConfidence, u.FalsePositives,
					priority.PollInterval(base, u.Score))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "recompute utility before printing")
	cmd.Flags().DurationVar(&base, "base-interval", 10*time.Minute, "poll interval of a source scoring 50")
	return cmd
}
