package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/model"
)

func newClassificationCmd() *cobra.Command {
	var reclassify, noWait bool
	cmd := &cobra.Command{
		Use:   "classification <incident-id>",
		Short: "Show an incident's classification, assessment and recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			var c model.Classification
			switch {
			case reclassify && noWait:
				c, err = sess.svc.ClassifyNoWait(ctx, args[0])
			case reclassify:
				c, err = sess.svc.Classify(ctx, args[0])
			default:
				c, err = sess.svc.GetClassification(ctx, args[0])
			}
			if err != nil {
				return err
			}
			printClassification(c)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reclassify, "reclassify", false, "classify now instead of showing the stored result")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "with --reclassify, fail instead of waiting for a running pass")
	return cmd
}

func printClassification(c model.Classification) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("Incident %s: %s", c.IncidentID, c.Class)))
	if c.Class == model.ClassUnclassified {
		fmt.Println(dimStyle.Render("  not classified yet; run a pass or use --reclassify"))
		return
	}
	fmt.Printf("  rule         %s\n", c.Rule)
	fmt.Printf("  classified   %s\n", c.ClassifiedAt.Format(time.RFC3339))
	if c.LaunchZone != nil {
		fmt.Printf("  launch zone  %.0f km around %.4f,%.4f\n", c.LaunchZone.RadiusKm, c.LaunchZone.Center.Lat, c.LaunchZone.Center.Lon)
	}
	fmt.Printf("\n  %s\n", c.Assessment)

	if len(c.Recommendations) == 0 {
		fmt.Println(dimStyle.Render("\n  no countermeasures apply"))
		return
	}
	fmt.Println()
	fmt.Println(headerStyle.Render("Recommendations"))
	for _, r := range c.Recommendations {
		where := "deploy at incident"
		if r.Informational {
			where = "informational"
		} else if r.Deploy != nil {
			where = fmt.Sprintf("deploy at %.4f,%.4f", r.Deploy.Lat, r.Deploy.Lon)
		}
		fmt.Printf("  %s %.3f  %-36s %s\n", renderTier(r.Tier), r.Score, truncate(r.CounterMeasure, 36), dimStyle.Render(where))
		fmt.Printf("           %s\n", dimStyle.Render(r.Reasoning))
	}
}
