package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/model"
)

func newGraphCmd() *cobra.Command {
	var (
		hops    int
		minConf float64
		links   bool
	)
	cmd := &cobra.Command{
		Use:   "graph <incident-id>",
		Short: "Show the evidence neighborhood of an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			inc, err := sess.svc.GetIncident(ctx, args[0])
			if err != nil {
				return err
			}
			nbrs, err := sess.svc.GetIncidentGraph(ctx, args[0], hops, minConf)
			if err != nil {
				return err
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("Incident %s (%s)", inc.ID, inc.ExternalID)))
			fmt.Printf("  %s  %.4f,%.4f  %s\n", inc.Timestamp.Format("2006-01-02 15:04"), inc.Location.Lat, inc.Location.Lon, inc.Equipment)
			if len(nbrs) == 0 {
				fmt.Println(dimStyle.Render("  no linked entities"))
				return nil
			}

			fmt.Printf("\n%-4s %-6s %-46s %s\n", "HOPS", "CONF", "ENTITY", "VIA")
			for _, n := range nbrs {
				types := make([]string, len(n.LinkTypes))
				for i, t := range n.LinkTypes {
					types[i] = string(t)
				}
				fmt.Printf("%-4d %-6.3f %-46s %s\n", n.Hops, n.Confidence, n.Entity, strings.Join(types, ">"))
			}

			if !links {
				return nil
			}
			direct, err := sess.svc.LinksOf(ctx, inc.Ref())
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println(headerStyle.Render("Direct links"))
			for _, l := range direct {
				verified := ""
				if l.AnalystVerified {
					verified = " verified"
				}
				fmt.Printf("  %s %-10s %.3f %s%s\n", l.ID, l.Type, l.Confidence, formatEvidence(l.Evidence), verified)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hops, "hops", 3, "maximum traversal depth")
	cmd.Flags().Float64Var(&minConf, "min-confidence", 0.5, "ignore links below this confidence")
	cmd.Flags().BoolVar(&links, "links", false, "also list the incident's direct links with evidence")
	return cmd
}

func formatEvidence(ev model.Evidence) string {
	keys := slices.Sorted(maps.Keys(ev))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, ev[k])
	}
	return dimStyle.Render(strings.Join(parts, " "))
}
