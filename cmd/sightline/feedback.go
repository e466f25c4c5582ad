package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/model"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <link-id> confirmed|false_positive|delete",
		Short: "Record an analyst verdict on a link, or delete it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			linkID, verdict := args[0], args[1]
			if verdict == "delete" {
				if err := sess.svc.DeleteLink(ctx, linkID); err != nil {
					return err
				}
				fmt.Printf("deleted link %s\n", linkID)
				return nil
			}
			if err := sess.svc.RecordFeedback(ctx, linkID, model.Verdict(verdict)); err != nil {
				return err
			}
			fmt.Printf("link %s marked %s\n", linkID, verdict)
			return nil
		},
	}
	return cmd
}
