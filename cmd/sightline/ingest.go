package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/model"
)

// record is one JSONL ingestion line. Type selects incident or signal.
type record struct {
	Type       string    `json:"type"` // "incident" or "signal"
	ExternalID string    `json:"external_id"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        *float64  `json:"lat"`
	Lon        *float64  `json:"lon"`

	// Incident fields
	Description        string  `json:"description"`
	Equipment          string  `json:"equipment"`
	RangeKm            float64 `json:"range_km"`
	Confidence         float64 `json:"confidence"`
	AuthorizedExercise bool    `json:"authorized_exercise"`

	// Signal fields
	Kind     string       `json:"kind"`
	Channel  string       `json:"channel"`
	Content  string       `json:"content"`
	Amount   float64      `json:"amount"`
	Currency string       `json:"currency"`
	RefersTo []string     `json:"refers_to"`
	Scores   model.Scores `json:"scores"`
}

// toIncident converts an incident record. Coordinates are required.
func (r record) toIncident() (model.Incident, error) {
	if r.Lat == nil || r.Lon == nil {
		return model.Incident{}, fmt.Errorf("%w: incident %s has no coordinates", model.ErrInvalidEntity, r.ExternalID)
	}
	return model.Incident{
		ExternalID:         r.ExternalID,
		Timestamp:          r.Timestamp,
		Location:           model.GeoPoint{Lat: *r.Lat, Lon: *r.Lon},
		Description:        r.Description,
		Equipment:          r.Equipment,
		EquipmentRangeKm:   r.RangeKm,
		Confidence:         r.Confidence,
		AuthorizedExercise: r.AuthorizedExercise,
	}, nil
}

// toSignal converts a signal record. Kind defaults to post.
func (r record) toSignal() model.Signal {
	sig := model.Signal{
		ExternalID: r.ExternalID,
		Kind:       model.SignalKind(r.Kind),
		Timestamp:  r.Timestamp,
		Channel:    r.Channel,
		Content:    r.Content,
		Amount:     r.Amount,
		Currency:   r.Currency,
		RefersTo:   r.RefersTo,
	}
	if sig.Kind == "" {
		sig.Kind = model.SignalPost
	}
	if r.Lat != nil && r.Lon != nil {
		sig.Location = &model.GeoPoint{Lat: *r.Lat, Lon: *r.Lon}
	}
	return sig
}

type ingestStats struct {
	incidents, signals, unchanged, rejected int
}

func newIngestCmd() *cobra.Command {
	var (
		pass   bool
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [file.jsonl]",
		Short: "Submit incidents and signals from a JSONL file (stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			var in io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			st, err := ingest(ctx, sess, in, strict)
			fmt.Printf("incidents %d  signals %d  unchanged %d  rejected %d\n",
				st.incidents, st.signals, st.unchanged, st.rejected)
			if err != nil {
				return err
			}

			if pass {
				sum, err := sess.svc.RunCorrelationPass(ctx, time.Time{})
				printSummary(sum)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pass, "pass", false, "run a correlation pass after ingesting")
	cmd.Flags().BoolVar(&strict, "strict", false, "stop at the first invalid record")
	return cmd
}

func ingest(ctx context.Context, sess *session, in io.Reader, strict bool) (ingestStats, error) {
	var st ingestStats
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		created, kind, err := submit(ctx, sess, raw)
		switch {
		case errors.Is(err, model.ErrInvalidEntity):
			st.rejected++
			fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("line %d: %v", line, err)))
			if strict {
				return st, err
			}
			continue
		case err != nil:
			return st, fmt.Errorf("line %d: %w", line, err)
		}
		switch {
		case !created:
			st.unchanged++
		case kind == "incident":
			st.incidents++
		default:
			st.signals++
		}
	}
	return st, scanner.Err()
}

func submit(ctx context.Context, sess *session, raw []byte) (created bool, kind string, err error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return false, "", fmt.Errorf("%w: %v", model.ErrInvalidEntity, err)
	}
	switch r.Type {
	case "incident":
		inc, err := r.toIncident()
		if err != nil {
			return false, r.Type, err
		}
		_, created, err := sess.svc.SubmitIncident(ctx, inc)
		return created, r.Type, err
	case "signal":
		_, created, err := sess.svc.SubmitSignal(ctx, r.toSignal(), r.Scores)
		return created, r.Type, err
	default:
		return false, r.Type, fmt.Errorf("%w: unknown record type %q", model.ErrInvalidEntity, r.Type)
	}
}
