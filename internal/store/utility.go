package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/sightline/internal/model"
)

// SourceStats aggregates the links touching one channel's signals.
type SourceStats struct {
	Channel         string
	Links           int
	LinkedIncidents int
	AvgConfidence   float64
	FalsePositives  int
}

// SourceLinkStats aggregates link history per channel for links created at
// or after since. Channels with no links in range are omitted.
// Thread-safe: acquires read lock.
func (s *Store) SourceLinkStats(since time.Time) ([]SourceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// A link between two signals of one channel must count once.
	rows, err := s.db.Query(`
		SELECT channel,
			COUNT(*),
			COUNT(DISTINCT CASE WHEN a LIKE 'incident:%' THEN a END),
			AVG(confidence),
			SUM(false_positive)
		FROM (
			SELECT DISTINCT s.channel, l.id, l.a, l.confidence,
				EXISTS (
					SELECT 1 FROM link_feedback f
					WHERE f.link_id = l.id AND f.verdict = 'false_positive'
				) AS false_positive
			FROM links l
			JOIN signals s ON s.current = 1 AND ('signal:' || s.id = l.a OR 'signal:' || s.id = l.b)
			WHERE l.created_at >= ?
		) per_link
		GROUP BY channel
		ORDER BY channel
	`, linkCutoff(since))
	if err != nil {
		return nil, fmt.Errorf("aggregate source stats: %w", err)
	}
	defer rows.Close()

	var out []SourceStats
	for rows.Next() {
		var st SourceStats
		if err := rows.Scan(&st.Channel, &st.Links, &st.LinkedIncidents, &st.AvgConfidence, &st.FalsePositives); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertSourceUtility stores the utility score of a source.
// Thread-safe: acquires write lock.
func (s *Store) UpsertSourceUtility(u model.SourceUtility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO source_utility (source_id, score, linked_incidents, avg_confidence, false_positives, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			score = excluded.score,
			linked_incidents = excluded.linked_incidents,
			avg_confidence = excluded.avg_confidence,
			false_positives = excluded.false_positives,
			updated_at = excluded.updated_at
	`, u.SourceID, u.Score, u.LinkedIncidents, u.AvgConfidence, u.FalsePositives, toNanos(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert source utility %s: %w", u.SourceID, err)
	}
	return nil
}

// GetSourceUtility returns the stored utility of a source.
// Thread-safe: acquires read lock.
func (s *Store) GetSourceUtility(sourceID string) (model.SourceUtility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := scanUtility(s.db.QueryRow(`
		SELECT source_id, score, linked_incidents, avg_confidence, false_positives, updated_at
		FROM source_utility WHERE source_id = ?
	`, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceUtility{}, fmt.Errorf("source %s: %w", sourceID, model.ErrNotFound)
	}
	return u, err
}

// ListSourceUtility returns all sources, highest score first.
// Thread-safe: acquires read lock.
func (s *Store) ListSourceUtility() ([]model.SourceUtility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT source_id, score, linked_incidents, avg_confidence, false_positives, updated_at
		FROM source_utility ORDER BY score DESC, source_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SourceUtility
	for rows.Next() {
		u, err := scanUtility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUtility(r rowScanner) (model.SourceUtility, error) {
	var (
		u       model.SourceUtility
		updated int64
	)
	if err := r.Scan(&u.SourceID, &u.Score, &u.LinkedIncidents, &u.AvgConfidence, &u.FalsePositives, &updated); err != nil {
		return model.SourceUtility{}, err
	}
	u.UpdatedAt = fromNanos(updated)
	return u, nil
}
