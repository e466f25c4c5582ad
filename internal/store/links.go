package store

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/abelbrown/sightline/internal/model"
)

const linkSelect = `
	SELECT l.id, l.a, l.b, l.link_type, l.confidence, l.evidence, l.auto_detected, l.created_at,
		COALESCE(f.verdict, '')
	FROM links l
	LEFT JOIN link_feedback f ON f.link_id = l.id`

// SaveLink persists a link. Links are keyed by (A, B, type, evidence
// fingerprint); re-saving the same assertion is ignored and returns false.
// Thread-safe: acquires write lock.
func (s *Store) SaveLink(l model.Link) (bool, error) {
	if err := l.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrInvalidEntity, err)
	}
	ev, err := json.Marshal(l.Evidence)
	if err != nil {
		return false, fmt.Errorf("encode evidence: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO links (id, a, b, link_type, confidence, evidence, fingerprint, auto_detected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID,
		l.A.String(),
		l.B.String(),
		string(l.Type),
		l.Confidence,
		string(ev),
		l.Evidence.Fingerprint(),
		boolToInt(l.AutoDetected),
		toNanos(l.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert link %s: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Links yields every stored link in creation order.
func (s *Store) Links() iter.Seq2[model.Link, error] {
	return func(yield func(model.Link, error) bool) {
		lastTS, lastID := int64(-1), ""
		for {
			page, err := s.linkPage(lastTS, lastID)
			if err != nil {
				yield(model.Link{}, err)
				return
			}
			for _, l := range page {
				if !yield(l, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			lastTS, lastID = toNanos(last.CreatedAt), last.ID
		}
	}
}

func (s *Store) linkPage(afterTS int64, afterID string) ([]model.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLinks(linkSelect+`
		WHERE l.created_at > ? OR (l.created_at = ? AND l.id > ?)
		ORDER BY l.created_at ASC, l.id ASC LIMIT ?`, afterTS, afterTS, afterID, pageSize)
}

// LinksFor returns every link with ref as an endpoint.
// Thread-safe: acquires read lock.
func (s *Store) LinksFor(ref model.EntityRef) ([]model.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := ref.String()
	return s.queryLinks(linkSelect+` WHERE l.a = ? OR l.b = ? ORDER BY l.created_at ASC, l.id ASC`, key, key)
}

// GetLink returns a link by id.
// Thread-safe: acquires read lock.
func (s *Store) GetLink(id string) (model.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links, err := s.queryLinks(linkSelect+` WHERE l.id = ?`, id)
	if err != nil {
		return model.Link{}, err
	}
	if len(links) == 0 {
		return model.Link{}, fmt.Errorf("link %s: %w", id, model.ErrNotFound)
	}
	return links[0], nil
}

// queryLinks runs a link query. Caller must hold s.mu.
func (s *Store) queryLinks(query string, args ...any) ([]model.Link, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		var (
			l                model.Link
			a, b, typ, ev, v string
			auto             int
			created          int64
		)
		if err := rows.Scan(&l.ID, &a, &b, &typ, &l.Confidence, &ev, &auto, &created, &v); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		if l.A, err = model.ParseEntityRef(a); err != nil {
			return nil, err
		}
		if l.B, err = model.ParseEntityRef(b); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ev), &l.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence of link %s: %w", l.ID, err)
		}
		l.Type = model.LinkType(typ)
		l.AutoDetected = auto != 0
		l.AnalystVerified = model.Verdict(v) == model.VerdictConfirmed
		l.CreatedAt = fromNanos(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteLink removes a link and its feedback. Deletion is an analyst action.
// Thread-safe: acquires write lock.
func (s *Store) DeleteLink(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM links WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete link %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("link %s: %w", id, model.ErrNotFound)
	}
	if _, err := tx.Exec("DELETE FROM link_feedback WHERE link_id = ?", id); err != nil {
		return fmt.Errorf("delete feedback for link %s: %w", id, err)
	}
	return tx.Commit()
}

// RecordFeedback stores an analyst verdict on a link. A later verdict
// replaces an earlier one.
// Thread-safe: acquires write lock.
func (s *Store) RecordFeedback(linkID string, verdict model.Verdict) error {
	switch verdict {
	case model.VerdictConfirmed, model.VerdictFalsePositive:
	default:
		return fmt.Errorf("%w: unknown verdict %q", model.ErrInvalidEntity, verdict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM links WHERE id = ?", linkID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("link %s: %w", linkID, model.ErrNotFound)
	}

	_, err := s.db.Exec(`
		INSERT INTO link_feedback (link_id, verdict, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT(link_id) DO UPDATE SET verdict = excluded.verdict, recorded_at = excluded.recorded_at
	`, linkID, string(verdict), toNanos(s.now()))
	if err != nil {
		return fmt.Errorf("record feedback for link %s: %w", linkID, err)
	}
	return nil
}

// LinkCount returns the number of stored links.
// Thread-safe: acquires read lock.
func (s *Store) LinkCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM links").Scan(&n)
	return n, err
}

// linkCutoff converts a since bound for link aggregation.
func linkCutoff(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixNano()
}
