package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/sightline/internal/model"
)

const signalColumns = `id, version, external_id, kind, ts, channel, content, suspicion,
	sentiment, credibility, lat, lon, amount, currency, refers_to, ingested_at`

// SignalQuery filters QuerySignals. Zero values mean "any".
type SignalQuery struct {
	Start   time.Time
	End     time.Time
	Channel string
	Kind    model.SignalKind
	BBox    *model.BBox // restricts to located signals inside the box
	Located bool        // only signals carrying a geographic hint
}

// PutSignal stores a signal keyed by its external id.
//
// A re-submission with identical content and scores returns the current
// version and false. A re-submission whose scores differ (an external scorer
// was re-run) is stored as a new version; the previous version is retained.
// Thread-safe: acquires write lock.
func (s *Store) PutSignal(sig model.Signal) (model.Signal, bool, error) {
	if err := sig.Validate(); err != nil {
		return model.Signal{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return model.Signal{}, false, err
	}
	defer tx.Rollback()

	current, err := scanSignal(tx.QueryRow(
		"SELECT "+signalColumns+" FROM signals WHERE external_id = ? AND current = 1", sig.ExternalID))
	switch {
	case err == nil:
		if sameSignal(current, sig) {
			return current, false, nil
		}
		sig.ID = current.ID
		sig.Version = current.Version + 1
		if _, err := tx.Exec("UPDATE signals SET current = 0 WHERE id = ?", current.ID); err != nil {
			return model.Signal{}, false, fmt.Errorf("retire signal %s v%d: %w", current.ID, current.Version, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		sig.Version = 1
	default:
		return model.Signal{}, false, fmt.Errorf("load signal %s: %w", sig.ExternalID, err)
	}

	sig.IngestedAt = s.now().UTC()
	refs := []byte("[]")
	if len(sig.RefersTo) > 0 {
		if refs, err = json.Marshal(sig.RefersTo); err != nil {
			return model.Signal{}, false, err
		}
	}
	var lat, lon sql.NullFloat64
	if sig.Location != nil {
		lat = sql.NullFloat64{Float64: sig.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: sig.Location.Lon, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO signals (id, version, external_id, kind, ts, channel, content, suspicion,
			sentiment, credibility, lat, lon, amount, currency, refers_to, current, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`,
		sig.ID,
		sig.Version,
		sig.ExternalID,
		string(sig.Kind),
		toNanos(sig.Timestamp),
		sig.Channel,
		sig.Content,
		nullFloat(sig.Scores.Suspicion),
		nullFloat(sig.Scores.Sentiment),
		nullFloat(sig.Scores.Credibility),
		lat,
		lon,
		sig.Amount,
		sig.Currency,
		string(refs),
		toNanos(sig.IngestedAt),
	)
	if err != nil {
		return model.Signal{}, false, fmt.Errorf("insert signal %s: %w", sig.ExternalID, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Signal{}, false, err
	}
	return sig, true, nil
}

// sameSignal reports whether an incoming submission repeats the stored one.
func sameSignal(stored, in model.Signal) bool {
	return stored.Kind == in.Kind &&
		stored.Timestamp.Equal(in.Timestamp) &&
		stored.Channel == in.Channel &&
		stored.Content == in.Content &&
		stored.Amount == in.Amount &&
		stored.Currency == in.Currency &&
		stored.Scores.Equal(in.Scores)
}

// GetSignal returns the current version of a signal.
// Thread-safe: acquires read lock.
func (s *Store) GetSignal(id string) (model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signalWhere("id = ? AND current = 1", id)
}

// SignalByExternalID returns the current version of a signal by external id.
// Thread-safe: acquires read lock.
func (s *Store) SignalByExternalID(externalID string) (model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signalWhere("external_id = ? AND current = 1", externalID)
}

// signalWhere loads a single signal. Caller must hold s.mu.
func (s *Store) signalWhere(cond string, arg any) (model.Signal, error) {
	sig, err := scanSignal(s.db.QueryRow("SELECT "+signalColumns+" FROM signals WHERE "+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signal{}, fmt.Errorf("signal %v: %w", arg, model.ErrNotFound)
	}
	if err != nil {
		return model.Signal{}, fmt.Errorf("load signal %v: %w", arg, err)
	}
	return sig, nil
}

// SignalVersions returns every stored version of a signal, oldest first.
// Thread-safe: acquires read lock.
func (s *Store) SignalVersions(id string) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT "+signalColumns+" FROM signals WHERE id = ? ORDER BY version ASC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("signal %s: %w", id, model.ErrNotFound)
	}
	return out, nil
}

// QuerySignals yields current signals matching q, ordered by timestamp
// ascending. Lazy and restartable, like QueryIncidents.
func (s *Store) QuerySignals(q SignalQuery) iter.Seq2[model.Signal, error] {
	return func(yield func(model.Signal, error) bool) {
		lastTS, lastID := toNanos(q.Start)-1, ""
		for {
			page, err := s.signalPage(q, lastTS, lastID)
			if err != nil {
				yield(model.Signal{}, err)
				return
			}
			for _, sig := range page {
				if !yield(sig, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			lastTS, lastID = toNanos(last.Timestamp), last.ID
		}
	}
}

func (s *Store) signalPage(q SignalQuery, afterTS int64, afterID string) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + signalColumns + ` FROM signals
		WHERE current = 1 AND ts >= ? AND ts <= ? AND (ts > ? OR (ts = ? AND id > ?))`
	args := []any{toNanos(q.Start), toNanos(q.End), afterTS, afterTS, afterID}
	if q.Channel != "" {
		query += " AND channel = ?"
		args = append(args, q.Channel)
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	if q.Located || q.BBox != nil {
		query += " AND lat IS NOT NULL AND lon IS NOT NULL"
	}
	if q.BBox != nil {
		where, bargs := q.BBox.SQL("lat", "lon")
		query += " AND " + where
		args = append(args, bargs...)
	}
	query += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, pageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// SignalsReferring returns the current signals whose RefersTo contains
// externalID, oldest first.
// Thread-safe: acquires read lock.
func (s *Store) SignalsReferring(externalID string) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT "+signalColumns+` FROM signals
		WHERE current = 1 AND EXISTS (SELECT 1 FROM json_each(signals.refers_to) WHERE value = ?)
		ORDER BY ts ASC, id ASC`, externalID)
	if err != nil {
		return nil, fmt.Errorf("query signals referring to %s: %w", externalID, err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// CountSignals counts current signals on channel observed in [start, end).
// Thread-safe: acquires read lock.
func (s *Store) CountSignals(channel string, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM signals
		WHERE current = 1 AND channel = ? AND ts >= ? AND ts < ?
	`, channel, toNanos(start), toNanos(end)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count signals on %s: %w", channel, err)
	}
	return n, nil
}

// Channels returns the distinct channels with signals observed in [start, end].
// A zero start means "since the beginning".
// Thread-safe: acquires read lock.
func (s *Store) Channels(start, end time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT channel FROM signals
		WHERE current = 1 AND ts >= ? AND ts <= ?
		ORDER BY channel
	`, toNanos(start), toNanos(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IngestedBetween returns refs of incidents and current signal versions
// ingested in (after, upTo], oldest first.
// Thread-safe: acquires read lock.
func (s *Store) IngestedBetween(after, upTo time.Time) ([]model.EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT 'incident', id, ingested_at FROM incidents WHERE ingested_at > ? AND ingested_at <= ?
		UNION ALL
		SELECT 'signal', id, ingested_at FROM signals WHERE current = 1 AND ingested_at > ? AND ingested_at <= ?
		ORDER BY 3 ASC, 2 ASC
	`, toNanos(after), toNanos(upTo), toNanos(after), toNanos(upTo))
	if err != nil {
		return nil, fmt.Errorf("query ingested entities: %w", err)
	}
	defer rows.Close()

	var refs []model.EntityRef
	for rows.Next() {
		var (
			kind, id string
			at       int64
		)
		if err := rows.Scan(&kind, &id, &at); err != nil {
			return nil, err
		}
		refs = append(refs, model.EntityRef{Kind: model.EntityKind(kind), ID: id})
	}
	return refs, rows.Err()
}

// GetEntity loads the entity behind ref.
func (s *Store) GetEntity(ref model.EntityRef) (model.Entity, error) {
	switch ref.Kind {
	case model.KindIncident:
		inc, err := s.GetIncident(ref.ID)
		if err != nil {
			return model.Entity{}, err
		}
		return model.Entity{Incident: &inc}, nil
	case model.KindSignal:
		sig, err := s.GetSignal(ref.ID)
		if err != nil {
			return model.Entity{}, err
		}
		return model.Entity{Signal: &sig}, nil
	}
	return model.Entity{}, fmt.Errorf("entity %s: %w", ref, model.ErrNotFound)
}

func scanSignal(r rowScanner) (model.Signal, error) {
	var (
		sig                          model.Signal
		kind, refs                   string
		ts, ingested                 int64
		suspicion, sentiment, credib sql.NullFloat64
		lat, lon                     sql.NullFloat64
	)
	err := r.Scan(
		&sig.ID,
		&sig.Version,
		&sig.ExternalID,
		&kind,
		&ts,
		&sig.Channel,
		&sig.Content,
		&suspicion,
		&sentiment,
		&credib,
		&lat,
		&lon,
		&sig.Amount,
		&sig.Currency,
		&refs,
		&ingested,
	)
	if err != nil {
		return model.Signal{}, err
	}
	sig.Kind = model.SignalKind(kind)
	sig.Timestamp = fromNanos(ts)
	sig.IngestedAt = fromNanos(ingested)
	sig.Scores = model.Scores{
		Suspicion:   floatPtr(suspicion),
		Sentiment:   floatPtr(sentiment),
		Credibility: floatPtr(credib),
	}
	if lat.Valid && lon.Valid {
		sig.Location = &model.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	}
	if refs != "" {
		if err := json.Unmarshal([]byte(refs), &sig.RefersTo); err != nil {
			return model.Signal{}, fmt.Errorf("decode refers_to: %w", err)
		}
	}
	sig.RefersTo = slices.Clip(sig.RefersTo)
	return sig, nil
}
