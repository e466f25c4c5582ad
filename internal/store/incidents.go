package store

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/sightline/internal/model"
)

const incidentColumns = `id, external_id, ts, lat, lon, description, equipment, range_km,
	confidence, authorized, class, assessment, rule, zone_lat, zone_lon, zone_radius_km,
	classified_at, ingested_at`

// PutIncident stores an incident keyed by its external id.
// Re-submitting a known external id returns the stored record and false;
// the classification fields are never touched by ingestion.
// Thread-safe: acquires write lock.
func (s *Store) PutIncident(inc model.Incident) (model.Incident, bool, error) {
	if err := inc.Validate(); err != nil {
		return model.Incident{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.incidentWhere("external_id = ?", inc.ExternalID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Incident{}, false, err
	}

	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	inc.Class = model.ClassUnclassified
	inc.Assessment = ""
	inc.LaunchZone = nil
	inc.ClassifiedAt = time.Time{}
	inc.IngestedAt = s.now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO incidents (id, external_id, ts, lat, lon, description, equipment,
			range_km, confidence, authorized, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inc.ID,
		inc.ExternalID,
		toNanos(inc.Timestamp),
		inc.Location.Lat,
		inc.Location.Lon,
		inc.Description,
		inc.Equipment,
		inc.EquipmentRangeKm,
		inc.Confidence,
		boolToInt(inc.AuthorizedExercise),
		toNanos(inc.IngestedAt),
	)
	if err != nil {
		return model.Incident{}, false, fmt.Errorf("insert incident %s: %w", inc.ExternalID, err)
	}
	return inc, true, nil
}

// GetIncident returns the incident with the given id.
// Thread-safe: acquires read lock.
func (s *Store) GetIncident(id string) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incidentWhere("id = ?", id)
}

// incidentWhere loads a single incident. Caller must hold s.mu.
func (s *Store) incidentWhere(cond string, arg any) (model.Incident, error) {
	row := s.db.QueryRow("SELECT "+incidentColumns+" FROM incidents WHERE "+cond, arg)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, fmt.Errorf("incident %v: %w", arg, model.ErrNotFound)
	}
	if err != nil {
		return model.Incident{}, fmt.Errorf("load incident %v: %w", arg, err)
	}
	return inc, nil
}

// QueryIncidents yields incidents observed in [start, end], optionally
// inside bbox, ordered by timestamp ascending. The sequence is lazy: rows
// are fetched a page at a time and the lock is released between pages.
// Ranging over it again re-runs the query.
func (s *Store) QueryIncidents(start, end time.Time, bbox *model.BBox) iter.Seq2[model.Incident, error] {
	return func(yield func(model.Incident, error) bool) {
		lastTS, lastID := toNanos(start)-1, ""
		for {
			page, err := s.incidentPage(start, end, bbox, lastTS, lastID)
			if err != nil {
				yield(model.Incident{}, err)
				return
			}
			for _, inc := range page {
				if !yield(inc, nil) {
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

func (s *Store) incidentPage(start, end time.Time, bbox *model.BBox, afterTS int64, afterID string) ([]model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + incidentColumns + ` FROM incidents
		WHERE ts >= ? AND ts <= ? AND (ts > ? OR (ts = ? AND id > ?))`
	args := []any{toNanos(start), toNanos(end), afterTS, afterTS, afterID}
	if bbox != nil {
		where, bargs := bbox.SQL("lat", "lon")
		query += " AND " + where
		args = append(args, bargs...)
	}
	query += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, pageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// UpdateClassification writes the classification fields of an incident.
// Returns model.ErrNotFound if the incident does not exist; otherwise the
// last write wins.
// Thread-safe: acquires write lock.
func (s *Store) UpdateClassification(id string, class model.OperationalClass, assessment, rule string, zone *model.LaunchZone) error {
	if !class.Valid() {
		return fmt.Errorf("%w: unknown class %q", model.ErrInvalidEntity, class)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var zLat, zLon, zRadius sql.NullFloat64
	if zone != nil {
		zLat = sql.NullFloat64{Float64: zone.Center.Lat, Valid: true}
		zLon = sql.NullFloat64{Float64: zone.Center.Lon, Valid: true}
		zRadius = sql.NullFloat64{Float64: zone.RadiusKm, Valid: true}
	}

	res, err := s.db.Exec(`
		UPDATE incidents
		SET class = ?, assessment = ?, rule = ?, zone_lat = ?, zone_lon = ?, zone_radius_km = ?, classified_at = ?
		WHERE id = ?
	`, string(class), assessment, rule, zLat, zLon, zRadius, toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("update classification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("incident %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(r rowScanner) (model.Incident, error) {
	var (
		inc                   model.Incident
		ts, classified, ingst int64
		authorized            int
		class                 string
		zLat, zLon, zRadius   sql.NullFloat64
	)
	err := r.Scan(
		&inc.ID,
		&inc.ExternalID,
		&ts,
		&inc.Location.Lat,
		&inc.Location.Lon,
		&inc.Description,
		&inc.Equipment,
		&inc.EquipmentRangeKm,
		&inc.Confidence,
		&authorized,
		&class,
		&inc.Assessment,
		new(string), // rule lives on the classification view
		&zLat,
		&zLon,
		&zRadius,
		&classified,
		&ingst,
	)
	if err != nil {
		return model.Incident{}, err
	}
	inc.Timestamp = fromNanos(ts)
	inc.AuthorizedExercise = authorized != 0
	inc.Class = model.OperationalClass(class)
	inc.ClassifiedAt = fromNanos(classified)
	inc.IngestedAt = fromNanos(ingst)
	if zLat.Valid && zLon.Valid && zRadius.Valid {
		inc.LaunchZone = &model.LaunchZone{
			Center:   model.GeoPoint{Lat: zLat.Float64, Lon: zLon.Float64},
			RadiusKm: zRadius.Float64,
		}
	}
	return inc, nil
}
