package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abelbrown/sightline/internal/model"
)

// ReplaceCatalog swaps the countermeasure catalog for cms.
// Thread-safe: acquires write lock.
func (s *Store) ReplaceCatalog(cms []model.CounterMeasure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM countermeasures"); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO countermeasures (name, type, range_km, cost, mobile, requires_auth, effective_against, effectiveness)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, cm := range cms {
		against, err := json.Marshal(cm.EffectiveAgainst)
		if err != nil {
			return err
		}
		_, err = stmt.Exec(cm.Name, cm.Type, cm.RangeKm, cm.Cost, boolToInt(cm.Mobile),
			boolToInt(cm.RequiresAuthorization), string(against), cm.Effectiveness)
		if err != nil {
			return fmt.Errorf("insert countermeasure %s: %w", cm.Name, err)
		}
	}
	return tx.Commit()
}

// Catalog returns the countermeasure catalog ordered by name.
// Thread-safe: acquires read lock.
func (s *Store) Catalog() ([]model.CounterMeasure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT name, type, range_km, cost, mobile, requires_auth, effective_against, effectiveness
		FROM countermeasures ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var out []model.CounterMeasure
	for rows.Next() {
		var (
			cm            model.CounterMeasure
			mobile, auth  int
			againstEncode string
		)
		if err := rows.Scan(&cm.Name, &cm.Type, &cm.RangeKm, &cm.Cost, &mobile, &auth, &againstEncode, &cm.Effectiveness); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(againstEncode), &cm.EffectiveAgainst); err != nil {
			return nil, fmt.Errorf("decode countermeasure %s: %w", cm.Name, err)
		}
		cm.Mobile = mobile != 0
		cm.RequiresAuthorization = auth != 0
		out = append(out, cm)
	}
	return out, rows.Err()
}

// SaveRecommendations replaces the stored recommendations of an incident.
// Thread-safe: acquires write lock.
func (s *Store) SaveRecommendations(incidentID string, recs []model.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM recommendations WHERE incident_id = ?", incidentID); err != nil {
		return fmt.Errorf("clear recommendations for %s: %w", incidentID, err)
	}
	for i, r := range recs {
		var lat, lon sql.NullFloat64
		if r.Deploy != nil {
			lat = sql.NullFloat64{Float64: r.Deploy.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: r.Deploy.Lon, Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO recommendations (incident_id, rank, countermeasure, tier, score, effectiveness,
				reasoning, deploy_lat, deploy_lon, informational)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, incidentID, i, r.CounterMeasure, string(r.Tier), r.Score, r.Effectiveness,
			r.Reasoning, lat, lon, boolToInt(r.Informational))
		if err != nil {
			return fmt.Errorf("insert recommendation %s for %s: %w", r.CounterMeasure, incidentID, err)
		}
	}
	return tx.Commit()
}

// GetClassification returns the classification view of an incident.
// An incident that was never classified has class unclassified and no
// recommendations.
// Thread-safe: acquires read lock.
func (s *Store) GetClassification(incidentID string) (model.Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rule string
	if err := s.db.QueryRow("SELECT rule FROM incidents WHERE id = ?", incidentID).Scan(&rule); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Classification{}, fmt.Errorf("incident %s: %w", incidentID, model.ErrNotFound)
		}
		return model.Classification{}, err
	}
	inc, err := s.incidentWhere("id = ?", incidentID)
	if err != nil {
		return model.Classification{}, err
	}

	c := model.Classification{
		IncidentID:   inc.ID,
		Class:        inc.Class,
		Assessment:   inc.Assessment,
		Rule:         rule,
		LaunchZone:   inc.LaunchZone,
		ClassifiedAt: inc.ClassifiedAt,
	}

	rows, err := s.db.Query(`
		SELECT countermeasure, tier, score, effectiveness, reasoning, deploy_lat, deploy_lon, informational
		FROM recommendations WHERE incident_id = ? ORDER BY rank ASC
	`, incidentID)
	if err != nil {
		return model.Classification{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        model.Recommendation
			tier     string
			lat, lon sql.NullFloat64
			info     int
		)
		if err := rows.Scan(&r.CounterMeasure, &tier, &r.Score, &r.Effectiveness, &r.Reasoning, &lat, &lon, &info); err != nil {
			return model.Classification{}, err
		}
		r.Tier = model.Tier(tier)
		r.Informational = info != 0
		if lat.Valid && lon.Valid {
			r.Deploy = &model.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
		}
		c.Recommendations = append(c.Recommendations, r)
	}
	return c, rows.Err()
}
