package classify

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/abelbrown/sightline/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the countermeasure catalog shipped with the binary.
func DefaultCatalog() []model.CounterMeasure {
	cms, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("classify: embedded catalog is invalid: %v", err))
	}
	return cms
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) ([]model.CounterMeasure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML list of countermeasures.
func ParseCatalog(data []byte) ([]model.CounterMeasure, error) {
	var cms []model.CounterMeasure
	if err := yaml.Unmarshal(data, &cms); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(cms))
	for _, cm := range cms {
		if cm.Name == "" {
			return nil, fmt.Errorf("%w: countermeasure without a name", model.ErrInvalidEntity)
		}
		if seen[cm.Name] {
			return nil, fmt.Errorf("%w: duplicate countermeasure %q", model.ErrInvalidEntity, cm.Name)
		}
		seen[cm.Name] = true
		if cm.Effectiveness < 0 || cm.Effectiveness > 1 {
			return nil, fmt.Errorf("%w: %s effectiveness %v outside [0,1]", model.ErrInvalidEntity, cm.Name, cm.Effectiveness)
		}
		if cm.Cost < 0 || cm.RangeKm < 0 {
			return nil, fmt.Errorf("%w: %s has negative cost or range", model.ErrInvalidEntity, cm.Name)
		}
		for _, c := range cm.EffectiveAgainst {
			if !c.Valid() {
				return nil, fmt.Errorf("%w: %s targets unknown class %q", model.ErrInvalidEntity, cm.Name, c)
			}
		}
	}
	return cms, nil
}
