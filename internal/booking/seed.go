package booking

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"housingBack/internal/booking/lifecycle"
)

// seedFile is the layout of BOOKING_SEED_FILE:
//
//	properties:
//	  - id: 1
//	    owner_id: 20
//	    title: Riverside loft
//	    is_available: true
type seedFile struct {
	Properties []struct {
		ID          int64  `yaml:"id"`
		OwnerID     int64  `yaml:"owner_id"`
		Title       string `yaml:"title"`
		IsAvailable *bool  `yaml:"is_available"`
	} `yaml:"properties"`
}

// loadSeedProperties reads the properties a memory store starts with.
// is_available defaults to true.
func loadSeedProperties(path string) ([]lifecycle.Property, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	seen := make(map[int64]bool, len(f.Properties))
	out := make([]lifecycle.Property, 0, len(f.Properties))
	for i, p := range f.Properties {
		if p.ID <= 0 || p.OwnerID <= 0 {
			return nil, fmt.Errorf("seed property #%d: id and owner_id must be positive", i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("seed property #%d: duplicate id %d", i+1, p.ID)
		}
		seen[p.ID] = true
		available := true
		if p.IsAvailable != nil {
			available = *p.IsAvailable
		}
		out = append(out, lifecycle.Property{ID: p.ID, OwnerID: p.OwnerID, Title: p.Title, IsAvailable: available})
	}
	return out, nil
}
