package prefs

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"nudgecal/internal/model"
)

// document is the export format.
type document struct {
	LeadTimeMinutes int                  `yaml:"lead_time_minutes"`
	Overrides       map[string]bool      `yaml:"reminder_overrides,omitempty"`
	SnoozeUntil     map[string]time.Time `yaml:"snooze_until,omitempty"`
	Style           model.DisplayStyle   `yaml:"display_style"`
	TimeFormat      model.TimeFormat     `yaml:"time_format"`
}

// Export renders p as a YAML document.
func Export(p *Preferences) ([]byte, error) {
	doc := document{
		LeadTimeMinutes: p.LeadTimeMinutes,
		Overrides:       p.Overrides,
		SnoozeUntil:     make(map[string]time.Time, len(p.SnoozeUntil)),
		Style:           p.Style,
		TimeFormat:      p.TimeFormat,
	}
	for id, until := range p.SnoozeUntil {
		doc.SnoozeUntil[id] = until.UTC()
	}
	return yaml.Marshal(&doc)
}

// Import parses a document produced by Export. Expired snoozes are
// dropped; invalid style or format values are rejected.
func Import(data []byte, now time.Time) (*Preferences, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("prefs: decode import: %w", err)
	}
	if doc.LeadTimeMinutes < 0 {
		return nil, fmt.Errorf("prefs: lead time must be positive, got %d", doc.LeadTimeMinutes)
	}
	if doc.Style != "" && !doc.Style.Valid() {
		return nil, fmt.Errorf("prefs: unknown display style %q", doc.Style)
	}
	if doc.TimeFormat != "" && !doc.TimeFormat.Valid() {
		return nil, fmt.Errorf("prefs: unknown time format %q", doc.TimeFormat)
	}

	p := &Preferences{
		LeadTimeMinutes: doc.LeadTimeMinutes,
		Overrides:       doc.Overrides,
		SnoozeUntil:     doc.SnoozeUntil,
		Style:           doc.Style,
		TimeFormat:      doc.TimeFormat,
	}
	p.normalize()
	p.PruneSnoozes(now)
	return p, nil
}
