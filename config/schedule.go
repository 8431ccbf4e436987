package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schedule is the genesis manifest for both domains: the legacy cutover, the
// tiers appended past the frozen set, and the editions to create.
type Schedule struct {
	Cutover       string            `yaml:"cutover"`
	ActiveEdition uint64            `yaml:"active_edition"`
	Tiers         []ScheduleTier    `yaml:"tiers"`
	Editions      []ScheduleEdition `yaml:"editions"`
}

// ScheduleTier sets either Amount directly or RateBps, from which the amount
// is quoted at load time.
type ScheduleTier struct {
	Index     uint8  `yaml:"index"`
	Principal uint64 `yaml:"principal"`
	Term      string `yaml:"term"`
	Amount    uint64 `yaml:"amount"`
	RateBps   uint64 `yaml:"rate_bps"`
}

type ScheduleEdition struct {
	ID        uint64 `yaml:"id"`
	Name      string `yaml:"name"`
	MaxSupply string `yaml:"max_supply"`
	Active    bool   `yaml:"active"`
}

// LoadSchedule reads a YAML manifest. An empty path yields an empty manifest.
func LoadSchedule(path string) (*Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return &Schedule{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}
	var s Schedule
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}
	return &s, nil
}

func (s *Schedule) Validate() error {
	if _, err := s.CutoverTime(); err != nil {
		return err
	}
	seen := map[uint8]bool{}
	for _, t := range s.Tiers {
		if seen[t.Index] {
			return fmt.Errorf("tier %d listed twice", t.Index)
		}
		seen[t.Index] = true
		if (t.Amount == 0) == (t.RateBps == 0) {
			return fmt.Errorf("tier %d: set exactly one of amount or rate_bps", t.Index)
		}
	}
	ids := map[uint64]bool{}
	for _, e := range s.Editions {
		if e.ID == 0 || ids[e.ID] {
			return fmt.Errorf("edition id %d invalid or duplicated", e.ID)
		}
		ids[e.ID] = true
	}
	return nil
}

// CutoverTime parses the RFC 3339 cutover. A zero time means "use the
// built-in default".
func (s *Schedule) CutoverTime() (time.Time, error) {
	if strings.TrimSpace(s.Cutover) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s.Cutover))
	if err != nil {
		return time.Time{}, fmt.Errorf("cutover: %w", err)
	}
	return t.UTC(), nil
}
