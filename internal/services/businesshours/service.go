package businesshours

import (
	"fmt"
	"strings"
)

// Service holds the named business calendars an installation has configured.
// The empty name is the default calendar; templates may select a named one.
type Service struct {
	calculators map[string]*Calculator
}

// NewService builds the calendar set from per-name configurations. A default
// calendar (empty name) is always present, falling back to standard business
// hours when not configured explicitly.
func NewService(configs map[string]Config) (*Service, error) {
	s := &Service{calculators: make(map[string]*Calculator)}

	if _, ok := configs[""]; !ok {
		def, err := NewCalculator(Config{})
		if err != nil {
			return nil, err
		}
		s.calculators[""] = def
	}

	for name, cfg := range configs {
		calc, err := NewCalculator(cfg)
		if err != nil {
			return nil, fmt.Errorf("calendar %q: %w", name, err)
		}
		s.calculators[name] = calc
	}

	return s, nil
}

// Calculator returns the calculator for the named calendar, falling back to
// the default when the name is unknown. A "Calendar" prefix is tolerated.
func (s *Service) Calculator(name string) *Calculator {
	name = strings.TrimPrefix(name, "Calendar")
	if c, ok := s.calculators[name]; ok {
		return c
	}
	return s.calculators[""]
}
