// Package sla implements the SLA compliance engine: template registry,
// tracker lifecycle, periodic breach detection, escalation processing and
// compliance reporting.
package sla

import (
	"time"
)

// Clock is the injectable time source. Deadline and escalation timing tests
// substitute a fixed clock for deterministic behavior.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
