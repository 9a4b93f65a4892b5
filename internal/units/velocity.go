// Package units converts flight speeds for display. Everything recorded is
// in metres per second.
package units

import (
	"fmt"
	"strings"
)

// Speed is a display unit for speeds.
type Speed string

const (
	MPS  Speed = "mps"
	KMPH Speed = "kmph"
	MPH  Speed = "mph"
	// Knots are what most ground stations show.
	Knots Speed = "kn"
)

// Speeds lists every supported unit.
var Speeds = []Speed{MPS, KMPH, MPH, Knots}

// ParseSpeed accepts a unit name. kph is an alias for kmph.
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mps", "m/s", "":
		return MPS, nil
	case "kmph", "kph", "km/h":
		return KMPH, nil
	case "mph":
		return MPH, nil
	case "kn", "kt", "knots":
		return Knots, nil
	}
	return "", fmt.Errorf("unknown speed unit %q (want one of %s)", s, validSpeeds())
}

func validSpeeds() string {
	names := make([]string, len(Speeds))
	for i, u := range Speeds {
		names[i] = string(u)
	}
	return strings.Join(names, ", ")
}

// FromMPS converts v metres per second to u.
func (u Speed) FromMPS(v float64) float64 {
	switch u {
	case KMPH:
		return v * 3.6
	case MPH:
		return v * 2.2369362920544
	case Knots:
		return v * 1.9438444924406
	default:
		return v
	}
}

// Label is the short suffix printed after a value.
func (u Speed) Label() string {
	switch u {
	case KMPH:
		return "km/h"
	case MPH:
		return "mph"
	case Knots:
		return "kn"
	default:
		return "m/s"
	}
}
