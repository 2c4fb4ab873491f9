// Package modes drives a tumor through time. A Simulator repeatedly calls
// Tumor.Update with a generator seeded from the base seed plus the global
// step index, records a deep copy of the genotype counts after every step,
// and, in invasion mode, manages a single treatment window.
package modes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects the stochastic process variant.
type Mode int

const (
	Nonspatial Mode = iota
	Invasion
	Fission
	Boundary
)

var modeNames = [...]string{"nonspatial", "invasion", "fission", "boundary"}

// ErrNotImplemented is returned for modes that are declared but not built.
var ErrNotImplemented = errors.New("simulation mode not implemented")

// String returns the mode name.
func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Implemented reports whether NewSimulator accepts the mode.
func (m Mode) Implemented() bool {
	return m == Nonspatial || m == Invasion
}

// Spatial reports whether the mode produces grid and per-deme tables.
func (m Mode) Spatial() bool { return m != Nonspatial }

// ParseMode accepts a mode name or its number.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(modeNames) {
			return 0, fmt.Errorf("unknown mode %d", n)
		}
		return Mode(n), nil
	}
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q (valid: %s)", s, strings.Join(modeNames[:], ", "))
}
