// Package selection maps genome state to cell phenotype rates. A Selection
// is generated once per run from a seeded source and is read-only
// afterwards, so every cell, deme and tumor of the run can share it.
package selection

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/tumorevo/internal/constants"
	"github.com/nvandessel/tumorevo/internal/genome"
)

// DriverType annotates a site as tumor suppressor, passenger or oncogene.
type DriverType int

const (
	Suppressor DriverType = -1
	Passenger  DriverType = 0
	Oncogene   DriverType = 1
)

// String returns the driver type name.
func (d DriverType) String() string {
	switch d {
	case Suppressor:
		return "suppressor"
	case Passenger:
		return "passenger"
	case Oncogene:
		return "oncogene"
	default:
		return fmt.Sprintf("driver(%d)", int(d))
	}
}

// IsDriver reports whether mutations at the site change fitness.
func (d DriverType) IsDriver() bool { return d != Passenger }

// ErrInvalidParams is returned by New for inconsistent parameters.
var ErrInvalidParams = errors.New("selection: invalid parameters")

// Params configures the gene annotations and the viability thresholds.
type Params struct {
	NumSegments    int
	SegmentSize    int
	PropDriver     float64
	PropResistance float64

	DriverEffects    float64
	ResistantEffects float64
	// MaxRate caps dispersal and treatment effectiveness.
	MaxRate float64

	MaxPloidy         float64
	MaxCopyNumber     int
	MaxNullisomies    int
	MaxMutatedDrivers int
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		NumSegments:       constants.DefaultNumSegments,
		SegmentSize:       constants.DefaultSegmentSize,
		PropDriver:        constants.DefaultPropDriver,
		PropResistance:    constants.DefaultPropResistance,
		DriverEffects:     constants.DefaultDriverEffects,
		ResistantEffects:  constants.DefaultResistantEffects,
		MaxRate:           constants.DefaultMaxRate,
		MaxPloidy:         constants.DefaultMaxPloidy,
		MaxCopyNumber:     constants.DefaultMaxCopyNumber,
		MaxNullisomies:    constants.DefaultMaxNullisomies,
		MaxMutatedDrivers: constants.DefaultMaxMutatedDrivers,
	}
}

// Validate checks that the parameters describe a usable model.
func (p Params) Validate() error {
	switch {
	case p.NumSegments < 1:
		return fmt.Errorf("%w: segments must be >= 1, got %d", ErrInvalidParams, p.NumSegments)
	case p.SegmentSize < 1:
		return fmt.Errorf("%w: segment size must be >= 1, got %d", ErrInvalidParams, p.SegmentSize)
	case p.PropDriver < 0 || p.PropDriver > 1:
		return fmt.Errorf("%w: driver proportion must be in [0, 1], got %v", ErrInvalidParams, p.PropDriver)
	case p.PropResistance < 0 || p.PropResistance > 1:
		return fmt.Errorf("%w: resistance proportion must be in [0, 1], got %v", ErrInvalidParams, p.PropResistance)
	case p.MaxRate <= 0:
		return fmt.Errorf("%w: max rate must be > 0, got %v", ErrInvalidParams, p.MaxRate)
	}
	return nil
}

// Selection holds the per-site annotations of one run.
type Selection struct {
	params     Params
	drivers    [][]DriverType
	resistance [][]bool
	effects    [][]float64
}

// New draws driver types and the resistance mask for every site.
// Resistance is only drawn on passenger sites, so the two never overlap.
func New(p Params, src rand.Source) (*Selection, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	driverDist := distuv.NewCategorical([]float64{p.PropDriver / 2, 1 - p.PropDriver, p.PropDriver / 2}, src)
	resistDist := distuv.Bernoulli{P: p.PropResistance, Src: src}

	s := &Selection{
		params:     p,
		drivers:    make([][]DriverType, p.NumSegments),
		resistance: make([][]bool, p.NumSegments),
		effects:    make([][]float64, p.NumSegments),
	}
	for seg := range p.NumSegments {
		s.drivers[seg] = make([]DriverType, p.SegmentSize)
		s.resistance[seg] = make([]bool, p.SegmentSize)
		s.effects[seg] = make([]float64, p.SegmentSize)
		for pos := range p.SegmentSize {
			d := DriverType(int(driverDist.Rand()) - 1)
			s.drivers[seg][pos] = d
			switch d {
			case Oncogene:
				s.effects[seg][pos] = constants.OncogeneExpressionEffect
			case Suppressor:
				s.effects[seg][pos] = constants.SuppressorExpressionEffect
			default:
				s.effects[seg][pos] = 1
				s.resistance[seg][pos] = resistDist.Rand() == 1
			}
		}
	}
	return s, nil
}

// Params returns the parameters the selection was generated from.
func (s *Selection) Params() Params { return s.params }

// DriverType returns the annotation of a site.
func (s *Selection) DriverType(site genome.Site) DriverType {
	if !s.inRange(site) {
		return Passenger
	}
	return s.drivers[site.Segment][site.Position]
}

// ConfersResistance reports whether mutating the site lowers treatment effect.
func (s *Selection) ConfersResistance(site genome.Site) bool {
	if !s.inRange(site) {
		return false
	}
	return s.resistance[site.Segment][site.Position]
}

// Effect returns the multiplicative expression effect of a mutated site.
func (s *Selection) Effect(site genome.Site) float64 {
	if !s.inRange(site) {
		return 1
	}
	return s.effects[site.Segment][site.Position]
}

func (s *Selection) inRange(site genome.Site) bool {
	return site.Segment >= 0 && site.Segment < len(s.drivers) &&
		site.Position >= 0 && site.Position < s.params.SegmentSize
}

// DriverTypes returns a copy of the driver annotation of one segment.
func (s *Selection) DriverTypes(segment int) []DriverType {
	if segment < 0 || segment >= len(s.drivers) {
		return nil
	}
	return append([]DriverType(nil), s.drivers[segment]...)
}

// ResistanceMask returns a copy of the resistance mask of one segment.
func (s *Selection) ResistanceMask(segment int) []bool {
	if segment < 0 || segment >= len(s.resistance) {
		return nil
	}
	return append([]bool(nil), s.resistance[segment]...)
}

// CountDrivers returns the number of driver sites of each type.
func (s *Selection) CountDrivers() (suppressors, oncogenes int) {
	for _, seg := range s.drivers {
		for _, d := range seg {
			switch d {
			case Suppressor:
				suppressors++
			case Oncogene:
				oncogenes++
			}
		}
	}
	return suppressors, oncogenes
}
