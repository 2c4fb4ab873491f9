package tumor

import "errors"

var (
	// ErrDemeWithoutSource is returned when a deme has neither a seed cell
	// nor a parent tumor.
	ErrDemeWithoutSource = errors.New("deme requires a seed cell or a parent tumor")

	// ErrDemeWithoutSelection is returned when a deme without a parent tumor
	// has no selection model to mutate offspring with.
	ErrDemeWithoutSelection = errors.New("standalone deme requires a selection model")

	// ErrSelfParent is returned when a genotype would become its own parent.
	ErrSelfParent = errors.New("genotype is its own parent")

	// ErrParentConflict is returned when two demes record different parents
	// for the same genotype.
	ErrParentConflict = errors.New("genotype has conflicting parents")

	// ErrNegativeCount is returned when a live count would drop below zero.
	ErrNegativeCount = errors.New("live count would become negative")

	// ErrCountMismatch is returned by Validate when counters disagree with
	// the live cell set.
	ErrCountMismatch = errors.New("live counts do not match cells")

	// ErrInvalidConfig is returned for unusable tumor or deme parameters.
	ErrInvalidConfig = errors.New("invalid tumor configuration")
)
