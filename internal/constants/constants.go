// Package constants provides named constants used throughout the tumorsim codebase.
// This centralizes model defaults so config, core packages and tests agree on them.
package constants

// Genome shape defaults.
const (
	// DefaultNumSegments is the number of genomic segments per cell.
	DefaultNumSegments = 10

	// DefaultSegmentSize is the number of sites per segment.
	DefaultSegmentSize = 1000
)

// Selection defaults control how genome state feeds back into rates.
const (
	// DefaultPropDriver is the fraction of sites annotated as drivers,
	// split evenly between oncogenes and tumor suppressors.
	DefaultPropDriver = 0.1

	// DefaultPropResistance is the fraction of passenger sites conferring resistance.
	DefaultPropResistance = 0.1

	// DefaultDriverEffects is the rate increment per carried driver site.
	DefaultDriverEffects = 1.1

	// DefaultResistantEffects is the treatment decrement per carried resistance site.
	DefaultResistantEffects = 1.1

	// DefaultMaxRate caps dispersal and treatment effectiveness.
	DefaultMaxRate = 1.0
)

// Viability thresholds. A genome exceeding any of them is inviable.
const (
	DefaultMaxPloidy         = 6.0
	DefaultMaxCopyNumber     = 12
	DefaultMaxNullisomies    = 2
	DefaultMaxMutatedDrivers = 1000
)

// Expression model constants.
const (
	// OncogeneExpressionEffect multiplies expression of a mutated oncogene.
	OncogeneExpressionEffect = 2.0

	// SuppressorExpressionEffect multiplies expression of a mutated suppressor.
	SuppressorExpressionEffect = 0.5

	// BaselineExpressionAlpha and BaselineExpressionBeta shape the Beta
	// distribution baseline expression probabilities are drawn from.
	BaselineExpressionAlpha = 0.1
	BaselineExpressionBeta  = 1.0

	// SuppressorBaselineExpression is the fixed baseline of suppressor genes.
	SuppressorBaselineExpression = 0.8

	// OncogeneBaselineExpression is the fixed baseline of oncogenes.
	OncogeneBaselineExpression = 0.01
)

// Cell rate defaults.
const (
	DefaultDivisionRate  = 0.1
	DefaultDeathRate     = 0.1
	DefaultMaxBirthRate  = 0.3
	DefaultDispersalRate = 0.1
	DefaultMutationRate  = 0.1

	// DefaultPointEventWeight and DefaultCopyNumberEventWeight are the
	// relative weights of the two mutation event classes.
	DefaultPointEventWeight      = 0.1
	DefaultCopyNumberEventWeight = 0.1

	// DefaultMeanExtraPointMutations is the Poisson mean of additional
	// sites hit by one point mutation event.
	DefaultMeanExtraPointMutations = 5.0
)

// Deme and tumor defaults.
const (
	// DefaultCarryingCapacity is the live-cell count above which a deme is crowded.
	DefaultCarryingCapacity = 10

	// DefaultMaxDeathRate saturates the crowded death rate.
	DefaultMaxDeathRate = 0.5

	// CellsPerDemeUpdate is the number of cells sampled per deme update.
	CellsPerDemeUpdate = 5

	// DemesPerStep is the number of cancer-holding demes sampled per tumor update.
	DemesPerStep = 10

	// DefaultGridSize is the side length of the square deme grid.
	DefaultGridSize = 10
)

// Run defaults.
const (
	DefaultSteps       = 1000
	DefaultRecordEvery = 100
	DefaultSeed        = 42

	// DefaultTreatmentDuration is the number of treated updates.
	DefaultTreatmentDuration = 10

	// RandomStream is the PCG stream constant paired with each step seed.
	RandomStream = 0x74756d6f72

	// SelectionStream and LayoutStream seed the site annotation and the
	// initial structure layout from the run seed.
	SelectionStream = 0x73656c
	LayoutStream    = 0x6c6179
)

// Overflow policies decide what happens when a local offspring is added
// to a deme at or above carrying capacity.
const (
	OverflowDisplace = "displace"
	OverflowGrow     = "grow"
)

// EventsFileName is the JSONL file lineage and treatment events are written to.
const EventsFileName = "events.jsonl"

// Output locations used when nothing is configured.
const (
	DefaultStorePath  = "tumorsim.db"
	DefaultExportRoot = "sim_out"
)
