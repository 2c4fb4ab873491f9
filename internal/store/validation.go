package store

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/nvandessel/tumorevo/internal/genome"
)

// ValidationError describes a lineage issue in a stored run.
type ValidationError struct {
	Genotype genome.GenotypeID `json:"genotype"`
	Parent   genome.GenotypeID `json:"parent"`
	Issue    string            `json:"issue"` // "dangling", "cycle", "self-reference"
}

// String returns a human-readable description of the validation error.
func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s has parent %s", e.Issue, e.Genotype, e.Parent)
}

// ValidateLineage checks the stored parents of a run form a forest rooted
// at genotypes present in the first trace. Returns validation errors for:
// - Self-references (a genotype recorded as its own parent)
// - Dangling parents (never recorded as a child and absent from step 0)
// - Cycles in the parent chain
func (s *SQLStore) ValidateLineage(ctx context.Context, runID string) ([]ValidationError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parents, err := s.loadParents(ctx, runID)
	if err != nil {
		return nil, err
	}
	roots, err := s.rootGenotypes(ctx, runID)
	if err != nil {
		return nil, err
	}
	return checkLineage(parents, roots), nil
}

// rootGenotypes returns the genotypes of the earliest stored trace.
func (s *SQLStore) rootGenotypes(ctx context.Context, runID string) (map[genome.GenotypeID]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT genotype FROM trace_counts
		WHERE run_id = ? AND step = (SELECT MIN(step) FROM trace_counts WHERE run_id = ?)`), runID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query root genotypes: %w", err)
	}
	defer rows.Close()

	roots := make(map[genome.GenotypeID]bool)
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan root genotype: %w", err)
		}
		roots[genome.GenotypeID(g)] = true
	}
	return roots, rows.Err()
}

// checkLineage validates a child -> parent map against a set of roots.
func checkLineage(parents map[genome.GenotypeID]genome.GenotypeID, roots map[genome.GenotypeID]bool) []ValidationError {
	var errs []ValidationError
	for _, g := range slices.Sorted(maps.Keys(parents)) {
		p := parents[g]
		switch {
		case p == g:
			errs = append(errs, ValidationError{Genotype: g, Parent: p, Issue: "self-reference"})
		case !roots[p]:
			if _, ok := parents[p]; !ok {
				errs = append(errs, ValidationError{Genotype: g, Parent: p, Issue: "dangling"})
			}
		}
	}
	for _, cycle := range detectCycles(parents) {
		errs = append(errs, ValidationError{Genotype: cycle[0], Parent: parents[cycle[0]], Issue: "cycle"})
	}
	return errs
}

// detectCycles walks every parent chain with color marking. Each cycle is
// reported once, starting at its smallest genotype. Self-loops are left to
// the self-reference check.
func detectCycles(parents map[genome.GenotypeID]genome.GenotypeID) [][]genome.GenotypeID {
	// Color states: 0 = white (unvisited), 1 = gray (on current chain), 2 = black (done)
	color := make(map[genome.GenotypeID]int)
	var cycles [][]genome.GenotypeID

	for _, start := range slices.Sorted(maps.Keys(parents)) {
		if color[start] != 0 {
			continue
		}
		var chain []genome.GenotypeID
		node := start
		for {
			if color[node] == 1 {
				i := slices.Index(chain, node)
				cycle := slices.Clone(chain[i:])
				if len(cycle) > 1 {
					m := slices.Index(cycle, slices.Min(cycle))
					cycles = append(cycles, append(cycle[m:], cycle[:m]...))
				}
				break
			}
			if color[node] == 2 {
				break
			}
			color[node] = 1
			chain = append(chain, node)
			next, ok := parents[node]
			if !ok {
				break
			}
			node = next
		}
		for _, n := range chain {
			color[n] = 2
		}
	}
	return cycles
}
