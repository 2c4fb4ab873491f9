package genome

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// GenotypeID identifies a genome's mutation and copy-number content.
type GenotypeID string

// ID hashes the canonical encoding of the genome. Two genomes with the same
// segments, allele copies and mutated sites always share an id, whatever
// order their allele copies were created in.
func (g *Genome) ID() GenotypeID {
	return GenotypeID(strconv.FormatUint(xxhash.Sum64String(g.Canonical()), 16))
}

// Canonical returns the encoding hashed by ID: segments separated by '|',
// haplotypes by '/', alleles sorted and separated by ';'. A null allele is 'x'.
func (g *Genome) Canonical() string {
	var b strings.Builder
	for i, seg := range g.segments {
		if i > 0 {
			b.WriteByte('|')
		}
		for hi, h := range Haplotypes {
			if hi > 0 {
				b.WriteByte('/')
			}
			encoded := make([]string, len(seg.alleles[h]))
			for j, a := range seg.alleles[h] {
				encoded[j] = a.encode()
			}
			slices.Sort(encoded)
			b.WriteString(strings.Join(encoded, ";"))
		}
	}
	return b.String()
}

func (a Allele) encode() string {
	if a.null {
		return "x"
	}
	buf := make([]byte, 0, 2+4*len(a.sites))
	buf = append(buf, '[')
	for k, s := range a.sites {
		if k > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, int64(s), 10)
	}
	return string(append(buf, ']'))
}
