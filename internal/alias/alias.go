// Package alias resolves free-text medication search terms (brand names,
// generics, common misspellings) to canonical generic names before they
// reach the matching engine.
package alias

import (
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Entry describes one clinical substance and the searchable terms that
// should resolve to it. Entries are immutable reference data.
type Entry struct {
	CanonicalName string   `yaml:"canonical"`
	BrandNames    []string `yaml:"brands"`
	Variations    []string `yaml:"variations"`
}

// Resolver maps search terms to canonical medication names via a reverse
// lookup table built once at construction. The table is never mutated
// afterwards, so a single Resolver is safe for concurrent use.
type Resolver struct {
	lookup  map[string][]string
	entries int
}

// NewResolver builds a Resolver from the given entries. Every canonical
// name, brand name, and variation is lowercased, trimmed, and inserted as
// a lookup key. A term appearing under more than one entry accumulates all
// of its canonical targets.
func NewResolver(entries []Entry) (*Resolver, error) {
	lookup := make(map[string][]string)
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		canonical := strings.TrimSpace(e.CanonicalName)
		if canonical == "" {
			return nil, eris.New("alias: entry with empty canonical name")
		}
		if seen[strings.ToLower(canonical)] {
			return nil, eris.Errorf("alias: duplicate canonical name %q", canonical)
		}
		seen[strings.ToLower(canonical)] = true

		terms := make([]string, 0, 1+len(e.BrandNames)+len(e.Variations))
		terms = append(terms, canonical)
		terms = append(terms, e.BrandNames...)
		terms = append(terms, e.Variations...)

		for _, t := range terms {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			if !containsFold(lookup[key], canonical) {
				lookup[key] = append(lookup[key], canonical)
			}
		}
	}

	return &Resolver{lookup: lookup, entries: len(entries)}, nil
}

// Resolve maps each search term to its canonical name(s), deduplicating
// the accumulated set. Unknown terms pass through verbatim (trimmed) so
// medications outside the reference data still reach the store lookup.
// Empty terms are dropped. Output order follows first appearance.
func (r *Resolver) Resolve(terms []string) []string {
	var out []string
	added := make(map[string]bool)

	add := func(name string) {
		key := strings.ToLower(name)
		if !added[key] {
			added[key] = true
			out = append(out, name)
		}
	}

	for _, term := range terms {
		trimmed := strings.TrimSpace(term)
		if trimmed == "" {
			continue
		}
		if canonicals, ok := r.lookup[strings.ToLower(trimmed)]; ok {
			for _, c := range canonicals {
				add(c)
			}
			continue
		}
		add(trimmed)
	}

	return out
}

// Entries returns the number of reference entries loaded.
func (r *Resolver) Entries() int {
	return r.entries
}

// Terms returns the number of distinct lookup terms in the reverse table.
func (r *Resolver) Terms() int {
	return len(r.lookup)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// aliasFile is the YAML shape of an alias reference data file.
type aliasFile struct {
	Medications []Entry `yaml:"medications"`
}

// Parse decodes YAML alias reference data.
func Parse(data []byte) ([]Entry, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "alias: parse yaml")
	}
	if len(f.Medications) == 0 {
		return nil, eris.New("alias: no medication entries in file")
	}
	return f.Medications, nil
}
