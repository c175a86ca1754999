package main

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// aliasSeparator splits the aliases field of the reference dataset
const aliasSeparator = "|"

//go:embed config/neighborhoods.csv
var defaultNeighborhoods string

// NeighborhoodEntry is one reference neighborhood
type NeighborhoodEntry struct {
	Canonical string
	Aliases   []string
}

// Catalog resolves neighborhood names and aliases to canonical labels.
// It is immutable after loading.
type Catalog struct {
	entries   []NeighborhoodEntry
	canonical map[string]string
	aliases   map[string]string
}

// LoadCatalog loads the reference dataset. An empty path selects the embedded
// San Francisco list.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog("embedded neighborhoods", strings.NewReader(defaultNeighborhoods))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DataError{Source: path, Err: err}
	}
	defer f.Close()

	return ParseCatalog(path, f)
}

// ParseCatalog reads canonical,aliases rows from r
func ParseCatalog(source string, r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, dataErrorf(source, "empty reference dataset")
	}
	if err != nil {
		return nil, &DataError{Source: source, Err: err}
	}

	canonicalIdx, aliasesIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "canonical":
			canonicalIdx = i
		case "aliases":
			aliasesIdx = i
		}
	}
	if canonicalIdx < 0 {
		return nil, dataErrorf(source, "missing canonical column")
	}

	var entries []NeighborhoodEntry
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DataError{Source: source, Err: err}
		}
		if canonicalIdx >= len(row) {
			continue
		}
		canonical := strings.TrimSpace(row[canonicalIdx])
		if canonical == "" {
			continue
		}

		entry := NeighborhoodEntry{Canonical: canonical}
		if aliasesIdx >= 0 && aliasesIdx < len(row) {
			seen := make(map[string]bool)
			for _, alias := range strings.Split(row[aliasesIdx], aliasSeparator) {
				alias = strings.TrimSpace(alias)
				key := strings.ToLower(alias)
				if alias == "" || seen[key] || strings.EqualFold(alias, canonical) {
					continue
				}
				seen[key] = true
				entry.Aliases = append(entry.Aliases, alias)
			}
		}
		entries = append(entries, entry)
	}

	return NewCatalog(source, entries)
}

// NewCatalog builds a catalog and checks its invariants: canonical names are
// unique and no alias names a different entry's canonical name.
func NewCatalog(source string, entries []NeighborhoodEntry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, dataErrorf(source, "no neighborhoods defined")
	}

	c := &Catalog{
		entries:   entries,
		canonical: make(map[string]string, len(entries)),
		aliases:   make(map[string]string),
	}

	for _, e := range entries {
		key := strings.ToLower(e.Canonical)
		if _, dup := c.canonical[key]; dup {
			return nil, dataErrorf(source, "duplicate canonical name %q", e.Canonical)
		}
		if isScopeLabel(key) {
			return nil, dataErrorf(source, "canonical name %q collides with a scope label", e.Canonical)
		}
		c.canonical[key] = e.Canonical
	}

	for _, e := range entries {
		for _, alias := range e.Aliases {
			key := strings.ToLower(alias)
			if owner, ok := c.canonical[key]; ok && owner != e.Canonical {
				return nil, dataErrorf(source, "alias %q of %q is the canonical name of another neighborhood", alias, e.Canonical)
			}
			if prev, ok := c.aliases[key]; ok && prev != e.Canonical {
				return nil, dataErrorf(source, "alias %q maps to both %q and %q", alias, prev, e.Canonical)
			}
			c.aliases[key] = e.Canonical
		}
	}

	return c, nil
}

// Resolve maps a canonical name or alias to its canonical name, ignoring case
func (c *Catalog) Resolve(text string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return "", false
	}
	if name, ok := c.canonical[key]; ok {
		return name, true
	}
	if name, ok := c.aliases[key]; ok {
		return name, true
	}
	return "", false
}

// Entries returns the neighborhoods in reference order
func (c *Catalog) Entries() []NeighborhoodEntry {
	out := make([]NeighborhoodEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Names returns the canonical names in reference order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.Canonical)
	}
	return names
}

// Len returns the number of neighborhoods
func (c *Catalog) Len() int {
	return len(c.entries)
}

// IsValidLabel reports whether label is a canonical name or a scope label,
// compared exactly
func (c *Catalog) IsValidLabel(label string) bool {
	if isScopeLabel(label) {
		return true
	}
	name, ok := c.canonical[strings.ToLower(label)]
	return ok && name == label
}

func (c *Catalog) String() string {
	return fmt.Sprintf("Catalog(%d neighborhoods, %d aliases)", len(c.entries), len(c.aliases))
}

func isScopeLabel(label string) bool {
	for _, s := range ScopeLabels {
		if s == label {
			return true
		}
	}
	return false
}

// resolveScope maps text to a scope label, ignoring case
func resolveScope(text string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(text))
	if isScopeLabel(key) {
		return key, true
	}
	return "", false
}
