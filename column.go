package paydirt

import (
	"fmt"
	"sort"
)

// A RenderFunc turns a bucket and its fact cache into one cell of output.
// Renderers must be total: an absent fact is rendered as a neutral value
// (empty string, zero), never signalled as an error. The Cache accessors
// already behave that way, so a renderer built on them cannot fail.
type RenderFunc func(res Resource, cache *Cache) string

// A ColumnDef declares one column of the report: its header name, whether
// it is currently enabled, the facts it needs, and how to render it.
// Columns with an empty Requires list must not touch the cache at all.
type ColumnDef struct {
	Name     string
	Enabled  bool
	Requires []FactKey
	Render   RenderFunc
}

// A ColumnSet is the ordered collection of column definitions for one
// report. Registration order is the output column order. Toggling happens
// while the report is being configured; during the run the set is
// read-only.
type ColumnSet struct {
	cols  []ColumnDef
	index map[string]int
}

// NewColumnSet builds a column set from defs, preserving their order.
// A duplicate column name is a programming error and fails construction.
func NewColumnSet(defs ...ColumnDef) (*ColumnSet, error) {
	cs := &ColumnSet{index: make(map[string]int, len(defs))}
	for _, def := range defs {
		if _, ok := cs.index[def.Name]; ok {
			return nil, fmt.Errorf("duplicate column name %q", def.Name)
		}
		cs.index[def.Name] = len(cs.cols)
		cs.cols = append(cs.cols, def)
	}
	return cs, nil
}

// Toggle flips one column on or off by name. It is meant for configuration
// time, before the survey starts.
func (cs *ColumnSet) Toggle(name string, enabled bool) error {
	i, ok := cs.index[name]
	if !ok {
		return fmt.Errorf("no column named %q", name)
	}
	cs.cols[i].Enabled = enabled
	return nil
}

// Enabled returns the enabled columns in registration order. The order is
// the contract for the output header and is stable across calls.
func (cs *ColumnSet) Enabled() []ColumnDef {
	var out []ColumnDef
	for _, def := range cs.cols {
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out
}

// Names returns the header names for the given columns, in order.
func Names(cols []ColumnDef) []string {
	names := make([]string, len(cols))
	for i, def := range cols {
		names[i] = def.Name
	}
	return names
}

// RequiredFacts returns the union of the fact keys the given columns need.
// It depends only on the column definitions, never on bucket data, so it
// is computed once per report run. The result is sorted so that logs and
// provider invocation order are deterministic.
func RequiredFacts(cols []ColumnDef) []FactKey {
	seen := make(map[FactKey]bool)
	for _, def := range cols {
		for _, key := range def.Requires {
			seen[key] = true
		}
	}
	keys := make([]FactKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
