package paydirt

import (
	"github.com/inconshreveable/log15"
)

// A Resource is the immutable identity of one bucket being reported on.
// It is created when the bucket is discovered and owned by the row loop
// for that bucket's lifetime.
type Resource struct {
	Name   string
	Region string
}

// A ResourceEnumerator produces buckets one at a time. The sequence is
// lazy, finite, and not restartable. Next returns nil, nil when the
// sequence is exhausted. An error from the very first call aborts the
// run; an error after at least one bucket was produced is treated as
// end-of-sequence, since a partially-listed account is still worth
// reporting on.
type ResourceEnumerator interface {
	Next() (*Resource, error)
}

// A Cell is one rendered value, keyed by its column name.
type Cell struct {
	Column string
	Value  string
}

// A Row is the ordered rendered output for one bucket. Cell order matches
// the enabled column order.
type Row []Cell

// Values returns just the cell values, in column order.
func (r Row) Values() []string {
	vals := make([]string, len(r))
	for i, c := range r {
		vals[i] = c.Value
	}
	return vals
}

// A ReportWriter is the sink for the finished report. It receives the
// header once, then one row per bucket. The serialization format is
// entirely the writer's concern.
type ReportWriter interface {
	WriteHeader(columns []string) error
	WriteRow(row Row) error
}

// A RowEngine drives report generation for a fixed registry and column
// set. The set of facts to fetch is computed once, when the engine is
// built, from the enabled columns only; facts that no enabled column
// needs are never fetched.
type RowEngine struct {
	registry *Registry
	enabled  []ColumnDef
	needed   []FactKey
	log      log15.Logger
}

// NewRowEngine builds an engine for the given registry and column set.
// Every fact key the enabled columns require must have a registered
// provider; a missing one fails here, before any bucket is touched.
func NewRowEngine(reg *Registry, cols *ColumnSet, logger log15.Logger) (*RowEngine, error) {
	enabled := cols.Enabled()
	needed := RequiredFacts(enabled)
	for _, key := range needed {
		if _, err := reg.Provider(key); err != nil {
			return nil, err
		}
	}
	return &RowEngine{
		registry: reg,
		enabled:  enabled,
		needed:   needed,
		log:      logger,
	}, nil
}

// Header returns the output column names in order.
func (e *RowEngine) Header() []string {
	return Names(e.enabled)
}

// NeededFacts returns the facts the engine will fetch per bucket, i.e.
// the union of the enabled columns' requirements.
func (e *RowEngine) NeededFacts() []FactKey {
	return e.needed
}

// ensure populates cache with every key in keys that is not yet settled,
// invoking each key's provider at most once for this bucket. A provider
// failure is logged and recorded so the key stays absent and is not
// retried; it never propagates past this call.
func (e *RowEngine) ensure(cache *Cache, keys []FactKey, res Resource, clb *Collaborators) {
	for _, key := range keys {
		if cache.settled(key) {
			continue
		}
		provider, err := e.registry.Provider(key)
		if err != nil {
			// unreachable after the NewRowEngine check, but an
			// unknown key must still degrade, not crash
			e.log.Error("no provider for needed fact", "bucket", res.Name, "fact", key)
			cache.failed[key] = true
			continue
		}
		value, err := provider(res, clb)
		if err != nil {
			e.log.Warn(
				"fact fetch failed, continuing without it",
				"bucket", res.Name, "region", res.Region,
				"fact", key, "error", err.Error(),
			)
			cache.failed[key] = true
			continue
		}
		cache.values[key] = value
	}
}

// BuildRow renders one bucket: a fresh cache is filled with the needed
// facts (some possibly absent after fetch failures) and every enabled
// column is rendered in order. A row is always complete; absent facts
// show up as the renderers' neutral values.
func (e *RowEngine) BuildRow(res Resource, clb *Collaborators) Row {
	cache := NewCache()
	e.ensure(cache, e.needed, res, clb)
	row := make(Row, 0, len(e.enabled))
	for _, def := range e.enabled {
		row = append(row, Cell{Column: def.Name, Value: def.Render(res, cache)})
	}
	return row
}

// ProcessAll walks the enumerator to exhaustion, emitting one row per
// bucket to w. Only a failure of the very first Next call is returned as
// an error; every later failure is contained. The caller writes the
// header, so several enumerators (one per account) can feed one report.
func (e *RowEngine) ProcessAll(enum ResourceEnumerator, clb *Collaborators, w ReportWriter) (emitted int, err error) {
	first := true
	for {
		res, err := enum.Next()
		if err != nil {
			if first {
				return emitted, err
			}
			e.log.Warn("enumeration failed mid-stream, treating as end of listing", "error", err.Error())
			return emitted, nil
		}
		first = false
		if res == nil {
			return emitted, nil
		}
		row := e.BuildRow(*res, clb)
		if err := w.WriteRow(row); err != nil {
			e.log.Error("writing row failed, skipping bucket", "bucket", res.Name, "error", err.Error())
			continue
		}
		emitted++
	}
}
