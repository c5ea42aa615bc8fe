package paydirt

import (
	"errors"
	"fmt"
	"sort"
)

// A FactKey names one unit of potentially-expensive information about a
// bucket (e.g. its tag set or its per-storage-type size breakdown). Keys
// are registered once at startup and referenced by columns that need them.
type FactKey string

// Fact keys for the built-in providers. Additional keys can be registered
// alongside these without touching any existing provider or the engine.
const (
	FactAccountID   FactKey = "account_id"
	FactTags        FactKey = "tags"
	FactSizesByType FactKey = "sizes_by_type"
)

// ErrDuplicateFactKey is returned when a key is registered twice.
var ErrDuplicateFactKey = errors.New("fact key already registered")

// ErrUnknownFactKey is returned when a provider lookup misses.
var ErrUnknownFactKey = errors.New("no provider registered for fact key")

// A FactValue is the result of one provider call. It is a closed union:
// exactly StringValue, NumberMap, or StringMap. Renderers type-switch on
// these three shapes, or use the Cache accessors which do it for them.
type FactValue interface {
	isFactValue()
}

// StringValue is a scalar fact such as an account number.
type StringValue string

// NumberMap is a fact keyed by category, such as bytes per storage type.
type NumberMap map[string]float64

// StringMap is a fact of string pairs, such as a bucket's tag set.
type StringMap map[string]string

func (StringValue) isFactValue() {}
func (NumberMap) isFactValue()   {}
func (StringMap) isFactValue()   {}

// A FactProvider computes one fact for one bucket. Providers reach their
// data source through the Collaborators bundle and may fail; a failure
// degrades the fact to absent for that bucket only.
type FactProvider func(res Resource, clb *Collaborators) (FactValue, error)

// A Registry maps fact keys to their providers. It is populated once at
// startup and read-only for the rest of the run, so it is safe to share.
type Registry struct {
	providers map[FactKey]FactProvider
}

// NewRegistry returns an empty fact registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[FactKey]FactProvider)}
}

// Register associates a provider with a key. Registering the same key
// twice is a programming error and fails with ErrDuplicateFactKey.
func (r *Registry) Register(key FactKey, p FactProvider) error {
	if _, ok := r.providers[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateFactKey, key)
	}
	r.providers[key] = p
	return nil
}

// Provider looks up the provider for a key, failing with ErrUnknownFactKey
// if nothing was registered under it.
func (r *Registry) Provider(key FactKey) (FactProvider, error) {
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactKey, key)
	}
	return p, nil
}

// Keys returns the registered fact keys in sorted order.
func (r *Registry) Keys() []FactKey {
	keys := make([]FactKey, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// A Cache holds the facts computed for a single bucket. It lives exactly
// as long as that bucket's row is being built and is then discarded;
// nothing is shared between buckets. A key is computed at most once: a
// successful value is never overwritten and a failed fetch is remembered
// so it is not retried for the same bucket.
type Cache struct {
	values map[FactKey]FactValue
	failed map[FactKey]bool
}

// NewCache returns an empty per-bucket fact cache.
func NewCache() *Cache {
	return &Cache{
		values: make(map[FactKey]FactValue),
		failed: make(map[FactKey]bool),
	}
}

// Lookup returns the cached value for key, or false if the fact is absent
// (never requested, or its provider failed).
func (c *Cache) Lookup(key FactKey) (FactValue, bool) {
	v, ok := c.values[key]
	return v, ok
}

// settled reports whether key has already been resolved one way or the
// other and must not be computed again.
func (c *Cache) settled(key FactKey) bool {
	if _, ok := c.values[key]; ok {
		return true
	}
	return c.failed[key]
}

// String returns the scalar value for key, or "" if the fact is absent or
// has a different shape. Renderers rely on this to stay total.
func (c *Cache) String(key FactKey) string {
	if v, ok := c.values[key].(StringValue); ok {
		return string(v)
	}
	return ""
}

// NumberMap returns the numeric map for key, or an empty map if the fact
// is absent or has a different shape.
func (c *Cache) NumberMap(key FactKey) map[string]float64 {
	if v, ok := c.values[key].(NumberMap); ok {
		return v
	}
	return map[string]float64{}
}

// StringMap returns the string map for key, or an empty map if the fact
// is absent or has a different shape.
func (c *Cache) StringMap(key FactKey) map[string]string {
	if v, ok := c.values[key].(StringMap); ok {
		return v
	}
	return map[string]string{}
}
