package paydirt

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/inconshreveable/log15"
)

func renderInt(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}

func testLogger() log15.Logger {
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())
	return logger
}

// spyProvider counts invocations so tests can assert a fact is fetched
// exactly once, or never.
type spyProvider struct {
	calls int
	value FactValue
	err   error
}

func (s *spyProvider) provide(res Resource, clb *Collaborators) (FactValue, error) {
	s.calls++
	return s.value, s.err
}

// enumStep is one scripted response from a fakeEnumerator.
type enumStep struct {
	res *Resource
	err error
}

type fakeEnumerator struct {
	steps []enumStep
	i     int
}

func (f *fakeEnumerator) Next() (*Resource, error) {
	if f.i >= len(f.steps) {
		return nil, nil
	}
	step := f.steps[f.i]
	f.i++
	return step.res, step.err
}

func mustRegister(t *testing.T, reg *Registry, key FactKey, p FactProvider) {
	t.Helper()
	if err := reg.Register(key, p); err != nil {
		t.Fatalf("Register(%q) error = %v", key, err)
	}
}

func mustColumnSet(t *testing.T, defs ...ColumnDef) *ColumnSet {
	t.Helper()
	cs, err := NewColumnSet(defs...)
	if err != nil {
		t.Fatalf("NewColumnSet() error = %v", err)
	}
	return cs
}

func mustEngine(t *testing.T, reg *Registry, cs *ColumnSet) *RowEngine {
	t.Helper()
	engine, err := NewRowEngine(reg, cs, testLogger())
	if err != nil {
		t.Fatalf("NewRowEngine() error = %v", err)
	}
	return engine
}

func TestEnsureMemoizesProviders(t *testing.T) {
	size := &spyProvider{value: NumberMap{"StandardStorage": 100}}
	reg := NewRegistry()
	mustRegister(t, reg, "size", size.provide)

	// three enabled columns all want the same fact
	cs := mustColumnSet(t,
		ColumnDef{Name: "a", Enabled: true, Requires: []FactKey{"size"}, Render: noRender},
		ColumnDef{Name: "b", Enabled: true, Requires: []FactKey{"size"}, Render: noRender},
		ColumnDef{Name: "c", Enabled: true, Requires: []FactKey{"size"}, Render: noRender},
	)
	engine := mustEngine(t, reg, cs)
	engine.BuildRow(Resource{Name: "bucket-1", Region: "us-east-1"}, nil)

	if size.calls != 1 {
		t.Errorf("provider called %d times, want 1", size.calls)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	size := &spyProvider{value: NumberMap{"StandardStorage": 100}}
	tags := &spyProvider{value: StringMap{"env": "prod"}}
	reg := NewRegistry()
	mustRegister(t, reg, "size", size.provide)
	mustRegister(t, reg, "tags", tags.provide)

	engine := mustEngine(t, reg, mustColumnSet(t))
	res := Resource{Name: "bucket-1", Region: "us-east-1"}
	cache := NewCache()

	// overlapping key sets across calls must behave like a single call
	// with the union
	engine.ensure(cache, []FactKey{"size"}, res, nil)
	engine.ensure(cache, []FactKey{"size", "tags"}, res, nil)
	engine.ensure(cache, []FactKey{"tags"}, res, nil)

	if size.calls != 1 || tags.calls != 1 {
		t.Errorf("provider calls = size:%d tags:%d, want 1 each", size.calls, tags.calls)
	}
	if _, ok := cache.Lookup("size"); !ok {
		t.Error("size fact missing from cache")
	}
	if _, ok := cache.Lookup("tags"); !ok {
		t.Error("tags fact missing from cache")
	}
}

func TestDisabledColumnFactNeverFetched(t *testing.T) {
	owner := &spyProvider{value: StringValue("123456789012")}
	reg := NewRegistry()
	mustRegister(t, reg, "owner", owner.provide)

	cs := mustColumnSet(t,
		ColumnDef{Name: "bucket_name", Enabled: true, Render: renderBucketName},
		ColumnDef{Name: "owner_col", Enabled: false, Requires: []FactKey{"owner"}, Render: noRender},
	)
	engine := mustEngine(t, reg, cs)

	if got := engine.NeededFacts(); len(got) != 0 {
		t.Errorf("NeededFacts() = %v, want none", got)
	}
	engine.BuildRow(Resource{Name: "bucket-1", Region: "us-east-1"}, nil)
	if owner.calls != 0 {
		t.Errorf("provider for disabled-only fact called %d times, want 0", owner.calls)
	}
}

func TestBuildRowScenario(t *testing.T) {
	// registry: {"size": providerA, "owner": providerB}; columns:
	// name (requires none), total (requires size), owner_col
	// (requires owner, disabled). Only size may be fetched and the
	// row must be name + total only.
	providerA := &spyProvider{value: NumberMap{"A": 10, "B": 5}}
	providerB := &spyProvider{value: StringValue("123456789012")}
	reg := NewRegistry()
	mustRegister(t, reg, "size", providerA.provide)
	mustRegister(t, reg, "owner", providerB.provide)

	cs := mustColumnSet(t,
		ColumnDef{Name: "name", Enabled: true, Render: renderBucketName},
		ColumnDef{Name: "total", Enabled: true, Requires: []FactKey{"size"}, Render: func(_ Resource, cache *Cache) string {
			var total float64
			for _, v := range cache.NumberMap("size") {
				total += v
			}
			return renderInt(total)
		}},
		ColumnDef{Name: "owner_col", Enabled: false, Requires: []FactKey{"owner"}, Render: noRender},
	)
	engine := mustEngine(t, reg, cs)

	if diff := cmp.Diff([]FactKey{"size"}, engine.NeededFacts()); diff != "" {
		t.Errorf("NeededFacts() mismatch (-want +got):\n%s", diff)
	}

	row := engine.BuildRow(Resource{Name: "bucket-1", Region: "us-east-1"}, nil)
	want := Row{
		{Column: "name", Value: "bucket-1"},
		{Column: "total", Value: "15"},
	}
	if diff := cmp.Diff(want, row); diff != "" {
		t.Errorf("BuildRow() mismatch (-want +got):\n%s", diff)
	}
	if providerB.calls != 0 {
		t.Errorf("owner provider called %d times, want 0", providerB.calls)
	}
}

func TestFailingProviderDegradesToDefault(t *testing.T) {
	size := &spyProvider{err: errors.New("throttled")}
	tags := &spyProvider{value: StringMap{"env": "prod"}}
	reg := NewRegistry()
	mustRegister(t, reg, "size", size.provide)
	mustRegister(t, reg, "tags", tags.provide)

	cs := mustColumnSet(t,
		ColumnDef{Name: "name", Enabled: true, Render: renderBucketName},
		ColumnDef{Name: "total", Enabled: true, Requires: []FactKey{"size"}, Render: func(_ Resource, cache *Cache) string {
			var total float64
			for _, v := range cache.NumberMap("size") {
				total += v
			}
			return renderInt(total)
		}},
		ColumnDef{Name: "env", Enabled: true, Requires: []FactKey{"tags"}, Render: func(_ Resource, cache *Cache) string {
			return cache.StringMap("tags")["env"]
		}},
	)
	engine := mustEngine(t, reg, cs)
	row := engine.BuildRow(Resource{Name: "bucket-1", Region: "us-east-1"}, nil)

	// the failing fact renders its default and does not poison the
	// other facts or columns of the same bucket
	want := Row{
		{Column: "name", Value: "bucket-1"},
		{Column: "total", Value: "0"},
		{Column: "env", Value: "prod"},
	}
	if diff := cmp.Diff(want, row); diff != "" {
		t.Errorf("BuildRow() mismatch (-want +got):\n%s", diff)
	}
	if size.calls != 1 || tags.calls != 1 {
		t.Errorf("provider calls = size:%d tags:%d, want 1 each", size.calls, tags.calls)
	}
}

func TestFailedFactNotRetriedWithinResource(t *testing.T) {
	size := &spyProvider{err: errors.New("throttled")}
	reg := NewRegistry()
	mustRegister(t, reg, "size", size.provide)

	engine := mustEngine(t, reg, mustColumnSet(t))
	res := Resource{Name: "bucket-1", Region: "us-east-1"}
	cache := NewCache()
	engine.ensure(cache, []FactKey{"size"}, res, nil)
	engine.ensure(cache, []FactKey{"size"}, res, nil)

	if size.calls != 1 {
		t.Errorf("failing provider called %d times, want 1 (no retry)", size.calls)
	}
}

func TestFactsNotSharedAcrossResources(t *testing.T) {
	size := &spyProvider{value: NumberMap{"A": 1}}
	reg := NewRegistry()
	mustRegister(t, reg, "size", size.provide)

	cs := mustColumnSet(t,
		ColumnDef{Name: "total", Enabled: true, Requires: []FactKey{"size"}, Render: noRender},
	)
	engine := mustEngine(t, reg, cs)
	engine.BuildRow(Resource{Name: "bucket-1", Region: "us-east-1"}, nil)
	engine.BuildRow(Resource{Name: "bucket-2", Region: "eu-west-1"}, nil)

	// per-bucket caches, so one fetch per bucket
	if size.calls != 2 {
		t.Errorf("provider called %d times across 2 buckets, want 2", size.calls)
	}
}

func TestProcessAllStartFailureIsFatal(t *testing.T) {
	engine := mustEngine(t, NewRegistry(), mustColumnSet(t,
		ColumnDef{Name: "name", Enabled: true, Render: renderBucketName},
	))
	enum := &fakeEnumerator{steps: []enumStep{{err: errors.New("access denied")}}}
	buf := rowBuffer{}

	emitted, err := engine.ProcessAll(enum, nil, &buf)
	if err == nil {
		t.Fatal("ProcessAll() with failing first Next did not return error")
	}
	if emitted != 0 || len(buf.rows) != 0 {
		t.Errorf("emitted = %d rows = %d, want 0 and 0", emitted, len(buf.rows))
	}
}

func TestProcessAllMidStreamFailureEndsSequence(t *testing.T) {
	engine := mustEngine(t, NewRegistry(), mustColumnSet(t,
		ColumnDef{Name: "name", Enabled: true, Render: renderBucketName},
	))
	enum := &fakeEnumerator{steps: []enumStep{
		{res: &Resource{Name: "bucket-1", Region: "us-east-1"}},
		{res: &Resource{Name: "bucket-2", Region: "us-east-1"}},
		{err: errors.New("token expired")},
		{res: &Resource{Name: "never-reached", Region: "us-east-1"}},
	}}
	buf := rowBuffer{}

	emitted, err := engine.ProcessAll(enum, nil, &buf)
	if err != nil {
		t.Fatalf("ProcessAll() error = %v, want nil for mid-stream failure", err)
	}
	if emitted != 2 {
		t.Errorf("emitted = %d, want 2", emitted)
	}
	wantNames := []string{"bucket-1", "bucket-2"}
	var gotNames []string
	for _, row := range buf.rows {
		gotNames = append(gotNames, row[0].Value)
	}
	if diff := cmp.Diff(wantNames, gotNames); diff != "" {
		t.Errorf("row names mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessAllContinuesPastFailingFact(t *testing.T) {
	// the size provider fails for one bucket; that bucket's row is
	// still emitted with total 0 and the next bucket is unaffected
	calls := 0
	reg := NewRegistry()
	mustRegister(t, reg, "size", func(res Resource, clb *Collaborators) (FactValue, error) {
		calls++
		if res.Name == "bucket-1" {
			return nil, errors.New("metric unavailable")
		}
		return NumberMap{"A": 7}, nil
	})
	cs := mustColumnSet(t,
		ColumnDef{Name: "name", Enabled: true, Render: renderBucketName},
		ColumnDef{Name: "total", Enabled: true, Requires: []FactKey{"size"}, Render: func(_ Resource, cache *Cache) string {
			var total float64
			for _, v := range cache.NumberMap("size") {
				total += v
			}
			return renderInt(total)
		}},
	)
	engine := mustEngine(t, reg, cs)
	enum := &fakeEnumerator{steps: []enumStep{
		{res: &Resource{Name: "bucket-1", Region: "us-east-1"}},
		{res: &Resource{Name: "bucket-2", Region: "us-east-1"}},
	}}
	buf := rowBuffer{}

	emitted, err := engine.ProcessAll(enum, nil, &buf)
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}
	if emitted != 2 {
		t.Fatalf("emitted = %d, want 2", emitted)
	}
	want := []Row{
		{{Column: "name", Value: "bucket-1"}, {Column: "total", Value: "0"}},
		{{Column: "name", Value: "bucket-2"}, {Column: "total", Value: "7"}},
	}
	if diff := cmp.Diff(want, buf.rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if calls != 2 {
		t.Errorf("provider called %d times, want 2", calls)
	}
}

func TestNewRowEngineMissingProvider(t *testing.T) {
	cs := mustColumnSet(t,
		ColumnDef{Name: "total", Enabled: true, Requires: []FactKey{"size"}, Render: noRender},
	)
	_, err := NewRowEngine(NewRegistry(), cs, testLogger())
	if !errors.Is(err, ErrUnknownFactKey) {
		t.Errorf("NewRowEngine() error = %v, want ErrUnknownFactKey", err)
	}
}
