package aggregator

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
	"github.com/bayleafwalker/bindery-capabilities/internal/source"
)

func static(t *testing.T, name string, features, storage map[string]any) *source.Static {
	t.Helper()
	s, err := source.NewStatic(name, features, storage)
	if err != nil {
		t.Fatalf("NewStatic(%s): %v", name, err)
	}
	return s
}

// stubSource returns canned trees/errors and counts calls.
type stubSource struct {
	features   capability.Tree
	storage    capability.Tree
	featureErr error
	storageErr error
	calls      atomic.Int32
	blockUntil <-chan struct{}
}

func (s *stubSource) FeatureCapabilities(ctx context.Context) (capability.Tree, error) {
	s.calls.Add(1)
	if s.blockUntil != nil {
		select {
		case <-s.blockUntil:
		case <-ctx.Done():
			return capability.Tree{}, ctx.Err()
		}
	}
	return s.features, s.featureErr
}

func (s *stubSource) StorageQualityCapabilities(ctx context.Context) (capability.Tree, error) {
	s.calls.Add(1)
	return s.storage, s.storageErr
}

func productionReady(v bool) map[string]any {
	return map[string]any{"storage": map[string]any{"production_ready": v}}
}

func TestAggregate_EndToEndExample(t *testing.T) {
	primary := static(t, "primary", map[string]any{"meters": map[string]any{"pagination": true}}, productionReady(true))
	alarm := static(t, "alarm", map[string]any{"alarms": map[string]any{"query": map[string]any{"simple": true}}}, productionReady(false))
	event := static(t, "event", map[string]any{"events": map[string]any{"query": map[string]any{"simple": true}}}, productionReady(true))

	res, err := New(primary, alarm, event).Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	wantAPI := capability.Flat{
		"meters.pagination":   true,
		"alarms.query.simple": true,
		"events.query.simple": true,
	}
	if got := capability.MustFlatten(res.Features); !reflect.DeepEqual(got, wantAPI) {
		t.Fatalf("api: expected %v, got %v", wantAPI, got)
	}
	if got := capability.MustFlatten(res.Storage); !reflect.DeepEqual(got, capability.Flat{"storage.production_ready": true}) {
		t.Fatalf("storage: got %v", got)
	}
	if got := capability.MustFlatten(res.AlarmStorage); !reflect.DeepEqual(got, capability.Flat{"storage.production_ready": false}) {
		t.Fatalf("alarm_storage: got %v", got)
	}
	if got := capability.MustFlatten(res.EventStorage); !reflect.DeepEqual(got, capability.Flat{"storage.production_ready": true}) {
		t.Fatalf("event_storage: got %v", got)
	}
}

func TestAggregate_SpecializedSourceOverridesWholesale(t *testing.T) {
	primary := static(t, "primary",
		map[string]any{
			"alarms": map[string]any{"query": map[string]any{"simple": false}, "history": map[string]any{"query": map[string]any{"simple": true}}},
			"events": map[string]any{"query": map[string]any{"simple": false}},
		},
		productionReady(true))
	alarm := static(t, "alarm",
		map[string]any{
			"alarms": map[string]any{"query": map[string]any{"simple": true, "complex": true}},
			"meters": map[string]any{"pagination": true},
		},
		productionReady(true))
	event := static(t, "event", map[string]any{"events": map[string]any{"query": map[string]any{"simple": true}}}, productionReady(true))

	res, err := New(primary, alarm, event).Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	gotAlarms, _ := res.Features.Child(AlarmsKey)
	wantAlarms, _ := alarm.Features.Child(AlarmsKey)
	if !capability.Equal(gotAlarms, wantAlarms) {
		t.Fatalf("expected alarms subtree to equal alarm source's exactly, got %s", gotAlarms)
	}
	if _, ok := res.Features.Child("meters"); ok {
		t.Fatalf("expected non-alarm keys from the alarm source to be ignored")
	}
	flat := capability.MustFlatten(res.Features)
	if _, ok := flat["alarms.history.query.simple"]; ok {
		t.Fatalf("expected primary alarms entries discarded, not merged: %v", flat)
	}
	if !flat["events.query.simple"] {
		t.Fatalf("expected event source to supersede primary events")
	}
	if primaryEvents, _ := primary.Features.Child(EventsKey); !capability.Equal(primaryEvents, capability.MustFromMap(map[string]any{"query": map[string]any{"simple": false}})) {
		t.Fatalf("expected primary source tree untouched by aggregation")
	}
}

func TestAggregate_StorageTreesIndependent(t *testing.T) {
	primary := static(t, "primary", map[string]any{}, productionReady(true))
	event := static(t, "event", map[string]any{"events": map[string]any{}}, productionReady(true))

	for _, alarmReady := range []bool{true, false} {
		alarm := static(t, "alarm", map[string]any{"alarms": map[string]any{}}, productionReady(alarmReady))
		res, err := New(primary, alarm, event).Aggregate(context.Background())
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
		if got := capability.MustFlatten(res.AlarmStorage); got["storage.production_ready"] != alarmReady {
			t.Fatalf("alarm_storage: expected %v, got %v", alarmReady, got)
		}
		if got := capability.MustFlatten(res.Storage); !got["storage.production_ready"] {
			t.Fatalf("storage changed with alarm source: %v", got)
		}
		if got := capability.MustFlatten(res.EventStorage); !got["storage.production_ready"] {
			t.Fatalf("event_storage changed with alarm source: %v", got)
		}
	}
}

func TestAggregate_FailsClosed(t *testing.T) {
	okTree := capability.MustFromMap(map[string]any{"alarms": map[string]any{}, "events": map[string]any{}})
	okStorage := capability.MustFromMap(productionReady(true))
	healthy := func() *stubSource { return &stubSource{features: okTree, storage: okStorage} }

	cases := []struct {
		name    string
		mutate  func(p, a, e *stubSource)
		wantErr error
	}{
		{
			name:    "primary unavailable",
			mutate:  func(p, _, _ *stubSource) { p.featureErr = source.Unavailable("primary", errors.New("down")) },
			wantErr: source.ErrDriverUnavailable,
		},
		{
			name:    "alarm storage unavailable",
			mutate:  func(_, a, _ *stubSource) { a.storageErr = source.Unavailable("alarm", errors.New("down")) },
			wantErr: source.ErrDriverUnavailable,
		},
		{
			name:    "event unavailable",
			mutate:  func(_, _, e *stubSource) { e.featureErr = source.Unavailable("event", nil) },
			wantErr: source.ErrDriverUnavailable,
		},
		{
			name:    "alarm source missing alarms domain",
			mutate:  func(_, a, _ *stubSource) { a.features = capability.MustFromMap(map[string]any{"events": true}) },
			wantErr: capability.ErrMalformedTree,
		},
		{
			name:    "event root is a leaf",
			mutate:  func(_, _, e *stubSource) { e.features = capability.Leaf(true) },
			wantErr: capability.ErrAmbiguousTopLevelLeaf,
		},
		{
			name: "alarm storage not rooted at storage",
			mutate: func(_, a, _ *stubSource) {
				a.storage = capability.MustFromMap(map[string]any{"production_ready": true, "durable": false})
			},
			wantErr: capability.ErrMalformedTree,
		},
		{
			name:    "primary returns zero tree",
			mutate:  func(p, _, _ *stubSource) { p.storage = capability.Tree{} },
			wantErr: capability.ErrMalformedTree,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, a, e := healthy(), healthy(), healthy()
			tc.mutate(p, a, e)
			res, err := New(p, a, e).Aggregate(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if res.Features.IsValid() || res.Storage.IsValid() || res.AlarmStorage.IsValid() || res.EventStorage.IsValid() {
				t.Fatalf("expected no partial result, got %+v", res)
			}
		})
	}
}

func TestAggregate_NilSourceIsUnavailable(t *testing.T) {
	primary := static(t, "primary", map[string]any{}, productionReady(true))
	_, err := New(primary, nil, primary).Aggregate(context.Background())
	if !errors.Is(err, source.ErrDriverUnavailable) {
		t.Fatalf("expected ErrDriverUnavailable, got %v", err)
	}
}

func TestAggregate_TypedNilSourceIsUnavailable(t *testing.T) {
	primary := static(t, "primary", map[string]any{}, productionReady(true))
	alarm := static(t, "alarm", map[string]any{"alarms": map[string]any{}}, productionReady(true))
	event := static(t, "event", map[string]any{"events": map[string]any{}}, productionReady(true))

	cases := []struct {
		name string
		src  source.Source
	}{
		{name: "kube", src: (*source.Kube)(nil)},
		{name: "static", src: (*source.Static)(nil)},
		{name: "file", src: (*source.File)(nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, agg := range []*Aggregator{
				New(tc.src, alarm, event),
				New(primary, tc.src, event),
				New(primary, alarm, tc.src),
			} {
				if _, err := agg.Aggregate(context.Background()); !errors.Is(err, source.ErrDriverUnavailable) {
					t.Fatalf("expected ErrDriverUnavailable, got %v", err)
				}
			}
		})
	}
}

func TestAggregate_RefetchesEveryCall(t *testing.T) {
	tree := capability.MustFromMap(map[string]any{"alarms": map[string]any{}, "events": map[string]any{}})
	storage := capability.MustFromMap(productionReady(true))
	p := &stubSource{features: tree, storage: storage}
	a := &stubSource{features: tree, storage: storage}
	e := &stubSource{features: tree, storage: storage}
	agg := New(p, a, e)

	for i := 0; i < 3; i++ {
		if _, err := agg.Aggregate(context.Background()); err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
	}
	for name, s := range map[string]*stubSource{"primary": p, "alarm": a, "event": e} {
		if got := s.calls.Load(); got != 6 {
			t.Fatalf("%s: expected 6 calls over 3 aggregations, got %d", name, got)
		}
	}

	a.features = capability.MustFromMap(map[string]any{"alarms": map[string]any{"query": map[string]any{"simple": true}}})
	res, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !capability.MustFlatten(res.Features)["alarms.query.simple"] {
		t.Fatalf("expected reconfigured alarm capabilities to be visible immediately")
	}
}

func TestAggregate_FailureCancelsSiblings(t *testing.T) {
	tree := capability.MustFromMap(map[string]any{"alarms": map[string]any{}, "events": map[string]any{}})
	storage := capability.MustFromMap(productionReady(true))
	never := make(chan struct{})
	slow := &stubSource{features: tree, storage: storage, blockUntil: never}
	failing := &stubSource{features: tree, storage: storage, storageErr: source.Unavailable("alarm", errors.New("down"))}

	_, err := New(slow, failing, slow).Aggregate(context.Background())
	if !errors.Is(err, source.ErrDriverUnavailable) {
		t.Fatalf("expected ErrDriverUnavailable, got %v", err)
	}
}

func TestAggregate_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	primary := static(t, "primary", map[string]any{}, productionReady(true))
	alarm := static(t, "alarm", map[string]any{"alarms": map[string]any{}}, productionReady(true))
	event := static(t, "event", map[string]any{"events": map[string]any{}}, productionReady(true))

	if _, err := New(primary, alarm, event, WithTracerProvider(tp)).Aggregate(context.Background()); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	counts := map[string]int{}
	for _, s := range recorder.Ended() {
		counts[s.Name()]++
	}
	if counts["capabilities.Aggregate"] != 1 {
		t.Fatalf("expected one aggregate span, got %v", counts)
	}
	if counts["capabilities.FeatureCapabilities"] != 3 || counts["capabilities.StorageQualityCapabilities"] != 3 {
		t.Fatalf("expected three fetch spans per kind, got %v", counts)
	}
}
