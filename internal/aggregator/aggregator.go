package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
	"github.com/bayleafwalker/bindery-capabilities/internal/source"
)

const (
	AlarmsKey = "alarms"
	EventsKey = "events"

	tracerName = "github.com/bayleafwalker/bindery-capabilities/internal/aggregator"
)

// Role names a source's position in the aggregation.
type Role string

const (
	RolePrimary Role = "primary"
	RoleAlarm   Role = "alarm"
	RoleEvent   Role = "event"
)

// Result holds the unified feature tree and the three storage quality trees.
// The storage trees describe different physical systems and are never merged.
type Result struct {
	Features     capability.Tree
	Storage      capability.Tree
	AlarmStorage capability.Tree
	EventStorage capability.Tree
}

// Aggregator merges the capabilities of the primary, alarm and event sources.
// It holds no per-request state and is safe for concurrent use.
type Aggregator struct {
	primary source.Source
	alarm   source.Source
	event   source.Source
	tracer  trace.Tracer
}

type Option func(*Aggregator)

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Aggregator) {
		a.tracer = tp.Tracer(tracerName)
	}
}

func New(primary, alarm, event source.Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		primary: primary,
		alarm:   alarm,
		event:   event,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type fetched struct {
	features capability.Tree
	storage  capability.Tree
}

// Aggregate fetches all six trees concurrently and composes them. Any single
// failure fails the whole call; there is no partial result.
func (a *Aggregator) Aggregate(ctx context.Context) (Result, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "capabilities.Aggregate")
	defer span.End()

	res, err := a.aggregate(ctx)
	aggregateDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		aggregateTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	aggregateTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (a *Aggregator) aggregate(ctx context.Context) (Result, error) {
	logger := log.FromContext(ctx).WithValues("component", "CapabilityAggregator")

	var primary, alarm, event fetched
	g, gctx := errgroup.WithContext(ctx)
	a.fetch(gctx, g, RolePrimary, a.primary, &primary)
	a.fetch(gctx, g, RoleAlarm, a.alarm, &alarm)
	a.fetch(gctx, g, RoleEvent, a.event, &event)
	if err := g.Wait(); err != nil {
		logger.Error(err, "capability fetch failed")
		return Result{}, err
	}

	features, err := overrideAlarms(primary.features, alarm.features)
	if err != nil {
		return Result{}, err
	}
	features, err = overrideEvents(features, event.features)
	if err != nil {
		return Result{}, err
	}

	logger.V(1).Info("aggregated capabilities",
		"featureGroups", features.Keys(),
		"alarmDomain", alarm.features.Len() > 0,
		"eventDomain", event.features.Len() > 0,
	)

	return Result{
		Features:     features,
		Storage:      primary.storage,
		AlarmStorage: alarm.storage,
		EventStorage: event.storage,
	}, nil
}

func (a *Aggregator) fetch(ctx context.Context, g *errgroup.Group, role Role, src source.Source, out *fetched) {
	if src == nil {
		g.Go(func() error {
			err := source.Unavailable(string(role), errors.New("source not configured"))
			sourceErrorsTotal.WithLabelValues(string(role), reason(err)).Inc()
			return err
		})
		return
	}
	g.Go(func() error {
		_, span := a.tracer.Start(ctx, "capabilities.FeatureCapabilities",
			trace.WithAttributes(attribute.String("capabilities.role", string(role))))
		defer span.End()
		t, err := src.FeatureCapabilities(ctx)
		if err == nil {
			err = requireBranch(t)
		}
		if err != nil {
			sourceErrorsTotal.WithLabelValues(string(role), reason(err)).Inc()
			span.RecordError(err)
			return fmt.Errorf("%s feature capabilities: %w", role, err)
		}
		out.features = t
		return nil
	})
	g.Go(func() error {
		_, span := a.tracer.Start(ctx, "capabilities.StorageQualityCapabilities",
			trace.WithAttributes(attribute.String("capabilities.role", string(role))))
		defer span.End()
		t, err := src.StorageQualityCapabilities(ctx)
		if err == nil {
			err = requireStorageRoot(t)
		}
		if err != nil {
			sourceErrorsTotal.WithLabelValues(string(role), reason(err)).Inc()
			span.RecordError(err)
			return fmt.Errorf("%s storage capabilities: %w", role, err)
		}
		out.storage = t
		return nil
	})
}

func requireBranch(t capability.Tree) error {
	switch {
	case t.IsBranch():
		return nil
	case t.IsLeaf():
		return capability.ErrAmbiguousTopLevelLeaf
	default:
		return &capability.MalformedError{Reason: "source returned a zero-value tree"}
	}
}

// requireStorageRoot checks that a storage quality tree is rooted at the
// fixed storage key so its flattened paths keep the "storage." prefix.
func requireStorageRoot(t capability.Tree) error {
	if err := requireBranch(t); err != nil {
		return err
	}
	if _, ok := t.Child(source.StorageKey); !ok {
		return &capability.MalformedError{Reason: fmt.Sprintf("storage quality tree must be rooted at %q", source.StorageKey)}
	}
	return nil
}

// overrideAlarms replaces the base tree's alarms subtree wholesale with the
// alarm source's. The primary source's alarms entry, if any, is discarded.
func overrideAlarms(base, alarmFeatures capability.Tree) (capability.Tree, error) {
	return overrideDomain(base, alarmFeatures, AlarmsKey, RoleAlarm)
}

// overrideEvents replaces the base tree's events subtree wholesale with the
// event source's.
func overrideEvents(base, eventFeatures capability.Tree) (capability.Tree, error) {
	return overrideDomain(base, eventFeatures, EventsKey, RoleEvent)
}

// overrideDomain takes only key from specialized; its other top-level keys
// are ignored.
func overrideDomain(base, specialized capability.Tree, key string, role Role) (capability.Tree, error) {
	sub, ok := specialized.Child(key)
	if !ok {
		err := &capability.MalformedError{Reason: fmt.Sprintf("%s source did not report the %q domain", role, key)}
		sourceErrorsTotal.WithLabelValues(string(role), reason(err)).Inc()
		return capability.Tree{}, err
	}
	return base.With(key, sub)
}

func reason(err error) string {
	switch {
	case errors.Is(err, source.ErrDriverUnavailable):
		return "unavailable"
	case errors.Is(err, capability.ErrAmbiguousTopLevelLeaf):
		return "top_level_leaf"
	case errors.Is(err, capability.ErrMalformedTree):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
