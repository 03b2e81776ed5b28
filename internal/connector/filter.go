package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
	"github.com/couchcryptid/disaster-ingest/internal/stac"
)

// ValidationStore is the persistence surface the validation pipeline needs.
type ValidationStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	UnprocessedItems(ctx context.Context, typ domain.ConnectorType) ([]domain.RawItem, error)
	MarkProcessed(ctx context.Context, stacID string) error
	EligibleExists(ctx context.Context, stacID string) (bool, error)
	CreateEligible(ctx context.Context, item domain.RawItem) error
}

// Counters reports the outcome of one validation run.
type Counters struct {
	Processed int
	Eligible  int
	Errors    int
}

// Filter is the secondary pipeline: it sweeps already-persisted raw items
// that have not been validated yet, copying the ones passing the
// collection-specific threshold predicate into the eligible-items store.
//
// Unlike the extraction pipeline, failures here are isolated per item: an
// error is logged and counted and the sweep continues. Each item commits in
// its own transaction, favoring per-item durability over all-or-nothing
// atomicity.
type Filter struct {
	store   ValidationStore
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFilter creates a Filter.
func NewFilter(store ValidationStore, logger *slog.Logger, metrics *observability.Metrics) *Filter {
	return &Filter{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Validate sweeps the connector's unprocessed items once and returns the
// per-run counters.
func (f *Filter) Validate(ctx context.Context, conn domain.Connector, def Definition) (Counters, error) {
	items, err := f.store.UnprocessedItems(ctx, conn.Type)
	if err != nil {
		return Counters{}, fmt.Errorf("list unprocessed items for %s: %w", conn.Type, err)
	}

	var c Counters
	for _, item := range items {
		eligible, err := f.processItem(ctx, item, def)
		if err != nil {
			f.logger.Error("validation failed for item, continuing",
				"connector", conn.Type,
				"stac_id", item.StacID,
				"error", err,
			)
			c.Errors++
			f.metrics.ValidationErrors.Inc()
			continue
		}
		c.Processed++
		f.metrics.ValidationProcessed.Inc()
		if eligible {
			c.Eligible++
			f.metrics.ValidationEligible.Inc()
		}
	}
	return c, nil
}

// processItem evaluates one item and marks it processed, all in a single
// transaction. The item is marked processed exactly once regardless of the
// eligibility outcome.
func (f *Filter) processItem(ctx context.Context, item domain.RawItem, def Definition) (bool, error) {
	eligible, err := f.eligible(item, def)
	if err != nil {
		return false, err
	}

	err = f.store.WithTx(ctx, func(ctx context.Context) error {
		if eligible {
			exists, err := f.store.EligibleExists(ctx, item.StacID)
			if err != nil {
				return err
			}
			if !exists {
				if err := f.store.CreateEligible(ctx, item); err != nil {
					return err
				}
			}
		}
		return f.store.MarkProcessed(ctx, item.StacID)
	})
	if err != nil {
		return false, err
	}
	return eligible, nil
}

// eligible applies the collection-specific predicate. EVENT items always
// pass. HAZARD items pass when the severity value exceeds the threshold and
// the label matches; both conditions are required. IMPACT items pass when a
// threshold is configured for their (category, type) pair and the value
// meets or exceeds it.
func (f *Filter) eligible(item domain.RawItem, def Definition) (bool, error) {
	switch item.Collection {
	case domain.CollectionEvent:
		return true, nil
	case domain.CollectionHazard:
		feature, err := decodeItemFeature(item)
		if err != nil {
			return false, err
		}
		detail := feature.Properties.Object(domain.PropHazardDetail)
		if detail == nil {
			return false, nil
		}
		value, _ := detail.Float("severity_value")
		return value > def.HazardSeverity.Value && detail.String("severity_label") == def.HazardSeverity.Label, nil
	case domain.CollectionImpact:
		feature, err := decodeItemFeature(item)
		if err != nil {
			return false, err
		}
		detail := feature.Properties.Object(domain.PropImpactDetail)
		if detail == nil {
			return false, nil
		}
		key := domain.ImpactKey{
			Category: detail.String("category"),
			Type:     detail.String("type"),
		}
		threshold, ok := def.ImpactThresholds[key]
		if !ok {
			return false, nil
		}
		value, ok := detail.Float("value")
		return ok && value >= threshold, nil
	default:
		return false, fmt.Errorf("unknown collection %q", item.Collection)
	}
}

func decodeItemFeature(item domain.RawItem) (stac.Feature, error) {
	var feature stac.Feature
	if err := json.Unmarshal(item.Payload, &feature); err != nil {
		return stac.Feature{}, fmt.Errorf("decode payload of %s: %w", item.StacID, err)
	}
	return feature, nil
}
