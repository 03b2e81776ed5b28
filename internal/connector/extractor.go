package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
	"github.com/couchcryptid/disaster-ingest/internal/stac"
)

// ErrItemNotSaved marks a per-event persistence unit that was rolled back.
// The orchestrator logs it and moves on to the next event; the error cannot
// abort the run.
var ErrItemNotSaved = errors.New("connector: item not saved")

// ItemStore is the persistence surface the extraction pipeline needs.
type ItemStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	UpsertRawItem(ctx context.Context, item domain.RawItem) (bool, error)
}

// Extractor runs one connector's pull cycle end-to-end: events in the
// current time window, then the correlated hazard and impact records per
// event, then transform and load.
type Extractor struct {
	stac       *stac.Client
	store      ItemStore
	loader     *Loader
	clock      clockwork.Clock
	windowDays int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewExtractor creates an Extractor. windowDays bounds the default pull
// window for connectors that have never completed a run.
func NewExtractor(client *stac.Client, store ItemStore, loader *Loader, clock clockwork.Clock, windowDays int, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{
		stac:       client,
		store:      store,
		loader:     loader,
		clock:      clock,
		windowDays: windowDays,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run pulls all events in the connector's window and ingests each one.
// Event-list and hazard fetch errors abort the run; per-event save failures
// are logged and skipped.
func (e *Extractor) Run(ctx context.Context, conn domain.Connector, def Definition) error {
	start := e.clock.Now()

	query := url.Values{"datetime": {e.window(conn)}}
	if conn.EventFilter != "" {
		query.Set("filter", conn.EventFilter)
	}

	cur := e.stac.Search(conn.SourceURL+def.EventEndpoint, query)
	for cur.HasMore() {
		features, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("fetch %s events: %w", conn.Type, err)
		}
		e.metrics.FeaturesFetched.WithLabelValues(string(conn.Type), string(domain.CollectionEvent)).Add(float64(len(features)))

		for _, feature := range features {
			if err := e.processEvent(ctx, conn, def, feature); err != nil {
				if errors.Is(err, ErrItemNotSaved) {
					continue
				}
				return err
			}
		}
	}

	e.metrics.RunDuration.WithLabelValues(string(conn.Type)).Observe(e.clock.Since(start).Seconds())
	return nil
}

// window returns the ISO-8601 interval for the event query: from the last
// successful run (or now minus the default window) until now.
func (e *Extractor) window(conn domain.Connector) string {
	end := e.clock.Now().UTC()
	start := end.AddDate(0, 0, -e.windowDays)
	if conn.LastSuccessRun != nil {
		start = conn.LastSuccessRun.UTC()
	}
	return start.Format(time.RFC3339) + "/" + end.Format(time.RFC3339)
}

// processEvent ingests one event feature: correlated fetches, the atomic
// persistence unit, then transform and load.
func (e *Extractor) processEvent(ctx context.Context, conn domain.Connector, def Definition, event stac.Feature) error {
	if event.ID == "" {
		e.logger.Error("event feature missing id, skipping", "connector", conn.Type)
		e.metrics.FeaturesSkipped.Inc()
		return nil
	}
	corrID := event.Properties.String(CorrelationProperty)
	if corrID == "" {
		e.logger.Error("event feature missing correlation id, skipping",
			"connector", conn.Type,
			"stac_id", event.ID,
		)
		e.metrics.FeaturesSkipped.Inc()
		return nil
	}

	hazard, err := e.fetchHazard(ctx, conn, def, corrID)
	if err != nil {
		return fmt.Errorf("fetch hazard for event %s: %w", event.ID, err)
	}
	impacts := e.fetchImpacts(ctx, conn, def, corrID, event.ID)

	if err := e.persistItems(ctx, conn, corrID, event, hazard, impacts); err != nil {
		e.logger.Error("event items not saved, skipping",
			"connector", conn.Type,
			"stac_id", event.ID,
			"correlation_id", corrID,
			"error", err,
		)
		e.metrics.ItemSaveErrors.Inc()
		return fmt.Errorf("%w: event %s", ErrItemNotSaved, event.ID)
	}

	rec := domain.Transform(corrID, conn.Type, event, hazard, impacts, def.Transform, e.logger)
	if err := e.loader.Load(ctx, def, rec); err != nil {
		e.logger.Error("aggregate load failed",
			"connector", conn.Type,
			"correlation_id", corrID,
			"error", err,
		)
		return err
	}
	return nil
}

// fetchHazard returns the first hazard matching the correlation id, in API
// order; additional matches are ignored. A missing endpoint or empty result
// yields an absent hazard, not an error.
func (e *Extractor) fetchHazard(ctx context.Context, conn domain.Connector, def Definition, corrID string) (*stac.Feature, error) {
	if def.HazardEndpoint == "" {
		return nil, nil
	}
	query := url.Values{"filter": {corrFilter(conn.HazardFilter, corrID)}}
	cur := e.stac.Search(conn.SourceURL+def.HazardEndpoint, query)

	hazard, err := cur.First(ctx)
	if err != nil {
		return nil, err
	}
	if hazard != nil {
		e.metrics.FeaturesFetched.WithLabelValues(string(conn.Type), string(domain.CollectionHazard)).Inc()
	}
	return hazard, nil
}

// fetchImpacts returns all impacts matching the correlation id. Fetch
// failures are logged and treated as "no impacts".
func (e *Extractor) fetchImpacts(ctx context.Context, conn domain.Connector, def Definition, corrID, eventID string) []stac.Feature {
	if def.ImpactEndpoint == "" {
		return nil
	}
	query := url.Values{"filter": {corrFilter(conn.ImpactFilter, corrID)}}
	cur := e.stac.Search(conn.SourceURL+def.ImpactEndpoint, query)

	impacts, err := cur.All(ctx)
	if err != nil {
		e.logger.Warn("impact fetch failed, treating as no impacts",
			"connector", conn.Type,
			"stac_id", eventID,
			"error", err,
		)
		return nil
	}
	e.metrics.FeaturesFetched.WithLabelValues(string(conn.Type), string(domain.CollectionImpact)).Add(float64(len(impacts)))
	return impacts
}

// persistItems upserts the event, hazard, and impact items in one
// transaction. A failure rolls back the whole unit.
func (e *Extractor) persistItems(ctx context.Context, conn domain.Connector, corrID string, event stac.Feature, hazard *stac.Feature, impacts []stac.Feature) error {
	return e.store.WithTx(ctx, func(ctx context.Context) error {
		if err := e.upsertItem(ctx, conn, domain.CollectionEvent, event, corrID); err != nil {
			return err
		}
		if hazard != nil && hazard.ID != "" {
			if err := e.upsertItem(ctx, conn, domain.CollectionHazard, *hazard, corrID); err != nil {
				return err
			}
		}
		for _, impact := range impacts {
			if impact.ID == "" {
				continue
			}
			if err := e.upsertItem(ctx, conn, domain.CollectionImpact, impact, corrID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Extractor) upsertItem(ctx context.Context, conn domain.Connector, coll domain.Collection, feature stac.Feature, corrID string) error {
	payload, err := json.Marshal(feature)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", coll, feature.ID, err)
	}
	_, err = e.store.UpsertRawItem(ctx, domain.RawItem{
		StacID:        feature.ID,
		Collection:    coll,
		CorrelationID: corrID,
		Connector:     conn.Type,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	e.metrics.ItemsUpserted.WithLabelValues(string(conn.Type), string(coll)).Inc()
	return nil
}

// corrFilter appends the correlation-id clause to the collection's base
// filter.
func corrFilter(base, corrID string) string {
	expr := fmt.Sprintf("%s = '%s'", CorrelationProperty, corrID)
	if base == "" {
		return expr
	}
	return base + " AND " + expr
}
