package connector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
)

// AggregateStore persists the per-disaster aggregate keyed by correlation id.
type AggregateStore interface {
	UpsertAggregate(ctx context.Context, rec domain.AggregatedRecord) (bool, error)
}

// AlertPublisher forwards eligible aggregates to the alerting surface.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, rec domain.AggregatedRecord) error
}

// Loader decides alert eligibility and idempotently persists the aggregate.
// Load failures propagate to the orchestrator and abort the run.
type Loader struct {
	store   AggregateStore
	alerts  AlertPublisher
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLoader creates a Loader. Pass a nil publisher to disable alert
// publishing.
func NewLoader(store AggregateStore, alerts AlertPublisher, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		store:   store,
		alerts:  alerts,
		logger:  logger,
		metrics: metrics,
	}
}

// Load applies the source's eligibility predicate and upserts the aggregate.
// Eligible records are additionally published to the alert topic;
// publishing is best-effort and never fails the run.
func (l *Loader) Load(ctx context.Context, def Definition, rec domain.AggregatedRecord) error {
	rec.Eligible = def.EligibleForAlert(rec)

	if _, err := l.store.UpsertAggregate(ctx, rec); err != nil {
		return fmt.Errorf("upsert aggregate %s: %w", rec.CorrelationID, err)
	}
	l.metrics.AggregatesLoaded.Inc()

	if rec.Eligible && l.alerts != nil {
		if err := l.alerts.PublishAlert(ctx, rec); err != nil {
			l.logger.Warn("alert publish failed",
				"connector", rec.Connector,
				"correlation_id", rec.CorrelationID,
				"error", err,
			)
		} else {
			l.metrics.AlertsPublished.Inc()
		}
	}
	return nil
}
