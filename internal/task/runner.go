package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-ingest/internal/connector"
	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
)

// ConnectorStore tracks connector rows and their run-status state machine.
type ConnectorStore interface {
	GetConnector(ctx context.Context, typ domain.ConnectorType) (domain.Connector, error)
	ListConnectors(ctx context.Context) ([]domain.Connector, error)
	SetConnectorStatus(ctx context.Context, typ domain.ConnectorType, status domain.RunStatus) error
	MarkConnectorSuccess(ctx context.Context, typ domain.ConnectorType, at time.Time) error
}

// Ingester runs one connector pull cycle.
type Ingester interface {
	Run(ctx context.Context, conn domain.Connector, def connector.Definition) error
}

// Validator sweeps a connector's unprocessed raw items.
type Validator interface {
	Validate(ctx context.Context, conn domain.Connector, def connector.Definition) (connector.Counters, error)
}

// Runner executes connector tasks with bounded retries. Retries re-execute
// the entire run and rely on upsert idempotency, not partial resume.
type Runner struct {
	store       ConnectorStore
	registry    *connector.Registry
	ingester    Ingester
	validator   Validator
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewRunner creates a Runner with the given retry policy.
func NewRunner(store ConnectorStore, registry *connector.Registry, ingester Ingester, validator Validator, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, maxAttempts int, baseBackoff, maxBackoff time.Duration) *Runner {
	return &Runner{
		store:       store,
		registry:    registry,
		ingester:    ingester,
		validator:   validator,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Run executes the connector's pull cycle, retrying failed attempts with
// exponential backoff. On success the connector's status becomes SUCCESS and
// its last_success_run watermark advances to now; when retries are exhausted
// the status stays FAILED, the watermark is unchanged, and the terminal
// error is returned.
func (r *Runner) Run(ctx context.Context, typ domain.ConnectorType) error {
	def, err := r.registry.Lookup(typ)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := r.logger.With("connector", typ, "run_id", runID)

	backoff := r.baseBackoff
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		conn, err := r.store.GetConnector(ctx, typ)
		if err != nil {
			return err
		}
		if err := r.store.SetConnectorStatus(ctx, typ, domain.StatusRunning); err != nil {
			return err
		}

		logger.Info("connector run started", "attempt", attempt, "last_success_run", conn.LastSuccessRun)

		err = r.ingester.Run(ctx, conn, def)
		if err == nil {
			now := r.clock.Now().UTC()
			if err := r.store.MarkConnectorSuccess(ctx, typ, now); err != nil {
				return err
			}
			r.metrics.ConnectorRuns.WithLabelValues(string(typ), "success").Inc()
			logger.Info("connector run succeeded", "attempt", attempt)
			return nil
		}

		lastErr = err
		if statusErr := r.store.SetConnectorStatus(ctx, typ, domain.StatusFailed); statusErr != nil {
			logger.Error("failed to record FAILED status", "error", statusErr)
		}
		logger.Warn("connector run attempt failed",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"error", err,
		)

		if attempt < r.maxAttempts {
			if !sleepWithContext(ctx, backoff) {
				break
			}
			backoff = nextBackoff(backoff, r.maxBackoff)
		}
	}

	r.metrics.ConnectorRuns.WithLabelValues(string(typ), "failed").Inc()
	logger.Error("connector run failed terminally", "error", lastErr)
	return fmt.Errorf("connector %s: run failed after %d attempts: %w", typ, r.maxAttempts, lastErr)
}

// Validate sweeps the connector's unprocessed items once and returns the
// per-run counters.
func (r *Runner) Validate(ctx context.Context, typ domain.ConnectorType) (connector.Counters, error) {
	def, err := r.registry.Lookup(typ)
	if err != nil {
		return connector.Counters{}, err
	}
	conn, err := r.store.GetConnector(ctx, typ)
	if err != nil {
		return connector.Counters{}, err
	}

	counters, err := r.validator.Validate(ctx, conn, def)
	if err != nil {
		return counters, err
	}
	r.logger.Info("validation run finished",
		"connector", typ,
		"processed", counters.Processed,
		"eligible", counters.Eligible,
		"errors", counters.Errors,
	)
	return counters, nil
}

// ValidateAll runs Validate for every configured connector. Per-connector
// failures are logged and do not stop the sweep.
func (r *Runner) ValidateAll(ctx context.Context) (map[domain.ConnectorType]connector.Counters, error) {
	connectors, err := r.store.ListConnectors(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[domain.ConnectorType]connector.Counters, len(connectors))
	for _, conn := range connectors {
		counters, err := r.Validate(ctx, conn.Type)
		if err != nil {
			r.logger.Error("validation failed for connector, continuing",
				"connector", conn.Type,
				"error", err,
			)
			continue
		}
		results[conn.Type] = counters
	}
	return results, nil
}

// nextBackoff doubles the backoff up to the cap.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleepWithContext sleeps for d unless the context is cancelled first.
// Returns false when the sleep was interrupted.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
