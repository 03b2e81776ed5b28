package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
)

// Task subjects on the NATS bus.
const (
	SubjectRun         = "connector.run"
	SubjectValidate    = "connector.validate"
	SubjectValidateAll = "connector.validate.all"
)

// Event is the payload carried by run and validate messages.
type Event struct {
	Connector string `json:"connector"`
}

// Publisher enqueues connector tasks onto the bus.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS for publishing tasks.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("task: connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// EnqueueRun requests a pull cycle for the connector.
func (p *Publisher) EnqueueRun(typ domain.ConnectorType) error {
	return p.publish(SubjectRun, Event{Connector: string(typ)})
}

// EnqueueValidate requests a validation sweep for the connector.
func (p *Publisher) EnqueueValidate(typ domain.ConnectorType) error {
	return p.publish(SubjectValidate, Event{Connector: string(typ)})
}

// EnqueueValidateAll requests a validation sweep across all connectors.
func (p *Publisher) EnqueueValidateAll() error {
	return p.publish(SubjectValidateAll, Event{})
}

func (p *Publisher) publish(subject string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("task: marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("task: publish %s: %w", subject, err)
	}
	return p.conn.Flush()
}

// Close drains the publisher connection.
func (p *Publisher) Close() {
	p.conn.Close()
}

// Subscriber consumes task messages and dispatches them to the Runner.
type Subscriber struct {
	conn        *nats.Conn
	runner      *Runner
	taskTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
	subs        []*nats.Subscription
	ready       atomic.Bool
}

// NewSubscriber connects to NATS for consuming tasks.
func NewSubscriber(url string, runner *Runner, taskTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("task: connect to NATS: %w", err)
	}
	return &Subscriber{
		conn:        conn,
		runner:      runner,
		taskTimeout: taskTimeout,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Start subscribes to all task subjects. Messages on the same subject are
// handled sequentially; a queue group shares work across replicas.
func (s *Subscriber) Start() error {
	handlers := map[string]nats.MsgHandler{
		SubjectRun:         s.handleRun,
		SubjectValidate:    s.handleValidate,
		SubjectValidateAll: s.handleValidateAll,
	}

	for subject, handler := range handlers {
		sub, err := s.conn.QueueSubscribe(subject, "ingest-workers", handler)
		if err != nil {
			return fmt.Errorf("task: subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.ready.Store(true)
	s.metrics.WorkerRunning.Set(1)
	s.logger.Info("task subscriber started", "subjects", len(handlers))
	return nil
}

// CheckReadiness reports whether the subscriber is connected and consuming.
func (s *Subscriber) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() || !s.conn.IsConnected() {
		return fmt.Errorf("task: subscriber not ready")
	}
	return nil
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() {
	s.ready.Store(false)
	s.metrics.WorkerRunning.Set(0)
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", "error", err)
		}
	}
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn("failed to drain NATS connection", "error", err)
	}
}

func (s *Subscriber) handleRun(msg *nats.Msg) {
	typ, ok := s.decodeConnector(msg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	if err := s.runner.Run(ctx, typ); err != nil {
		s.logger.Error("run task failed", "connector", typ, "error", err)
	}
}

func (s *Subscriber) handleValidate(msg *nats.Msg) {
	typ, ok := s.decodeConnector(msg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	if _, err := s.runner.Validate(ctx, typ); err != nil {
		s.logger.Error("validate task failed", "connector", typ, "error", err)
	}
}

func (s *Subscriber) handleValidateAll(_ *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	if _, err := s.runner.ValidateAll(ctx); err != nil {
		s.logger.Error("validate-all task failed", "error", err)
	}
}

// decodeConnector parses the message payload and rejects unknown connector
// types before any work starts.
func (s *Subscriber) decodeConnector(msg *nats.Msg) (domain.ConnectorType, bool) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Error("malformed task message", "subject", msg.Subject, "error", err)
		return "", false
	}

	typ := domain.ConnectorType(event.Connector)
	if !typ.Valid() {
		s.logger.Error("unknown connector type in task message", "subject", msg.Subject, "connector", event.Connector)
		return "", false
	}
	return typ, true
}
