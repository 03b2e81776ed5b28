package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
)

// ErrConnectorNotFound is returned when no connector row exists for a type.
var ErrConnectorNotFound = errors.New("store: connector not found")

// Store persists connectors, raw items, aggregates, and eligible items in
// sqlite via gorm.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&connectorRow{}, &rawItemRow{}, &aggregateRow{}, &eligibleItemRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txKey struct{}

// WithTx runs fn inside one transaction. Store methods called with the
// context passed to fn join that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the ambient transaction from ctx, or the root handle.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// SeedConnectors inserts connector rows for the configured sources. Existing
// rows keep their status and last_success_run; only the source URL and
// filters are refreshed.
func (s *Store) SeedConnectors(ctx context.Context, connectors []domain.Connector) error {
	for _, c := range connectors {
		row := connectorRow{
			Type:         string(c.Type),
			SourceURL:    c.SourceURL,
			Status:       string(domain.StatusInitialized),
			EventFilter:  c.EventFilter,
			HazardFilter: c.HazardFilter,
			ImpactFilter: c.ImpactFilter,
			UpdatedAt:    time.Now().UTC(),
		}
		err := s.conn(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "connector_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_url", "event_filter", "hazard_filter", "impact_filter", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("seed connector %s: %w", c.Type, err)
		}
	}
	return nil
}

// GetConnector loads the connector row for the given type.
func (s *Store) GetConnector(ctx context.Context, typ domain.ConnectorType) (domain.Connector, error) {
	var row connectorRow
	err := s.conn(ctx).First(&row, "connector_type = ?", string(typ)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Connector{}, fmt.Errorf("%w: %s", ErrConnectorNotFound, typ)
	}
	if err != nil {
		return domain.Connector{}, fmt.Errorf("get connector %s: %w", typ, err)
	}
	return row.toDomain(), nil
}

// ListConnectors returns all configured connectors.
func (s *Store) ListConnectors(ctx context.Context) ([]domain.Connector, error) {
	var rows []connectorRow
	if err := s.conn(ctx).Order("connector_type").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	connectors := make([]domain.Connector, len(rows))
	for i, row := range rows {
		connectors[i] = row.toDomain()
	}
	return connectors, nil
}

// SetConnectorStatus updates only the run status of a connector.
func (s *Store) SetConnectorStatus(ctx context.Context, typ domain.ConnectorType, status domain.RunStatus) error {
	err := s.conn(ctx).Model(&connectorRow{}).
		Where("connector_type = ?", string(typ)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("set connector %s status: %w", typ, err)
	}
	return nil
}

// MarkConnectorSuccess sets the status to SUCCESS and advances the
// last_success_run watermark.
func (s *Store) MarkConnectorSuccess(ctx context.Context, typ domain.ConnectorType, at time.Time) error {
	err := s.conn(ctx).Model(&connectorRow{}).
		Where("connector_type = ?", string(typ)).
		Updates(map[string]any{
			"status":           string(domain.StatusSuccess),
			"last_success_run": at,
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark connector %s success: %w", typ, err)
	}
	return nil
}

// UpsertRawItem creates or overwrites the raw item keyed by stac_id.
// Returns true when a new row was created.
func (s *Store) UpsertRawItem(ctx context.Context, item domain.RawItem) (bool, error) {
	db := s.conn(ctx)

	var count int64
	if err := db.Model(&rawItemRow{}).Where("stac_id = ?", item.StacID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check raw item %s: %w", item.StacID, err)
	}

	row := rawItemFromDomain(item)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stac_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"collection", "correlation_id", "connector_type", "payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return false, fmt.Errorf("upsert raw item %s: %w", item.StacID, err)
	}
	return count == 0, nil
}

// UpsertAggregate creates or overwrites the aggregate keyed by
// correlation_id. Returns true when a new row was created.
func (s *Store) UpsertAggregate(ctx context.Context, rec domain.AggregatedRecord) (bool, error) {
	db := s.conn(ctx)

	var count int64
	if err := db.Model(&aggregateRow{}).Where("correlation_id = ?", rec.CorrelationID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check aggregate %s: %w", rec.CorrelationID, err)
	}

	row := aggregateFromDomain(rec)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "correlation_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return false, fmt.Errorf("upsert aggregate %s: %w", rec.CorrelationID, err)
	}
	return count == 0, nil
}

// GetAggregate loads the aggregate for a correlation id.
func (s *Store) GetAggregate(ctx context.Context, corrID string) (domain.AggregatedRecord, error) {
	var row aggregateRow
	if err := s.conn(ctx).First(&row, "correlation_id = ?", corrID).Error; err != nil {
		return domain.AggregatedRecord{}, fmt.Errorf("get aggregate %s: %w", corrID, err)
	}
	return row.toDomain(), nil
}

// CountRawItems returns the number of stored raw items for a connector.
func (s *Store) CountRawItems(ctx context.Context, typ domain.ConnectorType) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&rawItemRow{}).
		Where("connector_type = ?", string(typ)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count raw items: %w", err)
	}
	return count, nil
}

// UnprocessedItems returns the connector's raw items not yet seen by the
// validation pipeline, in insertion order.
func (s *Store) UnprocessedItems(ctx context.Context, typ domain.ConnectorType) ([]domain.RawItem, error) {
	var rows []rawItemRow
	err := s.conn(ctx).
		Where("connector_type = ? AND processed = ?", string(typ), false).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list unprocessed items: %w", err)
	}
	items := make([]domain.RawItem, len(rows))
	for i, row := range rows {
		items[i] = row.toDomain()
	}
	return items, nil
}

// MarkProcessed flags a raw item as seen by the validation pipeline.
func (s *Store) MarkProcessed(ctx context.Context, stacID string) error {
	err := s.conn(ctx).Model(&rawItemRow{}).
		Where("stac_id = ?", stacID).
		Updates(map[string]any{
			"processed":  true,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark item %s processed: %w", stacID, err)
	}
	return nil
}

// EligibleExists reports whether an eligible copy of the item already exists.
func (s *Store) EligibleExists(ctx context.Context, stacID string) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&eligibleItemRow{}).
		Where("stac_id = ?", stacID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check eligible item %s: %w", stacID, err)
	}
	return count > 0, nil
}

// CreateEligible copies a raw item into the eligible-items store.
func (s *Store) CreateEligible(ctx context.Context, item domain.RawItem) error {
	row := eligibleItemRow{
		StacID:        item.StacID,
		Collection:    string(item.Collection),
		CorrelationID: item.CorrelationID,
		ConnectorType: string(item.Connector),
		Payload:       item.Payload,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create eligible item %s: %w", item.StacID, err)
	}
	return nil
}
