package store

import (
	"encoding/json"
	"time"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
)

type connectorRow struct {
	Type           string     `gorm:"column:connector_type;primaryKey"`
	SourceURL      string     `gorm:"column:source_url;type:text;not null"`
	Status         string     `gorm:"column:status;type:text;not null"`
	LastSuccessRun *time.Time `gorm:"column:last_success_run"`
	EventFilter    string     `gorm:"column:event_filter;type:text"`
	HazardFilter   string     `gorm:"column:hazard_filter;type:text"`
	ImpactFilter   string     `gorm:"column:impact_filter;type:text"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (connectorRow) TableName() string {
	return "connectors"
}

type rawItemRow struct {
	StacID        string    `gorm:"column:stac_id;primaryKey"`
	Collection    string    `gorm:"column:collection;type:text;not null"`
	CorrelationID string    `gorm:"column:correlation_id;type:text;not null;index"`
	ConnectorType string    `gorm:"column:connector_type;type:text;not null;index"`
	Payload       []byte    `gorm:"column:payload"`
	Processed     bool      `gorm:"column:processed;not null;index"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (rawItemRow) TableName() string {
	return "raw_items"
}

type aggregateRow struct {
	CorrelationID    string    `gorm:"column:correlation_id;primaryKey"`
	ConnectorType    string    `gorm:"column:connector_type;type:text;not null;index"`
	Title            string    `gorm:"column:title;type:text"`
	Description      string    `gorm:"column:description;type:text"`
	Country          string    `gorm:"column:country;type:text"`
	SeverityUnit     string    `gorm:"column:severity_unit;type:text"`
	SeverityLabel    string    `gorm:"column:severity_label;type:text"`
	SeverityValue    float64   `gorm:"column:severity_value"`
	PeopleExposed    int64     `gorm:"column:people_exposed"`
	BuildingsExposed int64     `gorm:"column:buildings_exposed"`
	ImpactFields     string    `gorm:"column:impact_fields;type:text"`
	ImpactDetails    string    `gorm:"column:impact_details;type:text"`
	Eligible         bool      `gorm:"column:eligible;not null"`
	ProcessedAt      time.Time `gorm:"column:processed_at"`
}

func (aggregateRow) TableName() string {
	return "aggregated_records"
}

type eligibleItemRow struct {
	StacID        string    `gorm:"column:stac_id;primaryKey"`
	Collection    string    `gorm:"column:collection;type:text;not null"`
	CorrelationID string    `gorm:"column:correlation_id;type:text;not null;index"`
	ConnectorType string    `gorm:"column:connector_type;type:text;not null"`
	Payload       []byte    `gorm:"column:payload"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (eligibleItemRow) TableName() string {
	return "eligible_items"
}

func (r connectorRow) toDomain() domain.Connector {
	return domain.Connector{
		Type:           domain.ConnectorType(r.Type),
		SourceURL:      r.SourceURL,
		Status:         domain.RunStatus(r.Status),
		LastSuccessRun: r.LastSuccessRun,
		EventFilter:    r.EventFilter,
		HazardFilter:   r.HazardFilter,
		ImpactFilter:   r.ImpactFilter,
	}
}

func (r rawItemRow) toDomain() domain.RawItem {
	return domain.RawItem{
		StacID:        r.StacID,
		Collection:    domain.Collection(r.Collection),
		CorrelationID: r.CorrelationID,
		Connector:     domain.ConnectorType(r.ConnectorType),
		Payload:       r.Payload,
		Processed:     r.Processed,
	}
}

func rawItemFromDomain(item domain.RawItem) rawItemRow {
	return rawItemRow{
		StacID:        item.StacID,
		Collection:    string(item.Collection),
		CorrelationID: item.CorrelationID,
		ConnectorType: string(item.Connector),
		Payload:       item.Payload,
		Processed:     item.Processed,
	}
}

func aggregateFromDomain(rec domain.AggregatedRecord) aggregateRow {
	fields, _ := json.Marshal(rec.ImpactFields)
	details, _ := json.Marshal(rec.ImpactDetails)
	return aggregateRow{
		CorrelationID:    rec.CorrelationID,
		ConnectorType:    string(rec.Connector),
		Title:            rec.Title,
		Description:      rec.Description,
		Country:          rec.Country,
		SeverityUnit:     rec.SeverityUnit,
		SeverityLabel:    rec.SeverityLabel,
		SeverityValue:    rec.SeverityValue,
		PeopleExposed:    rec.PeopleExposed,
		BuildingsExposed: rec.BuildingsExposed,
		ImpactFields:     string(fields),
		ImpactDetails:    string(details),
		Eligible:         rec.Eligible,
		ProcessedAt:      rec.ProcessedAt,
	}
}

func (r aggregateRow) toDomain() domain.AggregatedRecord {
	rec := domain.AggregatedRecord{
		CorrelationID:    r.CorrelationID,
		Connector:        domain.ConnectorType(r.ConnectorType),
		Title:            r.Title,
		Description:      r.Description,
		Country:          r.Country,
		SeverityUnit:     r.SeverityUnit,
		SeverityLabel:    r.SeverityLabel,
		SeverityValue:    r.SeverityValue,
		PeopleExposed:    r.PeopleExposed,
		BuildingsExposed: r.BuildingsExposed,
		Eligible:         r.Eligible,
		ProcessedAt:      r.ProcessedAt,
	}
	if r.ImpactFields != "" {
		_ = json.Unmarshal([]byte(r.ImpactFields), &rec.ImpactFields)
	}
	if r.ImpactDetails != "" {
		_ = json.Unmarshal([]byte(r.ImpactDetails), &rec.ImpactDetails)
	}
	return rec
}
