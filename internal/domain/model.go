package domain

import "time"

// ConnectorType identifies a disaster-data source. One connector exists per type.
type ConnectorType string

const (
	ConnectorFlood      ConnectorType = "flood"
	ConnectorCyclone    ConnectorType = "cyclone"
	ConnectorEarthquake ConnectorType = "earthquake"
)

// Valid reports whether the type is one of the registered connector types.
func (t ConnectorType) Valid() bool {
	switch t {
	case ConnectorFlood, ConnectorCyclone, ConnectorEarthquake:
		return true
	}
	return false
}

// RunStatus tracks the lifecycle of a connector's pull runs.
type RunStatus string

const (
	StatusInitialized RunStatus = "initialized"
	StatusRunning     RunStatus = "running"
	StatusSuccess     RunStatus = "success"
	StatusFailed      RunStatus = "failed"
)

// Collection names the three STAC feature collections a connector pulls.
type Collection string

const (
	CollectionEvent  Collection = "event"
	CollectionHazard Collection = "hazard"
	CollectionImpact Collection = "impact"
)

// Connector is a configured pull job for one external disaster-data source.
// Status transitions are driven by the task runner: RUNNING at run start,
// then SUCCESS (with LastSuccessRun advanced) or FAILED (timestamp unchanged).
type Connector struct {
	Type      ConnectorType
	SourceURL string
	Status    RunStatus

	// LastSuccessRun anchors the next pull window. Nil means the connector
	// has never completed a run and the default rolling window applies.
	LastSuccessRun *time.Time

	// CQL filter strings merged into the per-collection search queries.
	EventFilter  string
	HazardFilter string
	ImpactFilter string
}

// RawItem is an event, hazard, or impact feature as fetched from the source.
// StacID is the upsert key: re-ingesting the same id overwrites.
type RawItem struct {
	StacID        string
	Collection    Collection
	CorrelationID string
	Connector     ConnectorType
	Payload       []byte
	Processed     bool
}

// AggregatedRecord is the per-disaster alerting record, one per correlation
// id. It is recomputed and overwritten on every successful run, never
// accumulated.
type AggregatedRecord struct {
	CorrelationID string
	Connector     ConnectorType

	// From the event feature.
	Title       string
	Description string
	Country     string

	// From the hazard feature, zero-valued when the hazard is absent.
	SeverityUnit  string
	SeverityLabel string
	SeverityValue float64

	// Derived from the impact features.
	PeopleExposed    int64
	BuildingsExposed int64
	ImpactFields     map[string]any
	ImpactDetails    map[string]string

	Eligible    bool
	ProcessedAt time.Time
}
