package domain

import (
	"encoding/json"
	"log/slog"
	"math"

	"github.com/couchcryptid/disaster-ingest/internal/stac"
)

// Property keys shared by all monty-profile STAC sources.
const (
	PropTitle        = "title"
	PropDescription  = "description"
	PropCountryCodes = "monty:country_codes"
	PropHazardDetail = "monty:hazard_detail"
	PropImpactDetail = "monty:impact_detail"
)

// ImpactKey is the (category, type) pair identifying one impact measurement.
type ImpactKey struct {
	Category string
	Type     string
}

// Flat returns the fallback field key "<category>.<type>".
func (k ImpactKey) Flat() string {
	return k.Category + "." + k.Type
}

// TransformSpec carries the per-source mapping tables driving the transform.
// Specs are value objects selected through the connector registry.
type TransformSpec struct {
	// ImpactFieldMap maps (category, type) pairs to flattened field keys.
	// Unmapped pairs fall back to "<category>.<type>".
	ImpactFieldMap map[ImpactKey]string

	// PeopleCandidates is probed in order for the people-exposed metric;
	// the first truthy value wins.
	PeopleCandidates []string

	// BuildingsField names the single field backing the buildings-exposed
	// metric.
	BuildingsField string
}

// Transform maps an (event, optional hazard, impacts) triple to a flat
// aggregated record. It is a pure function of its inputs apart from the
// ProcessedAt stamp and warning logs for non-numeric impact values.
func Transform(corrID string, connector ConnectorType, event stac.Feature, hazard *stac.Feature, impacts []stac.Feature, spec TransformSpec, logger *slog.Logger) AggregatedRecord {
	rec := AggregatedRecord{
		CorrelationID: corrID,
		Connector:     connector,
		ProcessedAt:   clock.Now().UTC(),
	}

	processEvent(&rec, event)
	processHazard(&rec, hazard)
	processImpacts(&rec, impacts, spec, logger)

	return rec
}

// processEvent extracts title, description, and country from the event
// feature, defaulting to empty strings when absent.
func processEvent(rec *AggregatedRecord, event stac.Feature) {
	rec.Title = event.Properties.String(PropTitle)
	rec.Description = event.Properties.String(PropDescription)
	rec.Country = event.Properties.FirstString(PropCountryCodes)
}

// processHazard extracts the severity triple from the hazard detail. An
// absent hazard is not an error; the severity fields stay zero-valued.
func processHazard(rec *AggregatedRecord, hazard *stac.Feature) {
	if hazard == nil {
		return
	}
	detail := hazard.Properties.Object(PropHazardDetail)
	if detail == nil {
		return
	}
	rec.SeverityUnit = detail.String("severity_unit")
	rec.SeverityLabel = detail.String("severity_label")
	rec.SeverityValue, _ = detail.Float("severity_value")
}

// processImpacts flattens the impact details into a field map plus a raw
// detail metadata map, then derives the people- and buildings-exposed
// metrics by source-specific policy.
func processImpacts(rec *AggregatedRecord, impacts []stac.Feature, spec TransformSpec, logger *slog.Logger) {
	fields := make(map[string]any)
	details := make(map[string]string)

	for _, impact := range impacts {
		detail := impact.Properties.Object(PropImpactDetail)
		if detail == nil {
			continue
		}
		key := ImpactKey{
			Category: detail.String("category"),
			Type:     detail.String("type"),
		}
		field, ok := spec.ImpactFieldMap[key]
		if !ok {
			field = key.Flat()
		}
		value, _ := detail.Value("value")
		fields[field] = value
		if raw, err := json.Marshal(detail); err == nil {
			details[field] = string(raw)
		}
	}

	rec.ImpactFields = fields
	rec.ImpactDetails = details
	rec.PeopleExposed = derivePeopleExposed(fields, spec.PeopleCandidates, logger)
	rec.BuildingsExposed = deriveBuildingsExposed(fields, spec.BuildingsField, logger)
}

// derivePeopleExposed probes the candidate fields in priority order and
// returns the first truthy value. A present-but-zero field falls through to
// the next candidate. A truthy but non-integer value fails closed to 0.
func derivePeopleExposed(fields map[string]any, candidates []string, logger *slog.Logger) int64 {
	for _, field := range candidates {
		value, ok := fields[field]
		if !ok || !truthy(value) {
			continue
		}
		return coerceCount(field, value, logger)
	}
	return 0
}

// deriveBuildingsExposed reads the single configured field, defaulting to 0
// when absent.
func deriveBuildingsExposed(fields map[string]any, field string, logger *slog.Logger) int64 {
	value, ok := fields[field]
	if !ok || value == nil {
		return 0
	}
	return coerceCount(field, value, logger)
}

// truthy mirrors the loose presence semantics of the upstream feed: zero
// numbers, empty strings, and empty containers do not count as a reading.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case float64:
		return t != 0
	case string:
		return t != ""
	case bool:
		return t
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// coerceCount converts an impact value to a whole count. Anything that is
// not an integral number fails closed to 0 with a warning.
func coerceCount(field string, value any, logger *slog.Logger) int64 {
	f, ok := value.(float64)
	if !ok || f != math.Trunc(f) {
		logger.Warn("impact value is not an integer, defaulting to 0",
			"field", field,
			"value", value,
		)
		return 0
	}
	return int64(f)
}
