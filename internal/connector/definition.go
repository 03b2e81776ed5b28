// Package connector implements the pull pipelines for the configured
// disaster-data sources. Each source is described by a Definition value
// object; the Registry is the single extension point for adding a source.
package connector

import (
	"fmt"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
)

// CorrelationProperty is the feature property linking event, hazard, and
// impact records of one physical disaster.
const CorrelationProperty = "monty:corr_id"

// HazardThreshold is the validation gate for hazard items: the severity
// value must exceed Value AND the label must equal Label.
type HazardThreshold struct {
	Value float64
	Label string
}

// Definition carries everything source-specific: endpoints, transform
// tables, and alerting thresholds. Definitions are immutable values built at
// startup; no component branches on connector type outside the registry.
type Definition struct {
	Type domain.ConnectorType

	EventEndpoint  string
	HazardEndpoint string
	ImpactEndpoint string

	Transform domain.TransformSpec

	// PeopleThreshold gates alert eligibility for the aggregate: strictly
	// greater-than, the boundary value is not eligible.
	PeopleThreshold int64

	// Validation thresholds for the secondary pipeline.
	HazardSeverity   HazardThreshold
	ImpactThresholds map[domain.ImpactKey]float64
}

// EligibleForAlert is the alerting predicate applied before the aggregate is
// persisted. Pure function of the transformed record.
func (d Definition) EligibleForAlert(rec domain.AggregatedRecord) bool {
	return rec.PeopleExposed > d.PeopleThreshold
}

// Registry maps connector types to their definitions.
type Registry struct {
	defs map[domain.ConnectorType]Definition
}

// NewRegistry builds the registry with the flood, cyclone, and earthquake
// definitions.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[domain.ConnectorType]Definition)}
	for _, def := range []Definition{
		floodDefinition(),
		cycloneDefinition(),
		earthquakeDefinition(),
	} {
		r.defs[def.Type] = def
	}
	return r
}

// Lookup returns the definition for a connector type, or a configuration
// error for an unregistered type.
func (r *Registry) Lookup(typ domain.ConnectorType) (Definition, error) {
	def, ok := r.defs[typ]
	if !ok {
		return Definition{}, fmt.Errorf("connector: no definition registered for type %q", typ)
	}
	return def, nil
}

// Types returns the registered connector types.
func (r *Registry) Types() []domain.ConnectorType {
	types := make([]domain.ConnectorType, 0, len(r.defs))
	for typ := range r.defs {
		types = append(types, typ)
	}
	return types
}

func floodDefinition() Definition {
	return Definition{
		Type:           domain.ConnectorFlood,
		EventEndpoint:  "/collections/fl-events/items",
		HazardEndpoint: "/collections/fl-hazards/items",
		ImpactEndpoint: "/collections/fl-impacts/items",
		Transform: domain.TransformSpec{
			ImpactFieldMap: map[domain.ImpactKey]string{
				{Category: "people", Type: "affected_total"}:       "people.affected_total",
				{Category: "people", Type: "potentially_affected"}: "people.potentially_affected",
				{Category: "people", Type: "displaced"}:            "people.displaced",
				{Category: "people", Type: "death"}:                "people.deaths",
				{Category: "buildings", Type: "destroyed"}:         "buildings.destroyed",
				{Category: "buildings", Type: "damaged"}:           "buildings.damaged",
			},
			PeopleCandidates: []string{
				"people.affected_total",
				"people.potentially_affected",
				"people.displaced",
			},
			BuildingsField: "buildings.destroyed",
		},
		PeopleThreshold: 5000,
		HazardSeverity:  HazardThreshold{Value: 2, Label: "Red"},
		ImpactThresholds: map[domain.ImpactKey]float64{
			{Category: "people", Type: "affected_total"}: 5000,
			{Category: "people", Type: "displaced"}:      1000,
			{Category: "buildings", Type: "destroyed"}:   100,
		},
	}
}

func cycloneDefinition() Definition {
	return Definition{
		Type:           domain.ConnectorCyclone,
		EventEndpoint:  "/collections/tc-events/items",
		HazardEndpoint: "/collections/tc-hazards/items",
		ImpactEndpoint: "/collections/tc-impacts/items",
		Transform: domain.TransformSpec{
			ImpactFieldMap: map[domain.ImpactKey]string{
				{Category: "people", Type: "affected_total"}:       "people.affected_total",
				{Category: "people", Type: "potentially_affected"}: "people.potentially_affected",
				// Legacy feeds report cyclone exposure under "exposed".
				{Category: "people", Type: "exposed"}:      "people.potentially_affected",
				{Category: "people", Type: "displaced"}:    "people.displaced",
				{Category: "buildings", Type: "destroyed"}: "buildings.destroyed",
				{Category: "buildings", Type: "damaged"}:   "buildings.damaged",
			},
			PeopleCandidates: []string{
				"people.affected_total",
				"people.potentially_affected",
				"people.displaced",
			},
			BuildingsField: "buildings.destroyed",
		},
		PeopleThreshold: 10000,
		HazardSeverity:  HazardThreshold{Value: 3, Label: "Red"},
		ImpactThresholds: map[domain.ImpactKey]float64{
			{Category: "people", Type: "affected_total"}: 10000,
			{Category: "people", Type: "displaced"}:      2000,
			{Category: "buildings", Type: "destroyed"}:   250,
		},
	}
}

func earthquakeDefinition() Definition {
	return Definition{
		Type:           domain.ConnectorEarthquake,
		EventEndpoint:  "/collections/eq-events/items",
		HazardEndpoint: "/collections/eq-hazards/items",
		ImpactEndpoint: "/collections/eq-impacts/items",
		Transform: domain.TransformSpec{
			ImpactFieldMap: map[domain.ImpactKey]string{
				{Category: "people", Type: "affected_total"}: "people.affected_total",
				// PAGER-derived exposure totals.
				{Category: "people", Type: "exposed_total"}: "people.potentially_affected",
				{Category: "people", Type: "death"}:         "people.deaths",
				{Category: "buildings", Type: "destroyed"}:  "buildings.destroyed",
				{Category: "buildings", Type: "damaged"}:    "buildings.damaged",
			},
			PeopleCandidates: []string{
				"people.affected_total",
				"people.potentially_affected",
				"people.deaths",
			},
			BuildingsField: "buildings.destroyed",
		},
		PeopleThreshold: 1000,
		HazardSeverity:  HazardThreshold{Value: 6, Label: "Orange"},
		ImpactThresholds: map[domain.ImpactKey]float64{
			{Category: "people", Type: "affected_total"}: 1000,
			{Category: "people", Type: "death"}:          10,
			{Category: "buildings", Type: "destroyed"}:   50,
		},
	}
}
