// Package domain models disaster event data pulled from STAC catalogs.
//
// # Data Source
//
// Events, hazards, and impacts are fetched from external SpatioTemporal Asset
// Catalog (STAC) APIs. Each configured connector (flood, cyclone, earthquake)
// points at one catalog root and pulls three feature collections:
//
//	event   — one feature per disaster occurrence (title, description, countries)
//	hazard  — severity readings for a disaster (unit, label, value)
//	impact  — observed consequences (people affected, buildings destroyed, ...)
//
// The three collections are paginated independently. Features describing the
// same physical disaster share an opaque correlation id carried in the
// "monty:corr_id" property; correlation is a value-based join, not a
// structural one.
//
// # Impact Flattening
//
// Each impact feature carries a "monty:impact_detail" object with a
// (category, type) pair and a numeric value. The pair is mapped through a
// per-source lookup table to a flat field key; unmapped pairs fall back to
// "<category>.<type>". From the accumulated field map two metrics are
// derived:
//
//	people exposed    — first truthy value over an ordered candidate list.
//	                    Priority order matters: a present-but-zero field falls
//	                    through to the next candidate. Non-integer values fail
//	                    closed to 0 with a warning.
//	buildings exposed — a single named field, 0 when absent.
//
// # Idempotency
//
// Raw items are keyed by their STAC feature id and aggregates by correlation
// id. Re-ingesting the same id overwrites rather than duplicates, which makes
// whole-run retries safe without distributed coordination.
package domain
