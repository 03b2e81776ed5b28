package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
	"github.com/couchcryptid/disaster-ingest/internal/stac"
)

type fakeItemStore struct {
	items    map[string]domain.RawItem
	upserts  int
	failFor  string
	inTx     bool
	rollback bool
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: make(map[string]domain.RawItem)}
}

func (f *fakeItemStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.inTx = true
	snapshot := make(map[string]domain.RawItem, len(f.items))
	for k, v := range f.items {
		snapshot[k] = v
	}
	err := fn(ctx)
	f.inTx = false
	if err != nil {
		f.items = snapshot
		f.rollback = true
	}
	return err
}

func (f *fakeItemStore) UpsertRawItem(_ context.Context, item domain.RawItem) (bool, error) {
	if item.StacID == f.failFor {
		return false, errors.New("constraint violation")
	}
	f.upserts++
	_, existed := f.items[item.StacID]
	f.items[item.StacID] = item
	return !existed, nil
}

// stacFixture serves a three-collection STAC API and records the query of
// every event-list request.
type stacFixture struct {
	srv          *httptest.Server
	eventQueries []url.Values

	events  []stac.Feature
	hazards map[string][]stac.Feature // keyed by corr id
	impacts map[string][]stac.Feature

	hazardStatus int
	impactStatus int
}

func newStacFixture(t *testing.T) *stacFixture {
	t.Helper()
	f := &stacFixture{
		hazards: make(map[string][]stac.Feature),
		impacts: make(map[string][]stac.Feature),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/collections/fl-events/items", func(w http.ResponseWriter, r *http.Request) {
		f.eventQueries = append(f.eventQueries, r.URL.Query())
		writePage(w, f.events)
	})
	mux.HandleFunc("/collections/fl-hazards/items", func(w http.ResponseWriter, r *http.Request) {
		if f.hazardStatus != 0 {
			w.WriteHeader(f.hazardStatus)
			return
		}
		writePage(w, f.hazards[corrIDFromFilter(r)])
	})
	mux.HandleFunc("/collections/fl-impacts/items", func(w http.ResponseWriter, r *http.Request) {
		if f.impactStatus != 0 {
			w.WriteHeader(f.impactStatus)
			return
		}
		writePage(w, f.impacts[corrIDFromFilter(r)])
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writePage(w http.ResponseWriter, features []stac.Feature) {
	if features == nil {
		features = []stac.Feature{}
	}
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"features": features,
		"links":    []any{},
	})
}

// corrIDFromFilter pulls the correlation id back out of the CQL filter
// clause the extractor builds.
func corrIDFromFilter(r *http.Request) string {
	filter := r.URL.Query().Get("filter")
	const prefix = CorrelationProperty + " = '"
	i := strings.Index(filter, prefix)
	if i < 0 {
		return ""
	}
	rest := filter[i+len(prefix):]
	if j := strings.IndexByte(rest, '\''); j >= 0 {
		return rest[:j]
	}
	return rest
}

func eventFeature(id, corrID string) stac.Feature {
	return stac.Feature{
		ID: id,
		Properties: stac.Properties{
			CorrelationProperty: corrID,
			domain.PropTitle:    "Flood " + id,
		},
	}
}

func newTestExtractor(t *testing.T, store *fakeItemStore, agg *fakeAggregateStore, clock clockwork.Clock) *Extractor {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	loader := NewLoader(agg, nil, testLogger(), metrics)
	client := stac.NewClient(5*time.Second, testLogger())
	return NewExtractor(client, store, loader, clock, 15, testLogger(), metrics)
}

func TestExtractorRun(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{eventFeature("e1", "c1")}
	fixture.hazards["c1"] = []stac.Feature{{
		ID: "h1",
		Properties: stac.Properties{
			CorrelationProperty: "c1",
			domain.PropHazardDetail: map[string]any{
				"severity_unit":  "gauge",
				"severity_label": "Red",
				"severity_value": float64(3),
			},
		},
	}}
	fixture.impacts["c1"] = []stac.Feature{
		{
			ID: "i1",
			Properties: stac.Properties{
				CorrelationProperty: "c1",
				domain.PropImpactDetail: map[string]any{
					"category": "people",
					"type":     "affected_total",
					"value":    float64(12000),
				},
			},
		},
	}

	store := newFakeItemStore()
	agg := &fakeAggregateStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC))
	extractor := newTestExtractor(t, store, agg, clock)

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))

	// Event, hazard, and impact all land in the raw store.
	assert.Len(t, store.items, 3)
	assert.Equal(t, domain.CollectionEvent, store.items["e1"].Collection)
	assert.Equal(t, domain.CollectionHazard, store.items["h1"].Collection)
	assert.Equal(t, domain.CollectionImpact, store.items["i1"].Collection)
	for _, item := range store.items {
		assert.Equal(t, "c1", item.CorrelationID)
	}

	// One aggregate, transformed and eligibility-flagged.
	require.Len(t, agg.saved, 1)
	rec := agg.saved[0]
	assert.Equal(t, "c1", rec.CorrelationID)
	assert.Equal(t, "Flood e1", rec.Title)
	assert.Equal(t, "Red", rec.SeverityLabel)
	assert.Equal(t, int64(12000), rec.PeopleExposed)
	assert.True(t, rec.Eligible, "12000 exceeds the flood threshold of 5000")

	// Default window: now minus 15 days up to now.
	require.Len(t, fixture.eventQueries, 1)
	assert.Equal(t,
		"2026-08-01T00:00:00Z/2026-08-16T00:00:00Z",
		fixture.eventQueries[0].Get("datetime"),
	)
}

func TestExtractorRunIsIdempotent(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{eventFeature("e1", "c1")}

	store := newFakeItemStore()
	agg := &fakeAggregateStore{}
	extractor := newTestExtractor(t, store, agg, clockwork.NewFakeClock())

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))

	assert.Len(t, store.items, 1, "re-ingesting the same id overwrites, never duplicates")
	assert.Equal(t, 2, store.upserts)
}

func TestExtractorWindowUsesLastSuccessRun(t *testing.T) {
	fixture := newStacFixture(t)

	store := newFakeItemStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC))
	extractor := newTestExtractor(t, store, &fakeAggregateStore{}, clock)

	last := time.Date(2026, 8, 10, 6, 30, 0, 0, time.UTC)
	conn := domain.Connector{
		Type:           domain.ConnectorFlood,
		SourceURL:      fixture.srv.URL,
		LastSuccessRun: &last,
	}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))

	require.Len(t, fixture.eventQueries, 1)
	assert.Equal(t,
		"2026-08-10T06:30:00Z/2026-08-16T00:00:00Z",
		fixture.eventQueries[0].Get("datetime"),
	)
}

func TestExtractorSkipsMalformedEvents(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{
		{ID: "", Properties: stac.Properties{CorrelationProperty: "c0"}},
		{ID: "e-no-corr", Properties: stac.Properties{}},
		eventFeature("e1", "c1"),
	}

	store := newFakeItemStore()
	agg := &fakeAggregateStore{}
	extractor := newTestExtractor(t, store, agg, clockwork.NewFakeClock())

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))

	assert.Len(t, store.items, 1, "only the well-formed event is ingested")
	assert.Contains(t, store.items, "e1")
	assert.Len(t, agg.saved, 1)
}

func TestExtractorHazardFetchErrorAborts(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{eventFeature("e1", "c1")}
	fixture.hazardStatus = http.StatusInternalServerError

	store := newFakeItemStore()
	extractor := newTestExtractor(t, store, &fakeAggregateStore{}, clockwork.NewFakeClock())

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	err := extractor.Run(context.Background(), conn, floodDefinition())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch hazard for event e1")
	assert.Empty(t, store.items, "nothing is persisted when the hazard fetch fails")
}

func TestExtractorImpactFetchErrorTolerated(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{eventFeature("e1", "c1")}
	fixture.impactStatus = http.StatusBadGateway

	store := newFakeItemStore()
	agg := &fakeAggregateStore{}
	extractor := newTestExtractor(t, store, agg, clockwork.NewFakeClock())

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))

	require.Len(t, agg.saved, 1)
	assert.Equal(t, int64(0), agg.saved[0].PeopleExposed)
	assert.Empty(t, agg.saved[0].ImpactFields)
}

func TestExtractorSaveFailureSkipsEvent(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{
		eventFeature("e1", "c1"),
		eventFeature("e2", "c2"),
	}

	store := newFakeItemStore()
	store.failFor = "e1"
	agg := &fakeAggregateStore{}
	extractor := newTestExtractor(t, store, agg, clockwork.NewFakeClock())

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()),
		"a per-event save failure never aborts the run")

	assert.True(t, store.rollback, "the failed unit was rolled back")
	assert.NotContains(t, store.items, "e1")
	assert.Contains(t, store.items, "e2")
	require.Len(t, agg.saved, 1, "no aggregate for the unsaved event")
	assert.Equal(t, "c2", agg.saved[0].CorrelationID)
}

func TestExtractorTakesFirstHazardOnly(t *testing.T) {
	fixture := newStacFixture(t)
	fixture.events = []stac.Feature{eventFeature("e1", "c1")}
	fixture.hazards["c1"] = []stac.Feature{
		{ID: "h1", Properties: stac.Properties{CorrelationProperty: "c1"}},
		{ID: "h2", Properties: stac.Properties{CorrelationProperty: "c1"}},
	}

	store := newFakeItemStore()
	extractor := newTestExtractor(t, store, &fakeAggregateStore{}, clockwork.NewFakeClock())

	conn := domain.Connector{Type: domain.ConnectorFlood, SourceURL: fixture.srv.URL}
	require.NoError(t, extractor.Run(context.Background(), conn, floodDefinition()))

	assert.Contains(t, store.items, "h1")
	assert.NotContains(t, store.items, "h2", "additional hazards are ignored")
}

func TestCorrFilter(t *testing.T) {
	assert.Equal(t,
		fmt.Sprintf("%s = 'c1'", CorrelationProperty),
		corrFilter("", "c1"),
	)
	assert.Equal(t,
		fmt.Sprintf("severity > 2 AND %s = 'c1'", CorrelationProperty),
		corrFilter("severity > 2", "c1"),
	)
}
