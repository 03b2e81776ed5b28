package stac

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCursorPagination(t *testing.T) {
	var requests []string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		fmt.Fprintf(w, `{"features":[{"id":"a"},{"id":"b"}],"links":[{"rel":"next","href":"%s/page1"}]}`, srv.URL)
	})
	mux.HandleFunc("/page1", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		fmt.Fprintf(w, `{"features":[{"id":"c"}],"links":[{"rel":"self","href":"%s/page1"},{"rel":"next","href":"%s/page2"}]}`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		fmt.Fprint(w, `{"features":[{"id":"d"}],"links":[]}`)
	})

	client := NewClient(5*time.Second, testLogger())
	query := url.Values{}
	query.Set("datetime", "2026-08-01T00:00:00Z/2026-08-16T00:00:00Z")

	cur := client.Search(srv.URL+"/search", query)

	var ids []string
	for cur.HasMore() {
		features, err := cur.Next(context.Background())
		require.NoError(t, err)
		for _, f := range features {
			ids = append(ids, f.ID)
		}
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	require.Len(t, requests, 3, "each page fetched exactly once")

	// The query goes on the first request only; next hrefs are followed
	// verbatim.
	first, err := url.Parse(requests[0])
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01T00:00:00Z/2026-08-16T00:00:00Z", first.Query().Get("datetime"))
	assert.Equal(t, "/page1", requests[1])
	assert.Equal(t, "/page2", requests[2])
}

func TestCursorConsumed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"features":[{"id":"a"}],"links":[]}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(5*time.Second, testLogger())
	cur := client.Search(srv.URL+"/search", nil)

	features, err := cur.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.False(t, cur.HasMore())

	_, err = cur.Next(context.Background())
	assert.ErrorIs(t, err, ErrCursorConsumed)
}

func TestCursorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(5*time.Second, testLogger())
	cur := client.Search(srv.URL+"/search", nil)

	_, err := cur.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.False(t, cur.HasMore(), "cursor is dead after a fetch error")
}

func TestCursorDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"features": not json`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(5*time.Second, testLogger())
	cur := client.Search(srv.URL+"/search", nil)

	_, err := cur.Next(context.Background())
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestCursorFirst(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID string
		isNil  bool
	}{
		{
			name:   "returns first feature of the page",
			body:   `{"features":[{"id":"x"},{"id":"y"}],"links":[{"rel":"next","href":"http://unused.invalid/next"}]}`,
			wantID: "x",
		},
		{
			name:  "empty result set yields nil",
			body:  `{"features":[],"links":[]}`,
			isNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits++
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(srv.Close)

			client := NewClient(5*time.Second, testLogger())
			cur := client.Search(srv.URL+"/search", nil)

			f, err := cur.First(context.Background())
			require.NoError(t, err)
			if tt.isNil {
				assert.Nil(t, f)
			} else {
				require.NotNil(t, f)
				assert.Equal(t, tt.wantID, f.ID)
			}

			// First never walks past the page it fetched.
			assert.Equal(t, 1, hits)
			_, err = cur.Next(context.Background())
			assert.ErrorIs(t, err, ErrCursorConsumed)
		})
	}
}

func TestCursorAll(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"features":[{"id":"a"}],"links":[{"rel":"next","href":"%s/page1"}]}`, srv.URL)
	})
	mux.HandleFunc("/page1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"features":[{"id":"b"}],"links":[]}`)
	})

	client := NewClient(5*time.Second, testLogger())
	cur := client.Search(srv.URL+"/search", nil)

	all, err := cur.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestPropertiesAccessors(t *testing.T) {
	props := Properties{
		"title":   "Severe Flood",
		"count":   float64(42),
		"codes":   []any{"NPL", "IND"},
		"nested":  map[string]any{"severity_value": float64(3)},
		"badList": []any{},
	}

	assert.Equal(t, "Severe Flood", props.String("title"))
	assert.Equal(t, "", props.String("count"), "non-string yields empty")

	f, ok := props.Float("count")
	assert.True(t, ok)
	assert.Equal(t, float64(42), f)
	_, ok = props.Float("title")
	assert.False(t, ok)

	assert.Equal(t, "NPL", props.FirstString("codes"))
	assert.Equal(t, "", props.FirstString("badList"))
	assert.Equal(t, "", props.FirstString("missing"))

	nested := props.Object("nested")
	require.NotNil(t, nested)
	sev, ok := nested.Float("severity_value")
	assert.True(t, ok)
	assert.Equal(t, float64(3), sev)
}
