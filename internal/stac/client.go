package stac

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client fetches paginated feature collections from a STAC API.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a STAC search client. Every request uses the given fixed
// timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Search returns a cursor over the features matching the query at the given
// search URL. Nothing is fetched until the first call to Next.
func (c *Client) Search(rawURL string, query url.Values) *Cursor {
	return &Cursor{
		client:  c,
		nextURL: rawURL,
		query:   query,
	}
}

// fetchPage performs one GET against the search endpoint and decodes the page.
func (c *Client) fetchPage(ctx context.Context, fullURL string) (*searchPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stac search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stac API error: status %d: %s", resp.StatusCode, body)
	}

	return decodeSearchPage(resp.Body, fullURL)
}
