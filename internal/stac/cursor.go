package stac

import (
	"context"
	"errors"
	"net/url"
)

// ErrCursorConsumed is returned when Next is called on an exhausted cursor.
// A cursor is single-pass; re-traversal requires a new Search call.
var ErrCursorConsumed = errors.New("stac: cursor already consumed")

// Cursor lazily walks a paginated search result, one page per Next call.
// Pagination follows the rel="next" link of each page. The original query is
// sent only on the first request; subsequent requests rely on the next href
// carrying the parameters forward (catalog servers embed them in the link).
//
// A Cursor is finite and not restartable: once the last page has been
// yielded, further Next calls return ErrCursorConsumed.
type Cursor struct {
	client  *Client
	nextURL string
	query   url.Values
	started bool
	done    bool
}

// HasMore reports whether another page can be fetched.
func (cur *Cursor) HasMore() bool {
	return !cur.done
}

// Next fetches the next page and returns its features, which may be empty on
// the final page. Returns ErrCursorConsumed once the cursor is exhausted.
func (cur *Cursor) Next(ctx context.Context) ([]Feature, error) {
	if cur.done {
		return nil, ErrCursorConsumed
	}

	fullURL := cur.nextURL
	if !cur.started {
		cur.started = true
		if len(cur.query) > 0 {
			fullURL += "?" + cur.query.Encode()
		}
	}

	page, err := cur.client.fetchPage(ctx, fullURL)
	if err != nil {
		cur.done = true
		return nil, err
	}

	cur.nextURL = page.nextHref()
	if cur.nextURL == "" {
		cur.done = true
	}
	return page.Features, nil
}

// First fetches at most one page and returns its first feature, or nil when
// the result set is empty. The cursor is consumed afterwards.
func (cur *Cursor) First(ctx context.Context) (*Feature, error) {
	features, err := cur.Next(ctx)
	if err != nil {
		return nil, err
	}
	cur.done = true
	if len(features) == 0 {
		return nil, nil
	}
	f := features[0]
	return &f, nil
}

// All drains the cursor and returns every remaining feature in page order.
func (cur *Cursor) All(ctx context.Context) ([]Feature, error) {
	var all []Feature
	for cur.HasMore() {
		features, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, features...)
	}
	return all, nil
}
