package stac

import (
	"encoding/json"
	"fmt"
	"io"
)

// Feature is a single STAC item as returned by a search endpoint.
type Feature struct {
	ID         string     `json:"id"`
	Properties Properties `json:"properties"`
}

// Properties is the decoded feature property bag with typed accessors.
// Values follow encoding/json conventions: numbers are float64, nested
// objects are map[string]any.
type Properties map[string]any

// String returns the property as a string, or "" when absent or not a string.
func (p Properties) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Float returns the property as a float64 and whether it was present as a number.
func (p Properties) Float(key string) (float64, bool) {
	f, ok := p[key].(float64)
	return f, ok
}

// Value returns the raw property value and whether it was present.
func (p Properties) Value(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// Object returns a nested object property, or nil when absent or not an object.
func (p Properties) Object(key string) Properties {
	m, _ := p[key].(map[string]any)
	return Properties(m)
}

// FirstString returns the first element of a string-list property, or "".
func (p Properties) FirstString(key string) string {
	list, ok := p[key].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	s, _ := list[0].(string)
	return s
}

// Link is a hypermedia link in a search response.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// searchPage is one page of a paginated search response.
type searchPage struct {
	Features []Feature `json:"features"`
	Links    []Link    `json:"links"`
}

// nextHref scans the page links for the rel="next" entry. Empty when this is
// the last page.
func (p *searchPage) nextHref() string {
	for _, l := range p.Links {
		if l.Rel == "next" {
			return l.Href
		}
	}
	return ""
}

// DecodeError wraps a malformed search response. Decoding is validated once
// at the API boundary so the transform logic never sees partial pages.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stac: decode search response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeSearchPage(r io.Reader, url string) (*searchPage, error) {
	var page searchPage
	if err := json.NewDecoder(r).Decode(&page); err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	return &page, nil
}
