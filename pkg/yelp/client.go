// Package yelp is a thin client for the Yelp Fusion business search API.
package yelp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/resilience"
)

const defaultBaseURL = "https://api.yelp.com/v3"

// MaxLimit is the largest page Yelp business search returns.
const MaxLimit = 50

// Client performs Yelp Fusion API operations.
type Client interface {
	SearchBusinesses(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest holds business search parameters.
type SearchRequest struct {
	Term       string
	Location   string
	Categories string // comma-separated category aliases
	Limit      int
	Offset     int
}

// SearchResponse is the response from /businesses/search.
type SearchResponse struct {
	Total      int        `json:"total"`
	Businesses []Business `json:"businesses"`
}

// Business is one Yelp listing.
type Business struct {
	ID          string       `json:"id"`
	Alias       string       `json:"alias"`
	Name        string       `json:"name"`
	ImageURL    string       `json:"image_url"`
	IsClosed    bool         `json:"is_closed"`
	URL         string       `json:"url"`
	ReviewCount int          `json:"review_count"`
	Rating      *float64     `json:"rating,omitempty"`
	Categories  []Category   `json:"categories"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Location    Location     `json:"location"`
	Phone       string       `json:"phone"`
}

// Category is a Yelp category alias and title.
type Category struct {
	Alias string `json:"alias"`
	Title string `json:"title"`
}

// Coordinates is the business location. Yelp sends nulls for unplaced listings.
type Coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Location is the business address.
type Location struct {
	Address1       string   `json:"address1"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	ZipCode        string   `json:"zip_code"`
	DisplayAddress []string `json:"display_address"`
}

// Address returns the display address as a single line.
func (b *Business) Address() string {
	return strings.Join(b.Location.DisplayAddress, ", ")
}

// CategoryAliases returns the aliases of the business categories.
func (b *Business) CategoryAliases() []string {
	out := make([]string, 0, len(b.Categories))
	for _, c := range b.Categories {
		out = append(out, c.Alias)
	}
	return out
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Yelp Fusion client authenticated with an API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchBusinesses(ctx context.Context, in SearchRequest) (*SearchResponse, error) {
	q := url.Values{}
	if in.Term != "" {
		q.Set("term", in.Term)
	}
	if in.Location != "" {
		q.Set("location", in.Location)
	}
	if in.Categories != "" {
		q.Set("categories", in.Categories)
	}
	limit := in.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if in.Offset > 0 {
		q.Set("offset", strconv.Itoa(in.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/businesses/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "yelp: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "yelp: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "yelp: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewStatusError("yelp", resp.StatusCode, body)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "yelp: unmarshal response")
	}
	return &result, nil
}
