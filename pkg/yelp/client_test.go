package yelp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/resilience"
)

func TestSearchBusinesses_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/businesses/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "Austin, TX", r.URL.Query().Get("location"))
		assert.Equal(t, "djs", r.URL.Query().Get("categories"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total": 51,
			"businesses": [{
				"id": "chris-evans-dj-austin",
				"name": "Chris Evans DJ Services",
				"image_url": "https://s3-media.fl.yelpcdn.com/bphoto/x/o.jpg",
				"is_closed": false,
				"url": "https://www.yelp.com/biz/chris-evans-dj-austin",
				"review_count": 12,
				"rating": 4.6,
				"categories": [{"alias": "djs", "title": "DJs"}, {"alias": "weddingplanning", "title": "Wedding Planning"}],
				"coordinates": {"latitude": 30.2673, "longitude": -97.7430},
				"location": {"address1": "100 Congress Ave", "city": "Austin", "display_address": ["100 Congress Ave", "Austin, TX 78701"]},
				"phone": "+15125550100"
			}]
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchBusinesses(context.Background(), SearchRequest{
		Location: "Austin, TX", Categories: "djs", Limit: 500, Offset: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 51, resp.Total)
	require.Len(t, resp.Businesses, 1)

	b := resp.Businesses[0]
	assert.Equal(t, "chris-evans-dj-austin", b.ID)
	require.NotNil(t, b.Rating)
	assert.InDelta(t, 4.6, *b.Rating, 1e-9)
	assert.Equal(t, "100 Congress Ave, Austin, TX 78701", b.Address())
	assert.Equal(t, []string{"djs", "weddingplanning"}, b.CategoryAliases())
	require.NotNil(t, b.Coordinates)
	require.NotNil(t, b.Coordinates.Latitude)
	assert.InDelta(t, 30.2673, *b.Coordinates.Latitude, 1e-9)
}

func TestSearchBusinesses_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"TOKEN_INVALID"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL))
	_, err := client.SearchBusinesses(context.Background(), SearchRequest{Term: "x", Location: "y"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resilience.StatusCode(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestSearchBusinesses_NullCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total":1,"businesses":[{"id":"a","name":"A","coordinates":{"latitude":null,"longitude":null}}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := client.SearchBusinesses(context.Background(), SearchRequest{Term: "A"})
	require.NoError(t, err)
	require.Len(t, resp.Businesses, 1)
	assert.Nil(t, resp.Businesses[0].Rating)
	assert.Nil(t, resp.Businesses[0].Coordinates.Latitude)
	assert.Empty(t, resp.Businesses[0].Address())
}
