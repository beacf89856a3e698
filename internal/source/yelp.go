package source

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/resilience"
	"github.com/sells-group/provider-sync/pkg/yelp"
)

// maxYelpResults is the deepest offset+limit Yelp search serves.
const maxYelpResults = 240

// YelpAdapter reads Yelp Fusion business search.
type YelpAdapter struct {
	client  yelp.Client
	policy  *resilience.Policy
	limiter *rate.Limiter
}

// NewYelp creates a Yelp adapter.
func NewYelp(client yelp.Client, policy *resilience.Policy, limiter *rate.Limiter) *YelpAdapter {
	return &YelpAdapter{client: client, policy: policy, limiter: limiter}
}

func (a *YelpAdapter) Type() model.SourceType { return model.SourceYelp }

func (a *YelpAdapter) Search(ctx context.Context, cat model.Category, location string, limit int) ([]model.SourceRecord, error) {
	if cat.YelpAlias == "" {
		return nil, nil
	}
	if limit <= 0 || limit > maxYelpResults {
		limit = maxYelpResults
	}

	var out []model.SourceRecord
	for offset := 0; offset < limit; {
		pageSize := min(yelp.MaxLimit, limit-offset)
		resp, err := a.search(ctx, yelp.SearchRequest{
			Location:   location,
			Categories: cat.YelpAlias,
			Limit:      pageSize,
			Offset:     offset,
		})
		if err != nil {
			return nil, err
		}
		for i := range resp.Businesses {
			out = append(out, businessRecord(&resp.Businesses[i], cat.Slug))
		}
		offset += len(resp.Businesses)
		if len(resp.Businesses) < pageSize || offset >= resp.Total {
			break
		}
	}
	return keepValid("yelp", out), nil
}

func (a *YelpAdapter) Lookup(ctx context.Context, name string, cat model.Category, location string) (*model.SourceRecord, error) {
	resp, err := a.search(ctx, yelp.SearchRequest{
		Term:       name,
		Location:   location,
		Categories: cat.YelpAlias,
		Limit:      lookupPageSize,
	})
	if err != nil {
		return nil, err
	}
	records := make([]model.SourceRecord, 0, len(resp.Businesses))
	for i := range resp.Businesses {
		records = append(records, businessRecord(&resp.Businesses[i], cat.Slug))
	}
	return bestByName(name, keepValid("yelp", records)), nil
}

func (a *YelpAdapter) search(ctx context.Context, req yelp.SearchRequest) (*yelp.SearchResponse, error) {
	resp, err := resilience.Call(ctx, a.policy, func(ctx context.Context) (*yelp.SearchResponse, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return a.client.SearchBusinesses(ctx, req)
	})
	if err != nil {
		return nil, classify("yelp", err)
	}
	return resp, nil
}

// businessRecord maps a Business onto a source record.
func businessRecord(b *yelp.Business, category string) model.SourceRecord {
	r := model.SourceRecord{
		Source:      model.SourceYelp,
		NativeID:    b.ID,
		Category:    category,
		Name:        strings.TrimSpace(b.Name),
		Rating:      b.Rating,
		ReviewCount: b.ReviewCount,
		PhotoRef:    b.ImageURL,
		Address:     b.Address(),
		Phone:       b.Phone,
		Tags:        b.CategoryAliases(),
		Closed:      b.IsClosed,
	}
	if c := b.Coordinates; c != nil && c.Latitude != nil && c.Longitude != nil {
		r.Latitude = model.Float(*c.Latitude)
		r.Longitude = model.Float(*c.Longitude)
	}
	return r
}
