package source

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/resilience"
	"github.com/sells-group/provider-sync/pkg/google"
)

// maxGooglePages caps Text Search pagination (the API serves at most 60 results).
const maxGooglePages = 3

// GoogleAdapter reads Google Places Text Search.
type GoogleAdapter struct {
	client  google.Client
	policy  *resilience.Policy
	limiter *rate.Limiter
}

// NewGoogle creates a Google adapter.
func NewGoogle(client google.Client, policy *resilience.Policy, limiter *rate.Limiter) *GoogleAdapter {
	return &GoogleAdapter{client: client, policy: policy, limiter: limiter}
}

func (a *GoogleAdapter) Type() model.SourceType { return model.SourceGoogle }

func (a *GoogleAdapter) Search(ctx context.Context, cat model.Category, location string, limit int) ([]model.SourceRecord, error) {
	if cat.GoogleQuery == "" {
		return nil, nil
	}
	query := textQuery(cat.GoogleQuery, location)

	var out []model.SourceRecord
	token := ""
	for page := 0; page < maxGooglePages; page++ {
		resp, err := a.textSearch(ctx, google.TextSearchRequest{
			TextQuery: query,
			PageSize:  google.MaxPageSize,
			PageToken: token,
		})
		if err != nil {
			return nil, err
		}
		for i := range resp.Places {
			out = append(out, placeRecord(&resp.Places[i], cat.Slug))
		}
		token = resp.NextPageToken
		if token == "" || (limit > 0 && len(out) >= limit) {
			break
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return keepValid("google", out), nil
}

func (a *GoogleAdapter) Lookup(ctx context.Context, name string, cat model.Category, location string) (*model.SourceRecord, error) {
	query := name
	if cat.GoogleQuery != "" {
		query += " " + cat.GoogleQuery
	}
	resp, err := a.textSearch(ctx, google.TextSearchRequest{
		TextQuery: textQuery(query, location),
		PageSize:  lookupPageSize,
	})
	if err != nil {
		return nil, err
	}
	records := make([]model.SourceRecord, 0, len(resp.Places))
	for i := range resp.Places {
		records = append(records, placeRecord(&resp.Places[i], cat.Slug))
	}
	return bestByName(name, keepValid("google", records)), nil
}

func (a *GoogleAdapter) textSearch(ctx context.Context, req google.TextSearchRequest) (*google.TextSearchResponse, error) {
	resp, err := resilience.Call(ctx, a.policy, func(ctx context.Context) (*google.TextSearchResponse, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return a.client.TextSearch(ctx, req)
	})
	if err != nil {
		return nil, classify("google", err)
	}
	return resp, nil
}

// placeRecord maps a Place onto a source record.
func placeRecord(p *google.Place, category string) model.SourceRecord {
	r := model.SourceRecord{
		Source:      model.SourceGoogle,
		NativeID:    p.ID,
		Category:    category,
		Name:        strings.TrimSpace(p.DisplayName.Text),
		Rating:      p.Rating,
		ReviewCount: p.UserRatingCount,
		PhotoRef:    p.PhotoRef(),
		Address:     p.FormattedAddress,
		Phone:       p.Phone(),
		Website:     p.WebsiteURI,
		Tags:        p.Types,
		Closed:      p.Closed(),
	}
	if p.Location != nil {
		r.Latitude = model.Float(p.Location.Latitude)
		r.Longitude = model.Float(p.Location.Longitude)
	}
	return r
}

func textQuery(q, location string) string {
	if location == "" {
		return q
	}
	return q + " in " + location
}
