// Package source adapts upstream listing APIs to source records.
package source

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-sync/internal/match"
	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/resilience"
)

// Adapter errors. Search and Lookup return (nil, nil) when the source
// legitimately has no data.
var (
	ErrQuotaExceeded = errors.New("source: quota exceeded")
	ErrNotFound      = errors.New("source: not found")
)

// lookupMinSimilarity is the name similarity a lookup hit needs to count as
// the requested provider.
const lookupMinSimilarity = 0.85

// lookupPageSize bounds the candidates fetched for a single-provider lookup.
const lookupPageSize = 5

// Adapter fetches listings from one upstream source.
type Adapter interface {
	Type() model.SourceType
	// Search returns up to limit records for a category near location.
	Search(ctx context.Context, cat model.Category, location string, limit int) ([]model.SourceRecord, error)
	// Lookup returns the record for one named provider, or nil.
	Lookup(ctx context.Context, name string, cat model.Category, location string) (*model.SourceRecord, error)
}

// NewLimiter returns the throttle shared by every adapter: one call per
// delay. A non-positive delay disables throttling.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// classify maps transport failures onto the adapter sentinels.
func classify(service string, err error) error {
	switch {
	case err == nil:
		return nil
	case resilience.IsRateLimited(err):
		return eris.Wrapf(ErrQuotaExceeded, "%s: %v", service, err)
	case resilience.StatusCode(err) == http.StatusNotFound:
		return eris.Wrapf(ErrNotFound, "%s: %v", service, err)
	default:
		return eris.Wrapf(err, "%s: request failed", service)
	}
}

// bestByName picks the record whose name best matches name, or nil when
// none is close enough.
func bestByName(name string, records []model.SourceRecord) *model.SourceRecord {
	var best *model.SourceRecord
	bestScore := 0.0
	for i := range records {
		if score := match.NameSimilarity(name, records[i].Name); score > bestScore {
			best, bestScore = &records[i], score
		}
	}
	if bestScore < lookupMinSimilarity {
		return nil
	}
	return best
}

// keepValid drops records that fail validation, logging each.
func keepValid(service string, records []model.SourceRecord) []model.SourceRecord {
	out := records[:0]
	for _, r := range records {
		if err := r.Validate(); err != nil {
			zap.L().Warn("source: dropping invalid record",
				zap.String("source", service), zap.String("native_id", r.NativeID), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out
}
