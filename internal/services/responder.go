package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/cache"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// ResponderLookup finds the nearest emergency responder to a point. A nil
// responder with a nil error means none is known.
type ResponderLookup interface {
	Nearest(ctx context.Context, p models.GeoPoint) (*models.Responder, error)
}

// ResponderService queries the nearest-responder HTTP API and caches the
// answer per ~100 m grid cell.
//
// The API is called as GET {url}?lat=..&lon=.. and answers with
//
//	{"name": "...", "address": "...", "phone": "...", "distance_m": 420}
//
// or 404 when nothing is in range.
type ResponderService struct {
	cache  *cache.Cache
	client *http.Client
	url    string
	ttl    time.Duration
	retry  utils.RetryConfig
}

// NewResponderService creates a lookup client. c may be nil to disable caching.
// An empty LookupURL disables the lookup entirely.
func NewResponderService(cfg *config.ResponderConfig, c *cache.Cache, ttl time.Duration) *ResponderService {
	return &ResponderService{
		cache:  c,
		client: &http.Client{Timeout: cfg.Timeout},
		url:    cfg.LookupURL,
		ttl:    ttl,
		retry:  utils.ExternalAPIRetryConfig(),
	}
}

// cachedResponder wraps the lookup result so "nobody in range" can be cached too.
type cachedResponder struct {
	Found     bool             `json:"found"`
	Responder models.Responder `json:"responder"`
}

// Nearest returns the closest responder to p. Failures are returned as
// DependencyFailure and are never cached.
func (s *ResponderService) Nearest(ctx context.Context, p models.GeoPoint) (*models.Responder, error) {
	if s.url == "" {
		return nil, nil
	}

	result, err := cache.GetOrLoad(ctx, s.cache, cache.ResponderKey(p.Latitude, p.Longitude), s.ttl,
		func() (cachedResponder, error) {
			return utils.RetryWithResult(ctx, s.retry, func() (cachedResponder, error) {
				return s.fetch(ctx, p)
			})
		})
	if err != nil {
		return nil, &DependencyFailure{Dependency: "responder_lookup", Err: err}
	}
	if !result.Found {
		return nil, nil
	}

	log.Debug().
		Str("responder", result.Responder.Name).
		Float64("distance_m", result.Responder.DistanceM).
		Msg("Nearest responder resolved")

	r := result.Responder
	return &r, nil
}

func (s *ResponderService) fetch(ctx context.Context, p models.GeoPoint) (cachedResponder, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return cachedResponder{}, utils.Permanent(fmt.Errorf("invalid lookup url: %w", err))
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(p.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Longitude, 'f', 6, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return cachedResponder{}, utils.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return cachedResponder{}, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return cachedResponder{Found: false}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return cachedResponder{}, fmt.Errorf("lookup failed with status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return cachedResponder{}, utils.Permanent(fmt.Errorf("lookup rejected with status %d", resp.StatusCode))
	}

	var r models.Responder
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return cachedResponder{}, utils.Permanent(fmt.Errorf("failed to decode lookup response: %w", err))
	}
	if r.Name == "" {
		return cachedResponder{Found: false}, nil
	}

	return cachedResponder{Found: true, Responder: r}, nil
}
