// Package yahoo fetches monthly adjusted closes from the Yahoo Finance v8
// chart endpoint.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const cacheSource = "yahoo_chart"

// Cache is the persistent payload cache the client writes fetched series to.
// Optional - a nil Cache disables caching.
type Cache interface {
	GetIfFresh(source, key string) ([]byte, error)
	GetStale(source, key string) ([]byte, bool)
	Store(source, key string, payload []byte, ttl time.Duration) error
}

// Series is an ordered sequence of monthly closes.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// Client for the Yahoo Finance chart API.
type Client struct {
	baseURL  string
	client   *http.Client
	log      zerolog.Logger
	cache    Cache
	cacheTTL time.Duration
}

// NewClient creates a new Yahoo Finance client.
// cache is optional - if nil, caching is disabled.
func NewClient(cache Cache, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  "https://query1.finance.yahoo.com/v8/finance/chart",
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("client", "yahoo").Logger(),
		cache:    cache,
		cacheTTL: 24 * time.Hour,
	}
}

// cachedSeries is the structure stored in the payload cache.
type cachedSeries struct {
	Timestamps []int64   `msgpack:"timestamps"`
	Values     []float64 `msgpack:"values"`
}

// chartResponse mirrors the relevant part of the v8 chart payload. Adjusted
// closes can contain nulls for months Yahoo has no data for.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Adjclose []struct {
					Adjclose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// MonthlyCloses fetches monthly adjusted closes for symbol between start and
// end. If the API fails, returns stale cached data if available.
func (c *Client) MonthlyCloses(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	// The key excludes end: callers pass a moving "now", and a key that
	// changed every call could never be found again for the stale fallback.
	cacheKey := fmt.Sprintf("%s:%d", symbol, start.Unix())

	if c.cache != nil {
		if payload, err := c.cache.GetIfFresh(cacheSource, cacheKey); err == nil && payload != nil {
			var cached cachedSeries
			if err := msgpack.Unmarshal(payload, &cached); err == nil {
				c.log.Debug().Str("symbol", symbol).Msg("Cache hit")
				return seriesFromCached(cached), nil
			}
		}
	}

	series, err := c.fetch(ctx, symbol, start, end)
	if err != nil {
		if stale, ok := c.getStaleFromCache(cacheKey); ok {
			c.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Int("observations", len(stale.Timestamps)).
				Msg("API failed, using stale cached series")
			return seriesFromCached(stale), nil
		}
		return Series{}, err
	}

	if c.cache != nil {
		cached := cachedSeries{Values: series.Values}
		for _, d := range series.Dates {
			cached.Timestamps = append(cached.Timestamps, d.Unix())
		}
		payload, err := msgpack.Marshal(cached)
		if err == nil {
			if err := c.cache.Store(cacheSource, cacheKey, payload, c.cacheTTL); err != nil {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache series")
			}
		}
	}

	c.log.Info().
		Str("symbol", symbol).
		Int("observations", len(series.Values)).
		Msg("Fetched monthly closes")

	return series, nil
}

func (c *Client) fetch(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	url := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1mo&events=div%%7Csplit",
		c.baseURL, symbol, start.Unix(), end.Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Series{}, fmt.Errorf("failed to build request: %w", err)
	}
	// Yahoo rejects requests without a browser user agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := c.client.Do(req)
	if err != nil {
		return Series{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Series{}, fmt.Errorf("API returned status %d for %s", resp.StatusCode, symbol)
	}

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Series{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Chart.Error != nil {
		return Series{}, fmt.Errorf("API error for %s: %s", symbol, result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Adjclose) == 0 {
		return Series{}, fmt.Errorf("no data for %s", symbol)
	}

	data := result.Chart.Result[0]
	closes := data.Indicators.Adjclose[0].Adjclose
	if len(closes) != len(data.Timestamp) {
		return Series{}, fmt.Errorf("malformed response for %s: %d timestamps vs %d closes",
			symbol, len(data.Timestamp), len(closes))
	}

	var series Series
	for i, ts := range data.Timestamp {
		if closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		series.Dates = append(series.Dates, time.Unix(ts, 0).UTC())
		series.Values = append(series.Values, *closes[i])
	}
	if len(series.Values) == 0 {
		return Series{}, fmt.Errorf("no usable observations for %s", symbol)
	}

	return series, nil
}

// getStaleFromCache retrieves a cached series even if expired.
// Stale data is better than no data when the API is down.
func (c *Client) getStaleFromCache(cacheKey string) (cachedSeries, bool) {
	if c.cache == nil {
		return cachedSeries{}, false
	}
	payload, ok := c.cache.GetStale(cacheSource, cacheKey)
	if !ok {
		return cachedSeries{}, false
	}
	var cached cachedSeries
	if err := msgpack.Unmarshal(payload, &cached); err != nil {
		return cachedSeries{}, false
	}
	return cached, true
}

func seriesFromCached(cached cachedSeries) Series {
	series := Series{Values: cached.Values}
	for _, ts := range cached.Timestamps {
		series.Dates = append(series.Dates, time.Unix(ts, 0).UTC())
	}
	return series
}
