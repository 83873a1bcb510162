// Package fred fetches economic series from the FRED fredgraph CSV endpoint.
package fred

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const cacheSource = "fred_csv"

// Well-known series identifiers used by the strategy.
const (
	SeriesTreasury10Y = "DGS10" // 10-year Treasury constant maturity yield
	SeriesTBill3M     = "DTB3"  // 3-month Treasury bill secondary market rate
)

// Cache is the persistent payload cache the client writes fetched series to.
// Optional - a nil Cache disables caching.
type Cache interface {
	GetIfFresh(source, key string) ([]byte, error)
	GetStale(source, key string) ([]byte, bool)
	Store(source, key string, payload []byte, ttl time.Duration) error
}

// Series is an ordered sequence of daily observations. Values keep FRED's
// units, annualized percent for the yield and rate series.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// Client for the FRED graph CSV download endpoint. It needs no API key.
type Client struct {
	baseURL  string
	client   *http.Client
	log      zerolog.Logger
	cache    Cache
	cacheTTL time.Duration
}

// NewClient creates a new FRED client.
// cache is optional - if nil, caching is disabled.
func NewClient(cache Cache, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  "https://fred.stlouisfed.org/graph/fredgraph.csv",
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("client", "fred").Logger(),
		cache:    cache,
		cacheTTL: 24 * time.Hour,
	}
}

type cachedSeries struct {
	Timestamps []int64   `msgpack:"timestamps"`
	Values     []float64 `msgpack:"values"`
}

// Fetch downloads one series between start and end. Missing observations
// (published as ".") are skipped. If the API fails, returns stale cached
// data if available.
func (c *Client) Fetch(ctx context.Context, seriesID string, start, end time.Time) (Series, error) {
	// The key excludes end: callers pass a moving "now", and a key that
	// changed every call could never be found again for the stale fallback.
	cacheKey := fmt.Sprintf("%s:%s", seriesID, start.Format("2006-01-02"))

	if c.cache != nil {
		if payload, err := c.cache.GetIfFresh(cacheSource, cacheKey); err == nil && payload != nil {
			var cached cachedSeries
			if err := msgpack.Unmarshal(payload, &cached); err == nil {
				c.log.Debug().Str("series", seriesID).Msg("Cache hit")
				return seriesFromCached(cached), nil
			}
		}
	}

	series, err := c.fetch(ctx, seriesID, start, end)
	if err != nil {
		if stale, ok := c.getStaleFromCache(cacheKey); ok {
			c.log.Warn().
				Err(err).
				Str("series", seriesID).
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
		if payload, err := msgpack.Marshal(cached); err == nil {
			if err := c.cache.Store(cacheSource, cacheKey, payload, c.cacheTTL); err != nil {
				c.log.Warn().Err(err).Str("series", seriesID).Msg("Failed to cache series")
			}
		}
	}

	c.log.Info().
		Str("series", seriesID).
		Int("observations", len(series.Values)).
		Msg("Fetched series")

	return series, nil
}

func (c *Client) fetch(ctx context.Context, seriesID string, start, end time.Time) (Series, error) {
	url := fmt.Sprintf("%s?id=%s&cosd=%s&coed=%s",
		c.baseURL, seriesID, start.Format("2006-01-02"), end.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Series{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Series{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Series{}, fmt.Errorf("API returned status %d for %s", resp.StatusCode, seriesID)
	}

	return parseCSV(resp.Body, seriesID)
}

// parseCSV reads the two-column fredgraph CSV: a date column followed by the
// series column. Rows whose value is "." carry no observation.
func parseCSV(r io.Reader, seriesID string) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	header, err := reader.Read()
	if err != nil {
		return Series{}, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) != 2 {
		return Series{}, fmt.Errorf("unexpected CSV header for %s: %v", seriesID, header)
	}

	var series Series
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if row[1] == "." {
			continue
		}

		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return Series{}, fmt.Errorf("bad date %q in %s: %w", row[0], seriesID, err)
		}
		value, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return Series{}, fmt.Errorf("bad value %q in %s: %w", row[1], seriesID, err)
		}

		series.Dates = append(series.Dates, date)
		series.Values = append(series.Values, value)
	}

	if len(series.Values) == 0 {
		return Series{}, fmt.Errorf("no usable observations for %s", seriesID)
	}

	return series, nil
}

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
