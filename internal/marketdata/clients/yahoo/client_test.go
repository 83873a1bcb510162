package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// memCache is an in-memory Cache for client tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	expired map[string]bool
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}, expired: map[string]bool{}}
}

func (c *memCache) GetIfFresh(source, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := source + "/" + key
	if c.expired[k] {
		return nil, nil
	}
	return c.entries[k], nil
}

func (c *memCache) GetStale(source, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[source+"/"+key]
	return payload, ok
}

func (c *memCache) Store(source, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[source+"/"+key] = payload
	return nil
}

func (c *memCache) expireAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		c.expired[k] = true
	}
}

func chartPayload(timestamps []int64, closes []string) string {
	ts := ""
	for i, t := range timestamps {
		if i > 0 {
			ts += ","
		}
		ts += fmt.Sprintf("%d", t)
	}
	cl := ""
	for i, c := range closes {
		if i > 0 {
			cl += ","
		}
		cl += c
	}
	return fmt.Sprintf(`{
		"chart": {
			"result": [{
				"timestamp": [%s],
				"indicators": {"adjclose": [{"adjclose": [%s]}]}
			}],
			"error": null
		}
	}`, ts, cl)
}

func TestMonthlyCloses_ParsesChartResponse(t *testing.T) {
	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	feb := jan.AddDate(0, 1, 0)
	mar := jan.AddDate(0, 2, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "1mo", r.URL.Query().Get("interval"))
		// The February close is null and must be skipped
		w.Write([]byte(chartPayload(
			[]int64{jan.Unix(), feb.Unix(), mar.Unix()},
			[]string{"4750.5", "null", "5100.0"},
		)))
	}))
	defer server.Close()

	client := NewClient(nil, zerolog.Nop())
	client.baseURL = server.URL

	series, err := client.MonthlyCloses(context.Background(), "^GSPC", jan, mar)
	require.NoError(t, err)

	require.Len(t, series.Values, 2)
	assert.Equal(t, 4750.5, series.Values[0])
	assert.Equal(t, 5100.0, series.Values[1])
	assert.True(t, series.Dates[0].Equal(jan))
	assert.True(t, series.Dates[1].Equal(mar))
}

func TestMonthlyCloses_SecondCallHitsCache(t *testing.T) {
	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(chartPayload([]int64{jan.Unix()}, []string{"100.0"})))
	}))
	defer server.Close()

	client := NewClient(newMemCache(), zerolog.Nop())
	client.baseURL = server.URL

	end := jan.AddDate(0, 1, 0)
	_, err := client.MonthlyCloses(context.Background(), "GLD", jan, end)
	require.NoError(t, err)

	series, err := client.MonthlyCloses(context.Background(), "GLD", jan, end)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	assert.Equal(t, []float64{100.0}, series.Values)
}

func TestMonthlyCloses_StaleCacheFallback(t *testing.T) {
	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := jan.AddDate(0, 1, 0)

	cache := newMemCache()
	payload, err := msgpack.Marshal(cachedSeries{
		Timestamps: []int64{jan.Unix()},
		Values:     []float64{99.5},
	})
	require.NoError(t, err)
	cacheKey := fmt.Sprintf("GC=F:%d", jan.Unix())
	require.NoError(t, cache.Store(cacheSource, cacheKey, payload, time.Hour))
	cache.expireAll()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(cache, zerolog.Nop())
	client.baseURL = server.URL

	series, err := client.MonthlyCloses(context.Background(), "GC=F", jan, end)
	require.NoError(t, err)
	assert.Equal(t, []float64{99.5}, series.Values)
}

func TestMonthlyCloses_StaleFallbackSurvivesMovingEndDate(t *testing.T) {
	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

	var failing bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "upstream down", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chartPayload([]int64{jan.Unix()}, []string{"4750.5"})))
	}))
	defer server.Close()

	cache := newMemCache()
	client := NewClient(cache, zerolog.Nop())
	client.baseURL = server.URL

	_, err := client.MonthlyCloses(context.Background(), "^SP500TR", jan, end)
	require.NoError(t, err)

	// A day later the API is down and the requested window has moved on.
	// The previous day's payload must still be found.
	cache.expireAll()
	failing = true

	series, err := client.MonthlyCloses(context.Background(), "^SP500TR", jan, end.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{4750.5}, series.Values)
}

func TestMonthlyCloses_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"chart": {
				"result": [],
				"error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}
			}
		}`))
	}))
	defer server.Close()

	client := NewClient(nil, zerolog.Nop())
	client.baseURL = server.URL

	_, err := client.MonthlyCloses(context.Background(), "^SP500TR",
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), time.Now())
	assert.ErrorContains(t, err, "delisted")
}

func TestMonthlyCloses_AllNullCloses(t *testing.T) {
	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chartPayload([]int64{jan.Unix()}, []string{"null"})))
	}))
	defer server.Close()

	client := NewClient(nil, zerolog.Nop())
	client.baseURL = server.URL

	_, err := client.MonthlyCloses(context.Background(), "^GSPC", jan, jan.AddDate(0, 1, 0))
	assert.ErrorContains(t, err, "no usable observations")
}
