package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/WAE505/Momentum/internal/modules/allocation"
	"github.com/WAE505/Momentum/internal/modules/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockService returns canned responses for each operation.
type mockService struct {
	snapshot   strategy.SignalSnapshot
	history    []strategy.HistoryPoint
	alloc      strategy.AllocationSnapshot
	run        *strategy.RunResult
	lastParams strategy.BacktestParams
	err        error
}

func (m *mockService) CurrentSignals(ctx context.Context) (strategy.SignalSnapshot, error) {
	return m.snapshot, m.err
}

func (m *mockService) SignalHistory(ctx context.Context) ([]strategy.HistoryPoint, error) {
	return m.history, m.err
}

func (m *mockService) CurrentAllocation(ctx context.Context) (strategy.AllocationSnapshot, error) {
	return m.alloc, m.err
}

func (m *mockService) RunBacktest(ctx context.Context, params strategy.BacktestParams) (*strategy.RunResult, error) {
	m.lastParams = params
	return m.run, m.err
}

func setupRouter(svc StrategyService) *chi.Mux {
	handler := NewHandler(svc, zerolog.Nop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func TestHandleCurrentSignals(t *testing.T) {
	date := time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	svc := &mockService{
		snapshot: strategy.SignalSnapshot{
			Date: date,
			Assets: map[domain.Asset]strategy.AssetSignals{
				domain.AssetEquity: {
					Asset:      domain.AssetEquity,
					Date:       date,
					Indicators: map[string]int{"sma_cross_10": 1},
					Combined:   1.0,
				},
			},
		},
	}

	rec := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals/current", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Assets map[string]struct {
				Combined float64 `json:"combined"`
			} `json:"assets"`
		} `json:"data"`
		Metadata map[string]string `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body.Data.Assets["equity"].Combined)
	assert.NotEmpty(t, body.Metadata["timestamp"])
}

func TestHandleCurrentSignals_ServiceError(t *testing.T) {
	svc := &mockService{err: errors.New("boom")}

	rec := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals/current", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleSignalHistory(t *testing.T) {
	svc := &mockService{
		history: []strategy.HistoryPoint{
			{Date: time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC), Equity: 1, Bond: 0.5, Gold: 0},
			{Date: time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC), Equity: 1, Bond: 1, Gold: 0},
		},
	}

	rec := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.Count)
}

func TestHandleCurrentAllocation(t *testing.T) {
	svc := &mockService{
		alloc: strategy.AllocationSnapshot{
			Date:    time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
			Weights: allocation.Weights{Equity: 0.7, Bond: 0.2, Gold: 0.1},
			Signals: map[domain.Asset]float64{
				domain.AssetEquity: 1, domain.AssetBond: 1, domain.AssetGold: 1,
			},
		},
	}

	rec := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/allocation/current", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Weights allocation.Weights `json:"weights"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 0.7, body.Data.Weights.Equity, 1e-9)
}

func TestHandleBacktest(t *testing.T) {
	svc := &mockService{
		run: &strategy.RunResult{ID: uuid.New(), Months: 48},
	}

	req := httptest.NewRequest(http.MethodPost, "/backtest",
		strings.NewReader(`{"initial_value": 1000, "lookbacks": [6, 9, 12]}`))
	rec := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastParams.InitialValue)
	assert.Equal(t, 1000.0, *svc.lastParams.InitialValue)
	assert.Equal(t, []int{6, 9, 12}, svc.lastParams.Lookbacks)
}

func TestHandleBacktest_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &mockService{run: &strategy.RunResult{ID: uuid.New()}}

	req := httptest.NewRequest(http.MethodPost, "/backtest", nil)
	rec := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.lastParams.InitialValue)
}

func TestHandleBacktest_RejectsBadInput(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		svc := &mockService{run: &strategy.RunResult{}}
		req := httptest.NewRequest(http.MethodPost, "/backtest", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		setupRouter(svc).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-positive initial value", func(t *testing.T) {
		svc := &mockService{run: &strategy.RunResult{}}
		req := httptest.NewRequest(http.MethodPost, "/backtest", strings.NewReader(`{"initial_value": 0}`))
		rec := httptest.NewRecorder()
		setupRouter(svc).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service rejects params", func(t *testing.T) {
		svc := &mockService{err: errors.New("bad lookbacks")}
		req := httptest.NewRequest(http.MethodPost, "/backtest", strings.NewReader(`{"lookbacks": [1]}`))
		rec := httptest.NewRecorder()
		setupRouter(svc).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
