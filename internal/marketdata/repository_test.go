package marketdata

import (
	"database/sql"
	"testing"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSchema(db))
	return NewRepository(db, zerolog.Nop())
}

func sampleDataset(n int) domain.Dataset {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := domain.Dataset{}
	for i := 0; i < n; i++ {
		d.Dates = append(d.Dates, start.AddDate(0, i, 0))
		d.Equity = append(d.Equity, 100+float64(i))
		d.Bond = append(d.Bond, 200+float64(i))
		d.Gold = append(d.Gold, 300+float64(i))
		d.Cash = append(d.Cash, 100+0.1*float64(i))
		d.CashRate = append(d.CashRate, 2.0)
	}
	return d
}

func TestRepository_SaveAndLoadDataset(t *testing.T) {
	repo := setupTestRepo(t)
	want := sampleDataset(12)

	require.NoError(t, repo.SaveDataset(want))

	got, err := repo.LoadDataset()
	require.NoError(t, err)

	require.Equal(t, want.Len(), got.Len())
	assert.Equal(t, want.Equity, got.Equity)
	assert.Equal(t, want.Bond, got.Bond)
	assert.Equal(t, want.Gold, got.Gold)
	assert.Equal(t, want.Cash, got.Cash)
	assert.Equal(t, want.CashRate, got.CashRate)
	for i := range want.Dates {
		assert.True(t, want.Dates[i].Equal(got.Dates[i]))
	}
	require.NoError(t, got.Validate())
}

func TestRepository_SaveReplacesExistingData(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.SaveDataset(sampleDataset(24)))
	require.NoError(t, repo.SaveDataset(sampleDataset(12)))

	got, err := repo.LoadDataset()
	require.NoError(t, err)
	assert.Equal(t, 12, got.Len())
}

func TestRepository_RejectsInvalidDataset(t *testing.T) {
	repo := setupTestRepo(t)

	bad := sampleDataset(6)
	bad.Equity[3] = -1

	assert.Error(t, repo.SaveDataset(bad))

	got, err := repo.LoadDataset()
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestRepository_LoadEmptyDataset(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.LoadDataset()
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestRepository_LastRefresh(t *testing.T) {
	repo := setupTestRepo(t)

	_, ok, err := repo.LastRefresh()
	require.NoError(t, err)
	assert.False(t, ok)

	stamp := time.Date(2024, time.June, 1, 18, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetLastRefresh(stamp))

	got, ok, err := repo.LastRefresh()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stamp.Equal(got))

	// A second write overwrites the first
	later := stamp.Add(24 * time.Hour)
	require.NoError(t, repo.SetLastRefresh(later))

	got, ok, err = repo.LastRefresh()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, later.Equal(got))
}

func TestRepository_PayloadCache(t *testing.T) {
	repo := setupTestRepo(t)

	payload := []byte{0x82, 0xa1, 0x61, 0x01}
	require.NoError(t, repo.Store("yahoo_chart", "^GSPC", payload, time.Hour))

	got, err := repo.GetIfFresh("yahoo_chart", "^GSPC")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Unknown key is a miss, not an error
	got, err = repo.GetIfFresh("yahoo_chart", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_PayloadCacheExpiry(t *testing.T) {
	repo := setupTestRepo(t)

	payload := []byte("stale")
	require.NoError(t, repo.Store("fred_csv", "DGS10", payload, -time.Hour))

	got, err := repo.GetIfFresh("fred_csv", "DGS10")
	require.NoError(t, err)
	assert.Nil(t, got, "expired payload must not be served as fresh")

	stale, ok := repo.GetStale("fred_csv", "DGS10")
	require.True(t, ok)
	assert.Equal(t, payload, stale)
}

func TestRepository_PurgeExpiredCache(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Store("fred_csv", "old", []byte("old"), -48*time.Hour))
	require.NoError(t, repo.Store("fred_csv", "fresh", []byte("fresh"), time.Hour))

	purged, err := repo.PurgeExpiredCache(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, ok := repo.GetStale("fred_csv", "old")
	assert.False(t, ok)
	_, ok = repo.GetStale("fred_csv", "fresh")
	assert.True(t, ok)
}
