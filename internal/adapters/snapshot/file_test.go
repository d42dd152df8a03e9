package snapshot_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alejandrodnm/gridbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = domain.Pair{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}

func sampleState(realized float64) domain.EngineState {
	return domain.EngineState{
		Pair: btc,
		Ledger: domain.LedgerSnapshot{
			Lots: []domain.Lot{{
				ID: "b1", Price: 100, OriginalQuantity: 1, RemainingQuantity: 0.5,
				OpenedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Source: domain.LotFromFill,
			}},
			RealizedProfitTotal: realized,
			LastProcessedFillID: "s1",
			ProcessedFillIDs:    []string{"b1", "s1"},
		},
		OpenOrders: []domain.OpenOrder{{ID: "o1", Side: domain.SideBuy, Price: 99, Quantity: 0.1, Spacing: 0.01}},
		GridSpec:   domain.GridSpec{Spacing: 0.01, LevelCount: 8, CapitalAllocationFraction: 0.95, SafetyMargin: 0.95},
		Pause:      domain.PauseState{Paused: true, Reason: domain.PauseLedgerDrift},
		SavedAt:    time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir(), 3)
	require.NoError(t, err)

	_, found, err := store.Load(context.Background(), btc)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir(), 3)
	require.NoError(t, err)

	want := sampleState(1.25)
	require.NoError(t, store.Save(context.Background(), want))

	got, found, err := store.Load(context.Background(), btc)
	require.NoError(t, err)
	require.True(t, found)
	want.Version = domain.StateVersion
	assert.Equal(t, want, got)
}

func TestFileStore_BackupsBeforeOverwrite(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState(1)))
	backups, err := store.Backups("BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, backups, "first save has nothing to back up")

	for i := 2; i <= 4; i++ {
		require.NoError(t, store.Save(ctx, sampleState(float64(i))))
	}
	backups, err = store.Backups("BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	got, _, err := store.Load(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Ledger.RealizedProfitTotal)
}

func TestFileStore_CorruptSnapshot(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)

	cases := map[string]string{
		"truncated":     `{"version":1,"pair":{"symbol":"BTCUSDT"`,
		"garbage":       `not json`,
		"trailing":      `{"version":1,"pair":{"symbol":"BTCUSDT"}} {}`,
		"wrong pair":    `{"version":1,"pair":{"symbol":"ETHUSDT"}}`,
		"oversold lot":  `{"version":1,"pair":{"symbol":"BTCUSDT"},"ledger":{"lots":[{"id":"b1","price":1,"originalQuantity":1,"remainingQuantity":2}]}}`,
		"future format": `{"version":99,"pair":{"symbol":"BTCUSDT"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(store.Path("BTCUSDT"), []byte(body), 0o644))
			_, _, err := store.Load(context.Background(), btc)
			require.Error(t, err)
			assert.Equal(t, domain.KindCorrupt, domain.KindOf(err))
		})
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewFileStore(dir, 2)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleState(1)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTCUSDT_state.json", entries[0].Name())
}
