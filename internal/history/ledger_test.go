package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/kv"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

type failingStore struct {
	kv.Store
	setErr error
}

func (s *failingStore) Set(ctx context.Context, key string, value interface{}) error {
	return s.setErr
}

func newTestLedger(t *testing.T, store kv.Store, max int) *Ledger {
	t.Helper()
	l := New(context.Background(), store, max, nil)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return l
}

func TestLedger_AppendDefaults(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(), 10)

	first := l.Append(ctx, 55.24, 72.90, time.Time{}, "")
	second := l.Append(ctx, 55.25, 72.91, time.Time{}, "")
	named := l.Append(ctx, 55.26, 72.92, time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC), "Car")

	assert.Equal(t, "Point 1", first.Name)
	assert.Equal(t, "Point 2", second.Name)
	assert.Equal(t, "Car", named.Name)
	assert.False(t, first.Timestamp.IsZero())
	assert.True(t, named.Timestamp.Equal(time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, first.ID, 26)
}

func TestLedger_RecentScenario(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(), DefaultMaxEntries)

	l.Append(ctx, 55.24, 72.90, time.Time{}, "")
	l.Append(ctx, 55.25, 72.91, time.Time{}, "")
	l.Append(ctx, 55.26, 72.92, time.Time{}, "")

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 55.26, recent[0].Latitude)
	assert.Equal(t, 72.92, recent[0].Longitude)
	assert.Equal(t, 55.25, recent[1].Latitude)
	assert.Equal(t, 72.91, recent[1].Longitude)
}

func TestLedger_RecentLimits(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(), 10)
	for i := 0; i < 4; i++ {
		l.Append(ctx, float64(i), float64(i), time.Time{}, "")
	}

	tests := []struct {
		limit int
		want  int
	}{
		{limit: -1, want: 0},
		{limit: 0, want: 0},
		{limit: 3, want: 3},
		{limit: 4, want: 4},
		{limit: 50, want: 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			assert.Len(t, l.Recent(tt.limit), tt.want)
		})
	}

	all := l.Recent(l.Len())
	for i, e := range all {
		assert.Equal(t, float64(3-i), e.Latitude, "entries must be newest first")
	}
}

func TestLedger_RecentReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(), 10)
	l.Append(ctx, 1, 2, time.Time{}, "A")

	got := l.Recent(1)
	got[0].Name = "changed"
	assert.Equal(t, "A", l.Recent(1)[0].Name)
}

func TestLedger_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(), DefaultMaxEntries)

	var first Entry
	for i := 0; i < DefaultMaxEntries; i++ {
		e := l.Append(ctx, float64(i), 0, time.Time{}, "")
		if i == 0 {
			first = e
		}
	}
	require.Equal(t, DefaultMaxEntries, l.Len())

	l.Append(ctx, 999, 0, time.Time{}, "")
	assert.Equal(t, DefaultMaxEntries, l.Len())
	_, ok := l.Get(first.ID)
	assert.False(t, ok, "oldest entry should be evicted")

	all := l.All()
	assert.Equal(t, 999.0, all[0].Latitude)
	assert.Equal(t, 1.0, all[len(all)-1].Latitude)
}

func TestLedger_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(), 10)
	a := l.Append(ctx, 1, 1, time.Time{}, "")
	b := l.Append(ctx, 2, 2, time.Time{}, "")

	assert.True(t, l.Delete(ctx, a.ID))
	assert.False(t, l.Delete(ctx, "unknown"))
	require.Equal(t, 1, l.Len())
	got, ok := l.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, b, got)

	l.Clear(ctx)
	assert.Empty(t, l.Recent(5))
	assert.Equal(t, 0, l.Len())
}

func TestLedger_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	l := newTestLedger(t, store, 10)
	a := l.Append(ctx, 55.24, 72.90, time.Time{}, "A")
	b := l.Append(ctx, 55.25, 72.91, time.Time{}, "B")

	reloaded := New(ctx, store, 10, nil)
	all := reloaded.All()
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)
	assert.Equal(t, a.ID, all[1].ID)
	assert.Equal(t, a.Timestamp.UnixMilli(), all[1].Timestamp.UnixMilli())

	l.Clear(ctx)
	assert.Equal(t, 0, New(ctx, store, 10, nil).Len())
}

func TestLedger_CorruptDataLoadsEmpty(t *testing.T) {
	store := kv.NewMemoryStore()
	store.SetRaw(kv.KeyHistory, []byte(`[{"id":`))

	l := New(context.Background(), store, 10, nil)
	assert.Equal(t, 0, l.Len())

	l.Append(context.Background(), 1, 2, time.Time{}, "")
	assert.Equal(t, 1, l.Len())
}

func TestLedger_StorageFailureKeepsMemoryState(t *testing.T) {
	store := &failingStore{Store: kv.NewMemoryStore(), setErr: errors.New("disk full")}
	l := newTestLedger(t, store, 10)

	e := l.Append(context.Background(), 1, 2, time.Time{}, "")
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, e, l.Recent(1)[0])
	assert.ErrorIs(t, l.LastPersistError(), types.ErrStorageUnavailable)

	store.setErr = nil
	l.Append(context.Background(), 3, 4, time.Time{}, "")
	assert.NoError(t, l.LastPersistError())
}

func TestLedger_NilStore(t *testing.T) {
	l := newTestLedger(t, nil, 0)
	assert.Equal(t, DefaultMaxEntries, l.Capacity())
	l.Append(context.Background(), 1, 2, time.Time{}, "")
	assert.Equal(t, 1, l.Len())
}
