package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	var got sample
	found, err := store.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "k", sample{Name: "a", Value: 1.5}))
	found, err = store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "a", Value: 1.5}, got)

	require.NoError(t, store.Set(ctx, "k", sample{Name: "b", Value: 2}))
	found, err = store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", got.Name)

	require.NoError(t, store.Delete(ctx, "k"))
	found, err = store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_CorruptValue(t *testing.T) {
	store := NewMemoryStore()
	store.SetRaw(KeyHistory, []byte("{not json"))

	var got []sample
	found, err := store.Get(context.Background(), KeyHistory, &got)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	storeContract(t, store)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, KeySettings, map[string]string{"units": "imperial"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	var got map[string]string
	found, err := reopened.Get(ctx, KeySettings, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "imperial", got["units"])
}
