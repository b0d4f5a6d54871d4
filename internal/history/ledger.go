package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/kv"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// DefaultMaxEntries is the ledger capacity
const DefaultMaxEntries = 100

// Ledger is the bounded, persisted, most-recent-first log of beacon positions.
// Every mutation persists the full entry list before returning.
type Ledger struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
	store      kv.Store
	logger     *slog.Logger
	now        func() time.Time
	persistErr error
}

// New creates a ledger backed by store and loads any persisted entries.
// Unreadable or corrupt persisted data yields an empty ledger.
func New(ctx context.Context, store kv.Store, maxEntries int, logger *slog.Logger) *Ledger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		maxEntries: maxEntries,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
	l.entries = l.load(ctx)
	return l
}

func (l *Ledger) load(ctx context.Context) []Entry {
	if l.store == nil {
		return nil
	}
	var entries []Entry
	found, err := l.store.Get(ctx, kv.KeyHistory, &entries)
	if err != nil {
		l.logger.Warn("history could not be loaded, starting empty",
			"error", fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err))
		return nil
	}
	if !found {
		return nil
	}
	if len(entries) > l.maxEntries {
		entries = entries[:l.maxEntries]
	}
	return entries
}

// persist writes the full list; callers hold l.mu
func (l *Ledger) persist(ctx context.Context) {
	if l.store == nil {
		return
	}
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	if err := l.store.Set(ctx, kv.KeyHistory, snapshot); err != nil {
		l.persistErr = fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
		l.logger.Error("failed to persist history", "error", l.persistErr)
		return
	}
	l.persistErr = nil
}

// Append records a position at the head of the ledger. A zero timestamp means
// now; an empty name is replaced by "Point N". The oldest entries beyond
// capacity are evicted in insertion order.
func (l *Ledger) Append(ctx context.Context, latitude, longitude float64, timestamp time.Time, name string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if timestamp.IsZero() {
		timestamp = now
	}
	if name == "" {
		name = fmt.Sprintf("Point %d", len(l.entries)+1)
	}

	entry := Entry{
		ID:        newID(now),
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: timestamp,
		Name:      name,
	}

	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[:l.maxEntries]
	}

	l.persist(ctx)
	return entry
}

// Delete removes the entry with the given id. Unknown ids are a no-op but the
// list is still persisted.
func (l *Ledger) Delete(ctx context.Context, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := false
	kept := l.entries[:0:0]
	for _, e := range l.entries {
		if e.ID == id {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	l.persist(ctx)
	return removed
}

// Clear removes every entry
func (l *Ledger) Clear(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.persist(ctx)
}

// Recent returns up to limit entries, most recent first
func (l *Ledger) Recent(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	if limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, limit)
	copy(out, l.entries[:limit])
	return out
}

// All returns every entry, most recent first
func (l *Ledger) All() []Entry {
	return l.Recent(l.Len())
}

// Get looks up a single entry
func (l *Ledger) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the maximum number of entries retained
func (l *Ledger) Capacity() int {
	return l.maxEntries
}

// LastPersistError returns the error from the most recent persistence attempt,
// or nil when the ledger is in sync with its store.
func (l *Ledger) LastPersistError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.persistErr
}

// Export writes the full ledger in the requested format
func (l *Ledger) Export(w io.Writer, format Format, opts ExportOptions) error {
	return Export(w, format, l.All(), opts)
}
