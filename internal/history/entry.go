package history

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry is one recorded beacon position. Entries are never mutated after
// creation; they are only removed individually, by eviction or by Clear.
type Entry struct {
	ID        string
	Latitude  float64
	Longitude float64
	Timestamp time.Time
	Name      string
}

// entryJSON is the persisted layout; timestamps are Unix milliseconds
type entryJSON struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
	Name      string  `json:"name"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		ID:        e.ID,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Timestamp: e.Timestamp.UnixMilli(),
		Name:      e.Name,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Entry{
		ID:        raw.ID,
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,
		Timestamp: time.UnixMilli(raw.Timestamp),
		Name:      raw.Name,
	}
	return nil
}

// newID returns a lexically sortable identifier made of a millisecond
// timestamp and 80 random bits.
func newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
