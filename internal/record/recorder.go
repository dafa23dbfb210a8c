package record

import (
	"context"
	"fmt"
	"sort"
)

// Outcome summarizes one committed Upsert.
type Outcome struct {
	Table    string `json:"table"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	// Collapsed counts in-batch duplicates replaced by a later record with the same key.
	Collapsed int `json:"collapsed"`
}

// Total returns the number of rows written.
func (o Outcome) Total() int { return o.Inserted + o.Updated }

// Recorder persists sanitized records idempotently by natural key. A batch is
// applied atomically or reported as a *PersistenceError.
type Recorder interface {
	Upsert(ctx context.Context, table Table, key NaturalKey, records []Record) (Outcome, error)
	Close() error
}

// Prepare validates a batch and returns it deduplicated by key (last record
// wins) and sorted by key value.
func Prepare(table Table, key NaturalKey, records []Record) ([]Record, int, error) {
	if err := table.Validate(); err != nil {
		return nil, 0, err
	}
	if err := table.ValidateKey(key); err != nil {
		return nil, 0, err
	}
	latest := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.table != table.Name || rec.values == nil {
			return nil, 0, fmt.Errorf("%w: record %d was not sanitized against %s", ErrInvalidTable, i, table.Name)
		}
		latest[rec.KeyValue(key)] = i
	}
	out := make([]Record, 0, len(latest))
	for _, idx := range latest {
		out = append(out, records[idx])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].KeyValue(key) < out[j].KeyValue(key)
	})
	return out, len(records) - len(out), nil
}
