// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CMoncur/proto-scrape/internal/record"
)

// Row is a stored record with its store-managed columns.
type Row struct {
	ID      int64
	Created time.Time
	Values  map[string]any
}

type table struct {
	nextID int64
	byKey  map[string]*Row
}

// Recorder is an in-memory record.Recorder. It enforces natural-key
// uniqueness under a single mutex, so overlapping Upserts serialize.
type Recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	tables map[string]*table
	closed bool
}

// NewRecorder constructs an empty Recorder. now may be nil.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now, tables: make(map[string]*table)}
}

// Upsert applies records atomically: the batch is validated before any row changes.
func (r *Recorder) Upsert(
	_ context.Context,
	tbl record.Table,
	key record.NaturalKey,
	records []record.Record,
) (record.Outcome, error) {
	out := record.Outcome{Table: tbl.Name}
	if len(records) == 0 {
		return out, nil
	}
	batch, collapsed, err := record.Prepare(tbl, key, records)
	if err != nil {
		return out, &record.PersistenceError{Table: tbl.Name, Records: len(records), Err: err}
	}
	out.Collapsed = collapsed

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return out, &record.PersistenceError{Table: tbl.Name, Records: len(records), Err: fmt.Errorf("recorder closed")}
	}
	t, ok := r.tables[tbl.Name]
	if !ok {
		t = &table{byKey: make(map[string]*Row)}
		r.tables[tbl.Name] = t
	}
	now := r.now().UTC()
	for _, rec := range batch {
		k := rec.KeyValue(key)
		if row, exists := t.byKey[k]; exists {
			row.Values = rec.Values()
			out.Updated++
			continue
		}
		t.nextID++
		t.byKey[k] = &Row{ID: t.nextID, Created: now, Values: rec.Values()}
		out.Inserted++
	}
	return out, nil
}

// Rows returns copies of stored rows ordered by id.
func (r *Recorder) Rows(tableName string) []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[tableName]
	if !ok {
		return nil
	}
	rows := make([]Row, 0, len(t.byKey))
	for _, row := range t.byKey {
		values := make(map[string]any, len(row.Values))
		for k, v := range row.Values {
			values[k] = v
		}
		rows = append(rows, Row{ID: row.ID, Created: row.Created, Values: values})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// Close marks the recorder closed; later Upserts fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
