package record

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RawRecord maps field names to extracted values. Absent and nil are equivalent.
type RawRecord map[string]any

// Set stores value under name only when ok is true.
func (r RawRecord) Set(name string, value any, ok bool) {
	if ok {
		r[name] = value
	}
}

// Record is a RawRecord that passed Table.Sanitize. Values are normalized:
// strings, int64, float64, time.Time in UTC, or nil for absent optional columns.
type Record struct {
	table  string
	values map[string]any
}

// Table returns the table the record was sanitized against.
func (r Record) Table() string { return r.table }

// Get returns the normalized value for name.
func (r Record) Get(name string) any { return r.values[name] }

// Values returns a copy of all values.
func (r Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// KeyValue renders the natural key as a comparable string.
func (r Record) KeyValue(key NaturalKey) string {
	parts := make([]string, len(key))
	for i, name := range key {
		parts[i] = formatKeyPart(r.values[name])
	}
	return strings.Join(parts, "\x1f")
}

func formatKeyPart(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// IsComplete reports whether raw satisfies every requirement of t.
func (t Table) IsComplete(raw RawRecord) bool {
	_, err := t.Sanitize(raw)
	return err == nil
}

// Sanitize validates raw against t. Fields not declared by t are ignored.
func (t Table) Sanitize(raw RawRecord) (Record, error) {
	var missing, mistyped []string
	values := make(map[string]any, len(t.Columns))
	for _, col := range t.Columns {
		v, present := raw[col.Name]
		if present && v == nil {
			present = false
		}
		if !present {
			if col.Required {
				missing = append(missing, col.Name)
			}
			values[col.Name] = nil
			continue
		}
		normalized, ok := coerce(col.Kind, v)
		if !ok {
			mistyped = append(mistyped, col.Name)
			continue
		}
		if isBlank(normalized) {
			if col.Required {
				missing = append(missing, col.Name)
				continue
			}
			normalized = nil
		}
		values[col.Name] = normalized
	}
	if len(missing) > 0 || len(mistyped) > 0 {
		return Record{}, &IncompleteError{Table: t.Name, Missing: missing, Mistyped: mistyped}
	}
	return Record{table: t.Name, values: values}, nil
}

// MustSanitize is Sanitize for fixtures; it panics on incomplete input.
func (t Table) MustSanitize(raw RawRecord) Record {
	rec, err := t.Sanitize(raw)
	if err != nil {
		panic(err)
	}
	return rec
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case time.Time:
		return val.IsZero()
	default:
		return false
	}
}

func coerce(kind Kind, v any) (any, bool) {
	switch kind {
	case String, Text:
		s, ok := v.(string)
		return s, ok
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return int64(n), true
			}
		}
		return nil, false
	case Float:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, false
			}
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
		return nil, false
	case Time:
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC(), true
		case *time.Time:
			if ts == nil {
				return nil, false
			}
			return ts.UTC(), true
		}
		return nil, false
	}
	return nil, false
}
