// Package record defines extracted records, the column contract of a
// destination table, and the Recorder that persists sanitized batches.
//
// A RawRecord is whatever an extractor produced. Only Table.Sanitize can turn
// it into a Record, so a Record never carries a missing required value.
package record
