// Package jsonldb stores typed rows in memory and mirrors them to JSONL files.
//
// A [Table] holds every row of one document kind. Each mutation is appended to
// the file, except Update and Delete which rewrite it. An empty path keeps the
// table in memory only; the local development backend and most tests run
// that way.
//
// Reads return clones. [Table.Modify] holds the write lock for the whole
// read-modify-write, so it never retries. Operations spanning several tables
// need an outer lock; memstore has one per store.
//
// [Index] keeps secondary lookups in sync through [TableObserver].
//
// The first line of a file is a JSON Schema header generated from the row
// type. Files without a header load fine.
package jsonldb
