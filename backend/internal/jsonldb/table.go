package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
)

// Row is implemented by every type stored in a [Table].
type Row[T any] interface {
	// Clone returns a deep copy so callers never alias table memory.
	Clone() T
	// GetID returns the primary key.
	GetID() string
	// Validate is called before every write.
	Validate() error
}

// TableObserver is notified of every successful mutation, while the table
// write lock is held.
type TableObserver[T any] interface {
	OnAppend(row T)
	OnUpdate(prev, curr T)
	OnDelete(row T)
}

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T Row[T]] struct {
	path string
	mu   sync.RWMutex

	rows      []T
	byID      map[string]int
	observers []TableObserver[T]
}

// NewTable creates a new Table and loads all data from the file.
//
// An empty path creates a memory-only table.
func NewTable[T Row[T]](path string) (*Table[T], error) {
	table := &Table[T]{
		path: path,
		byID: map[string]int{},
	}
	if path == "" {
		return table, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := table.load(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *Table[T]) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if isSchemaHeader(line) {
				continue
			}
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		id := row.GetID()
		if i, ok := t.byID[id]; ok {
			// Later lines win; this only happens after a manual edit.
			t.rows[i] = row
			continue
		}
		t.byID[id] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}
	return nil
}

// AddObserver registers an observer and replays every existing row to it as
// an append.
func (t *Table[T]) AddObserver(o TableObserver[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
	for _, row := range t.rows {
		o.OnAppend(row)
	}
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns a clone of the row with the given id, or the zero value.
func (t *Table[T]) Get(id string) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		var zero T
		return zero
	}
	return t.rows[i].Clone()
}

// All returns an iterator over clones of all rows, in insertion order.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		rows := make([]T, len(t.rows))
		for i, row := range t.rows {
			rows[i] = row.Clone()
		}
		t.mu.RUnlock()
		for _, row := range rows {
			if !yield(row) {
				return
			}
		}
	}
}

// Append adds a new row to the table and persists it.
func (t *Table[T]) Append(row T) error {
	if err := row.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRow, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := row.GetID()
	if id == "" {
		return ErrMissingID
	}
	if _, ok := t.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	row = row.Clone()
	if t.path != "" {
		if err := t.appendLine(row); err != nil {
			return err
		}
	}
	t.byID[id] = len(t.rows)
	t.rows = append(t.rows, row)
	for _, o := range t.observers {
		o.OnAppend(row)
	}
	return nil
}

// Update replaces an existing row and returns the previous version.
func (t *Table[T]) Update(row T) (T, error) {
	var zero T
	if err := row.Validate(); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidRow, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked(row.Clone())
}

// Modify atomically applies fn to a clone of the row with the given id and
// stores the result. The write lock is held for the whole operation. If fn
// returns an error nothing is written.
func (t *Table[T]) Modify(id string, fn func(row T) error) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	row := t.rows[i].Clone()
	if err := fn(row); err != nil {
		return zero, err
	}
	if row.GetID() != id {
		return zero, errIDChanged
	}
	if err := row.Validate(); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidRow, err)
	}
	if _, err := t.updateLocked(row); err != nil {
		return zero, err
	}
	return row.Clone(), nil
}

// Delete removes the row with the given id and returns it.
func (t *Table[T]) Delete(id string) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := t.rows[i]
	rows := make([]T, 0, len(t.rows)-1)
	rows = append(rows, t.rows[:i]...)
	rows = append(rows, t.rows[i+1:]...)
	if t.path != "" {
		if err := t.rewrite(rows); err != nil {
			return zero, err
		}
	}
	t.rows = rows
	t.byID = make(map[string]int, len(rows))
	for j, r := range rows {
		t.byID[r.GetID()] = j
	}
	for _, o := range t.observers {
		o.OnDelete(prev)
	}
	return prev.Clone(), nil
}

func (t *Table[T]) updateLocked(row T) (T, error) {
	var zero T
	id := row.GetID()
	i, ok := t.byID[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := t.rows[i]
	if t.path != "" {
		rows := make([]T, len(t.rows))
		copy(rows, t.rows)
		rows[i] = row
		if err := t.rewrite(rows); err != nil {
			return zero, err
		}
	}
	t.rows[i] = row
	for _, o := range t.observers {
		o.OnUpdate(prev, row)
	}
	return prev.Clone(), nil
}

func (t *Table[T]) appendLine(row T) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	st, err := os.Stat(t.path)
	needHeader := err != nil || st.Size() == 0
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if needHeader {
		h, err := schemaHeader[T]()
		if err != nil {
			return err
		}
		if _, err := f.Write(append(h, '\n')); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

// rewrite atomically replaces the file content with rows.
func (t *Table[T]) rewrite(rows []T) error {
	tmp := t.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	writer := bufio.NewWriter(f)
	err = func() error {
		h, err := schemaHeader[T]()
		if err != nil {
			return err
		}
		if _, err := writer.Write(append(h, '\n')); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		for _, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("failed to marshal row: %w", err)
			}
			if _, err := writer.Write(data); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
			if err := writer.WriteByte('\n'); err != nil {
				return fmt.Errorf("failed to write newline: %w", err)
			}
		}
		return writer.Flush()
	}()
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace table file: %w", err)
	}
	return nil
}

var (
	// ErrNotFound is returned when a row id is not in the table.
	ErrNotFound = errors.New("row not found")
	// ErrDuplicateID is returned by Append when the id already exists.
	ErrDuplicateID = errors.New("duplicate row id")
	// ErrInvalidRow wraps Validate failures.
	ErrInvalidRow = errors.New("invalid row")
	// ErrMissingID is returned when a row has an empty id.
	ErrMissingID = errors.New("row has no id")

	errIDChanged = errors.New("modify must not change the row id")
)

func (t *Table[T]) lookup(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return t.rows[i].Clone(), true
}
