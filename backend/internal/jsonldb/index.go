package jsonldb

import (
	"iter"
	"slices"
	"sync"
)

// Index maps a secondary key to the ids of the rows carrying it.
//
// The id list for each key is kept sorted so that iteration order is
// deterministic without sorting on every read. An Index registers itself as
// a [TableObserver] and is never detached from its table.
type Index[K comparable, T Row[T]] struct {
	table *Table[T]
	key   func(T) K

	mu  sync.Mutex
	ids map[K][]string
}

// NewIndex indexes table by key, including the rows already present.
func NewIndex[K comparable, T Row[T]](table *Table[T], key func(T) K) *Index[K, T] {
	idx := &Index[K, T]{table: table, key: key, ids: map[K][]string{}}
	table.AddObserver(idx)
	return idx
}

// Len returns the number of rows with key k.
func (idx *Index[K, T]) Len(k K) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.ids[k])
}

// Iter yields clones of the rows with key k in id order. Rows deleted while
// iterating are skipped.
func (idx *Index[K, T]) Iter(k K) iter.Seq[T] {
	return func(yield func(T) bool) {
		idx.mu.Lock()
		ids := slices.Clone(idx.ids[k])
		idx.mu.Unlock()
		for _, id := range ids {
			if row, ok := idx.table.lookup(id); ok && !yield(row) {
				return
			}
		}
	}
}

func (idx *Index[K, T]) add(k K, id string) {
	ids := idx.ids[k]
	if i, found := slices.BinarySearch(ids, id); !found {
		idx.ids[k] = slices.Insert(ids, i, id)
	}
}

func (idx *Index[K, T]) remove(k K, id string) {
	ids := idx.ids[k]
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return
	}
	if ids = slices.Delete(ids, i, i+1); len(ids) == 0 {
		delete(idx.ids, k)
	} else {
		idx.ids[k] = ids
	}
}

// OnAppend implements [TableObserver].
func (idx *Index[K, T]) OnAppend(row T) {
	idx.mu.Lock()
	idx.add(idx.key(row), row.GetID())
	idx.mu.Unlock()
}

// OnUpdate implements [TableObserver].
func (idx *Index[K, T]) OnUpdate(prev, curr T) {
	before, after := idx.key(prev), idx.key(curr)
	if before == after {
		return
	}
	idx.mu.Lock()
	idx.remove(before, prev.GetID())
	idx.add(after, curr.GetID())
	idx.mu.Unlock()
}

// OnDelete implements [TableObserver].
func (idx *Index[K, T]) OnDelete(row T) {
	idx.mu.Lock()
	idx.remove(idx.key(row), row.GetID())
	idx.mu.Unlock()
}
