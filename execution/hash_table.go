package execution

import (
	"sync/atomic"

	"github.com/neko940709/mapd-core-stream/common"
)

type HashType int8

const (
	OneToOne HashType = iota
	OneToMany
)

func (h HashType) String() string {
	switch h {
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	}
	return "unknown"
}

// HashTable is a built perfect hash table resident in host memory. It is
// immutable once built and shared by reference count between the cache and
// every join using it.
//
// A OneToOne table holds one int32 slot per bucket: the matching row index
// or common.InvalidSlot. A OneToMany table is a single int32 buffer of three
// sections, each bucket's offset into the payload, each bucket's row count,
// and the payload of row indices grouped by bucket:
//
//	[offsets: EntryCount][counts: EntryCount][payload: PayloadLen]
type HashTable struct {
	hashType HashType
	layout   BucketLayout
	buf      []int32
	refs     atomic.Int32
}

func newHashTable(hashType HashType, layout BucketLayout, buf []int32) *HashTable {
	t := &HashTable{hashType: hashType, layout: layout, buf: buf}
	t.refs.Store(1)
	return t
}

func (t *HashTable) HashType() HashType {
	return t.hashType
}

func (t *HashTable) Layout() BucketLayout {
	return t.layout
}

// EntryCount returns the number of buckets.
func (t *HashTable) EntryCount() int64 {
	return t.layout.EntryCount
}

// Buffer returns the raw table. Callers must not modify it.
func (t *HashTable) Buffer() []int32 {
	common.Assert(t.refs.Load() > 0, "use of released hash table")
	return t.buf
}

// PayloadLen returns the number of row indices stored by a OneToMany table.
func (t *HashTable) PayloadLen() int64 {
	if t.hashType != OneToMany {
		return 0
	}
	return int64(len(t.buf)) - 2*t.layout.EntryCount
}

// SizeBytes returns the size of the table buffer.
func (t *HashTable) SizeBytes() int {
	return len(t.buf) * 4
}

// Retain adds a reference and returns t.
func (t *HashTable) Retain() *HashTable {
	n := t.refs.Add(1)
	common.Assert(n > 1, "retain of released hash table")
	return t
}

// Release drops a reference. The buffer is dropped with the last reference.
func (t *HashTable) Release() {
	n := t.refs.Add(-1)
	common.Assert(n >= 0, "hash table released too many times")
	if n == 0 {
		t.buf = nil
	}
}

// RefCount returns the number of live references.
func (t *HashTable) RefCount() int32 {
	return t.refs.Load()
}
