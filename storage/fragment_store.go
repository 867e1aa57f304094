package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
)

// FragmentManager is the storage collaborator the join hash table builder
// reads column chunks from. Implementations must be safe for concurrent use.
type FragmentManager interface {
	// FetchFragmentList returns the fragments of a column ordered by fragment id.
	FetchFragmentList(ctx context.Context, table, column common.ObjectID) ([]FragmentInfo, error)
	// FetchFragment returns the values of one column chunk as seen by device.
	// The returned slice is read-only and stays valid for the life of the
	// store.
	FetchFragment(ctx context.Context, table, column common.ObjectID, fragmentID int32, device common.DeviceID) ([]int64, error)
}

type columnKey struct {
	table, column common.ObjectID
}

type columnChunks struct {
	sync.RWMutex
	typ   common.Type
	frags *btree.Map[int32, *Fragment]
}

// MemFragmentStore is an in-memory FragmentManager. Column chunks are kept in
// a B-tree per column so fragment lists come back in fragment id order.
type MemFragmentStore struct {
	columns *xsync.MapOf[columnKey, *columnChunks]
	fetches atomic.Int64
}

func NewMemFragmentStore() *MemFragmentStore {
	return &MemFragmentStore{
		columns: xsync.NewMapOf[columnKey, *columnChunks](),
	}
}

func (s *MemFragmentStore) chunksFor(table, column common.ObjectID, typ common.Type) (*columnChunks, error) {
	chunks, _ := s.columns.LoadOrCompute(columnKey{table, column}, func() *columnChunks {
		return &columnChunks{typ: typ, frags: btree.NewMap[int32, *Fragment](0)}
	})
	if chunks.typ != typ {
		return nil, errors.Newf("column %d of table %d has type %s, not %s", column, table, chunks.typ, typ)
	}
	return chunks, nil
}

func (s *MemFragmentStore) put(chunks *columnChunks, frag *Fragment) error {
	chunks.Lock()
	defer chunks.Unlock()
	if _, exists := chunks.frags.Get(frag.ID); exists {
		return common.NewJoinError(common.DuplicateObjectError, "fragment %d already exists", frag.ID)
	}
	chunks.frags.Set(frag.ID, frag)
	return nil
}

// PutIntFragment stores an integer-domain column chunk. NULLs are encoded as
// common.NullBigInt. The values are copied.
func (s *MemFragmentStore) PutIntFragment(table, column common.ObjectID, typ common.Type, fragmentID int32, shardID int, values []int64) error {
	common.Assert(typ.IsInteger(), "PutIntFragment with non-integer type %s", typ)
	chunks, err := s.chunksFor(table, column, typ)
	if err != nil {
		return err
	}
	owned := make([]int64, len(values))
	copy(owned, values)
	return s.put(chunks, &Fragment{
		FragmentInfo: FragmentInfo{
			ID:       fragmentID,
			ShardID:  shardID,
			RowCount: len(values),
			Stats:    computeIntStats(owned),
		},
		Type:   typ,
		Values: owned,
	})
}

// PutFloatFragment stores a float column chunk. NaN encodes NULL.
func (s *MemFragmentStore) PutFloatFragment(table, column common.ObjectID, fragmentID int32, shardID int, values []float64) error {
	chunks, err := s.chunksFor(table, column, common.FloatType)
	if err != nil {
		return err
	}
	owned := make([]float64, len(values))
	copy(owned, values)
	return s.put(chunks, &Fragment{
		FragmentInfo: FragmentInfo{
			ID:       fragmentID,
			ShardID:  shardID,
			RowCount: len(values),
			Stats:    computeFloatStats(owned),
		},
		Type:   common.FloatType,
		Floats: owned,
	})
}

// ColumnType returns the type recorded for a stored column.
func (s *MemFragmentStore) ColumnType(table, column common.ObjectID) (common.Type, bool) {
	chunks, ok := s.columns.Load(columnKey{table, column})
	if !ok {
		return common.DefaultType, false
	}
	return chunks.typ, true
}

// FetchFragmentList implements FragmentManager. A column with no chunks has an
// empty fragment list.
func (s *MemFragmentStore) FetchFragmentList(ctx context.Context, table, column common.ObjectID) ([]FragmentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunks, ok := s.columns.Load(columnKey{table, column})
	if !ok {
		return nil, nil
	}
	chunks.RLock()
	defer chunks.RUnlock()
	result := make([]FragmentInfo, 0, chunks.frags.Len())
	chunks.frags.Scan(func(_ int32, frag *Fragment) bool {
		result = append(result, frag.FragmentInfo)
		return true
	})
	return result, nil
}

// FetchFragment implements FragmentManager. Device memory is simulated by the
// host, so the device id only matters to callers that account for it.
func (s *MemFragmentStore) FetchFragment(ctx context.Context, table, column common.ObjectID, fragmentID int32, device common.DeviceID) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunks, ok := s.columns.Load(columnKey{table, column})
	if !ok {
		return nil, common.NewJoinError(common.NoSuchObjectError, "column %d of table %d has no chunks", column, table)
	}
	chunks.RLock()
	frag, ok := chunks.frags.Get(fragmentID)
	chunks.RUnlock()
	if !ok {
		return nil, common.NewJoinError(common.NoSuchObjectError, "fragment %d of column %d does not exist", fragmentID, column)
	}
	if !frag.Type.IsInteger() {
		return nil, errors.Newf("fragment %d of column %d is not in the integer domain", fragmentID, column)
	}
	s.fetches.Add(1)
	return frag.Values, nil
}

// FetchCount returns the number of successful FetchFragment calls.
func (s *MemFragmentStore) FetchCount() int64 {
	return s.fetches.Load()
}
