package execution

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/logutil"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/storage"
	"go.uber.org/zap"
)

// MaterializeRequest asks for the values of one column over a fragment list,
// in fragment order, as seen by one device.
type MaterializeRequest struct {
	Column    planner.ColumnVar
	Fragments []storage.FragmentInfo
	Device    common.DeviceID
}

// MaterializedColumn is a contiguous view of a column. Values is shared with
// storage or with the linearization cache and must not be modified.
type MaterializedColumn struct {
	Values     []int64
	Linearized bool
}

type linearKey struct {
	table, column common.ObjectID
	fragments     string
}

func newLinearKey(col planner.ColumnVar, frags []storage.FragmentInfo) linearKey {
	var sb strings.Builder
	for i, f := range frags {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(f.ID)))
	}
	return linearKey{table: col.TableID, column: col.ColumnID, fragments: sb.String()}
}

// ColumnMaterializer turns fragmented column storage into contiguous buffers
// for the builder, and reconciles string dictionaries between join sides.
type ColumnMaterializer struct {
	fragments        storage.FragmentManager
	dictionaries     *storage.DictionaryRegistry
	catalog          *catalog.Catalog
	allowTranslation bool
	logger           *zap.Logger

	// Linearized multi-fragment columns, guarded separately from the hash
	// table cache.
	mu         sync.Mutex
	linearized map[linearKey][]int64
}

func NewColumnMaterializer(fragments storage.FragmentManager, dictionaries *storage.DictionaryRegistry, cat *catalog.Catalog, allowTranslation bool, logger *zap.Logger) *ColumnMaterializer {
	if logger == nil {
		logger = logutil.BgLogger()
	}
	return &ColumnMaterializer{
		fragments:        fragments,
		dictionaries:     dictionaries,
		catalog:          cat,
		allowTranslation: allowTranslation,
		logger:           logger,
		linearized:       make(map[linearKey][]int64),
	}
}

// Materialize returns the column values. A single fragment is returned
// without copying; several fragments are concatenated once and the result
// is reused by later requests for the same fragment list.
func (m *ColumnMaterializer) Materialize(ctx context.Context, req MaterializeRequest) (MaterializedColumn, error) {
	switch len(req.Fragments) {
	case 0:
		return MaterializedColumn{}, nil
	case 1:
		vals, err := m.fetch(ctx, req.Column, req.Fragments[0], req.Device)
		if err != nil {
			return MaterializedColumn{}, err
		}
		return MaterializedColumn{Values: vals}, nil
	}

	key := newLinearKey(req.Column, req.Fragments)
	m.mu.Lock()
	vals, ok := m.linearized[key]
	m.mu.Unlock()
	if ok {
		m.logger.Debug("reusing linearized column",
			zap.Uint32("table", uint32(key.table)), zap.Uint32("column", uint32(key.column)), zap.String("fragments", key.fragments))
		return MaterializedColumn{Values: vals, Linearized: true}, nil
	}

	total := 0
	for _, f := range req.Fragments {
		total += f.RowCount
	}
	vals = make([]int64, 0, total)
	for _, f := range req.Fragments {
		chunk, err := m.fetch(ctx, req.Column, f, req.Device)
		if err != nil {
			return MaterializedColumn{}, err
		}
		vals = append(vals, chunk...)
	}

	m.mu.Lock()
	if existing, ok := m.linearized[key]; ok {
		vals = existing
	} else {
		m.linearized[key] = vals
	}
	m.mu.Unlock()
	return MaterializedColumn{Values: vals, Linearized: true}, nil
}

func (m *ColumnMaterializer) fetch(ctx context.Context, col planner.ColumnVar, frag storage.FragmentInfo, device common.DeviceID) ([]int64, error) {
	vals, err := m.fragments.FetchFragment(ctx, col.TableID, col.ColumnID, frag.ID, device)
	if err != nil {
		return nil, common.WrapJoinError(err, common.FailedToFetchColumn,
			"failed to fetch fragment %d of %s", frag.ID, &col)
	}
	return vals, nil
}

// LinearizedCount returns the number of cached linearized columns.
func (m *ColumnMaterializer) LinearizedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.linearized)
}

// Clear drops every linearized column.
func (m *ColumnMaterializer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linearized = make(map[linearKey][]int64)
}

// OnlyShardsForDevice keeps the fragments whose shard is placed on device.
func OnlyShardsForDevice(frags []storage.FragmentInfo, device common.DeviceID, deviceCount int) []storage.FragmentInfo {
	var result []storage.FragmentInfo
	for _, f := range frags {
		common.Assert(f.ShardID >= 0, "fragment %d of a sharded table has no shard", f.ID)
		if f.ShardID%deviceCount == int(device) {
			result = append(result, f)
		}
	}
	return result
}

// NeedsDictionaryTranslation reports whether both sides are dictionary
// encoded strings backed by different dictionaries.
func (m *ColumnMaterializer) NeedsDictionaryTranslation(inner *planner.ColumnVar, outer planner.Expr) (bool, error) {
	outerCol, ok := outer.(*planner.ColumnVar)
	if !ok || inner.Type != common.DictStringType || outerCol.Type != common.DictStringType {
		return false, nil
	}
	_, innerDesc, err := m.catalog.GetColumn(inner.TableID, inner.ColumnID)
	if err != nil {
		return false, err
	}
	_, outerDesc, err := m.catalog.GetColumn(outerCol.TableID, outerCol.ColumnID)
	if err != nil {
		return false, err
	}
	return innerDesc.DictOid != outerDesc.DictOid, nil
}

// TranslationMap maps every code of the outer column's dictionary to the
// inner dictionary's code for the same string, or common.InvalidSlot when
// the inner dictionary lacks it.
func (m *ColumnMaterializer) TranslationMap(inner, outer *planner.ColumnVar) ([]int32, error) {
	if !m.allowTranslation {
		return nil, common.NewJoinError(common.UnsupportedJoinShape,
			"Cannot join on columns with different dictionaries: %s, %s", inner, outer)
	}
	_, innerDesc, err := m.catalog.GetColumn(inner.TableID, inner.ColumnID)
	if err != nil {
		return nil, err
	}
	_, outerDesc, err := m.catalog.GetColumn(outer.TableID, outer.ColumnID)
	if err != nil {
		return nil, err
	}
	innerDict, err := m.dictionaries.Get(innerDesc.DictOid)
	if err != nil {
		return nil, common.WrapJoinError(err, common.UnsupportedJoinShape, "no dictionary for inner column %s", inner)
	}
	outerDict, err := m.dictionaries.Get(outerDesc.DictOid)
	if err != nil {
		return nil, common.WrapJoinError(err, common.UnsupportedJoinShape, "no dictionary for outer column %s", outer)
	}

	n := outerDict.Size()
	translation := make([]int32, n)
	missing := 0
	for code := 0; code < n; code++ {
		translation[code] = common.InvalidSlot
		s, ok := outerDict.GetString(int32(code))
		if !ok {
			continue
		}
		if innerCode, ok := innerDict.GetID(s); ok {
			translation[code] = innerCode
		} else {
			missing++
		}
	}
	m.logger.Debug("built dictionary translation",
		zap.Uint32("from", uint32(outerDesc.DictOid)), zap.Uint32("to", uint32(innerDesc.DictOid)),
		zap.Int("codes", n), zap.Int("missing", missing))
	return translation, nil
}
