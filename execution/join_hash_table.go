package execution

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/metrics"
	"github.com/neko940709/mapd-core-stream/planner"
	"github.com/neko940709/mapd-core-stream/stats"
	"github.com/neko940709/mapd-core-stream/storage"
	"go.uber.org/zap"
)

// JoinHashTable is the perfect hash table of one equi-join qualifier, ready
// to be probed on every device that runs the join. It holds a reference to
// each host table it uses and owns its device replicas.
type JoinHashTable struct {
	qual        *planner.BinOper
	inner       *planner.ColumnVar
	outer       planner.Expr
	memLevel    device.MemoryLevel
	deviceCount int
	shardCount  int
	hashType    HashType
	rng         stats.ExpressionRange
	translation []int32

	// One table shared by all devices, or one per device when sharded.
	hostTables []*HashTable
	replicas   []*Replica
	released   atomic.Bool
	logger     *zap.Logger
}

// buildSet is the fragment subset one host table is built from.
type buildSet struct {
	device common.DeviceID
	frags  []storage.FragmentInfo
}

// NewJoinHashTable builds, or takes from the cache, the hash table of qual.
// At GPULevel the table is replicated to devices [0, deviceCount); with no
// devices it stays on the host. Errors carry a common.JoinErrorCode whose
// kind tells the caller how to recover.
//
// Once fragments are being fetched the build runs to completion even if ctx
// is canceled, so a shared cache never sees a half-built table.
func NewJoinHashTable(ctx context.Context, ectx *ExecutorContext, qual *planner.BinOper, memLevel device.MemoryLevel, deviceCount int) (*JoinHashTable, error) {
	jht, err := newJoinHashTable(ctx, ectx, qual, memLevel, deviceCount)
	if err != nil {
		kind := common.KindOther
		if code, ok := common.CodeOf(err); ok {
			kind = code.Kind()
		}
		metrics.BuildFailures.WithLabelValues(kind.String()).Inc()
		ectx.Logger.Warn("join hash table build failed",
			zap.Stringer("qual", qual), zap.Stringer("kind", kind), zap.Error(err))
		return nil, err
	}
	return jht, nil
}

func newJoinHashTable(ctx context.Context, ectx *ExecutorContext, qual *planner.BinOper, memLevel device.MemoryLevel, deviceCount int) (*JoinHashTable, error) {
	inner, outer, err := planner.NormalizeColumnPair(qual.Left, qual.Right, ectx.Catalog)
	if err != nil {
		return nil, err
	}

	if memLevel == device.GPULevel {
		if deviceCount > ectx.Devices.DeviceCount() {
			return nil, common.NewJoinError(common.NoSuchObjectError,
				"join needs %d devices, only %d present", deviceCount, ectx.Devices.DeviceCount())
		}
		if deviceCount <= 0 {
			memLevel = device.CPULevel
		}
	}
	if memLevel == device.CPULevel {
		deviceCount = 0
	}

	rng, err := ectx.Estimator.EstimateRange(ctx, inner.TableID, inner.ColumnID, inner.Type)
	if err != nil {
		return nil, common.WrapJoinError(err, common.FailedToFetchColumn, "cannot estimate range of %s", inner)
	}
	if rng.Type != stats.IntegerRange {
		return nil, common.NewJoinError(common.UnsupportedJoinShape, "hash join on %s needs an integer range, got %s", inner, rng)
	}

	jht := &JoinHashTable{
		qual:        qual,
		inner:       inner,
		outer:       outer,
		memLevel:    memLevel,
		deviceCount: deviceCount,
		rng:         rng,
		logger:      ectx.Logger,
	}
	if memLevel == device.GPULevel {
		if jht.shardCount, err = shardCount(ectx.Catalog, inner, outer); err != nil {
			return nil, err
		}
	}

	needsTranslation, err := ectx.Materializer.NeedsDictionaryTranslation(inner, outer)
	if err != nil {
		return nil, err
	}
	if needsTranslation {
		if jht.translation, err = ectx.Materializer.TranslationMap(inner, outer.(*planner.ColumnVar)); err != nil {
			return nil, err
		}
	}

	layout, err := ComputeEntryCount(rng, qual.Op == planner.BitwiseEqual, jht.shardCount, deviceCount)
	if err != nil {
		return nil, err
	}

	frags, err := ectx.Fragments.FetchFragmentList(ctx, inner.TableID, inner.ColumnID)
	if err != nil {
		return nil, common.WrapJoinError(err, common.FailedToFetchColumn, "cannot list fragments of %s", inner)
	}

	buildCtx := context.WithoutCancel(ctx)
	if err := jht.reify(buildCtx, ectx, layout, jht.buildSets(frags)); err != nil {
		jht.Release()
		return nil, err
	}
	return jht, nil
}

func (j *JoinHashTable) buildSets(frags []storage.FragmentInfo) []buildSet {
	if j.shardCount == 0 {
		return []buildSet{{device: 0, frags: frags}}
	}
	sets := make([]buildSet, j.deviceCount)
	for d := range sets {
		sets[d] = buildSet{device: common.DeviceID(d), frags: OnlyShardsForDevice(frags, common.DeviceID(d), j.deviceCount)}
	}
	return sets
}

// reify builds one host table per set, makes the discipline uniform across
// sets, and replicates to devices.
func (j *JoinHashTable) reify(ctx context.Context, ectx *ExecutorContext, layout BucketLayout, sets []buildSet) error {
	outerCol, cacheable := j.outer.(*planner.ColumnVar)

	j.hostTables = make([]*HashTable, 0, len(sets))
	j.hashType = OneToOne
	for _, set := range sets {
		build := func() (*HashTable, error) {
			return j.build(ctx, ectx, layout, set, OneToOne)
		}
		var t *HashTable
		var err error
		if cacheable {
			fp := NewKeyFingerprint(j.rng, *j.inner, *outerCol, set.frags, j.qual.Op)
			t, _, err = ectx.Cache.GetOrBuild(fp, build)
		} else {
			t, err = build()
		}
		if err != nil {
			return err
		}
		j.hostTables = append(j.hostTables, t)
		if t.HashType() == OneToMany {
			j.hashType = OneToMany
		}
	}

	// Probe code is shared by all devices, so one OneToMany shard forces the
	// others to OneToMany. Those are built privately: the cache keeps the
	// table each fragment set needs on its own.
	if j.hashType == OneToMany {
		for i, t := range j.hostTables {
			if t.HashType() == OneToMany {
				continue
			}
			rebuilt, err := j.build(ctx, ectx, layout, sets[i], OneToMany)
			if err != nil {
				return err
			}
			t.Release()
			j.hostTables[i] = rebuilt
		}
	}

	if j.memLevel != device.GPULevel {
		return nil
	}
	reqs := make([]ReplicaRequest, j.deviceCount)
	for d := range reqs {
		t := j.hostTables[0]
		if j.shardCount > 0 {
			t = j.hostTables[d]
		}
		reqs[d] = ReplicaRequest{Device: common.DeviceID(d), Table: t}
	}
	replicas, err := ectx.Replicator.Replicate(ctx, reqs)
	if err != nil {
		return err
	}
	j.replicas = replicas
	return nil
}

// build materializes a fragment set and hashes it. Starting from OneToOne, a
// duplicate key restarts the build as OneToMany.
func (j *JoinHashTable) build(ctx context.Context, ectx *ExecutorContext, layout BucketLayout, set buildSet, hashType HashType) (*HashTable, error) {
	col, err := ectx.Materializer.Materialize(ctx, MaterializeRequest{Column: *j.inner, Fragments: set.frags, Device: set.device})
	if err != nil {
		return nil, err
	}
	in := BuildInput{Values: col.Values, Layout: layout, Device: set.device}
	outcome := BuildHashTable(in, hashType)
	if outcome.Status == BuildFellBack {
		metrics.Fallbacks.Inc()
		j.logger.Info("join keys are not unique, building one-to-many table",
			zap.Stringer("inner", j.inner), zap.Stringer("device", set.device), zap.Int("rows", len(col.Values)))
		outcome = BuildHashTable(in, OneToMany)
	}
	if outcome.Status == BuildFailed {
		return nil, outcome.Err
	}
	metrics.Builds.WithLabelValues(outcome.Table.HashType().String()).Inc()
	j.logger.Debug("built join hash table",
		zap.Stringer("inner", j.inner),
		zap.Stringer("hash_type", outcome.Table.HashType()),
		zap.Stringer("layout", layout),
		zap.Int("rows", len(col.Values)),
		zap.Bool("linearized", col.Linearized))
	return outcome.Table, nil
}

// shardCount returns the shard count shared by both join columns when each
// is the shard key of its table, and 0 when the join is not co-sharded.
func shardCount(cat *catalog.Catalog, inner *planner.ColumnVar, outer planner.Expr) (int, error) {
	outerCol, ok := outer.(*planner.ColumnVar)
	if !ok || outerCol.RteIdx != 0 || inner.Type != outerCol.Type {
		return 0, nil
	}
	innerTable, err := cat.GetTableByOid(inner.TableID)
	if err != nil {
		return 0, err
	}
	outerTable, err := cat.GetTableByOid(outerCol.TableID)
	if err != nil {
		return 0, err
	}
	if innerTable.IsShardColumn(inner.ColumnID) && outerTable.IsShardColumn(outerCol.ColumnID) &&
		innerTable.ShardCount == outerTable.ShardCount {
		return innerTable.ShardCount, nil
	}
	return 0, nil
}

func (j *JoinHashTable) HashType() HashType {
	return j.hashType
}

func (j *JoinHashTable) MemoryLevel() device.MemoryLevel {
	return j.memLevel
}

func (j *JoinHashTable) DeviceCount() int {
	return j.deviceCount
}

func (j *JoinHashTable) ShardCount() int {
	return j.shardCount
}

func (j *JoinHashTable) InnerColumn() *planner.ColumnVar {
	return j.inner
}

func (j *JoinHashTable) OuterExpr() planner.Expr {
	return j.outer
}

// JoinHashBuffer returns the handle probe code uses on a device: the address
// of the host table on the CPU, the replica pointer on a GPU. It returns 0
// for the CPU when the table was not built for the CPU.
func (j *JoinHashTable) JoinHashBuffer(deviceType device.MemoryLevel, deviceID common.DeviceID) int64 {
	if deviceType == device.CPULevel {
		if j.memLevel != device.CPULevel || len(j.hostTables) == 0 {
			return 0
		}
		buf := j.hostTables[0].Buffer()
		if len(buf) == 0 {
			return 0
		}
		return int64(uintptr(unsafe.Pointer(&buf[0])))
	}
	common.Assert(int(deviceID) >= 0 && int(deviceID) < len(j.replicas), "no replica on %s", deviceID)
	return int64(j.replicas[deviceID].Buffer.Ptr())
}

// Descriptor returns the probe contract for one device.
func (j *JoinHashTable) Descriptor(deviceType device.MemoryLevel, deviceID common.DeviceID) (ProbeDescriptor, error) {
	t, err := j.hostTable(deviceType, deviceID)
	if err != nil {
		return ProbeDescriptor{}, err
	}
	return ProbeDescriptor{
		Handle:           j.JoinHashBuffer(deviceType, deviceID),
		MemoryLevel:      deviceType,
		Device:           deviceID,
		HashType:         j.hashType,
		Layout:           t.Layout(),
		InvalidSlot:      common.InvalidSlot,
		OuterTranslation: j.translation,
	}, nil
}

func (j *JoinHashTable) hostTable(deviceType device.MemoryLevel, deviceID common.DeviceID) (*HashTable, error) {
	if j.released.Load() {
		return nil, errors.New("join hash table already released")
	}
	if deviceType != j.memLevel {
		return nil, errors.Newf("join hash table built for %s, not %s", j.memLevel, deviceType)
	}
	if deviceType == device.CPULevel {
		return j.hostTables[0], nil
	}
	if int(deviceID) < 0 || int(deviceID) >= j.deviceCount {
		return nil, errors.Newf("join hash table has no replica on %s", deviceID)
	}
	if j.shardCount > 0 {
		return j.hostTables[deviceID], nil
	}
	return j.hostTables[0], nil
}

// HostBuffer returns the host copy of the table probed on a device.
func (j *JoinHashTable) HostBuffer(deviceType device.MemoryLevel, deviceID common.DeviceID) ([]int32, error) {
	t, err := j.hostTable(deviceType, deviceID)
	if err != nil {
		return nil, err
	}
	return t.Buffer(), nil
}

// DeviceBuffer reads a device replica back into host memory.
func (j *JoinHashTable) DeviceBuffer(ctx context.Context, deviceID common.DeviceID) ([]int32, error) {
	if _, err := j.hostTable(device.GPULevel, deviceID); err != nil {
		return nil, err
	}
	return j.replicas[deviceID].Buffer.DownloadInt32s(ctx)
}

// Release frees the device replicas and drops the references to the host
// tables. It is safe to call more than once.
func (j *JoinHashTable) Release() {
	if !j.released.CompareAndSwap(false, true) {
		return
	}
	for _, r := range j.replicas {
		if err := r.Release(); err != nil {
			j.logger.Warn("failed to free join hash table replica", zap.Stringer("device", r.Device), zap.Error(err))
		}
	}
	j.replicas = nil
	for _, t := range j.hostTables {
		t.Release()
	}
	j.hostTables = nil
}
