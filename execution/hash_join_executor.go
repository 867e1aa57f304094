package execution

import (
	"context"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/planner"
)

// HashJoinExecutor probes a JoinHashTable with every row of the outer side,
// going through the same descriptors generated probe code receives. At
// GPULevel it reads the device replicas back and probes those.
type HashJoinExecutor struct {
	plan *planner.HashJoinNode

	// Runtime State
	table       *JoinHashTable
	descriptors []ProbeDescriptor
	buffers     [][]int32
	outer       outerRows
	outerIdx    int
	matches     []JoinedRow // matches of the current outer row
	matchIndex  int         // the index of the next match to emit
	current     JoinedRow
	err         error
}

// outerRows is the materialized outer side, one slice per referenced column.
type outerRows struct {
	cols map[planner.ColumnVar][]int64
	n    int
	idx  int
}

func (r *outerRows) Value(col planner.ColumnVar) int64 {
	return r.cols[col][r.idx]
}

func NewHashJoinExecutor(plan *planner.HashJoinNode) *HashJoinExecutor {
	return &HashJoinExecutor{plan: plan}
}

func (e *HashJoinExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *HashJoinExecutor) Init(ctx context.Context, ectx *ExecutorContext) error {
	e.matches, e.matchIndex, e.outerIdx, e.err = nil, 0, 0, nil

	table, err := NewJoinHashTable(ctx, ectx, e.plan.Condition, e.plan.MemoryLevel, e.plan.DeviceCount)
	if err != nil {
		return err
	}
	e.table = table

	level := table.MemoryLevel()
	devices := 1
	if level == device.GPULevel {
		devices = table.DeviceCount()
	}
	e.descriptors = make([]ProbeDescriptor, devices)
	e.buffers = make([][]int32, devices)
	for d := 0; d < devices; d++ {
		id := common.DeviceID(d)
		if e.descriptors[d], err = table.Descriptor(level, id); err != nil {
			return err
		}
		if level == device.GPULevel {
			e.buffers[d], err = table.DeviceBuffer(ctx, id)
		} else {
			e.buffers[d], err = table.HostBuffer(level, id)
		}
		if err != nil {
			return err
		}
	}
	return e.loadOuter(ctx, ectx, table.OuterExpr())
}

func (e *HashJoinExecutor) loadOuter(ctx context.Context, ectx *ExecutorContext, outer planner.Expr) error {
	e.outer = outerRows{cols: make(map[planner.ColumnVar][]int64)}
	cols := planner.ColumnVars(outer)
	if len(cols) == 0 {
		return nil
	}
	first := true
	for _, col := range cols {
		if _, ok := e.outer.cols[*col]; ok {
			continue
		}
		frags, err := ectx.Fragments.FetchFragmentList(ctx, col.TableID, col.ColumnID)
		if err != nil {
			return err
		}
		m, err := ectx.Materializer.Materialize(ctx, MaterializeRequest{Column: *col, Fragments: frags})
		if err != nil {
			return err
		}
		if first {
			e.outer.n = len(m.Values)
			first = false
		}
		common.Assert(len(m.Values) == e.outer.n, "outer columns of different lengths")
		e.outer.cols[*col] = m.Values
	}
	return nil
}

// probe collects the matches of one outer row. An unsharded table is whole
// on every device, so outer rows are dealt to devices round robin; a sharded
// key only matches on the device owning its shard.
func (e *HashJoinExecutor) probe(outerRow int, key int64) {
	e.matches = e.matches[:0]
	e.matchIndex = 0
	for d, desc := range e.descriptors {
		if e.table.ShardCount() == 0 && d != outerRow%len(e.descriptors) {
			continue
		}
		for _, row := range MatchingRows(desc, e.buffers[d], key) {
			e.matches = append(e.matches, JoinedRow{OuterRow: outerRow, InnerRow: row, Device: common.DeviceID(d)})
		}
	}
}

func (e *HashJoinExecutor) Next() bool {
	if e.err != nil || e.table == nil {
		return false
	}
	for e.matchIndex == len(e.matches) {
		if e.outerIdx >= e.outer.n {
			return false
		}
		e.outer.idx = e.outerIdx
		e.probe(e.outerIdx, e.table.OuterExpr().Eval(&e.outer))
		e.outerIdx++
	}
	e.current = e.matches[e.matchIndex]
	e.matchIndex++
	return true
}

func (e *HashJoinExecutor) Current() JoinedRow {
	return e.current
}

func (e *HashJoinExecutor) Error() error {
	return e.err
}

func (e *HashJoinExecutor) Close() error {
	if e.table != nil {
		e.table.Release()
		e.table = nil
	}
	return nil
}
