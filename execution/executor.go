package execution

import (
	"context"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/planner"
)

// JoinedRow is one match of a join: a row of the outer input and a row of
// the inner column. InnerRow indexes the inner column as materialized for
// Device; on a sharded join each device numbers only its own shards' rows.
type JoinedRow struct {
	OuterRow int
	InnerRow int32
	Device   common.DeviceID
}

// Executor is the interface that all physical execution nodes must implement.
type Executor interface {
	PlanNode() planner.PlanNode

	// Init initializes the executor with a specific execution context.
	Init(ctx context.Context, ectx *ExecutorContext) error

	// Next retrieves the next row from the executor.
	Next() bool

	// Current returns the row most recently read by Next().
	Current() JoinedRow

	// Error returns the last error encountered by the executor, if any.
	Error() error

	// Close cleans up any resources held by the executor.
	Close() error
}
