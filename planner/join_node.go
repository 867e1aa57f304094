package planner

import (
	"fmt"

	"github.com/neko940709/mapd-core-stream/device"
)

// HashJoinNode represents a perfect hash equi-join of an outer expression
// against a physical inner column. MemoryLevel and DeviceCount choose where
// the hash table lives; DeviceCount is ignored at CPULevel.
type HashJoinNode struct {
	Condition   *BinOper
	MemoryLevel device.MemoryLevel
	DeviceCount int
}

func NewHashJoinNode(condition *BinOper, level device.MemoryLevel, deviceCount int) *HashJoinNode {
	return &HashJoinNode{
		Condition:   condition,
		MemoryLevel: level,
		DeviceCount: deviceCount,
	}
}

func (n *HashJoinNode) Children() []PlanNode {
	return nil
}

func (n *HashJoinNode) String() string {
	return fmt.Sprintf("HashJoin(%s): %s", n.MemoryLevel, n.Condition.String())
}
