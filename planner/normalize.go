package planner

import (
	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/common"
)

// NormalizeColumnPair orders the two sides of an equi-join qualifier so that
// the hashed (inner) column comes first. The inner side is the physical
// column bound later in the range table; the outer side may be any
// expression of the same type.
func NormalizeColumnPair(lhs, rhs Expr, cat *catalog.Catalog) (*ColumnVar, Expr, error) {
	lhsType, rhsType := lhs.OutputType(), rhs.OutputType()
	if lhsType != rhsType {
		return nil, nil, common.NewJoinError(common.UnsupportedJoinShape,
			"Equijoin types must be identical, found: %s, %s", lhsType, rhsType)
	}
	if !lhsType.IsInteger() {
		return nil, nil, common.NewJoinError(common.UnsupportedJoinShape,
			"Cannot apply hash join to inner column type %s", lhsType)
	}

	lhsCol, _ := lhs.(*ColumnVar)
	rhsCol, _ := rhs.(*ColumnVar)
	if lhsCol == nil && rhsCol == nil {
		return nil, nil, common.NewJoinError(common.UnsupportedJoinShape,
			"Cannot use hash join for given expression")
	}

	var inner *ColumnVar
	var outer Expr
	if lhsCol == nil || (rhsCol != nil && lhsCol.RteIdx < rhsCol.RteIdx) {
		inner, outer = rhsCol, lhs
	} else {
		inner, outer = lhsCol, rhs
	}

	_, innerDesc, err := cat.GetColumn(inner.TableID, inner.ColumnID)
	if err != nil {
		return nil, nil, err
	}
	if innerDesc.Virtual {
		return nil, nil, common.NewJoinError(common.UnsupportedJoinShape, "Cannot join on rowid")
	}
	if inner.Type == common.DictStringType {
		if _, ok := outer.(*ColumnVar); !ok {
			return nil, nil, common.NewJoinError(common.UnsupportedJoinShape,
				"Cannot join dictionary encoded column %s on expression %s", inner, outer)
		}
	}
	return inner, outer, nil
}
