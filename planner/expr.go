package planner

import (
	"fmt"

	"github.com/neko940709/mapd-core-stream/common"
)

// Row supplies column values to expression evaluation. Integer-domain values
// are widened to int64 with common.NullBigInt marking NULL.
type Row interface {
	Value(col ColumnVar) int64
}

// Expr represents a node in a join key expression tree.
// Expressions are stateless and immutable plan nodes.
type Expr interface {
	// Eval evaluates the expression against the provided row.
	Eval(r Row) int64

	// OutputType returns the type of value this expression produces.
	OutputType() common.Type

	// String returns a string representation of the expression.
	String() string
}

// ColumnVar references a physical column of a table in the query. RteIdx is
// the position of the table in the query's range table; the inner side of a
// hash join is the side bound later in the range table.
type ColumnVar struct {
	TableID  common.ObjectID
	ColumnID common.ObjectID
	RteIdx   int
	Type     common.Type
}

func NewColumnVar(tableID, columnID common.ObjectID, rteIdx int, typ common.Type) *ColumnVar {
	return &ColumnVar{TableID: tableID, ColumnID: columnID, RteIdx: rteIdx, Type: typ}
}

func (e *ColumnVar) Eval(r Row) int64 {
	return r.Value(*e)
}

func (e *ColumnVar) OutputType() common.Type {
	return e.Type
}

func (e *ColumnVar) String() string {
	return fmt.Sprintf("t%d.c%d@%d", e.TableID, e.ColumnID, e.RteIdx)
}

type ConstantExpr struct {
	val int64
	typ common.Type
}

func NewConstantExpr(val int64, typ common.Type) *ConstantExpr {
	return &ConstantExpr{val: val, typ: typ}
}

func (e *ConstantExpr) Eval(Row) int64 {
	return e.val
}

func (e *ConstantExpr) OutputType() common.Type {
	return e.typ
}

func (e *ConstantExpr) String() string {
	if e.val == common.NullBigInt {
		return "NULL"
	}
	return fmt.Sprintf("%d", e.val)
}

type ArithmeticType int

const (
	Add ArithmeticType = iota
	Sub
	Mult
	Div
	Mod
)

func (a ArithmeticType) String() string {
	switch a {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mult:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	}
	return "?"
}

// ArithmeticExpr computes an integer key from other expressions. It may only
// appear on the outer side of a hash join.
type ArithmeticExpr struct {
	left  Expr
	right Expr
	op    ArithmeticType
}

func NewArithmeticExpr(left Expr, right Expr, op ArithmeticType) *ArithmeticExpr {
	return &ArithmeticExpr{
		left:  left,
		right: right,
		op:    op,
	}
}

func (e *ArithmeticExpr) Eval(r Row) int64 {
	v1 := e.left.Eval(r)
	v2 := e.right.Eval(r)

	if v1 == common.NullBigInt || v2 == common.NullBigInt {
		return common.NullBigInt
	}

	switch e.op {
	case Add:
		return v1 + v2
	case Sub:
		return v1 - v2
	case Mult:
		return v1 * v2
	case Div:
		if v2 == 0 {
			return common.NullBigInt
		}
		return v1 / v2
	case Mod:
		if v2 == 0 {
			return common.NullBigInt
		}
		return v1 % v2
	}
	panic("unknown arithmetic op")
}

func (e *ArithmeticExpr) OutputType() common.Type {
	return e.left.OutputType()
}

func (e *ArithmeticExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.left.String(), e.op.String(), e.right.String())
}

type ComparisonType int

const (
	Equal ComparisonType = iota
	// BitwiseEqual is equality under which NULL matches NULL
	// (IS NOT DISTINCT FROM).
	BitwiseEqual
)

func (c ComparisonType) String() string {
	switch c {
	case Equal:
		return "="
	case BitwiseEqual:
		return "IS NOT DISTINCT FROM"
	}
	return "???"
}

// BinOper is an equi-join qualifier.
type BinOper struct {
	Left  Expr
	Right Expr
	Op    ComparisonType
}

func NewBinOper(left Expr, right Expr, op ComparisonType) *BinOper {
	return &BinOper{Left: left, Right: right, Op: op}
}

func (e *BinOper) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.Op.String(), e.Right.String())
}

// ColumnVars returns every column referenced by e, in evaluation order.
func ColumnVars(e Expr) []*ColumnVar {
	switch x := e.(type) {
	case *ColumnVar:
		return []*ColumnVar{x}
	case *ArithmeticExpr:
		return append(ColumnVars(x.left), ColumnVars(x.right)...)
	}
	return nil
}
