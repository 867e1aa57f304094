package planner

import (
	"testing"

	"github.com/neko940709/mapd-core-stream/catalog"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRow map[ColumnVar]int64

func (r mapRow) Value(col ColumnVar) int64 {
	return r[col]
}

// Two tables: orders(id, customer, rowid, city) at rte 0 and
// customers(id, city) at rte 1.
type testSchema struct {
	cat       *catalog.Catalog
	orderID   *ColumnVar
	orderCust *ColumnVar
	orderRow  *ColumnVar
	orderCity *ColumnVar
	custID    *ColumnVar
	custCity  *ColumnVar
}

func makeTestSchema(t *testing.T) testSchema {
	provider := &catalog.MemCatalogManager{}
	cat, err := catalog.NewCatalog(provider)
	require.NoError(t, err)

	orders, err := cat.AddTable("orders", []catalog.Column{
		{Name: "id", Type: common.BigIntType},
		{Name: "customer", Type: common.IntType},
		{Name: "rowid", Type: common.BigIntType, Virtual: true},
		{Name: "city", Type: common.DictStringType, DictOid: 100},
	}, catalog.TableOptions{}, provider)
	require.NoError(t, err)
	customers, err := cat.AddTable("customers", []catalog.Column{
		{Name: "id", Type: common.IntType},
		{Name: "city", Type: common.DictStringType, DictOid: 101},
	}, catalog.TableOptions{}, provider)
	require.NoError(t, err)

	col := func(tbl *catalog.Table, idx, rte int) *ColumnVar {
		c := tbl.Columns[idx]
		return NewColumnVar(tbl.Oid, c.Oid, rte, c.Type)
	}
	return testSchema{
		cat:       cat,
		orderID:   col(orders, 0, 0),
		orderCust: col(orders, 1, 0),
		orderRow:  col(orders, 2, 0),
		orderCity: col(orders, 3, 0),
		custID:    col(customers, 0, 1),
		custCity:  col(customers, 1, 1),
	}
}

func TestArithmeticEvaluation(t *testing.T) {
	s := makeTestSchema(t)
	row := mapRow{*s.orderCust: 7, *s.custID: common.NullBigInt}

	tests := []struct {
		name string
		expr Expr
		want int64
	}{
		{"column", s.orderCust, 7},
		{"add", NewArithmeticExpr(s.orderCust, NewConstantExpr(3, common.IntType), Add), 10},
		{"sub", NewArithmeticExpr(s.orderCust, NewConstantExpr(10, common.IntType), Sub), -3},
		{"mult", NewArithmeticExpr(s.orderCust, NewConstantExpr(2, common.IntType), Mult), 14},
		{"div", NewArithmeticExpr(s.orderCust, NewConstantExpr(2, common.IntType), Div), 3},
		{"mod", NewArithmeticExpr(s.orderCust, NewConstantExpr(4, common.IntType), Mod), 3},
		{"div by zero", NewArithmeticExpr(s.orderCust, NewConstantExpr(0, common.IntType), Div), common.NullBigInt},
		{"null propagates", NewArithmeticExpr(s.custID, NewConstantExpr(1, common.IntType), Add), common.NullBigInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Eval(row))
		})
	}
}

func TestColumnVars(t *testing.T) {
	s := makeTestSchema(t)
	e := NewArithmeticExpr(s.orderCust, NewArithmeticExpr(NewConstantExpr(1, common.IntType), s.custID, Add), Mult)
	assert.Equal(t, []*ColumnVar{s.orderCust, s.custID}, ColumnVars(e))
	assert.Nil(t, ColumnVars(NewConstantExpr(1, common.IntType)))
}

func TestNormalizeColumnPairPicksLaterRte(t *testing.T) {
	s := makeTestSchema(t)

	inner, outer, err := NormalizeColumnPair(s.orderCust, s.custID, s.cat)
	require.NoError(t, err)
	assert.Equal(t, s.custID, inner)
	assert.Equal(t, Expr(s.orderCust), outer)

	inner, outer, err = NormalizeColumnPair(s.custID, s.orderCust, s.cat)
	require.NoError(t, err)
	assert.Equal(t, s.custID, inner)
	assert.Equal(t, Expr(s.orderCust), outer)
}

func TestNormalizeColumnPairExpressionOuter(t *testing.T) {
	s := makeTestSchema(t)
	outerExpr := NewArithmeticExpr(s.orderCust, NewConstantExpr(1, common.IntType), Add)

	inner, outer, err := NormalizeColumnPair(outerExpr, s.custID, s.cat)
	require.NoError(t, err)
	assert.Equal(t, s.custID, inner)
	assert.Equal(t, Expr(outerExpr), outer)
}

func TestNormalizeColumnPairFailures(t *testing.T) {
	s := makeTestSchema(t)
	otherRow := NewColumnVar(s.orderRow.TableID, s.orderRow.ColumnID, 1, common.BigIntType)

	tests := []struct {
		name     string
		lhs, rhs Expr
		msg      string
	}{
		{"type mismatch", s.orderID, s.custID, "Equijoin types must be identical"},
		{"float", NewConstantExpr(1, common.FloatType), NewConstantExpr(2, common.FloatType), "Cannot apply hash join"},
		{"no column", NewConstantExpr(1, common.IntType), NewConstantExpr(2, common.IntType), "Cannot use hash join"},
		{"rowid", s.orderID, otherRow, "Cannot join on rowid"},
		{"dictionary on expression", NewConstantExpr(1, common.DictStringType), s.custCity, "Cannot join dictionary encoded column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NormalizeColumnPair(tt.lhs, tt.rhs, s.cat)
			require.Error(t, err)
			assert.True(t, common.IsUnsupported(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBinOperString(t *testing.T) {
	s := makeTestSchema(t)
	q := NewBinOper(s.orderCust, s.custID, BitwiseEqual)
	assert.Contains(t, q.String(), "IS NOT DISTINCT FROM")
	assert.Contains(t, NewHashJoinNode(q, 0, 0).String(), "HashJoin(CPU)")
}
