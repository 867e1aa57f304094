package common

import (
	"fmt"
	"math"
)

type Type int8

const (
	// For uninitialized columns
	DefaultType Type = iota
	SmallIntType
	IntType
	BigIntType
	// DictStringType is a dictionary-encoded string: the stored value is the
	// int32 code assigned by the column's string dictionary.
	DictStringType
	FloatType
)

// Size returns the fixed-width storage size of the type in bytes.
func (t Type) Size() int {
	switch t {
	case SmallIntType:
		return 2
	case IntType, DictStringType, FloatType:
		return 4
	case BigIntType:
		return 8
	default:
		panic("unknown type")
	}
}

func (t Type) String() string {
	switch t {
	case SmallIntType:
		return "smallint"
	case IntType:
		return "int"
	case BigIntType:
		return "bigint"
	case DictStringType:
		return "text encoding dict"
	case FloatType:
		return "float"
	}
	return "unknown"
}

// IsInteger reports whether values of this type live in the integer domain
// and can therefore be used as perfect hash keys.
func (t Type) IsInteger() bool {
	switch t {
	case SmallIntType, IntType, BigIntType, DictStringType:
		return true
	}
	return false
}

// ObjectID is a unique identifier for a table/column/dictionary in the database.
type ObjectID uint32

const InvalidObjectID ObjectID = 0

// DeviceID identifies one accelerator participating in a query. The host is
// not a device; CPU execution uses DeviceID 0 by convention.
type DeviceID int

func (d DeviceID) String() string {
	return fmt.Sprintf("device(%d)", int(d))
}

// NullBigInt is the inline NULL sentinel for integer columns. Column values are
// widened to int64 on materialization, so one sentinel serves every width.
const NullBigInt int64 = math.MinInt64

// InvalidSlot marks a bucket that holds no row in a hash table.
const InvalidSlot int32 = -1

// MaxHashEntries is the largest bucket count a join hash table may have. Slot
// values are int32 row indices, so a larger table cannot be addressed.
const MaxHashEntries int64 = math.MaxInt32
