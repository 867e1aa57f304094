package execution

import (
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/device"
)

// ProbeDescriptor is what generated probe code needs to read one device's
// copy of a join hash table: the buffer handle and how keys map to buckets.
// The helpers below give the reference semantics of the generated code.
type ProbeDescriptor struct {
	// Handle is a device pointer at GPULevel and a host address at CPULevel.
	Handle      int64
	MemoryLevel device.MemoryLevel
	Device      common.DeviceID
	HashType    HashType
	Layout      BucketLayout
	InvalidSlot int32
	// OuterTranslation maps outer dictionary codes to inner codes when the
	// join sides use different dictionaries. Nil otherwise.
	OuterTranslation []int32
}

// EntryCount returns the number of buckets in the device's buffer.
func (d ProbeDescriptor) EntryCount() int64 {
	return d.Layout.EntryCount
}

func (d ProbeDescriptor) ShardCount() int64 {
	return d.Layout.ShardCount
}

func (d ProbeDescriptor) bucket(key int64) (int64, bool) {
	if d.OuterTranslation != nil && key != common.NullBigInt {
		if key < 0 || key >= int64(len(d.OuterTranslation)) {
			return -1, false
		}
		translated := d.OuterTranslation[key]
		if translated == common.InvalidSlot {
			return -1, false
		}
		key = int64(translated)
	}
	if !d.Layout.OwnedBy(key, d.Device) {
		return -1, false
	}
	return d.Layout.Bucket(key)
}

// SlotIsValid reports whether key has at least one match in table.
func SlotIsValid(d ProbeDescriptor, table []int32, key int64) bool {
	switch d.HashType {
	case OneToOne:
		return Slot(d, table, key) != d.InvalidSlot
	case OneToMany:
		_, count := MatchingSet(d, table, key)
		return count > 0
	}
	return false
}

// Slot returns the matching inner row of a OneToOne table, or the invalid
// slot.
func Slot(d ProbeDescriptor, table []int32, key int64) int32 {
	common.Assert(d.HashType == OneToOne, "Slot on a %s table", d.HashType)
	b, ok := d.bucket(key)
	if !ok {
		return d.InvalidSlot
	}
	return table[b]
}

// MatchingSet returns the offset into the payload section and the number of
// matching rows of a OneToMany table. count is 0 when nothing matches.
func MatchingSet(d ProbeDescriptor, table []int32, key int64) (offset, count int32) {
	common.Assert(d.HashType == OneToMany, "MatchingSet on a %s table", d.HashType)
	b, ok := d.bucket(key)
	if !ok {
		return 0, 0
	}
	n := d.Layout.EntryCount
	return table[b], table[n+b]
}

// MatchingRows returns every inner row matching key, in no particular order.
func MatchingRows(d ProbeDescriptor, table []int32, key int64) []int32 {
	if d.HashType == OneToOne {
		if slot := Slot(d, table, key); slot != d.InvalidSlot {
			return []int32{slot}
		}
		return nil
	}
	offset, count := MatchingSet(d, table, key)
	if count == 0 {
		return nil
	}
	payload := table[2*d.Layout.EntryCount:]
	return payload[offset : offset+count]
}
