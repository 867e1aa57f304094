package common

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestJoinErrorKinds(t *testing.T) {
	assert.True(t, IsUnsupported(NewJoinError(UnsupportedJoinShape, "Cannot join on rowid")))
	assert.True(t, IsCapacity(NewJoinError(TooManyHashEntries, "too many")))
	assert.True(t, IsResourceExhausted(NewJoinError(OutOfDeviceMemory, "oom")))
	assert.True(t, IsResourceExhausted(NewJoinError(FailedToFetchColumn, "fetch")))

	assert.False(t, IsUnsupported(io.EOF))
	assert.False(t, IsCapacity(NewJoinError(NoSuchObjectError, "x")))
}

func TestWrapJoinErrorKeepsCause(t *testing.T) {
	err := WrapJoinError(io.ErrUnexpectedEOF, FailedToFetchColumn, "fragment %d", 3)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	code, ok := CodeOf(errors.Wrap(err, "building join"))
	assert.True(t, ok)
	assert.Equal(t, FailedToFetchColumn, code)
	assert.Contains(t, err.Error(), "fragment 3")
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, int64(0), CeilDiv(0, 4))
	assert.Equal(t, int64(1), CeilDiv(1, 4))
	assert.Equal(t, int64(1), CeilDiv(4, 4))
	assert.Equal(t, int64(2), CeilDiv(5, 4))
	assert.Panics(t, func() { CeilDiv(1, 0) })
}
