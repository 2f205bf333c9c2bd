package bolt

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindstand/go-bolt-connector/errors"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
	assert.Equal(t, "READY", Ready.String())
	assert.Equal(t, "DEFUNCT", Defunct.String())
	assert.Equal(t, "STATUS(42)", Status(42).String())
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "pool-full", PoolFull.String())
	assert.Equal(t, "auth-failed", AuthFailed.String())
	assert.Equal(t, "error-code(99)", ErrorCode(99).String())
}

func TestParseAccessMode(t *testing.T) {
	for in, want := range map[string]AccessMode{
		"read":  AccessModeRead,
		" R ":   AccessModeRead,
		"WRITE": AccessModeWrite,
		"w":     AccessModeWrite,
		"":      AccessModeWrite,
	} {
		got, err := ParseAccessMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAccessMode("routing")
	assert.Error(t, err)
	assert.Equal(t, "READ", AccessModeRead.String())
}

func TestConnectionError(t *testing.T) {
	cerr := &ConnectionError{Code: TransportError, Status: Defunct, Context: "reading", Err: io.EOF}
	assert.Equal(t, "transport-error: reading: EOF", cerr.Error())
	assert.ErrorIs(t, cerr, io.EOF)

	wrapped := errors.Wrap(cerr, "acquiring")
	assert.True(t, IsCode(wrapped, TransportError))
	assert.False(t, IsCode(wrapped, PoolFull))
	assert.False(t, IsCode(io.EOF, TransportError))
	assert.False(t, IsCode(nil, Success))
}

func TestAcquireResultErr(t *testing.T) {
	assert.NoError(t, AcquireResult{Code: Success}.Err())

	err := AcquireResult{Code: PoolFull, Status: Disconnected, Context: "full"}.Err()
	require.Error(t, err)
	assert.True(t, IsCode(err, PoolFull))
}
