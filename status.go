package bolt

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a Connection
type Status int

const (
	// Disconnected connections have no transport
	Disconnected Status = iota
	// Connected connections have a transport but no authenticated session yet
	Connected
	// Ready connections accept requests
	Ready
	// Failed connections received a FAILURE and need a reset before reuse
	Failed
	// Defunct connections hit an unrecoverable error and are never reused
	Defunct
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connected:
		return "CONNECTED"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	case Defunct:
		return "DEFUNCT"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// ErrorCode classifies the last failure of a Connection or an acquire
type ErrorCode int

const (
	Success ErrorCode = iota
	PoolFull
	ConnectFailed
	HandshakeFailed
	AuthFailed
	TLSFailed
	TimedOut
	TransportError
	ProtocolViolation
	ServerFailure
	PoolClosed
)

var errorCodeNames = map[ErrorCode]string{
	Success:           "success",
	PoolFull:          "pool-full",
	ConnectFailed:     "connect-failed",
	HandshakeFailed:   "handshake-failed",
	AuthFailed:        "auth-failed",
	TLSFailed:         "tls-failed",
	TimedOut:          "timed-out",
	TransportError:    "transport-error",
	ProtocolViolation: "protocol-violation",
	ServerFailure:     "server-failure",
	PoolClosed:        "pool-closed",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error-code(%d)", int(c))
}

// AccessMode tells the connector what the borrower intends to do. A single
// destination connector treats both modes alike; routing layers built on top
// use it to pick a member.
type AccessMode int

const (
	AccessModeWrite AccessMode = iota
	AccessModeRead
)

func (m AccessMode) String() string {
	if m == AccessModeRead {
		return "READ"
	}
	return "WRITE"
}

// ParseAccessMode reads "read"/"r" or "write"/"w", ignoring case
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "r":
		return AccessModeRead, nil
	case "write", "w", "":
		return AccessModeWrite, nil
	default:
		return AccessModeWrite, fmt.Errorf("unknown access mode %q", s)
	}
}

// ConnectionError reports why a Connection or an acquire failed
type ConnectionError struct {
	Code    ErrorCode
	Status  Status
	Context string
	Err     error
}

func (e *ConnectionError) Error() string {
	msg := e.Code.String()
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err carries the given code anywhere in its chain
func IsCode(err error, code ErrorCode) bool {
	cerr, ok := asConnectionError(err)
	return ok && cerr.Code == code
}

func asConnectionError(err error) (*ConnectionError, bool) {
	var cerr *ConnectionError
	if stderrors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}
