package bolt

// AcquireResult is what Connector.Acquire hands back. On success Connection
// is owned by the caller until it is passed to Release; otherwise Connection
// is nil and Code tells why.
type AcquireResult struct {
	Connection *Connection
	Status     Status
	Code       ErrorCode
	Context    string

	err error
}

// Err returns nil on success, otherwise the error behind Code
func (r AcquireResult) Err() error {
	if r.Code == Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return &ConnectionError{Code: r.Code, Status: r.Status, Context: r.Context}
}

// OK reports whether a connection was acquired
func (r AcquireResult) OK() bool {
	return r.Code == Success && r.Connection != nil
}
