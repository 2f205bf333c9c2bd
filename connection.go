package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oxtoacart/bpool"
	"github.com/rs/zerolog"

	"github.com/mindstand/go-bolt-connector/chunking"
	"github.com/mindstand/go-bolt-connector/encoding"
	"github.com/mindstand/go-bolt-connector/errors"
	"github.com/mindstand/go-bolt-connector/structures"
	"github.com/mindstand/go-bolt-connector/structures/messages"
	"github.com/mindstand/go-bolt-connector/telemetry"
)

var (
	magicPreamble     = []byte{0x60, 0x60, 0xB0, 0x17}
	supportedVersions = []byte{
		0x00, 0x00, 0x00, 0x03,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00,
	}
	maxProtocolVersion uint32 = 3
)

// Field-less requests never change, so their bodies are encoded once
var (
	pullAllBody    = mustMarshal(messages.PullAll)
	discardAllBody = mustMarshal(messages.DiscardAll)
	resetBody      = mustMarshal(messages.Reset)
	goodbyeBody    = mustMarshal(messages.Goodbye)
)

func mustMarshal(s structures.Structure) []byte {
	b, err := encoding.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

const receiveBufferSize = 8192

var (
	// ErrNotReady is returned when an operation needs a live session
	ErrNotReady = errors.New("connection is not usable")
	// ErrNoResponse is returned by Fetch when no response is outstanding
	ErrNoResponse = errors.New("no response outstanding")
)

// RequestID identifies a loaded request. Responses carry the id of the
// request they answer.
type RequestID uint64

// ResponseKind tells which message filled the current slot
type ResponseKind int

const (
	ResponseNone ResponseKind = iota
	ResponseRecord
	ResponseSuccess
	ResponseFailure
	ResponseIgnored
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseRecord:
		return "RECORD"
	case ResponseSuccess:
		return "SUCCESS"
	case ResponseFailure:
		return "FAILURE"
	case ResponseIgnored:
		return "IGNORED"
	default:
		return "NONE"
	}
}

// Response is one message received from the server
type Response struct {
	Request  RequestID
	Kind     ResponseKind
	Fields   []interface{}
	Metadata map[string]interface{}
	// Raw is the logical message body as received
	Raw []byte
}

// IsSummary reports whether the response ends its request
func (r *Response) IsSummary() bool {
	return r.Kind == ResponseSuccess || r.Kind == ResponseFailure || r.Kind == ResponseIgnored
}

// Clone copies the response so it survives the next Fetch
func (r *Response) Clone() Response {
	out := *r
	out.Raw = append([]byte(nil), r.Raw...)
	if r.Fields != nil {
		out.Fields = append([]interface{}(nil), r.Fields...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ConnectionMetrics are counted over the life of a connection
type ConnectionMetrics struct {
	OpenedAt      time.Time
	BytesSent     int64
	BytesReceived int64
	Requests      uint64
}

// Connection is one authenticated session with a server.
//
// Connection objects ARE NOT THREAD SAFE. A connection belongs to whoever
// acquired it until it is released.
//
// Requests are loaded into the outgoing buffer, sent together by Transmit,
// and their responses consumed one at a time by Fetch. The response last
// fetched sits in a single slot returned by Current and is overwritten by
// the next Fetch.
type Connection struct {
	id        string
	cfg       *Config
	transport Transport
	recorder  *Recorder
	logger    zerolog.Logger
	telemetry telemetry.Collector
	onError   ErrorHandler

	status       Status
	lastErr      *ConnectionError
	version      uint32
	server       string
	serverConnID string

	outLogical bytes.Buffer
	outBounds  []int
	outWire    *chunking.Chunker
	inWire     *chunking.Dechunker
	readBuf    []byte
	buffers    *bpool.BytePool

	encoder *encoding.Encoder
	run     messages.RunMessage

	nextID   RequestID
	loaded   []RequestID
	inflight []RequestID
	current  Response
	metrics  ConnectionMetrics

	closeOnce sync.Once
}

// ErrorHandler is called when a connection turns FAILED or DEFUNCT
type ErrorHandler func(conn *Connection, err *ConnectionError)

func newConnection(cfg *Config, transport Transport, logger zerolog.Logger, buffers *bpool.BytePool, collector telemetry.Collector, onError ErrorHandler) *Connection {
	c := &Connection{
		id:        uuid.NewString(),
		cfg:       cfg,
		transport: transport,
		telemetry: collector,
		onError:   onError,
		status:    Disconnected,
		outWire:   chunking.NewChunker(cfg.ChunkSize),
		inWire:    chunking.NewDechunker(cfg.MaxMessageSize),
		buffers:   buffers,
	}
	if c.telemetry == nil {
		c.telemetry = telemetry.Noop()
	}
	if cfg.Trace {
		c.recorder = NewRecorder(transport)
		c.transport = c.recorder
	}
	c.logger = logger.With().Str("conn", c.id).Logger()
	c.encoder = encoding.NewEncoder(&c.outLogical)
	return c
}

// ID is unique per connection and tags its log entries
func (c *Connection) ID() string {
	return c.id
}

// Address is the host:port the connection was opened to
func (c *Connection) Address() string {
	return c.cfg.Address
}

func (c *Connection) Status() Status {
	return c.status
}

// Err returns the error that moved the connection to FAILED or DEFUNCT
func (c *Connection) Err() *ConnectionError {
	return c.lastErr
}

// ProtocolVersion is the version agreed in the handshake, 0 before it
func (c *Connection) ProtocolVersion() uint32 {
	return c.version
}

// Server is the agent string the server sent on authentication
func (c *Connection) Server() string {
	return c.server
}

// ServerConnectionID is the id the server assigned, protocol 3 only
func (c *Connection) ServerConnectionID() string {
	return c.serverConnID
}

// Metrics returns a snapshot of the traffic counters
func (c *Connection) Metrics() ConnectionMetrics {
	return c.metrics
}

func (c *Connection) OpenedAt() time.Time {
	return c.metrics.OpenedAt
}

// Recording returns the transport recording when tracing is configured
func (c *Connection) Recording() *Recorder {
	return c.recorder
}

// LastRequest returns the id of the most recently loaded request
func (c *Connection) LastRequest() RequestID {
	return c.nextID
}

// Outstanding is the number of transmitted requests still awaiting a summary
func (c *Connection) Outstanding() int {
	return len(c.inflight)
}

// Dirty reports whether a borrower left work behind: loaded or unanswered
// requests, unread responses or an unacknowledged failure.
func (c *Connection) Dirty() bool {
	return len(c.loaded) > 0 || len(c.inflight) > 0 || c.inWire.Pending() > 0 || c.status == Failed
}

// Current returns the last fetched response. The next Fetch overwrites it;
// use Clone to keep a copy.
func (c *Connection) Current() *Response {
	return &c.current
}

func (c *Connection) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.logger.Info().Msgf("<%s>", s)
}

// fail makes the connection DEFUNCT and closes it
func (c *Connection) fail(code ErrorCode, err error, format string, args ...interface{}) *ConnectionError {
	cerr := &ConnectionError{Code: code, Status: Defunct, Context: fmt.Sprintf(format, args...), Err: err}
	c.lastErr = cerr
	c.setStatus(Defunct)
	c.logger.Error().Err(err).Str("code", code.String()).Msg(cerr.Context)
	if c.onError != nil {
		c.onError(c, cerr)
	}
	c.Close()
	return cerr
}

func (c *Connection) notReady(op string) error {
	return errors.Wrap(ErrNotReady, "%s on %s connection", op, c.status)
}

// open dials, negotiates a protocol version and authenticates
func (c *Connection) open(ctx context.Context) error {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.transport.Open(ctx, c.cfg.Address); err != nil {
		code := ConnectFailed
		if cerr, ok := asConnectionError(err); ok {
			code = cerr.Code
		}
		return c.fail(code, err, "An error occurred connecting to %s", c.cfg.Address)
	}
	c.metrics.OpenedAt = time.Now()
	c.readBuf = c.getBuffer()
	c.setStatus(Connected)

	// the Bolt handshakes share the connect timeout, later I/O uses the
	// socket timeout
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.transport.SetDeadline(deadline)
	}
	if err := c.handshake(); err != nil {
		return err
	}
	if err := c.authenticate(); err != nil {
		return err
	}
	_ = c.transport.SetDeadline(time.Time{})
	return nil
}

func (c *Connection) getBuffer() []byte {
	if c.buffers != nil {
		return c.buffers.Get()
	}
	return make([]byte, receiveBufferSize)
}

func (c *Connection) handshake() error {
	hello := make([]byte, 0, len(magicPreamble)+len(supportedVersions))
	hello = append(hello, magicPreamble...)
	hello = append(hello, supportedVersions...)
	if err := c.send(hello); err != nil {
		return c.fail(netErrorCode(err, HandshakeFailed), err, "An error occurred writing magic preamble")
	}

	var agreed [4]byte
	if err := c.receiveFull(agreed[:]); err != nil {
		return c.fail(netErrorCode(err, HandshakeFailed), err, "An error occurred reading server version")
	}

	c.version = binary.BigEndian.Uint32(agreed[:])
	switch {
	case c.version == 0:
		return c.fail(HandshakeFailed, nil, "No version supported from server")
	case c.version > maxProtocolVersion:
		return c.fail(HandshakeFailed, nil, "Server chose protocol version %d which was not offered", c.version)
	}
	c.logger.Debug().Uint32("version", c.version).Msg("protocol version agreed")
	return nil
}

func (c *Connection) authenticate() error {
	var msg structures.Structure
	if c.version >= 3 {
		msg = messages.NewHelloMessage(c.cfg.UserAgent, c.cfg.Auth)
	} else {
		msg = messages.NewInitMessage(c.cfg.UserAgent, c.cfg.Auth)
	}
	if _, err := c.load(msg); err != nil {
		return c.fail(ProtocolViolation, err, "An error occurred encoding the authentication request")
	}
	if err := c.Transmit(); err != nil {
		return err
	}
	if err := c.fetchNext(); err != nil {
		return err
	}

	switch c.current.Kind {
	case ResponseSuccess:
		c.server, _ = c.current.Metadata["server"].(string)
		c.serverConnID, _ = c.current.Metadata["connection_id"].(string)
		c.setStatus(Ready)
		c.logger.Info().Str("server", c.server).Msg("Successfully initiated Bolt connection")
		return nil
	case ResponseFailure:
		failure := messages.NewFailureMessage(c.current.Metadata)
		return c.fail(AuthFailed, nil, "Got a failure message when initializing connection: %s", failure)
	default:
		return c.fail(ProtocolViolation, nil, "Got an unexpected %s when initializing connection", c.current.Kind)
	}
}

func (c *Connection) send(p []byte) error {
	if err := c.transport.Send(p); err != nil {
		return err
	}
	c.metrics.BytesSent += int64(len(p))
	c.telemetry.AddBytes(c.cfg.Address, "sent", len(p))
	if e := c.logger.Trace(); e.Enabled() {
		e.Msgf("Wrote %d bytes to stream:\n\n%s", len(p), SprintByteHex(p))
	}
	return nil
}

func (c *Connection) receive(p []byte) (int, error) {
	n, err := c.transport.Receive(p)
	if n > 0 {
		c.metrics.BytesReceived += int64(n)
		c.telemetry.AddBytes(c.cfg.Address, "received", n)
		if e := c.logger.Trace(); e.Enabled() {
			e.Msgf("Read %d bytes from stream:\n\n%s", n, SprintByteHex(p[:n]))
		}
	}
	return n, err
}

func (c *Connection) receiveFull(p []byte) error {
	for read := 0; read < len(p); {
		n, err := c.receive(p[read:])
		read += n
		if err != nil {
			if stderrors.Is(err, io.EOF) && read < len(p) {
				return io.ErrUnexpectedEOF
			}
			if read < len(p) {
				return err
			}
		}
	}
	return nil
}

// LoadRun queues a RUN for statement with its parameters
func (c *Connection) LoadRun(statement string, params map[string]interface{}) (RequestID, error) {
	if c.version >= 3 {
		c.run = messages.NewRunMessageV3(statement, params, nil)
	} else {
		c.run = messages.NewRunMessage(statement, params)
	}
	return c.Load(c.run)
}

// LoadPullAll queues a PULL_ALL for the results of the preceding RUN
func (c *Connection) LoadPullAll() (RequestID, error) {
	return c.loadBody(pullAllBody, false)
}

// LoadDiscardAll queues a DISCARD_ALL for the results of the preceding RUN
func (c *Connection) LoadDiscardAll() (RequestID, error) {
	return c.loadBody(discardAllBody, false)
}

// LoadReset queues a RESET, which clears a failure and anything pending
func (c *Connection) LoadReset() (RequestID, error) {
	return c.loadBody(resetBody, true)
}

// Load queues any request message. Nothing is sent until Transmit.
// Only RESET and ACK_FAILURE may be queued on a FAILED connection.
func (c *Connection) Load(msg structures.Structure) (RequestID, error) {
	if !c.canLoad(clearsFailure(msg.Signature())) {
		return 0, c.notReady("load")
	}
	return c.load(msg)
}

func clearsFailure(signature int) bool {
	return signature == messages.ResetMessageSignature || signature == messages.AckFailureMessageSignature
}

func (c *Connection) canLoad(recovery bool) bool {
	return c.status == Ready || (recovery && c.status == Failed)
}

func (c *Connection) load(msg structures.Structure) (RequestID, error) {
	start := c.outLogical.Len()
	if err := c.encoder.Encode(msg); err != nil {
		c.outLogical.Truncate(start)
		return 0, errors.Wrap(err, "An error occurred encoding request %#x", msg.Signature())
	}
	return c.queued(), nil
}

func (c *Connection) loadBody(body []byte, recovery bool) (RequestID, error) {
	if !c.canLoad(recovery) {
		return 0, c.notReady("load")
	}
	c.outLogical.Write(body)
	return c.queued(), nil
}

func (c *Connection) queued() RequestID {
	c.outBounds = append(c.outBounds, c.outLogical.Len())
	c.nextID++
	c.loaded = append(c.loaded, c.nextID)
	return c.nextID
}

func (c *Connection) discardLoaded() {
	c.outLogical.Reset()
	c.outBounds = c.outBounds[:0]
	c.loaded = c.loaded[:0]
	c.outWire.Reset()
}

// Transmit chunks every loaded request and sends them in one write
func (c *Connection) Transmit() error {
	if len(c.loaded) == 0 {
		return nil
	}
	if c.status == Disconnected || c.status == Defunct {
		return c.notReady("transmit")
	}

	body := c.outLogical.Bytes()
	start := 0
	for _, end := range c.outBounds {
		if err := c.outWire.AppendMessage(body[start:end]); err != nil {
			c.discardLoaded()
			return c.fail(ProtocolViolation, err, "An error occurred framing request")
		}
		start = end
	}

	if err := c.send(c.outWire.Bytes()); err != nil {
		return c.fail(netErrorCode(err, TransportError), err, "An error occurred writing %d requests to stream", len(c.loaded))
	}

	c.metrics.Requests += uint64(len(c.loaded))
	c.inflight = append(c.inflight, c.loaded...)
	c.discardLoaded()
	return nil
}

// Receive blocks until at least one complete response is buffered
func (c *Connection) Receive() error {
	if c.status == Disconnected || c.status == Defunct {
		return c.notReady("receive")
	}
	for c.inWire.Pending() == 0 {
		n, err := c.receive(c.readBuf)
		if n > 0 {
			if _, derr := c.inWire.Write(c.readBuf[:n]); derr != nil {
				return c.fail(ProtocolViolation, derr, "An error occurred reassembling response")
			}
		}
		if err != nil {
			if c.inWire.Pending() > 0 {
				// surface the error on the next read
				return nil
			}
			if stderrors.Is(err, io.EOF) {
				return c.fail(TransportError, err, "Server closed the connection (end of transmission)")
			}
			return c.fail(netErrorCode(err, TransportError), err, "An error occurred reading from stream")
		}
	}
	return nil
}

// fetchNext pops one response into the current slot without changing status
func (c *Connection) fetchNext() error {
	if c.inWire.Pending() == 0 {
		if len(c.inflight) == 0 {
			return ErrNoResponse
		}
		if err := c.Receive(); err != nil {
			return err
		}
	}
	raw, _ := c.inWire.Next()

	v, err := encoding.Unmarshal(raw)
	if err != nil {
		return c.fail(ProtocolViolation, err, "An error occurred decoding response")
	}
	if len(c.inflight) == 0 {
		return c.fail(ProtocolViolation, nil, "Unsolicited %T from server", v)
	}

	c.current = Response{Request: c.inflight[0], Raw: raw}
	switch m := v.(type) {
	case messages.RecordMessage:
		c.current.Kind = ResponseRecord
		c.current.Fields = m.Fields
		return nil
	case messages.SuccessMessage:
		c.current.Kind = ResponseSuccess
		c.current.Metadata = m.Metadata
	case messages.FailureMessage:
		c.current.Kind = ResponseFailure
		c.current.Metadata = m.Metadata
	case messages.IgnoredMessage:
		c.current.Kind = ResponseIgnored
	default:
		return c.fail(ProtocolViolation, nil, "Unrecognized response from the server: %#v", v)
	}

	c.inflight[0] = 0
	c.inflight = c.inflight[1:]
	return nil
}

// Fetch moves the next response into the current slot, receiving from the
// server when none is buffered. SUCCESS makes the connection READY, FAILURE
// makes it FAILED; a FAILURE is not returned as an error. more reports
// whether responses are still outstanding.
func (c *Connection) Fetch() (more bool, err error) {
	if err := c.fetchNext(); err != nil {
		return false, err
	}

	switch c.current.Kind {
	case ResponseSuccess:
		c.setStatus(Ready)
	case ResponseFailure:
		failure := messages.NewFailureMessage(c.current.Metadata)
		c.lastErr = &ConnectionError{Code: ServerFailure, Status: Failed, Context: failure.String()}
		c.setStatus(Failed)
		c.logger.Warn().Str("code", failure.Code()).Msg(failure.Message())
		if c.onError != nil {
			c.onError(c, c.lastErr)
		}
	}
	return len(c.inflight) > 0, nil
}

// FetchSummary fetches up to and including the next summary and returns
// the number of records skipped on the way
func (c *Connection) FetchSummary() (records int, err error) {
	for {
		if _, err := c.Fetch(); err != nil {
			return records, err
		}
		if c.current.IsSummary() {
			return records, nil
		}
		records++
	}
}

// Reset returns a connection a borrower left dirty to READY. Requests never
// transmitted are dropped, every outstanding response is drained and a
// failure is cleared with RESET. Any error on the way leaves it DEFUNCT.
func (c *Connection) Reset() error {
	if c.status != Ready && c.status != Failed {
		return c.notReady("reset")
	}
	c.discardLoaded()

	if err := c.drain(); err != nil {
		return err
	}
	if c.status == Failed {
		if _, err := c.LoadReset(); err != nil {
			return err
		}
		if err := c.Transmit(); err != nil {
			return err
		}
		if err := c.drain(); err != nil {
			return err
		}
	}

	if c.status != Ready || c.inWire.Pending() > 0 {
		return c.fail(ProtocolViolation, nil, "Connection is %s with %d unread responses after reset", c.status, c.inWire.Pending())
	}
	c.lastErr = nil
	return nil
}

func (c *Connection) drain() error {
	for len(c.inflight) > 0 {
		if _, err := c.Fetch(); err != nil {
			if c.status != Defunct {
				return c.fail(ProtocolViolation, err, "An error occurred draining responses")
			}
			return err
		}
	}
	return nil
}

// Close ends the session. It is safe to call more than once; only the first
// call touches the transport.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.version >= 3 && (c.status == Ready || c.status == Failed) {
			if wire, encErr := chunking.Encode(goodbyeBody, 0); encErr == nil {
				_ = c.transport.Send(wire)
			}
		}

		err = c.transport.Close()
		if err != nil {
			c.logger.Error().Err(err).Msg("An error occurred closing the connection")
		}

		c.discardLoaded()
		c.inWire.Reset()
		c.inflight = nil
		if c.buffers != nil && c.readBuf != nil {
			c.buffers.Put(c.readBuf)
		}
		c.readBuf = nil

		if c.status != Defunct {
			c.setStatus(Disconnected)
		}
	})
	return err
}
