package bolt

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mindstand/go-bolt-connector/chunking"
	"github.com/mindstand/go-bolt-connector/encoding"
	"github.com/mindstand/go-bolt-connector/log"
	"github.com/mindstand/go-bolt-connector/structures"
	"github.com/mindstand/go-bolt-connector/structures/messages"
)

// Statements with special meaning to fakeServer
const (
	failStatement    = "FAIL"
	garbageStatement = "GARBAGE"
	closeStatement   = "CLOSE"
	sleepStatement   = "SLEEP"
	wrongPassword    = "wrong"
	fakeServerAgent  = "Neo4j/3.5.0"
)

// fakeServer speaks just enough Bolt to drive a Connection: it answers
// every RUN with the same records, fails on failStatement and ignores
// requests until a RESET or ACK_FAILURE.
type fakeServer struct {
	t        *testing.T
	listener net.Listener
	version  uint32
	records  [][]interface{}
	delay    time.Duration

	accepted  atomic.Int32
	closed    atomic.Int32
	resets    atomic.Int32
	goodbyes  atomic.Int32
	mu        sync.Mutex
	conns     []net.Conn
	userAgent string
	wg        sync.WaitGroup
}

type fakeServerOption func(*fakeServer)

func withProtocolVersion(v uint32) fakeServerOption {
	return func(s *fakeServer) { s.version = v }
}

func withTLS(cert tls.Certificate) fakeServerOption {
	return func(s *fakeServer) {
		s.listener = tls.NewListener(s.listener, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
}

func withDelay(d time.Duration) fakeServerOption {
	return func(s *fakeServer) { s.delay = d }
}

func newFakeServer(t *testing.T, opts ...fakeServerOption) *fakeServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		t:        t,
		listener: l,
		version:  1,
		records: [][]interface{}{
			{int64(1), "one"},
			{int64(2), "two"},
		},
		delay: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) Address() string {
	return s.listener.Addr().String()
}

func (s *fakeServer) Config() Config {
	return Config{
		Address:        s.Address(),
		Auth:           BasicAuth("neo4j", "secret", ""),
		ConnectTimeout: 2 * time.Second,
		SocketTimeout:  2 * time.Second,
	}
}

func (s *fakeServer) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// waitClosed waits until n server side connections have ended
func (s *fakeServer) waitClosed(n int32) {
	s.t.Helper()
	require.Eventually(s.t, func() bool { return s.closed.Load() >= n }, 2*time.Second, 5*time.Millisecond)
}

func (s *fakeServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.closed.Add(1)
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	var hello [20]byte
	if _, err := io.ReadFull(conn, hello[:]); err != nil {
		return
	}
	if !bytes.Equal(hello[:4], magicPreamble) {
		return
	}

	var chosen uint32
	for i := 0; i < 4; i++ {
		v := binary.BigEndian.Uint32(hello[4+4*i:])
		if v != 0 && v <= s.version {
			chosen = v
			break
		}
	}
	var agreed [4]byte
	binary.BigEndian.PutUint32(agreed[:], chosen)
	if _, err := conn.Write(agreed[:]); err != nil || chosen == 0 {
		return
	}

	dechunker := chunking.NewDechunker(0)
	buf := make([]byte, 4096)
	failed := false
	for {
		for dechunker.Pending() == 0 {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, err := dechunker.Write(buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
		raw, _ := dechunker.Next()
		v, err := encoding.Unmarshal(raw)
		if err != nil {
			return
		}
		req, ok := v.(structures.Generic)
		if !ok {
			return
		}

		var replies []structures.Structure
		switch req.Tag {
		case messages.InitMessageSignature:
			token, _ := req.Fields[len(req.Fields)-1].(map[string]interface{})
			if chosen < 3 {
				s.mu.Lock()
				s.userAgent, _ = req.Fields[0].(string)
				s.mu.Unlock()
			} else {
				s.mu.Lock()
				s.userAgent, _ = token["user_agent"].(string)
				s.mu.Unlock()
			}
			if token["credentials"] == wrongPassword {
				s.write(conn, messages.NewFailureMessage(map[string]interface{}{
					"code":    "Neo.ClientError.Security.Unauthorized",
					"message": "The client is unauthorized due to authentication failure.",
				}))
				return
			}
			replies = append(replies, messages.NewSuccessMessage(map[string]interface{}{
				"server":        fakeServerAgent,
				"connection_id": "bolt-1",
			}))
		case messages.GoodbyeMessageSignature:
			s.goodbyes.Add(1)
			return
		case messages.ResetMessageSignature, messages.AckFailureMessageSignature:
			if req.Tag == messages.ResetMessageSignature {
				s.resets.Add(1)
			}
			failed = false
			replies = append(replies, messages.NewSuccessMessage(nil))
		case messages.RunMessageSignature:
			statement, _ := req.Fields[0].(string)
			switch {
			case failed:
				replies = append(replies, messages.IgnoredMessage{})
			case statement == failStatement:
				failed = true
				replies = append(replies, messages.NewFailureMessage(map[string]interface{}{
					"code":    "Neo.ClientError.Statement.SyntaxError",
					"message": "Invalid input 'F'",
				}))
			case statement == garbageStatement:
				s.writeRaw(conn, []byte{0x00, 0x02, 0xC1, 0x01, 0x00, 0x00})
				continue
			case statement == closeStatement:
				return
			case statement == sleepStatement:
				time.Sleep(s.delay)
				replies = append(replies, messages.NewSuccessMessage(map[string]interface{}{"fields": []interface{}{"n", "name"}}))
			default:
				replies = append(replies, messages.NewSuccessMessage(map[string]interface{}{"fields": []interface{}{"n", "name"}}))
			}
		case messages.PullAllMessageSignature:
			if failed {
				replies = append(replies, messages.IgnoredMessage{})
				break
			}
			for _, record := range s.records {
				replies = append(replies, messages.NewRecordMessage(record))
			}
			replies = append(replies, messages.NewSuccessMessage(map[string]interface{}{"type": "r"}))
		case messages.DiscardAllMessageSignature:
			if failed {
				replies = append(replies, messages.IgnoredMessage{})
				break
			}
			replies = append(replies, messages.NewSuccessMessage(nil))
		default:
			return
		}
		s.write(conn, replies...)
	}
}

func (s *fakeServer) write(conn net.Conn, replies ...structures.Structure) {
	chunker := chunking.NewChunker(0)
	for _, reply := range replies {
		body, err := encoding.Marshal(reply)
		if err != nil {
			s.t.Errorf("fake server could not encode %T: %s", reply, err)
			return
		}
		if err := chunker.AppendMessage(body); err != nil {
			s.t.Errorf("fake server could not chunk %T: %s", reply, err)
			return
		}
	}
	s.writeRaw(conn, chunker.Bytes())
}

func (s *fakeServer) writeRaw(conn net.Conn, p []byte) {
	_, _ = conn.Write(p)
}

func (s *fakeServer) UserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgent
}

// countingTransport counts calls made through it to the transport it wraps
type countingTransport struct {
	Transport
	opens  atomic.Int32
	closes atomic.Int32
	sends  atomic.Int32
}

func (t *countingTransport) Open(ctx context.Context, address string) error {
	t.opens.Add(1)
	return t.Transport.Open(ctx, address)
}

func (t *countingTransport) Send(p []byte) error {
	t.sends.Add(1)
	return t.Transport.Send(p)
}

func (t *countingTransport) Close() error {
	t.closes.Add(1)
	return t.Transport.Close()
}

// countingFactory hands out countingTransports and remembers each of them
type countingFactory struct {
	mu         sync.Mutex
	transports []*countingTransport
}

func (f *countingFactory) New(cfg *Config) Transport {
	t := &countingTransport{Transport: NewSocketTransport(cfg)}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t
}

func (f *countingFactory) All() []*countingTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*countingTransport(nil), f.transports...)
}

func openTestConnection(t *testing.T, cfg Config) (*Connection, error) {
	t.Helper()
	cfg = cfg.withDefaults()
	conn := newConnection(&cfg, NewSocketTransport(&cfg), testLogger(), nil, nil, nil)
	return conn, conn.open(context.Background())
}

func testLogger() zerolog.Logger {
	if testing.Verbose() {
		return log.Logger
	}
	return zerolog.Nop()
}
