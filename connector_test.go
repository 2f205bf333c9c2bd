package bolt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxtoacart/bpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCollector struct {
	mu       sync.Mutex
	acquires map[string]int
	opened   int
	closed   int
	inUse    int
	idle     int
	bytes    map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{acquires: map[string]int{}, bytes: map[string]int{}}
}

func (r *recordingCollector) IncAcquire(_, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquires[result]++
}

func (r *recordingCollector) IncConnectionOpened(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
}

func (r *recordingCollector) IncConnectionClosed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recordingCollector) SetConnections(_ string, inUse, idle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse, r.idle = inUse, idle
}

func (r *recordingCollector) AddBytes(_, direction string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes[direction] += n
}

func newTestConnector(t *testing.T, cfg Config, opts ...Option) *Connector {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	connector, err := NewConnector(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(connector.Destroy)
	return connector
}

func acquire(t *testing.T, connector *Connector) *Connection {
	t.Helper()
	result := connector.Acquire(AccessModeWrite)
	require.NoError(t, result.Err())
	require.True(t, result.OK())
	require.Equal(t, Ready, result.Status)
	return result.Connection
}

func TestNewConnector_InvalidConfig(t *testing.T) {
	_, err := NewConnector(Config{})
	require.Error(t, err)

	_, err = NewConnector(Config{Address: "localhost:7687"}, WithTransportFactory(nil))
	require.Error(t, err)
}

func TestConnector_PoolFull(t *testing.T) {
	server := newFakeServer(t)
	cfg := server.Config()
	cfg.MaxPoolSize = 3
	connector := newTestConnector(t, cfg)

	var conns []*Connection
	for i := 0; i < cfg.MaxPoolSize; i++ {
		conns = append(conns, acquire(t, connector))
	}
	assert.Equal(t, 3, connector.InUse())

	result := connector.Acquire(AccessModeRead)
	assert.Equal(t, PoolFull, result.Code)
	assert.Nil(t, result.Connection)
	assert.False(t, result.OK())
	assert.True(t, IsCode(result.Err(), PoolFull))

	connector.Release(conns[0])
	assert.Same(t, conns[0], acquire(t, connector))
	assert.Equal(t, int32(3), server.accepted.Load())
}

func TestConnector_ReusesConnection(t *testing.T) {
	server := newFakeServer(t)
	connector := newTestConnector(t, server.Config())

	first := acquire(t, connector)
	id := first.ID()
	connector.Release(first)
	assert.Equal(t, 1, connector.Idle())
	assert.Zero(t, connector.InUse())

	second := acquire(t, connector)
	assert.Same(t, first, second)
	assert.Equal(t, id, second.ID())
	assert.Equal(t, int32(1), server.accepted.Load())
}

func TestConnector_ResetsAbandonedExchange(t *testing.T) {
	server := newFakeServer(t)
	connector := newTestConnector(t, server.Config())

	conn := acquire(t, connector)
	_, err := conn.LoadRun("RETURN 1", nil)
	require.NoError(t, err)
	_, err = conn.LoadPullAll()
	require.NoError(t, err)
	require.NoError(t, conn.Transmit())
	require.True(t, conn.Dirty())
	connector.Release(conn)

	again := acquire(t, connector)
	assert.Same(t, conn, again)
	assert.Equal(t, Ready, again.Status())
	assert.False(t, again.Dirty())
	assert.Zero(t, again.Outstanding())
	assert.Len(t, runQuery(t, again, "RETURN 1"), 2)
	assert.Equal(t, int32(1), server.accepted.Load())
}

func TestConnector_DirtyResetFailureOpensFresh(t *testing.T) {
	server := newFakeServer(t)
	cfg := server.Config()
	cfg.MaxPoolSize = 1
	connector := newTestConnector(t, cfg)

	conn := acquire(t, connector)
	_, err := conn.LoadRun(closeStatement, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Transmit())
	connector.Release(conn)
	assert.Equal(t, 1, connector.Idle())

	fresh := acquire(t, connector)
	assert.NotSame(t, conn, fresh)
	assert.Equal(t, Ready, fresh.Status())
	assert.Equal(t, Defunct, conn.Status())
	assert.Equal(t, int32(2), server.accepted.Load())
	assert.Len(t, runQuery(t, fresh, "RETURN 1"), 2)
	connector.Release(fresh)
}

func TestConnector_ResetsFailedOnRelease(t *testing.T) {
	server := newFakeServer(t)
	var failures atomic.Int32
	connector := newTestConnector(t, server.Config(), WithErrorHandler(func(_ *Connection, err *ConnectionError) {
		if err.Code == ServerFailure {
			failures.Add(1)
		}
	}))

	conn := acquire(t, connector)
	_, err := conn.LoadRun(failStatement, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Transmit())
	_, err = conn.FetchSummary()
	require.NoError(t, err)
	require.Equal(t, Failed, conn.Status())

	connector.Release(conn)
	assert.Equal(t, Ready, conn.Status())
	assert.Equal(t, int32(1), server.resets.Load())
	assert.Equal(t, int32(1), failures.Load())

	assert.Same(t, conn, acquire(t, connector))
}

func TestConnector_DiscardsDefunct(t *testing.T) {
	server := newFakeServer(t)
	collector := newRecordingCollector()
	connector := newTestConnector(t, server.Config(), WithTelemetry(collector))

	conn := acquire(t, connector)
	_, err := conn.LoadRun(garbageStatement, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Transmit())
	_, err = conn.Fetch()
	require.Error(t, err)
	require.Equal(t, Defunct, conn.Status())

	connector.Release(conn)
	assert.Zero(t, connector.Idle())

	fresh := acquire(t, connector)
	assert.NotSame(t, conn, fresh)
	assert.Equal(t, int32(2), server.accepted.Load())

	collector.mu.Lock()
	defer collector.mu.Unlock()
	assert.Equal(t, 2, collector.acquires["success"])
	assert.Equal(t, 2, collector.opened)
	assert.Equal(t, 1, collector.closed)
	assert.Positive(t, collector.bytes["sent"])
	assert.Positive(t, collector.bytes["received"])
}

func TestConnector_ReleaseIsIdempotent(t *testing.T) {
	server := newFakeServer(t)
	connector := newTestConnector(t, server.Config())

	connector.Release(nil)

	conn := acquire(t, connector)
	connector.Release(conn)
	connector.Release(conn)
	assert.Equal(t, 1, connector.Idle())

	// a connection from elsewhere is not ours to take
	other, err := openTestConnection(t, server.Config())
	require.NoError(t, err)
	defer other.Close()
	connector.Release(other)
	assert.Equal(t, 1, connector.Idle())
	assert.Equal(t, Ready, other.Status())
}

func TestConnector_AuthFailure(t *testing.T) {
	server := newFakeServer(t)
	cfg := server.Config()
	cfg.Auth = BasicAuth("neo4j", wrongPassword, "")
	cfg.MaxPoolSize = 1
	connector := newTestConnector(t, cfg)

	for i := 0; i < 3; i++ {
		result := connector.Acquire(AccessModeWrite)
		assert.Equal(t, AuthFailed, result.Code)
		assert.Equal(t, Defunct, result.Status)
		assert.Nil(t, result.Connection)
		assert.True(t, IsCode(result.Err(), AuthFailed))
	}
	assert.Zero(t, connector.InUse())
	assert.Zero(t, connector.Idle())
}

func TestConnector_ConnectFailure(t *testing.T) {
	connector := newTestConnector(t, Config{Address: "127.0.0.1:1", ConnectTimeout: time.Second})

	result := connector.Acquire(AccessModeWrite)
	assert.Contains(t, []ErrorCode{ConnectFailed, TimedOut}, result.Code)
	assert.Nil(t, result.Connection)
}

func TestConnector_AcquireCancelled(t *testing.T) {
	server := newFakeServer(t)
	connector := newTestConnector(t, server.Config())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := connector.AcquireContext(ctx, AccessModeRead)
	assert.Equal(t, TimedOut, result.Code)
	assert.Nil(t, result.Connection)
	assert.True(t, IsCode(result.Err(), TimedOut))
	assert.Zero(t, connector.InUse())

	acquire(t, connector)
}

func TestConnector_MaxConnectionLifetime(t *testing.T) {
	server := newFakeServer(t)
	cfg := server.Config()
	cfg.MaxConnectionLifetime = 50 * time.Millisecond
	connector := newTestConnector(t, cfg)

	conn := acquire(t, connector)
	connector.Release(conn)
	time.Sleep(100 * time.Millisecond)

	fresh := acquire(t, connector)
	assert.NotSame(t, conn, fresh)
	assert.Equal(t, Disconnected, conn.Status())
	assert.Equal(t, int32(2), server.accepted.Load())
}

func TestConnector_DestroyClosesEveryConnectionOnce(t *testing.T) {
	server := newFakeServer(t)
	factory := &countingFactory{}
	connector := newTestConnector(t, server.Config(), WithTransportFactory(factory.New))

	a := acquire(t, connector)
	b := acquire(t, connector)
	c := acquire(t, connector)
	connector.Release(a)
	connector.Release(b)

	connector.Destroy()
	connector.Destroy()
	connector.Release(c)

	transports := factory.All()
	require.Len(t, transports, 3)
	for _, tr := range transports {
		assert.Equal(t, int32(1), tr.opens.Load())
		assert.Equal(t, int32(1), tr.closes.Load())
	}
	for _, conn := range []*Connection{a, b, c} {
		assert.Equal(t, Disconnected, conn.Status())
	}
	server.waitClosed(3)

	result := connector.Acquire(AccessModeWrite)
	assert.Equal(t, PoolClosed, result.Code)
	assert.Nil(t, result.Connection)
}

func TestConnector_ReleaseAfterDestroyDoesNotLeak(t *testing.T) {
	server := newFakeServer(t)
	connector := newTestConnector(t, server.Config())

	conn := acquire(t, connector)
	connector.Destroy()
	connector.Release(conn)
	assert.Equal(t, Disconnected, conn.Status())
	assert.Zero(t, connector.InUse())
	server.waitClosed(1)
}

func TestConnector_SharedBufferPool(t *testing.T) {
	server := newFakeServer(t)
	buffers := bpool.NewBytePool(2, receiveBufferSize)
	connector := newTestConnector(t, server.Config(), WithBufferPool(buffers))

	conn := acquire(t, connector)
	assert.Len(t, runQuery(t, conn, "RETURN 1"), 2)
	connector.Release(conn)

	_, err := NewConnector(server.Config(), WithBufferPool(nil))
	assert.Error(t, err)
}

func TestConnector_Concurrent(t *testing.T) {
	server := newFakeServer(t)
	cfg := server.Config()
	cfg.MaxPoolSize = 4
	connector := newTestConnector(t, cfg)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		full      atomic.Int32
		maxInUse  atomic.Int32
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				result := connector.AcquireContext(context.Background(), AccessModeRead)
				if result.Code == PoolFull {
					full.Add(1)
					time.Sleep(time.Millisecond)
					continue
				}
				if !assert.NoError(t, result.Err()) {
					return
				}
				inUse := int32(connector.InUse())
				for {
					seen := maxInUse.Load()
					if inUse <= seen || maxInUse.CompareAndSwap(seen, inUse) {
						break
					}
				}

				conn := result.Connection
				_, err := conn.LoadRun("RETURN 1", nil)
				assert.NoError(t, err)
				_, err = conn.LoadPullAll()
				assert.NoError(t, err)
				assert.NoError(t, conn.Transmit())
				if i%3 != 0 {
					// every third borrower walks away without reading
					_, err = conn.FetchSummary()
					assert.NoError(t, err)
					_, err = conn.FetchSummary()
					assert.NoError(t, err)
				}
				succeeded.Add(1)
				connector.Release(conn)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8*25), succeeded.Load()+full.Load())
	assert.Positive(t, succeeded.Load())
	assert.LessOrEqual(t, maxInUse.Load(), int32(cfg.MaxPoolSize))
	assert.LessOrEqual(t, server.accepted.Load(), int32(cfg.MaxPoolSize))
	assert.Zero(t, connector.InUse())
}
