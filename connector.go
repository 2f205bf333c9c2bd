package bolt

import (
	"context"
	"sync"
	"time"

	pool "github.com/jolestar/go-commons-pool"
	"github.com/oxtoacart/bpool"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/mindstand/go-bolt-connector/errors"
	"github.com/mindstand/go-bolt-connector/log"
	"github.com/mindstand/go-bolt-connector/telemetry"
)

// receive buffers kept around between connections
const idleBuffers = 64

// Connector is a bounded pool of connections to a single server. It is safe
// for concurrent use.
//
// Connections are opened lazily, up to Config.MaxPoolSize live at once.
// Acquire never waits for a connection to be released: once the pool is
// full it fails with PoolFull and leaves retrying to the caller.
//
// Callers must Release every connection before Destroy. Connections still
// borrowed at that point are closed underneath their borrower.
type Connector struct {
	cfg  Config
	ctx  context.Context
	pool *pool.ObjectPool

	// borrowed connections and when they were handed out
	borrowed *xsync.MapOf[*Connection, time.Time]

	mu     sync.RWMutex
	closed bool

	buffers          *bpool.BytePool
	telemetry        telemetry.Collector
	logger           zerolog.Logger
	transportFactory TransportFactory
	errorHandler     ErrorHandler
}

// NewConnector validates cfg and builds an empty pool. No connection is
// opened until the first Acquire.
func NewConnector(cfg Config, opts ...Option) (*Connector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid connector configuration")
	}

	c := &Connector{
		cfg:              cfg,
		ctx:              context.Background(),
		borrowed:         xsync.NewMapOf[*Connection, time.Time](),
		buffers:          bpool.NewBytePool(idleBuffers, receiveBufferSize),
		telemetry:        telemetry.Noop(),
		logger:           log.With("address", cfg.Address),
		transportFactory: NewSocketTransport,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "applying connector option")
		}
	}

	poolConfig := pool.NewDefaultPoolConfig()
	poolConfig.MaxTotal = cfg.MaxPoolSize
	poolConfig.MaxIdle = cfg.MaxPoolSize
	poolConfig.MinIdle = 0
	poolConfig.LIFO = true
	poolConfig.BlockWhenExhausted = false
	poolConfig.TestOnBorrow = true
	c.pool = pool.NewObjectPool(c.ctx, &connectionFactory{connector: c}, poolConfig)

	c.logger.Debug().Str("config", cfg.String()).Msg("connector created")
	return c, nil
}

// Config returns the configuration with defaults applied
func (c *Connector) Config() Config {
	return c.cfg
}

// Address is the destination every connection of this connector is opened to
func (c *Connector) Address() string {
	return c.cfg.Address
}

func (c *Connector) openConnection(ctx context.Context) (*Connection, error) {
	conn := newConnection(&c.cfg, c.transportFactory(&c.cfg), c.logger, c.buffers, c.telemetry, c.errorHandler)
	if err := conn.open(ctx); err != nil {
		return nil, err
	}
	c.telemetry.IncConnectionOpened(c.cfg.Address)
	return conn, nil
}

// Acquire hands out an idle connection, resetting it first if its last
// borrower left it dirty, or opens a new one while the pool has room.
func (c *Connector) Acquire(mode AccessMode) AcquireResult {
	return c.AcquireContext(context.Background(), mode)
}

// AcquireContext is Acquire with a context bounding any connect it does
func (c *Connector) AcquireContext(ctx context.Context, mode AccessMode) AcquireResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return c.acquired(AcquireResult{Status: Disconnected, Code: PoolClosed, Context: "connector has been destroyed"})
	}

	obj, err := c.pool.BorrowObject(ctx)
	if err != nil {
		code, reason := PoolFull, "all connections are in use"
		if ctx.Err() != nil {
			code, reason = TimedOut, "acquire cancelled"
		} else if cerr, ok := asConnectionError(err); ok {
			return c.acquired(AcquireResult{Status: cerr.Status, Code: cerr.Code, Context: cerr.Context, err: cerr})
		}
		return c.acquired(AcquireResult{Status: Disconnected, Code: code, Context: reason, err: &ConnectionError{Code: code, Status: Disconnected, Context: reason, Err: err}})
	}

	conn := obj.(*Connection)
	c.borrowed.Store(conn, time.Now())
	conn.logger.Debug().Str("mode", mode.String()).Msg("connection acquired")
	return c.acquired(AcquireResult{Connection: conn, Status: conn.Status(), Code: Success})
}

func (c *Connector) acquired(result AcquireResult) AcquireResult {
	c.telemetry.IncAcquire(c.cfg.Address, result.Code.String())
	c.telemetry.SetConnections(c.cfg.Address, c.InUse(), c.Idle())
	if result.Code != Success {
		c.logger.Warn().Str("code", result.Code.String()).Msg(result.Context)
	}
	return result
}

// Release gives a connection back. READY connections go back to the idle
// set, FAILED ones are reset first, anything else is destroyed. Releasing
// nil or a connection that is not currently borrowed does nothing, which
// includes connections Destroy already closed.
func (c *Connector) Release(conn *Connection) {
	if conn == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	since, ok := c.borrowed.LoadAndDelete(conn)
	if !ok {
		return
	}
	logger := conn.logger.With().Dur("held", time.Since(since)).Logger()

	var err error
	switch conn.Status() {
	case Ready, Failed:
		err = c.pool.ReturnObject(c.ctx, conn)
	default:
		logger.Info().Str("status", conn.Status().String()).Msg("discarding released connection")
		err = c.pool.InvalidateObject(c.ctx, conn)
	}
	if err != nil {
		logger.Error().Err(err).Msg("An error occurred releasing connection")
	}
	c.telemetry.SetConnections(c.cfg.Address, c.InUse(), c.Idle())
}

func (c *Connector) closeBorrowed(conn *Connection) {
	if err := conn.Close(); err != nil {
		conn.logger.Error().Err(err).Msg("An error occurred closing borrowed connection")
	}
	c.telemetry.IncConnectionClosed(c.cfg.Address)
}

// Destroy closes every connection and stops the connector. Later calls to
// Acquire fail with PoolClosed. Calling Destroy again does nothing.
func (c *Connector) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	c.pool.Close(c.ctx)
	c.borrowed.Range(func(conn *Connection, _ time.Time) bool {
		c.borrowed.Delete(conn)
		c.closeBorrowed(conn)
		return true
	})
	c.telemetry.SetConnections(c.cfg.Address, 0, 0)
	c.logger.Info().Msg("connector destroyed")
}

// InUse is the number of connections currently borrowed
func (c *Connector) InUse() int {
	return c.borrowed.Size()
}

// Idle is the number of open connections waiting to be acquired
func (c *Connector) Idle() int {
	return c.pool.GetNumIdle()
}
