package bolt

import (
	"github.com/oxtoacart/bpool"
	"github.com/rs/zerolog"

	"github.com/mindstand/go-bolt-connector/errors"
	"github.com/mindstand/go-bolt-connector/telemetry"
)

// Option customizes a Connector
type Option func(*Connector) error

// WithLogger replaces the package logger for the connector and its connections
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connector) error {
		c.logger = logger
		return nil
	}
}

// WithTelemetry reports pool and traffic counters to collector
func WithTelemetry(collector telemetry.Collector) Option {
	return func(c *Connector) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		c.telemetry = collector
		return nil
	}
}

// WithTransportFactory replaces the socket transport, mainly for tests and
// recorded sessions
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *Connector) error {
		if factory == nil {
			return errors.New("transport factory must not be nil")
		}
		c.transportFactory = factory
		return nil
	}
}

// WithErrorHandler is called whenever a connection turns FAILED or DEFUNCT
func WithErrorHandler(handler ErrorHandler) Option {
	return func(c *Connector) error {
		c.errorHandler = handler
		return nil
	}
}

// WithBufferPool shares receive buffers between connectors
func WithBufferPool(buffers *bpool.BytePool) Option {
	return func(c *Connector) error {
		if buffers == nil {
			return errors.New("buffer pool must not be nil")
		}
		c.buffers = buffers
		return nil
	}
}
