package bolt

import (
	"context"
	"time"

	pool "github.com/jolestar/go-commons-pool"

	"github.com/mindstand/go-bolt-connector/errors"
)

// connectionFactory opens, checks and closes the members of a Connector's pool
type connectionFactory struct {
	connector *Connector
}

func (f *connectionFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	conn, err := f.connector.openConnection(ctx)
	if err != nil {
		return nil, err
	}
	return pool.NewPooledObject(conn), nil
}

func (f *connectionFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	conn, ok := object.Object.(*Connection)
	if !ok {
		return errors.New("pooled object is %T, not a connection", object.Object)
	}
	f.connector.telemetry.IncConnectionClosed(f.connector.cfg.Address)
	conn.logger.Debug().Str("status", conn.Status().String()).Msg("destroying pooled connection")
	return conn.Close()
}

// ValidateObject runs before an idle connection is handed out. Expired
// connections are refused and dirty ones reset; a refused connection is
// destroyed and the pool tries the next one or opens a new one.
func (f *connectionFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	conn, ok := object.Object.(*Connection)
	if !ok {
		return false
	}

	if lifetime := f.connector.cfg.MaxConnectionLifetime; lifetime > 0 && time.Since(conn.OpenedAt()) > lifetime {
		conn.logger.Info().Dur("lifetime", lifetime).Msg("connection expired")
		return false
	}

	if conn.Dirty() {
		conn.logger.Debug().Int("outstanding", conn.Outstanding()).Msg("resetting dirty connection")
		if err := conn.Reset(); err != nil {
			conn.logger.Warn().Err(err).Msg("reset of dirty connection failed")
			return false
		}
	}
	return conn.Status() == Ready
}

func (f *connectionFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

// PassivateObject runs when a connection is released. A FAILED connection
// gets its reset here; an error makes the pool destroy it.
func (f *connectionFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	conn, ok := object.Object.(*Connection)
	if !ok {
		return errors.New("pooled object is %T, not a connection", object.Object)
	}
	switch conn.Status() {
	case Ready:
		return nil
	case Failed:
		return conn.Reset()
	default:
		return errors.New("connection is %s", conn.Status())
	}
}
