package bolt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"io"
	"net"
	"time"

	"github.com/mindstand/go-bolt-connector/errors"
)

// Transport is a blocking byte stream to one server, plain or secure
type Transport interface {
	// Open dials address. The context bounds the dial and any TLS handshake.
	Open(ctx context.Context, address string) error
	// Send writes all of p or fails
	Send(p []byte) error
	// Receive reads at least one byte into p, or fails
	Receive(p []byte) (int, error)
	// SetDeadline overrides the per call timeout until called with the zero time
	SetDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// TransportFactory builds the transport for a new connection
type TransportFactory func(cfg *Config) Transport

// NewSocketTransport returns the TCP, optionally TLS, transport described by cfg
func NewSocketTransport(cfg *Config) Transport {
	return &socketTransport{
		secure:    cfg.Transport == TransportSecure,
		trust:     cfg.Trust,
		timeout:   cfg.SocketTimeout,
		keepAlive: 30 * time.Second,
	}
}

type socketTransport struct {
	secure    bool
	trust     *Trust
	timeout   time.Duration
	keepAlive time.Duration
	deadline  time.Time
	conn      net.Conn
}

func (t *socketTransport) Open(ctx context.Context, address string) error {
	dialer := net.Dialer{KeepAlive: t.keepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &ConnectionError{Code: netErrorCode(err, ConnectFailed), Status: Defunct, Context: "dialing " + address, Err: err}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if t.secure {
		host, _, _ := net.SplitHostPort(address)
		tlsConfig, err := buildTLSConfig(host, t.trust)
		if err != nil {
			conn.Close()
			return &ConnectionError{Code: TLSFailed, Status: Defunct, Context: "configuring TLS", Err: err}
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return &ConnectionError{Code: netErrorCode(err, TLSFailed), Status: Defunct, Context: "TLS handshake with " + address, Err: err}
		}
		conn = tlsConn
	}

	t.conn = conn
	return nil
}

func (t *socketTransport) applyDeadline(set func(time.Time) error) error {
	switch {
	case !t.deadline.IsZero():
		return set(t.deadline)
	case t.timeout > 0:
		return set(time.Now().Add(t.timeout))
	default:
		return set(time.Time{})
	}
}

func (t *socketTransport) Send(p []byte) error {
	if t.conn == nil {
		return errors.New("transport is not open")
	}
	if err := t.applyDeadline(t.conn.SetWriteDeadline); err != nil {
		return err
	}
	n, err := t.conn.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return err
}

func (t *socketTransport) Receive(p []byte) (int, error) {
	if t.conn == nil {
		return 0, errors.New("transport is not open")
	}
	if err := t.applyDeadline(t.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	return t.conn.Read(p)
}

func (t *socketTransport) SetDeadline(d time.Time) error {
	t.deadline = d
	return nil
}

func (t *socketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *socketTransport) RemoteAddr() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

// netErrorCode maps timeouts to TimedOut and everything else to fallback
func netErrorCode(err error, fallback ErrorCode) ErrorCode {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return TimedOut
	}
	return fallback
}

func buildTLSConfig(serverName string, trust *Trust) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if trust == nil {
		return cfg, nil
	}

	if len(trust.Certs) > 0 {
		roots, err := x509.SystemCertPool()
		if err != nil || roots == nil {
			roots = x509.NewCertPool()
		}
		if !roots.AppendCertsFromPEM(trust.Certs) {
			return nil, errors.New("no certificates found in trusted PEM data")
		}
		cfg.RootCAs = roots
	}

	switch {
	case trust.SkipVerify:
		cfg.InsecureSkipVerify = true
	case trust.SkipVerifyHostname:
		// the stdlib has no switch for hostname checks alone, so the chain is
		// verified by hand
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainOnly(cfg.RootCAs)
	}
	return cfg, nil
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return errors.Wrap(err, "parsing server certificate %d", i)
			}
			certs[i] = cert
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		return err
	}
}
