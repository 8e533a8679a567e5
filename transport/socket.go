package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SocketSpec describes the remote endpoint for a plain TCP transport.
type SocketSpec struct {
	Address        string // host:port
	ConnectTimeout time.Duration
}

// socketTransport dials a TCP endpoint and frames DAP messages over it.
type socketTransport struct {
	base
	spec SocketSpec

	mu   sync.Mutex
	conn net.Conn
}

// NewSocket returns a non-started Transport for a TCP endpoint.
func NewSocket(spec SocketSpec, log logrus.FieldLogger) Transport {
	return &socketTransport{base: newBase(log), spec: spec}
}

func (t *socketTransport) Connect(ctx context.Context) error {
	if st := t.State(); st == Connected || st == Connecting {
		return nil
	}
	t.setState(Connecting)

	timeout := t.spec.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", t.spec.Address)
	if err != nil {
		t.setState(Error)
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return errors.Wrap(err, "transport: dial failed")
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(Connected)

	t.superviseLoops(context.Background(), func() error {
		t.readLoop(conn)
		return nil
	})
	return nil
}

func (t *socketTransport) readLoop(conn net.Conn) {
	readLoopFor(&t.base, conn)
}

func readLoopFor(b *base, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := b.feed(buf[:n]); ferr != nil {
				_ = conn.Close()
				b.emitClose(0, "")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.emitError(errors.Wrap(err, "transport: read failed"))
			}
			b.emitClose(0, "")
			return
		}
	}
}

func (t *socketTransport) Send(msg dap.Message) error {
	return t.send(t.rawSend, msg)
}

func (t *socketTransport) rawSend(msg dap.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	framed, err := encodeToBytesOrNil(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(framed)
	return err
}

func (t *socketTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.emitClose(0, "")
}
