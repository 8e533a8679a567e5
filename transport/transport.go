// Package transport implements the byte-stream abstraction the broker uses
// to talk to a debug adapter: a spawned child process over stdio, a plain
// TCP socket, or an SSH-tunnelled TCP socket. All three speak the same
// Content-Length-framed DAP wire format; Transport only owns connection
// lifecycle and raw frame delivery, never protocol semantics.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	dapwire "github.com/zixiao-technologies/logos-sub002/dap"
)

// State is the lifecycle state of a Transport.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send when the transport is not connected.
var ErrNotConnected = errors.New("transport: not connected")

// ErrConnectTimeout is returned by Connect when the connect deadline elapses
// before the transport reaches the Connected state.
var ErrConnectTimeout = errors.New("transport: connect timed out")

// DefaultConnectTimeout is applied when a Transport is not otherwise
// configured with one.
const DefaultConnectTimeout = 10 * time.Second

// Transport is the contract every variant (Stdio, Socket, SSH) implements.
// Callback registration (OnMessage/OnError/OnClose) must happen before
// Connect is called. OnMessage and OnError callbacks are invoked from an
// internal goroutine, never from within Connect/Disconnect/Send themselves;
// OnClose runs at most once, either from an internal goroutine or
// synchronously from within Disconnect.
type Transport interface {
	// Connect establishes the byte stream. Idempotent if already connected.
	Connect(ctx context.Context) error
	// Disconnect closes unconditionally; safe to call in any state.
	Disconnect()
	// Send enqueues a framed message. Fails with ErrNotConnected if the
	// transport is not in the Connected state.
	Send(msg dap.Message) error
	// State reports the current lifecycle state.
	State() State

	// OnMessage registers the callback invoked for every inbound frame.
	OnMessage(func(dap.Message))
	// OnError registers the callback invoked on a fatal transport error.
	OnError(func(error))
	// OnClose registers the callback invoked once the transport has fully
	// closed, with an optional process exit code and signal description
	// (both empty/zero for variants with no process semantics).
	OnClose(func(code int, signal string))
}

// base implements the callback registry, state machine, and frame
// decoding/encoding shared by every Transport variant. Variants embed base
// and supply their own Connect/Disconnect/raw-send.
type base struct {
	mu    sync.RWMutex
	state State

	onMessage func(dap.Message)
	onError   func(error)
	onClose   func(code int, signal string)

	decoder *dapwire.Decoder
	log     logrus.FieldLogger

	closeOnce sync.Once
}

func newBase(log logrus.FieldLogger) base {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return base{
		state:   Disconnected,
		decoder: dapwire.NewDecoder(0),
		log:     log,
	}
}

func (b *base) OnMessage(fn func(dap.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = fn
}

func (b *base) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

func (b *base) OnClose(fn func(code int, signal string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = fn
}

func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *base) isConnected() bool {
	return b.State() == Connected
}

// feed pushes raw bytes read from the underlying stream through the framer
// and dispatches every complete frame to onMessage. A decode error is
// reported to onError and the caller (the variant's read loop) must stop
// reading and close the transport.
func (b *base) feed(p []byte) error {
	frames, err := b.decoder.Feed(p)
	if err != nil {
		b.emitError(dapwire.FormatFrameError(err))
		return err
	}
	for _, body := range frames {
		msg, err := dapwire.DecodeMessage(body)
		if err != nil {
			b.emitError(err)
			return err
		}
		b.emitMessage(msg)
	}
	return nil
}

func (b *base) emitMessage(msg dap.Message) {
	b.mu.RLock()
	fn := b.onMessage
	b.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (b *base) emitError(err error) {
	b.mu.RLock()
	fn := b.onError
	b.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (b *base) emitClose(code int, signal string) {
	b.closeOnce.Do(func() {
		b.setState(Disconnected)
		b.mu.RLock()
		fn := b.onClose
		b.mu.RUnlock()
		if fn != nil {
			fn(code, signal)
		}
	})
}

func (b *base) send(raw func(dap.Message) error, msg dap.Message) error {
	if !b.isConnected() {
		return ErrNotConnected
	}
	return raw(msg)
}

// superviseLoops launches each loop under a shared errgroup.Group: every
// loop is tracked together, and the first non-nil error any of them returns
// is logged once the whole group has unwound. The read loops still report
// their own read and decode errors to onError as they occur (the stdio
// stderr loop's scanner error reaches only this group); the group's job
// is only to notice when the set of goroutines backing a connection has
// fully exited.
func (b *base) superviseLoops(ctx context.Context, loops ...func() error) {
	eg, _ := errgroup.WithContext(ctx)
	for _, loop := range loops {
		eg.Go(loop)
	}
	go func() {
		if err := eg.Wait(); err != nil {
			b.log.WithError(err).Debug("transport loop group exited")
		}
	}()
}

// encodeToBytesOrNil frames msg for writing to a raw byte sink.
func encodeToBytesOrNil(msg dap.Message) ([]byte, error) {
	return dapwire.EncodeMessage(msg)
}
