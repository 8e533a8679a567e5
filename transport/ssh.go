package transport

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// SSHSpec describes an SSH-tunnelled TCP transport: an SSH connection to
// sshAddr, from which a channel is opened to remoteHost:remotePort (the
// adapter's listening socket on the far side). localRoot/remoteRoot, when
// both non-empty, enable path rewriting of source.path fields so Session and
// Client never need to know whether they are talking to a local or remote
// adapter.
type SSHSpec struct {
	SSHAddress     string
	ClientConfig   *ssh.ClientConfig
	RemoteHost     string
	RemotePort     int
	LocalRoot      string
	RemoteRoot     string
	ConnectTimeout time.Duration
}

type sshTransport struct {
	base
	spec SSHSpec

	mu        sync.Mutex
	sshClient *ssh.Client
	channel   net.Conn
}

// NewSSH returns a non-started Transport that proxies framed DAP traffic
// through an SSH channel to spec.RemoteHost:spec.RemotePort.
func NewSSH(spec SSHSpec, log logrus.FieldLogger) Transport {
	return &sshTransport{base: newBase(log), spec: spec}
}

func (t *sshTransport) Connect(ctx context.Context) error {
	if st := t.State(); st == Connected || st == Connecting {
		return nil
	}
	t.setState(Connecting)

	timeout := t.spec.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	type dialResult struct {
		client *ssh.Client
		conn   net.Conn
		err    error
	}
	resCh := make(chan dialResult, 1)

	go func() {
		cfg := *t.spec.ClientConfig
		if cfg.Timeout == 0 {
			cfg.Timeout = timeout
		}
		client, err := ssh.Dial("tcp", t.spec.SSHAddress, &cfg)
		if err != nil {
			resCh <- dialResult{err: errors.Wrap(err, "transport: ssh dial failed")}
			return
		}
		remote := net.JoinHostPort(t.spec.RemoteHost, strconv.Itoa(t.spec.RemotePort))
		conn, err := client.Dial("tcp", remote)
		if err != nil {
			_ = client.Close()
			resCh <- dialResult{err: errors.Wrap(err, "transport: ssh channel dial failed")}
			return
		}
		resCh <- dialResult{client: client, conn: conn}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			t.setState(Error)
			return res.err
		}
		t.mu.Lock()
		t.sshClient = res.client
		t.channel = res.conn
		t.mu.Unlock()
		t.setState(Connected)
		t.superviseLoops(context.Background(), func() error {
			readLoopFor(&t.base, res.conn)
			return nil
		})
		return nil
	case <-time.After(timeout):
		t.setState(Error)
		return ErrConnectTimeout
	case <-ctx.Done():
		t.setState(Error)
		return ctx.Err()
	}
}

func (t *sshTransport) Send(msg dap.Message) error {
	rewriteSourcePaths(msg, t.spec.LocalRoot, t.spec.RemoteRoot)
	return t.send(t.rawSend, msg)
}

func (t *sshTransport) rawSend(msg dap.Message) error {
	t.mu.Lock()
	conn := t.channel
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

func (t *sshTransport) Disconnect() {
	t.mu.Lock()
	conn := t.channel
	client := t.sshClient
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if client != nil {
		_ = client.Close()
	}
	t.emitClose(0, "")
}

// rewriteSourcePaths rewrites every source.path field it can reach inside
// msg between the local and remote filesystem roots, in the given
// direction (from -> to). It is applied on outbound messages (local ->
// remote) by Send; inbound rewriting (remote -> local) is RewriteInbound,
// applied by the OnMessage decorator from NewInboundRewriter that
// adaptermanager.CreateSSHTransport wraps around the SSH transport.
func rewriteSourcePaths(msg dap.Message, localRoot, remoteRoot string) {
	if localRoot == "" || remoteRoot == "" {
		return
	}
	rewriteSource(msg, func(p string) string {
		return rewriteRoot(p, localRoot, remoteRoot)
	})
}

// RewriteInbound rewrites source.path fields on a message received from the
// remote adapter, mapping remoteRoot-prefixed paths back to localRoot. The
// decorator returned by NewInboundRewriter calls it for every inbound
// message.
func RewriteInbound(msg dap.Message, localRoot, remoteRoot string) {
	if localRoot == "" || remoteRoot == "" {
		return
	}
	rewriteSource(msg, func(p string) string {
		return rewriteRoot(p, remoteRoot, localRoot)
	})
}

func rewriteRoot(path, from, to string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, from) {
		return to + strings.TrimPrefix(path, from)
	}
	return path
}

// rewriteSource mutates the Source.Path fields reachable from common
// request/response/event argument and body shapes. DAP's source.path shows
// up in a handful of well-known places; this covers the ones the broker
// itself constructs or reads (setBreakpoints and source requests,
// breakpoints, stack frames, and breakpoint/output/loadedSource events with
// an attached source).
func rewriteSource(msg dap.Message, fn func(string) string) {
	switch m := msg.(type) {
	case *dap.SetBreakpointsRequest:
		m.Arguments.Source.Path = fn(m.Arguments.Source.Path)
	case *dap.SetBreakpointsResponse:
		for i := range m.Body.Breakpoints {
			if src := m.Body.Breakpoints[i].Source; src != nil {
				src.Path = fn(src.Path)
			}
		}
	case *dap.SourceRequest:
		if m.Arguments.Source != nil {
			m.Arguments.Source.Path = fn(m.Arguments.Source.Path)
		}
	case *dap.BreakpointEvent:
		if m.Body.Breakpoint.Source != nil {
			m.Body.Breakpoint.Source.Path = fn(m.Body.Breakpoint.Source.Path)
		}
	case *dap.StackTraceResponse:
		for i := range m.Body.StackFrames {
			if src := m.Body.StackFrames[i].Source; src != nil {
				src.Path = fn(src.Path)
			}
		}
	case *dap.OutputEvent:
		if m.Body.Source != nil {
			m.Body.Source.Path = fn(m.Body.Source.Path)
		}
	case *dap.LoadedSourceEvent:
		m.Body.Source.Path = fn(m.Body.Source.Path)
	}
}
