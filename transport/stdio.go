package transport

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StdioSpec describes how to spawn the adapter's child process.
type StdioSpec struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// ConnectTimeout bounds how long Connect waits for the process to
	// start and its pipes to be wired. Zero selects DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// stdioTransport spawns a child process and frames DAP messages over its
// stdin/stdout. Stderr is captured line-by-line and surfaced as "output"
// events with category "stderr",
type stdioTransport struct {
	base
	spec StdioSpec

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
}

// NewStdio returns a non-started Transport for a spawned child process.
func NewStdio(spec StdioSpec, log logrus.FieldLogger) Transport {
	return &stdioTransport{base: newBase(log), spec: spec}
}

func (t *stdioTransport) Connect(ctx context.Context) error {
	if st := t.State(); st == Connected || st == Connecting {
		return nil
	}
	t.setState(Connecting)

	timeout := t.spec.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runCtx, runCancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, t.spec.Command, t.spec.Args...)
	cmd.Dir = t.spec.Dir
	if len(t.spec.Env) > 0 {
		cmd.Env = t.spec.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		runCancel()
		t.setState(Error)
		return errors.Wrap(err, "transport: failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		runCancel()
		t.setState(Error)
		return errors.Wrap(err, "transport: failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		runCancel()
		t.setState(Error)
		return errors.Wrap(err, "transport: failed to open stderr pipe")
	}

	started := make(chan error, 1)
	go func() {
		started <- cmd.Start()
	}()

	select {
	case err := <-started:
		if err != nil {
			runCancel()
			t.setState(Error)
			return errors.Wrap(err, "transport: failed to start adapter process")
		}
	case <-connectCtx.Done():
		runCancel()
		t.setState(Error)
		return ErrConnectTimeout
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.cancel = runCancel
	t.mu.Unlock()

	t.setState(Connected)

	t.superviseLoops(context.Background(),
		func() error { return t.readLoop(stdout) },
		func() error { return t.stderrLoop(stderr) },
		func() error { return t.waitLoop() },
	)

	return nil
}

func (t *stdioTransport) readLoop(r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := t.feed(buf[:n]); ferr != nil {
				t.Disconnect()
				return ferr
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				werr := errors.Wrap(err, "transport: stdout read failed")
				t.emitError(werr)
				return werr
			}
			return nil
		}
	}
}

func (t *stdioTransport) stderrLoop(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.emitMessage(&dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body: dap.OutputEventBody{
				Category: "stderr",
				Output:   scanner.Text() + "\n",
			},
		})
	}
	return scanner.Err()
}

func (t *stdioTransport) waitLoop() error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil {
		return nil
	}

	err := cmd.Wait()
	code := 0
	signal := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			if exitErr.ProcessState != nil {
				signal = exitErr.String()
			}
		}
	}
	t.emitClose(code, signal)
	return nil
}

func (t *stdioTransport) Send(msg dap.Message) error {
	return t.send(t.rawSend, msg)
}

func (t *stdioTransport) rawSend(msg dap.Message) error {
	t.mu.Lock()
	w := t.stdin
	t.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}

	framed, err := encodeToBytesOrNil(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(framed)
	return err
}

func (t *stdioTransport) Disconnect() {
	t.mu.Lock()
	cancel := t.cancel
	stdin := t.stdin
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cancel != nil {
		cancel()
	}
	t.emitClose(0, "")
}
