// Package fakeadapter is a test-only, in-process stand-in for a real debug
// adapter: it speaks the same Content-Length-framed DAP wire protocol over a
// TCP loopback socket that transport.NewSocket dials, so the broker's
// Transport/Client/Session stack can be exercised end to end without
// spawning node/dlv/gdb. It is not used by the production broker.
//
// It is a small scripted responder purpose-built for driving integration
// tests, not a general-purpose DAP server.
package fakeadapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
)

// Adapter is a single-connection fake DAP server.
type Adapter struct {
	ln net.Listener

	seq atomic.Int64

	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer

	pending sync.Map // int -> chan dap.ResponseMessage

	// Capabilities is returned verbatim in the initialize response body.
	Capabilities dap.Capabilities

	// OnRequest, if set, is consulted before the built-in handling for a
	// command; returning handled=true suppresses the default response.
	OnRequest func(a *Adapter, req dap.RequestMessage) (resp dap.ResponseMessage, handled bool)
}

// Listen opens a TCP loopback listener and returns an Adapter bound to it.
// Call Addr to get the dial string and Serve to accept and run the
// connection.
func Listen() (*Adapter, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "fakeadapter: listen failed")
	}
	return &Adapter{ln: ln, Capabilities: defaultCapabilities()}, nil
}

func defaultCapabilities() dap.Capabilities {
	return dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsRestartRequest:           true,
		SupportsTerminateRequest:         true,
		SupportsEvaluateForHovers:        true,
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
			{Filter: "uncaught", Label: "Uncaught Exceptions", Default: true},
		},
	}
}

// Addr returns the "host:port" the listener is bound to.
func (a *Adapter) Addr() string {
	return a.ln.Addr().String()
}

// Serve accepts a single connection and processes requests until it closes
// or ctx is cancelled. It returns once the connection is gone.
func (a *Adapter) Serve(ctx context.Context) error {
	conn, err := a.ln.Accept()
	if err != nil {
		return errors.Wrap(err, "fakeadapter: accept failed")
	}

	a.mu.Lock()
	a.conn = conn
	a.w = bufio.NewWriter(conn)
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	rd := bufio.NewReader(conn)
	for {
		msg, err := dap.ReadProtocolMessage(rd)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "fakeadapter: read failed")
		}
		a.dispatch(msg)
	}
}

// Close shuts down the listener and any accepted connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return a.ln.Close()
}

func (a *Adapter) dispatch(msg dap.Message) {
	switch m := msg.(type) {
	case dap.RequestMessage:
		a.dispatchRequest(m)
	case dap.ResponseMessage:
		a.dispatchResponse(m)
	}
}

func (a *Adapter) dispatchResponse(m dap.ResponseMessage) {
	resp := m.GetResponse()
	if v, ok := a.pending.LoadAndDelete(resp.RequestSeq); ok {
		ch := v.(chan dap.ResponseMessage)
		ch <- m
	}
}

// dispatchRequest answers each command from fixed scripted behavior.
func (a *Adapter) dispatchRequest(m dap.RequestMessage) {
	req := m.GetRequest()

	if a.OnRequest != nil {
		if resp, handled := a.OnRequest(a, m); handled {
			a.send(resp)
			return
		}
	}

	switch r := m.(type) {
	case *dap.InitializeRequest:
		a.send(&dap.InitializeResponse{
			Response: a.responseHeader(req, "initialize"),
			Body:     a.Capabilities,
		})
		// Real adapters emit "initialized" asynchronously, after the
		// initialize response has been written.
		a.SendEvent("initialized", nil)
	case *dap.LaunchRequest:
		a.send(&dap.LaunchResponse{Response: a.responseHeader(req, "launch")})
	case *dap.AttachRequest:
		a.send(&dap.AttachResponse{Response: a.responseHeader(req, "attach")})
	case *dap.SetBreakpointsRequest:
		src := r.Arguments.Source
		bps := make([]dap.Breakpoint, len(r.Arguments.Breakpoints))
		for i, sb := range r.Arguments.Breakpoints {
			bps[i] = dap.Breakpoint{Verified: true, Line: sb.Line, Source: &src}
		}
		a.send(&dap.SetBreakpointsResponse{
			Response: a.responseHeader(req, "setBreakpoints"),
			Body:     dap.SetBreakpointsResponseBody{Breakpoints: bps},
		})
	case *dap.SetExceptionBreakpointsRequest:
		a.send(&dap.SetExceptionBreakpointsResponse{Response: a.responseHeader(req, "setExceptionBreakpoints")})
	case *dap.ConfigurationDoneRequest:
		a.send(&dap.ConfigurationDoneResponse{Response: a.responseHeader(req, "configurationDone")})
	case *dap.ContinueRequest:
		a.send(&dap.ContinueResponse{Response: a.responseHeader(req, "continue")})
		a.SendEvent("continued", dap.ContinuedEventBody{ThreadId: r.Arguments.ThreadId, AllThreadsContinued: true})
	case *dap.PauseRequest:
		a.send(&dap.PauseResponse{Response: a.responseHeader(req, "pause")})
	case *dap.NextRequest:
		a.send(&dap.NextResponse{Response: a.responseHeader(req, "next")})
	case *dap.StepInRequest:
		a.send(&dap.StepInResponse{Response: a.responseHeader(req, "stepIn")})
	case *dap.StepOutRequest:
		a.send(&dap.StepOutResponse{Response: a.responseHeader(req, "stepOut")})
	case *dap.RestartRequest:
		a.send(&dap.RestartResponse{Response: a.responseHeader(req, "restart")})
	case *dap.ThreadsRequest:
		a.send(&dap.ThreadsResponse{
			Response: a.responseHeader(req, "threads"),
			Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "main"}}},
		})
	case *dap.StackTraceRequest:
		a.send(&dap.StackTraceResponse{
			Response: a.responseHeader(req, "stackTrace"),
			Body: dap.StackTraceResponseBody{
				StackFrames: []dap.StackFrame{{Id: 1, Name: "top", Line: 1, Column: 1}},
				TotalFrames: 1,
			},
		})
	case *dap.ScopesRequest:
		a.send(&dap.ScopesResponse{
			Response: a.responseHeader(req, "scopes"),
			Body:     dap.ScopesResponseBody{Scopes: []dap.Scope{{Name: "Locals", VariablesReference: 1000}}},
		})
	case *dap.VariablesRequest:
		a.send(&dap.VariablesResponse{
			Response: a.responseHeader(req, "variables"),
			Body:     dap.VariablesResponseBody{Variables: []dap.Variable{{Name: "x", Value: "1", Type: "int"}}},
		})
	case *dap.EvaluateRequest:
		a.send(&dap.EvaluateResponse{
			Response: a.responseHeader(req, "evaluate"),
			Body:     dap.EvaluateResponseBody{Result: r.Arguments.Expression},
		})
	case *dap.DisconnectRequest:
		a.send(&dap.DisconnectResponse{Response: a.responseHeader(req, "disconnect")})
	case *dap.TerminateRequest:
		a.send(&dap.TerminateResponse{Response: a.responseHeader(req, "terminate")})
	default:
		resp := a.responseHeader(req, req.Command)
		resp.Success = false
		resp.Message = "fakeadapter: unhandled command " + req.Command
		a.send(&resp)
	}
}

func (a *Adapter) responseHeader(req *dap.Request, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: int(a.seq.Add(1)), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         command,
		Success:         true,
	}
}

func (a *Adapter) send(msg dap.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return
	}
	if err := dap.WriteProtocolMessage(a.w, msg); err != nil {
		return
	}
	_ = a.w.Flush()
}

// SendEvent emits a named DAP event with the given body. Only the event
// names the broker's tests drive are representable; an unknown name is
// dropped.
func (a *Adapter) SendEvent(event string, body interface{}) {
	ev := dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: int(a.seq.Add(1)), Type: "event"},
		Event:           event,
	}
	var msg dap.Message
	switch event {
	case "initialized":
		msg = &dap.InitializedEvent{Event: ev}
	case "stopped":
		msg = &dap.StoppedEvent{Event: ev, Body: body.(dap.StoppedEventBody)}
	case "continued":
		msg = &dap.ContinuedEvent{Event: ev, Body: body.(dap.ContinuedEventBody)}
	case "output":
		msg = &dap.OutputEvent{Event: ev, Body: body.(dap.OutputEventBody)}
	case "thread":
		msg = &dap.ThreadEvent{Event: ev, Body: body.(dap.ThreadEventBody)}
	case "exited":
		msg = &dap.ExitedEvent{Event: ev, Body: body.(dap.ExitedEventBody)}
	case "terminated":
		msg = &dap.TerminatedEvent{Event: ev}
	default:
		return
	}
	a.send(msg)
}

// SendStopped emits a "stopped" event for the given thread and reason.
func (a *Adapter) SendStopped(reason string, threadID int) {
	a.SendEvent("stopped", dap.StoppedEventBody{Reason: reason, ThreadId: threadID, AllThreadsStopped: true})
}

// SendOutput emits an "output" event.
func (a *Adapter) SendOutput(category, text string) {
	a.SendEvent("output", dap.OutputEventBody{Category: category, Output: text})
}

// RunInTerminal issues a reverse runInTerminal request to the client and
// blocks for its response.
func (a *Adapter) RunInTerminal(ctx context.Context, args dap.RunInTerminalRequestArguments) (*dap.RunInTerminalResponse, error) {
	req := &dap.RunInTerminalRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: int(a.seq.Add(1)), Type: "request"},
			Command:         "runInTerminal",
		},
		Arguments: args,
	}

	ch := make(chan dap.ResponseMessage, 1)
	a.pending.Store(req.Seq, ch)
	a.send(req)

	select {
	case resp := <-ch:
		rr, ok := resp.(*dap.RunInTerminalResponse)
		if !ok {
			return nil, fmt.Errorf("fakeadapter: unexpected response type %T", resp)
		}
		if !rr.Success {
			return nil, errors.Errorf("runInTerminal failed: %s", rr.Message)
		}
		return rr, nil
	case <-ctx.Done():
		a.pending.Delete(req.Seq)
		return nil, ctx.Err()
	}
}
