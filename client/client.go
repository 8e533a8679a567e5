// Package client implements the per-adapter DAP request/response
// multiplexer: sequence number assignment,
// response matching, event dispatch, reverse requests, per-request
// timeouts, and capability-gated wrapper methods for optional commands.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/zixiao-technologies/logos-sub002/errs"
	"github.com/zixiao-technologies/logos-sub002/transport"
)

// DefaultRequestTimeout bounds how long a request waits for its response.
const DefaultRequestTimeout = 30 * time.Second

// ReverseRequestHandler answers a reverse request (adapter -> client), e.g.
// runInTerminal. It returns the response body to send back, or an error to
// report as a failed response.
type ReverseRequestHandler func(ctx context.Context, arguments json.RawMessage) (body interface{}, err error)

type pendingRequest struct {
	seq     int
	command string
	created time.Time
	resultC chan requestResult
	timer   Timer
}

type requestResult struct {
	resp dap.ResponseMessage
	err  error
}

// Client is a single adapter's request/response multiplexer. A Client
// exclusively owns its Transport.
type Client struct {
	tr    transport.Transport
	clock Clock
	log   logrus.FieldLogger

	seq atomic.Int64

	mu      sync.Mutex
	pending map[int]*pendingRequest
	stopped bool
	onClose func(code int, signal string)

	queue chan dap.Message
	done  chan struct{}

	// cmdGates serializes requests per command, upholding the broker's
	// at-most-one-in-flight-per-command contract.
	cmdGates sync.Map // command string -> *semaphore.Weighted

	eventsMu sync.RWMutex
	events   map[string][]func(dap.EventMessage)

	reverseMu sync.RWMutex
	reverse   map[string]ReverseRequestHandler

	capMu        sync.RWMutex
	capabilities dap.Capabilities
	initialized  atomic.Bool
}

// New wires a Client around tr. Call Start to connect.
func New(tr transport.Transport, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Client{
		tr:      tr,
		clock:   RealClock,
		log:     log,
		pending: make(map[int]*pendingRequest),
		events:  make(map[string][]func(dap.EventMessage)),
		reverse: make(map[string]ReverseRequestHandler),
		queue:   make(chan dap.Message, 64),
		done:    make(chan struct{}),
	}
	tr.OnMessage(c.handleMessage)
	tr.OnError(c.handleError)
	tr.OnClose(c.handleClose)
	go c.dispatchLoop()
	return c
}

// SetClock overrides the Clock used for request timeouts; intended for
// tests.
func (c *Client) SetClock(clk Clock) {
	c.clock = clk
}

// Start connects the underlying transport.
func (c *Client) Start(ctx context.Context) error {
	if err := c.tr.Connect(ctx); err != nil {
		return &errs.TransportError{Cause: err}
	}
	return nil
}

// Stop disconnects the transport and fails every pending request with
// SessionStoppedError.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	pending := c.pending
	c.pending = make(map[int]*pendingRequest)
	c.mu.Unlock()

	close(c.done)

	for _, p := range pending {
		p.timer.Stop()
		p.resultC <- requestResult{err: &errs.SessionStoppedError{}}
	}

	c.tr.Disconnect()
}

func (c *Client) nextSeq() int {
	return int(c.seq.Add(1))
}

// Request assigns a sequence number, records a pending entry, sends the
// frame, and blocks until the matching response, timeout, context
// cancellation, or Stop. At most one request per command is in flight at a
// time; a second caller for the same command waits its turn.
func (c *Client) Request(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	if c.tr.State() != transport.Connected {
		return nil, &errs.NotConnectedError{}
	}

	command := req.GetRequest().Command
	gate := c.commandGate(command)
	if err := gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer gate.Release(1)

	seq := c.nextSeq()
	req.GetRequest().Seq = seq
	req.GetRequest().Type = "request"

	resultC := make(chan requestResult, 1)
	timer := c.clock.NewTimer(DefaultRequestTimeout)
	p := &pendingRequest{seq: seq, command: command, created: c.clock.Now(), resultC: resultC, timer: timer}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		timer.Stop()
		return nil, &errs.SessionStoppedError{}
	}
	c.pending[seq] = p
	c.mu.Unlock()

	if err := c.tr.Send(req); err != nil {
		c.removePending(seq)
		timer.Stop()
		if err == transport.ErrNotConnected {
			return nil, &errs.NotConnectedError{}
		}
		return nil, &errs.TransportError{Cause: err}
	}

	select {
	case res := <-resultC:
		timer.Stop()
		return res.resp, res.err
	case <-timer.C():
		c.removePending(seq)
		return nil, &errs.TimeoutError{Command: command}
	case <-ctx.Done():
		c.removePending(seq)
		timer.Stop()
		return nil, ctx.Err()
	}
}

func (c *Client) commandGate(command string) *semaphore.Weighted {
	v, _ := c.cmdGates.LoadOrStore(command, semaphore.NewWeighted(1))
	return v.(*semaphore.Weighted)
}

func (c *Client) removePending(seq int) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[seq]
	delete(c.pending, seq)
	return p
}

// handleMessage dispatches one inbound frame. A response resolves its
// pending request inline (just a channel send to the waiter, never blocks
// meaningfully); events and reverse requests are queued for dispatchLoop so
// a handler that itself issues a request (stopped -> stackTrace) cannot
// block the transport read goroutine that must deliver the matching
// response.
func (c *Client) handleMessage(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		c.dispatchResponse(m)
	case dap.EventMessage, dap.RequestMessage:
		select {
		case c.queue <- msg:
		case <-c.done:
		}
	}
}

// dispatchLoop delivers queued events and reverse requests one at a time,
// in arrival order, until Stop.
func (c *Client) dispatchLoop() {
	for {
		select {
		case msg := <-c.queue:
			switch m := msg.(type) {
			case dap.EventMessage:
				c.dispatchEvent(m)
			case dap.RequestMessage:
				c.dispatchReverseRequest(m)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatchResponse(m dap.ResponseMessage) {
	resp := m.GetResponse()
	p := c.removePending(resp.RequestSeq)
	if p == nil {
		// No matching pending request (already timed out, or a duplicate/
		// spurious response): silently drop.
		return
	}
	p.timer.Stop()

	var err error
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Request " + resp.Command + " failed"
		}
		err = &errs.AdapterError{Command: resp.Command, Message: msg}
	}
	p.resultC <- requestResult{resp: m, err: err}
}

func (c *Client) dispatchEvent(m dap.EventMessage) {
	name := m.GetEvent().Event
	if name == "initialized" {
		c.initialized.Store(true)
	}

	c.eventsMu.RLock()
	handlers := append([]func(dap.EventMessage){}, c.events[name]...)
	c.eventsMu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
}

// On registers an additional handler for the named DAP event. Multiple
// handlers may be registered for the same event; all are invoked in
// registration order, serialized on the Client's dispatch goroutine.
// Handlers may issue requests.
func (c *Client) On(event string, fn func(dap.EventMessage)) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events[event] = append(c.events[event], fn)
}

// Initialized reports whether the adapter has emitted the "initialized"
// event.
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

// SetReverseHandler registers the handler invoked for a reverse request
// (adapter -> client) with the given command name. runInTerminal is the
// only reverse request the broker answers today, but the table is open so
// new commands can be added without touching dispatch logic.
func (c *Client) SetReverseHandler(command string, fn ReverseRequestHandler) {
	c.reverseMu.Lock()
	defer c.reverseMu.Unlock()
	c.reverse[command] = fn
}

func (c *Client) dispatchReverseRequest(m dap.RequestMessage) {
	req := m.GetRequest()

	c.reverseMu.RLock()
	handler := c.reverse[req.Command]
	c.reverseMu.RUnlock()

	if handler == nil {
		resp := dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "response"},
			RequestSeq:      req.Seq,
			Command:         req.Command,
			Success:         false,
			Message:         "unsupported reverse request: " + req.Command,
		}
		if req.Command == "runInTerminal" {
			_ = c.tr.Send(&dap.RunInTerminalResponse{Response: resp})
			return
		}
		_ = c.tr.Send(&resp)
		return
	}

	args := extractArguments(m)
	body, err := handler(context.Background(), args)

	if req.Command == "runInTerminal" {
		resp := &dap.RunInTerminalResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "response"},
				RequestSeq:      req.Seq,
				Command:         req.Command,
			},
		}
		if err != nil {
			resp.Success = false
			resp.Message = err.Error()
		} else {
			resp.Success = true
			if b, ok := body.(dap.RunInTerminalResponseBody); ok {
				resp.Body = b
			}
		}
		_ = c.tr.Send(resp)
		return
	}

	resp := &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
	}
	if err != nil {
		resp.Success = false
		resp.Message = err.Error()
	} else {
		resp.Success = true
	}
	_ = c.tr.Send(resp)
}

// extractArguments pulls the raw "arguments" field out of an inbound
// request regardless of its concrete go-dap type, so reverse request
// handlers registered for commands outside the fixed table (runInTerminal)
// can still be supported generically.
func extractArguments(m dap.RequestMessage) json.RawMessage {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var envelope struct {
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return envelope.Arguments
}

func (c *Client) handleError(err error) {
	c.log.WithError(err).Warn("transport error")
}

// OnTransportClose registers a callback invoked once the underlying
// transport has closed (after all pending requests have been failed), so
// the owning Session can run its stop policy.
func (c *Client) OnTransportClose(fn func(code int, signal string)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Client) handleClose(code int, signal string) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int]*pendingRequest)
	fn := c.onClose
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.resultC <- requestResult{err: &errs.TransportError{Cause: errTransportClosed}}
	}

	if fn != nil {
		fn(code, signal)
	}
}

var errTransportClosed = &transportClosedError{}

type transportClosedError struct{}

func (e *transportClosedError) Error() string { return "transport closed" }
