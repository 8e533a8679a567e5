package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zixiao-technologies/logos-sub002/errs"
	"github.com/zixiao-technologies/logos-sub002/transport"
)

// mockTransport is a minimal transport.Transport stand-in that records sent
// messages and lets a test push inbound messages synchronously.
type mockTransport struct {
	mu      sync.Mutex
	state   transport.State
	sent    []dap.Message
	onMsg   func(dap.Message)
	onErr   func(error)
	onClose func(int, string)

	connectErr error
}

func newMockTransport() *mockTransport {
	return &mockTransport{state: transport.Disconnected}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	if m.connectErr != nil {
		m.state = transport.Error
		return m.connectErr
	}
	m.state = transport.Connected
	return nil
}

func (m *mockTransport) Disconnect() {
	m.state = transport.Disconnected
}

func (m *mockTransport) Send(msg dap.Message) error {
	if m.state != transport.Connected {
		return transport.ErrNotConnected
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) State() transport.State { return m.state }

func (m *mockTransport) OnMessage(fn func(dap.Message)) { m.onMsg = fn }
func (m *mockTransport) OnError(fn func(error))         { m.onErr = fn }
func (m *mockTransport) OnClose(fn func(int, string))   { m.onClose = fn }

func (m *mockTransport) lastSent() dap.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) deliver(msg dap.Message) { m.onMsg(msg) }

// fakeClock lets tests fire a request timeout deterministically instead of
// waiting on the real 30 second default.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	c       chan time.Time
	stopped bool
}

func (f *fakeTimer) C() <-chan time.Time { return f.c }
func (f *fakeTimer) Stop() bool {
	f.stopped = true
	return true
}

func (f *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (f *fakeClock) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{c: make(chan time.Time, 1)}
	f.mu.Lock()
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return t
}

func (f *fakeClock) timerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *fakeClock) fireLatest() {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.timers[len(f.timers)-1]
	t.c <- time.Unix(0, 0)
}

func connectedClient(t *testing.T) (*Client, *mockTransport) {
	t.Helper()
	tr := newMockTransport()
	c := New(tr, nil)
	require.NoError(t, c.Start(context.Background()))
	return c, tr
}

func TestRequestAssignsSeqAndMatchesResponse(t *testing.T) {
	c, tr := connectedClient(t)

	resultC := make(chan dap.ResponseMessage, 1)
	errC := make(chan error, 1)
	go func() {
		resp, err := c.Request(context.Background(), &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
		resultC <- resp
		errC <- err
	}()

	// Give the Request goroutine a chance to register and send.
	require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)

	sent := tr.lastSent().(*dap.ThreadsRequest)
	assert.Equal(t, 1, sent.Seq)

	tr.deliver(&dap.ThreadsResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "response"},
			RequestSeq:      sent.Seq,
			Success:         true,
			Command:         "threads",
		},
	})

	resp := <-resultC
	err := <-errC
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, sent.Seq, resp.GetResponse().RequestSeq)
}

func TestRequestFailureWrapsAdapterError(t *testing.T) {
	c, tr := connectedClient(t)

	resultC := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &dap.NextRequest{Request: dap.Request{Command: "next"}})
		resultC <- err
	}()
	require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)
	seq := tr.lastSent().(dap.RequestMessage).GetRequest().Seq

	tr.deliver(&dap.NextResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 9, Type: "response"},
			RequestSeq:      seq,
			Success:         false,
			Command:         "next",
			Message:         "thread not stopped",
		},
	})

	err := <-resultC
	var adapterErr *errs.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "thread not stopped", adapterErr.Message)
}

func TestRequestDropsUnmatchedResponse(t *testing.T) {
	c, _ := connectedClient(t)

	// A response with no corresponding pending request must be silently
	// dropped, not panic.
	assert.NotPanics(t, func() {
		c.dispatchResponse(&dap.ThreadsResponse{
			Response: dap.Response{RequestSeq: 999, Success: true, Command: "threads"},
		})
	})
}

func TestRequestTimeout(t *testing.T) {
	c, tr := connectedClient(t)
	fc := &fakeClock{}
	c.SetClock(fc)

	resultC := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
		resultC <- err
	}()

	require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return fc.timerCount() == 1 }, time.Second, time.Millisecond)

	fc.fireLatest()

	err := <-resultC
	var timeoutErr *errs.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "threads", timeoutErr.Command)

	c.mu.Lock()
	_, stillPending := c.pending[1]
	c.mu.Unlock()
	assert.False(t, stillPending, "timed-out request must be removed from the pending map")
}

func TestStopFailsOutstandingRequests(t *testing.T) {
	c, tr := connectedClient(t)

	resultC := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
		resultC <- err
	}()
	require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)

	c.Stop()

	err := <-resultC
	var stoppedErr *errs.SessionStoppedError
	require.ErrorAs(t, err, &stoppedErr)
}

func TestDispatchEventFansOutToAllHandlers(t *testing.T) {
	c, _ := connectedClient(t)

	var calls []int
	c.On("stopped", func(dap.EventMessage) { calls = append(calls, 1) })
	c.On("stopped", func(dap.EventMessage) { calls = append(calls, 2) })

	c.dispatchEvent(&dap.StoppedEvent{Event: dap.Event{Event: "stopped"}})

	assert.Equal(t, []int{1, 2}, calls)
}

func TestInitializedEventSetsFlag(t *testing.T) {
	c, _ := connectedClient(t)
	assert.False(t, c.Initialized())

	c.dispatchEvent(&dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})
	assert.True(t, c.Initialized())
}

func TestReverseRequestUnknownCommandFailsImmediately(t *testing.T) {
	c, tr := connectedClient(t)

	c.dispatchReverseRequest(&dap.RunInTerminalRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 5}, Command: "runInTerminal"},
	})

	sent := tr.lastSent().(*dap.RunInTerminalResponse)
	assert.False(t, sent.Success)
	assert.Contains(t, sent.Message, "unsupported reverse request")
}

func TestReverseRequestRunInTerminalDispatchesToHandler(t *testing.T) {
	c, tr := connectedClient(t)

	var gotArgs json.RawMessage
	c.SetReverseHandler("runInTerminal", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		gotArgs = args
		return dap.RunInTerminalResponseBody{ProcessId: 4242}, nil
	})

	req := &dap.RunInTerminalRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 7}, Command: "runInTerminal"},
		Arguments: dap.RunInTerminalRequestArguments{
			Cwd:  "/workspace",
			Args: []string{"echo", "hi"},
		},
	}
	c.dispatchReverseRequest(req)

	assert.NotNil(t, gotArgs)

	sent := tr.lastSent().(*dap.RunInTerminalResponse)
	assert.True(t, sent.Success)
	assert.Equal(t, req.Seq, sent.RequestSeq)
	assert.Equal(t, 4242, sent.Body.ProcessId)
}

func TestTerminateDegradesToDisconnectWithoutCapability(t *testing.T) {
	c, tr := connectedClient(t)

	go func() {
		require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)
		sent := tr.lastSent()
		if dr, ok := sent.(*dap.DisconnectRequest); ok {
			tr.deliver(&dap.DisconnectResponse{
				Response: dap.Response{RequestSeq: dr.Seq, Success: true, Command: "disconnect"},
			})
		}
	}()

	err := c.Terminate(context.Background())
	require.NoError(t, err)

	sent := tr.lastSent().(*dap.DisconnectRequest)
	assert.True(t, sent.Arguments.TerminateDebuggee)
}

func TestCapabilityGatedCommandReturnsUnsupported(t *testing.T) {
	c, _ := connectedClient(t)
	_, err := c.StepInTargets(context.Background(), 1)
	var unsupported *errs.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "stepInTargets", unsupported.Command)
}

func TestInitializeStoresCapabilities(t *testing.T) {
	c, tr := connectedClient(t)

	go func() {
		require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)
		sent := tr.lastSent().(*dap.InitializeRequest)
		tr.deliver(&dap.InitializeResponse{
			Response: dap.Response{RequestSeq: sent.Seq, Success: true, Command: "initialize"},
			Body:     dap.Capabilities{SupportsStepInTargetsRequest: true},
		})
	}()

	caps, err := c.Initialize(context.Background(), "node")
	require.NoError(t, err)
	assert.True(t, caps.SupportsStepInTargetsRequest)
	assert.True(t, c.Capabilities().SupportsStepInTargetsRequest)
}

func TestAtMostOneInFlightPerCommand(t *testing.T) {
	c, tr := connectedClient(t)

	errC := make(chan error, 2)
	issue := func() {
		_, err := c.Request(context.Background(), &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
		errC <- err
	}

	go issue()
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, time.Millisecond)

	// A second request for the same command must queue behind the first.
	go issue()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.sentCount())

	seq1 := tr.lastSent().(dap.RequestMessage).GetRequest().Seq
	tr.deliver(&dap.ThreadsResponse{
		Response: dap.Response{RequestSeq: seq1, Success: true, Command: "threads"},
	})
	require.NoError(t, <-errC)

	require.Eventually(t, func() bool { return tr.sentCount() == 2 }, time.Second, time.Millisecond)
	seq2 := tr.lastSent().(dap.RequestMessage).GetRequest().Seq
	assert.NotEqual(t, seq1, seq2)
	tr.deliver(&dap.ThreadsResponse{
		Response: dap.Response{RequestSeq: seq2, Success: true, Command: "threads"},
	})
	require.NoError(t, <-errC)
}

func TestEventHandlerMayIssueRequests(t *testing.T) {
	c, tr := connectedClient(t)

	// A handler issuing a request from inside event dispatch (the stopped ->
	// stackTrace pattern) must not deadlock: events run on the dispatch
	// goroutine while responses resolve inline on the delivering goroutine.
	done := make(chan error, 1)
	c.On("stopped", func(dap.EventMessage) {
		_, err := c.Request(context.Background(), &dap.StackTraceRequest{Request: dap.Request{Command: "stackTrace"}})
		done <- err
	})

	tr.deliver(&dap.StoppedEvent{Event: dap.Event{Event: "stopped"}})

	require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)
	seq := tr.lastSent().(dap.RequestMessage).GetRequest().Seq
	tr.deliver(&dap.StackTraceResponse{
		Response: dap.Response{RequestSeq: seq, Success: true, Command: "stackTrace"},
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("event handler deadlocked issuing a request")
	}
}

func TestTransportCloseFailsPendingAndNotifies(t *testing.T) {
	c, tr := connectedClient(t)

	closed := make(chan struct{})
	c.OnTransportClose(func(code int, signal string) { close(closed) })

	errC := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
		errC <- err
	}()
	require.Eventually(t, func() bool { return tr.lastSent() != nil }, time.Second, time.Millisecond)

	tr.onClose(1, "")

	err := <-errC
	var transportErr *errs.TransportError
	require.ErrorAs(t, err, &transportErr)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnTransportClose callback never fired")
	}
}

func TestSendBeforeConnectedReturnsNotConnected(t *testing.T) {
	tr := newMockTransport()
	c := New(tr, nil)
	_, err := c.Request(context.Background(), &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
	var notConnected *errs.NotConnectedError
	require.ErrorAs(t, err, &notConnected)
}
