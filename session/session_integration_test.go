package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/zixiao-technologies/logos-sub002/breakpoint"
	"github.com/zixiao-technologies/logos-sub002/internal/fakeadapter"
	"github.com/zixiao-technologies/logos-sub002/session"
	"github.com/zixiao-technologies/logos-sub002/transport"
)

// These exercise the full Transport -> Client -> Session stack against a
// real (fake) adapter speaking actual framed DAP messages over a TCP
// socket, rather than a single-layer mock, covering the handshake and
// breakpoint-lifecycle scenarios end to end.

func startFakeAdapter(t *testing.T) (*fakeadapter.Adapter, func()) {
	t.Helper()
	ad, err := fakeadapter.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ad.Serve(ctx)
	}()

	return ad, func() {
		cancel()
		_ = ad.Close()
		<-done
	}
}

func TestSessionHandshakeAndBreakpointLifecycleOverRealTransport(t *testing.T) {
	ad, stop := startFakeAdapter(t)
	defer stop()

	tr := transport.NewSocket(transport.SocketSpec{Address: ad.Addr()}, nil)

	reg := breakpoint.New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bp := reg.SetLine(ctx, "/ws/main.go", 10, breakpoint.Options{})
	require.NotNil(t, bp)
	require.False(t, bp.Verified) // no reconciler wired yet

	// Handlers fire on the client's dispatch goroutine, so everything they
	// touch is guarded.
	var mu sync.Mutex
	var stateTransitions []session.State
	var stoppedReason string

	sess := session.New("go", "integration", "/ws", tr, reg, session.Handlers{
		StateChanged: func(s *session.Session, newState session.State) {
			mu.Lock()
			stateTransitions = append(stateTransitions, newState)
			mu.Unlock()
		},
		Stopped: func(s *session.Session, reason string, threadID int, allThreadsStopped bool) {
			mu.Lock()
			stoppedReason = reason
			mu.Unlock()
		},
	}, nil)

	require.NoError(t, sess.Start(ctx, session.Config{
		Type:            "go",
		Request:         "launch",
		Name:            "integration",
		WorkspaceFolder: "/ws",
		Body:            []byte(`{"program":"./main.go"}`),
	}))

	require.Equal(t, session.Running, sess.State())
	mu.Lock()
	require.Contains(t, stateTransitions, session.Running)
	mu.Unlock()

	// The adapter advertises one default-enabled exception filter; Start
	// seeds it from the initialize response.
	filters := sess.ExceptionFilters()
	require.Len(t, filters, 1)
	require.Equal(t, "uncaught", filters[0].FilterID)
	require.True(t, filters[0].Enabled)

	got := reg.GetForFile("/ws/main.go")
	require.Len(t, got, 1)
	require.True(t, got[0].Verified) // reconciled during Start's handshake

	// Wire the registry's live reconciler to the now-running session, the
	// way the facade does when a session becomes active, and confirm a
	// post-start mutation round-trips through the real adapter too.
	reg.SetReconciler(func(ctx context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
		resp, err := sess.Client().SetBreakpoints(ctx, dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: bps,
		})
		if err != nil {
			return nil, err
		}
		return resp.Body.Breakpoints, nil
	})
	bp2 := reg.SetLine(ctx, "/ws/main.go", 20, breakpoint.Options{})
	require.True(t, bp2.Verified)

	ad.SendStopped("breakpoint", 1)
	// The Stopped handler fires only after the session has fetched the
	// stack and pinned the top frame, so once the reason is visible the
	// frame must be too.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stoppedReason == "breakpoint"
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, session.Stopped, sess.State())

	frameID, ok := sess.CurrentFrame()
	require.True(t, ok)
	require.NotZero(t, frameID)

	require.NoError(t, sess.Continue(ctx, 1))
	require.Eventually(t, func() bool {
		return sess.State() == session.Running
	}, 2*time.Second, 10*time.Millisecond)

	sess.Stop(ctx)
	require.Equal(t, session.Terminated, sess.State())
}
