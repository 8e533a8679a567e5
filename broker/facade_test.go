package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zixiao-technologies/logos-sub002/adaptermanager"
	"github.com/zixiao-technologies/logos-sub002/breakpoint"
)

func newTestFacade(t *testing.T, ev Events) *Facade {
	t.Helper()
	mgr := adaptermanager.New(nil)
	reg := breakpoint.New(nil)
	return New(mgr, reg, ev, nil)
}

func TestAddAndRemoveWatch(t *testing.T) {
	f := newTestFacade(t, Events{})

	w := f.AddWatch("x + 1")
	require.NotEmpty(t, w.ID)

	all := f.GetWatchExpressions()
	require.Len(t, all, 1)
	assert.Equal(t, "x + 1", all[0].Expression)

	env := f.RemoveWatch(w.ID)
	assert.True(t, env.Success)
	assert.Empty(t, f.GetWatchExpressions())
}

func TestRemoveWatchUnknownIDFails(t *testing.T) {
	f := newTestFacade(t, Events{})
	env := f.RemoveWatch("does-not-exist")
	assert.False(t, env.Success)
}

func TestSetBreakpointIsVisibleWithNoActiveSession(t *testing.T) {
	f := newTestFacade(t, Events{})
	ctx := context.Background()

	bp := f.SetBreakpoint(ctx, "/ws/a.js", 10, breakpoint.Options{})
	assert.Equal(t, 10, bp.Line)
	assert.True(t, bp.Enabled)

	got := f.GetBreakpointsForFile("/ws/a.js")
	require.Len(t, got, 1)
	assert.Equal(t, bp.ID, got[0].ID)
}

func TestToggleBreakpointAtLineRemovesExisting(t *testing.T) {
	f := newTestFacade(t, Events{})
	ctx := context.Background()

	f.SetBreakpoint(ctx, "/ws/a.js", 10, breakpoint.Options{})
	f.ToggleBreakpointAtLine(ctx, "/ws/a.js", 10)

	assert.Empty(t, f.GetBreakpointsForFile("/ws/a.js"))
}

func TestSetBreakpointEmitsBreakpointChanged(t *testing.T) {
	var changed []breakpoint.Breakpoint
	f := newTestFacade(t, Events{
		BreakpointChanged: func(bp breakpoint.Breakpoint) { changed = append(changed, bp) },
	})

	bp := f.SetBreakpoint(context.Background(), "/ws/a.js", 10, breakpoint.Options{})
	require.Len(t, changed, 1)
	assert.Equal(t, bp.ID, changed[0].ID)
}

func TestToggleBreakpointAtLineEmitsRemoved(t *testing.T) {
	var removed []string
	f := newTestFacade(t, Events{
		BreakpointRemoved: func(id string) { removed = append(removed, id) },
	})
	ctx := context.Background()

	bp := f.SetBreakpoint(ctx, "/ws/a.js", 10, breakpoint.Options{})
	f.ToggleBreakpointAtLine(ctx, "/ws/a.js", 10)

	require.Len(t, removed, 1)
	assert.Equal(t, bp.ID, removed[0])
}

func TestStopSessionWithNoSessionsFails(t *testing.T) {
	f := newTestFacade(t, Events{})
	env := f.StopSession(context.Background(), "")
	assert.False(t, env.Success)
}

func TestGetAvailableAdaptersPassesThrough(t *testing.T) {
	f := newTestFacade(t, Events{})
	descs := f.GetAvailableAdapters()
	assert.NotEmpty(t, descs)
}

func TestSetActiveFileRoundTrips(t *testing.T) {
	f := newTestFacade(t, Events{})
	f.SetActiveFile("/ws/a.js")
	assert.Equal(t, "/ws/a.js", f.ActiveFile())
}
