package breakpoint

import (
	"context"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLineThenToggleAtLineReturnsToEmpty(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	r.SetLine(ctx, "/ws/a.js", 10, Options{})
	require.Len(t, r.GetForFile("/ws/a.js"), 1)

	r.ToggleAtLine(ctx, "/ws/a.js", 10)
	assert.Empty(t, r.GetForFile("/ws/a.js"))
}

func TestSetLineDerivesType(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	line := r.SetLine(ctx, "/ws/a.js", 1, Options{})
	assert.Equal(t, Line, line.Type)

	cond := r.SetLine(ctx, "/ws/a.js", 2, Options{Condition: "x > 1"})
	assert.Equal(t, Conditional, cond.Type)

	log := r.SetLine(ctx, "/ws/a.js", 3, Options{LogMessage: "hit {x}"})
	assert.Equal(t, Logpoint, log.Type)
}

func TestSetLineReplacesExistingAtSameLine(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	first := r.SetLine(ctx, "/ws/a.js", 10, Options{})
	second := r.SetLine(ctx, "/ws/a.js", 10, Options{Condition: "x > 1"})

	got := r.GetForFile("/ws/a.js")
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, Conditional, got[0].Type)

	_, stillThere := r.Get(first.ID)
	assert.False(t, stillThere)
}

func TestReconcileSendsSetBreakpointsAndUpdatesVerified(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	var gotPath string
	var gotBPs []dap.SourceBreakpoint
	r.SetReconciler(func(ctx context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
		gotPath = path
		gotBPs = bps
		return []dap.Breakpoint{{Verified: true, Line: 10}}, nil
	})

	bp := r.SetLine(ctx, "/ws/a.js", 10, Options{})

	assert.Equal(t, "/ws/a.js", gotPath)
	require.Len(t, gotBPs, 1)
	assert.Equal(t, 10, gotBPs[0].Line)

	got := r.GetForFile("/ws/a.js")
	require.Len(t, got, 1)
	assert.True(t, got[0].Verified)
	assert.Equal(t, bp.ID, got[0].ID)
}

func TestReconcileFailureKeepsLocalState(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	r.SetReconciler(func(ctx context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
		return nil, assertErr
	})

	r.SetLine(ctx, "/ws/a.js", 10, Options{})
	got := r.GetForFile("/ws/a.js")
	require.Len(t, got, 1)
	assert.False(t, got[0].Verified)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestToggleEnabledFlipsFlag(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	bp := r.SetLine(ctx, "/ws/a.js", 10, Options{})
	assert.True(t, bp.Enabled)

	r.ToggleEnabled(ctx, bp.ID)
	got := r.GetForFile("/ws/a.js")
	require.Len(t, got, 1)
	assert.False(t, got[0].Enabled)
}

func TestRemoveDeletesBreakpoint(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	bp := r.SetLine(ctx, "/ws/a.js", 10, Options{})

	assert.True(t, r.Remove(ctx, bp.ID))
	assert.Empty(t, r.GetForFile("/ws/a.js"))
	assert.False(t, r.Remove(ctx, bp.ID))
}

func TestFilesWithBreakpointsSorted(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	r.SetLine(ctx, "/ws/b.js", 1, Options{})
	r.SetLine(ctx, "/ws/a.js", 1, Options{})

	assert.Equal(t, []string{"/ws/a.js", "/ws/b.js"}, r.FilesWithBreakpoints())
}
