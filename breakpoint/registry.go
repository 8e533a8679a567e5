// Package breakpoint implements the workspace-global breakpoint registry:
// source breakpoints reconciled to the active session on every mutation.
// Exception filters are session-scoped and live on session.Session.
package breakpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Type is the derived breakpoint kind.
type Type int

const (
	Line Type = iota
	Conditional
	Logpoint
	Function
	Exception
	Data
)

// Breakpoint is the registry's canonical entry for one breakpoint.
type Breakpoint struct {
	ID           string
	Path         string
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
	Enabled      bool
	Verified     bool
	Type         Type
}

func deriveType(logMessage, condition string) Type {
	if logMessage != "" {
		return Logpoint
	}
	if condition != "" {
		return Conditional
	}
	return Line
}

// Options carries the optional fields accepted by setLine/edit.
type Options struct {
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
}

// Reconciler is invoked by the registry on every mutation, set to send
// setBreakpoints for the affected file against whatever session is
// currently active. It returns the adapter's breakpoint results in the same
// order as the breakpoints given, or an error (reconcile failures are
// logged, not surfaced).
type Reconciler func(ctx context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error)

// Registry is the workspace-global, process-shared breakpoint store.
// Exception filters are deliberately not kept here: they are seeded from an
// adapter's capabilities and so belong to the Session.
type Registry struct {
	mu  sync.Mutex
	log logrus.FieldLogger

	// byPath preserves per-file insertion order.
	byPath map[string][]*Breakpoint
	byID   map[string]*Breakpoint

	reconcile Reconciler
}

// New constructs an empty Registry. SetReconciler must be called once a
// session becomes active; until then mutations stay purely local.
func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		log:    log,
		byPath: make(map[string][]*Breakpoint),
		byID:   make(map[string]*Breakpoint),
	}
}

// SetReconciler attaches (or clears, with nil) the active session's
// reconcile hook. Called by the facade whenever the active session
// changes.
func (r *Registry) SetReconciler(fn Reconciler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcile = fn
}

// SetLine adds a new line (or conditional/logpoint) breakpoint. An existing
// breakpoint at the same (path, line) is replaced in place rather than
// duplicated, so a file never holds two breakpoints on one line.
func (r *Registry) SetLine(ctx context.Context, path string, line int, opts Options) *Breakpoint {
	r.mu.Lock()
	bp := &Breakpoint{
		ID:           uuid.NewString(),
		Path:         path,
		Line:         line,
		Column:       opts.Column,
		Condition:    opts.Condition,
		HitCondition: opts.HitCondition,
		LogMessage:   opts.LogMessage,
		Enabled:      true,
		Type:         deriveType(opts.LogMessage, opts.Condition),
	}
	replaced := false
	for i, old := range r.byPath[path] {
		if old.Line == line {
			delete(r.byID, old.ID)
			r.byPath[path][i] = bp
			replaced = true
			break
		}
	}
	if !replaced {
		r.byPath[path] = append(r.byPath[path], bp)
	}
	r.byID[bp.ID] = bp
	r.mu.Unlock()

	r.reconcileFile(ctx, path)
	return bp
}

// Remove deletes a breakpoint by id and reconciles its file.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	bp, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	r.byPath[bp.Path] = removeByID(r.byPath[bp.Path], id)
	r.mu.Unlock()

	r.reconcileFile(ctx, bp.Path)
	return true
}

func removeByID(list []*Breakpoint, id string) []*Breakpoint {
	out := list[:0]
	for _, bp := range list {
		if bp.ID != id {
			out = append(out, bp)
		}
	}
	return out
}

// ToggleEnabled flips a breakpoint's enabled flag and reconciles its file.
func (r *Registry) ToggleEnabled(ctx context.Context, id string) bool {
	r.mu.Lock()
	bp, ok := r.byID[id]
	if ok {
		bp.Enabled = !bp.Enabled
	}
	path := ""
	if ok {
		path = bp.Path
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.reconcileFile(ctx, path)
	return true
}

// ToggleAtLine removes the breakpoint at (path, line) if one exists, else
// adds a plain line breakpoint there, so adding then toggling the same line
// returns the file to empty. It returns the added breakpoint, or the id of
// the removed one.
func (r *Registry) ToggleAtLine(ctx context.Context, path string, line int) (*Breakpoint, string) {
	r.mu.Lock()
	var existing *Breakpoint
	for _, bp := range r.byPath[path] {
		if bp.Line == line {
			existing = bp
			break
		}
	}
	if existing != nil {
		delete(r.byID, existing.ID)
		r.byPath[path] = removeByID(r.byPath[path], existing.ID)
		r.mu.Unlock()
		r.reconcileFile(ctx, path)
		return nil, existing.ID
	}
	bp := &Breakpoint{
		ID:      uuid.NewString(),
		Path:    path,
		Line:    line,
		Enabled: true,
		Type:    Line,
	}
	r.byPath[path] = append(r.byPath[path], bp)
	r.byID[bp.ID] = bp
	r.mu.Unlock()

	r.reconcileFile(ctx, path)
	return bp, ""
}

// Edit updates a breakpoint's optional fields in place (re-deriving Type)
// and reconciles its file.
func (r *Registry) Edit(ctx context.Context, id string, opts Options) bool {
	r.mu.Lock()
	bp, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	bp.Column = opts.Column
	bp.Condition = opts.Condition
	bp.HitCondition = opts.HitCondition
	bp.LogMessage = opts.LogMessage
	bp.Type = deriveType(opts.LogMessage, opts.Condition)
	path := bp.Path
	r.mu.Unlock()

	r.reconcileFile(ctx, path)
	return true
}

// Get returns a copy of the breakpoint with the given id.
func (r *Registry) Get(id string) (Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.byID[id]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// GetForFile returns the breakpoints for path in insertion order.
func (r *Registry) GetForFile(path string) []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byPath[path]
	out := make([]Breakpoint, len(list))
	for i, bp := range list {
		out[i] = *bp
	}
	return out
}

// GetAll returns every breakpoint, grouped by path. The result is a map, so
// its iteration order is not defined; each file's slice keeps insertion
// order.
func (r *Registry) GetAll() map[string][]Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]Breakpoint, len(r.byPath))
	for path, list := range r.byPath {
		copied := make([]Breakpoint, len(list))
		for i, bp := range list {
			copied[i] = *bp
		}
		out[path] = copied
	}
	return out
}

// FilesWithBreakpoints implements session.BreakpointSource.
func (r *Registry) FilesWithBreakpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.byPath))
	for path := range r.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// SourceBreakpoints implements session.BreakpointSource: the enabled subset
// for a file, in insertion order.
func (r *Registry) SourceBreakpoints(path string) []dap.SourceBreakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sourceBreakpointsLocked(path)
}

// sourceBreakpointsLocked is SourceBreakpoints' body, callable by other
// Registry methods that already hold r.mu.
func (r *Registry) sourceBreakpointsLocked(path string) []dap.SourceBreakpoint {
	var out []dap.SourceBreakpoint
	for _, bp := range r.byPath[path] {
		if !bp.Enabled {
			continue
		}
		out = append(out, dap.SourceBreakpoint{
			Line:         bp.Line,
			Column:       bp.Column,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
		})
	}
	return out
}

// ReconcileResult implements session.BreakpointSource: updates verified/line
// from an adapter's reply. Matching is positional against the enabled
// subset sent, mirroring the DAP contract that a setBreakpoints response
// array is ordered identically to the request's breakpoints array.
func (r *Registry) ReconcileResult(path string, result []dap.Breakpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var enabled []*Breakpoint
	for _, bp := range r.byPath[path] {
		if bp.Enabled {
			enabled = append(enabled, bp)
		}
	}
	for i, res := range result {
		if i >= len(enabled) {
			break
		}
		enabled[i].Verified = res.Verified
		if res.Line != 0 {
			enabled[i].Line = res.Line
		}
	}
}

func (r *Registry) reconcileFile(ctx context.Context, path string) {
	r.mu.Lock()
	reconcile := r.reconcile
	bps := r.sourceBreakpointsLocked(path)
	r.mu.Unlock()
	if reconcile == nil {
		return
	}
	result, err := reconcile(ctx, path, bps)
	if err != nil {
		r.log.WithError(err).WithField("path", path).Warn("breakpoint reconcile failed, local state kept")
		return
	}
	r.ReconcileResult(path, result)
}
