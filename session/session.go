// Package session implements one debug session: a
// state machine wrapped around a Client, tracking capabilities, threads, and
// the current stopped frame.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zixiao-technologies/logos-sub002/client"
	"github.com/zixiao-technologies/logos-sub002/errs"
	"github.com/zixiao-technologies/logos-sub002/transport"
)

// State is a Session's lifecycle stage.
type State int

const (
	Initializing State = iota
	Running
	Stopped
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Thread mirrors a dap.Thread.
type Thread struct {
	ID   int
	Name string
}

// Config is a launch or attach configuration, already substituted (if
// applicable) and ready to send verbatim as request arguments.
type Config struct {
	Type            string
	Request         string // "launch" or "attach"
	Name            string
	WorkspaceFolder string
	Body            json.RawMessage
}

// ExceptionFilterState is one exception-filter toggle, seeded from the
// adapter's advertised exceptionBreakpointFilters capability.
type ExceptionFilterState struct {
	FilterID          string
	Label             string
	Description       string
	Enabled           bool
	SupportsCondition bool
	Condition         string
}

// BreakpointSource is the minimal shape Session needs from the breakpoint
// registry to reconcile on session start; it avoids an import cycle back to
// the breakpoint package (Session depends on breakpoint.Registry via this
// narrow interface, not vice-versa).
type BreakpointSource interface {
	// FilesWithBreakpoints returns every source path the source holds
	// breakpoints for, including paths whose breakpoints are all disabled or
	// have all been removed, so an empty setBreakpoints can still be sent for
	// such a file.
	FilesWithBreakpoints() []string
	// SourceBreakpoints returns the enabled dap.SourceBreakpoint set for a
	// path, in insertion order.
	SourceBreakpoints(path string) []dap.SourceBreakpoint
	// ReconcileResult updates local breakpoint state (verified, line) from
	// an adapter's setBreakpoints reply.
	ReconcileResult(path string, result []dap.Breakpoint)
}

// Handlers receives the observable events a Session produces, so the facade
// can update its own state and fan them out to front-end subscribers,
// without Session depending on the facade package.
type Handlers struct {
	StateChanged      func(s *Session, newState State)
	Stopped           func(s *Session, reason string, threadID int, allThreadsStopped bool)
	Continued         func(s *Session, threadID int, allThreadsContinued bool)
	Output            func(s *Session, category, output string)
	BreakpointUpdated func(s *Session, path string, bp dap.Breakpoint)
	ThreadsUpdated    func(s *Session, threads []Thread)
	StackTraceUpdated func(s *Session, threadID int, frames []dap.StackFrame)
}

// Session owns exactly one Client.
type Session struct {
	ID              string
	Name            string
	AdapterType     string
	WorkspaceFolder string

	cl  *client.Client
	log logrus.FieldLogger
	bps BreakpointSource
	h   Handlers

	initializedC    chan struct{}
	initializedOnce sync.Once

	mu               sync.RWMutex
	state            State
	startCfg         Config
	capabilities     dap.Capabilities
	threads          []Thread
	currentThreadID  int
	currentFrameID   int
	hasCurrentFrame  bool
	exceptionFilters []ExceptionFilterState
	lastStackFrames  []dap.StackFrame
}

// New constructs a Session around a not-yet-started Client. Call Start to
// run the handshake sequence.
func New(adapterType, name, workspaceFolder string, tr transport.Transport, bps BreakpointSource, h Handlers, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Session{
		ID:              uuid.NewString(),
		Name:            name,
		AdapterType:     adapterType,
		WorkspaceFolder: workspaceFolder,
		cl:              client.New(tr, log),
		log:             log,
		bps:             bps,
		h:               h,
		initializedC:    make(chan struct{}),
		state:           Initializing,
	}
	s.registerEventHandlers()
	// Transport close means the adapter is gone; run the stop policy so the
	// Session always ends in Terminated.
	s.cl.OnTransportClose(func(code int, signal string) {
		s.Stop(context.Background())
	})
	return s
}

// Client exposes the underlying multiplexer for callers (e.g. the facade's
// console/evaluate passthrough) that need direct request access beyond the
// Session's own operation set.
func (s *Session) Client() *client.Client { return s.cl }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Capabilities() dap.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// StartConfig returns the configuration this session was started with, for
// restart-by-full-cycle.
func (s *Session) StartConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startCfg
}

func (s *Session) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, len(s.threads))
	copy(out, s.threads)
	return out
}

// CurrentFrame returns the current frame id and whether one is set; a set
// frame implies the session is Stopped.
func (s *Session) CurrentFrame() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFrameID, s.hasCurrentFrame
}

// StackFrames returns the cached stack from the most recent stopped event,
// so frame pickers don't re-request a trace the session already holds.
func (s *Session) StackFrames() []dap.StackFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dap.StackFrame, len(s.lastStackFrames))
	copy(out, s.lastStackFrames)
	return out
}

func (s *Session) setState(newState State) {
	s.mu.Lock()
	if s.state == newState {
		s.mu.Unlock()
		return
	}
	s.state = newState
	s.mu.Unlock()
	if s.h.StateChanged != nil {
		s.h.StateChanged(s, newState)
	}
}

// Start runs the strict handshake sequence: initialize, wait for the
// adapter's initialized event, reconcile breakpoints and exception filters,
// launch/attach, then configurationDone. Any failure tears the session down
// and returns the error to the caller.
func (s *Session) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	s.startCfg = cfg
	s.mu.Unlock()

	if err := s.cl.Start(ctx); err != nil {
		s.teardown(ctx)
		return err
	}

	if _, err := s.cl.Initialize(ctx, s.AdapterType); err != nil {
		s.teardown(ctx)
		return err
	}
	s.mu.Lock()
	s.capabilities = s.cl.Capabilities()
	s.seedExceptionFiltersLocked()
	s.mu.Unlock()

	if err := s.awaitInitializedEvent(ctx); err != nil {
		s.teardown(ctx)
		return err
	}

	if err := s.reconcileBreakpoints(ctx); err != nil {
		s.teardown(ctx)
		return err
	}

	if err := s.launchOrAttach(ctx, cfg); err != nil {
		s.teardown(ctx)
		return err
	}

	if _, err := s.cl.ConfigurationDone(ctx); err != nil {
		s.teardown(ctx)
		return err
	}

	s.setState(Running)
	return nil
}

// awaitInitializedEvent blocks until the "initialized" event arrives or the
// context is cancelled. The handler closing initializedC is registered at
// construction time, before the transport can deliver anything, so the
// event cannot slip past between a check and a registration. Breakpoints
// must not be reconciled before this point even though most adapters will
// have already accepted the initialize request.
func (s *Session) awaitInitializedEvent(ctx context.Context) error {
	select {
	case <-s.initializedC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) reconcileBreakpoints(ctx context.Context) error {
	if s.bps == nil {
		return nil
	}
	for _, path := range s.bps.FilesWithBreakpoints() {
		bps := s.bps.SourceBreakpoints(path)
		resp, err := s.cl.SetBreakpoints(ctx, dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: bps,
		})
		if err != nil {
			return err
		}
		s.bps.ReconcileResult(path, resp.Body.Breakpoints)
		if s.h.BreakpointUpdated != nil {
			for _, bp := range resp.Body.Breakpoints {
				s.h.BreakpointUpdated(s, path, bp)
			}
		}
	}

	// Filters seeded from the initialize response; default-enabled ones are
	// active from the first run.
	filters, opts := s.enabledExceptionFilters()
	if len(filters) > 0 || len(opts) > 0 {
		if _, err := s.cl.SetExceptionBreakpoints(ctx, dap.SetExceptionBreakpointsArguments{
			Filters:       filters,
			FilterOptions: opts,
		}); err != nil {
			return err
		}
	}
	return nil
}

// enabledExceptionFilters returns the filter ids (and any conditions) to
// send with setExceptionBreakpoints, from the session's seeded filter
// state.
func (s *Session) enabledExceptionFilters() ([]string, []dap.ExceptionFilterOptions) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filters []string
	var opts []dap.ExceptionFilterOptions
	for _, f := range s.exceptionFilters {
		if !f.Enabled {
			continue
		}
		filters = append(filters, f.FilterID)
		if f.Condition != "" {
			opts = append(opts, dap.ExceptionFilterOptions{FilterId: f.FilterID, Condition: f.Condition})
		}
	}
	return filters, opts
}

func (s *Session) launchOrAttach(ctx context.Context, cfg Config) error {
	if cfg.Request == "attach" {
		_, err := s.cl.Attach(ctx, cfg.Body)
		return err
	}
	_, err := s.cl.Launch(ctx, cfg.Body)
	return err
}

func (s *Session) seedExceptionFiltersLocked() {
	s.exceptionFilters = s.exceptionFilters[:0]
	for _, f := range s.capabilities.ExceptionBreakpointFilters {
		s.exceptionFilters = append(s.exceptionFilters, ExceptionFilterState{
			FilterID:          f.Filter,
			Label:             f.Label,
			Description:       f.Description,
			Enabled:           f.Default,
			SupportsCondition: f.SupportsCondition,
		})
	}
}

func (s *Session) registerEventHandlers() {
	s.cl.On("initialized", func(dap.EventMessage) {
		s.initializedOnce.Do(func() { close(s.initializedC) })
	})
	s.cl.On("stopped", s.onStopped)
	s.cl.On("continued", s.onContinued)
	s.cl.On("terminated", s.onTerminated)
	s.cl.On("output", s.onOutput)
	s.cl.On("breakpoint", s.onBreakpoint)
	s.cl.On("thread", s.onThread)
	s.cl.On("exited", s.onExited)
}

func (s *Session) onStopped(m dap.EventMessage) {
	ev, ok := m.(*dap.StoppedEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	s.state = Stopped
	s.currentThreadID = ev.Body.ThreadId
	s.mu.Unlock()

	// Fetch the stack and pin the top frame before broadcasting, so
	// handlers (watch refresh in particular) observe a stopped session that
	// already has a current frame.
	var frames []dap.StackFrame
	resp, err := s.cl.StackTrace(context.Background(), ev.Body.ThreadId)
	if err != nil {
		s.log.WithError(err).Warn("stackTrace after stopped event failed")
	} else {
		frames = resp.Body.StackFrames
		s.mu.Lock()
		s.lastStackFrames = frames
		if len(frames) > 0 {
			s.currentFrameID = frames[0].Id
			s.hasCurrentFrame = true
		}
		s.mu.Unlock()
	}

	if s.h.StateChanged != nil {
		s.h.StateChanged(s, Stopped)
	}
	if s.h.Stopped != nil {
		s.h.Stopped(s, ev.Body.Reason, ev.Body.ThreadId, ev.Body.AllThreadsStopped)
	}
	if err == nil && s.h.StackTraceUpdated != nil {
		s.h.StackTraceUpdated(s, ev.Body.ThreadId, frames)
	}
}

func (s *Session) onContinued(m dap.EventMessage) {
	ev, ok := m.(*dap.ContinuedEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	s.state = Running
	s.hasCurrentFrame = false
	s.currentFrameID = 0
	s.mu.Unlock()

	if s.h.StateChanged != nil {
		s.h.StateChanged(s, Running)
	}
	if s.h.Continued != nil {
		s.h.Continued(s, ev.Body.ThreadId, ev.Body.AllThreadsContinued)
	}
}

// onTerminated marks Terminated but deliberately leaves the transport
// running so a trailing "exited" event can still arrive.
func (s *Session) onTerminated(dap.EventMessage) {
	s.setState(Terminated)
}

func (s *Session) onOutput(m dap.EventMessage) {
	ev, ok := m.(*dap.OutputEvent)
	if !ok {
		return
	}
	if s.h.Output != nil {
		s.h.Output(s, ev.Body.Category, ev.Body.Output)
	}
}

func (s *Session) onBreakpoint(m dap.EventMessage) {
	ev, ok := m.(*dap.BreakpointEvent)
	if !ok {
		return
	}
	if s.bps != nil && ev.Body.Breakpoint.Source != nil {
		s.bps.ReconcileResult(ev.Body.Breakpoint.Source.Path, []dap.Breakpoint{ev.Body.Breakpoint})
	}
	if s.h.BreakpointUpdated != nil && ev.Body.Breakpoint.Source != nil {
		s.h.BreakpointUpdated(s, ev.Body.Breakpoint.Source.Path, ev.Body.Breakpoint)
	}
}

func (s *Session) onThread(dap.EventMessage) {
	resp, err := s.cl.Threads(context.Background())
	if err != nil {
		s.log.WithError(err).Warn("threads refresh after thread event failed")
		return
	}
	threads := make([]Thread, len(resp.Body.Threads))
	for i, t := range resp.Body.Threads {
		threads[i] = Thread{ID: t.Id, Name: t.Name}
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	if s.h.ThreadsUpdated != nil {
		s.h.ThreadsUpdated(s, threads)
	}
}

// onExited runs the stop policy once the debuggee reports it is gone.
func (s *Session) onExited(dap.EventMessage) {
	s.Stop(context.Background())
}

// Stop runs the session stop policy: attempt terminate (which degrades to
// disconnect if unsupported), swallow errors, always stop the Client,
// transition to Terminated.
func (s *Session) Stop(ctx context.Context) {
	if s.State() == Terminated {
		s.cl.Stop()
		return
	}
	if err := s.cl.Terminate(ctx); err != nil {
		s.log.WithError(err).Debug("terminate failed during session stop")
	}
	s.teardown(ctx)
}

func (s *Session) teardown(ctx context.Context) {
	s.cl.Stop()
	s.setState(Terminated)
}

// Restart uses the adapter's own restart command if advertised; otherwise
// the caller must perform a full stop-start cycle —
// RestartRequiresFullCycle reports which applies.
func (s *Session) RestartRequiresFullCycle() bool {
	return !s.Capabilities().SupportsRestartRequest
}

func (s *Session) Restart(ctx context.Context, args []byte) error {
	if s.RestartRequiresFullCycle() {
		return &errs.UnsupportedError{Command: "restart"}
	}
	if err := s.cl.Restart(ctx, args); err != nil {
		return err
	}
	s.setState(Running)
	return nil
}

func (s *Session) Continue(ctx context.Context, threadID int) error {
	_, err := s.cl.Continue(ctx, threadID)
	return err
}

func (s *Session) Pause(ctx context.Context, threadID int) error {
	return s.cl.Pause(ctx, threadID)
}

func (s *Session) StepOver(ctx context.Context, threadID int) error { return s.cl.StepOver(ctx, threadID) }
func (s *Session) StepIn(ctx context.Context, threadID int) error   { return s.cl.StepIn(ctx, threadID) }
func (s *Session) StepOut(ctx context.Context, threadID int) error  { return s.cl.StepOut(ctx, threadID) }

func (s *Session) RestartFrame(ctx context.Context, frameID int) error {
	return s.cl.RestartFrame(ctx, frameID)
}

func (s *Session) GetThreads(ctx context.Context) ([]Thread, error) {
	resp, err := s.cl.Threads(ctx)
	if err != nil {
		return nil, err
	}
	threads := make([]Thread, len(resp.Body.Threads))
	for i, t := range resp.Body.Threads {
		threads[i] = Thread{ID: t.Id, Name: t.Name}
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	return threads, nil
}

func (s *Session) GetStackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	resp, err := s.cl.StackTrace(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

func (s *Session) GetScopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	resp, err := s.cl.Scopes(ctx, frameID)
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

func (s *Session) GetVariables(ctx context.Context, varRef int) ([]dap.Variable, error) {
	resp, err := s.cl.Variables(ctx, varRef)
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

func (s *Session) SetVariable(ctx context.Context, varRef int, name, value string) (*dap.SetVariableResponse, error) {
	return s.cl.SetVariable(ctx, varRef, name, value)
}

func (s *Session) Evaluate(ctx context.Context, expr string, frameID int, evalContext string) (*dap.EvaluateResponse, error) {
	return s.cl.Evaluate(ctx, expr, frameID, evalContext)
}

// SetExceptionBreakpoints replaces the adapter's active exception filters
// and records the new enabled/condition state on the session's filter list.
func (s *Session) SetExceptionBreakpoints(ctx context.Context, filters []string, opts []dap.ExceptionFilterOptions) error {
	if _, err := s.cl.SetExceptionBreakpoints(ctx, dap.SetExceptionBreakpointsArguments{Filters: filters, FilterOptions: opts}); err != nil {
		return err
	}

	enabled := make(map[string]bool, len(filters))
	for _, id := range filters {
		enabled[id] = true
	}
	conditions := make(map[string]string, len(opts))
	for _, o := range opts {
		conditions[o.FilterId] = o.Condition
	}

	s.mu.Lock()
	for i := range s.exceptionFilters {
		f := &s.exceptionFilters[i]
		f.Enabled = enabled[f.FilterID]
		f.Condition = conditions[f.FilterID]
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) ExceptionFilters() []ExceptionFilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExceptionFilterState, len(s.exceptionFilters))
	copy(out, s.exceptionFilters)
	return out
}
