// Package broker implements the service facade: the single entry point the
// front-end drives, aggregating sessions, watches, and console history, and
// emitting the broker's event stream.
package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/zixiao-technologies/logos-sub002/adaptermanager"
	"github.com/zixiao-technologies/logos-sub002/breakpoint"
	"github.com/zixiao-technologies/logos-sub002/errs"
	"github.com/zixiao-technologies/logos-sub002/internal/idgen"
	"github.com/zixiao-technologies/logos-sub002/launchconfig"
	"github.com/zixiao-technologies/logos-sub002/session"
)

// consoleHistoryLimit bounds the ring buffer so a long-lived facade never
// grows console history unboundedly.
const consoleHistoryLimit = 1000

// ConsoleMessage is one entry of a Session's bounded console history.
// Timestamp is left to the caller to stamp: the facade never calls
// time.Now() itself, so it stays deterministic in tests.
type ConsoleMessage struct {
	SessionID string
	Category  string
	Text      string
	Timestamp int64
}

// Watch is one user-created watch expression.
type Watch struct {
	ID         string
	Expression string
	Result     string
	Err        string
}

// Envelope is the {success, error?} reply shape every operation returns to
// the front-end.
type Envelope struct {
	Success bool
	Error   string
}

func ok() Envelope            { return Envelope{Success: true} }
func fail(err error) Envelope { return Envelope{Success: false, Error: err.Error()} }

// Events is the subscriber surface. Every field is
// optional; a facade with no subscriber set simply drops events.
type Events struct {
	SessionCreated       func(s *session.Session)
	SessionStateChanged  func(id string, state session.State)
	SessionTerminated    func(id string)
	Stopped              func(id, reason string, threadID int, allThreadsStopped bool)
	Continued            func(id string, threadID int, allThreadsContinued bool)
	Output               func(id, category, text string)
	BreakpointChanged    func(bp breakpoint.Breakpoint)
	BreakpointValidated  func(bp breakpoint.Breakpoint)
	BreakpointRemoved    func(id string)
	WatchAdded           func(w Watch)
	WatchUpdated         func(w Watch)
	WatchRemoved         func(id string)
	ConsoleMessage       func(id string, msg ConsoleMessage)
	StackTraceUpdated    func(id string, threadID int, frames []dap.StackFrame)
	ThreadsUpdated       func(id string, threads []session.Thread)
	ActiveSessionChanged func(id string)

	// RunInTerminal answers the adapter's reverse runInTerminal request: the
	// front-end launches the command and reports the resulting process id.
	// When unset the request is failed so the adapter is not left waiting.
	RunInTerminal func(id string, args dap.RunInTerminalRequestArguments) (dap.RunInTerminalResponseBody, error)
}

// Facade aggregates the broker's shared state. One per process is typical,
// but nothing prevents one per workspace.
type Facade struct {
	log logrus.FieldLogger
	mgr *adaptermanager.Manager
	reg *breakpoint.Registry
	ev  Events

	mu              sync.Mutex
	sessions        map[string]*session.Session
	activeSessionID string
	activeFilePath  string
	watches         map[string]*Watch
	console         map[string][]ConsoleMessage
	selectedFrames  map[string]int
}

// New constructs an empty Facade.
func New(mgr *adaptermanager.Manager, reg *breakpoint.Registry, ev Events, log logrus.FieldLogger) *Facade {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Facade{
		log:            log,
		mgr:            mgr,
		reg:            reg,
		ev:             ev,
		sessions:       make(map[string]*session.Session),
		watches:        make(map[string]*Watch),
		console:        make(map[string][]ConsoleMessage),
		selectedFrames: make(map[string]int),
	}
}

// StartSession resolves a transport via the Manager, wraps it in a
// Session, wires the breakpoint registry's reconciler to it while it is
// active, and runs the handshake.
func (f *Facade) StartSession(ctx context.Context, adapterType, name, workspaceFolder string, request string, configBody json.RawMessage) (*session.Session, Envelope) {
	tr, err := f.mgr.CreateTransport(adapterType, workspaceFolder)
	if err != nil {
		return nil, fail(err)
	}

	substituted := configBody
	if request != "attach" {
		substituted = launchconfig.SubstituteJSON(configBody, launchconfig.SubstitutionContext{
			WorkspaceFolder: workspaceFolder,
			ActiveFile:      f.ActiveFile(),
		})
	}

	s := session.New(adapterType, name, workspaceFolder, tr, f.reg, f.sessionHandlers(), f.log)
	s.Client().SetReverseHandler("runInTerminal", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		if f.ev.RunInTerminal == nil {
			return nil, errNoTerminalHandler
		}
		var args dap.RunInTerminalRequestArguments
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return f.ev.RunInTerminal(s.ID, args)
	})

	f.mu.Lock()
	f.sessions[s.ID] = s
	f.mu.Unlock()

	if err := s.Start(ctx, session.Config{Type: adapterType, Request: request, Name: name, WorkspaceFolder: workspaceFolder, Body: substituted}); err != nil {
		f.mu.Lock()
		delete(f.sessions, s.ID)
		f.mu.Unlock()
		return nil, fail(err)
	}

	f.mu.Lock()
	if f.activeSessionID == "" {
		f.activeSessionID = s.ID
	}
	isActive := f.activeSessionID == s.ID
	f.mu.Unlock()

	// During Start the session reconciled breakpoints itself (it reads the
	// registry directly); from here on, registry mutations reconcile against
	// the active session through this hook.
	if isActive {
		f.wireReconciler(s)
	}

	if f.ev.SessionCreated != nil {
		f.ev.SessionCreated(s)
	}
	if f.ev.ActiveSessionChanged != nil && isActive {
		f.ev.ActiveSessionChanged(s.ID)
	}
	return s, ok()
}

func (f *Facade) wireReconciler(s *session.Session) {
	f.reg.SetReconciler(func(ctx context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
		resp, err := s.Client().SetBreakpoints(ctx, dap.SetBreakpointsArguments{Source: dap.Source{Path: path}, Breakpoints: bps})
		if err != nil {
			return nil, err
		}
		return resp.Body.Breakpoints, nil
	})
}

func (f *Facade) sessionHandlers() session.Handlers {
	return session.Handlers{
		StateChanged: func(s *session.Session, newState session.State) {
			if f.ev.SessionStateChanged != nil {
				f.ev.SessionStateChanged(s.ID, newState)
			}
			if newState == session.Terminated {
				f.mu.Lock()
				delete(f.sessions, s.ID)
				delete(f.selectedFrames, s.ID)
				wasActive := f.activeSessionID == s.ID
				if wasActive {
					f.activeSessionID = ""
				}
				f.mu.Unlock()
				if wasActive {
					f.reg.SetReconciler(nil)
				}
				if f.ev.SessionTerminated != nil {
					f.ev.SessionTerminated(s.ID)
				}
			}
		},
		Stopped: func(s *session.Session, reason string, threadID int, allThreadsStopped bool) {
			if f.ev.Stopped != nil {
				f.ev.Stopped(s.ID, reason, threadID, allThreadsStopped)
			}
			// Watches follow the active session only.
			if f.GetActiveSession() == s {
				f.refreshAllWatchesForSession(context.Background(), s)
			}
		},
		Continued: func(s *session.Session, threadID int, allThreadsContinued bool) {
			// Frame ids are only valid while stopped.
			f.mu.Lock()
			delete(f.selectedFrames, s.ID)
			f.mu.Unlock()
			if f.ev.Continued != nil {
				f.ev.Continued(s.ID, threadID, allThreadsContinued)
			}
		},
		Output: func(s *session.Session, category, output string) {
			msg := ConsoleMessage{SessionID: s.ID, Category: category, Text: output}
			if category == "stderr" {
				msg.Category = "error"
			}
			f.appendConsole(s.ID, msg)
			if f.ev.ConsoleMessage != nil {
				f.ev.ConsoleMessage(s.ID, msg)
			}
			if f.ev.Output != nil {
				f.ev.Output(s.ID, msg.Category, msg.Text)
			}
		},
		BreakpointUpdated: func(s *session.Session, path string, bp dap.Breakpoint) {
			if f.ev.BreakpointValidated != nil {
				f.ev.BreakpointValidated(breakpoint.Breakpoint{Path: path, Line: bp.Line, Verified: bp.Verified})
			}
		},
		ThreadsUpdated: func(s *session.Session, threads []session.Thread) {
			if f.ev.ThreadsUpdated != nil {
				f.ev.ThreadsUpdated(s.ID, threads)
			}
		},
		StackTraceUpdated: func(s *session.Session, threadID int, frames []dap.StackFrame) {
			if f.ev.StackTraceUpdated != nil {
				f.ev.StackTraceUpdated(s.ID, threadID, frames)
			}
		},
	}
}

func (f *Facade) appendConsole(sessionID string, msg ConsoleMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := append(f.console[sessionID], msg)
	if len(history) > consoleHistoryLimit {
		history = history[len(history)-consoleHistoryLimit:]
	}
	f.console[sessionID] = history
}

// GetConsoleHistory returns the bounded console history for a session.
func (f *Facade) GetConsoleHistory(sessionID string) []ConsoleMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ConsoleMessage, len(f.console[sessionID]))
	copy(out, f.console[sessionID])
	return out
}

// StopSession stops one session; id defaults to the active session.
func (f *Facade) StopSession(ctx context.Context, id string) Envelope {
	s, err := f.resolveSession(id)
	if err != nil {
		return fail(err)
	}
	s.Stop(ctx)
	return ok()
}

// RestartSession restarts one session: adapter-native restart when
// supported, else a full stop-start cycle.
func (f *Facade) RestartSession(ctx context.Context, id string, configBody json.RawMessage) Envelope {
	s, err := f.resolveSession(id)
	if err != nil {
		return fail(err)
	}
	if !s.RestartRequiresFullCycle() {
		if err := s.Restart(ctx, configBody); err != nil {
			return fail(err)
		}
		return ok()
	}

	// Full stop-start cycle with the same config.
	cfg := s.StartConfig()
	if len(configBody) > 0 {
		cfg.Body = configBody
	}
	s.Stop(ctx)
	_, env := f.StartSession(ctx, s.AdapterType, s.Name, s.WorkspaceFolder, cfg.Request, cfg.Body)
	return env
}

func (f *Facade) resolveSession(id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		id = f.activeSessionID
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &errs.SessionStoppedError{}
	}
	return s, nil
}

// GetSessions returns every live session.
func (f *Facade) GetSessions() []*session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*session.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

// GetActiveSession returns the active session, or nil.
func (f *Facade) GetActiveSession() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[f.activeSessionID]
}

// SetActiveSession switches the active session. The breakpoint registry's
// reconcile hooks follow it.
func (f *Facade) SetActiveSession(id string) Envelope {
	f.mu.Lock()
	s, exists := f.sessions[id]
	if exists {
		f.activeSessionID = id
	}
	f.mu.Unlock()
	if !exists {
		return fail(&errs.SessionStoppedError{})
	}
	f.wireReconciler(s)
	if f.ev.ActiveSessionChanged != nil {
		f.ev.ActiveSessionChanged(id)
	}
	return ok()
}

// Execution control.

func (f *Facade) Continue(ctx context.Context, sessionID string, threadID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.Continue(ctx, threadID); err != nil {
		return fail(err)
	}
	return ok()
}

func (f *Facade) Pause(ctx context.Context, sessionID string, threadID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.Pause(ctx, threadID); err != nil {
		return fail(err)
	}
	return ok()
}

func (f *Facade) StepOver(ctx context.Context, sessionID string, threadID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.StepOver(ctx, threadID); err != nil {
		return fail(err)
	}
	return ok()
}

func (f *Facade) StepInto(ctx context.Context, sessionID string, threadID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.StepIn(ctx, threadID); err != nil {
		return fail(err)
	}
	return ok()
}

func (f *Facade) StepOut(ctx context.Context, sessionID string, threadID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.StepOut(ctx, threadID); err != nil {
		return fail(err)
	}
	return ok()
}

func (f *Facade) RestartFrame(ctx context.Context, sessionID string, frameID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.RestartFrame(ctx, frameID); err != nil {
		return fail(err)
	}
	return ok()
}

// Breakpoints — thin passthrough to the registry,
// which already reconciles to the active session on every mutation.

func (f *Facade) SetBreakpoint(ctx context.Context, path string, line int, opts breakpoint.Options) breakpoint.Breakpoint {
	bp := *f.reg.SetLine(ctx, path, line, opts)
	f.emitBreakpointChanged(bp.ID)
	return bp
}

func (f *Facade) RemoveBreakpoint(ctx context.Context, id string) Envelope {
	if !f.reg.Remove(ctx, id) {
		return fail(&errs.ConfigError{Path: id, Cause: errNoSuchBreakpoint})
	}
	if f.ev.BreakpointRemoved != nil {
		f.ev.BreakpointRemoved(id)
	}
	return ok()
}

func (f *Facade) ToggleBreakpoint(ctx context.Context, id string) Envelope {
	if !f.reg.ToggleEnabled(ctx, id) {
		return fail(&errs.ConfigError{Path: id, Cause: errNoSuchBreakpoint})
	}
	f.emitBreakpointChanged(id)
	return ok()
}

func (f *Facade) ToggleBreakpointAtLine(ctx context.Context, path string, line int) {
	added, removedID := f.reg.ToggleAtLine(ctx, path, line)
	switch {
	case added != nil:
		f.emitBreakpointChanged(added.ID)
	case removedID != "" && f.ev.BreakpointRemoved != nil:
		f.ev.BreakpointRemoved(removedID)
	}
}

func (f *Facade) EditBreakpoint(ctx context.Context, id string, opts breakpoint.Options) Envelope {
	if !f.reg.Edit(ctx, id, opts) {
		return fail(&errs.ConfigError{Path: id, Cause: errNoSuchBreakpoint})
	}
	f.emitBreakpointChanged(id)
	return ok()
}

// emitBreakpointChanged re-reads the breakpoint so the event carries any
// verified/line update the reconcile just applied.
func (f *Facade) emitBreakpointChanged(id string) {
	if f.ev.BreakpointChanged == nil {
		return
	}
	if bp, ok := f.reg.Get(id); ok {
		f.ev.BreakpointChanged(bp)
	}
}

func (f *Facade) GetAllBreakpoints() map[string][]breakpoint.Breakpoint { return f.reg.GetAll() }

func (f *Facade) GetBreakpointsForFile(path string) []breakpoint.Breakpoint {
	return f.reg.GetForFile(path)
}

func (f *Facade) SetExceptionBreakpoints(ctx context.Context, sessionID string, filters []string, opts []dap.ExceptionFilterOptions) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	if err := s.SetExceptionBreakpoints(ctx, filters, opts); err != nil {
		return fail(err)
	}
	return ok()
}

func (f *Facade) GetExceptionFilters(sessionID string) ([]session.ExceptionFilterState, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.ExceptionFilters(), nil
}

var (
	errNoSuchBreakpoint  = simpleErr("no such breakpoint")
	errNoSuchWatch       = simpleErr("no such watch")
	errNoTerminalHandler = simpleErr("no terminal handler registered")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// Inspection.

func (f *Facade) GetThreads(ctx context.Context, sessionID string) ([]session.Thread, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.GetThreads(ctx)
}

func (f *Facade) GetStackTrace(ctx context.Context, sessionID string, threadID int) ([]dap.StackFrame, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.GetStackTrace(ctx, threadID)
}

func (f *Facade) GetScopes(ctx context.Context, sessionID string, frameID int) ([]dap.Scope, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.GetScopes(ctx, frameID)
}

func (f *Facade) GetVariables(ctx context.Context, sessionID string, varRef int) ([]dap.Variable, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.GetVariables(ctx, varRef)
}

func (f *Facade) SetVariable(ctx context.Context, sessionID string, varRef int, name, value string) (*dap.SetVariableResponse, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.SetVariable(ctx, varRef, name, value)
}

func (f *Facade) Evaluate(ctx context.Context, sessionID, expr string, frameID int, evalContext string) (*dap.EvaluateResponse, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, expr, frameID, evalContext)
}

// SelectFrame records the frame ExecuteInConsole evaluates against; the
// other inspection operations take an explicit frame id, and watch refreshes
// use the session's current frame. This is facade-side UI state; the Session's
// own current frame only ever reflects the top frame of the latest stopped
// event.
func (f *Facade) SelectFrame(sessionID string, frameID int) Envelope {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return fail(err)
	}
	f.mu.Lock()
	f.selectedFrames[s.ID] = frameID
	f.mu.Unlock()
	return ok()
}

// frameForSession resolves the frame to evaluate against: the explicitly
// selected frame if any, else the session's current (top) frame.
func (f *Facade) frameForSession(s *session.Session) int {
	f.mu.Lock()
	frameID, selected := f.selectedFrames[s.ID]
	f.mu.Unlock()
	if selected {
		return frameID
	}
	frameID, _ = s.CurrentFrame()
	return frameID
}

// Watches.

func (f *Facade) AddWatch(expression string) Watch {
	w := Watch{ID: idgen.New(), Expression: expression}
	f.mu.Lock()
	f.watches[w.ID] = &w
	f.mu.Unlock()
	if f.ev.WatchAdded != nil {
		f.ev.WatchAdded(w)
	}
	return w
}

func (f *Facade) RemoveWatch(id string) Envelope {
	f.mu.Lock()
	_, exists := f.watches[id]
	delete(f.watches, id)
	f.mu.Unlock()
	if !exists {
		return fail(&errs.ConfigError{Path: id, Cause: errNoSuchWatch})
	}
	if f.ev.WatchRemoved != nil {
		f.ev.WatchRemoved(id)
	}
	return ok()
}

func (f *Facade) GetWatchExpressions() []Watch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Watch, 0, len(f.watches))
	for _, w := range f.watches {
		out = append(out, *w)
	}
	return out
}

func (f *Facade) RefreshWatch(ctx context.Context, id string) Envelope {
	s := f.GetActiveSession()
	if s == nil {
		return fail(&errs.SessionStoppedError{})
	}
	f.mu.Lock()
	w, exists := f.watches[id]
	f.mu.Unlock()
	if !exists {
		return fail(&errs.ConfigError{Path: id, Cause: errNoSuchWatch})
	}
	f.refreshWatch(ctx, s, w)
	return ok()
}

func (f *Facade) RefreshAllWatches(ctx context.Context) Envelope {
	s := f.GetActiveSession()
	if s == nil {
		return fail(&errs.SessionStoppedError{})
	}
	f.refreshAllWatchesForSession(ctx, s)
	return ok()
}

func (f *Facade) refreshAllWatchesForSession(ctx context.Context, s *session.Session) {
	f.mu.Lock()
	watches := make([]*Watch, 0, len(f.watches))
	for _, w := range f.watches {
		watches = append(watches, w)
	}
	f.mu.Unlock()
	for _, w := range watches {
		f.refreshWatch(ctx, s, w)
	}
}

func (f *Facade) refreshWatch(ctx context.Context, s *session.Session, w *Watch) {
	frameID, hasFrame := s.CurrentFrame()
	if !hasFrame {
		return
	}
	resp, err := s.Evaluate(ctx, w.Expression, frameID, "watch")
	f.mu.Lock()
	if err != nil {
		w.Err = err.Error()
		w.Result = ""
	} else {
		w.Err = ""
		w.Result = resp.Body.Result
	}
	snapshot := *w
	f.mu.Unlock()
	if f.ev.WatchUpdated != nil {
		f.ev.WatchUpdated(snapshot)
	}
}

// Console.

func (f *Facade) ExecuteInConsole(ctx context.Context, sessionID, command string) (*dap.EvaluateResponse, error) {
	s, err := f.resolveSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, command, f.frameForSession(s), "repl")
}

// Launch-config.

func (f *Facade) ReadLaunchConfig(workspaceFolder string) (launchconfig.ReadResult, error) {
	return launchconfig.Read(workspaceFolder)
}

func (f *Facade) WriteLaunchConfig(workspaceFolder string, config []byte) error {
	return launchconfig.Write(workspaceFolder, config)
}

func (f *Facade) GetDefaultLaunchConfig(adapterType string) launchconfig.Configuration {
	return launchconfig.DefaultLaunchConfig(adapterType)
}

func (f *Facade) AutoGenerateConfigurations(workspaceFolder string) []launchconfig.Configuration {
	return launchconfig.AutoGenerateConfigurations(workspaceFolder)
}

func (f *Facade) ImportFromVSCode(workspaceFolder string) error {
	return launchconfig.ImportFromVSCode(workspaceFolder)
}

// Adapters.

func (f *Facade) GetAvailableAdapters() []adaptermanager.Descriptor { return f.mgr.GetAvailableAdapters() }
func (f *Facade) GetInstalledAdapters() []adaptermanager.Descriptor { return f.mgr.GetInstalledAdapters() }
func (f *Facade) DetectDebuggers(workspaceFolder string) []launchconfig.DetectedAdapter {
	return f.mgr.DetectDebuggers(workspaceFolder)
}

// Active file.

func (f *Facade) SetActiveFile(path string) {
	f.mu.Lock()
	f.activeFilePath = path
	f.mu.Unlock()
}

func (f *Facade) ActiveFile() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeFilePath
}

// Cleanup stops every Session; call it when tearing the facade down.
func (f *Facade) Cleanup(ctx context.Context) {
	for _, s := range f.GetSessions() {
		s.Stop(ctx)
	}
}
