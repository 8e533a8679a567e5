package client

import (
	"context"

	"github.com/google/go-dap"

	"github.com/zixiao-technologies/logos-sub002/errs"
)

// clientCapabilities is the fixed client-capability payload sent with every
// initialize request.
func clientCapabilities(adapterID string) dap.InitializeRequestArguments {
	return dap.InitializeRequestArguments{
		ClientID:                      "logos",
		ClientName:                    "Logos",
		AdapterID:                     adapterID,
		PathFormat:                    "path",
		LinesStartAt1:                 true,
		ColumnsStartAt1:               true,
		SupportsVariableType:          true,
		SupportsVariablePaging:        true,
		SupportsRunInTerminalRequest:  true,
		SupportsMemoryReferences:      true,
		SupportsProgressReporting:     true,
		SupportsInvalidatedEvent:      true,
		SupportsMemoryEvent:           true,
	}
}

// Initialize sends the fixed client-capability payload and stores the
// adapter's reported capabilities for later gating.
func (c *Client) Initialize(ctx context.Context, adapterID string) (dap.Capabilities, error) {
	req := &dap.InitializeRequest{
		Request:   dap.Request{Command: "initialize"},
		Arguments: clientCapabilities(adapterID),
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return dap.Capabilities{}, err
	}
	initResp, ok := resp.(*dap.InitializeResponse)
	if !ok {
		return dap.Capabilities{}, &errs.AdapterError{Command: "initialize", Message: "unexpected response type"}
	}

	c.capMu.Lock()
	c.capabilities = initResp.Body
	c.capMu.Unlock()
	return initResp.Body, nil
}

// Capabilities returns the capabilities recorded from the initialize
// response.
func (c *Client) Capabilities() dap.Capabilities {
	c.capMu.RLock()
	defer c.capMu.RUnlock()
	return c.capabilities
}

func (c *Client) Launch(ctx context.Context, args []byte) (*dap.LaunchResponse, error) {
	req := &dap.LaunchRequest{Request: dap.Request{Command: "launch"}, Arguments: args}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.LaunchResponse), nil
}

func (c *Client) Attach(ctx context.Context, args []byte) (*dap.AttachResponse, error) {
	req := &dap.AttachRequest{Request: dap.Request{Command: "attach"}, Arguments: args}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.AttachResponse), nil
}

func (c *Client) SetBreakpoints(ctx context.Context, args dap.SetBreakpointsArguments) (*dap.SetBreakpointsResponse, error) {
	req := &dap.SetBreakpointsRequest{Request: dap.Request{Command: "setBreakpoints"}, Arguments: args}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SetBreakpointsResponse), nil
}

func (c *Client) SetExceptionBreakpoints(ctx context.Context, args dap.SetExceptionBreakpointsArguments) (*dap.SetExceptionBreakpointsResponse, error) {
	req := &dap.SetExceptionBreakpointsRequest{Request: dap.Request{Command: "setExceptionBreakpoints"}, Arguments: args}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SetExceptionBreakpointsResponse), nil
}

func (c *Client) ConfigurationDone(ctx context.Context) (*dap.ConfigurationDoneResponse, error) {
	req := &dap.ConfigurationDoneRequest{Request: dap.Request{Command: "configurationDone"}}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ConfigurationDoneResponse), nil
}

func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) (*dap.DisconnectResponse, error) {
	req := &dap.DisconnectRequest{
		Request:   dap.Request{Command: "disconnect"},
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.DisconnectResponse), nil
}

// Terminate is capability-gated: if the adapter does not advertise
// supportsTerminateRequest, it degrades to disconnect(terminateDebuggee:
// true) rather than failing.
func (c *Client) Terminate(ctx context.Context) error {
	if !c.Capabilities().SupportsTerminateRequest {
		_, err := c.Disconnect(ctx, true)
		return err
	}
	req := &dap.TerminateRequest{Request: dap.Request{Command: "terminate"}}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) Restart(ctx context.Context, args []byte) error {
	if !c.Capabilities().SupportsRestartRequest {
		return &errs.UnsupportedError{Command: "restart"}
	}
	req := &dap.RestartRequest{Request: dap.Request{Command: "restart"}, Arguments: args}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) RestartFrame(ctx context.Context, frameID int) error {
	if !c.Capabilities().SupportsRestartFrame {
		return &errs.UnsupportedError{Command: "restartFrame"}
	}
	req := &dap.RestartFrameRequest{
		Request:   dap.Request{Command: "restartFrame"},
		Arguments: dap.RestartFrameArguments{FrameId: frameID},
	}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) Continue(ctx context.Context, threadID int) (*dap.ContinueResponse, error) {
	req := &dap.ContinueRequest{
		Request:   dap.Request{Command: "continue"},
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ContinueResponse), nil
}

func (c *Client) Pause(ctx context.Context, threadID int) error {
	req := &dap.PauseRequest{Request: dap.Request{Command: "pause"}, Arguments: dap.PauseArguments{ThreadId: threadID}}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) StepOver(ctx context.Context, threadID int) error {
	req := &dap.NextRequest{Request: dap.Request{Command: "next"}, Arguments: dap.NextArguments{ThreadId: threadID}}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) StepIn(ctx context.Context, threadID int) error {
	req := &dap.StepInRequest{Request: dap.Request{Command: "stepIn"}, Arguments: dap.StepInArguments{ThreadId: threadID}}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) StepOut(ctx context.Context, threadID int) error {
	req := &dap.StepOutRequest{Request: dap.Request{Command: "stepOut"}, Arguments: dap.StepOutArguments{ThreadId: threadID}}
	_, err := c.Request(ctx, req)
	return err
}

func (c *Client) Threads(ctx context.Context) (*dap.ThreadsResponse, error) {
	req := &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ThreadsResponse), nil
}

func (c *Client) StackTrace(ctx context.Context, threadID int) (*dap.StackTraceResponse, error) {
	req := &dap.StackTraceRequest{
		Request:   dap.Request{Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{ThreadId: threadID},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.StackTraceResponse), nil
}

func (c *Client) Scopes(ctx context.Context, frameID int) (*dap.ScopesResponse, error) {
	req := &dap.ScopesRequest{Request: dap.Request{Command: "scopes"}, Arguments: dap.ScopesArguments{FrameId: frameID}}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ScopesResponse), nil
}

func (c *Client) Variables(ctx context.Context, varRef int) (*dap.VariablesResponse, error) {
	req := &dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: varRef},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.VariablesResponse), nil
}

func (c *Client) SetVariable(ctx context.Context, varRef int, name, value string) (*dap.SetVariableResponse, error) {
	req := &dap.SetVariableRequest{
		Request:   dap.Request{Command: "setVariable"},
		Arguments: dap.SetVariableArguments{VariablesReference: varRef, Name: name, Value: value},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SetVariableResponse), nil
}

func (c *Client) Evaluate(ctx context.Context, expr string, frameID int, evalContext string) (*dap.EvaluateResponse, error) {
	req := &dap.EvaluateRequest{
		Request:   dap.Request{Command: "evaluate"},
		Arguments: dap.EvaluateArguments{Expression: expr, FrameId: frameID, Context: evalContext},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.EvaluateResponse), nil
}

func (c *Client) Source(ctx context.Context, source dap.Source, sourceReference int) (*dap.SourceResponse, error) {
	req := &dap.SourceRequest{
		Request:   dap.Request{Command: "source"},
		Arguments: dap.SourceArguments{Source: &source, SourceReference: sourceReference},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SourceResponse), nil
}

func (c *Client) StepInTargets(ctx context.Context, frameID int) (*dap.StepInTargetsResponse, error) {
	if !c.Capabilities().SupportsStepInTargetsRequest {
		return nil, &errs.UnsupportedError{Command: "stepInTargets"}
	}
	req := &dap.StepInTargetsRequest{
		Request:   dap.Request{Command: "stepInTargets"},
		Arguments: dap.StepInTargetsArguments{FrameId: frameID},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.StepInTargetsResponse), nil
}

func (c *Client) Completions(ctx context.Context, text string, column, frameID int) (*dap.CompletionsResponse, error) {
	if !c.Capabilities().SupportsCompletionsRequest {
		return nil, &errs.UnsupportedError{Command: "completions"}
	}
	req := &dap.CompletionsRequest{
		Request:   dap.Request{Command: "completions"},
		Arguments: dap.CompletionsArguments{Text: text, Column: column, FrameId: frameID},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.CompletionsResponse), nil
}

func (c *Client) ReadMemory(ctx context.Context, memoryReference string, offset, count int) (*dap.ReadMemoryResponse, error) {
	if !c.Capabilities().SupportsReadMemoryRequest {
		return nil, &errs.UnsupportedError{Command: "readMemory"}
	}
	req := &dap.ReadMemoryRequest{
		Request:   dap.Request{Command: "readMemory"},
		Arguments: dap.ReadMemoryArguments{MemoryReference: memoryReference, Offset: offset, Count: count},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ReadMemoryResponse), nil
}

func (c *Client) WriteMemory(ctx context.Context, memoryReference string, offset int, data string) (*dap.WriteMemoryResponse, error) {
	if !c.Capabilities().SupportsWriteMemoryRequest {
		return nil, &errs.UnsupportedError{Command: "writeMemory"}
	}
	req := &dap.WriteMemoryRequest{
		Request:   dap.Request{Command: "writeMemory"},
		Arguments: dap.WriteMemoryArguments{MemoryReference: memoryReference, Offset: offset, Data: data},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.WriteMemoryResponse), nil
}

func (c *Client) Modules(ctx context.Context, startModule, moduleCount int) (*dap.ModulesResponse, error) {
	if !c.Capabilities().SupportsModulesRequest {
		return nil, &errs.UnsupportedError{Command: "modules"}
	}
	req := &dap.ModulesRequest{
		Request:   dap.Request{Command: "modules"},
		Arguments: dap.ModulesArguments{StartModule: startModule, ModuleCount: moduleCount},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ModulesResponse), nil
}

func (c *Client) ExceptionInfo(ctx context.Context, threadID int) (*dap.ExceptionInfoResponse, error) {
	if !c.Capabilities().SupportsExceptionInfoRequest {
		return nil, &errs.UnsupportedError{Command: "exceptionInfo"}
	}
	req := &dap.ExceptionInfoRequest{
		Request:   dap.Request{Command: "exceptionInfo"},
		Arguments: dap.ExceptionInfoArguments{ThreadId: threadID},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ExceptionInfoResponse), nil
}

func (c *Client) Disassemble(ctx context.Context, memoryReference string, instructionCount int) (*dap.DisassembleResponse, error) {
	if !c.Capabilities().SupportsDisassembleRequest {
		return nil, &errs.UnsupportedError{Command: "disassemble"}
	}
	req := &dap.DisassembleRequest{
		Request: dap.Request{Command: "disassemble"},
		Arguments: dap.DisassembleArguments{
			MemoryReference:  memoryReference,
			InstructionCount: instructionCount,
		},
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.DisassembleResponse), nil
}
