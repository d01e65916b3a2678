// Package adapter implements C10: the Adapter façade that terminates the
// DebugProtocol side of this core, per spec.md §4.11. It owns no
// transport of its own — Serve reads/writes whatever io.Reader/Writer the
// caller hands it — and dispatches each request to the collaborator
// package that actually implements it (internal/thread, internal/stack,
// internal/variables, internal/breakpoints, internal/targets,
// internal/predictor, internal/custombp).
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	dap "github.com/google/go-dap"

	"jsdebugcore/internal/breakpoints"
	"jsdebugcore/internal/config"
	"jsdebugcore/internal/custombp"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/pathresolver"
	"jsdebugcore/internal/predictor"
	"jsdebugcore/internal/preview"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/sources"
	"jsdebugcore/internal/stack"
	"jsdebugcore/internal/targets"
	"jsdebugcore/internal/thread"
	"jsdebugcore/internal/variables"
)

// revealThreadID is the reserved synthetic thread id spec.md §4.11 names
// for revealLocation: 0xE8D4A50FFF.
const revealThreadID = 0xE8D4A50FFF

// Logger is the narrow logging surface this package needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Navigator points the attached target at a URL after launch, per the
// `url` launch option (spec.md §6). Kept as an injected function, not a
// concrete Page domain import, so this package doesn't need to know which
// session currently owns the page.
type Navigator func(ctx context.Context, url string) error

// Adapter is C10.
type Adapter struct {
	sendMu sync.Mutex
	out    io.Writer
	seq    int

	logger Logger

	sources     *sources.Container
	breakpoints *breakpoints.Manager
	targetsMgr  *targets.Manager
	predictor   *predictor.Predictor
	resolver    *pathresolver.Resolver
	cfg         config.Launch
	navigate    Navigator

	mu                sync.Mutex
	scriptSources     map[string]*sources.Source // scriptId -> compiled Source
	enabledCustomBP   map[string]string          // catalog id -> DOMDebugger target
	pauseOnExceptions rp.PauseOnExceptionsState
	cancelTokens      map[int]context.CancelFunc
	revealFrame       *revealSnapshot
}

// revealSnapshot is the ephemeral, single-frame stack revealLocation
// synthesizes, per spec.md §4.11.
type revealSnapshot struct {
	ui location.UiLocation
}

// Config bundles an Adapter's construction-time collaborators. Everything
// here is built and owned by the wiring layer (internal/session); the
// adapter only consumes it.
type Config struct {
	Sources     *sources.Container
	Breakpoints *breakpoints.Manager
	Targets     *targets.Manager
	Predictor   *predictor.Predictor
	Resolver    *pathresolver.Resolver
	Launch      config.Launch
	Navigate    Navigator
}

// New builds an Adapter writing DP messages to out.
func New(out io.Writer, cfg Config, logger Logger) *Adapter {
	return &Adapter{
		out:             out,
		logger:          logger,
		sources:         cfg.Sources,
		breakpoints:     cfg.Breakpoints,
		targetsMgr:      cfg.Targets,
		predictor:       cfg.Predictor,
		resolver:        cfg.Resolver,
		cfg:             cfg.Launch,
		navigate:        cfg.Navigate,
		scriptSources:     map[string]*sources.Source{},
		enabledCustomBP:   map[string]string{},
		pauseOnExceptions: rp.PauseOnExceptionsNone,
		cancelTokens:      map[int]context.CancelFunc{},
	}
}

// Send implements thread.Sink and breakpoints.Sink, letting this Adapter
// be handed directly to both as their event sink.
func (a *Adapter) Send(m dap.Message) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	_ = dap.WriteProtocolMessage(a.out, m)
}

func (a *Adapter) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Serve reads framed DP requests from r until EOF or a fatal read error,
// dispatching each to its handler. Every decoded request is handled on its
// own goroutine, so a slow handler does not block the requests read after
// it; handlers may therefore run, and respond, out of request order.
func (a *Adapter) Serve(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		raw, err := readFrame(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		req, err := decodeRequest(raw)
		if err != nil {
			a.logf("adapter: %v", err)
			continue
		}
		go a.handle(ctx, req)
	}
}

// readFrame parses one DAP wire frame: a "Content-Length: N\r\n\r\n"
// header followed by N bytes of JSON. spec.md names a non-standard
// request (updateCustomBreakpoints) go-dap's own decode table has no
// entry for, so requests are decoded locally against the concrete go-dap
// argument types rather than through dap.ReadProtocolMessage.
func readFrame(br *bufio.Reader) ([]byte, error) {
	var length int
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
			if err != nil {
				return nil, fmt.Errorf("adapter: bad Content-Length %q: %w", line, err)
			}
			length = n
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// envelope sniffs the fields every DP request shares, before dispatching
// to the concrete argument shape.
type envelope struct {
	Seq     int    `json:"seq"`
	Command string `json:"command"`
}

// updateCustomBreakpointsArguments mirrors vscode-js-debug's non-standard
// custom request body: a set of catalog ids to enable/disable. Entries
// carry no event-listener target; listener breakpoints are applied with
// an empty target.
type updateCustomBreakpointsArguments struct {
	Breakpoints []struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	} `json:"breakpoints"`
}

type updateCustomBreakpointsRequest struct {
	dap.Request
	Arguments updateCustomBreakpointsArguments `json:"arguments"`
}

func decodeRequest(raw []byte) (dap.Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("adapter: decoding envelope: %w", err)
	}

	var msg dap.Message
	switch env.Command {
	case "initialize":
		msg = &dap.InitializeRequest{}
	case "launch":
		msg = &dap.LaunchRequest{}
	case "configurationDone":
		msg = &dap.ConfigurationDoneRequest{}
	case "terminate":
		msg = &dap.TerminateRequest{}
	case "disconnect":
		msg = &dap.DisconnectRequest{}
	case "restart":
		msg = &dap.RestartRequest{}
	case "threads":
		msg = &dap.ThreadsRequest{}
	case "continue":
		msg = &dap.ContinueRequest{}
	case "pause":
		msg = &dap.PauseRequest{}
	case "next":
		msg = &dap.NextRequest{}
	case "stepIn":
		msg = &dap.StepInRequest{}
	case "stepOut":
		msg = &dap.StepOutRequest{}
	case "restartFrame":
		msg = &dap.RestartFrameRequest{}
	case "stackTrace":
		msg = &dap.StackTraceRequest{}
	case "scopes":
		msg = &dap.ScopesRequest{}
	case "variables":
		msg = &dap.VariablesRequest{}
	case "setVariable":
		msg = &dap.SetVariableRequest{}
	case "evaluate":
		msg = &dap.EvaluateRequest{}
	case "completions":
		msg = &dap.CompletionsRequest{}
	case "loadedSources":
		msg = &dap.LoadedSourcesRequest{}
	case "source":
		msg = &dap.SourceRequest{}
	case "setBreakpoints":
		msg = &dap.SetBreakpointsRequest{}
	case "setExceptionBreakpoints":
		msg = &dap.SetExceptionBreakpointsRequest{}
	case "exceptionInfo":
		msg = &dap.ExceptionInfoRequest{}
	case "readMemory":
		msg = &dap.ReadMemoryRequest{}
	case "writeMemory":
		msg = &dap.WriteMemoryRequest{}
	case "cancel":
		msg = &dap.CancelRequest{}
	case "updateCustomBreakpoints":
		msg = &updateCustomBreakpointsRequest{}
	default:
		return nil, fmt.Errorf("adapter: unsupported command %q", env.Command)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("adapter: decoding %s: %w", env.Command, err)
	}
	return msg, nil
}

func (a *Adapter) handle(ctx context.Context, req dap.Message) {
	// Register this request's cancellation token under its seq, so a
	// later DP cancel naming it can trip the context its handler runs with.
	ctx, cancel := context.WithCancel(ctx)
	seq := req.GetSeq()
	a.mu.Lock()
	a.cancelTokens[seq] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.cancelTokens, seq)
		a.mu.Unlock()
		cancel()
	}()

	switch r := req.(type) {
	case *dap.InitializeRequest:
		a.onInitialize(r)
	case *dap.LaunchRequest:
		a.onLaunch(ctx, r)
	case *dap.ConfigurationDoneRequest:
		a.onConfigurationDone(r)
	case *dap.TerminateRequest:
		a.onTerminate(ctx, r)
	case *dap.DisconnectRequest:
		a.onDisconnect(ctx, r)
	case *dap.RestartRequest:
		a.onRestart(r)
	case *dap.ThreadsRequest:
		a.onThreads(r)
	case *dap.ContinueRequest:
		a.onContinue(ctx, r)
	case *dap.PauseRequest:
		a.onPause(ctx, r)
	case *dap.NextRequest:
		a.onStep(ctx, r.Seq, "next", r.Arguments.ThreadId)
	case *dap.StepInRequest:
		a.onStep(ctx, r.Seq, "stepIn", r.Arguments.ThreadId)
	case *dap.StepOutRequest:
		a.onStep(ctx, r.Seq, "stepOut", r.Arguments.ThreadId)
	case *dap.RestartFrameRequest:
		a.onRestartFrame(ctx, r)
	case *dap.StackTraceRequest:
		a.onStackTrace(r)
	case *dap.ScopesRequest:
		a.onScopes(r)
	case *dap.VariablesRequest:
		a.onVariables(ctx, r)
	case *dap.SetVariableRequest:
		a.onSetVariable(ctx, r)
	case *dap.EvaluateRequest:
		a.onEvaluate(ctx, r)
	case *dap.CompletionsRequest:
		a.onCompletions(ctx, r)
	case *dap.LoadedSourcesRequest:
		a.onLoadedSources(r)
	case *dap.SourceRequest:
		a.onSource(ctx, r)
	case *dap.SetBreakpointsRequest:
		a.onSetBreakpoints(ctx, r)
	case *dap.SetExceptionBreakpointsRequest:
		a.onSetExceptionBreakpoints(ctx, r)
	case *dap.ExceptionInfoRequest:
		a.onExceptionInfo(r)
	case *dap.ReadMemoryRequest:
		a.onReadMemory(ctx, r)
	case *dap.WriteMemoryRequest:
		a.onWriteMemory(ctx, r)
	case *dap.CancelRequest:
		a.onCancel(r)
	case *updateCustomBreakpointsRequest:
		a.onUpdateCustomBreakpoints(ctx, r)
	default:
		a.logf("adapter: no handler for %T", req)
	}
}

func (a *Adapter) nextSeq() int {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	a.seq++
	return a.seq
}

// baseResponse builds the envelope every concrete go-dap ...Response type
// embeds. Handlers fill in the concrete type and its Body themselves,
// since go-dap models each response as its own struct rather than a
// generic one with an `any` body.
func (a *Adapter) baseResponse(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
		RequestSeq:      requestSeq,
		Success:         true,
		Command:         command,
	}
}

// customResponse answers the one DP request spec.md §6 names that go-dap
// has no concrete type for (updateCustomBreakpoints): a bare envelope with
// no body, built the same way go-dap's own no-body responses are shaped.
type customResponse struct {
	dap.Response
}

func (a *Adapter) respondEmpty(requestSeq int, command string) {
	a.Send(&customResponse{Response: a.baseResponse(requestSeq, command)})
}

// silentError implements spec.md §7's SilentError: the IDE only learns the
// request failed, with no user-facing message.
func (a *Adapter) silentError(requestSeq int, command, message string) {
	a.sendError(requestSeq, command, message, false)
}

// userError implements spec.md §7's UserError: surfaced in the IDE UI.
func (a *Adapter) userError(requestSeq int, command, message string) {
	a.sendError(requestSeq, command, message, true)
}

func (a *Adapter) sendError(requestSeq int, command, message string, showUser bool) {
	resp := &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
			RequestSeq:      requestSeq,
			Success:         false,
			Command:         command,
			Message:         message,
		},
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{Format: message, ShowUser: showUser},
		},
	}
	a.Send(resp)
}

func (a *Adapter) onInitialize(r *dap.InitializeRequest) {
	caps := dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsConditionalBreakpoints:   true,
		SupportsSetVariable:              true,
		SupportsRestartFrame:             true,
		SupportsCompletionsRequest:       true,
		SupportsExceptionInfoRequest:     true,
		SupportsDelayedStackTraceLoading: true,
		SupportsLoadedSourcesRequest:     true,
		SupportsRestartRequest:           true,
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
			{Filter: "caught", Label: "Caught Exceptions", Default: false},
			{Filter: "uncaught", Label: "Uncaught Exceptions", Default: true},
		},
	}
	a.Send(&dap.InitializeResponse{Response: a.baseResponse(r.Seq, "initialize"), Body: caps})
	a.Send(&dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})
}

// onLaunch kicks off the breakpoint predictor's scan in parallel with
// navigation, per spec.md §4.4 ("runs once per root directory at launch,
// in parallel with connection setup").
func (a *Adapter) onLaunch(ctx context.Context, r *dap.LaunchRequest) {
	if a.predictor != nil {
		go a.predictor.PrepareToPredict(ctx, a.cfg)
	}
	if a.navigate != nil && a.cfg.URL != "" {
		go func() {
			if err := a.navigate(ctx, a.cfg.URL); err != nil {
				a.logf("adapter: navigate: %v", err)
			}
		}()
	}
	a.Send(&dap.LaunchResponse{Response: a.baseResponse(r.Seq, "launch")})
}

func (a *Adapter) onConfigurationDone(r *dap.ConfigurationDoneRequest) {
	a.Send(&dap.ConfigurationDoneResponse{Response: a.baseResponse(r.Seq, "configurationDone")})
}

func (a *Adapter) onTerminate(ctx context.Context, r *dap.TerminateRequest) {
	for _, th := range a.targetsMgr.Threads() {
		th.Dispose()
	}
	a.Send(&dap.TerminateResponse{Response: a.baseResponse(r.Seq, "terminate")})
	a.Send(&dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}})
}

func (a *Adapter) onDisconnect(ctx context.Context, r *dap.DisconnectRequest) {
	for _, th := range a.targetsMgr.Threads() {
		th.Dispose()
	}
	a.Send(&dap.DisconnectResponse{Response: a.baseResponse(r.Seq, "disconnect")})
	a.Send(&dap.ExitedEvent{Event: dap.Event{Event: "exited"}, Body: dap.ExitedEventBody{ExitCode: 0}})
}

func (a *Adapter) onRestart(r *dap.RestartRequest) {
	a.Send(&dap.RestartResponse{Response: a.baseResponse(r.Seq, "restart")})
}

func (a *Adapter) onThreads(r *dap.ThreadsRequest) {
	var threads []dap.Thread
	for _, th := range a.targetsMgr.Threads() {
		threads = append(threads, dap.Thread{Id: th.ID(), Name: fmt.Sprintf("thread %d", th.ID())})
	}
	if a.revealFrame != nil {
		threads = append(threads, dap.Thread{Id: revealThreadID, Name: "reveal"})
	}
	a.Send(&dap.ThreadsResponse{Response: a.baseResponse(r.Seq, "threads"), Body: dap.ThreadsResponseBody{Threads: threads}})
}

// findThread resolves a DP threadId to the owning Thread, per spec.md
// §4.11's "thread not found" silent-error policy.
func (a *Adapter) findThread(id int) (*thread.Thread, bool) {
	for _, th := range a.targetsMgr.Threads() {
		if th.ID() == id {
			return th, true
		}
	}
	return nil, false
}

// findFrame resolves a DP frameId via linear search across every thread's
// paused stack trace, per spec.md §4.11.
func (a *Adapter) findFrame(id int) (*thread.Thread, *stack.Frame, bool) {
	for _, th := range a.targetsMgr.Threads() {
		paused, ok := th.Paused()
		if !ok {
			continue
		}
		if f, ok := paused.Stack.FrameByID(id); ok {
			return th, f, true
		}
	}
	return nil, nil, false
}

func (a *Adapter) onContinue(ctx context.Context, r *dap.ContinueRequest) {
	th, ok := a.findThread(r.Arguments.ThreadId)
	if !ok {
		a.silentError(r.Seq, "continue", "Thread not found")
		return
	}
	ok2, err := th.Continue(ctx)
	if err != nil || !ok2 {
		a.silentError(r.Seq, "continue", "Thread not found")
		return
	}
	a.Send(&dap.ContinueResponse{Response: a.baseResponse(r.Seq, "continue"), Body: dap.ContinueResponseBody{AllThreadsContinued: false}})
}

func (a *Adapter) onPause(ctx context.Context, r *dap.PauseRequest) {
	th, ok := a.findThread(r.Arguments.ThreadId)
	if !ok {
		a.silentError(r.Seq, "pause", "Thread not found")
		return
	}
	if _, err := th.Pause(ctx); err != nil {
		a.silentError(r.Seq, "pause", "Thread not found")
		return
	}
	a.Send(&dap.PauseResponse{Response: a.baseResponse(r.Seq, "pause")})
}

func (a *Adapter) onStep(ctx context.Context, seq int, command string, threadID int) {
	th, ok := a.findThread(threadID)
	if !ok {
		a.silentError(seq, command, "Thread not found")
		return
	}
	var err error
	switch command {
	case "next":
		_, err = th.StepOver(ctx)
	case "stepIn":
		_, err = th.StepInto(ctx)
	case "stepOut":
		_, err = th.StepOut(ctx)
	}
	if err != nil {
		a.silentError(seq, command, "Thread not found")
		return
	}
	switch command {
	case "next":
		a.Send(&dap.NextResponse{Response: a.baseResponse(seq, command)})
	case "stepIn":
		a.Send(&dap.StepInResponse{Response: a.baseResponse(seq, command)})
	case "stepOut":
		a.Send(&dap.StepOutResponse{Response: a.baseResponse(seq, command)})
	}
}

func (a *Adapter) onRestartFrame(ctx context.Context, r *dap.RestartFrameRequest) {
	th, _, ok := a.findFrame(r.Arguments.FrameId)
	if !ok {
		a.silentError(r.Seq, "restartFrame", "Thread not found")
		return
	}
	if err := th.RestartFrame(ctx, r.Arguments.FrameId); err != nil {
		a.userError(r.Seq, "restartFrame", err.Error())
		return
	}
	a.Send(&dap.RestartFrameResponse{Response: a.baseResponse(r.Seq, "restartFrame")})
}

// uiSourceFor resolves the DP dap.Source describing the compiled/original
// source a frame's raw location belongs to, tracking scriptId->Source
// itself since spec.md's SourceContainer only indexes by URL (compiled
// scripts are announced with a scriptId long before any breakpoint names
// their URL).
func (a *Adapter) uiSourceFor(raw location.Location) (*sources.Source, bool) {
	if raw.ScriptID != "" {
		a.mu.Lock()
		s, ok := a.scriptSources[raw.ScriptID]
		a.mu.Unlock()
		if ok {
			return s, true
		}
	}
	if raw.URL != "" {
		return a.sources.ByURL(raw.URL)
	}
	return nil, false
}

func dapSourceFor(s *sources.Source) *dap.Source {
	if s == nil {
		return nil
	}
	if rp := s.ResolvedPath(); rp != nil {
		return &dap.Source{Name: rp.Name, Path: rp.AbsolutePath}
	}
	return &dap.Source{Name: s.URL(), SourceReference: s.Ref()}
}

func (a *Adapter) onStackTrace(r *dap.StackTraceRequest) {
	th, ok := a.findThread(r.Arguments.ThreadId)
	if !ok {
		if r.Arguments.ThreadId == revealThreadID && a.revealFrame != nil {
			a.respondRevealStack(r)
			return
		}
		a.silentError(r.Seq, "stackTrace", "Thread not found")
		return
	}
	paused, ok := th.Paused()
	if !ok {
		a.silentError(r.Seq, "stackTrace", "Thread not found")
		return
	}

	frames := paused.Stack.Frames()
	start := r.Arguments.StartFrame
	levels := r.Arguments.Levels
	if levels <= 0 || start+levels > len(frames) {
		levels = len(frames) - start
	}
	if start < 0 || start > len(frames) {
		start = len(frames)
		levels = 0
	}

	out := make([]dap.StackFrame, 0, levels)
	for _, f := range frames[start : start+levels] {
		out = append(out, a.renderFrame(f))
	}
	a.Send(&dap.StackTraceResponse{
		Response: a.baseResponse(r.Seq, "stackTrace"),
		Body:     dap.StackTraceResponseBody{StackFrames: out, TotalFrames: paused.Stack.TotalFrames()},
	})
}

func (a *Adapter) renderFrame(f *stack.Frame) dap.StackFrame {
	if f.IsAsyncSeparator {
		return dap.StackFrame{Id: f.ID, Name: f.Name, PresentationHint: "label"}
	}
	name := f.Name
	if name == "" {
		name = "(anonymous)"
	}
	src, ok := a.uiSourceFor(f.RawLocation)
	sf := dap.StackFrame{Id: f.ID, Name: name}
	if !ok {
		sf.Line, sf.Column = f.RawLocation.LineNumber+1, f.RawLocation.ColumnNumber+1
		return sf
	}
	ui := f.UiLocation(a.sources, src)
	sf.Source = dapSourceFor(uiSourceObject(a.sources, src, ui))
	sf.Line, sf.Column = ui.LineNumber, ui.ColumnNumber
	return sf
}

// uiSourceObject resolves the *sources.Source that actually owns a
// UiLocation (which may be an original source nested under the compiled
// one), falling back to the compiled source itself.
func uiSourceObject(c *sources.Container, compiled *sources.Source, ui location.UiLocation) *sources.Source {
	if ui.SourceRef == compiled.Ref() {
		return compiled
	}
	if s, ok := c.BySourceReference(ui.SourceRef); ok {
		return s
	}
	return compiled
}

func (a *Adapter) respondRevealStack(r *dap.StackTraceRequest) {
	rf := a.revealFrame
	a.Send(&dap.StackTraceResponse{
		Response: a.baseResponse(r.Seq, "stackTrace"),
		Body: dap.StackTraceResponseBody{
			StackFrames: []dap.StackFrame{{
				Id:     revealThreadID,
				Name:   "goto",
				Line:   rf.ui.LineNumber,
				Column: rf.ui.ColumnNumber,
			}},
			TotalFrames: 1,
		},
	})
}

func (a *Adapter) onScopes(r *dap.ScopesRequest) {
	th, f, ok := a.findFrame(r.Arguments.FrameId)
	if !ok {
		a.silentError(r.Seq, "scopes", "Thread not found")
		return
	}
	paused, ok := th.Paused()
	if !ok {
		a.silentError(r.Seq, "scopes", "Thread not found")
		return
	}

	var out []dap.Scope
	for _, s := range f.ScopeChain {
		scope := variables.NewScope(paused.Variables, s, a.cfg.SourceMapRenames)
		out = append(out, scope.ToDAPScope())
	}
	a.Send(&dap.ScopesResponse{Response: a.baseResponse(r.Seq, "scopes"), Body: dap.ScopesResponseBody{Scopes: out}})
}

// storeForRef has no direct index from a bare variablesReference back to
// the owning Store, so this looks across every thread's paused Store; a
// stale reference after `continued` is an expected race (spec.md §8
// property 3), not an error.
func (a *Adapter) storeForRef(ref int) (*variables.Store, bool) {
	for _, th := range a.targetsMgr.Threads() {
		if paused, ok := th.Paused(); ok {
			if _, err := paused.Variables.GetChildren(context.Background(), ref, "", 0, 0); err == nil {
				return paused.Variables, true
			}
		}
	}
	return nil, false
}

func (a *Adapter) onVariables(ctx context.Context, r *dap.VariablesRequest) {
	store, ok := a.storeForRef(r.Arguments.VariablesReference)
	if !ok {
		a.Send(&dap.VariablesResponse{Response: a.baseResponse(r.Seq, "variables"), Body: dap.VariablesResponseBody{Variables: []dap.Variable{}}})
		return
	}
	vars, err := store.GetChildren(ctx, r.Arguments.VariablesReference, r.Arguments.Filter, r.Arguments.Start, r.Arguments.Count)
	if err != nil {
		a.silentError(r.Seq, "variables", "Thread not found")
		return
	}
	a.Send(&dap.VariablesResponse{Response: a.baseResponse(r.Seq, "variables"), Body: dap.VariablesResponseBody{Variables: vars}})
}

func (a *Adapter) onSetVariable(ctx context.Context, r *dap.SetVariableRequest) {
	store, ok := a.storeForRef(r.Arguments.VariablesReference)
	if !ok {
		a.silentError(r.Seq, "setVariable", "Thread not found")
		return
	}
	if r.Arguments.Value == "" {
		a.userError(r.Seq, "setVariable", "Cannot set an empty value")
		return
	}
	value, err := store.SetVariable(ctx, r.Arguments.VariablesReference, r.Arguments.Name, r.Arguments.Value)
	if err != nil {
		a.userError(r.Seq, "setVariable", err.Error())
		return
	}
	a.Send(&dap.SetVariableResponse{Response: a.baseResponse(r.Seq, "setVariable"), Body: dap.SetVariableResponseBody{Value: value}})
}

func (a *Adapter) onEvaluate(ctx context.Context, r *dap.EvaluateRequest) {
	if r.Arguments.Expression == "" {
		a.userError(r.Seq, "evaluate", "Invalid expression")
		return
	}

	var th *thread.Thread
	var frame *stack.Frame
	if r.Arguments.FrameId != 0 {
		var ok bool
		th, frame, ok = a.findFrame(r.Arguments.FrameId)
		if !ok {
			a.silentError(r.Seq, "evaluate", "Thread not found")
			return
		}
	} else {
		threads := a.targetsMgr.Threads()
		if len(threads) == 0 {
			a.silentError(r.Seq, "evaluate", "Thread not found")
			return
		}
		th = threads[0]
	}

	hover := r.Arguments.Context == "hover"
	result, err := th.Evaluate(ctx, frame, r.Arguments.Expression, hover)
	if err != nil {
		a.userError(r.Seq, "evaluate", err.Error())
		return
	}

	paused, _ := th.Paused()
	var store *variables.Store
	if paused != nil {
		store = paused.Variables
	} else {
		store = variables.NewStore(th.Session(), nil, a.cfg.CustomDescriptionGenerator, a.cfg.CustomPropertiesGenerator)
	}
	container := variables.ToContainer(store, "", result, "")
	rendered := container.ToDAP()
	a.Send(&dap.EvaluateResponse{
		Response: a.baseResponse(r.Seq, "evaluate"),
		Body: dap.EvaluateResponseBody{
			Result:             rendered.Value,
			Type:               rendered.Type,
			VariablesReference: rendered.VariablesReference,
		},
	})
}

func (a *Adapter) onCompletions(ctx context.Context, r *dap.CompletionsRequest) {
	a.Send(&dap.CompletionsResponse{Response: a.baseResponse(r.Seq, "completions"), Body: dap.CompletionsResponseBody{Targets: []dap.CompletionItem{}}})
}

func (a *Adapter) onLoadedSources(r *dap.LoadedSourcesRequest) {
	a.Send(&dap.LoadedSourcesResponse{Response: a.baseResponse(r.Seq, "loadedSources"), Body: dap.LoadedSourcesResponseBody{Sources: []dap.Source{}}})
}

func (a *Adapter) onSource(ctx context.Context, r *dap.SourceRequest) {
	ref := r.Arguments.SourceReference
	if ref == 0 && r.Arguments.Source != nil {
		ref = r.Arguments.Source.SourceReference
	}
	src, ok := a.sources.BySourceReference(ref)
	if !ok {
		a.silentError(r.Seq, "source", "Thread not found")
		return
	}
	content, err := src.Content(ctx)
	if err != nil {
		a.userError(r.Seq, "source", err.Error())
		return
	}
	a.Send(&dap.SourceResponse{Response: a.baseResponse(r.Seq, "source"), Body: dap.SourceResponseBody{Content: content}})
}

func (a *Adapter) onSetBreakpoints(ctx context.Context, r *dap.SetBreakpointsRequest) {
	var bps []breakpoints.SourceBreakpoint
	for _, sbp := range r.Arguments.Breakpoints {
		bps = append(bps, breakpoints.SourceBreakpoint{
			Line: sbp.Line, Column: sbp.Column,
			Condition: sbp.Condition, LogMessage: sbp.LogMessage,
		})
	}

	ref := r.Arguments.Source.SourceReference
	if ref == 0 && r.Arguments.Source.Path != "" {
		if s, ok := a.sources.ByURL(a.resolver.AbsolutePathToURL(r.Arguments.Source.Path)); ok {
			ref = s.Ref()
		}
	}

	set := a.breakpoints.SetBreakpoints(ctx, breakpoints.SourceRequest{SourceRef: ref, Path: r.Arguments.Source.Path}, bps)
	out := make([]dap.Breakpoint, len(set))
	for i, bp := range set {
		out[i] = bp.ToDAP()
	}
	a.Send(&dap.SetBreakpointsResponse{Response: a.baseResponse(r.Seq, "setBreakpoints"), Body: dap.SetBreakpointsResponseBody{Breakpoints: out}})
}

// exceptionState maps DP's filter set to RP's setPauseOnExceptions,
// per spec.md §4.11: "caught" implies all; else "uncaught" implies
// uncaught; else none.
func exceptionState(filters []string) rp.PauseOnExceptionsState {
	caught, uncaught := false, false
	for _, f := range filters {
		switch f {
		case "caught":
			caught = true
		case "uncaught":
			uncaught = true
		}
	}
	switch {
	case caught:
		return rp.PauseOnExceptionsAll
	case uncaught:
		return rp.PauseOnExceptionsUncaught
	default:
		return rp.PauseOnExceptionsNone
	}
}

func (a *Adapter) onSetExceptionBreakpoints(ctx context.Context, r *dap.SetExceptionBreakpointsRequest) {
	state := exceptionState(r.Arguments.Filters)
	a.mu.Lock()
	a.pauseOnExceptions = state
	a.mu.Unlock()
	for _, th := range a.targetsMgr.Threads() {
		_ = th.Session().Call(ctx, "Debugger.setPauseOnExceptions", map[string]any{"state": string(state)}, nil)
	}
	a.Send(&dap.SetExceptionBreakpointsResponse{Response: a.baseResponse(r.Seq, "setExceptionBreakpoints"), Body: dap.SetExceptionBreakpointsResponseBody{}})
}

// PauseOnExceptions reports the exception-filter state currently in
// effect, for a freshly attached thread's Start to apply immediately
// rather than waiting for the next explicit setExceptionBreakpoints.
func (a *Adapter) PauseOnExceptions() rp.PauseOnExceptionsState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauseOnExceptions
}

// EnabledCustomBreakpoints reports every catalog id currently enabled via
// updateCustomBreakpoints, for the same reason.
func (a *Adapter) EnabledCustomBreakpoints() []thread.EnabledBreakpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]thread.EnabledBreakpoint, 0, len(a.enabledCustomBP))
	for id, target := range a.enabledCustomBP {
		out = append(out, thread.EnabledBreakpoint{ID: id, Target: target})
	}
	return out
}

func (a *Adapter) onExceptionInfo(r *dap.ExceptionInfoRequest) {
	th, ok := a.findThread(r.Arguments.ThreadId)
	if !ok {
		a.silentError(r.Seq, "exceptionInfo", "Thread not found")
		return
	}
	paused, ok := th.Paused()
	if !ok || paused.Exception == nil {
		a.silentError(r.Seq, "exceptionInfo", "Thread not found")
		return
	}
	title := paused.Exception.Text
	if paused.Exception.Exception != nil {
		title = preview.Preview(*paused.Exception.Exception, preview.BudgetStackOrUI)
	}
	a.Send(&dap.ExceptionInfoResponse{
		Response: a.baseResponse(r.Seq, "exceptionInfo"),
		Body: dap.ExceptionInfoResponseBody{
			ExceptionId: "uncaught",
			Description: title,
			BreakMode:   "unhandled",
		},
	})
}

func (a *Adapter) onReadMemory(ctx context.Context, r *dap.ReadMemoryRequest) {
	th, ok := a.anyThread()
	if !ok {
		a.silentError(r.Seq, "readMemory", "Thread not found")
		return
	}
	data, err := th.ReadMemory(ctx, r.Arguments.MemoryReference, r.Arguments.Offset, r.Arguments.Count)
	if err != nil {
		a.silentError(r.Seq, "readMemory", "Thread not found")
		return
	}
	a.Send(&dap.ReadMemoryResponse{
		Response: a.baseResponse(r.Seq, "readMemory"),
		Body:     dap.ReadMemoryResponseBody{Address: r.Arguments.MemoryReference, Data: data},
	})
}

func (a *Adapter) onWriteMemory(ctx context.Context, r *dap.WriteMemoryRequest) {
	th, ok := a.anyThread()
	if !ok {
		a.silentError(r.Seq, "writeMemory", "Thread not found")
		return
	}
	n, err := th.WriteMemory(ctx, r.Arguments.MemoryReference, r.Arguments.Offset, r.Arguments.Data)
	if err != nil {
		a.silentError(r.Seq, "writeMemory", "Thread not found")
		return
	}
	a.Send(&dap.WriteMemoryResponse{
		Response: a.baseResponse(r.Seq, "writeMemory"),
		Body:     dap.WriteMemoryResponseBody{BytesWritten: n},
	})
}

func (a *Adapter) anyThread() (*thread.Thread, bool) {
	threads := a.targetsMgr.Threads()
	if len(threads) == 0 {
		return nil, false
	}
	return threads[0], true
}

// onCancel trips the cancellation token handle registered for the named
// request, cancelling the context that request's handler passes to its RP
// calls. A request that has already finished has no token and is not
// affected.
func (a *Adapter) onCancel(r *dap.CancelRequest) {
	a.mu.Lock()
	cancel, ok := a.cancelTokens[r.Arguments.RequestId]
	delete(a.cancelTokens, r.Arguments.RequestId)
	a.mu.Unlock()
	if ok {
		cancel()
	}
	a.Send(&dap.CancelResponse{Response: a.baseResponse(r.Seq, "cancel")})
}

// onUpdateCustomBreakpoints applies the catalog entries named in the
// request across every attached thread's DOMDebugger domain, per spec.md
// §6's custom-breakpoint catalog. A failed apply is logged, never fatal,
// per spec.md §7.
func (a *Adapter) onUpdateCustomBreakpoints(ctx context.Context, r *updateCustomBreakpointsRequest) {
	for _, bp := range r.Arguments.Breakpoints {
		a.mu.Lock()
		if bp.Enabled {
			a.enabledCustomBP[bp.ID] = ""
		} else {
			delete(a.enabledCustomBP, bp.ID)
		}
		a.mu.Unlock()

		entry, ok := custombp.Lookup(bp.ID)
		if !ok {
			continue
		}
		for _, th := range a.targetsMgr.Threads() {
			domOps, ok := th.Session().(rp.DOMDebuggerOps)
			if !ok {
				continue
			}
			if err := entry.Apply.Apply(ctx, domOps, "", bp.Enabled); err != nil {
				a.logf("adapter: custom breakpoint %s: %v", bp.ID, err)
			}
		}
	}
	a.respondEmpty(r.Seq, "updateCustomBreakpoints")
}

// RevealLocation synthesizes the ephemeral thread spec.md §4.11 describes
// for revealLocation: a stopped event of reason "goto" with a one-frame
// stack pointing at ui, forgotten once the caller acknowledges.
func (a *Adapter) RevealLocation(ui location.UiLocation) {
	a.mu.Lock()
	a.revealFrame = &revealSnapshot{ui: ui}
	a.mu.Unlock()

	a.Send(&dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body:  dap.StoppedEventBody{Reason: "goto", ThreadId: revealThreadID, AllThreadsStopped: false},
	})
}

// AcknowledgeReveal forgets the ephemeral reveal thread, emitting
// `continued` and `thread{exited}` as spec.md §4.11 requires.
func (a *Adapter) AcknowledgeReveal() {
	a.mu.Lock()
	a.revealFrame = nil
	a.mu.Unlock()

	a.Send(&dap.ContinuedEvent{
		Event: dap.Event{Event: "continued"},
		Body:  dap.ContinuedEventBody{ThreadId: revealThreadID, AllThreadsContinued: false},
	})
	a.Send(&dap.ThreadEvent{
		Event: dap.Event{Event: "thread"},
		Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: revealThreadID},
	})
}

// HandleScriptParsed registers a freshly parsed script's compiled Source
// (creating it if this is the first time this URL was seen) and indexes
// it by scriptId, then re-issues any breakpoint already known for its
// URL, per spec.md §4.5 step 5.
func (a *Adapter) HandleScriptParsed(ctx context.Context, ev *rp.ScriptParsed, content sources.ContentGetter) {
	src, ok := a.sources.ByURL(ev.URL)
	if !ok {
		src = sources.NewCompiled(a.sources.NextRef(), ev.URL, content, ev.SourceMapURL, nil)
		if err := a.sources.AddSource(ctx, src); err != nil {
			a.logf("adapter: AddSource %s: %v", ev.URL, err)
		}
	}

	a.mu.Lock()
	a.scriptSources[ev.ScriptID] = src
	a.mu.Unlock()

	a.breakpoints.OnScriptParsed(ctx, ev.URL)
}

// HandleBreakpointResolved forwards a breakpointResolved event to the
// breakpoint manager, supplying the lookup it needs to emit a `breakpoint`
// event against the right Source.
func (a *Adapter) HandleBreakpointResolved(ev rp.BreakpointResolved) {
	a.breakpoints.OnBreakpointResolved(a.sources.BySourceReference, ev)
}
