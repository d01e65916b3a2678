// Package thread implements C7: the per-target Thread state machine, per
// spec.md §4.7. A Thread owns one RP Session's Init -> Normal -> Disposed
// lifecycle, turns Debugger.paused/resumed into DP stopped/continued, and
// dispatches console/exception events to the printf engine.
package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"

	"jsdebugcore/internal/custombp"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/preview"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/smartstep"
	"jsdebugcore/internal/stack"
	"jsdebugcore/internal/variables"
)

// State is this thread's position in the Init -> Normal -> Disposed
// machine spec.md §4.7 names.
type State int

const (
	StateInit State = iota
	StateNormal
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNormal:
		return "normal"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Sink is where a Thread emits DP events; the adapter façade (C10) owns
// the actual transport, so this package only needs somewhere to post to,
// mirroring the teacher's `ctx.C() <- event` channel-send idiom.
type Sink interface {
	Send(dap.Message)
}

// FrameClassifier resolves the per-frame inputs SmartStepper needs
// (spec.md §4.6) without this package importing internal/sources
// directly: whether the paused frame's compiled source carries a map,
// whether that map actually covers the current position, and whether
// the resulting original source is blackboxed. A nil classifier means
// "no source map," which disables smart-stepping entirely (the safe
// default for targets with no source map collaborator wired in yet).
type FrameClassifier func(raw location.Location) smartstep.Frame

// PausedDetails is the per-pause snapshot spec.md §4.7 builds from a
// Debugger.paused event.
type PausedDetails struct {
	Reason         string
	Description    string
	Text           string
	HitBreakpoints []string
	Exception      *rp.ExceptionDetails
	Stack          *stack.Trace
	Variables      *variables.Store
}

// Config bundles a Thread's construction-time collaborators.
type Config struct {
	ID              int
	Session         rp.Session
	Sink            Sink
	AsyncStackDepth int

	RenameProvider           variables.RenameProvider
	DescriptionGen           string
	PropertiesGen            string
	FrameClassifier          FrameClassifier
	SmartStepEnabled         bool
	MaxConsecutiveSmartSteps int

	// EnabledCustomBreakpoints is applied best-effort on Start, per
	// spec.md §4.7 ("apply every currently-enabled custom breakpoint").
	EnabledCustomBreakpoints []EnabledBreakpoint

	PauseOnExceptions rp.PauseOnExceptionsState
}

// EnabledBreakpoint names one catalog entry to apply at Start, with its
// DOMDebugger target (only meaningful for listener: entries).
type EnabledBreakpoint struct {
	ID     string
	Target string
}

// Logger is the narrow logging surface Thread needs, satisfied by
// *log.Logger from internal/logging.
type Logger interface {
	Printf(format string, args ...any)
}

// Thread is C7.
type Thread struct {
	mu sync.Mutex

	id      int
	session rp.Session
	sink    Sink
	logger  Logger

	state State

	asyncStackDepth int
	pauseOnExc      rp.PauseOnExceptionsState
	customBPs       []EnabledBreakpoint

	renameProvider variables.RenameProvider
	descGen        string
	propsGen       string
	classify       FrameClassifier
	smartStep      *smartstep.Policy

	paused         *PausedDetails
	lastException  *rp.ExceptionDetails
	lastStepMethod string
}

// New constructs a Thread in state Init. Call Start to move it to Normal.
func New(cfg Config, logger Logger) *Thread {
	return &Thread{
		id:              cfg.ID,
		session:         cfg.Session,
		sink:            cfg.Sink,
		logger:          logger,
		state:           StateInit,
		asyncStackDepth: cfg.AsyncStackDepth,
		pauseOnExc:      cfg.PauseOnExceptions,
		customBPs:       cfg.EnabledCustomBreakpoints,
		renameProvider:  cfg.RenameProvider,
		descGen:         cfg.DescriptionGen,
		propsGen:        cfg.PropertiesGen,
		classify:        cfg.FrameClassifier,
		smartStep:       smartstep.NewPolicy(cfg.SmartStepEnabled).WithMaxConsecutiveSteps(orDefault(cfg.MaxConsecutiveSmartSteps)),
	}
}

func orDefault(n int) int {
	if n <= 0 {
		return smartstep.DefaultMaxConsecutiveSteps
	}
	return n
}

// ID is this thread's DP threadId.
func (t *Thread) ID() int { return t.id }

// Session exposes the underlying RP session so collaborators that operate
// across every attached target (internal/breakpoints) can issue their own
// commands without this package growing awareness of them.
func (t *Thread) Session() rp.Session { return t.session }

func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start enables the Runtime/Debugger domains, the async-stack depth, the
// pause-on-exceptions policy, and every configured custom breakpoint,
// then transitions to Normal. Per spec.md §4.7, a custom breakpoint's
// apply failure is logged, not fatal.
func (t *Thread) Start(ctx context.Context) error {
	if err := t.session.Call(ctx, "Runtime.enable", struct{}{}, nil); err != nil {
		return fmt.Errorf("thread: Runtime.enable: %w", err)
	}
	if err := t.session.Call(ctx, "Debugger.enable", struct{}{}, nil); err != nil {
		return fmt.Errorf("thread: Debugger.enable: %w", err)
	}
	if t.asyncStackDepth > 0 {
		if err := t.session.Call(ctx, "Debugger.setAsyncCallStackDepth",
			map[string]any{"maxDepth": t.asyncStackDepth}, nil); err != nil {
			t.logf("setAsyncCallStackDepth failed: %v", err)
		}
	}
	if t.pauseOnExc != "" {
		if err := t.session.Call(ctx, "Debugger.setPauseOnExceptions",
			map[string]any{"state": string(t.pauseOnExc)}, nil); err != nil {
			t.logf("setPauseOnExceptions failed: %v", err)
		}
	}
	domOps, hasDOMOps := t.session.(rp.DOMDebuggerOps)
	for _, bp := range t.customBPs {
		entry, ok := custombp.Lookup(bp.ID)
		if !ok {
			t.logf("unknown custom breakpoint %q, skipping", bp.ID)
			continue
		}
		if !hasDOMOps {
			t.logf("session has no DOMDebugger ops, skipping custom breakpoint %q", bp.ID)
			continue
		}
		if err := entry.Apply.Apply(ctx, domOps, bp.Target, true); err != nil {
			t.logf("applying custom breakpoint %q failed: %v", bp.ID, err)
		}
	}

	t.mu.Lock()
	t.state = StateNormal
	t.mu.Unlock()
	return nil
}

func (t *Thread) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf("thread %d: "+format, append([]any{t.id}, args...)...)
	}
}

// HandleEvent dispatches one RP event to this thread. Events are handled
// the same way in Init and Normal: nothing is buffered before Start, and
// their effects (DP events included) happen at once. Only a Disposed
// thread drops events.
func (t *Thread) HandleEvent(ctx context.Context, ev rp.Event) {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == StateDisposed {
		return
	}

	switch {
	case ev.Paused != nil:
		t.handlePaused(ctx, ev.Paused)
	case ev.Resumed != nil:
		t.handleResumed()
	case ev.ExceptionThrown != nil:
		t.handleExceptionThrown(ev.ExceptionThrown)
	case ev.ConsoleAPICalled != nil:
		t.handleConsoleAPICalled(ev.ConsoleAPICalled)
	case ev.ExecutionContextsCleared != nil:
		t.handleResumed()
	}
}

// describeCustomBreakpoint resolves a paused event's `data.eventName`
// against the custom-breakpoint catalog (C11), trying both id shapes
// since CDP reports the same data.eventName field for both
// instrumentation and event-listener breakpoints, per spec.md §4.7
// ("for reason=EventListener consult the custom-breakpoint catalog").
func describeCustomBreakpoint(rpReason string, data map[string]any) (short, long string, ok bool) {
	eventName, _ := data["eventName"].(string)
	if eventName == "" {
		return "", "", false
	}
	if short, long, ok := custombp.Describe("listener:"+eventName, data); ok {
		return short, long, true
	}
	return custombp.Describe("instrumentation:"+eventName, data)
}

// mapPauseReason maps an RP Debugger.paused reason to one of the DP
// reasons spec.md §4.7 enumerates. RP's CDP-shaped reasons are richer
// than DP's; several collapse onto "function breakpoint" since they are
// all ways a CDP-level instrumentation/listener breakpoint fired.
func mapPauseReason(rpReason string) string {
	switch rpReason {
	case "step", "debugCommand":
		return "step"
	case "exception", "assert", "CSPViolation", "promiseRejection", "OOM":
		return "exception"
	case "EventListener", "instrumentation", "XHR", "DOM":
		return "function breakpoint"
	case "entry":
		return "entry"
	case "goto":
		return "goto"
	case "data breakpoint":
		return "data breakpoint"
	case "ambiguous", "other", "":
		return "breakpoint"
	default:
		return "pause"
	}
}

func (t *Thread) handlePaused(ctx context.Context, p *rp.Paused) {
	reason := mapPauseReason(p.Reason)

	details := &PausedDetails{
		Reason:         reason,
		HitBreakpoints: p.HitBreakpoints,
		Stack:          stack.NewTrace(p.CallFrames, p.AsyncStackTrace),
		Variables:      variables.NewStore(t.session, t.renameProvider, t.descGen, t.propsGen),
	}

	if reason == "exception" {
		t.mu.Lock()
		details.Exception = t.lastException
		t.mu.Unlock()
	}

	if reason == "function breakpoint" {
		if short, long, ok := describeCustomBreakpoint(p.Reason, p.Data); ok {
			details.Text = short
			details.Description = long
		}
	}

	if cls := t.classifyPause(p); cls != smartstep.Keep {
		if t.stepAgain(ctx, cls) {
			// Smart-stepping: resumed immediately, no DP stopped event.
			t.mu.Lock()
			t.paused = nil
			t.mu.Unlock()
			return
		}
	}

	t.mu.Lock()
	t.paused = details
	t.mu.Unlock()

	t.sink.Send(&dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body: dap.StoppedEventBody{
			Reason:            reason,
			Description:       details.Description,
			Text:              details.Text,
			ThreadId:          t.id,
			AllThreadsStopped: false,
			HitBreakpointIds:  details.HitBreakpoints,
		},
	})
}

// classifyPause consults SmartStepper when the pause reason is "step",
// per spec.md §4.6 ("runs after RP paused with reason 'step'"); any
// other reason keeps and resets the counter.
func (t *Thread) classifyPause(p *rp.Paused) smartstep.Classification {
	var f smartstep.Frame
	if t.classify != nil && len(p.CallFrames) > 0 {
		top := p.CallFrames[0]
		raw := location.Location{ScriptID: top.Location.ScriptID, LineNumber: int(top.Location.LineNumber), ColumnNumber: int(top.Location.ColumnNumber)}
		f = t.classify(raw)
	}
	reason := smartstep.PauseReason(p.Reason)
	if p.Reason == "step" || p.Reason == "debugCommand" {
		reason = smartstep.ReasonStep
	}
	return t.smartStep.Classify(reason, f)
}

// stepAgain issues the RP step call a SmartStep/Blackboxed/ForceStepOut
// classification demands and reports whether stepping continued silently.
// SmartStep/Blackboxed reissue whatever direction the user last requested
// (spec.md §4.6: "issue another step in the current direction"); a
// ForceStepOut always leaves the frame regardless of direction.
func (t *Thread) stepAgain(ctx context.Context, cls smartstep.Classification) bool {
	var method string
	switch cls {
	case smartstep.SmartStep, smartstep.Blackboxed:
		method = t.lastStepMethod
		if method == "" {
			method = "Debugger.stepInto"
		}
	case smartstep.ForceStepOut:
		method = "Debugger.stepOut"
	default:
		return false
	}
	if err := t.session.Call(ctx, method, struct{}{}, nil); err != nil {
		t.logf("smart-step %s failed: %v", method, err)
		return false
	}
	return true
}

func (t *Thread) handleResumed() {
	t.mu.Lock()
	had := t.paused != nil
	t.paused = nil
	t.mu.Unlock()
	if !had {
		return
	}
	t.sink.Send(&dap.ContinuedEvent{
		Event: dap.Event{Event: "continued"},
		Body:  dap.ContinuedEventBody{ThreadId: t.id, AllThreadsContinued: false},
	})
}

// handleExceptionThrown formats an uncaught exception as spec.md §4.7
// requires: title plus formatted stack, emitted to stderr.
func (t *Thread) handleExceptionThrown(ev *rp.ExceptionThrown) {
	t.mu.Lock()
	details := ev.ExceptionDetails
	t.lastException = &details
	t.mu.Unlock()

	title := ev.ExceptionDetails.Text
	if ev.ExceptionDetails.Exception != nil {
		title = preview.Preview(*ev.ExceptionDetails.Exception, preview.BudgetStackOrUI)
	}
	out := title
	if ev.ExceptionDetails.StackTrace != nil {
		out = fmt.Sprintf("%s\n%s", title, formatRuntimeStack(*ev.ExceptionDetails.StackTrace))
	}
	t.sink.Send(&dap.OutputEvent{
		Event: dap.Event{Event: "output"},
		Body:  dap.OutputEventBody{Category: "stderr", Output: out + "\n"},
	})
}

func formatRuntimeStack(st rp.RuntimeStackTrace) string {
	var lines []string
	for _, cf := range st.CallFrames {
		name := cf.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		lines = append(lines, fmt.Sprintf("    at %s (%s:%d:%d)", name, cf.URL, cf.LineNumber+1, cf.ColumnNumber+1))
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// handleConsoleAPICalled implements spec.md §4.7's console-message rules:
// clear emits a terminal-clear escape, endGroup is dropped, everything
// else runs through the printf engine and either emits plain text or an
// expandable variables entry.
func (t *Thread) handleConsoleAPICalled(ev *rp.ConsoleAPICalled) {
	switch ev.Type {
	case "clear":
		t.sink.Send(&dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body:  dap.OutputEventBody{Category: "console", Output: "\x1b[2J\x1b[H"},
		})
		return
	case "endGroup":
		return
	}

	allPrimitive := true
	for _, a := range ev.Args {
		if a.Type == "object" || a.Type == "function" {
			allPrimitive = false
			break
		}
	}

	var format string
	var rest []rp.RemoteObject
	if len(ev.Args) > 0 && ev.Args[0].Type == "string" {
		format = stringValue(ev.Args[0])
		rest = ev.Args[1:]
	} else {
		rest = ev.Args
	}
	text := preview.FormatMessage(format, rest, preview.DefaultFormatter)

	if allPrimitive && ev.StackTrace == nil {
		t.sink.Send(&dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body:  dap.OutputEventBody{Category: "stdout", Output: text + "\n"},
		})
		return
	}

	store := t.consoleStore()
	container := variables.NewOutputVariable(store, ev.Args, ev.StackTrace)

	t.sink.Send(&dap.OutputEvent{
		Event: dap.Event{Event: "output"},
		Body: dap.OutputEventBody{
			Category:           "stdout",
			Output:             "",
			VariablesReference: container.ID(),
		},
	})
}

// consoleStore returns the variable store a console message's object
// arguments should register against: the paused store while stopped, or
// a fresh standalone store for messages logged while running.
func (t *Thread) consoleStore() *variables.Store {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused != nil {
		return t.paused.Variables
	}
	return variables.NewStore(t.session, t.renameProvider, t.descGen, t.propsGen)
}

func stringValue(o rp.RemoteObject) string {
	if len(o.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	return ""
}

// Dispose transitions to Disposed and emits DP thread{exited}, per
// spec.md §4.7. All further HandleEvent calls become no-ops.
func (t *Thread) Dispose() {
	t.mu.Lock()
	if t.state == StateDisposed {
		t.mu.Unlock()
		return
	}
	t.state = StateDisposed
	t.paused = nil
	t.mu.Unlock()

	t.sink.Send(&dap.ThreadEvent{
		Event: dap.Event{Event: "thread"},
		Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: t.id},
	})
}

// Paused returns the current pause snapshot, if stopped.
func (t *Thread) Paused() (*PausedDetails, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused, t.paused != nil
}

// step issues an RP stepping command, remembering it as the "current
// direction" SmartStepper reissues on SmartStep/Blackboxed classifications
// (spec.md §4.6). RP failure surfaces as a silent DP error per spec.md
// §4.7, so callers only need a bool plus the underlying error for logging.
func (t *Thread) step(ctx context.Context, method string) (bool, error) {
	t.mu.Lock()
	if method == "Debugger.stepOver" || method == "Debugger.stepInto" || method == "Debugger.stepOut" {
		t.lastStepMethod = method
	}
	t.mu.Unlock()
	if err := t.session.Call(ctx, method, struct{}{}, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Thread) StepOver(ctx context.Context) (bool, error) { return t.step(ctx, "Debugger.stepOver") }
func (t *Thread) StepInto(ctx context.Context) (bool, error) { return t.step(ctx, "Debugger.stepInto") }
func (t *Thread) StepOut(ctx context.Context) (bool, error)  { return t.step(ctx, "Debugger.stepOut") }
func (t *Thread) Continue(ctx context.Context) (bool, error) { return t.step(ctx, "Debugger.resume") }
func (t *Thread) Pause(ctx context.Context) (bool, error)    { return t.step(ctx, "Debugger.pause") }

// Evaluate implements spec.md §4.11's evaluate/hover handling: in a paused
// frame it issues Debugger.evaluateOnCallFrame, otherwise Runtime.evaluate
// against the thread's default execution context. A hover evaluation gets
// a 500ms timeout and throwOnSideEffect:true, per spec.md §5.
func (t *Thread) Evaluate(ctx context.Context, frame *stack.Frame, expression string, hover bool) (rp.RemoteObject, error) {
	if hover {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
	}

	var resp rp.EvaluateResponse
	if frame != nil && frame.CallFrameID != "" {
		err := t.session.Call(ctx, "Debugger.evaluateOnCallFrame", map[string]any{
			"callFrameId":       frame.CallFrameID,
			"expression":        expression,
			"throwOnSideEffect": hover,
			"generatePreview":   true,
		}, &resp)
		if err != nil {
			return rp.RemoteObject{}, fmt.Errorf("thread: evaluateOnCallFrame: %w", err)
		}
	} else {
		err := t.session.Call(ctx, "Runtime.evaluate", &rp.Evaluate{
			Expression:        expression,
			ThrowOnSideEffect: hover,
			GeneratePreview:   true,
		}, &resp)
		if err != nil {
			return rp.RemoteObject{}, fmt.Errorf("thread: evaluate: %w", err)
		}
	}
	if resp.ExceptionDetails != nil {
		msg := resp.ExceptionDetails.Text
		if resp.ExceptionDetails.Exception != nil {
			msg = preview.Preview(*resp.ExceptionDetails.Exception, preview.BudgetREPL)
		}
		return rp.RemoteObject{}, fmt.Errorf("%s", msg)
	}
	return resp.Result, nil
}

// ReadMemory renders a DP `readMemory` request as a Runtime.evaluate call
// against the named memory reference, treating it as a Buffer/Uint8Array
// expression the way a non-native runtime exposes raw memory, per spec.md
// §6. The session returns base64-encoded bytes as the result's string value.
func (t *Thread) ReadMemory(ctx context.Context, memoryReference string, offset, count int) (string, error) {
	expr := fmt.Sprintf("(%s).__readMemory(%d, %d)", memoryReference, offset, count)
	var resp rp.EvaluateResponse
	if err := t.session.Call(ctx, "Runtime.evaluate", &rp.Evaluate{Expression: expr}, &resp); err != nil {
		return "", fmt.Errorf("thread: readMemory: %w", err)
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("thread: readMemory: %s", resp.ExceptionDetails.Text)
	}
	return stringValue(resp.Result), nil
}

// WriteMemory is ReadMemory's write counterpart.
func (t *Thread) WriteMemory(ctx context.Context, memoryReference string, offset int, data string) (int, error) {
	expr := fmt.Sprintf("(%s).__writeMemory(%d, %q)", memoryReference, offset, data)
	var resp rp.EvaluateResponse
	if err := t.session.Call(ctx, "Runtime.evaluate", &rp.Evaluate{Expression: expr}, &resp); err != nil {
		return 0, fmt.Errorf("thread: writeMemory: %w", err)
	}
	if resp.ExceptionDetails != nil {
		return 0, fmt.Errorf("thread: writeMemory: %s", resp.ExceptionDetails.Text)
	}
	return len(data), nil
}

// RestartFrame restarts execution at frameID, failing with a user-visible
// error when the target frame has no callFrameId (an async separator or
// async frame), per spec.md §4.7.
func (t *Thread) RestartFrame(ctx context.Context, frameID int) error {
	paused, ok := t.Paused()
	if !ok {
		return fmt.Errorf("thread: not paused")
	}
	f, ok := paused.Stack.FrameByID(frameID)
	if !ok {
		return fmt.Errorf("thread: unknown frame %d", frameID)
	}
	if err := f.CanRestart(); err != nil {
		return err
	}
	return t.session.Call(ctx, "Debugger.restartFrame", map[string]any{"callFrameId": f.CallFrameID}, nil)
}
