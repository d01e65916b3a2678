// Package session wires the singletons spec.md §9's Design Notes call for
// ("Session-wide singletons": SourceContainer, BreakpointManager,
// ThreadManager, VariableStore registry, custom-breakpoint catalog) into one
// Context, and runs the reactor loop that turns a stream of RP events into
// adapter calls and target/thread state transitions, per §9's "Event loop
// instead of callbacks".
package session

import (
	"context"
	"io"
	"sync"
	"time"

	dap "github.com/google/go-dap"

	"jsdebugcore/internal/adapter"
	"jsdebugcore/internal/breakpoints"
	"jsdebugcore/internal/config"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/logging"
	"jsdebugcore/internal/pathresolver"
	"jsdebugcore/internal/predictor"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/smartstep"
	"jsdebugcore/internal/sources"
	"jsdebugcore/internal/targets"
	"jsdebugcore/internal/thread"
)

// Transport bundles the collaborators a real RP connection must supply;
// everything in here lives outside this core per spec.md §1.
type Transport struct {
	// Root is the browser-level session new targets are discovered
	// against (Target.setDiscoverTargets / Target.attachToTarget).
	Root rp.Session

	// SessionFactory builds the per-target rp.Session a newly attached
	// target communicates over.
	SessionFactory targets.SessionFactory

	// SourceMapLoader fetches a source map's contents by URL, for
	// internal/sources.
	SourceMapLoader sources.MapLoader

	// PredictionMapLoader fetches a source map's contents for smart-step
	// prediction, for internal/predictor.
	PredictionMapLoader predictor.MapLoader

	// Scanner enumerates workspace files for prediction, for
	// internal/predictor.
	Scanner predictor.Repository

	// Navigate points the attached target at the launch URL.
	Navigate adapter.Navigator
}

// sink is a lazily-bound thread.Sink/breakpoints.Sink. breakpoints.Manager
// and targets.Manager's ThreadFactory both need a sink at construction
// time, but the adapter.Adapter they must eventually forward events to
// doesn't exist yet at that point — Adapter's own Config requires
// already-built Manager pointers. sink breaks the cycle: it's handed to
// both before a is set, and a is assigned immediately after adapter.New
// returns, before the event loop (and so before anything can call Send)
// starts.
type sink struct {
	a *adapter.Adapter
}

func (s *sink) Send(m dap.Message) { s.a.Send(m) }

// Context bundles one debug session's singletons, per spec.md §9's
// "pass an explicit SessionContext rather than globals".
type Context struct {
	Sources     *sources.Container
	Breakpoints *breakpoints.Manager
	Targets     *targets.Manager
	Predictor   *predictor.Predictor
	Resolver    *pathresolver.Resolver
	Adapter     *adapter.Adapter

	launch config.Launch

	mu         sync.Mutex
	scriptURLs map[string]string
}

// New builds one Context, resolving the Adapter/Breakpoints/Targets
// construction cycle via the sink forward reference above, and wires a
// ThreadFactory that hands every newly attached thread the exception
// filter and custom breakpoints already active on the adapter (spec.md
// §4.7: "apply every currently-enabled custom breakpoint").
func New(cfg config.Launch, dpOut io.Writer, t Transport) *Context {
	resolver := pathresolver.New(cfg)
	src := sources.NewContainer(cfg, resolver, t.SourceMapLoader)

	snk := &sink{}

	c := &Context{
		Sources:    src,
		Resolver:   resolver,
		launch:     cfg,
		scriptURLs: map[string]string{},
	}

	var nextThreadID int
	tm := targets.NewManager(t.Root, t.SessionFactory, func(s rp.Session, info rp.TargetInfo) *thread.Thread {
		nextThreadID++
		return thread.New(thread.Config{
			ID:                       nextThreadID,
			Session:                  s,
			Sink:                     snk,
			AsyncStackDepth:          32,
			RenameProvider:           nil,
			DescriptionGen:           cfg.CustomDescriptionGenerator,
			PropertiesGen:            cfg.CustomPropertiesGenerator,
			FrameClassifier:          c.classifyFrame,
			SmartStepEnabled:         cfg.SmartStep,
			EnabledCustomBreakpoints: c.Adapter.EnabledCustomBreakpoints(),
			PauseOnExceptions:        c.Adapter.PauseOnExceptions(),
		}, logging.New("thread"))
	})
	c.Targets = tm

	bp := breakpoints.New(src, func() []breakpoints.ThreadHandle {
		ths := tm.Threads()
		out := make([]breakpoints.ThreadHandle, len(ths))
		for i, th := range ths {
			out[i] = th
		}
		return out
	}, snk)
	c.Breakpoints = bp

	pred := predictor.New(t.Scanner, t.PredictionMapLoader, resolver, 10*time.Second, nil)
	c.Predictor = pred

	a := adapter.New(dpOut, adapter.Config{
		Sources:     src,
		Breakpoints: bp,
		Targets:     tm,
		Predictor:   pred,
		Resolver:    resolver,
		Launch:      cfg,
		Navigate:    t.Navigate,
	}, logging.New("adapter"))
	snk.a = a
	c.Adapter = a

	return c
}

// classifyFrame resolves a raw call-frame location to the smartstep
// classification inputs (spec.md §4.6): whether the owning script has a
// source map, whether the position actually mapped onto an original
// source rather than falling back to the compiled one, and whether that
// original source is blackboxed. stack.newFrameFromCallFrame never
// copies CallFrame.URL into the Location it builds (only ScriptID/line/
// column survive), so this method resolves URL itself from scriptURLs,
// populated by handleScriptParsed below.
func (c *Context) classifyFrame(raw location.Location) smartstep.Frame {
	c.mu.Lock()
	url, ok := c.scriptURLs[raw.ScriptID]
	c.mu.Unlock()
	if !ok {
		return smartstep.Frame{}
	}

	compiled, ok := c.Sources.ByURL(url)
	if !ok {
		return smartstep.Frame{}
	}
	if compiled.Map() == nil {
		return smartstep.Frame{HasSourceMap: false}
	}

	ui := c.Sources.UILocation(compiled, raw)
	mapped := ui.SourceRef != compiled.Ref()

	blackboxed := compiled.Blackboxed()
	if mapped {
		if orig, ok := c.Sources.BySourceReference(ui.SourceRef); ok {
			blackboxed = orig.Blackboxed()
		}
	}

	return smartstep.Frame{
		HasSourceMap:   true,
		PositionMapped: mapped,
		Blackboxed:     blackboxed,
	}
}

// Run drains events off a session's RP event channel until it closes or
// ctx is cancelled, dispatching the reactor's two special cases before
// forwarding every event unconditionally to Targets — spec.md §9's "one
// message in, a pure state transition, messages out".
func (c *Context) Run(ctx context.Context, events <-chan rp.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Context) handleEvent(ctx context.Context, ev rp.Event) {
	if ev.ScriptParsed != nil {
		c.handleScriptParsed(ctx, ev.SessionID, ev.ScriptParsed)
	}
	if ev.BreakpointResolved != nil {
		c.Adapter.HandleBreakpointResolved(*ev.BreakpointResolved)
	}
	c.Targets.HandleEvent(ctx, ev)
}

// handleScriptParsed records the scriptId->URL mapping classifyFrame
// needs, then hands the adapter a content getter backed by
// Debugger.getScriptSource against the session the script was parsed on.
func (c *Context) handleScriptParsed(ctx context.Context, sessionID string, ev *rp.ScriptParsed) {
	c.mu.Lock()
	c.scriptURLs[ev.ScriptID] = ev.URL
	c.mu.Unlock()

	th, ok := c.Targets.ThreadBySession(sessionID)
	if !ok {
		return
	}
	session := th.Session()
	scriptID := ev.ScriptID

	content := func(ctx context.Context) (string, error) {
		var resp rp.GetScriptSourceResponse
		if err := session.Call(ctx, "Debugger.getScriptSource", &rp.GetScriptSource{
			ScriptID: rp.ScriptID(scriptID),
		}, &resp); err != nil {
			return "", err
		}
		return resp.ScriptSource, nil
	}

	c.Adapter.HandleScriptParsed(ctx, ev, content)
}
