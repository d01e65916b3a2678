// Package stack implements C6: frame list assembly, lazy async-parent
// expansion, scope enumeration, and UI-location resolution, per spec.md
// §3's StackTrace/StackFrame entities and §8 scenario E.
package stack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"jsdebugcore/internal/location"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/sources"
)

// logpointURLPrefix is the well-known synthetic URL spec.md §4.5 and §9
// open question (b) describe: log-point conditions compile to
// "console.log(...) || false" tagged with this URL so every frame
// producer can filter it out of user-visible stack traces.
const logpointURLPrefix = "debugger://logpoint/"

// isLogpointFrame centralizes the synthetic-URL filter spec.md §9 open
// question (b) describes. Trace.Frames applies it to every loaded frame,
// synchronous and async-parent alike. It is unexported, so frame lists
// built outside this package (internal/thread's exception stack text,
// internal/variables' stack-trace output) do not apply it.
func isLogpointFrame(url string) bool {
	return strings.HasPrefix(url, logpointURLPrefix)
}

// nextID is a process-wide monotonic counter for frame ids, per spec.md
// §3 ("frame ids are unique globally").
var (
	idMu   sync.Mutex
	nextID int = 1
)

func mintID() int {
	idMu.Lock()
	defer idMu.Unlock()
	id := nextID
	nextID++
	return id
}

// Frame is one entry of a StackTrace: either a real call frame, or an
// async separator with no callFrameId, per spec.md §3.
type Frame struct {
	ID              int
	Name            string
	RawLocation     location.Location
	CallFrameID     string
	ScopeChain      []rp.Scope
	IsAsyncSeparator bool

	ui   *location.UiLocation
	uiMu sync.Mutex
}

// UiLocation resolves (and caches) this frame's UI location against the
// shared source graph, per spec.md §4.2's uiLocation operation.
func (f *Frame) UiLocation(container *sources.Container, src *sources.Source) location.UiLocation {
	f.uiMu.Lock()
	defer f.uiMu.Unlock()
	if f.ui != nil {
		return *f.ui
	}
	ui := container.UILocation(src, f.RawLocation)
	f.ui = &ui
	return ui
}

// Trace is an ordered list of frames with lazy asynchronous-parent
// expansion, per spec.md §3 and scenario E (async stack stitching).
type Trace struct {
	mu     sync.Mutex
	frames []*Frame

	// pending holds RP async parent chains not yet materialized into
	// frames; loadMore pops one link per call.
	pending []rp.RuntimeStackTrace

	totalKnown int // includes not-yet-loaded pending frames, for DP totalFrames
}

// NewTrace builds a Trace from a Debugger.paused event's synchronous
// call frames plus an optional async parent chain, following spec.md's
// rule that the synchronous frames are always loaded eagerly and the
// async chain expands on demand (§5: "StackTrace.loadFrames beyond what
// is cached" is a suspension point).
func NewTrace(callFrames []rp.CallFrame, asyncParent *rp.RuntimeStackTrace) *Trace {
	t := &Trace{}
	for _, cf := range callFrames {
		t.frames = append(t.frames, newFrameFromCallFrame(cf))
	}
	t.totalKnown = len(t.frames)
	if asyncParent != nil {
		t.pending = append(t.pending, *asyncParent)
		t.totalKnown += estimateChainLength(*asyncParent)
	}
	return t
}

func newFrameFromCallFrame(cf rp.CallFrame) *Frame {
	return &Frame{
		ID:          mintID(),
		Name:        cf.FunctionName,
		RawLocation: location.Location{ScriptID: cf.Location.ScriptID, LineNumber: int(cf.Location.LineNumber), ColumnNumber: int(cf.Location.ColumnNumber)},
		CallFrameID: string(cf.CallFrameID),
		ScopeChain:  cf.ScopeChain,
	}
}

func estimateChainLength(t rp.RuntimeStackTrace) int {
	n := len(t.CallFrames) + 1 // +1 for the separator frame
	if t.Parent != nil {
		n += estimateChainLength(*t.Parent)
	}
	return n
}

// Frames returns the currently loaded frames, filtering out any
// log-point synthetic frames per the centralized predicate.
func (t *Trace) Frames() []*Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Frame, 0, len(t.frames))
	for _, f := range t.frames {
		if isLogpointFrame(f.RawLocation.URL) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TotalFrames reports DP's totalFrames estimate: loaded frames plus a
// best-effort count of the unexpanded async chain, per spec.md scenario E
// ("additional frames load on demand with correct totalFrames rising").
func (t *Trace) TotalFrames() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalKnown
}

// LoadMore materializes the next async-parent link: an async separator
// frame (isAsyncSeparator=true, presentationHint "label", no callFrameId)
// followed by that link's own call frames. Returns false once the chain
// is exhausted.
func (t *Trace) LoadMore(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return false, nil
	}
	link := t.pending[0]
	t.pending = t.pending[1:]

	label := link.Description
	if label == "" {
		label = "async"
	}
	sep := &Frame{ID: mintID(), Name: label, IsAsyncSeparator: true}
	t.frames = append(t.frames, sep)
	for _, cf := range link.CallFrames {
		t.frames = append(t.frames, newRuntimeFrame(cf))
	}
	if link.Parent != nil {
		t.pending = append(t.pending, *link.Parent)
	}
	return true, nil
}

func newRuntimeFrame(cf rp.RuntimeCallFrame) *Frame {
	return &Frame{
		ID:          mintID(),
		Name:        cf.FunctionName,
		RawLocation: location.Location{URL: cf.URL, LineNumber: int(cf.LineNumber), ColumnNumber: int(cf.ColumnNumber)},
	}
}

// FrameByID performs the linear search across a thread's paused stack
// trace spec.md §4.11 names for resolving a DP frameId.
func (t *Trace) FrameByID(id int) (*Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.frames {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// ErrRestartAsyncFrame is returned when restartFrame targets a frame with
// no callFrameId, per spec.md §4.7: "restartFrame fails with a
// user-visible error when the target frame is asynchronous."
var ErrRestartAsyncFrame = fmt.Errorf("stack: cannot restart an asynchronous frame")

// CanRestart reports whether a frame may be the target of restartFrame.
func (f *Frame) CanRestart() error {
	if f.CallFrameID == "" {
		return ErrRestartAsyncFrame
	}
	return nil
}
