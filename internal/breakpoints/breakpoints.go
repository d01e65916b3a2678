// Package breakpoints implements C9: the BreakpointManager that keeps a
// per-source breakpoint set in sync with RP across every attached target,
// per spec.md §4.5.
package breakpoints

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/go-dap"

	"jsdebugcore/internal/location"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/sources"
)

// LogPointURL is the well-known synthetic URL a compiled log-point
// condition is tagged with (through a trailing sourceURL comment), so
// internal/stack's frame filter, which matches the same prefix, can drop
// such frames from a reported stack trace.
const LogPointURL = "debugger://logpoint/"

// ThreadHandle is the subset of internal/thread.Thread this package
// consumes. A narrow interface rather than importing internal/thread
// directly keeps this package free to run against any set of sessions a
// caller hands it, mirroring internal/targets' SessionFactory/
// ThreadFactory injection.
type ThreadHandle interface {
	ID() int
	Session() rp.Session
}

// ThreadProvider supplies the current set of attached threads on demand,
// so this package doesn't need push notifications every time a target
// attaches or detaches — it simply asks again the next time it needs to
// fan a command out.
type ThreadProvider func() []ThreadHandle

// Sink is where this package emits DP `breakpoint` events, mirroring
// internal/thread.Sink.
type Sink interface {
	Send(dap.Message)
}

// SourceRequest identifies the source a setBreakpoints request targets,
// trimmed to what this package needs from dap.Source.
type SourceRequest struct {
	SourceRef int
	Path      string
}

// SourceBreakpoint is one requested breakpoint, trimmed from
// dap.SourceBreakpoint.
type SourceBreakpoint struct {
	Line       int
	Column     int
	Condition  string
	LogMessage string
}

// resolution is one RP-side breakpoint id this package is tracking,
// together with the id of the thread it was set on.
type resolution struct {
	threadID int
	rpID     rp.BreakpointID
}

// Breakpoint is the manager's live record for one requested breakpoint.
type Breakpoint struct {
	ID         int
	SourceRef  int
	Line       int
	Column     int
	Condition  string
	LogMessage string
	Verified   bool

	resolved []resolution
}

// ToDAP renders the current verification state as a dap.Breakpoint.
func (b *Breakpoint) ToDAP() dap.Breakpoint {
	return dap.Breakpoint{
		Id:       b.ID,
		Verified: b.Verified,
		Line:     b.Line,
		Column:   b.Column,
	}
}

// Manager is C9: BreakpointManager.
type Manager struct {
	mu sync.Mutex

	sources  *sources.Container
	threads  ThreadProvider
	sink     Sink
	nextID   int

	// bySourceRef holds the live breakpoint set for each source, replaced
	// atomically on every setBreakpoints call for that source, per
	// spec.md §4.5 step 1.
	bySourceRef map[int][]*Breakpoint

	// byRPID lets a breakpointResolved event find the Breakpoint it
	// belongs to.
	byRPID map[rp.BreakpointID]*Breakpoint
}

// New builds an empty Manager.
func New(src *sources.Container, threads ThreadProvider, sink Sink) *Manager {
	return &Manager{
		sources:     src,
		threads:     threads,
		sink:        sink,
		bySourceRef: map[int][]*Breakpoint{},
		byRPID:      map[rp.BreakpointID]*Breakpoint{},
	}
}

// SetBreakpoints implements spec.md §4.5's setBreakpoints handling: the
// previous set for this source is replaced atomically, then every
// breakpoint is resolved to (scriptUrl, line, column) pairs across every
// attached thread and set via RP.
func (m *Manager) SetBreakpoints(ctx context.Context, req SourceRequest, bps []SourceBreakpoint) []*Breakpoint {
	src, ok := m.sources.BySourceReference(req.SourceRef)
	if !ok {
		return nil
	}

	out := make([]*Breakpoint, len(bps))

	m.mu.Lock()
	for _, old := range m.bySourceRef[req.SourceRef] {
		for _, r := range old.resolved {
			delete(m.byRPID, r.rpID)
		}
	}
	for i, sbp := range bps {
		m.nextID++
		out[i] = &Breakpoint{
			ID:         m.nextID,
			SourceRef:  req.SourceRef,
			Line:       sbp.Line,
			Column:     sbp.Column,
			Condition:  sbp.Condition,
			LogMessage: sbp.LogMessage,
		}
	}
	m.bySourceRef[req.SourceRef] = out
	m.mu.Unlock()

	for _, bp := range out {
		m.resolveAndSet(ctx, src, bp)
	}
	return out
}

func (m *Manager) condition(bp *Breakpoint) string {
	if bp.LogMessage == "" {
		return bp.Condition
	}
	// Compiles a log-point to a condition that always evaluates false so
	// the debugger never actually stops; the console.log call is the
	// point of issuing it at all, per spec.md §4.5. The sourceURL comment
	// tags the evaluated condition with LogPointURL.
	return fmt.Sprintf("console.log(%q) || false\n//# sourceURL=%s", bp.LogMessage, LogPointURL)
}

// targetLocations computes every (url, line, column) candidate this
// breakpoint resolves to, per spec.md §4.5 step 2: directly if the
// source is compiled, else via the container's inverse map.
func (m *Manager) targetLocations(src *sources.Source, bp *Breakpoint) []location.Location {
	ui := location.UiLocation{SourceRef: bp.SourceRef, LineNumber: bp.Line, ColumnNumber: bp.Column}
	if src.IsCompiled() {
		return []location.Location{{URL: src.URL(), LineNumber: bp.Line - 1, ColumnNumber: bp.Column - 1}}
	}
	return m.sources.RawLocations(ui)
}

func (m *Manager) resolveAndSet(ctx context.Context, src *sources.Source, bp *Breakpoint) {
	targets := m.targetLocations(src, bp)
	if len(targets) == 0 {
		return
	}

	condition := m.condition(bp)

	for _, thread := range m.threads() {
		for _, loc := range targets {
			cmd := rp.SetBreakpointByURL{
				LineNumber:   int64(loc.LineNumber),
				ColumnNumber: int64(loc.ColumnNumber),
				URL:          loc.URL,
				Condition:    condition,
			}
			var resp rp.SetBreakpointByURLResponse
			if err := thread.Session().Call(ctx, "Debugger.setBreakpointByUrl", &cmd, &resp); err != nil {
				continue
			}
			if resp.BreakpointID == "" {
				continue
			}

			m.mu.Lock()
			bp.resolved = append(bp.resolved, resolution{threadID: thread.ID(), rpID: resp.BreakpointID})
			m.byRPID[resp.BreakpointID] = bp
			if len(resp.Locations) > 0 {
				bp.Verified = true
			}
			m.mu.Unlock()
		}
	}

	if bp.Verified {
		m.emitVerified(src, bp)
	}
}

// OnBreakpointResolved handles RP's breakpointResolved event: flips
// verified and emits DP `breakpoint`, per spec.md §4.5 step 4.
func (m *Manager) OnBreakpointResolved(src func(sourceRef int) (*sources.Source, bool), ev rp.BreakpointResolved) {
	m.mu.Lock()
	bp, ok := m.byRPID[ev.BreakpointID]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	bp.Verified = true
	m.mu.Unlock()

	s, ok := src(bp.SourceRef)
	if !ok {
		return
	}
	m.emitVerified(s, bp)
}

func (m *Manager) emitVerified(src *sources.Source, bp *Breakpoint) {
	ui := m.sources.UILocation(src, location.Location{
		URL: src.URL(), LineNumber: bp.Line - 1, ColumnNumber: bp.Column - 1,
	})
	body := dap.BreakpointEventBody{
		Reason: "changed",
		Breakpoint: dap.Breakpoint{
			Id:       bp.ID,
			Verified: true,
			Line:     ui.LineNumber,
			Column:   ui.ColumnNumber,
		},
	}
	m.sink.Send(&dap.BreakpointEvent{
		Event: dap.Event{Event: "breakpoint"},
		Body:  body,
	})
}

// OnScriptParsed re-issues every known breakpoint whose source matches
// the newly parsed script's URL, per spec.md §4.5 step 5.
func (m *Manager) OnScriptParsed(ctx context.Context, url string) {
	src, ok := m.sources.ByURL(url)
	if !ok {
		return
	}

	m.mu.Lock()
	bps := append([]*Breakpoint{}, m.bySourceRef[src.Ref()]...)
	m.mu.Unlock()

	for _, bp := range bps {
		m.resolveAndSet(ctx, src, bp)
	}
}

// ByID looks up a tracked breakpoint, e.g. for the adapter to answer a
// removal or toggle request.
func (m *Manager) ByID(id int) (*Breakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bps := range m.bySourceRef {
		for _, bp := range bps {
			if bp.ID == id {
				return bp, true
			}
		}
	}
	return nil, false
}
