// Package targets implements C8: auto-attach across the target tree and
// the execution-context aggregation that feeds an IDE's target/context
// picker, per spec.md §4.8.
package targets

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/daabr/chrome-vision/pkg/cdp/target"

	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/thread"
)

// SessionFactory builds the per-target rp.Session a newly attached target
// communicates over. The real flat-session-over-one-websocket transport
// lives outside the core (spec.md §1); this package only needs somewhere
// to ask for one.
type SessionFactory func(sessionID string) rp.Session

// ThreadFactory builds the Thread wrapping a newly attached session. A
// factory rather than a fixed Config lets the adapter vary per-target
// settings (pause-on-exceptions, custom breakpoints) without this package
// knowing about launch configuration.
type ThreadFactory func(session rp.Session, info rp.TargetInfo) *thread.Thread

// attachedTarget tracks one node of the target tree this Manager has
// attached to, for the recursive detach spec.md §4.8 requires ("on
// detachedFromTarget, recursively detach children first, then dispose").
type attachedTarget struct {
	sessionID string
	targetID  string
	thread    *thread.Thread
	parent    *attachedTarget
	children  []*attachedTarget
}

// Manager is C8: ThreadManager/TargetManager combined, since spec.md §4.8
// describes one set of responsibilities spanning both names.
type Manager struct {
	mu sync.Mutex

	session        rp.Session // the root/browser-level session auto-attach commands are issued on
	sessionFactory SessionFactory
	threadFactory  ThreadFactory

	sawFirstPageTarget bool

	bySessionID map[string]*attachedTarget
	byTargetID  map[string]*attachedTarget

	contexts map[int64]rp.ExecutionContextDesc

	contextsChanged []func()
}

// NewManager builds an empty Manager bound to the root session and the
// two construction collaborators.
func NewManager(session rp.Session, sessionFactory SessionFactory, threadFactory ThreadFactory) *Manager {
	return &Manager{
		session:        session,
		sessionFactory: sessionFactory,
		threadFactory:  threadFactory,
		bySessionID:    map[string]*attachedTarget{},
		byTargetID:     map[string]*attachedTarget{},
		contexts:       map[int64]rp.ExecutionContextDesc{},
	}
}

// OnExecutionContextsChanged registers a listener fired whenever a context
// is created/destroyed or the target structure changes, per spec.md §4.8.
func (m *Manager) OnExecutionContextsChanged(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contextsChanged = append(m.contextsChanged, fn)
}

func (m *Manager) emitContextsChanged() {
	m.mu.Lock()
	listeners := append([]func(){}, m.contextsChanged...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// HandleEvent dispatches one RP event, attaching/detaching targets and
// updating the execution-context set as it goes. Events with a SessionID
// that map to an already-attached target are also forwarded to that
// target's Thread.
func (m *Manager) HandleEvent(ctx context.Context, ev rp.Event) {
	switch {
	case ev.TargetCreated != nil:
		m.onTargetCreated(ctx, ev.TargetCreated)
	case ev.AttachedToTarget != nil:
		m.onAttachedToTarget(ctx, ev.AttachedToTarget)
	case ev.DetachedFromTarget != nil:
		m.onDetachedFromTarget(ctx, ev.DetachedFromTarget)
	case ev.TargetDestroyed != nil:
		m.onTargetDestroyed(ev.TargetDestroyed)
	case ev.TargetInfoChanged != nil:
		m.emitContextsChanged()
	case ev.ExecutionContextCreated != nil:
		m.onExecutionContextCreated(ev.ExecutionContextCreated)
	case ev.ExecutionContextDestroyed != nil:
		m.onExecutionContextDestroyed(ev.ExecutionContextDestroyed)
	case ev.ExecutionContextsCleared != nil:
		m.onExecutionContextsCleared()
	}

	if ev.SessionID != "" {
		m.mu.Lock()
		at, ok := m.bySessionID[ev.SessionID]
		m.mu.Unlock()
		if ok {
			at.thread.HandleEvent(ctx, ev)
		}
	}
}

// onTargetCreated auto-attaches the first page target it sees, per
// spec.md §4.8 ("on browser targetCreated, if this is the first page
// target, call RP attachToTarget{flatten:true}").
func (m *Manager) onTargetCreated(ctx context.Context, ev *rp.TargetCreated) {
	m.mu.Lock()
	first := !m.sawFirstPageTarget && ev.TargetInfo.Type == "page"
	if ev.TargetInfo.Type == "page" {
		m.sawFirstPageTarget = true
	}
	m.mu.Unlock()

	if !first {
		return
	}
	var resp target.AttachToTargetResponse
	cmd := target.AttachToTarget{TargetID: ev.TargetInfo.TargetID, Flatten: true}
	if err := m.session.Call(ctx, "Target.attachToTarget", &cmd, &resp); err != nil {
		return
	}
}

// onAttachedToTarget records the new target, builds its session and
// Thread, starts the Thread, and recursively enables auto-attach for its
// own children, per spec.md §4.8 ("recursively, use per-session
// setAutoAttach{waitForDebuggerOnStart:true}").
func (m *Manager) onAttachedToTarget(ctx context.Context, ev *rp.AttachedToTarget) {
	session := m.sessionFactory(ev.SessionID)
	th := m.threadFactory(session, ev.TargetInfo)

	at := &attachedTarget{sessionID: ev.SessionID, targetID: ev.TargetInfo.TargetID, thread: th}

	m.mu.Lock()
	if parent, ok := m.byTargetID[ev.TargetInfo.OpenerID]; ok {
		at.parent = parent
		parent.children = append(parent.children, at)
	}
	m.bySessionID[ev.SessionID] = at
	m.byTargetID[ev.TargetInfo.TargetID] = at
	m.mu.Unlock()

	if err := th.Start(ctx); err == nil {
		_ = session.Call(ctx, "Target.setAutoAttach",
			&target.SetAutoAttach{AutoAttach: true, WaitForDebuggerOnStart: true, Flatten: true}, nil)
	}

	m.emitContextsChanged()
}

// onDetachedFromTarget recursively detaches children first, then disposes
// this target's own Thread, per spec.md §4.8.
func (m *Manager) onDetachedFromTarget(ctx context.Context, ev *rp.DetachedFromTarget) {
	m.mu.Lock()
	at, ok := m.bySessionID[ev.SessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.detach(ctx, at)
	m.emitContextsChanged()
}

func (m *Manager) detach(ctx context.Context, at *attachedTarget) {
	for _, child := range append([]*attachedTarget{}, at.children...) {
		m.detach(ctx, child)
	}
	at.thread.Dispose()

	m.mu.Lock()
	delete(m.bySessionID, at.sessionID)
	delete(m.byTargetID, at.targetID)
	m.mu.Unlock()
}

func (m *Manager) onTargetDestroyed(ev *rp.TargetDestroyed) {
	m.mu.Lock()
	at, ok := m.byTargetID[ev.TargetID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.detach(context.Background(), at)
	m.emitContextsChanged()
}

func (m *Manager) onExecutionContextCreated(ev *rp.ExecutionContextCreated) {
	m.mu.Lock()
	m.contexts[ev.Context.ID] = ev.Context
	m.mu.Unlock()
	m.emitContextsChanged()
}

func (m *Manager) onExecutionContextDestroyed(ev *rp.ExecutionContextDestroyed) {
	m.mu.Lock()
	delete(m.contexts, ev.ExecutionContextID)
	m.mu.Unlock()
	m.emitContextsChanged()
}

func (m *Manager) onExecutionContextsCleared() {
	m.mu.Lock()
	m.contexts = map[int64]rp.ExecutionContextDesc{}
	m.mu.Unlock()
	m.emitContextsChanged()
}

// ThreadBySession looks up the Thread attached under a given RP session
// id, for the adapter to route stepping/evaluate requests.
func (m *Manager) ThreadBySession(sessionID string) (*thread.Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.bySessionID[sessionID]
	if !ok {
		return nil, false
	}
	return at.thread, true
}

// Threads returns every currently attached Thread, for DP's `threads`
// request.
func (m *Manager) Threads() []*thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*thread.Thread, 0, len(m.bySessionID))
	for _, at := range m.bySessionID {
		out = append(out, at.thread)
	}
	return out
}

// contextAuxData is the subset of Runtime.ExecutionContextDescription's
// auxData this package reads, per spec.md §4.8 step 1 ("auxData has
// isDefault=true and a frameId").
type contextAuxData struct {
	IsDefault bool   `json:"isDefault"`
	FrameID   string `json:"frameId"`
}

func parseAuxData(raw json.RawMessage) contextAuxData {
	var aux contextAuxData
	if len(raw) == 0 {
		return aux
	}
	_ = json.Unmarshal(raw, &aux)
	return aux
}

// ContextNode is one entry of the execution-context tree spec.md §4.8
// builds for an IDE picker.
type ContextNode struct {
	Context  rp.ExecutionContextDesc
	Children []ContextNode
}

// ContextTree builds the picker tree spec.md §4.8 steps 1-4 describe,
// given the target's current frame tree.
//
//  1. mainForFrameID: frames whose default context (auxData.isDefault)
//     carries a frameId.
//  2. worldsForFrameID: every other context that names a frameId.
//  3. Walk the frame tree depth-first: a frame with a main context pushes
//     it with its worlds as children, then recurses under it; a frame
//     with no main context flattens its worlds in place and recurses
//     without nesting.
//  4. Contexts that never matched a frameId are appended at the root,
//     under no particular frame (spec.md's "most specific owning
//     target" collapses to the root when this Manager only tracks one
//     target's contexts at a time).
func (m *Manager) ContextTree(tree rp.FrameTree) []ContextNode {
	m.mu.Lock()
	contexts := make(map[int64]rp.ExecutionContextDesc, len(m.contexts))
	for id, c := range m.contexts {
		contexts[id] = c
	}
	m.mu.Unlock()

	mainForFrame := map[string]rp.ExecutionContextDesc{}
	worldsForFrame := map[string][]rp.ExecutionContextDesc{}
	matched := map[int64]bool{}

	for id, c := range contexts {
		aux := parseAuxData(c.AuxData)
		if aux.FrameID == "" {
			continue
		}
		if aux.IsDefault {
			mainForFrame[aux.FrameID] = c
			matched[id] = true
		} else {
			worldsForFrame[aux.FrameID] = append(worldsForFrame[aux.FrameID], c)
			matched[id] = true
		}
	}

	var nodes []ContextNode
	nodes = append(nodes, walkFrameTree(tree, mainForFrame, worldsForFrame)...)

	for id, c := range contexts {
		if !matched[id] {
			nodes = append(nodes, ContextNode{Context: c})
		}
	}
	return nodes
}

func walkFrameTree(t rp.FrameTree, mainForFrame map[string]rp.ExecutionContextDesc, worldsForFrame map[string][]rp.ExecutionContextDesc) []ContextNode {
	var out []ContextNode

	main, hasMain := mainForFrame[t.Frame.ID]
	if hasMain {
		node := ContextNode{Context: main}
		for _, w := range worldsForFrame[t.Frame.ID] {
			node.Children = append(node.Children, ContextNode{Context: w})
		}
		for _, child := range t.ChildFrames {
			node.Children = append(node.Children, walkFrameTree(child, mainForFrame, worldsForFrame)...)
		}
		out = append(out, node)
		return out
	}

	for _, w := range worldsForFrame[t.Frame.ID] {
		out = append(out, ContextNode{Context: w})
	}
	for _, child := range t.ChildFrames {
		out = append(out, walkFrameTree(child, mainForFrame, worldsForFrame)...)
	}
	return out
}
