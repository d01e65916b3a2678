package targets

import (
	"context"
	"testing"

	"github.com/google/go-dap"

	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/thread"
)

// fakeSession is a minimal rp.Session stub recording every call it's asked
// to make, mirroring this module's other hand-rolled-fake package tests.
type fakeSession struct {
	id    string
	calls []string
}

func (f *fakeSession) ID() string             { return f.id }
func (f *fakeSession) Events() <-chan rp.Event { return nil }
func (f *fakeSession) Call(ctx context.Context, method string, params, out any) error {
	f.calls = append(f.calls, method)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeSession, map[string]*fakeSession) {
	t.Helper()
	root := &fakeSession{id: "root"}
	bySessionID := map[string]*fakeSession{}

	m := NewManager(root,
		func(sessionID string) rp.Session {
			s := &fakeSession{id: sessionID}
			bySessionID[sessionID] = s
			return s
		},
		func(session rp.Session, info rp.TargetInfo) *thread.Thread {
			return thread.New(thread.Config{ID: len(bySessionID), Session: session, Sink: discardSink{}}, nil)
		},
	)
	return m, root, bySessionID
}

type discardSink struct{}

func (discardSink) Send(m dap.Message) {}

func TestOnTargetCreatedAttachesOnlyFirstPageTarget(t *testing.T) {
	m, root, _ := newTestManager(t)

	m.HandleEvent(context.Background(), rp.Event{TargetCreated: &rp.TargetCreated{
		TargetInfo: rp.TargetInfo{TargetID: "t1", Type: "page"},
	}})
	m.HandleEvent(context.Background(), rp.Event{TargetCreated: &rp.TargetCreated{
		TargetInfo: rp.TargetInfo{TargetID: "t2", Type: "page"},
	}})

	attachCalls := 0
	for _, c := range root.calls {
		if c == "Target.attachToTarget" {
			attachCalls++
		}
	}
	if attachCalls != 1 {
		t.Fatalf("expected exactly one attachToTarget call, got %d", attachCalls)
	}
}

func TestOnAttachedToTargetStartsThreadAndEnablesAutoAttach(t *testing.T) {
	m, _, sessions := newTestManager(t)

	m.HandleEvent(context.Background(), rp.Event{AttachedToTarget: &rp.AttachedToTarget{
		SessionID:  "s1",
		TargetInfo: rp.TargetInfo{TargetID: "t1", Type: "page"},
	}})

	th, ok := m.ThreadBySession("s1")
	if !ok {
		t.Fatal("expected a thread registered under session s1")
	}
	if th.State() != thread.StateNormal {
		t.Fatalf("expected the new target's thread to have started, got state %v", th.State())
	}

	s1 := sessions["s1"]
	found := false
	for _, c := range s1.calls {
		if c == "Target.setAutoAttach" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected setAutoAttach issued on the newly attached session")
	}
}

func TestDetachRecursesIntoChildren(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.HandleEvent(context.Background(), rp.Event{AttachedToTarget: &rp.AttachedToTarget{
		SessionID:  "parent",
		TargetInfo: rp.TargetInfo{TargetID: "t-parent", Type: "page"},
	}})
	m.HandleEvent(context.Background(), rp.Event{AttachedToTarget: &rp.AttachedToTarget{
		SessionID:  "child",
		TargetInfo: rp.TargetInfo{TargetID: "t-child", Type: "iframe", OpenerID: "t-parent"},
	}})

	parentThread, _ := m.ThreadBySession("parent")
	childThread, _ := m.ThreadBySession("child")

	m.HandleEvent(context.Background(), rp.Event{DetachedFromTarget: &rp.DetachedFromTarget{SessionID: "parent"}})

	if childThread.State() != thread.StateDisposed {
		t.Fatalf("expected the child thread disposed, got %v", childThread.State())
	}
	if parentThread.State() != thread.StateDisposed {
		t.Fatalf("expected the parent thread disposed, got %v", parentThread.State())
	}
	if _, ok := m.ThreadBySession("parent"); ok {
		t.Fatal("expected the parent session removed from the manager")
	}
	if _, ok := m.ThreadBySession("child"); ok {
		t.Fatal("expected the child session removed from the manager")
	}
}

func TestContextTreeGroupsWorldsUnderMainContext(t *testing.T) {
	m, _, _ := newTestManager(t)

	main := rp.ExecutionContextDesc{ID: 1, AuxData: []byte(`{"isDefault":true,"frameId":"f1"}`)}
	world := rp.ExecutionContextDesc{ID: 2, AuxData: []byte(`{"isDefault":false,"frameId":"f1"}`)}
	orphan := rp.ExecutionContextDesc{ID: 3}

	m.HandleEvent(context.Background(), rp.Event{ExecutionContextCreated: &rp.ExecutionContextCreated{Context: main}})
	m.HandleEvent(context.Background(), rp.Event{ExecutionContextCreated: &rp.ExecutionContextCreated{Context: world}})
	m.HandleEvent(context.Background(), rp.Event{ExecutionContextCreated: &rp.ExecutionContextCreated{Context: orphan}})

	tree := rp.FrameTree{Frame: rp.Frame{ID: "f1"}}
	nodes := m.ContextTree(tree)

	var root *ContextNode
	for i := range nodes {
		if nodes[i].Context.ID == 1 {
			root = &nodes[i]
		}
	}
	if root == nil {
		t.Fatalf("expected the main context to appear in the tree, got %+v", nodes)
	}
	if len(root.Children) != 1 || root.Children[0].Context.ID != 2 {
		t.Fatalf("expected the world context nested under its main context, got %+v", root.Children)
	}

	foundOrphan := false
	for _, n := range nodes {
		if n.Context.ID == 3 {
			foundOrphan = true
		}
	}
	if !foundOrphan {
		t.Fatal("expected the frameId-less context to surface at the root")
	}
}

func TestContextTreeFlattensWorldsWithNoMainContext(t *testing.T) {
	m, _, _ := newTestManager(t)

	world := rp.ExecutionContextDesc{ID: 2, AuxData: []byte(`{"isDefault":false,"frameId":"f1"}`)}
	m.HandleEvent(context.Background(), rp.Event{ExecutionContextCreated: &rp.ExecutionContextCreated{Context: world}})

	tree := rp.FrameTree{Frame: rp.Frame{ID: "f1"}}
	nodes := m.ContextTree(tree)

	if len(nodes) != 1 || nodes[0].Context.ID != 2 || len(nodes[0].Children) != 0 {
		t.Fatalf("expected the world context flattened at the root, got %+v", nodes)
	}
}

func TestExecutionContextsChangedFiresOnCreateAndDestroy(t *testing.T) {
	m, _, _ := newTestManager(t)

	fired := 0
	m.OnExecutionContextsChanged(func() { fired++ })

	m.HandleEvent(context.Background(), rp.Event{ExecutionContextCreated: &rp.ExecutionContextCreated{
		Context: rp.ExecutionContextDesc{ID: 1},
	}})
	m.HandleEvent(context.Background(), rp.Event{ExecutionContextDestroyed: &rp.ExecutionContextDestroyed{
		ExecutionContextID: 1,
	}})

	if fired != 2 {
		t.Fatalf("expected two notifications, got %d", fired)
	}
}
