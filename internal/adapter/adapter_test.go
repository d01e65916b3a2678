package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"

	dap "github.com/google/go-dap"

	"jsdebugcore/internal/breakpoints"
	"jsdebugcore/internal/config"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/pathresolver"
	"jsdebugcore/internal/predictor"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/sources"
	"jsdebugcore/internal/targets"
	"jsdebugcore/internal/thread"
)

// fakeSession is a minimal rp.Session stub, in the style of this module's
// other hand-rolled-fake tests (see internal/breakpoints/breakpoints_test.go).
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

type emptyRepo struct{}

func (emptyRepo) Scan(ctx context.Context, globs []string) (<-chan predictor.FileMetadata, error) {
	ch := make(chan predictor.FileMetadata)
	close(ch)
	return ch, nil
}

var threadIDCounter int

func nextThreadID() int {
	threadIDCounter++
	return threadIDCounter
}

// newTestAdapter wires a real Adapter against real collaborator packages
// backed by fakeSession, the way internal/session will in production: the
// Adapter itself is handed to the target manager's thread factory as the
// event sink, since Adapter.Send implements thread.Sink.
func newTestAdapter(t *testing.T) (*Adapter, *targets.Manager, *bytes.Buffer) {
	t.Helper()
	resolver := pathresolver.New(config.Launch{})
	src := sources.NewContainer(config.Launch{}, resolver, func(ctx context.Context, url string) ([]byte, error) {
		return nil, nil
	})

	var out bytes.Buffer
	a := New(&out, Config{Sources: src, Resolver: resolver, Launch: config.Launch{}}, nil)

	rootSession := &fakeSession{id: "root"}
	tm := targets.NewManager(rootSession,
		func(sessionID string) rp.Session { return &fakeSession{id: sessionID} },
		func(session rp.Session, info rp.TargetInfo) *thread.Thread {
			return thread.New(thread.Config{ID: nextThreadID(), Session: session, Sink: a}, nil)
		})
	a.targetsMgr = tm

	bp := breakpoints.New(src, func() []breakpoints.ThreadHandle {
		ths := tm.Threads()
		out := make([]breakpoints.ThreadHandle, len(ths))
		for i, th := range ths {
			out[i] = th
		}
		return out
	}, a)
	a.breakpoints = bp

	a.predictor = predictor.New(emptyRepo{}, func(ctx context.Context, compiledPath, url string) ([]byte, error) {
		return nil, nil
	}, resolver, 0, nil)

	return a, tm, &out
}

func attachThread(ctx context.Context, tm *targets.Manager, sessionID, targetID string) {
	tm.HandleEvent(ctx, rp.Event{
		AttachedToTarget: &rp.AttachedToTarget{
			SessionID:  sessionID,
			TargetInfo: rp.TargetInfo{TargetID: targetID, Type: "page"},
		},
	})
}

func readResponses(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	br := bufio.NewReader(out)
	for {
		raw, err := readFrame(br)
		if err != nil {
			break
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestOnInitializeSendsCapabilitiesThenInitializedEvent(t *testing.T) {
	a, _, out := newTestAdapter(t)
	a.onInitialize(&dap.InitializeRequest{Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1}, Command: "initialize"}})

	msgs := readResponses(t, out)
	if len(msgs) != 2 {
		t.Fatalf("expected a response then an event, got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[0]["type"] != "response" || msgs[0]["command"] != "initialize" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1]["type"] != "event" || msgs[1]["event"] != "initialized" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
}

func TestOnThreadsListsAttachedThreads(t *testing.T) {
	a, tm, out := newTestAdapter(t)
	attachThread(context.Background(), tm, "s1", "t1")

	a.onThreads(&dap.ThreadsRequest{Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 2}, Command: "threads"}})

	msgs := readResponses(t, out)
	if len(msgs) != 1 {
		t.Fatalf("expected one response, got %d", len(msgs))
	}
	body := msgs[0]["body"].(map[string]any)
	threads := body["threads"].([]any)
	if len(threads) != 1 {
		t.Fatalf("expected one thread, got %+v", threads)
	}
}

func TestOnContinueUnknownThreadSendsSilentError(t *testing.T) {
	a, _, out := newTestAdapter(t)
	a.onContinue(context.Background(), &dap.ContinueRequest{
		Request:   dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 3}, Command: "continue"},
		Arguments: dap.ContinueArguments{ThreadId: 999},
	})

	msgs := readResponses(t, out)
	if len(msgs) != 1 {
		t.Fatalf("expected one response, got %d", len(msgs))
	}
	if msgs[0]["success"] != false {
		t.Fatalf("expected an error response, got %+v", msgs[0])
	}
	body := msgs[0]["body"].(map[string]any)
	errMsg := body["error"].(map[string]any)
	if errMsg["showUser"] != false {
		t.Fatalf("expected a silent error (showUser=false), got %+v", errMsg)
	}
}

func TestOnStackTraceForPausedThreadRendersFrames(t *testing.T) {
	a, tm, out := newTestAdapter(t)
	ctx := context.Background()
	attachThread(ctx, tm, "s1", "t1")

	tm.HandleEvent(ctx, rp.Event{
		SessionID: "s1",
		Paused: &rp.Paused{
			Reason: "other",
			CallFrames: []rp.CallFrame{
				{CallFrameID: "cf1", FunctionName: "main", Location: rp.Location{ScriptID: "sc1", LineNumber: 4, ColumnNumber: 2}},
			},
		},
	})

	th, ok := tm.ThreadBySession("s1")
	if !ok {
		t.Fatal("expected the attached thread to be registered")
	}
	paused, ok := th.Paused()
	if !ok {
		t.Fatal("expected the thread to be paused after a Debugger.paused event")
	}
	frames := paused.Stack.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}

	a.onStackTrace(&dap.StackTraceRequest{
		Request:   dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 4}, Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{ThreadId: th.ID()},
	})

	msgs := readResponses(t, out)
	if len(msgs) != 1 {
		t.Fatalf("expected one response, got %d", len(msgs))
	}
	body := msgs[0]["body"].(map[string]any)
	if body["totalFrames"].(float64) != 1 {
		t.Fatalf("expected totalFrames 1, got %+v", body)
	}
	out0 := body["stackFrames"].([]any)[0].(map[string]any)
	if out0["id"].(float64) != float64(frames[0].ID) {
		t.Fatalf("expected frame id %d, got %+v", frames[0].ID, out0)
	}
}

func TestRevealLocationSynthesizesThreadAndAcknowledgeForgetsIt(t *testing.T) {
	a, _, out := newTestAdapter(t)
	a.RevealLocation(location.UiLocation{LineNumber: 10, ColumnNumber: 1})

	msgs := readResponses(t, out)
	if len(msgs) != 1 || msgs[0]["event"] != "stopped" {
		t.Fatalf("expected a stopped event, got %+v", msgs)
	}
	if a.revealFrame == nil {
		t.Fatal("expected a reveal snapshot to be recorded")
	}

	a.AcknowledgeReveal()
	msgs = readResponses(t, out)
	if len(msgs) != 2 || msgs[0]["event"] != "continued" || msgs[1]["event"] != "thread" {
		t.Fatalf("expected continued then thread events, got %+v", msgs)
	}
	if a.revealFrame != nil {
		t.Fatal("expected the reveal snapshot forgotten after acknowledgement")
	}
}

func TestExceptionStateMapsFilterSet(t *testing.T) {
	cases := []struct {
		filters []string
		want    rp.PauseOnExceptionsState
	}{
		{nil, rp.PauseOnExceptionsNone},
		{[]string{"uncaught"}, rp.PauseOnExceptionsUncaught},
		{[]string{"caught"}, rp.PauseOnExceptionsAll},
		{[]string{"caught", "uncaught"}, rp.PauseOnExceptionsAll},
	}
	for _, c := range cases {
		if got := exceptionState(c.filters); got != c.want {
			t.Errorf("exceptionState(%v) = %v, want %v", c.filters, got, c.want)
		}
	}
}

func TestDecodeRequestRoutesKnownAndCustomCommands(t *testing.T) {
	raw := []byte(`{"seq":1,"type":"request","command":"threads"}`)
	msg, err := decodeRequest(raw)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if _, ok := msg.(*dap.ThreadsRequest); !ok {
		t.Fatalf("expected *dap.ThreadsRequest, got %T", msg)
	}

	raw = []byte(`{"seq":2,"type":"request","command":"updateCustomBreakpoints","arguments":{"breakpoints":[{"id":"instrumentation:setTimeout","enabled":true}]}}`)
	msg, err = decodeRequest(raw)
	if err != nil {
		t.Fatalf("decodeRequest custom command: %v", err)
	}
	custom, ok := msg.(*updateCustomBreakpointsRequest)
	if !ok {
		t.Fatalf("expected *updateCustomBreakpointsRequest, got %T", msg)
	}
	if len(custom.Arguments.Breakpoints) != 1 || custom.Arguments.Breakpoints[0].ID != "instrumentation:setTimeout" {
		t.Fatalf("unexpected decoded arguments: %+v", custom.Arguments)
	}
}

func TestReadFrameParsesContentLengthHeader(t *testing.T) {
	body := `{"seq":1,"type":"request","command":"threads"}`
	wire := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	br := bufio.NewReader(bytes.NewBufferString(wire))

	raw, err := readFrame(br)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(raw) != body {
		t.Fatalf("expected body %q, got %q", body, raw)
	}
}
