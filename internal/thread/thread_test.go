package thread

import (
	"context"
	"testing"

	"github.com/google/go-dap"

	"jsdebugcore/internal/location"
	"jsdebugcore/internal/rp"
	"jsdebugcore/internal/smartstep"
)

// fakeSession is a minimal rp.Session stub recording every call it's asked
// to make, mirroring the hand-rolled fake style used across this module's
// other package tests instead of a generated mock.
type fakeSession struct {
	calls []string
}

func (f *fakeSession) ID() string             { return "fake" }
func (f *fakeSession) Events() <-chan rp.Event { return nil }
func (f *fakeSession) Call(ctx context.Context, method string, params, out any) error {
	f.calls = append(f.calls, method)
	return nil
}

// fakeSink collects every DP message a Thread sends it.
type fakeSink struct {
	sent []dap.Message
}

func (s *fakeSink) Send(m dap.Message) { s.sent = append(s.sent, m) }

func newTestThread(session *fakeSession, sink *fakeSink, classify FrameClassifier, smartStep bool) *Thread {
	return New(Config{
		ID:               1,
		Session:          session,
		Sink:             sink,
		FrameClassifier:  classify,
		SmartStepEnabled: smartStep,
	}, nil)
}

func TestStartEnablesDomainsAndTransitionsToNormal(t *testing.T) {
	session := &fakeSession{}
	th := newTestThread(session, &fakeSink{}, nil, false)

	if err := th.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if th.State() != StateNormal {
		t.Fatalf("expected StateNormal, got %v", th.State())
	}
	if len(session.calls) < 2 || session.calls[0] != "Runtime.enable" || session.calls[1] != "Debugger.enable" {
		t.Fatalf("expected Runtime.enable then Debugger.enable, got %v", session.calls)
	}
}

func TestPausedEmitsStoppedEvent(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	th := newTestThread(session, sink, nil, false)

	th.HandleEvent(context.Background(), rp.Event{Paused: &rp.Paused{
		Reason:     "other",
		CallFrames: []rp.CallFrame{{CallFrameID: "cf-1", FunctionName: "main"}},
	}})

	if len(sink.sent) != 1 {
		t.Fatalf("expected exactly one sink message, got %d", len(sink.sent))
	}
	stopped, ok := sink.sent[0].(*dap.StoppedEvent)
	if !ok {
		t.Fatalf("expected a StoppedEvent, got %T", sink.sent[0])
	}
	if stopped.Body.Reason != "breakpoint" || stopped.Body.ThreadId != 1 {
		t.Fatalf("unexpected stopped body: %+v", stopped.Body)
	}

	if _, paused := th.Paused(); !paused {
		t.Fatal("expected the thread to report itself paused")
	}
}

func TestResumedOnlyEmitsContinuedAfterAPause(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	th := newTestThread(session, sink, nil, false)

	th.HandleEvent(context.Background(), rp.Event{Resumed: &rp.Resumed{}})
	if len(sink.sent) != 0 {
		t.Fatalf("expected no event for a resumed with no prior pause, got %v", sink.sent)
	}

	th.HandleEvent(context.Background(), rp.Event{Paused: &rp.Paused{Reason: "other"}})
	th.HandleEvent(context.Background(), rp.Event{Resumed: &rp.Resumed{}})

	if len(sink.sent) != 2 {
		t.Fatalf("expected stopped then continued, got %d messages", len(sink.sent))
	}
	if _, ok := sink.sent[1].(*dap.ContinuedEvent); !ok {
		t.Fatalf("expected a ContinuedEvent, got %T", sink.sent[1])
	}
	if _, paused := th.Paused(); paused {
		t.Fatal("expected the thread to no longer be paused")
	}
}

func TestSmartStepSuppressesStoppedEventAndReissuesStep(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	classify := func(raw location.Location) smartstep.Frame {
		return smartstep.Frame{HasSourceMap: true, PositionMapped: false}
	}
	th := newTestThread(session, sink, classify, true)

	th.HandleEvent(context.Background(), rp.Event{Paused: &rp.Paused{
		Reason:     "step",
		CallFrames: []rp.CallFrame{{CallFrameID: "cf-1"}},
	}})

	if len(sink.sent) != 0 {
		t.Fatalf("expected no stopped event while smart-stepping, got %v", sink.sent)
	}
	if len(session.calls) == 0 || session.calls[len(session.calls)-1] != "Debugger.stepInto" {
		t.Fatalf("expected a reissued stepInto, got %v", session.calls)
	}
	if _, paused := th.Paused(); paused {
		t.Fatal("a smart-stepped pause must not surface as paused")
	}
}

func TestConsecutiveSmartStepsForceStepOut(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	classify := func(raw location.Location) smartstep.Frame {
		return smartstep.Frame{HasSourceMap: true, PositionMapped: false}
	}
	th := newTestThread(session, sink, classify, true)
	th.smartStep = th.smartStep.WithMaxConsecutiveSteps(2)

	paused := rp.Event{Paused: &rp.Paused{Reason: "step", CallFrames: []rp.CallFrame{{CallFrameID: "cf-1"}}}}
	th.HandleEvent(context.Background(), paused)
	th.HandleEvent(context.Background(), paused)
	th.HandleEvent(context.Background(), paused)

	if session.calls[len(session.calls)-1] != "Debugger.stepOut" {
		t.Fatalf("expected the third consecutive smart-step to force a stepOut, got %v", session.calls)
	}
}

func TestRestartFrameRejectsAsyncSeparator(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	th := newTestThread(session, sink, nil, false)

	th.HandleEvent(context.Background(), rp.Event{Paused: &rp.Paused{
		Reason: "other",
		CallFrames: []rp.CallFrame{
			{CallFrameID: "", FunctionName: "asyncGap"},
		},
	}})

	paused, _ := th.Paused()
	frameID := paused.Stack.Frames()[0].ID

	if err := th.RestartFrame(context.Background(), frameID); err == nil {
		t.Fatal("expected restarting a frame with no callFrameId to fail")
	}
}

func TestConsoleMessagePlainTextForPrimitiveArgs(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	th := newTestThread(session, sink, nil, false)

	th.HandleEvent(context.Background(), rp.Event{ConsoleAPICalled: &rp.ConsoleAPICalled{
		Type: "log",
		Args: []rp.RemoteObject{{Type: "string", Value: []byte(`"hello"`)}},
	}})

	if len(sink.sent) != 1 {
		t.Fatalf("expected one output event, got %d", len(sink.sent))
	}
	out, ok := sink.sent[0].(*dap.OutputEvent)
	if !ok {
		t.Fatalf("expected an OutputEvent, got %T", sink.sent[0])
	}
	if out.Body.VariablesReference != 0 {
		t.Fatalf("primitive args shouldn't get a variablesReference, got %d", out.Body.VariablesReference)
	}
}

func TestConsoleMessageWithObjectArgGetsVariablesReference(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	th := newTestThread(session, sink, nil, false)

	th.HandleEvent(context.Background(), rp.Event{ConsoleAPICalled: &rp.ConsoleAPICalled{
		Type: "log",
		Args: []rp.RemoteObject{{Type: "object", ClassName: "Point", ObjectID: "obj-1"}},
	}})

	out := sink.sent[0].(*dap.OutputEvent)
	if out.Body.VariablesReference == 0 {
		t.Fatal("expected a non-zero variablesReference for an object argument")
	}
}

func TestDisposeEmitsThreadExitedAndDropsFurtherEvents(t *testing.T) {
	session := &fakeSession{}
	sink := &fakeSink{}
	th := newTestThread(session, sink, nil, false)

	th.Dispose()
	if len(sink.sent) != 1 {
		t.Fatalf("expected exactly one thread-exited event, got %d", len(sink.sent))
	}
	if _, ok := sink.sent[0].(*dap.ThreadEvent); !ok {
		t.Fatalf("expected a ThreadEvent, got %T", sink.sent[0])
	}

	th.HandleEvent(context.Background(), rp.Event{Paused: &rp.Paused{Reason: "other"}})
	if len(sink.sent) != 1 {
		t.Fatal("expected a disposed thread to drop further events")
	}
}
