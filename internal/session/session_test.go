package session

import (
	"bytes"
	"context"
	"testing"

	"jsdebugcore/internal/config"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/predictor"
	"jsdebugcore/internal/rp"
)

// fakeSession mirrors the hand-rolled rp.Session stub used throughout this
// module's tests (see internal/adapter/adapter_test.go).
type fakeSession struct {
	id        string
	events    chan rp.Event
	scriptSrc string
}

func (f *fakeSession) ID() string             { return f.id }
func (f *fakeSession) Events() <-chan rp.Event { return f.events }
func (f *fakeSession) Call(ctx context.Context, method string, params, out any) error {
	if method == "Debugger.getScriptSource" {
		if resp, ok := out.(*rp.GetScriptSourceResponse); ok {
			resp.ScriptSource = f.scriptSrc
		}
	}
	return nil
}

type emptyRepo struct{}

func (emptyRepo) Scan(ctx context.Context, globs []string) (<-chan predictor.FileMetadata, error) {
	ch := make(chan predictor.FileMetadata)
	close(ch)
	return ch, nil
}

func newTestContext(t *testing.T, root *fakeSession, leaf *fakeSession) (*Context, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c := New(config.Launch{}, &out, Transport{
		Root: root,
		SessionFactory: func(sessionID string) rp.Session {
			return leaf
		},
		SourceMapLoader:     func(ctx context.Context, url string) ([]byte, error) { return nil, nil },
		PredictionMapLoader: func(ctx context.Context, compiledPath, url string) ([]byte, error) { return nil, nil },
		Scanner:             emptyRepo{},
		Navigate:            func(ctx context.Context, url string) error { return nil },
	})
	return c, &out
}

func TestAttachAndScriptParsedFlowsIntoAdapter(t *testing.T) {
	root := &fakeSession{id: "root", events: make(chan rp.Event)}
	leaf := &fakeSession{id: "s1", events: make(chan rp.Event), scriptSrc: "console.log(1)"}
	c, _ := newTestContext(t, root, leaf)

	ctx := context.Background()
	c.handleEvent(ctx, rp.Event{
		AttachedToTarget: &rp.AttachedToTarget{
			SessionID:  "s1",
			TargetInfo: rp.TargetInfo{TargetID: "t1", Type: "page"},
		},
	})

	th, ok := c.Targets.ThreadBySession("s1")
	if !ok {
		t.Fatal("expected thread attached under session s1")
	}
	if th.ID() == 0 {
		t.Fatal("expected a non-zero minted thread id")
	}

	c.handleEvent(ctx, rp.Event{
		SessionID: "s1",
		ScriptParsed: &rp.ScriptParsed{
			ScriptID: "sc1",
			URL:      "http://example.com/app.js",
		},
	})

	c.mu.Lock()
	url, ok := c.scriptURLs["sc1"]
	c.mu.Unlock()
	if !ok || url != "http://example.com/app.js" {
		t.Fatalf("expected scriptURLs to record sc1, got %q ok=%v", url, ok)
	}

	if _, ok := c.Sources.ByURL("http://example.com/app.js"); !ok {
		t.Fatal("expected handleScriptParsed to register a compiled source")
	}
}

func TestClassifyFrameWithoutKnownScriptReturnsZeroValue(t *testing.T) {
	root := &fakeSession{id: "root", events: make(chan rp.Event)}
	leaf := &fakeSession{id: "s1", events: make(chan rp.Event)}
	c, _ := newTestContext(t, root, leaf)

	f := c.classifyFrame(location.Location{ScriptID: "unknown-script"})
	if f.HasSourceMap || f.PositionMapped || f.Blackboxed {
		t.Fatalf("expected zero-value classification for an unknown script, got %+v", f)
	}
}

func TestRunForwardsEventsUntilChannelCloses(t *testing.T) {
	root := &fakeSession{id: "root", events: make(chan rp.Event)}
	leaf := &fakeSession{id: "s1", events: make(chan rp.Event)}
	c, _ := newTestContext(t, root, leaf)

	events := make(chan rp.Event, 1)
	events <- rp.Event{
		AttachedToTarget: &rp.AttachedToTarget{
			SessionID:  "s1",
			TargetInfo: rp.TargetInfo{TargetID: "t1", Type: "page"},
		},
	}
	close(events)

	c.Run(context.Background(), events)

	if _, ok := c.Targets.ThreadBySession("s1"); !ok {
		t.Fatal("expected Run to have dispatched the attach event before the channel closed")
	}
}
