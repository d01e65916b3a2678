package custombp

import (
	"context"
	"testing"

	"github.com/daabr/chrome-vision/pkg/cdp/domdebugger"
)

type recordingOps struct {
	calls []string
}

func (r *recordingOps) SetInstrumentationBreakpoint(ctx context.Context, cmd *domdebugger.SetInstrumentationBreakpoint) error {
	r.calls = append(r.calls, "set-instr:"+cmd.EventName)
	return nil
}
func (r *recordingOps) RemoveInstrumentationBreakpoint(ctx context.Context, cmd *domdebugger.RemoveInstrumentationBreakpoint) error {
	r.calls = append(r.calls, "remove-instr:"+cmd.EventName)
	return nil
}
func (r *recordingOps) SetEventListenerBreakpoint(ctx context.Context, cmd *domdebugger.SetEventListenerBreakpoint) error {
	r.calls = append(r.calls, "set-listener:"+cmd.EventName)
	return nil
}
func (r *recordingOps) RemoveEventListenerBreakpoint(ctx context.Context, cmd *domdebugger.RemoveEventListenerBreakpoint) error {
	r.calls = append(r.calls, "remove-listener:"+cmd.EventName)
	return nil
}

func TestCatalogIsNonEmptyAndIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range Catalog {
		if seen[e.ID] {
			t.Fatalf("duplicate catalog id %q", e.ID)
		}
		seen[e.ID] = true
	}
	if len(Catalog) == 0 {
		t.Fatal("expected a non-empty catalog")
	}
}

func TestLookupFindsKnownEntry(t *testing.T) {
	e, ok := Lookup("instrumentation:setTimeout")
	if !ok {
		t.Fatal("expected setTimeout instrumentation entry")
	}
	if e.Category != CategoryTimer {
		t.Fatalf("expected Timer category, got %v", e.Category)
	}
}

func TestApplyInstrumentationBreakpoint(t *testing.T) {
	e, _ := Lookup("instrumentation:setTimeout")
	ops := &recordingOps{}
	if err := e.Apply.Apply(context.Background(), ops, "", true); err != nil {
		t.Fatal(err)
	}
	if len(ops.calls) != 1 || ops.calls[0] != "set-instr:setTimeout" {
		t.Fatalf("unexpected calls: %v", ops.calls)
	}
}

func TestApplyEventListenerBreakpointRemoval(t *testing.T) {
	e, ok := Lookup("listener:click")
	if !ok {
		t.Fatal("expected click listener entry")
	}
	ops := &recordingOps{}
	if err := e.Apply.Apply(context.Background(), ops, "Node", false); err != nil {
		t.Fatal(err)
	}
	if len(ops.calls) != 1 || ops.calls[0] != "remove-listener:click" {
		t.Fatalf("unexpected calls: %v", ops.calls)
	}
}

func TestDescribeEnrichesEventListenerPause(t *testing.T) {
	short, long, ok := Describe("listener:click", map[string]any{"targetName": "Node"})
	if !ok {
		t.Fatal("expected a description for a cataloged listener")
	}
	if short != "Click" || long == "" {
		t.Fatalf("unexpected description: %q / %q", short, long)
	}
}

func TestDescribeUnknownIDReturnsNotOK(t *testing.T) {
	if _, _, ok := Describe("listener:does-not-exist", nil); ok {
		t.Fatal("expected ok=false for an unknown id")
	}
}

func TestByCategoryGroupsEntries(t *testing.T) {
	groups := ByCategory()
	if len(groups[CategoryTimer]) == 0 {
		t.Fatal("expected Timer category to have entries")
	}
}
