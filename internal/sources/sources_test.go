package sources

import (
	"context"
	"testing"

	"jsdebugcore/internal/config"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/pathresolver"
)

const testMap = `{
	"version": 3,
	"sources": ["a.ts"],
	"sourcesContent": ["let x = 1;\n"],
	"mappings": "AAAA"
}`

func newTestContainer(t *testing.T) *Container {
	resolver := pathresolver.New(config.Launch{WebRoot: "/w"})
	loader := func(ctx context.Context, url string) ([]byte, error) {
		return []byte(testMap), nil
	}
	return NewContainer(config.Launch{}, resolver, loader)
}

func TestAddSourceLoadsMapAndCreatesOriginal(t *testing.T) {
	c := newTestContainer(t)

	var events []LoadedSourceEvent
	c.OnLoadedSource(func(e LoadedSourceEvent) { events = append(events, e) })

	compiled := NewCompiled(c.NextRef(), "http://localhost/a.js", nil, "a.js.map", nil)
	if err := c.AddSource(context.Background(), compiled); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 loadedSource events (compiled + original), got %d", len(events))
	}
	if events[0].Reason != ReasonNew || events[1].Reason != ReasonNew {
		t.Fatalf("expected both events to be 'new'")
	}

	original, ok := c.ByURL("a.ts")
	if !ok {
		t.Fatal("expected original source a.ts to be registered")
	}
	if original.IsCompiled() {
		t.Fatal("a.ts should be an original source")
	}
}

func TestUILocationRoundTripsThroughMap(t *testing.T) {
	c := newTestContainer(t)
	compiled := NewCompiled(c.NextRef(), "http://localhost/a.js", nil, "a.js.map", nil)
	if err := c.AddSource(context.Background(), compiled); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	ui := c.UILocation(compiled, location.Location{URL: "a.js", LineNumber: 0, ColumnNumber: 0})
	original, _ := c.ByURL("a.ts")
	if ui.SourceRef != original.Ref() {
		t.Fatalf("expected UI location to point at the original source, got ref %d want %d", ui.SourceRef, original.Ref())
	}
	if ui.LineNumber != 1 || ui.ColumnNumber != 1 {
		t.Fatalf("expected one-based 1:1, got %d:%d", ui.LineNumber, ui.ColumnNumber)
	}

	raws := c.RawLocations(ui)
	if len(raws) != 1 || raws[0].URL != "http://localhost/a.js" || raws[0].LineNumber != 0 {
		t.Fatalf("RawLocations inverse failed: %+v", raws)
	}
}

func TestRemoveSourceDropsOrphanedOriginal(t *testing.T) {
	c := newTestContainer(t)
	compiled := NewCompiled(c.NextRef(), "http://localhost/a.js", nil, "a.js.map", nil)
	if err := c.AddSource(context.Background(), compiled); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	var removed []LoadedSourceEvent
	c.OnLoadedSource(func(e LoadedSourceEvent) {
		if e.Reason == ReasonRemoved {
			removed = append(removed, e)
		}
	})

	c.RemoveSource(compiled)

	if len(removed) != 2 {
		t.Fatalf("expected compiled + orphaned original to be removed, got %d", len(removed))
	}
	if _, ok := c.ByURL("a.ts"); ok {
		t.Fatal("expected a.ts to be dropped once its only compiled owner was removed")
	}
}

func TestMapLessCompiledDegradesGracefully(t *testing.T) {
	resolver := pathresolver.New(config.Launch{})
	loader := func(ctx context.Context, url string) ([]byte, error) {
		return nil, errBoom
	}
	c := NewContainer(config.Launch{}, resolver, loader)

	compiled := NewCompiled(c.NextRef(), "http://localhost/a.js", nil, "a.js.map", nil)
	err := c.AddSource(context.Background(), compiled)
	if err == nil {
		t.Fatal("expected the map load failure to be surfaced")
	}
	if compiled.Map() != nil {
		t.Fatal("expected no map to be attached on a load failure")
	}
	if _, ok := c.ByRefForTest(compiled.Ref()); !ok {
		t.Fatal("compiled source must stay registered even when its map fails to load")
	}
}

// ByRefForTest exposes BySourceReference under a test-friendly name to
// keep the exported surface free of test-only helpers.
func (c *Container) ByRefForTest(ref int) (*Source, bool) { return c.BySourceReference(ref) }

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("boom")
