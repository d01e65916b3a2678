// Package custombp holds C11: the static catalog of instrumentation and
// event-listener custom breakpoints, grouped by category, per spec.md §6
// "Custom-breakpoint catalog".
package custombp

import (
	"context"
	"fmt"

	"github.com/daabr/chrome-vision/pkg/cdp/domdebugger"

	"jsdebugcore/internal/rp"
)

// Category groups related breakpoint ids for presentation, per spec.md §6.
type Category string

const (
	CategoryAnimation   Category = "Animation"
	CategoryCanvas      Category = "Canvas"
	CategoryTimer       Category = "Timer"
	CategoryMouse       Category = "Mouse"
	CategoryKeyboard    Category = "Keyboard"
	CategoryDOMMutation Category = "DOM Mutation"
	CategoryXHR         Category = "XHR"
	CategoryMedia       Category = "Media"
	CategoryWorker      Category = "Worker"
	CategoryWebAudio    Category = "WebAudio"
)

// Descriptor renders a pause's RP data into short/long user-facing text
// when this breakpoint's kind caused the pause, per spec.md §4.7 ("for
// reason=EventListener consult the custom-breakpoint catalog to enrich
// description/text").
type Descriptor func(data map[string]any) (short, long string)

// Applier installs or removes this breakpoint's effect via the
// DOMDebugger domain.
type Applier interface {
	Apply(ctx context.Context, ops rp.DOMDebuggerOps, target string, enabled bool) error
}

// Entry is one catalog row: a stable id of the form
// "instrumentation:<eventName>" or "listener:<eventName>[@target]".
type Entry struct {
	ID         string
	Category   Category
	Title      string
	Descriptor Descriptor
	Apply      Applier
}

// instrumentationApplier drives DOMDebugger.{set,remove}InstrumentationBreakpoint.
type instrumentationApplier struct{ eventName string }

func (a instrumentationApplier) Apply(ctx context.Context, ops rp.DOMDebuggerOps, target string, enabled bool) error {
	if enabled {
		return ops.SetInstrumentationBreakpoint(ctx, &domdebugger.SetInstrumentationBreakpoint{EventName: a.eventName})
	}
	return ops.RemoveInstrumentationBreakpoint(ctx, &domdebugger.RemoveInstrumentationBreakpoint{EventName: a.eventName})
}

// eventListenerApplier drives DOMDebugger.{set,remove}EventListenerBreakpoint.
type eventListenerApplier struct{ eventName string }

func (a eventListenerApplier) Apply(ctx context.Context, ops rp.DOMDebuggerOps, target string, enabled bool) error {
	if enabled {
		return ops.SetEventListenerBreakpoint(ctx, &domdebugger.SetEventListenerBreakpoint{EventName: a.eventName, TargetName: target})
	}
	return ops.RemoveEventListenerBreakpoint(ctx, &domdebugger.RemoveEventListenerBreakpoint{EventName: a.eventName})
}

func instrumentation(category Category, eventName, title string) Entry {
	return Entry{
		ID:       "instrumentation:" + eventName,
		Category: category,
		Title:    title,
		Apply:    instrumentationApplier{eventName: eventName},
		Descriptor: func(data map[string]any) (string, string) {
			return title, fmt.Sprintf("Paused on %s", title)
		},
	}
}

func listener(category Category, eventName, title string) Entry {
	return Entry{
		ID:       "listener:" + eventName,
		Category: category,
		Title:    title,
		Apply:    eventListenerApplier{eventName: eventName},
		Descriptor: func(data map[string]any) (string, string) {
			target, _ := data["targetName"].(string)
			if target != "" {
				return title, fmt.Sprintf("Paused on event listener for %q (%s)", eventName, target)
			}
			return title, fmt.Sprintf("Paused on event listener for %q", eventName)
		},
	}
}

// Catalog is the fixed, build-time registry spec.md §6 calls for. It is
// process-wide and immutable, per spec.md §9 ("the custom-breakpoint
// catalog is truly static and may be a process-wide immutable value").
var Catalog = buildCatalog()

func buildCatalog() []Entry {
	return []Entry{
		instrumentation(CategoryAnimation, "requestAnimationFrame", "Request Animation Frame"),
		instrumentation(CategoryAnimation, "cancelAnimationFrame", "Cancel Animation Frame"),
		instrumentation(CategoryAnimation, "requestAnimationFrame.callback", "Animation Frame Fired"),

		instrumentation(CategoryCanvas, "canvasContextCreated", "Create canvas context"),
		instrumentation(CategoryCanvas, "webglErrorFired", "WebGL Error Fired"),
		instrumentation(CategoryCanvas, "webglWarningFired", "WebGL Warning Fired"),

		instrumentation(CategoryTimer, "setTimeout", "setTimeout"),
		instrumentation(CategoryTimer, "clearTimeout", "clearTimeout"),
		instrumentation(CategoryTimer, "setInterval", "setInterval"),
		instrumentation(CategoryTimer, "clearInterval", "clearInterval"),
		instrumentation(CategoryTimer, "setTimeout.callback", "setTimeout fired"),
		instrumentation(CategoryTimer, "setInterval.callback", "setInterval fired"),

		listener(CategoryMouse, "click", "Click"),
		listener(CategoryMouse, "mousedown", "Mouse Down"),
		listener(CategoryMouse, "mouseup", "Mouse Up"),
		listener(CategoryMouse, "mousemove", "Mouse Move"),

		listener(CategoryKeyboard, "keydown", "Key Down"),
		listener(CategoryKeyboard, "keyup", "Key Up"),
		listener(CategoryKeyboard, "keypress", "Key Press"),

		listener(CategoryDOMMutation, "DOMContentLoaded", "DOM Content Loaded"),
		listener(CategoryDOMMutation, "DOMNodeInserted", "DOM Node Inserted"),
		listener(CategoryDOMMutation, "DOMNodeRemoved", "DOM Node Removed"),

		instrumentation(CategoryXHR, "Resource.willSendRequest", "Resource Will Be Sent"),
		listener(CategoryXHR, "readystatechange", "XHR Ready State Change"),

		listener(CategoryMedia, "play", "Media Play"),
		listener(CategoryMedia, "pause", "Media Pause"),

		instrumentation(CategoryWorker, "Worker.created", "Worker Created"),

		instrumentation(CategoryWebAudio, "webaudioContextCreated", "Create WebAudio Context"),
		instrumentation(CategoryWebAudio, "webaudioContextClosed", "Close WebAudio Context"),
	}
}

// Lookup finds a catalog entry by id.
func Lookup(id string) (Entry, bool) {
	for _, e := range Catalog {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ByCategory groups the catalog for presentation, preserving catalog order
// within each category.
func ByCategory() map[Category][]Entry {
	out := map[Category][]Entry{}
	for _, e := range Catalog {
		out[e.Category] = append(out[e.Category], e)
	}
	return out
}

// Describe renders a pause's descriptive text when id names a catalog
// entry, passing data to that entry's descriptor; returns ok=false when
// id is not in the catalog. data is not consulted for the lookup itself.
func Describe(id string, data map[string]any) (short, long string, ok bool) {
	e, found := Lookup(id)
	if !found {
		return "", "", false
	}
	s, l := e.Descriptor(data)
	return s, l, true
}
