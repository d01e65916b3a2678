package main

import (
	"context"
	"encoding/json"
	"fmt"

	"jsdebugcore/internal/rp"
)

// fakeSession is an in-memory stand-in for a real CDP connection, in the
// spirit of the teacher's own goja-debug harness driving a real
// goja.Debugger directly instead of over a wire: every RP call this
// console issues is answered locally instead of going out over a
// WebSocket, so the adapter can be exercised end to end without a real
// browser or Node process attached.
type fakeSession struct {
	id     string
	events chan rp.Event
	script string
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, events: make(chan rp.Event, 16)}
}

func (f *fakeSession) ID() string             { return f.id }
func (f *fakeSession) Events() <-chan rp.Event { return f.events }

// Call answers just enough of the Runtime/Debugger surface for the
// handful of demo values this console exposes: the one script's source,
// and a canned local scope with two variables, for `scopes`/`variables`/
// `evaluate` to have something real to walk.
func (f *fakeSession) Call(ctx context.Context, method string, params, out any) error {
	switch method {
	case "Debugger.getScriptSource":
		if resp, ok := out.(*rp.GetScriptSourceResponse); ok {
			resp.ScriptSource = f.script
		}
	case "Runtime.getProperties":
		if resp, ok := out.(*rp.GetPropertiesResponse); ok {
			*resp = rp.GetPropertiesResponse{
				Result: []rp.PropertyDescriptor{
					{Name: "count", Value: &rp.RemoteObject{Type: "number", Description: "3", Value: json.RawMessage("3")}, Configurable: true, Writable: true},
					{Name: "name", Value: &rp.RemoteObject{Type: "string", Description: "\"demo\"", Value: json.RawMessage(`"demo"`)}, Configurable: true, Writable: true},
				},
			}
		}
	case "Runtime.callFunctionOn":
		if resp, ok := out.(*rp.CallFunctionOnResponse); ok {
			*resp = rp.CallFunctionOnResponse{Result: rp.RemoteObject{Type: "undefined"}}
		}
	case "Runtime.evaluate":
		if resp, ok := out.(*rp.EvaluateResponse); ok {
			*resp = rp.EvaluateResponse{Result: rp.RemoteObject{Type: "string", Description: "demo console"}}
		}
	}
	return nil
}

// scenario drives the fake session through attach -> scriptParsed ->
// paused, the same sequence a real CDP target announces on launch, so
// the console has a thread, a stack, and scopes to inspect as soon as
// it starts.
func scenario(root, leaf *fakeSession, scriptURL, scriptSource string) chan rp.Event {
	leaf.script = scriptSource
	merged := make(chan rp.Event, 16)

	go func() {
		for ev := range root.events {
			merged <- ev
		}
	}()
	go func() {
		for ev := range leaf.events {
			merged <- ev
		}
	}()

	go func() {
		root.events <- rp.Event{
			AttachedToTarget: &rp.AttachedToTarget{
				SessionID:  leaf.id,
				TargetInfo: rp.TargetInfo{TargetID: "target-1", Type: "page", URL: scriptURL},
			},
		}
		leaf.events <- rp.Event{
			SessionID: leaf.id,
			ScriptParsed: &rp.ScriptParsed{
				ScriptID: "script-1",
				URL:      scriptURL,
			},
		}
		leaf.events <- rp.Event{
			SessionID: leaf.id,
			Paused: &rp.Paused{
				Reason: "other",
				CallFrames: []rp.CallFrame{
					{
						CallFrameID:  "frame-1",
						FunctionName: "main",
						Location:     rp.Location{ScriptID: "script-1", LineNumber: 1, ColumnNumber: 0},
						ScopeChain: []rp.Scope{
							{
								Type:   "local",
								Name:   "main",
								Object: rp.RemoteObject{Type: "object", ClassName: "Object", ObjectID: "scope-1"},
							},
						},
					},
				},
			},
		}
	}()

	return merged
}

func (f *fakeSession) String() string { return fmt.Sprintf("fakeSession(%s)", f.id) }
