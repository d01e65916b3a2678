package variables

import (
	"context"
	"encoding/json"
	"testing"

	"jsdebugcore/internal/rp"
)

// fakeSession is a minimal rp.Session stub that answers Runtime.getProperties
// and Runtime.callFunctionOn from a fixed script, mirroring the teacher's
// own style of hand-rolled fakes over full mocks.
type fakeSession struct {
	getProperties  rp.GetPropertiesResponse
	callFunctionOn rp.CallFunctionOnResponse
	calls          []string
}

func (f *fakeSession) ID() string                { return "fake" }
func (f *fakeSession) Events() <-chan rp.Event    { return nil }
func (f *fakeSession) Call(ctx context.Context, method string, params, out any) error {
	f.calls = append(f.calls, method)
	switch method {
	case "Runtime.getProperties":
		*out.(*rp.GetPropertiesResponse) = f.getProperties
	case "Runtime.callFunctionOn":
		*out.(*rp.CallFunctionOnResponse) = f.callFunctionOn
	}
	return nil
}

func rawJSON(v string) json.RawMessage { return json.RawMessage(v) }

func TestObjectVariableExpandsOwnAndAccessorProperties(t *testing.T) {
	session := &fakeSession{
		getProperties: rp.GetPropertiesResponse{
			Result: []rp.PropertyDescriptor{
				{Name: "x", Value: &rp.RemoteObject{Type: "number", Value: rawJSON("1")}, Enumerable: true},
			},
		},
	}
	store := NewStore(session, nil, "", "")

	obj := rp.RemoteObject{Type: "object", ClassName: "Point", ObjectID: "obj-1", Description: "Point"}
	v := NewObjectVariable(store, "p", obj, "p")

	children, err := v.GetChildren(context.Background(), store, "", 0, 0)
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	if len(children) != 1 || children[0].Name != "x" || children[0].Value != "1" {
		t.Fatalf("unexpected children: %+v", children)
	}
	if children[0].EvaluateName != "p.x" {
		t.Fatalf("expected evaluate name p.x, got %q", children[0].EvaluateName)
	}
}

func TestObjectVariableCachesExpansion(t *testing.T) {
	session := &fakeSession{getProperties: rp.GetPropertiesResponse{
		Result: []rp.PropertyDescriptor{{Name: "a", Value: &rp.RemoteObject{Type: "number", Value: rawJSON("1")}}},
	}}
	store := NewStore(session, nil, "", "")
	v := NewObjectVariable(store, "o", rp.RemoteObject{Type: "object", ObjectID: "obj-1"}, "")

	if _, err := v.GetChildren(context.Background(), store, "", 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := v.GetChildren(context.Background(), store, "", 0, 0); err != nil {
		t.Fatal(err)
	}
	got := 0
	for _, c := range session.calls {
		if c == "Runtime.getProperties" {
			got++
		}
	}
	if got != 2 { // own + accessor-only calls, issued once and cached
		t.Fatalf("expected getProperties issued exactly twice (own+accessor), got %d", got)
	}
}

func TestArrayVariableUsesIndexEvaluateNames(t *testing.T) {
	session := &fakeSession{getProperties: rp.GetPropertiesResponse{
		Result: []rp.PropertyDescriptor{{Name: "0", Value: &rp.RemoteObject{Type: "string", Value: rawJSON(`"a"`)}}},
	}}
	store := NewStore(session, nil, "", "")
	v := NewArrayVariable(store, "arr", rp.RemoteObject{Type: "object", Subtype: "array", ObjectID: "obj-2"}, "arr")

	children, err := v.GetChildren(context.Background(), store, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].EvaluateName != "arr[0]" {
		t.Fatalf("unexpected array children: %+v", children)
	}
}

func TestGetterVariableIsNotInvokedUntilExpanded(t *testing.T) {
	session := &fakeSession{
		getProperties: rp.GetPropertiesResponse{
			Result: []rp.PropertyDescriptor{
				{Name: "computed", Get: &rp.RemoteObject{Type: "function", ObjectID: "getter-1"}},
			},
		},
		callFunctionOn: rp.CallFunctionOnResponse{Result: rp.RemoteObject{Type: "number", Value: rawJSON("42")}},
	}
	store := NewStore(session, nil, "", "")
	obj := rp.RemoteObject{Type: "object", ObjectID: "owner-1"}
	v := NewObjectVariable(store, "o", obj, "o")

	children, err := v.GetChildren(context.Background(), store, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Type != "getter" {
		t.Fatalf("expected an unexpanded getter placeholder, got %+v", children)
	}
	for _, c := range session.calls {
		if c == "Runtime.callFunctionOn" {
			t.Fatal("getter must not be invoked before explicit expansion")
		}
	}

	getterVar, ok := store.containers[children[0].VariablesReference].(*GetterVariable)
	if !ok {
		t.Fatalf("expected a *GetterVariable registered at ref %d", children[0].VariablesReference)
	}
	grandchildren, err := getterVar.GetChildren(context.Background(), store, "", 0, 0)
	if err != nil {
		t.Fatalf("GetChildren on getter: %v", err)
	}
	if len(grandchildren) != 0 {
		t.Fatalf("expected the invoked primitive result to have no children, got %+v", grandchildren)
	}
	found := false
	for _, c := range session.calls {
		if c == "Runtime.callFunctionOn" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected callFunctionOn to be issued once the getter was expanded")
	}
}

func TestStoreReferencesDiscardedPastLifetimeReturnEmpty(t *testing.T) {
	store := NewStore(&fakeSession{}, nil, "", "")
	out, err := store.GetChildren(context.Background(), 999, "", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error for stale reference: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty slice for unknown reference, got %+v", out)
	}
}

func TestScopeRendersPresentationHint(t *testing.T) {
	store := NewStore(&fakeSession{}, nil, "", "")
	s := NewScope(store, rp.Scope{Type: "local", Object: rp.RemoteObject{Type: "object", ObjectID: "scope-1"}}, false)
	scope := s.ToDAPScope()
	if scope.Name != "Local" || scope.PresentationHint != "locals" {
		t.Fatalf("unexpected scope rendering: %+v", scope)
	}
}

func TestOutputVariablePaginatesArguments(t *testing.T) {
	store := NewStore(&fakeSession{}, nil, "", "")
	args := []rp.RemoteObject{
		{Type: "string", Value: rawJSON(`"a"`)},
		{Type: "string", Value: rawJSON(`"b"`)},
	}
	ov := NewOutputVariable(store, args, nil)
	children, err := ov.GetChildren(context.Background(), store, "", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Value != `"b"` {
		t.Fatalf("unexpected paginated output: %+v", children)
	}
}
