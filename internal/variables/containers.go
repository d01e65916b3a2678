package variables

import (
	"context"
	"fmt"
	"strconv"

	dap "github.com/google/go-dap"

	"jsdebugcore/internal/rp"
)

// ObjectVariable wraps a RemoteObject of type "object" (or "function"
// rendered with its properties, per spec.md §4.9's ObjectVariable).
// Children are fetched lazily on the first GetChildren call and cached,
// since DAP may ask for the same reference more than once (e.g. the
// Variables view re-rendering after a `setVariable`).
type ObjectVariable struct {
	id       int
	name     string
	object   rp.RemoteObject
	evalName string

	expanded bool
	children []dap.Variable
	fnLoc    *FunctionLocationVariable
}

// NewObjectVariable registers and returns a container for a remote object.
// name is empty for top-level evaluate/output results.
func NewObjectVariable(store *Store, name string, object rp.RemoteObject, evalName string) *ObjectVariable {
	v := &ObjectVariable{name: name, object: object, evalName: evalName}
	store.Register(func(id int) Container {
		v.id = id
		return v
	})
	return v
}

func (v *ObjectVariable) ID() int { return v.id }

func (v *ObjectVariable) ToDAP() dap.Variable {
	return dap.Variable{
		Name:               v.name,
		Value:              describeRemoteObject(v.object),
		Type:               v.object.ClassName,
		EvaluateName:       v.evalName,
		VariablesReference: v.id,
	}
}

func (v *ObjectVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	if v.object.ObjectID == "" {
		return []dap.Variable{}, nil
	}
	if !v.expanded {
		entries, fnLoc, err := store.getObjectProperties(ctx, v.object.ObjectID)
		if err != nil {
			return nil, err
		}
		if fnLoc != nil {
			v.fnLoc = NewFunctionLocationVariable(store, fnLoc.value)
		}
		v.children = propertyEntriesToVariables(store, v.object, entries, v.evalChild)
		v.expanded = true
	}
	children := v.children
	if v.fnLoc != nil {
		children = append(append([]dap.Variable{}, children...), v.fnLoc.ToDAP())
	}
	return paginate(children, filter, start, count), nil
}

func (v *ObjectVariable) evalChild(name string) string {
	if v.evalName == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", v.evalName, name)
}

// ArrayVariable is an ObjectVariable whose subtype is "array" or
// "typedarray": presented with an element count and index-based
// evaluate names, per spec.md §4.9.
type ArrayVariable struct {
	*ObjectVariable
}

// NewArrayVariable wraps a remote array/typed-array object.
func NewArrayVariable(store *Store, name string, object rp.RemoteObject, evalName string) *ArrayVariable {
	v := &ArrayVariable{ObjectVariable: NewObjectVariable(store, name, object, evalName)}
	// Point the store's entry at the array wrapper, so a later lookup by
	// reference uses ArrayVariable's index-based evaluate names.
	store.mu.Lock()
	store.containers[v.id] = v
	store.mu.Unlock()
	return v
}

func (v *ArrayVariable) evalChild(index string) string {
	if v.evalName == "" {
		return ""
	}
	return fmt.Sprintf("%s[%s]", v.evalName, index)
}

func (v *ArrayVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	if v.object.ObjectID == "" {
		return []dap.Variable{}, nil
	}
	if !v.expanded {
		entries, _, err := store.getObjectProperties(ctx, v.object.ObjectID)
		if err != nil {
			return nil, err
		}
		v.children = propertyEntriesToVariables(store, v.object, entries, v.evalChild)
		v.expanded = true
	}
	return paginate(v.children, filter, start, count), nil
}

// GetterVariable represents an accessor property whose value has not been
// invoked yet: spec.md §4.9 says getters are not called implicitly, to
// avoid side effects during a pause. Expansion (GetChildren) triggers the
// actual callFunctionOn invocation the user asked for by opening it.
type GetterVariable struct {
	id       int
	name     string
	getter   rp.RemoteObject
	thisObj  string
	evalName string
}

// NewGetterVariable registers a getter-backed variable.
func NewGetterVariable(store *Store, name string, getter, thisObj rp.RemoteObject, evalName string) *GetterVariable {
	v := &GetterVariable{name: name, getter: getter, thisObj: thisObj.ObjectID, evalName: evalName}
	store.Register(func(id int) Container {
		v.id = id
		return v
	})
	return v
}

func (v *GetterVariable) ID() int { return v.id }

func (v *GetterVariable) ToDAP() dap.Variable {
	return dap.Variable{
		Name:               v.name,
		Value:              "(...)",
		Type:               "getter",
		EvaluateName:       v.evalName,
		VariablesReference: v.id,
	}
}

func (v *GetterVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	if v.getter.ObjectID == "" || v.thisObj == "" {
		return []dap.Variable{}, nil
	}
	invoked, err := invokeGetter(ctx, store, v.getter.ObjectID, v.thisObj)
	if err != nil {
		return nil, err
	}
	child := toVariableContainer(store, "", invoked, v.evalName)
	return child.GetChildren(ctx, store, filter, start, count)
}

// invokeGetter calls the getter function with `this` bound to the owning
// object, via Function.prototype.call, per spec.md §4.9: getters are only
// invoked on explicit expansion, never implicitly while listing properties.
func invokeGetter(ctx context.Context, store *Store, getterObjectID, thisObjectID string) (rp.RemoteObject, error) {
	var resp rp.CallFunctionOnResponse
	err := store.Session().Call(ctx, "Runtime.callFunctionOn", &rp.CallFunctionOn{
		FunctionDeclaration: "function(thisArg){ return this.call(thisArg); }",
		ObjectID:            objectIDPtr(getterObjectID),
		Arguments:           []rp.CallArgument{{ObjectID: thisObjectID}},
	}, &resp)
	if err != nil {
		return rp.RemoteObject{}, fmt.Errorf("variables: invoke getter: %w", err)
	}
	return resp.Result, nil
}

// SetterOnlyVariable represents a write-only accessor property (a setter
// with no matching getter), per spec.md §4.9: shown but not expandable.
type SetterOnlyVariable struct {
	id       int
	name     string
	evalName string
}

// NewSetterOnlyVariable registers a setter-only variable.
func NewSetterOnlyVariable(store *Store, name, evalName string) *SetterOnlyVariable {
	v := &SetterOnlyVariable{name: name, evalName: evalName}
	store.Register(func(id int) Container {
		v.id = id
		return v
	})
	return v
}

func (v *SetterOnlyVariable) ID() int { return v.id }

func (v *SetterOnlyVariable) ToDAP() dap.Variable {
	return dap.Variable{Name: v.name, Value: "(setter)", Type: "setter", EvaluateName: v.evalName, VariablesReference: 0}
}

func (v *SetterOnlyVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	return []dap.Variable{}, nil
}

// FunctionLocationVariable renders a function's `[[FunctionLocation]]`
// internal property, per spec.md §4.9 ("rendered specially").
type FunctionLocationVariable struct {
	id       int
	location rp.RemoteObject
}

// NewFunctionLocationVariable registers the synthetic location entry.
func NewFunctionLocationVariable(store *Store, location rp.RemoteObject) *FunctionLocationVariable {
	v := &FunctionLocationVariable{location: location}
	store.Register(func(id int) Container {
		v.id = id
		return v
	})
	return v
}

func (v *FunctionLocationVariable) ID() int { return v.id }

func (v *FunctionLocationVariable) ToDAP() dap.Variable {
	return dap.Variable{Name: "[[FunctionLocation]]", Value: describeRemoteObject(v.location), VariablesReference: 0}
}

func (v *FunctionLocationVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	return []dap.Variable{}, nil
}

// ErrorVariable wraps a thrown RemoteObject (an Error instance, or any
// other thrown value), formatted with its stack if present.
type ErrorVariable struct {
	*ObjectVariable
	stack string
}

// NewErrorVariable registers an error-shaped variable carrying an
// optional pre-formatted stack string pulled from the remote object's own
// `.stack` property by the caller.
func NewErrorVariable(store *Store, name string, object rp.RemoteObject, stack, evalName string) *ErrorVariable {
	return &ErrorVariable{ObjectVariable: NewObjectVariable(store, name, object, evalName), stack: stack}
}

func (v *ErrorVariable) ToDAP() dap.Variable {
	value := describeRemoteObject(v.object)
	if v.stack != "" {
		value = v.stack
	}
	return dap.Variable{
		Name:               v.name,
		Value:              value,
		Type:               v.object.ClassName,
		EvaluateName:       v.evalName,
		VariablesReference: v.id,
	}
}

// OutputVariable is the top-level container backing one `output` DAP
// event's `variablesReference`, when the event carries structured
// arguments (console.log with objects) rather than plain text.
type OutputVariable struct {
	id    int
	args  []rp.RemoteObject
	trace *rp.RuntimeStackTrace
}

// NewOutputVariable registers a container over a console message's args
// plus its optional attached stack trace. Its children are every argument,
// primitive arguments included, in order, then (last) a
// StackTraceOutputVariable when a trace is attached.
func NewOutputVariable(store *Store, args []rp.RemoteObject, trace *rp.RuntimeStackTrace) *OutputVariable {
	v := &OutputVariable{args: args, trace: trace}
	store.Register(func(id int) Container {
		v.id = id
		return v
	})
	return v
}

func (v *OutputVariable) ID() int { return v.id }

func (v *OutputVariable) ToDAP() dap.Variable {
	return dap.Variable{Name: "arguments", VariablesReference: v.id, IndexedVariables: len(v.args)}
}

func (v *OutputVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	var out []dap.Variable
	for i, arg := range v.args {
		c := toVariableContainer(store, strconv.Itoa(i), arg, "")
		out = append(out, c.ToDAP())
	}
	if v.trace != nil {
		out = append(out, NewStackTraceOutputVariable(store, *v.trace).ToDAP())
	}
	return paginate(out, filter, start, count), nil
}

// StackTraceOutputVariable exposes an async stack trace attached to a
// console message or exception as an expandable variable, per spec.md
// §4.9's note on presenting `asyncStackTrace` chains in the Variables view.
type StackTraceOutputVariable struct {
	id    int
	trace rp.RuntimeStackTrace
}

// NewStackTraceOutputVariable registers a container over a RuntimeStackTrace.
func NewStackTraceOutputVariable(store *Store, trace rp.RuntimeStackTrace) *StackTraceOutputVariable {
	v := &StackTraceOutputVariable{trace: trace}
	store.Register(func(id int) Container {
		v.id = id
		return v
	})
	return v
}

func (v *StackTraceOutputVariable) ID() int { return v.id }

func (v *StackTraceOutputVariable) ToDAP() dap.Variable {
	name := v.trace.Description
	if name == "" {
		name = "stack"
	}
	return dap.Variable{Name: name, VariablesReference: v.id, IndexedVariables: len(v.trace.CallFrames)}
}

func (v *StackTraceOutputVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	var out []dap.Variable
	for _, f := range v.trace.CallFrames {
		out = append(out, dap.Variable{
			Name:  f.FunctionName,
			Value: fmt.Sprintf("%s:%d:%d", f.URL, f.LineNumber, f.ColumnNumber),
		})
	}
	if v.trace.Parent != nil {
		out = append(out, NewStackTraceOutputVariable(store, *v.trace.Parent).ToDAP())
	}
	return paginate(out, filter, start, count), nil
}

// describeRemoteObject renders a RemoteObject's DAP-facing `value` string,
// following the same precedence CDP clients use: Description first (covers
// objects/functions/errors), then the raw JSON Value for primitives,
// finally UnserializableValue for things like BigInt/NaN.
func describeRemoteObject(o rp.RemoteObject) string {
	if o.Description != "" {
		return o.Description
	}
	if len(o.Value) > 0 {
		return string(o.Value)
	}
	if o.UnserializableValue != "" {
		return o.UnserializableValue
	}
	switch o.Type {
	case "undefined":
		return "undefined"
	case "function":
		return "function"
	}
	return o.Type
}

// toVariableContainer picks the right Container implementation for a
// RemoteObject by type/subtype, per spec.md §4.9's classification rules.
func toVariableContainer(store *Store, name string, object rp.RemoteObject, evalName string) Container {
	switch {
	case object.Type == "object" && (object.Subtype == "array" || object.Subtype == "typedarray"):
		return NewArrayVariable(store, name, object, evalName)
	case object.Type == "object" || object.Type == "function":
		return NewObjectVariable(store, name, object, evalName)
	default:
		return &primitiveVariable{name: name, object: object, evalName: evalName}
	}
}

// primitiveVariable renders a scalar RemoteObject (string/number/boolean/
// undefined/symbol/bigint) with no variablesReference, since it has no
// children by definition.
type primitiveVariable struct {
	name     string
	object   rp.RemoteObject
	evalName string
}

func (v *primitiveVariable) ID() int { return 0 }

func (v *primitiveVariable) ToDAP() dap.Variable {
	return dap.Variable{
		Name:         v.name,
		Value:        describeRemoteObject(v.object),
		Type:         v.object.Type,
		EvaluateName: v.evalName,
	}
}

func (v *primitiveVariable) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	return []dap.Variable{}, nil
}

// propertyEntriesToVariables converts the merged own/accessor/private/
// internal property list from getObjectProperties into DAP variables,
// choosing GetterVariable/SetterOnlyVariable/plain-value rendering per
// spec.md §4.9's accessor rules.
func propertyEntriesToVariables(store *Store, owner rp.RemoteObject, entries []propertyEntry, evalName func(string) string) []dap.Variable {
	var out []dap.Variable
	for _, e := range entries {
		name := e.name()
		en := ""
		if evalName != nil {
			en = evalName(name)
		}
		switch {
		case e.private != nil:
			out = append(out, renderValueOrAccessor(store, owner, name, e.private.Value, e.private.Get, e.private.Set, en))
		case e.internal != nil:
			if e.internal.Value != nil {
				out = append(out, toVariableContainer(store, name, *e.internal.Value, en).ToDAP())
			}
		default:
			d := e.descriptor
			out = append(out, renderValueOrAccessor(store, owner, name, d.Value, d.Get, d.Set, en))
		}
	}
	return out
}

func renderValueOrAccessor(store *Store, owner rp.RemoteObject, name string, value, get, set *rp.RemoteObject, evalName string) dap.Variable {
	switch {
	case value != nil:
		return toVariableContainer(store, name, *value, evalName).ToDAP()
	case get != nil:
		return NewGetterVariable(store, name, *get, owner, evalName).ToDAP()
	case set != nil:
		return NewSetterOnlyVariable(store, name, evalName).ToDAP()
	default:
		return dap.Variable{Name: name, Value: "undefined", EvaluateName: evalName}
	}
}

func objectIDPtr(id string) *rp.RemoteObjectID {
	if id == "" {
		return nil
	}
	oid := rp.RemoteObjectID(id)
	return &oid
}

// paginate applies DAP's `filter`/`start`/`count` variables-request
// arguments. filter is accepted for interface symmetry with the DAP
// request shape (spec.md's VariablesArguments.filter selects
// "indexed"/"named" subsets) but named/indexed separation for arrays is
// handled upstream by which container produced the list, so this stage
// only slices.
func paginate(vars []dap.Variable, filter string, start, count int) []dap.Variable {
	if start < 0 {
		start = 0
	}
	if start > len(vars) {
		start = len(vars)
	}
	end := len(vars)
	if count > 0 && start+count < end {
		end = start + count
	}
	return vars[start:end]
}
