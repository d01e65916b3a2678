// Package variables implements C5: lazy, reference-counted expansion of
// RuntimeProtocol remote objects into the tree of DAP variables a paused
// thread exposes, per spec.md §4.9.
package variables

import (
	"context"
	"fmt"
	"sync"

	dap "github.com/google/go-dap"

	"jsdebugcore/internal/rp"
)

// maxVariableRef is the wrap point for ids, per spec.md §4.9: "ids are
// minted monotonically modulo 0x7fff_fffe (wrap, skipping 0)".
const maxVariableRef = 0x7fff_fffe

// RenameProvider looks up the authored name for a compiled-scope variable
// name, consulting a pre-computed scope tree (built from a source map's
// `names` array plus a parsed AST) that lives outside this core per
// spec.md §4.9. A nil provider, or one returning ok=false, leaves the
// compiled name unchanged.
type RenameProvider interface {
	Rename(scriptURL string, line, col int, compiledName string) (original string, ok bool)
}

// Container is the capability set every variable-tree node implements:
// render itself as a DAP variable, and (if it has any) enumerate its
// children. Implemented by ObjectVariable, ArrayVariable, GetterVariable,
// SetterOnlyVariable, FunctionLocationVariable, ErrorVariable,
// OutputVariable, StackTraceOutputVariable and Scope — spec.md §3/§9.
type Container interface {
	ID() int
	ToDAP() dap.Variable
	GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error)
}

// Store owns the id -> Container map for the lifetime of one pause (or,
// for REPL/output variables, one session). Per spec.md §8 property 3, a
// container id is stable only until `continued`; the Thread drops a
// pause's Store (with its paused details) on resume.
type Store struct {
	mu         sync.Mutex
	session    rp.Session
	nextID     int
	containers map[int]Container

	rename      RenameProvider
	descGen     string
	propsGen    string
}

// NewStore creates an empty Store bound to the RP session it will issue
// getProperties/callFunctionOn calls against.
func NewStore(session rp.Session, rename RenameProvider, descGen, propsGen string) *Store {
	return &Store{
		session:    session,
		nextID:     1,
		containers: map[int]Container{},
		rename:     rename,
		descGen:    descGen,
		propsGen:   propsGen,
	}
}

// mint allocates the next variablesReference, wrapping per spec.md §4.9.
func (s *Store) mint() int {
	id := s.nextID
	s.nextID++
	if s.nextID >= maxVariableRef {
		s.nextID = 1
	}
	return id
}

// Register assigns a fresh id to a container and stores it. Containers
// call this for their own id at construction, and again for any lazily
// materialized children.
func (s *Store) Register(makeContainer func(id int) Container) Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.mint()
	c := makeContainer(id)
	s.containers[id] = c
	return c
}

// GetChildren resolves a DAP `variables` request: returns [] for unknown
// ids per spec.md §4.9 rather than erroring, since a stale reference
// after `continued` is an expected race, not a bug.
func (s *Store) GetChildren(ctx context.Context, ref int, filter string, start, count int) ([]dap.Variable, error) {
	s.mu.Lock()
	c, ok := s.containers[ref]
	s.mu.Unlock()
	if !ok {
		return []dap.Variable{}, nil
	}
	return c.GetChildren(ctx, s, filter, start, count)
}

// Session exposes the bound RP session to Container implementations
// living in this package without widening Store's own exported surface.
func (s *Store) Session() rp.Session { return s.session }

// Rename exposes the optional RenameProvider to Scope.
func (s *Store) Rename(url string, line, col int, name string) string {
	if s.rename == nil {
		return name
	}
	if original, ok := s.rename.Rename(url, line, col, name); ok {
		return original
	}
	return name
}

// getObjectProperties issues the two getProperties calls spec.md §4.9
// describes (own properties, then accessor-only) and merges them: own
// first, then accessor-only filtered to exclude names already present,
// then private properties, then internal properties (excluding
// `[[StableObjectId]]`, with `[[FunctionLocation]]` rendered specially).
func (s *Store) getObjectProperties(ctx context.Context, objectID string) ([]propertyEntry, *functionLocationEntry, error) {
	var own, accessorOnly rp.GetPropertiesResponse

	if err := s.session.Call(ctx, "Runtime.getProperties", &rp.GetProperties{
		ObjectID:      rp.RemoteObjectID(objectID),
		OwnProperties: true,
	}, &own); err != nil {
		return nil, nil, fmt.Errorf("variables: getProperties(own): %w", err)
	}

	if err := s.session.Call(ctx, "Runtime.getProperties", &rp.GetProperties{
		ObjectID:               rp.RemoteObjectID(objectID),
		AccessorPropertiesOnly: true,
	}, &accessorOnly); err != nil {
		// Accessor-only enumeration is best-effort: some object kinds
		// reject it. Own properties already cover getters either way.
		accessorOnly = rp.GetPropertiesResponse{}
	}

	seen := map[string]bool{}
	var entries []propertyEntry
	for _, p := range own.Result {
		seen[p.Name] = true
		entries = append(entries, propertyEntry{descriptor: p})
	}
	for _, p := range accessorOnly.Result {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		entries = append(entries, propertyEntry{descriptor: p})
	}
	for _, p := range own.PrivateProperties {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		entries = append(entries, propertyEntry{private: &p})
	}

	var fnLoc *functionLocationEntry
	for _, ip := range own.InternalProperties {
		if ip.Name == "[[StableObjectId]]" {
			continue
		}
		if ip.Name == "[[FunctionLocation]]" && ip.Value != nil {
			fnLoc = &functionLocationEntry{value: *ip.Value}
			continue
		}
		entries = append(entries, propertyEntry{internal: &ip})
	}

	return entries, fnLoc, nil
}

// SetVariable implements spec.md §4.9's setVariable handling: resolves ref
// back to its owning object (an ObjectVariable/ArrayVariable/Scope, the
// only containers whose values can be mutated), evaluates the new value
// expression, and assigns it via a small generated function bound to the
// owning object so the assignment happens in the right `this`.
func (s *Store) SetVariable(ctx context.Context, ref int, name, value string) (string, error) {
	s.mu.Lock()
	c, ok := s.containers[ref]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("variables: unknown variablesReference %d", ref)
	}

	owner, ok := ownerObject(c)
	if !ok || owner.ObjectID == "" {
		return "", fmt.Errorf("variables: variable is not assignable")
	}

	var resp rp.CallFunctionOnResponse
	err := s.session.Call(ctx, "Runtime.callFunctionOn", &rp.CallFunctionOn{
		FunctionDeclaration: fmt.Sprintf("function(){ this[%q] = (%s); return this[%q]; }", name, value, name),
		ObjectID:            objectIDPtr(owner.ObjectID),
		GeneratePreview:     true,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("variables: set %s: %w", name, err)
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("variables: %s", resp.ExceptionDetails.Text)
	}
	return describeRemoteObject(resp.Result), nil
}

// ownerObject extracts the underlying RemoteObject a container's children
// were enumerated from, for containers that support assignment.
func ownerObject(c Container) (rp.RemoteObject, bool) {
	switch v := c.(type) {
	case *ObjectVariable:
		return v.object, true
	case *ArrayVariable:
		return v.object, true
	case *Scope:
		return v.inner.object, true
	default:
		return rp.RemoteObject{}, false
	}
}

// ToContainer exposes toVariableContainer's classification to callers
// outside this package (the adapter's evaluate/hover rendering), without
// widening the Container construction surface itself.
func ToContainer(store *Store, name string, object rp.RemoteObject, evalName string) Container {
	return toVariableContainer(store, name, object, evalName)
}

type propertyEntry struct {
	descriptor rp.PropertyDescriptor
	private    *rp.PrivatePropertyDescriptor
	internal   *rp.InternalPropertyDescriptor
}

type functionLocationEntry struct {
	value rp.RemoteObject
}

func (e propertyEntry) name() string {
	switch {
	case e.private != nil:
		return e.private.Name
	case e.internal != nil:
		return e.internal.Name
	default:
		return e.descriptor.Name
	}
}
