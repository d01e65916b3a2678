package variables

import (
	"context"

	dap "github.com/google/go-dap"

	"jsdebugcore/internal/rp"
)

// ScopeKind mirrors the `type` field of a Debugger.CallFrame's scope
// chain entries, per spec.md §3.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeLocal   ScopeKind = "local"
	ScopeClosure ScopeKind = "closure"
	ScopeBlock   ScopeKind = "block"
	ScopeCatch   ScopeKind = "catch"
	ScopeModule  ScopeKind = "module"
	ScopeWith    ScopeKind = "with"
)

// Scope wraps one entry of a call frame's scope chain, rendering as a DAP
// Scope (not a Variable) but driven by the same lazy ObjectVariable
// machinery for its children, per spec.md §4.9.
type Scope struct {
	inner *ObjectVariable
	kind  ScopeKind
	name  string

	scriptURL string
	line, col int
	rename    bool
}

// NewScope registers a scope container over a chrome-vision debugger.Scope
// value. When rename is true, the store's RenameProvider is consulted for
// each child variable's display name.
func NewScope(store *Store, s rp.Scope, rename bool) *Scope {
	kind := ScopeKind(s.Type)
	name := scopeDisplayName(kind)
	sc := &Scope{
		kind:   kind,
		name:   name,
		rename: rename,
	}
	sc.inner = NewObjectVariable(store, name, s.Object, "")
	// Point the store's entry at the Scope, so a lookup by reference goes
	// through Scope.GetChildren and its renaming.
	store.mu.Lock()
	store.containers[sc.inner.ID()] = sc
	store.mu.Unlock()
	if s.StartLocation != nil {
		sc.line = int(s.StartLocation.LineNumber)
		sc.col = int(s.StartLocation.ColumnNumber)
	}
	return sc
}

func scopeDisplayName(kind ScopeKind) string {
	switch kind {
	case ScopeGlobal:
		return "Global"
	case ScopeLocal:
		return "Local"
	case ScopeClosure:
		return "Closure"
	case ScopeBlock:
		return "Block"
	case ScopeCatch:
		return "Catch"
	case ScopeModule:
		return "Module"
	case ScopeWith:
		return "With Block"
	default:
		return string(kind)
	}
}

func (s *Scope) ID() int { return s.inner.ID() }

// ToDAPScope renders the DAP `Scope` shape the `scopes` request returns,
// distinct from ToDAP's `Variable` shape since DAP models scopes and
// variables as separate types that happen to share a variablesReference
// space.
func (s *Scope) ToDAPScope() dap.Scope {
	return dap.Scope{
		Name:               s.name,
		PresentationHint:   scopePresentationHint(s.kind),
		VariablesReference: s.inner.ID(),
		Expensive:          s.kind == ScopeGlobal,
	}
}

func scopePresentationHint(kind ScopeKind) string {
	switch kind {
	case ScopeLocal:
		return "locals"
	case ScopeGlobal:
		return "globals"
	default:
		return ""
	}
}

func (s *Scope) ToDAP() dap.Variable { return s.inner.ToDAP() }

func (s *Scope) GetChildren(ctx context.Context, store *Store, filter string, start, count int) ([]dap.Variable, error) {
	vars, err := s.inner.GetChildren(ctx, store, filter, start, count)
	if err != nil || !s.rename {
		return vars, err
	}
	for i := range vars {
		vars[i].Name = store.Rename(s.scriptURL, s.line, s.col, vars[i].Name)
	}
	return vars, nil
}
