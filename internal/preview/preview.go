// Package preview implements C13: rendering remote objects within a
// character budget, and formatting printf-style console messages, per
// spec.md §4.10.
package preview

import (
	"fmt"
	"strings"

	"jsdebugcore/internal/rp"
)

// Budget selects the character budget a render call is allowed: stack and
// scope contexts are tighter than a REPL result, per spec.md §4.10.
type Budget int

const (
	BudgetStackOrUI Budget = 100
	BudgetREPL       Budget = 1000
)

// builder accumulates a bounded-length preview string with three append
// modes, per spec.md §4.10: canSkip may insert an ellipsis instead of
// appending, canTrim truncates to fit, forceAppend always writes (used
// for the wrapping brackets that must survive even an exhausted budget).
type builder struct {
	budget int
	sb     strings.Builder
}

func newBuilder(budget Budget) *builder { return &builder{budget: int(budget)} }

func (b *builder) remaining() int { return b.budget - b.sb.Len() }

// canSkip appends s in full, or "…" if it doesn't fit, or nothing if even
// the ellipsis doesn't fit.
func (b *builder) canSkip(s string) {
	if b.remaining() <= 0 {
		return
	}
	if len(s) <= b.remaining() {
		b.sb.WriteString(s)
		return
	}
	if b.remaining() >= 1 {
		b.sb.WriteString("…")
	}
}

// canTrim appends as much of s as fits, truncating the rest silently.
func (b *builder) canTrim(s string) {
	r := b.remaining()
	if r <= 0 {
		return
	}
	if len(s) <= r {
		b.sb.WriteString(s)
		return
	}
	b.sb.WriteString(s[:r])
}

// forceAppend always writes s regardless of the remaining budget, for
// closing brackets and similar structural punctuation that must survive
// truncation so the preview still parses visually as an object/array.
func (b *builder) forceAppend(s string) { b.sb.WriteString(s) }

func (b *builder) String() string { return b.sb.String() }

// Preview renders a RemoteObject within budget, per spec.md §4.10's rules
// for arrays, objects, functions, and classes.
func Preview(o rp.RemoteObject, budget Budget) string {
	b := newBuilder(budget)
	renderInto(b, o)
	return b.String()
}

func renderInto(b *builder, o rp.RemoteObject) {
	switch {
	case o.Type == "function":
		renderFunction(b, o)
	case o.Type == "object" && (o.Subtype == "array" || o.Subtype == "typedarray"):
		renderArray(b, o)
	case o.Type == "object":
		renderObject(b, o)
	default:
		b.canTrim(describeScalar(o))
	}
}

func describeScalar(o rp.RemoteObject) string {
	if o.Description != "" {
		return o.Description
	}
	if len(o.Value) > 0 {
		return string(o.Value)
	}
	return o.UnserializableValue
}

func renderFunction(b *builder, o rp.RemoteObject) {
	name := o.ClassName
	if name == "" {
		name = "anonymous"
	}
	if o.Subtype == "class" || strings.HasPrefix(o.Description, "class ") {
		b.forceAppend("class " + name)
		return
	}
	b.forceAppend("ƒ " + name + "()")
}

// renderArray shows "ClassName [description]" from the object alone: it
// has no element list, so it renders neither an element count nor gap
// elision. PreviewWithProperties renders "ClassName(n) [elts]" with "…"
// for missing indices from a property list the caller has fetched.
func renderArray(b *builder, o rp.RemoteObject) {
	className := o.ClassName
	if className == "" {
		className = "Array"
	}
	b.forceAppend(className)
	b.forceAppend(" [")
	if o.Description != "" {
		b.canTrim(o.Description)
	}
	b.forceAppend("]")
}

func renderObject(b *builder, o rp.RemoteObject) {
	className := o.ClassName
	if className == "" {
		className = "Object"
	}
	if className != "Object" {
		b.forceAppend(className)
		b.forceAppend(" ")
	}
	b.forceAppend("{")
	if o.Description != "" && o.Description != className {
		b.canSkip(o.Description)
	}
	b.forceAppend("}")
}

// Property is one named value contributed to an object/array preview by
// the caller, sourced from a prior getProperties call.
type Property struct {
	Name  string
	Value rp.RemoteObject
	// Index marks a gap-aware array slot; -1 for a named object key.
	Index int
}

// PreviewWithProperties renders an object/array preview from an already
// fetched property list, which is the common path: the caller (variables
// or thread output formatting) has the properties in hand from a prior
// getProperties/ObjectPreview response and only needs the budgeting
// logic, not a second round trip.
func PreviewWithProperties(o rp.RemoteObject, props []Property, budget Budget) string {
	b := newBuilder(budget)
	isArray := o.Type == "object" && (o.Subtype == "array" || o.Subtype == "typedarray")

	className := o.ClassName
	if className == "" {
		if isArray {
			className = "Array"
		} else {
			className = "Object"
		}
	}

	if isArray {
		b.forceAppend(fmt.Sprintf("%s(%d) [", className, len(props)))
	} else {
		if className != "Object" {
			b.forceAppend(className + " ")
		}
		b.forceAppend("{")
	}

	lastIndex := -1
	for i, p := range props {
		if i > 0 {
			b.canSkip(", ")
		}
		if isArray && p.Index >= 0 {
			if p.Index > lastIndex+1 {
				b.canSkip("…, ")
			}
			lastIndex = p.Index
			b.canSkip(describeScalar(p.Value))
		} else {
			b.canSkip(p.Name + ": ")
			b.canSkip(describeScalar(p.Value))
		}
	}
	if isArray {
		b.forceAppend("]")
	} else {
		if len(props) > 0 {
			b.canSkip(", …")
		}
		b.forceAppend("}")
	}
	return b.String()
}
