// Package taxonomy defines the closed classification scheme for telemetry
// events: kinds, their categories, their specific actions, and which
// (category, action) pairs are legal.
//
// The tables are built once at package initialisation and never mutated.
package taxonomy

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the top-level telemetry families.
type Kind string

const (
	KindBlock    Kind = "block"
	KindClick    Kind = "click"
	KindResource Kind = "resource"
	KindDebugger Kind = "debugger"
	KindQuestion Kind = "question"
)

var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownAction   = errors.New("unknown specific action")
)

// Category is a coarse event type scoped to a Kind.
type Category struct {
	Kind Kind
	Name string
}

func (c Category) String() string { return c.Name }

// IsZero reports whether c is the zero Category.
func (c Category) IsZero() bool { return c.Name == "" }

// Action is a fine-grained specific action scoped to a Kind.
// Names are the upper snake case wire names, e.g. ENDDRAG or VAR_CREATE_GLOBAL.
type Action struct {
	Kind Kind
	Name string
}

func (a Action) String() string { return a.Name }

// IsZero reports whether a is the zero Action.
func (a Action) IsZero() bool { return a.Name == "" }

type group struct {
	category string
	actions  []string
}

// legality lists, per kind, every category with the actions it owns.
// Each action appears under exactly one category of its kind.
var legality = []struct {
	kind   Kind
	groups []group
}{
	{KindBlock, []group{
		{"CLICK", []string{"GREENFLAG", "STOPALL", "SPRITE", "STACKCLICK"}},
		{"RENAME", []string{"VAR_RENAME_GLOBAL", "VAR_RENAME_LOCAL"}},
		{"CREATE", []string{"CREATE", "VAR_CREATE_GLOBAL", "VAR_CREATE_LOCAL", "COMMENT_CREATE"}},
		{"CHANGE", []string{"CHANGE", "COMMENT_CHANGE"}},
		{"MOVE", []string{"MOVE", "COMMENT_MOVE"}},
		{"DELETE", []string{"DELETE", "VAR_DELETE", "COMMENT_DELETE"}},
		{"DRAG", []string{"DRAGOUTSIDE", "ENDDRAGONTO", "ENDDRAG"}},
	}},
	{KindClick, []group{
		{"ICON", []string{"GREENFLAG", "STOPALL"}},
		{"CODE", []string{"STACKCLICK"}},
		{"BUTTON", []string{
			"REWIND_EXECUTION_SLIDER_CHANGE", "STEP_BACK", "STEP_OVER",
			"PAUSE_EXECUTION", "RESUME_EXECUTION",
			"DEACTIVATE_OBSERVATION", "ACTIVATE_OBSERVATION", "CLOSE_DEBUGGER",
		}},
	}},
	{KindResource, []group{
		{"ADD", []string{"ADD_COSTUME", "ADD_SOUND"}},
		{"RENAME", []string{"RENAME_COSTUME", "RENAME_BACKDROP", "RENAME_SOUND"}},
		{"DELETE", []string{"DELETE_COSTUME", "DELETE_SOUND"}},
	}},
	{KindDebugger, []group{
		{"BREAKPOINT", []string{"ADD_BREAKPOINT", "DELETE_BREAKPOINT"}},
		{"BLOCK", []string{"OPEN_BLOCK", "SELECT_BLOCK_EXECUTION", "ROUTE_TO_BLOCK"}},
		{"SPRITE", []string{"SELECT_SPRITE"}},
		{"TARGET", []string{"OPEN_DEBUGGER"}},
	}},
	{KindQuestion, []group{
		{"QUESTION", []string{"SELECT", "RATE"}},
		{"QUESTION_CATEGORY", []string{"OPEN_CATEGORY", "CLOSE_CATEGORY"}},
	}},
}

// Lookup tables derived from legality. Keys of categories and actions are
// normalised names (see normalize).
var (
	kinds      []Kind
	categories = map[Kind]map[string]Category{}
	actions    = map[Kind]map[string]Action{}
	ordered    = map[Kind][]Action{}
	ownerOf    = map[Action]Category{}
)

func init() {
	for _, k := range legality {
		kinds = append(kinds, k.kind)
		categories[k.kind] = map[string]Category{}
		actions[k.kind] = map[string]Action{}
		for _, g := range k.groups {
			c := Category{Kind: k.kind, Name: g.category}
			if _, dup := categories[k.kind][normalize(g.category)]; dup {
				panic(fmt.Sprintf("taxonomy: duplicate category %s/%s", k.kind, g.category))
			}
			categories[k.kind][normalize(g.category)] = c
			for _, name := range g.actions {
				a := Action{Kind: k.kind, Name: name}
				if _, dup := actions[k.kind][normalize(name)]; dup {
					panic(fmt.Sprintf("taxonomy: action %s/%s listed twice", k.kind, name))
				}
				actions[k.kind][normalize(name)] = a
				ordered[k.kind] = append(ordered[k.kind], a)
				ownerOf[a] = c
			}
		}
	}
}

// normalize folds case and drops separators so that wire names (ENDDRAG,
// VAR_CREATE_GLOBAL) and their CamelCase spellings (EndDrag, VarCreateGlobal)
// resolve to the same entry.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind resolves a raw kind name.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := categories[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := categories[k]
	return ok
}

// ParseCategory resolves raw against the categories of kind.
func ParseCategory(kind Kind, raw string) (Category, error) {
	byName, ok := categories[kind]
	if !ok {
		return Category{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	c, ok := byName[normalize(raw)]
	if !ok {
		return Category{}, fmt.Errorf("%w: %s %q", ErrUnknownCategory, kind, raw)
	}
	return c, nil
}

// ParseAction resolves raw against the specific actions of kind.
func ParseAction(kind Kind, raw string) (Action, error) {
	byName, ok := actions[kind]
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	a, ok := byName[normalize(raw)]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s %q", ErrUnknownAction, kind, raw)
	}
	return a, nil
}

// Legal reports whether a belongs to c.
func Legal(c Category, a Action) bool {
	owner, ok := ownerOf[a]
	return ok && owner == c
}

// CategoryOf returns the single category that owns a.
func CategoryOf(a Action) (Category, bool) {
	c, ok := ownerOf[a]
	return c, ok
}

// Categories returns the categories of kind in table order.
func Categories(kind Kind) []Category {
	for _, k := range legality {
		if k.kind != kind {
			continue
		}
		out := make([]Category, 0, len(k.groups))
		for _, g := range k.groups {
			out = append(out, Category{Kind: kind, Name: g.category})
		}
		return out
	}
	return nil
}

// Actions returns the specific actions of kind in table order.
func Actions(kind Kind) []Action {
	out := make([]Action, len(ordered[kind]))
	copy(out, ordered[kind])
	return out
}
