// Package validate checks flat and nested write payloads against field and
// relationship constraints before any write is attempted. Every violation
// across the whole payload is collected and returned together; the engine
// never stops at the first error.
package validate

import (
	"fmt"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
	"github.com/syssam/morph/typegraph"
)

// Engine validates payloads against a compiled type graph.
type Engine struct {
	graph *typegraph.TypeGraph
}

// New returns a validation engine for the given graph.
func New(g *typegraph.TypeGraph) *Engine {
	return &Engine{graph: g}
}

// Validate checks the payload against the node's descriptors and returns
// every field error found, walking nested relationship payloads.
func (e *Engine) Validate(node *typegraph.Node, payload map[string]any, mode morph.WriteMode) []*morph.FieldError {
	w := &walker{engine: e}
	w.entity(node, payload, mode, "")
	return w.errs
}

type walker struct {
	engine *Engine
	errs   []*morph.FieldError
}

func (w *walker) fail(path, field, format string, a ...any) {
	w.errs = append(w.errs, &morph.FieldError{
		Path:    path,
		Field:   field,
		Message: fmt.Sprintf(format, a...),
	})
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (w *walker) entity(node *typegraph.Node, payload map[string]any, mode morph.WriteMode, prefix string) {
	// Required-field presence, create mode only.
	if mode == morph.ModeCreate {
		for _, rf := range node.Fields {
			f := rf.Field
			if f.Computed || f.Name == "id" || f.Nullable {
				continue
			}
			if _, ok := payload[f.Name]; !ok {
				w.fail(joinPath(prefix, f.Name), f.Name, "required field is missing")
			}
		}
		for _, rel := range node.Relationships {
			if rel.Kind == schema.ToOneOwned && rel.Required {
				if _, ok := payload[rel.Name]; !ok {
					w.fail(joinPath(prefix, rel.Name), rel.Name, "required relationship is missing")
				}
			}
		}
	}
	for name, value := range payload {
		path := joinPath(prefix, name)
		if name == "id" {
			if _, ok := node.Field("id"); ok && value != nil {
				w.scalarValue(node, "id", value, path)
			}
			continue
		}
		if rf, ok := node.Field(name); ok {
			w.field(rf, value, path, mode)
			continue
		}
		if rel, ok := node.Relationship(name); ok {
			w.relationship(node, rel, value, path, mode)
			continue
		}
		w.fail(path, name, "unknown field")
	}
}

func (w *walker) field(rf *typegraph.ResolvedField, value any, path string, mode morph.WriteMode) {
	f := rf.Field
	if f.Computed {
		w.fail(path, f.Name, "computed field is read-only")
		return
	}
	if mode == morph.ModeUpdate && f.Immutable {
		w.fail(path, f.Name, "immutable field cannot be updated")
		return
	}
	if value == nil {
		if !f.Nullable {
			w.fail(path, f.Name, "field is not nullable")
		}
		return
	}
	if !w.checkScalar(rf, value, path) {
		return
	}
	w.constraints(rf, value, path)
}

func (w *walker) scalarValue(node *typegraph.Node, field string, value any, path string) bool {
	rf, ok := node.Field(field)
	if !ok {
		return false
	}
	return w.checkScalar(rf, value, path)
}

func (w *walker) checkScalar(rf *typegraph.ResolvedField, value any, path string) bool {
	if err := rf.Scalar.Validate(value); err != nil {
		w.fail(path, rf.Field.Name, "invalid %s value: %v", rf.Scalar.Name, err)
		return false
	}
	return true
}

func (w *walker) constraints(rf *typegraph.ResolvedField, value any, path string) {
	f := rf.Field
	c := f.Constraints
	parsed, err := rf.Scalar.Parse(value)
	if err != nil {
		return
	}
	if s, ok := parsed.(string); ok {
		if c.MaxLen > 0 && len(s) > c.MaxLen {
			w.fail(path, f.Name, "value exceeds maximum length %d", c.MaxLen)
		}
		if len(s) < c.MinLen {
			w.fail(path, f.Name, "value is shorter than minimum length %d", c.MinLen)
		}
		if len(c.Values) > 0 && !contains(c.Values, s) {
			w.fail(path, f.Name, "value %q is not in the allowed set", s)
		}
	}
	var num float64
	switch n := parsed.(type) {
	case int64:
		num = float64(n)
	case float64:
		num = n
	default:
		return
	}
	if c.Min != nil && num < *c.Min {
		w.fail(path, f.Name, "value %v is below the minimum %v", num, *c.Min)
	}
	if c.Max != nil && num > *c.Max {
		w.fail(path, f.Name, "value %v is above the maximum %v", num, *c.Max)
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// relationship checks payload shape against the declared kind, then walks
// nested objects against the target entity.
func (w *walker) relationship(node *typegraph.Node, rel *schema.RelationshipDescriptor, value any, path string, mode morph.WriteMode) {
	target, ok := w.engine.graph.Node(rel.Target)
	if !ok {
		w.fail(path, rel.Name, "relationship target %q is not compiled", rel.Target)
		return
	}
	switch rel.Kind {
	case schema.ToOneOwned:
		if value == nil {
			if rel.Required {
				w.fail(path, rel.Name, "required relationship cannot be null")
			}
			return
		}
		item, ok := value.(map[string]any)
		if !ok {
			w.fail(path, rel.Name, "to-one relationship must not receive a list or scalar")
			return
		}
		w.nested(target, item, path, mode)
	default:
		if value == nil {
			return
		}
		list, ok := value.([]any)
		if !ok {
			w.fail(path, rel.Name, "to-many relationship requires a list")
			return
		}
		for i, raw := range list {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			item, ok := raw.(map[string]any)
			if !ok {
				w.fail(itemPath, rel.Name, "relationship item must be an object")
				continue
			}
			w.nested(target, item, itemPath, mode)
		}
	}
}

// nested validates one related object: an identity-only object is a link
// and only its identity is checked; an object with an identity validates
// as an update; anything else validates as a create.
func (w *walker) nested(target *typegraph.Node, item map[string]any, path string, mode morph.WriteMode) {
	_, hasID := item["id"]
	switch {
	case hasID && len(item) == 1:
		if id := item["id"]; id != nil {
			w.scalarValue(target, "id", id, joinPath(path, "id"))
		} else {
			w.fail(joinPath(path, "id"), "id", "reference identity cannot be null")
		}
	case hasID && mode == morph.ModeUpdate:
		w.entity(target, item, morph.ModeUpdate, path)
	default:
		w.entity(target, item, morph.ModeCreate, path)
	}
}
