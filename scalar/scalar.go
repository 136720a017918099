// Package scalar maps semantic field kinds to serializable scalar
// contracts: parse, serialize and validate. The registry is populated at
// startup and read-only afterwards; resolution never fails, it degrades to
// the structured JSON scalar for anything unmapped.
package scalar

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/google/uuid"

	"github.com/syssam/morph/schema"
)

// Scalar is one serializable scalar contract. Parse converts an external
// (wire) value to its internal representation, Serialize is its inverse for
// well-formed values, and Validate rejects malformed or out-of-range values
// before they reach persistence.
type Scalar struct {
	Name      string
	Parse     func(v any) (any, error)
	Serialize func(v any) (any, error)
	Validate  func(v any) error
}

// Registry resolves fields and native return types to scalars.
type Registry struct {
	byName   map[string]*Scalar
	byKind   map[schema.FieldKind]*Scalar
	byNative map[string]*Scalar
	fallback *Scalar
}

// NewRegistry returns a registry with every builtin scalar registered.
func NewRegistry() *Registry {
	r := &Registry{
		byName:   make(map[string]*Scalar),
		byKind:   make(map[schema.FieldKind]*Scalar),
		byNative: make(map[string]*Scalar),
	}
	r.fallback = JSON()
	r.Register(ID())
	r.Register(String())
	r.Register(Int())
	r.Register(Float())
	r.Register(Boolean())
	r.Register(Time())
	r.Register(UUID())
	r.Register(Bytes())
	r.Register(r.fallback)
	r.MapKind(schema.KindID, "ID")
	r.MapKind(schema.KindString, "String")
	r.MapKind(schema.KindEnum, "String")
	r.MapKind(schema.KindInt, "Int")
	r.MapKind(schema.KindFloat, "Float")
	r.MapKind(schema.KindBool, "Boolean")
	r.MapKind(schema.KindTime, "Time")
	r.MapKind(schema.KindUUID, "UUID")
	r.MapKind(schema.KindBytes, "Bytes")
	r.MapKind(schema.KindJSON, "JSON")
	for native, name := range map[string]string{
		"string":    "String",
		"int":       "Int",
		"int64":     "Int",
		"float64":   "Float",
		"bool":      "Boolean",
		"time.Time": "Time",
		"uuid.UUID": "UUID",
		"[]byte":    "Bytes",
	} {
		r.MapNative(native, name)
	}
	return r
}

// Register adds a scalar under its name, replacing any previous scalar with
// the same name.
func (r *Registry) Register(s *Scalar) {
	r.byName[s.Name] = s
}

// MapKind binds a field kind to a registered scalar name.
func (r *Registry) MapKind(k schema.FieldKind, name string) {
	if s, ok := r.byName[name]; ok {
		r.byKind[k] = s
	}
}

// MapNative binds a native return type to a registered scalar name.
func (r *Registry) MapNative(native, name string) {
	if s, ok := r.byName[name]; ok {
		r.byNative[native] = s
	}
}

// Lookup returns the scalar registered under the given name.
func (r *Registry) Lookup(name string) (*Scalar, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// ResolveForField resolves the scalar contract for a field. Resolution
// order: explicit per-field override, field-kind mapping, native-type
// mapping, structured fallback. An unmapped field is not an error.
func (r *Registry) ResolveForField(f *schema.FieldDescriptor) *Scalar {
	if f.ScalarOverride != "" {
		if s, ok := r.byName[f.ScalarOverride]; ok {
			return s
		}
	}
	if s, ok := r.byKind[f.Kind]; ok {
		return s
	}
	if f.NativeType != "" {
		if s, ok := r.byNative[f.NativeType]; ok {
			return s
		}
	}
	return r.fallback
}

// ResolveForReturnType resolves the scalar for a computed accessor by its
// native return type, degrading to the structured fallback.
func (r *Registry) ResolveForReturnType(native string) *Scalar {
	if s, ok := r.byNative[native]; ok {
		return s
	}
	return r.fallback
}

// validateByParse derives a Validate func from a Parse func.
func validateByParse(parse func(any) (any, error)) func(any) error {
	return func(v any) error {
		_, err := parse(v)
		return err
	}
}

// ID returns the identity scalar. Numeric identities normalize to int64,
// string identities stay strings; both shapes round-trip unchanged.
func ID() *Scalar {
	parse := func(v any) (any, error) {
		switch id := v.(type) {
		case string:
			return id, nil
		case int:
			return int64(id), nil
		case int64:
			return id, nil
		case float64:
			return int64(id), nil
		case uuid.UUID:
			return id.String(), nil
		default:
			return nil, fmt.Errorf("%T is not a valid identity", v)
		}
	}
	return &Scalar{
		Name:      "ID",
		Parse:     parse,
		Serialize: parse,
		Validate:  validateByParse(parse),
	}
}

// String returns the string scalar.
func String() *Scalar {
	parse := func(v any) (any, error) {
		return graphql.UnmarshalString(v)
	}
	return &Scalar{
		Name:  "String",
		Parse: parse,
		Serialize: func(v any) (any, error) {
			return graphql.UnmarshalString(v)
		},
		Validate: validateByParse(parse),
	}
}

// Int returns the integer scalar. Values normalize to int64.
func Int() *Scalar {
	parse := func(v any) (any, error) {
		return graphql.UnmarshalInt64(v)
	}
	return &Scalar{
		Name:      "Int",
		Parse:     parse,
		Serialize: parse,
		Validate:  validateByParse(parse),
	}
}

// Float returns the float scalar.
func Float() *Scalar {
	parse := func(v any) (any, error) {
		return graphql.UnmarshalFloat(v)
	}
	return &Scalar{
		Name:      "Float",
		Parse:     parse,
		Serialize: parse,
		Validate:  validateByParse(parse),
	}
}

// Boolean returns the boolean scalar. Parsing is strict: only bools and
// the exact strings "true"/"false" are accepted, so a malformed value is
// rejected rather than coerced.
func Boolean() *Scalar {
	parse := func(v any) (any, error) {
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch b {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, fmt.Errorf("%v is not a valid boolean", v)
	}
	return &Scalar{
		Name:      "Boolean",
		Parse:     parse,
		Serialize: parse,
		Validate:  validateByParse(parse),
	}
}

// Time returns the timestamp scalar. The wire form is RFC 3339 with
// nanosecond precision, so parse(serialize(t)) preserves the instant.
func Time() *Scalar {
	parse := func(v any) (any, error) {
		return graphql.UnmarshalTime(v)
	}
	return &Scalar{
		Name:  "Time",
		Parse: parse,
		Serialize: func(v any) (any, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, fmt.Errorf("%T is not a time.Time", v)
			}
			return t.Format(time.RFC3339Nano), nil
		},
		Validate: validateByParse(parse),
	}
}

// UUID returns the UUID scalar backed by github.com/google/uuid.
func UUID() *Scalar {
	parse := func(v any) (any, error) {
		switch id := v.(type) {
		case uuid.UUID:
			return id, nil
		case string:
			return uuid.Parse(id)
		case []byte:
			return uuid.ParseBytes(id)
		default:
			return nil, fmt.Errorf("%T is not a valid UUID", v)
		}
	}
	return &Scalar{
		Name:  "UUID",
		Parse: parse,
		Serialize: func(v any) (any, error) {
			id, ok := v.(uuid.UUID)
			if !ok {
				return nil, fmt.Errorf("%T is not a uuid.UUID", v)
			}
			return id.String(), nil
		},
		Validate: validateByParse(parse),
	}
}

// Bytes returns the binary scalar. The wire form is standard base64.
func Bytes() *Scalar {
	parse := func(v any) (any, error) {
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return base64.StdEncoding.DecodeString(b)
		default:
			return nil, fmt.Errorf("%T is not a valid byte string", v)
		}
	}
	return &Scalar{
		Name:  "Bytes",
		Parse: parse,
		Serialize: func(v any) (any, error) {
			b, ok := v.([]byte)
			if !ok {
				return nil, fmt.Errorf("%T is not a byte slice", v)
			}
			return base64.StdEncoding.EncodeToString(b), nil
		},
		Validate: validateByParse(parse),
	}
}

// JSON returns the generic structured scalar: the fallback for every
// unmapped kind or native type. It accepts any JSON-shaped value and never
// drops data.
func JSON() *Scalar {
	parse := func(v any) (any, error) {
		return graphql.UnmarshalAny(v)
	}
	return &Scalar{
		Name:      "JSON",
		Parse:     parse,
		Serialize: parse,
		Validate:  validateByParse(parse),
	}
}
