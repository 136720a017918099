// Package introspect normalizes raw external entity metadata into schema
// descriptors. It detects fields, relationships and computed accessors,
// collapses the inheritance forms the external model layer may declare
// into a single parent link, and strips the model layer's internal
// bookkeeping fields before anything reaches compilation.
package introspect

import (
	"context"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
)

// Source yields the raw models of one external entity registry.
type Source interface {
	Models(ctx context.Context) ([]*RawModel, error)
}

// RawModel is one entity as the external model layer declares it, before
// normalization.
type RawModel struct {
	Name          string             `yaml:"name"`
	Table         string             `yaml:"table"`
	Abstract      bool               `yaml:"abstract"`
	Fields        []*RawField        `yaml:"fields"`
	Relationships []*RawRelationship `yaml:"relationships"`
	Inherits      *RawInheritance    `yaml:"inherits"`
}

// RawField is one declared field, scalar or computed.
type RawField struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Nullable   bool     `yaml:"nullable"`
	Immutable  bool     `yaml:"immutable"`
	Computed   bool     `yaml:"computed"`
	NativeType string   `yaml:"native_type"`
	Scalar     string   `yaml:"scalar"`
	MinLen     int      `yaml:"min_len"`
	MaxLen     int      `yaml:"max_len"`
	Min        *float64 `yaml:"min"`
	Max        *float64 `yaml:"max"`
	Values     []string `yaml:"values"`
}

// RawRelationship is one declared relationship.
type RawRelationship struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Target     string `yaml:"target"`
	ForeignKey string `yaml:"foreign_key"`
	JoinTable  string `yaml:"join_table"`
	OnDelete   string `yaml:"on_delete"`
	Required   bool   `yaml:"required"`
}

// RawInheritance declares the entity's place under a base entity. Form
// distinguishes a child with a table of its own ("joined", the default)
// from a behavior-only child redirecting to the parent's storage
// ("proxy"). An abstract base declares itself through RawModel.Abstract.
type RawInheritance struct {
	Base string `yaml:"base"`
	Form string `yaml:"form"`
}

// fieldKinds maps external type names to semantic field kinds. Unmapped
// names are not an error; they degrade to the structured scalar.
var fieldKinds = map[string]schema.FieldKind{
	"id":        schema.KindID,
	"bool":      schema.KindBool,
	"boolean":   schema.KindBool,
	"int":       schema.KindInt,
	"integer":   schema.KindInt,
	"bigint":    schema.KindInt,
	"float":     schema.KindFloat,
	"double":    schema.KindFloat,
	"decimal":   schema.KindFloat,
	"string":    schema.KindString,
	"text":      schema.KindString,
	"slug":      schema.KindString,
	"email":     schema.KindString,
	"url":       schema.KindString,
	"time":      schema.KindTime,
	"date":      schema.KindTime,
	"datetime":  schema.KindTime,
	"timestamp": schema.KindTime,
	"uuid":      schema.KindUUID,
	"enum":      schema.KindEnum,
	"json":      schema.KindJSON,
	"object":    schema.KindJSON,
	"bytes":     schema.KindBytes,
	"binary":    schema.KindBytes,
}

var relKinds = map[string]schema.RelKind{
	"to-one":       schema.ToOneOwned,
	"belongs-to":   schema.ToOneOwned,
	"to-many":      schema.ToManyOwned,
	"has-many":     schema.ToManyOwned,
	"shared":       schema.ToManyShared,
	"many-to-many": schema.ToManyShared,
}

var deletePolicies = map[string]schema.DeletePolicy{
	"protect":           schema.Protect,
	"cascade":           schema.Cascade,
	"set-null":          schema.SetNull,
	"clear-association": schema.ClearAssociation,
	"clear":             schema.ClearAssociation,
}

// internalField is the fixed predicate excluding the model layer's own
// bookkeeping from the API surface: private fields, inheritance
// back-pointers and type-discriminator columns. Exclusion is by shape,
// never by per-field configuration.
func internalField(name string) bool {
	return strings.HasPrefix(name, "_") ||
		strings.HasSuffix(name, "_ptr") ||
		name == "discriminator"
}

// Describe normalizes one raw model into an entity descriptor. Excluded
// internal fields are recorded on the descriptor so later stages can tell
// "absent" from "resolved out".
func Describe(raw *RawModel) (*schema.EntityDescriptor, error) {
	if raw.Name == "" {
		return nil, morph.NewCompileError("", "", "model with empty name")
	}
	e := &schema.EntityDescriptor{
		Name:     raw.Name,
		Table:    raw.Table,
		Abstract: raw.Abstract,
	}
	for _, f := range raw.Fields {
		if f.Name == "" {
			return nil, morph.NewCompileError(raw.Name, "", "field with empty name")
		}
		if internalField(f.Name) {
			e.Excluded = append(e.Excluded, f.Name)
			continue
		}
		fd, err := describeField(raw.Name, f)
		if err != nil {
			return nil, err
		}
		e.Fields = append(e.Fields, fd)
	}
	for _, r := range raw.Relationships {
		rd, err := describeRelationship(raw.Name, r)
		if err != nil {
			return nil, err
		}
		e.Relationships = append(e.Relationships, rd)
	}
	if raw.Inherits != nil {
		if raw.Inherits.Base == "" {
			return nil, morph.NewCompileError(raw.Name, "", "inheritance without a base entity")
		}
		e.Parent = raw.Inherits.Base
		switch raw.Inherits.Form {
		case "", "joined":
			e.SharesParentStorage = false
		case "proxy":
			e.SharesParentStorage = true
		default:
			return nil, morph.NewCompileError(raw.Name, "", "unknown inheritance form %q", raw.Inherits.Form)
		}
	}
	return e, nil
}

func describeField(entity string, f *RawField) (*schema.FieldDescriptor, error) {
	kind, ok := fieldKinds[strings.ToLower(f.Type)]
	if !ok {
		kind = schema.KindJSON
	}
	if f.Name == "id" {
		kind = schema.KindID
		if strings.EqualFold(f.Type, "uuid") {
			kind = schema.KindUUID
		}
	}
	if kind == schema.KindEnum && len(f.Values) == 0 {
		return nil, morph.NewCompileError(entity, f.Name, "enum field declares no allowed values")
	}
	return &schema.FieldDescriptor{
		Name:           f.Name,
		Kind:           kind,
		Nullable:       f.Nullable,
		Immutable:      f.Immutable,
		Computed:       f.Computed,
		NativeType:     f.NativeType,
		ScalarOverride: f.Scalar,
		Constraints: schema.Constraints{
			MinLen: f.MinLen,
			MaxLen: f.MaxLen,
			Min:    f.Min,
			Max:    f.Max,
			Values: f.Values,
		},
	}, nil
}

func describeRelationship(entity string, r *RawRelationship) (*schema.RelationshipDescriptor, error) {
	if r.Name == "" {
		return nil, morph.NewCompileError(entity, "", "relationship with empty name")
	}
	if r.Target == "" {
		return nil, morph.NewCompileError(entity, r.Name, "relationship without a target entity")
	}
	kind, ok := relKinds[strings.ToLower(r.Kind)]
	if !ok {
		return nil, morph.NewCompileError(entity, r.Name, "unknown relationship kind %q", r.Kind)
	}
	policy := schema.Protect
	if kind == schema.ToManyShared {
		policy = schema.ClearAssociation
	}
	if r.OnDelete != "" {
		policy, ok = deletePolicies[strings.ToLower(r.OnDelete)]
		if !ok {
			return nil, morph.NewCompileError(entity, r.Name, "unknown delete policy %q", r.OnDelete)
		}
	}
	fk := r.ForeignKey
	if fk == "" {
		switch kind {
		case schema.ToOneOwned:
			fk = inflect.Underscore(r.Name) + "_id"
		case schema.ToManyOwned:
			fk = inflect.Underscore(entity) + "_id"
		}
	}
	return &schema.RelationshipDescriptor{
		Name:      r.Name,
		Kind:      kind,
		Target:    r.Target,
		FKField:   fk,
		JoinTable: r.JoinTable,
		OnDelete:  policy,
		Required:  r.Required,
	}, nil
}

// Load describes every model the source yields, registers the results and
// validates cross-entity references. A relationship whose target is not
// registered fails here, naming the offending entity and relationship.
func Load(ctx context.Context, src Source) (*schema.Registry, error) {
	models, err := src.Models(ctx)
	if err != nil {
		return nil, err
	}
	reg := schema.NewRegistry()
	for _, raw := range models {
		e, err := Describe(raw)
		if err != nil {
			return nil, err
		}
		if err := reg.Add(e); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
