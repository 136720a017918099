package typegraph

import (
	"strings"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.Und, cases.NoLower)

// typeName converts an entity name to its GraphQL type name. Entity names
// may arrive camel-cased or snake-cased from the external model registry;
// both normalize to upper camel case.
func typeName(entity string) string {
	parts := strings.Split(inflect.Underscore(entity), "_")
	for i, p := range parts {
		parts[i] = titler.String(p)
	}
	return strings.Join(parts, "")
}

// fieldName converts a descriptor name to its GraphQL field name.
func fieldName(name string) string {
	return inflect.CamelizeDownFirst(name)
}

// Derived type-name suffixes.
const (
	suffixCreateInput = "CreateInput"
	suffixUpdateInput = "UpdateInput"
	suffixRef         = "Ref"
	suffixNestedInput = "NestedInput"
	suffixInterface   = "Base"
	suffixUnion       = "Kind"
)

// queryNames returns the singular and plural query field names of a type.
func queryNames(entity string) (single, list string) {
	n := typeName(entity)
	return inflect.CamelizeDownFirst(n), inflect.CamelizeDownFirst(inflect.Pluralize(n))
}
