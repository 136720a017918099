// Package query plans read operations over a compiled type graph: filter
// validation, cursor pagination and eager-load planning so the executor
// issues a bounded number of persistence calls regardless of row count.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
	"github.com/syssam/morph/typegraph"
)

// DefaultPageSize bounds plural reads that carry no explicit page size.
const DefaultPageSize = 50

// FilterInput is one externally supplied field predicate, operator by name.
type FilterInput struct {
	Field string
	Op    string
	Value any
}

// Pagination is an externally supplied page request. After carries the
// opaque cursor of the previous page's last row.
type Pagination struct {
	First int
	After string
}

// EagerLoad is one relationship the executor fetches alongside the primary
// rows, with its own nested loads.
type EagerLoad struct {
	Rel    *schema.RelationshipDescriptor
	Target *typegraph.Node
	Nested []*EagerLoad
}

// ReadPlan is a compiled read: validated filters, ordering, page bounds and
// the eager-load tree. Plans are request-local and discarded after use.
type ReadPlan struct {
	Node     *typegraph.Node
	Criteria *morph.Criteria
	Eager    []*EagerLoad
	// PageSize is the requested page size; Criteria.Limit is PageSize+1 so
	// the executor can compute hasNextPage without a second round trip.
	PageSize int
	Cursor   *Cursor
	// OrderField is the cursor ordering key.
	OrderField string
}

// Planner derives read plans from the compiled type graph.
type Planner struct {
	graph    *typegraph.TypeGraph
	pageSize int
}

// NewPlanner returns a read planner with the default page size.
func NewPlanner(g *typegraph.TypeGraph) *Planner {
	return &Planner{graph: g, pageSize: DefaultPageSize}
}

// WithPageSize sets the default page size for plural reads.
func (p *Planner) WithPageSize(n int) *Planner {
	if n > 0 {
		p.pageSize = n
	}
	return p
}

// PlanRead compiles the requested relationship paths, filters and page
// request into a ReadPlan. Filters are validated against each field's
// scalar kind before anything reaches the persistence collaborator.
func (p *Planner) PlanRead(node *typegraph.Node, paths []string, filters []FilterInput, page Pagination) (*ReadPlan, error) {
	plan := &ReadPlan{
		Node:       node,
		Criteria:   &morph.Criteria{},
		OrderField: "id",
	}
	for _, fi := range filters {
		f, err := p.compileFilter(node, fi)
		if err != nil {
			return nil, err
		}
		plan.Criteria.Filters = append(plan.Criteria.Filters, f)
	}
	eager, err := p.compileEager(node, paths)
	if err != nil {
		return nil, err
	}
	plan.Eager = eager

	plan.PageSize = page.First
	if plan.PageSize <= 0 {
		plan.PageSize = p.pageSize
	}
	// One extra row decides hasNextPage.
	plan.Criteria.Limit = plan.PageSize + 1
	plan.Criteria.Order = []morph.Order{{Field: plan.OrderField}}
	cur, err := DecodeCursor(page.After)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		plan.Cursor = cur
		plan.Criteria.Filters = append(plan.Criteria.Filters, &morph.Filter{
			Field: plan.OrderField,
			Op:    morph.OpGT,
			Value: cur.Key,
		})
	}
	return plan, nil
}

// filterOps maps external operator names to storage operators.
var filterOps = map[string]morph.FilterOp{
	"eq":       morph.OpEQ,
	"neq":      morph.OpNEQ,
	"contains": morph.OpContains,
	"gt":       morph.OpGT,
	"gte":      morph.OpGTE,
	"lt":       morph.OpLT,
	"lte":      morph.OpLTE,
	"in":       morph.OpIn,
	"isnull":   morph.OpIsNull,
}

func (p *Planner) compileFilter(node *typegraph.Node, fi FilterInput) (*morph.Filter, error) {
	rf, ok := node.Field(fi.Field)
	if !ok {
		return nil, &morph.FieldError{Field: fi.Field, Path: fi.Field, Message: "unknown filter field"}
	}
	if rf.Field.Computed {
		return nil, &morph.FieldError{Field: fi.Field, Path: fi.Field, Message: "computed fields are not filterable"}
	}
	op, ok := filterOps[fi.Op]
	if !ok {
		return nil, &morph.FieldError{Field: fi.Field, Path: fi.Field, Message: fmt.Sprintf("unknown filter operator %q", fi.Op)}
	}
	if !opSupported(rf.Field.Kind, op) {
		return nil, &morph.FieldError{
			Field: fi.Field, Path: fi.Field,
			Message: fmt.Sprintf("operator %q is not supported by %s fields", fi.Op, rf.Field.Kind),
		}
	}
	if op == morph.OpIsNull {
		return &morph.Filter{Field: fi.Field, Op: op}, nil
	}
	if op == morph.OpIn {
		items, ok := fi.Value.([]any)
		if !ok {
			return nil, &morph.FieldError{Field: fi.Field, Path: fi.Field, Message: "in operator requires a list"}
		}
		parsed := make([]any, len(items))
		for i, item := range items {
			v, err := rf.Scalar.Parse(item)
			if err != nil {
				return nil, &morph.FieldError{Field: fi.Field, Path: fi.Field, Message: err.Error()}
			}
			parsed[i] = v
		}
		return &morph.Filter{Field: fi.Field, Op: op, Value: parsed}, nil
	}
	v, err := rf.Scalar.Parse(fi.Value)
	if err != nil {
		return nil, &morph.FieldError{Field: fi.Field, Path: fi.Field, Message: err.Error()}
	}
	return &morph.Filter{Field: fi.Field, Op: op, Value: v}, nil
}

// opSupported declares which operator families each field kind accepts:
// exact everywhere, contains on strings, range on ordered kinds.
func opSupported(k schema.FieldKind, op morph.FilterOp) bool {
	switch op {
	case morph.OpEQ, morph.OpNEQ, morph.OpIn, morph.OpIsNull:
		return true
	case morph.OpContains:
		return k == schema.KindString
	case morph.OpGT, morph.OpGTE, morph.OpLT, morph.OpLTE:
		return k.Numeric() || k == schema.KindTime || k == schema.KindString || k == schema.KindID
	}
	return false
}

// compileEager groups selected relationship paths by head segment and
// recurses into the tails, producing one load per distinct relationship
// per level.
func (p *Planner) compileEager(node *typegraph.Node, paths []string) ([]*EagerLoad, error) {
	heads := make(map[string][]string)
	var order []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		head, tail, _ := strings.Cut(path, ".")
		if _, seen := heads[head]; !seen {
			order = append(order, head)
		}
		if tail != "" {
			heads[head] = append(heads[head], tail)
		} else if _, seen := heads[head]; !seen {
			heads[head] = nil
		}
	}
	sort.Strings(order)
	var out []*EagerLoad
	for _, head := range order {
		rel, ok := node.Relationship(head)
		if !ok {
			return nil, &morph.FieldError{Field: head, Path: head, Message: "unknown relationship"}
		}
		target, ok := p.graph.Node(rel.Target)
		if !ok {
			return nil, morph.NewCompileError(node.Entity.Name, head, "relationship target %q has no compiled node", rel.Target)
		}
		nested, err := p.compileEager(target, heads[head])
		if err != nil {
			return nil, err
		}
		out = append(out, &EagerLoad{Rel: rel, Target: target, Nested: nested})
	}
	return out, nil
}
