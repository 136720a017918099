package exec

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/syssam/morph"
	"github.com/syssam/morph/mutation"
	"github.com/syssam/morph/query"
	"github.com/syssam/morph/typegraph"
	"github.com/syssam/morph/validate"
)

// Runner executes reads, mutations and deletions against a compiled
// type graph and a persistence collaborator. Every write request runs
// inside one transaction; a failing operation rolls the whole request
// back.
type Runner struct {
	storage   morph.Storage
	graph     *typegraph.TypeGraph
	validator *validate.Engine
	planner   *mutation.Planner
	reads     *query.Planner
	checker   *mutation.Checker
	authz     morph.Authorizer
	log       logr.Logger

	pageSize      int
	bulkThreshold int
}

// Option configures a Runner.
type Option func(*Runner)

// WithAuthorizer installs an authorization hook consulted before every
// write. The default permits everything.
func WithAuthorizer(a morph.Authorizer) Option {
	return func(r *Runner) {
		if a != nil {
			r.authz = a
		}
	}
}

// WithLogger installs a structured logger for request-level events.
func WithLogger(log logr.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithPageSize sets the default page size for plural reads.
func WithPageSize(n int) Option {
	return func(r *Runner) {
		r.pageSize = n
	}
}

// WithBulkThreshold sets the batch size above which collection creates
// group into bulk inserts.
func WithBulkThreshold(n int) Option {
	return func(r *Runner) {
		r.bulkThreshold = n
	}
}

// New returns a Runner over the given storage and compiled graph.
func New(storage morph.Storage, graph *typegraph.TypeGraph, opts ...Option) *Runner {
	r := &Runner{
		storage: storage,
		graph:   graph,
		authz:   morph.AllowAll(),
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.validator = validate.New(graph)
	r.checker = mutation.NewChecker(graph)
	var popts []mutation.Option
	if r.bulkThreshold > 0 {
		popts = append(popts, mutation.WithBulkThreshold(r.bulkThreshold))
	}
	r.planner = mutation.NewPlanner(graph, popts...)
	r.reads = query.NewPlanner(graph)
	if r.pageSize > 0 {
		r.reads = r.reads.WithPageSize(r.pageSize)
	}
	return r
}

// node resolves an entity name to its compiled node.
func (r *Runner) node(entity string) (*typegraph.Node, error) {
	node, ok := r.graph.Node(entity)
	if !ok {
		return nil, fmt.Errorf("morph: unknown entity %q: %w", entity, morph.ErrNotFound)
	}
	return node, nil
}
