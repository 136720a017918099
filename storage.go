package morph

import "context"

// Row is a single entity row as returned by the persistence collaborator.
// Keys are field/column names; the identity lives under "id".
type Row map[string]any

// ID returns the identity value of the row, or nil if it has none.
func (r Row) ID() any {
	return r["id"]
}

// FilterOp enumerates the comparison operators a Filter may carry. Which
// operators a field supports is declared per field and validated against
// its scalar kind before the filter reaches storage.
type FilterOp uint8

// Filter operators.
const (
	OpEQ FilterOp = iota
	OpNEQ
	OpContains
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpIn
	OpIsNull
)

// String returns the operator name.
func (op FilterOp) String() string {
	names := [...]string{"eq", "neq", "contains", "gt", "gte", "lt", "lte", "in", "isnull"}
	if int(op) < len(names) {
		return names[op]
	}
	return "invalid"
}

// Filter is a single field predicate handed to the persistence collaborator.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Order is a single ordering term.
type Order struct {
	Field string
	Desc  bool
}

// Criteria describes a filtered, ordered, bounded row selection.
type Criteria struct {
	Filters []*Filter
	Order   []Order
	Limit   int // Zero means no limit.
	Offset  int
}

// Association identifies a join table backing a shared (many-to-many)
// relationship.
type Association struct {
	Table        string
	OwnerColumn  string
	TargetColumn string
}

// Reader is the read surface of the persistence collaborator. It is
// implemented by both Storage (auto-commit reads) and Tx (transactional
// reads, snapshot-consistent across an eager-load fan-out).
type Reader interface {
	// FindByIdentity returns the row with the given identity, or ErrNotFound.
	FindByIdentity(ctx context.Context, entity string, id any) (Row, error)

	// FindByFilter returns the rows matching the criteria.
	FindByFilter(ctx context.Context, entity string, c *Criteria) ([]Row, error)

	// Count returns the number of rows matching the filters.
	Count(ctx context.Context, entity string, filters []*Filter) (int, error)

	// AssociationTargets returns the target identities linked to ownerID
	// through the given join table.
	AssociationTargets(ctx context.Context, assoc Association, ownerID any) ([]any, error)
}

// Storage is the persistence collaborator consumed by the executors. All
// writes happen through a Tx; implementations must guarantee that a
// rolled-back Tx leaves zero net change.
type Storage interface {
	Reader

	// Tx begins a new transaction. The transaction is canceled together
	// with ctx; an aborted context must abort the in-flight transaction.
	Tx(ctx context.Context) (Tx, error)
}

// Tx is a single persistence transaction.
type Tx interface {
	Reader

	// Insert writes a new row and returns its generated identity. If the
	// values already carry an "id" key, that identity is used as-is.
	Insert(ctx context.Context, entity string, values map[string]any) (any, error)

	// InsertBulk writes a batch of rows in one grouped statement and
	// returns their identities in input order.
	InsertBulk(ctx context.Context, entity string, rows []map[string]any) ([]any, error)

	// Update applies the given values to the row with the given identity.
	Update(ctx context.Context, entity string, id any, values map[string]any) error

	// Delete removes the row with the given identity.
	Delete(ctx context.Context, entity string, id any) error

	// AddAssociation links ownerID to targetID through the join table.
	// Linking an already-linked pair is a no-op.
	AddAssociation(ctx context.Context, assoc Association, ownerID, targetID any) error

	// RemoveAssociation unlinks ownerID from targetID. The target row
	// itself is never touched.
	RemoveAssociation(ctx context.Context, assoc Association, ownerID, targetID any) error

	// ClearAssociation removes every join row owned by ownerID.
	ClearAssociation(ctx context.Context, assoc Association, ownerID any) (int, error)

	Commit() error
	Rollback() error
}
