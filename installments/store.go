/*
store.go - Persistence interfaces for plans, installments and the audit trail

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  own rows only; every business rule (status terminality, exact sums,
  recalculation) lives in the engine.

KEY INTERFACES:
  PlanStore:        plan rows with optimistic versioning
  InstallmentStore: installment rows
  AuditLog:         append-only record of engine writes
  TxStore:          all of the above plus atomic multi-table writes

OPTIMISTIC VERSIONING:
  UpdatePlan and DeletePlan take the version the caller read. If the stored
  version differs the call fails with ErrConcurrencyConflict and writes
  nothing. A successful UpdatePlan stores Version+1. The engine bumps the
  plan version on every write to the installment set, so two writers that
  read the same version can never both commit.

IMPLEMENTATIONS:
  - installments/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - concurrency.go: the read / compute / commit-or-retry loop
*/
package installments

import "context"

// InstallmentQuery is the store-level installment filter. Effective-status
// filters are translated by the engine into Statuses plus due-date bounds.
type InstallmentQuery struct {
	PlanID   *PlanID
	From     *Date // due date >= From
	To       *Date // due date <= To
	Type     *TransactionType
	Statuses []StoredStatus

	// DueBefore is an exclusive upper bound (used for "overdue").
	DueBefore *Date

	Page Page
}

// PlanQuery is the store-level plan filter.
type PlanQuery struct {
	PlanFilter
	Page Page
}

// PlanStore persists plans.
type PlanStore interface {
	// GetPlan returns ErrNotFound (as *NotFoundError) for unknown ids.
	GetPlan(ctx context.Context, id PlanID) (*Plan, error)

	// ListPlans orders by first due date, then id.
	ListPlans(ctx context.Context, q PlanQuery) ([]Plan, error)

	// InsertPlan stores a new plan as given (Version should be 1).
	InsertPlan(ctx context.Context, p Plan) error

	// UpdatePlan replaces the row when the stored version equals p.Version,
	// storing p.Version+1. Otherwise ErrConcurrencyConflict.
	UpdatePlan(ctx context.Context, p Plan) error

	// DeletePlan removes the plan and all its installments when the stored
	// version equals version. Otherwise ErrConcurrencyConflict.
	DeletePlan(ctx context.Context, id PlanID, version int64) error
}

// InstallmentStore persists installments.
type InstallmentStore interface {
	GetInstallment(ctx context.Context, id InstallmentID) (*Installment, error)

	// ListInstallments orders by due date, then plan id, then number.
	ListInstallments(ctx context.Context, q InstallmentQuery) ([]Installment, error)

	// InstallmentsByPlan orders by installment number.
	InstallmentsByPlan(ctx context.Context, planID PlanID) ([]Installment, error)

	InsertInstallments(ctx context.Context, items []Installment) error
	UpdateInstallments(ctx context.Context, items []Installment) error
	DeleteInstallments(ctx context.Context, ids ...InstallmentID) error
}

// Store is the full persistence surface used by the engine.
type Store interface {
	PlanStore
	InstallmentStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ReferenceLookup answers whether externally owned reference data exists.
// The engine never writes through it.
type ReferenceLookup interface {
	CategoryExists(ctx context.Context, id string) (bool, error)
	CardExists(ctx context.Context, id string) (bool, error)
}
