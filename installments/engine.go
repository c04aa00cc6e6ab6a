package installments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Entry point for every plan and installment operation
// =============================================================================

// Default retry policy for optimistic version conflicts.
const (
	DefaultMaxConflictRetries = 3
	DefaultRetryBaseDelay     = 10 * time.Millisecond
)

// Config holds the engine's collaborators and policy switches.
// Zero values select the defaults noted on each field.
type Config struct {
	// Clock is the source of "now" (SystemClock).
	Clock Clock

	// Location fixes the zone in which "today" is evaluated (UTC).
	Location *time.Location

	// References validates category and card ids when set (no validation).
	References ReferenceLookup

	// Locker serializes writers per plan before the optimistic loop (in-process KeyedLocker).
	Locker PlanLocker

	// Logger receives write and retry logs (nop).
	Logger *zap.Logger

	// AllowDeleteSettledPlans permits deleting a plan that has settled
	// installments, destroying their settlement history (false).
	AllowDeleteSettledPlans bool

	// MaxConflictRetries bounds retries on ErrConcurrencyConflict (3).
	MaxConflictRetries int

	// RetryBaseDelay is the first retry delay; it doubles per attempt (10ms).
	RetryBaseDelay time.Duration
}

// Engine implements the plan manager, settlement, reconciliation and forecast
// operations over a TxStore.
type Engine struct {
	store  TxStore
	clock  Clock
	loc    *time.Location
	refs   ReferenceLookup
	locker PlanLocker
	logger *zap.Logger

	allowDeleteSettled bool
	maxRetries         int
	retryBaseDelay     time.Duration

	newID func() string
}

// New creates an engine over store.
func New(store TxStore, cfg Config) *Engine {
	e := &Engine{
		store:              store,
		clock:              cfg.Clock,
		loc:                cfg.Location,
		refs:               cfg.References,
		locker:             cfg.Locker,
		logger:             cfg.Logger,
		allowDeleteSettled: cfg.AllowDeleteSettledPlans,
		maxRetries:         cfg.MaxConflictRetries,
		retryBaseDelay:     cfg.RetryBaseDelay,
		newID:              uuid.NewString,
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.locker == nil {
		e.locker = NewKeyedLocker()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxConflictRetries
	}
	if e.retryBaseDelay <= 0 {
		e.retryBaseDelay = DefaultRetryBaseDelay
	}
	return e
}

// Today returns the current calendar day in the engine's reference zone.
func (e *Engine) Today() Date {
	return DateOf(e.clock.Now(), e.loc)
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Location returns the engine's reference zone.
func (e *Engine) Location() *time.Location { return e.loc }

// AuditTrail returns the audit entries recorded for a plan, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, planID PlanID, limit int) ([]AuditEntry, error) {
	return e.store.QueryAudit(ctx, AuditFilter{PlanID: &planID, Limit: limit})
}

func (e *Engine) audit(action AuditAction, planID PlanID, instID InstallmentID, payload map[string]any) AuditEntry {
	return AuditEntry{
		ID:            e.newID(),
		At:            e.clock.Now().UTC(),
		Action:        action,
		PlanID:        planID,
		InstallmentID: instID,
		Payload:       payload,
	}
}
