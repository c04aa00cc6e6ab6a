/*
concurrency.go - Per-plan write serialization

PURPOSE:
  Every write that touches a plan's installment set follows the same loop:

    1. read the plan (version v) and its installments
    2. compute the new installment set (pure, no I/O)
    3. in one store transaction: UpdatePlan CAS on v, then installment writes
    4. on ErrConcurrencyConflict: roll back, wait, go to 1 (bounded)

  Two recalculations on the same plan therefore never interleave their
  read-modify-write, and the exact-sum guarantee survives concurrent callers.
  Writes on different plans never contend.

LOCKING:
  A PlanLocker may serialize writers before step 1. The default KeyedLocker
  does so within one process; store/redislock does so across processes.
  The version check stays authoritative either way.
*/
package installments

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PLAN LOCKER
// =============================================================================

// PlanLocker acquires an exclusive lock for a key. The returned func releases it.
type PlanLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedLocker is an in-process PlanLocker with one mutex per key.
// Entries are removed when no holder or waiter remains.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		entry.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { k.release(key, entry) }, nil
	case <-ctx.Done():
		// The goroutine still gets the mutex eventually; hand it straight back.
		go func() {
			<-acquired
			k.release(key, entry)
		}()
		return nil, ctx.Err()
	}
}

func (k *KeyedLocker) release(key string, entry *keyedEntry) {
	entry.mu.Unlock()
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// =============================================================================
// READ / COMPUTE / COMMIT
// =============================================================================

// planState is a consistent read of one plan.
type planState struct {
	Plan         Plan
	Installments []Installment // ordered by number
}

func (s *planState) find(id InstallmentID) (Installment, bool) {
	for _, inst := range s.Installments {
		if inst.ID == id {
			return inst, true
		}
	}
	return Installment{}, false
}

// planChange is the computed effect of one operation.
type planChange struct {
	Plan       Plan // new plan content; committed against the version read
	Insert     []Installment
	Update     []Installment
	Delete     []InstallmentID
	DeletePlan bool
	Audit      []AuditEntry
}

func (e *Engine) loadPlanState(ctx context.Context, s Store, id PlanID) (*planState, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.InstallmentsByPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return &planState{Plan: *plan, Installments: items}, nil
}

// mutatePlan runs compute against a fresh read of the plan and commits the
// result against the version read, retrying on conflict. compute returning a
// nil change means nothing to write. The returned change carries the plan as
// committed (Version already advanced).
func (e *Engine) mutatePlan(
	ctx context.Context,
	planID PlanID,
	operation string,
	compute func(state *planState) (*planChange, error),
) (*planChange, *planState, error) {
	unlock, err := e.locker.Lock(ctx, "plan:"+string(planID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	log := e.logger.With(zap.String("operation", operation), zap.String("plan_id", string(planID)))

	for attempt := 0; ; attempt++ {
		state, err := e.loadPlanState(ctx, e.store, planID)
		if err != nil {
			return nil, nil, err
		}

		change, err := compute(state)
		if err != nil {
			return nil, nil, err
		}
		if change == nil {
			return nil, state, nil
		}

		err = e.store.WithTx(ctx, func(s Store) error {
			return applyChange(ctx, s, state.Plan.Version, change)
		})
		if err == nil {
			if !change.DeletePlan {
				change.Plan.Version = state.Plan.Version + 1
			}
			log.Info("plan write committed",
				zap.Int64("version", change.Plan.Version),
				zap.Int("inserted", len(change.Insert)),
				zap.Int("updated", len(change.Update)),
				zap.Int("deleted", len(change.Delete)),
				zap.Bool("plan_deleted", change.DeletePlan),
			)
			return change, state, nil
		}

		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= e.maxRetries {
			if errors.Is(err, ErrConcurrencyConflict) {
				log.Warn("giving up after version conflicts", zap.Int("attempts", attempt+1))
			}
			return nil, nil, err
		}

		delay := e.retryDelay(attempt)
		log.Warn("plan version conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int64("read_version", state.Plan.Version),
			zap.Duration("delay", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, nil, err
		}
	}
}

// applyChange writes a change inside a store transaction. The plan row is
// written first so a stale version aborts before any installment is touched.
func applyChange(ctx context.Context, s Store, readVersion int64, change *planChange) error {
	if change.DeletePlan {
		if err := s.DeletePlan(ctx, change.Plan.ID, readVersion); err != nil {
			return err
		}
	} else {
		p := change.Plan
		p.Version = readVersion
		if err := s.UpdatePlan(ctx, p); err != nil {
			return err
		}
		if len(change.Delete) > 0 {
			if err := s.DeleteInstallments(ctx, change.Delete...); err != nil {
				return err
			}
		}
		if len(change.Update) > 0 {
			if err := s.UpdateInstallments(ctx, change.Update); err != nil {
				return err
			}
		}
		if len(change.Insert) > 0 {
			if err := s.InsertInstallments(ctx, change.Insert); err != nil {
				return err
			}
		}
	}
	for _, entry := range change.Audit {
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// retryDelay is base * 2^attempt, capped at one second.
func (e *Engine) retryDelay(attempt int) time.Duration {
	d := e.retryBaseDelay << attempt
	if d <= 0 || d > time.Second {
		return time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// diffInstallments turns a before/after pair of installment sets into writes.
func diffInstallments(before, after []Installment) (insert, update []Installment, remove []InstallmentID) {
	prev := make(map[InstallmentID]Installment, len(before))
	for _, inst := range before {
		prev[inst.ID] = inst
	}
	kept := make(map[InstallmentID]bool, len(after))
	for _, inst := range after {
		kept[inst.ID] = true
		old, ok := prev[inst.ID]
		switch {
		case !ok:
			insert = append(insert, inst)
		case !old.sameAs(inst):
			update = append(update, inst)
		}
	}
	for _, inst := range before {
		if !kept[inst.ID] {
			remove = append(remove, inst.ID)
		}
	}
	return insert, update, remove
}
