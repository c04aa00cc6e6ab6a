// Package store provides in-memory installments.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/installment-engine/installments"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ installments.TxStore = (*Memory)(nil)

// Memory is a TxStore backed by maps. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// memState holds the rows. Its methods assume the caller holds Memory.mu.
type memState struct {
	plans        map[installments.PlanID]installments.Plan
	installments map[installments.InstallmentID]installments.Installment
	byPlan       map[installments.PlanID]map[installments.InstallmentID]bool
	audit        []installments.AuditEntry
}

func newMemState() *memState {
	return &memState{
		plans:        make(map[installments.PlanID]installments.Plan),
		installments: make(map[installments.InstallmentID]installments.Installment),
		byPlan:       make(map[installments.PlanID]map[installments.InstallmentID]bool),
	}
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) GetPlan(ctx context.Context, id installments.PlanID) (*installments.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPlan(ctx, id)
}

func (m *Memory) ListPlans(ctx context.Context, q installments.PlanQuery) ([]installments.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPlans(ctx, q)
}

func (m *Memory) InsertPlan(ctx context.Context, p installments.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertPlan(ctx, p)
}

func (m *Memory) UpdatePlan(ctx context.Context, p installments.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdatePlan(ctx, p)
}

func (m *Memory) DeletePlan(ctx context.Context, id installments.PlanID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeletePlan(ctx, id, version)
}

func (m *Memory) GetInstallment(ctx context.Context, id installments.InstallmentID) (*installments.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetInstallment(ctx, id)
}

func (m *Memory) ListInstallments(ctx context.Context, q installments.InstallmentQuery) ([]installments.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListInstallments(ctx, q)
}

func (m *Memory) InstallmentsByPlan(ctx context.Context, planID installments.PlanID) ([]installments.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.InstallmentsByPlan(ctx, planID)
}

func (m *Memory) InsertInstallments(ctx context.Context, items []installments.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomically(func(s *memState) error { return s.InsertInstallments(ctx, items) })
}

func (m *Memory) UpdateInstallments(ctx context.Context, items []installments.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomically(func(s *memState) error { return s.UpdateInstallments(ctx, items) })
}

func (m *Memory) DeleteInstallments(ctx context.Context, ids ...installments.InstallmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteInstallments(ctx, ids...)
}

func (m *Memory) AppendAudit(ctx context.Context, entry installments.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter installments.AuditFilter) ([]installments.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.QueryAudit(ctx, filter)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn.
func (m *Memory) WithTx(_ context.Context, fn func(installments.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomically(func(s *memState) error { return fn(s) })
}

func (m *Memory) atomically(fn func(*memState) error) error {
	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = v
	}
	for k, ids := range s.byPlan {
		set := make(map[installments.InstallmentID]bool, len(ids))
		for id := range ids {
			set[id] = true
		}
		c.byPlan[k] = set
	}
	c.audit = append([]installments.AuditEntry(nil), s.audit...)
	return c
}

// =============================================================================
// PLANS
// =============================================================================

func (s *memState) GetPlan(_ context.Context, id installments.PlanID) (*installments.Plan, error) {
	p, ok := s.plans[id]
	if !ok {
		return nil, installments.PlanNotFound(id)
	}
	return &p, nil
}

func (s *memState) ListPlans(_ context.Context, q installments.PlanQuery) ([]installments.Plan, error) {
	var result []installments.Plan
	for _, p := range s.plans {
		if q.Type != nil && p.Type != *q.Type {
			continue
		}
		if (q.From != nil || q.To != nil) && !s.hasDueBetween(p.ID, q.From, q.To) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.FirstDueDate.Equal(b.FirstDueDate) {
			return a.FirstDueDate.Before(b.FirstDueDate)
		}
		return a.ID < b.ID
	})
	return paginate(result, q.Page), nil
}

func (s *memState) hasDueBetween(planID installments.PlanID, from, to *installments.Date) bool {
	for id := range s.byPlan[planID] {
		inst := s.installments[id]
		if from != nil && inst.DueDate.Before(*from) {
			continue
		}
		if to != nil && inst.DueDate.After(*to) {
			continue
		}
		return true
	}
	return false
}

func (s *memState) InsertPlan(_ context.Context, p installments.Plan) error {
	if _, exists := s.plans[p.ID]; exists {
		return installments.ErrConcurrencyConflict
	}
	s.plans[p.ID] = p
	s.byPlan[p.ID] = make(map[installments.InstallmentID]bool)
	return nil
}

func (s *memState) UpdatePlan(_ context.Context, p installments.Plan) error {
	stored, ok := s.plans[p.ID]
	if !ok {
		return installments.PlanNotFound(p.ID)
	}
	if stored.Version != p.Version {
		return installments.ErrConcurrencyConflict
	}
	p.Version++
	s.plans[p.ID] = p
	return nil
}

func (s *memState) DeletePlan(_ context.Context, id installments.PlanID, version int64) error {
	stored, ok := s.plans[id]
	if !ok {
		return installments.PlanNotFound(id)
	}
	if stored.Version != version {
		return installments.ErrConcurrencyConflict
	}
	for instID := range s.byPlan[id] {
		delete(s.installments, instID)
	}
	delete(s.byPlan, id)
	delete(s.plans, id)
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (s *memState) GetInstallment(_ context.Context, id installments.InstallmentID) (*installments.Installment, error) {
	inst, ok := s.installments[id]
	if !ok {
		return nil, installments.InstallmentNotFound(id)
	}
	return &inst, nil
}

func (s *memState) ListInstallments(_ context.Context, q installments.InstallmentQuery) ([]installments.Installment, error) {
	var result []installments.Installment
	for _, inst := range s.installments {
		if matches(inst, q) {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.PlanID != b.PlanID {
			return a.PlanID < b.PlanID
		}
		return a.Number < b.Number
	})
	return paginate(result, q.Page), nil
}

func matches(inst installments.Installment, q installments.InstallmentQuery) bool {
	if q.PlanID != nil && inst.PlanID != *q.PlanID {
		return false
	}
	if q.From != nil && inst.DueDate.Before(*q.From) {
		return false
	}
	if q.To != nil && inst.DueDate.After(*q.To) {
		return false
	}
	if q.DueBefore != nil && !inst.DueDate.Before(*q.DueBefore) {
		return false
	}
	if q.Type != nil && inst.Type != *q.Type {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, st := range q.Statuses {
			if inst.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *memState) InstallmentsByPlan(_ context.Context, planID installments.PlanID) ([]installments.Installment, error) {
	result := make([]installments.Installment, 0, len(s.byPlan[planID]))
	for id := range s.byPlan[planID] {
		result = append(result, s.installments[id])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (s *memState) InsertInstallments(_ context.Context, items []installments.Installment) error {
	for _, inst := range items {
		if _, ok := s.plans[inst.PlanID]; !ok {
			return installments.PlanNotFound(inst.PlanID)
		}
		if _, exists := s.installments[inst.ID]; exists {
			return installments.ErrConcurrencyConflict
		}
		s.installments[inst.ID] = inst
		s.byPlan[inst.PlanID][inst.ID] = true
	}
	return nil
}

func (s *memState) UpdateInstallments(_ context.Context, items []installments.Installment) error {
	for _, inst := range items {
		if _, ok := s.installments[inst.ID]; !ok {
			return installments.InstallmentNotFound(inst.ID)
		}
		s.installments[inst.ID] = inst
	}
	return nil
}

func (s *memState) DeleteInstallments(_ context.Context, ids ...installments.InstallmentID) error {
	for _, id := range ids {
		inst, ok := s.installments[id]
		if !ok {
			continue
		}
		delete(s.byPlan[inst.PlanID], id)
		delete(s.installments, id)
	}
	return nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *memState) AppendAudit(_ context.Context, entry installments.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memState) QueryAudit(_ context.Context, filter installments.AuditFilter) ([]installments.AuditEntry, error) {
	var result []installments.AuditEntry
	for _, entry := range s.audit {
		if filter.PlanID != nil && entry.PlanID != *filter.PlanID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, entry.Action) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func containsAction(actions []installments.AuditAction, a installments.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page installments.Page) []T {
	if page.Offset > 0 {
		if page.Offset >= len(items) {
			return nil
		}
		items = items[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
