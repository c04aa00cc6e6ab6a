/*
Package sqlite provides a SQLite-backed implementation of the installments storage interfaces.

PURPOSE:
  Implements installments.TxStore (plans, installments, audit trail) and
  installments.ReferenceLookup (categories, cards) using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  plans:          Declared obligations, one row per plan, versioned
  installments:   Scheduled slices; ON DELETE CASCADE from plans
  audit_entries:  Append-only trail of engine writes (no FK, outlives plans)
  categories:     Reference data checked on plan writes
  cards:          Reference data checked on plan writes

STORAGE FORMATS:
  - Money is stored as INTEGER minor units, never REAL
  - Dates are "YYYY-MM-DD" TEXT, so lexical order is calendar order
  - Timestamps are RFC3339Nano TEXT in UTC

OPTIMISTIC VERSIONING:
  UpdatePlan and DeletePlan carry "WHERE version = ?". Zero rows affected on
  an existing plan means another writer committed first:
  installments.ErrConcurrencyConflict.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases are shared and a transaction sees its own writes. In production
  with PostgreSQL, database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/installments.db", sqlite.WithLogger(logger))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := installments.New(store, installments.Config{References: store})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - installments/store.go: Interface definitions
  - installments/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/installment-engine/installments"
	"github.com/warp/installment-engine/money"
)

var (
	_ installments.TxStore         = (*Store)(nil)
	_ installments.ReferenceLookup = (*Store)(nil)
	_ installments.Store           = (*queries)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Info("sqlite store ready", zap.String("path", dbPath))
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		type TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		category_id TEXT,
		card_id TEXT,
		total_amount INTEGER NOT NULL,
		installment_count INTEGER NOT NULL,
		interval_months INTEGER NOT NULL,
		first_due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_first_due
		ON plans(first_due_date, id);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		description TEXT NOT NULL,
		type TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'settled', 'canceled')),
		paid_amount INTEGER,
		paid_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (plan_id, number)
	);

	-- Hot path: list/forecast by due date
	CREATE INDEX IF NOT EXISTS idx_installments_due
		ON installments(due_date, plan_id, number);
	CREATE INDEX IF NOT EXISTS idx_installments_status_due
		ON installments(status, due_date);

	-- Audit trail survives plan deletion: no foreign key
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		action TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		installment_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_plan
		ON audit_entries(plan_id, seq);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIER - shared by the store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements installments.Store over a querier. Callers hold Store.mu.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// STORE INTERFACE (locked entry points)
// =============================================================================

func (s *Store) direct() *queries { return &queries{q: s.db} }

func (s *Store) GetPlan(ctx context.Context, id installments.PlanID) (*installments.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetPlan(ctx, id)
}

func (s *Store) ListPlans(ctx context.Context, q installments.PlanQuery) ([]installments.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListPlans(ctx, q)
}

func (s *Store) InsertPlan(ctx context.Context, p installments.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertPlan(ctx, p)
}

func (s *Store) UpdatePlan(ctx context.Context, p installments.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdatePlan(ctx, p)
}

func (s *Store) DeletePlan(ctx context.Context, id installments.PlanID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeletePlan(ctx, id, version)
}

func (s *Store) GetInstallment(ctx context.Context, id installments.InstallmentID) (*installments.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetInstallment(ctx, id)
}

func (s *Store) ListInstallments(ctx context.Context, q installments.InstallmentQuery) ([]installments.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListInstallments(ctx, q)
}

func (s *Store) InstallmentsByPlan(ctx context.Context, planID installments.PlanID) ([]installments.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().InstallmentsByPlan(ctx, planID)
}

func (s *Store) InsertInstallments(ctx context.Context, items []installments.Installment) error {
	return s.WithTx(ctx, func(tx installments.Store) error { return tx.InsertInstallments(ctx, items) })
}

func (s *Store) UpdateInstallments(ctx context.Context, items []installments.Installment) error {
	return s.WithTx(ctx, func(tx installments.Store) error { return tx.UpdateInstallments(ctx, items) })
}

func (s *Store) DeleteInstallments(ctx context.Context, ids ...installments.InstallmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteInstallments(ctx, ids...)
}

func (s *Store) AppendAudit(ctx context.Context, entry installments.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AppendAudit(ctx, entry)
}

func (s *Store) QueryAudit(ctx context.Context, filter installments.AuditFilter) ([]installments.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().QueryAudit(ctx, filter)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction. Reads made
// through the given Store see the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(store installments.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// PLANS
// =============================================================================

const planColumns = `id, description, type, payment_type, category_id, card_id, total_amount,
	installment_count, interval_months, first_due_date, status, notes, version, created_at, updated_at`

func (x *queries) GetPlan(ctx context.Context, id installments.PlanID) (*installments.Plan, error) {
	row := x.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, string(id))
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, installments.PlanNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

func (x *queries) ListPlans(ctx context.Context, q installments.PlanQuery) ([]installments.Plan, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != nil {
		where = append(where, "p.type = ?")
		args = append(args, string(*q.Type))
	}
	if q.From != nil || q.To != nil {
		sub := "EXISTS (SELECT 1 FROM installments i WHERE i.plan_id = p.id"
		if q.From != nil {
			sub += " AND i.due_date >= ?"
			args = append(args, q.From.String())
		}
		if q.To != nil {
			sub += " AND i.due_date <= ?"
			args = append(args, q.To.String())
		}
		where = append(where, sub+")")
	}

	query := `SELECT ` + prefixed("p.", planColumns) + ` FROM plans p`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.first_due_date, p.id"
	query, args = withPage(query, args, q.Page)

	rows, err := x.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var result []installments.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (x *queries) InsertPlan(ctx context.Context, p installments.Plan) error {
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(p.ID), p.Description, string(p.Type), string(p.PaymentType),
		nullable(p.CategoryID), nullable(p.CardID), p.TotalAmount.Minor(),
		p.InstallmentCount, p.IntervalMonths, p.FirstDueDate.String(), string(p.Status),
		nullable(p.Notes), p.Version, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (x *queries) UpdatePlan(ctx context.Context, p installments.Plan) error {
	res, err := x.q.ExecContext(ctx, `
		UPDATE plans SET
			description = ?, type = ?, payment_type = ?, category_id = ?, card_id = ?,
			total_amount = ?, installment_count = ?, interval_months = ?, first_due_date = ?,
			status = ?, notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		p.Description, string(p.Type), string(p.PaymentType), nullable(p.CategoryID), nullable(p.CardID),
		p.TotalAmount.Minor(), p.InstallmentCount, p.IntervalMonths, p.FirstDueDate.String(),
		string(p.Status), nullable(p.Notes), formatTime(p.UpdatedAt),
		string(p.ID), p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return x.checkVersioned(ctx, res, p.ID)
}

func (x *queries) DeletePlan(ctx context.Context, id installments.PlanID, version int64) error {
	res, err := x.q.ExecContext(ctx, `DELETE FROM plans WHERE id = ? AND version = ?`, string(id), version)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	return x.checkVersioned(ctx, res, id)
}

// checkVersioned tells a stale version from a missing plan after a
// version-guarded write touched no row.
func (x *queries) checkVersioned(ctx context.Context, res sql.Result, id installments.PlanID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = x.q.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE id = ?`, string(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return installments.PlanNotFound(id)
	}
	if err != nil {
		return err
	}
	return installments.ErrConcurrencyConflict
}

func scanPlan(row scanner) (installments.Plan, error) {
	var (
		p                          installments.Plan
		id, typ, payType, status   string
		category, card, notes      sql.NullString
		total                      int64
		firstDue, created, updated string
	)
	err := row.Scan(&id, &p.Description, &typ, &payType, &category, &card, &total,
		&p.InstallmentCount, &p.IntervalMonths, &firstDue, &status, &notes, &p.Version,
		&created, &updated)
	if err != nil {
		return p, err
	}

	p.ID = installments.PlanID(id)
	p.Type = installments.TransactionType(typ)
	p.PaymentType = installments.PaymentType(payType)
	p.Status = installments.PlanStatus(status)
	p.CategoryID = fromNullable(category)
	p.CardID = fromNullable(card)
	p.Notes = fromNullable(notes)
	p.TotalAmount = money.FromMinor(total)
	if p.FirstDueDate, err = installments.ParseDate(firstDue); err != nil {
		return p, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return p, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, plan_id, number, description, type, payment_type, amount, due_date,
	status, paid_amount, paid_at, created_at, updated_at`

func (x *queries) GetInstallment(ctx context.Context, id installments.InstallmentID) (*installments.Installment, error) {
	row := x.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, string(id))
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, installments.InstallmentNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return &inst, nil
}

func (x *queries) ListInstallments(ctx context.Context, q installments.InstallmentQuery) ([]installments.Installment, error) {
	var (
		where []string
		args  []any
	)
	if q.PlanID != nil {
		where = append(where, "plan_id = ?")
		args = append(args, string(*q.PlanID))
	}
	if q.From != nil {
		where = append(where, "due_date >= ?")
		args = append(args, q.From.String())
	}
	if q.To != nil {
		where = append(where, "due_date <= ?")
		args = append(args, q.To.String())
	}
	if q.DueBefore != nil {
		where = append(where, "due_date < ?")
		args = append(args, q.DueBefore.String())
	}
	if q.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*q.Type))
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + installmentColumns + ` FROM installments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_date, plan_id, number"
	query, args = withPage(query, args, q.Page)

	return x.queryInstallments(ctx, query, args...)
}

func (x *queries) InstallmentsByPlan(ctx context.Context, planID installments.PlanID) ([]installments.Installment, error) {
	return x.queryInstallments(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE plan_id = ? ORDER BY number`,
		string(planID))
}

func (x *queries) queryInstallments(ctx context.Context, query string, args ...any) ([]installments.Installment, error) {
	rows, err := x.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var result []installments.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (x *queries) InsertInstallments(ctx context.Context, items []installments.Installment) error {
	for _, inst := range items {
		_, err := x.q.ExecContext(ctx, `
			INSERT INTO installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(inst.ID), string(inst.PlanID), inst.Number, inst.Description, string(inst.Type),
			string(inst.PaymentType), inst.Amount.Minor(), inst.DueDate.String(), string(inst.Status),
			nullableMoney(inst.PaidAmount), nullableTime(inst.PaidAt),
			formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

func (x *queries) UpdateInstallments(ctx context.Context, items []installments.Installment) error {
	for _, inst := range items {
		res, err := x.q.ExecContext(ctx, `
			UPDATE installments SET
				description = ?, type = ?, payment_type = ?, amount = ?, due_date = ?,
				status = ?, paid_amount = ?, paid_at = ?, updated_at = ?
			WHERE id = ?
		`,
			inst.Description, string(inst.Type), string(inst.PaymentType), inst.Amount.Minor(),
			inst.DueDate.String(), string(inst.Status), nullableMoney(inst.PaidAmount),
			nullableTime(inst.PaidAt), formatTime(inst.UpdatedAt), string(inst.ID),
		)
		if err != nil {
			return fmt.Errorf("failed to update installment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return installments.InstallmentNotFound(inst.ID)
		}
	}
	return nil
}

func (x *queries) DeleteInstallments(ctx context.Context, ids ...installments.InstallmentID) error {
	for _, id := range ids {
		if _, err := x.q.ExecContext(ctx, `DELETE FROM installments WHERE id = ?`, string(id)); err != nil {
			return fmt.Errorf("failed to delete installment: %w", err)
		}
	}
	return nil
}

func scanInstallment(row scanner) (installments.Installment, error) {
	var (
		inst                         installments.Installment
		id, planID, typ, payType, st string
		amount                       int64
		due, created, updated        string
		paidAmount                   sql.NullInt64
		paidAt                       sql.NullString
	)
	err := row.Scan(&id, &planID, &inst.Number, &inst.Description, &typ, &payType, &amount,
		&due, &st, &paidAmount, &paidAt, &created, &updated)
	if err != nil {
		return inst, err
	}

	inst.ID = installments.InstallmentID(id)
	inst.PlanID = installments.PlanID(planID)
	inst.Type = installments.TransactionType(typ)
	inst.PaymentType = installments.PaymentType(payType)
	inst.Status = installments.StoredStatus(st)
	inst.Amount = money.FromMinor(amount)
	if inst.DueDate, err = installments.ParseDate(due); err != nil {
		return inst, err
	}
	if paidAmount.Valid {
		m := money.FromMinor(paidAmount.Int64)
		inst.PaidAmount = &m
	}
	if paidAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, paidAt.String)
		if err != nil {
			return inst, fmt.Errorf("invalid paid_at %q: %w", paidAt.String, err)
		}
		inst.PaidAt = &t
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return inst, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (x *queries) AppendAudit(ctx context.Context, entry installments.AuditEntry) error {
	var payload sql.NullString
	if entry.Payload != nil {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, at, action, plan_id, installment_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, formatTime(entry.At), string(entry.Action), string(entry.PlanID),
		nullString(string(entry.InstallmentID)), payload)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (x *queries) QueryAudit(ctx context.Context, filter installments.AuditFilter) ([]installments.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.PlanID != nil {
		where = append(where, "plan_id = ?")
		args = append(args, string(*filter.PlanID))
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT id, at, action, plan_id, installment_id, payload_json FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	query, args = withPage(query, args, installments.Page{Limit: filter.Limit})

	rows, err := x.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var result []installments.AuditEntry
	for rows.Next() {
		var (
			e                   installments.AuditEntry
			at, action, planID  string
			instID, payloadJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &action, &planID, &instID, &payloadJSON); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Action = installments.AuditAction(action)
		e.PlanID = installments.PlanID(planID)
		e.InstallmentID = installments.InstallmentID(instID.String)
		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// SaveCategory creates or renames a category.
func (s *Store) SaveCategory(ctx context.Context, id, name string) error {
	return s.saveReference(ctx, "categories", id, name)
}

// SaveCard creates or renames a card.
func (s *Store) SaveCard(ctx context.Context, id, name string) error {
	return s.saveReference(ctx, "cards", id, name)
}

func (s *Store) CategoryExists(ctx context.Context, id string) (bool, error) {
	return s.referenceExists(ctx, "categories", id)
}

func (s *Store) CardExists(ctx context.Context, id string) (bool, error) {
	return s.referenceExists(ctx, "cards", id)
}

func (s *Store) saveReference(ctx context.Context, table, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", table, err)
	}
	return nil
}

func (s *Store) referenceExists(ctx context.Context, table, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", table, err)
	}
	return true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func withPage(query string, args []any, page installments.Page) (string, []any) {
	if page.Limit <= 0 && page.Offset <= 0 {
		return query, args
	}
	limit := page.Limit
	if limit <= 0 {
		limit = -1
	}
	return query + " LIMIT ? OFFSET ?", append(args, limit, page.Offset)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableMoney(m *money.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Minor(), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
