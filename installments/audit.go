package installments

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Separate from plan rows, tracks what changed when
// =============================================================================

type AuditAction string

const (
	AuditPlanCreated        AuditAction = "plan_created"
	AuditPlanUpdated        AuditAction = "plan_updated"
	AuditPlanDeleted        AuditAction = "plan_deleted"
	AuditPlanTotalSynced    AuditAction = "plan_total_synced"
	AuditInstallmentSettled AuditAction = "installment_settled"
	AuditInstallmentUpdated AuditAction = "installment_updated"
	AuditInstallmentDeleted AuditAction = "installment_deleted"
)

// AuditEntry records one committed engine write. Entries outlive their plan.
type AuditEntry struct {
	ID            string
	At            time.Time
	Action        AuditAction
	PlanID        PlanID
	InstallmentID InstallmentID  // empty for plan-level actions
	Payload       map[string]any // action-specific data
}

type AuditFilter struct {
	PlanID  *PlanID
	Actions []AuditAction
	Limit   int
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
