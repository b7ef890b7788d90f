package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verilians/VeriPharm-sub000/internal/infra"
	"github.com/verilians/VeriPharm-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmailWorker sends audit completion summaries to the branch manager.
// Purely informational: any failure is logged and the job dropped.
type EmailWorker struct {
	mailer   *infra.Mailer
	audits   repository.AuditRepository
	branches repository.BranchRepository
}

func NewEmailWorker(mailer *infra.Mailer, audits repository.AuditRepository, branches repository.BranchRepository) *EmailWorker {
	return &EmailWorker{mailer: mailer, audits: audits, branches: branches}
}

func (w *EmailWorker) Process(ctx context.Context, payload json.RawMessage) {
	var p AuditEmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Msg("invalid audit email payload")
		return
	}
	if !w.mailer.Enabled() {
		log.Debug().Str("audit_id", p.AuditID).Msg("SMTP not configured, skipping audit email")
		return
	}
	auditID, err := uuid.Parse(p.AuditID)
	if err != nil {
		log.Error().Err(err).Str("audit_id", p.AuditID).Msg("invalid audit id in email payload")
		return
	}

	audit, err := w.audits.FindByIDWithItems(ctx, auditID)
	if err != nil {
		log.Error().Err(err).Str("audit_id", p.AuditID).Msg("failed to load audit for email")
		return
	}
	branch, err := w.branches.FindByID(ctx, audit.BranchID)
	if err != nil {
		log.Error().Err(err).Str("branch_id", audit.BranchID.String()).Msg("failed to load branch for email")
		return
	}
	if branch.ManagerEmail == nil || *branch.ManagerEmail == "" {
		log.Debug().Str("branch_id", branch.ID.String()).Msg("branch has no manager email, skipping")
		return
	}

	subject := fmt.Sprintf("Stock audit completed - %s", branch.Name)
	if p.Degraded {
		subject = fmt.Sprintf("Stock audit completed with warnings - %s", branch.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stock audit %s for branch %s has been completed.\n\n", audit.ID, branch.Name)
	fmt.Fprintf(&b, "Items audited: %d\n", audit.TotalItemsAudited)
	fmt.Fprintf(&b, "Total variance: %d units\n", audit.TotalVariance)
	fmt.Fprintf(&b, "Estimated value impact: %s\n", audit.EstimatedValueImpact.StringFixed(2))
	if p.Degraded {
		b.WriteString("\nWarning: inventory was updated but some correction records could not be confirmed. They will be retried automatically; review the audit in the dashboard.\n")
	}

	if err := w.mailer.Send(*branch.ManagerEmail, subject, b.String()); err != nil {
		log.Error().Err(err).Str("audit_id", p.AuditID).Str("to", *branch.ManagerEmail).Msg("failed to send audit email")
		return
	}
	log.Info().Str("audit_id", p.AuditID).Str("to", *branch.ManagerEmail).Msg("audit summary email sent")
}
