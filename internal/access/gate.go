// Package access implements the per-object authorization gate. Every
// consent or media operation passes through Gate.Guard, which decides,
// audit-logs the decision, and only then runs the guarded operation. Logging
// lives here once instead of at every call site, so coverage is structural
// rather than convention.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/observability"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Action classifies what the caller wants to do with the target.
type Action string

const (
	// ActionRead covers views, downloads and listings.
	ActionRead Action = "read"
	// ActionWrite covers creating and mutating records.
	ActionWrite Action = "write"
	// ActionTransition covers publication state transitions, which need the
	// publish scope even for staff who can already view the asset.
	ActionTransition Action = "transition"
)

// Target names the object a check applies to.
type Target struct {
	Kind           string // "media_asset", "consent_record", "subject"
	ID             string
	OwnerSubjectID uuid.UUID
}

// PermissionSource resolves a staff user's effective permission scopes.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Gate evaluates ownership and scope rules.
type Gate struct {
	perms   PermissionSource
	audit   *audit.Service
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewGate constructs the gate.
func NewGate(perms PermissionSource, auditSvc *audit.Service, logger *slog.Logger) *Gate {
	return &Gate{perms: perms, audit: auditSvc, logger: logger}
}

// SetMetrics wires the decision counter.
func (g *Gate) SetMetrics(m *observability.Metrics) {
	g.metrics = m
}

// Authorize checks whether the actor may perform action on target. The
// required permission applies to staff actors only; subjects are scoped by
// ownership and the pipeline by its dedicated token. Pass or fail, the check
// is appended to the audit log; if the append fails the operation fails too.
func (g *Gate) Authorize(ctx context.Context, actor shared.Actor, action Action, target Target, requiredPerm string) error {
	allowed, reason := g.decide(ctx, actor, action, target, requiredPerm)

	outcome := audit.OutcomeGranted
	if !allowed {
		outcome = audit.OutcomeDenied
	}
	if g.metrics != nil {
		g.metrics.AccessDecisions.WithLabelValues(string(outcome)).Inc()
	}
	_, err := g.audit.Append(ctx, audit.Entry{
		ActorID:    actor.UserID,
		ActorKind:  actor.Kind,
		SubjectID:  target.OwnerSubjectID,
		Action:     audit.ActionAccessCheck,
		TargetKind: target.Kind,
		TargetID:   target.ID,
		Outcome:    outcome,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
		Detail:     map[string]any{"action": string(action), "reason": reason},
	})
	if err != nil {
		return err
	}

	if !allowed {
		return fmt.Errorf("%w: %s", shared.ErrForbidden, reason)
	}
	return nil
}

// Guard authorizes and then runs the operation.
func (g *Gate) Guard(ctx context.Context, actor shared.Actor, action Action, target Target, requiredPerm string, op func(context.Context) error) error {
	if err := g.Authorize(ctx, actor, action, target, requiredPerm); err != nil {
		return err
	}
	return op(ctx)
}

func (g *Gate) decide(ctx context.Context, actor shared.Actor, action Action, target Target, requiredPerm string) (bool, string) {
	if actor.IsZero() {
		return false, "unauthenticated"
	}

	switch actor.Kind {
	case shared.ActorSubject:
		// Patients reach only their own records, and never publication
		// transitions.
		if action == ActionTransition {
			return false, "subjects cannot transition publication state"
		}
		if target.OwnerSubjectID == uuid.Nil || target.OwnerSubjectID != actor.SubjectID {
			return false, "subject does not own target"
		}
		return true, "owner"

	case shared.ActorPipeline:
		// The processing pipeline registers uploads and attaches variants,
		// nothing else.
		if action == ActionWrite && target.Kind == "media_asset" {
			return true, "pipeline write"
		}
		return false, "pipeline limited to media writes"

	case shared.ActorStaff:
		granted, err := g.perms.EffectivePermissions(ctx, actor.UserID)
		if err != nil {
			g.logger.Error("resolve staff permissions", slog.Any("error", err))
			return false, "permission lookup failed"
		}
		if requiredPerm == "" {
			return false, "no permission scope mapped"
		}
		for _, p := range granted {
			if p == requiredPerm {
				return true, "scope " + requiredPerm
			}
		}
		return false, "missing scope " + requiredPerm

	case shared.ActorSystem:
		return true, "system"

	default:
		return false, "unknown actor kind"
	}
}
