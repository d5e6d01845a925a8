package shared

import (
	"context"

	"github.com/google/uuid"
)

// ActorKind distinguishes who is performing an operation.
type ActorKind string

const (
	// ActorSubject is a patient acting through the portal.
	ActorSubject ActorKind = "subject"
	// ActorStaff is a clinic staff member.
	ActorStaff ActorKind = "staff"
	// ActorPipeline is the external upload-processing pipeline.
	ActorPipeline ActorKind = "pipeline"
	// ActorSystem is the application itself (migrations, jobs).
	ActorSystem ActorKind = "system"
)

// Actor identifies the authenticated caller for authorization and audit.
type Actor struct {
	UserID    int64
	Kind      ActorKind
	SubjectID uuid.UUID // set only for subject actors
	IP        string
	UserAgent string
}

// IsZero reports whether the actor is unauthenticated.
func (a Actor) IsZero() bool {
	return a.UserID == 0 && a.Kind == ""
}

type sessionContextKey struct{}
type actorContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
