package model

import (
	"context"
	"errors"
	"fmt"
)

// SystemActorID marks records created by the engine itself rather than an
// authenticated operator (e.g. scheduled retry sweeps).
const SystemActorID = "system"

// Actor carries the already-resolved identity of the user (or scheduler)
// performing a transition or retry. It is immutable after construction and
// safe for concurrent reads. The engine never resolves authentication
// itself; the transport layer populates an Actor from verified claims.
type Actor struct {
	ID            string
	Email         string
	Role          string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string

	// Credential is the actor's own bearer credential, substituted when an
	// action config requests "__self__" as its auth token. Never persisted.
	Credential string `json:"-"`
}

// Validate checks that the mandatory identity fields are present.
func (a *Actor) Validate() error {
	var errs []error
	if a.ID == "" {
		errs = append(errs, fmt.Errorf("actor ID is required"))
	}
	if a.Role == "" {
		errs = append(errs, fmt.Errorf("actor role is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the actor holds the given role, either as the
// primary acting role or among the secondary roles.
func (a *Actor) HasRole(role string) bool {
	if a.Role == role {
		return true
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SystemActor returns the actor identity used for engine-initiated work.
func SystemActor() *Actor {
	return &Actor{ID: SystemActorID, Role: SystemActorID}
}

type actorKey struct{}

// WithActor attaches an Actor to the given context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom extracts the Actor from the context, or returns nil if absent.
func ActorFrom(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey{}).(*Actor)
	return actor
}

// MustActor extracts the Actor from the context, panicking if it is not
// present. Safe to call in handlers guaranteed to run behind the
// authentication middleware.
func MustActor(ctx context.Context) *Actor {
	actor := ActorFrom(ctx)
	if actor == nil {
		panic("model: Actor not found in context")
	}
	return actor
}
