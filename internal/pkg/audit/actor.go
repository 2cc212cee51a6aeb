package audit

import (
	"context"

	"github.com/nestgold/nestgold/app/models"
)

// Actor identifies who caused a change.
type Actor struct {
	Type      string
	ID        string
	RequestID string
}

// SystemActor is used when no request context carries an actor.
var SystemActor = Actor{Type: models.ActorTypeSystem}

type actorKey struct{}

// WithActor attaches the acting party to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	if a.Type == "" {
		a.Type = models.ActorTypeSystem
	}
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor, or SystemActor.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return SystemActor
	}
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return SystemActor
}
