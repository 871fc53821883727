package reqcontext

import "context"

// ActorKey is the context key for the authenticated actor
const ActorKey ContextKey = "actor"

// Actor identifies the authenticated caller of a request. SessionID is
// kept alongside the user id so handlers that need the session's tokens
// (calendar scheduling, logout) can reach them without re-parsing the
// authorization header.
type Actor struct {
	UserID    string
	SessionID string
}

// WithActor adds the authenticated actor to the context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the authenticated actor from context. The zero
// Actor means the request never passed authentication.
func GetActor(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ActorKey).(Actor)
	return actor, ok && actor.UserID != ""
}
