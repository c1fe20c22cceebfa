// Package identity models who is acting on a request: the principal the
// request is performed as, and, while a superadmin impersonates another user,
// the suspended principal behind it.
package identity

import (
	"context"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/model"

	"github.com/google/uuid"
)

// Principal is an authenticated user as seen by the authorization layer
type Principal struct {
	ID       uuid.UUID `json:"id"`
	Role     string    `json:"role"`
	Username string    `json:"username"`
}

// Frame captures the true principal for the duration of an impersonation.
// SessionID names the server-side session the frame belongs to.
type Frame struct {
	Original  Principal `json:"original"`
	StartedAt time.Time `json:"started_at"`
	SessionID uuid.UUID `json:"session_id"`
}

// Context is the acting identity of a single request. At most one frame is
// ever held, so impersonation cannot nest.
type Context struct {
	Actor Principal
	Frame *Frame
	// Origin is the client network address, recorded on audit entries
	Origin string
}

func New(actor Principal) Context {
	return Context{Actor: actor}
}

func (c Context) Impersonating() bool {
	return c.Frame != nil
}

// TrueActor is the authenticated principal behind the request
func (c Context) TrueActor() Principal {
	if c.Frame != nil {
		return c.Frame.Original
	}
	return c.Actor
}

// WithOrigin returns a copy of the context carrying the client address
func (c Context) WithOrigin(origin string) Context {
	c.Origin = origin
	return c
}

// Start suspends the current principal and makes target the acting identity.
func (c Context) Start(target Principal, now time.Time) (Context, error) {
	if c.Impersonating() {
		return c, ierr.NewError("impersonation already active").
			WithHint("Stop the current impersonation before starting another").
			WithReportableDetails(map[string]any{
				"impersonating": c.Actor.ID,
			}).
			Mark(ierr.ErrIllegalTransition)
	}
	if c.Actor.Role != model.RoleSuperadmin {
		return c, ierr.NewError("only superadmin may impersonate").
			WithHint("Only a superadmin can impersonate other users").
			WithReportableDetails(map[string]any{
				"required_roles": []string{model.RoleSuperadmin},
			}).
			Mark(ierr.ErrForbidden)
	}
	if target.ID == c.Actor.ID {
		return c, ierr.NewError("cannot impersonate self").
			WithHint("You cannot impersonate yourself").
			Mark(ierr.ErrValidation)
	}

	return Context{
		Actor:  target,
		Frame:  &Frame{Original: c.Actor, StartedAt: now},
		Origin: c.Origin,
	}, nil
}

// Stop restores the principal captured by Start.
func (c Context) Stop() (Context, error) {
	if !c.Impersonating() {
		return c, ierr.NewError("no impersonation active").
			WithHint("You are not impersonating anyone").
			Mark(ierr.ErrIllegalTransition)
	}
	return Context{Actor: c.Frame.Original, Origin: c.Origin}, nil
}

type ctxKey struct{}

func WithContext(ctx context.Context, idc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, idc)
}

func FromContext(ctx context.Context) (Context, bool) {
	idc, ok := ctx.Value(ctxKey{}).(Context)
	return idc, ok
}
