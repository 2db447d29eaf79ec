package auth

import "context"

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleVendor   Role = "vendor"
	RoleDriver   Role = "driver"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

// Actor is the verified identity a request arrives with. For vendors the ID is
// the store id they act for.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is used by background policies such as escrow auto-release.
var System = Actor{ID: "system", Role: RoleSystem}

func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Privileged reports whether the actor may act on behalf of the platform.
func (a Actor) Privileged() bool { return a.Is(RoleOperator, RoleSystem) }

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok && a.ID != ""
}
