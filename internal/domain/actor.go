package domain

// Actor roles recognized by the billing core.
const (
	RoleParent = "parent"
	RoleOwner  = "owner"
)

// Actor is the authenticated principal behind a request, as established by
// the bearer-credential boundary. Credential validation itself is owned by
// the identity provider; the core only consumes the resulting identity.
type Actor struct {
	ID string

	// Role is one of RoleParent or RoleOwner.
	Role string

	// StudioID is set for studio owners and scopes their authority.
	StudioID string
}

// OwnsStudio reports whether the actor holds the owner capability for the
// given studio.
func (a *Actor) OwnsStudio(studioID string) bool {
	return a != nil && a.Role == RoleOwner && a.StudioID == studioID
}
