// Package caller contains the domain type produced by authentication and
// consumed by every downstream pipeline stage.
package caller

// Context is the immutable result of authenticating one request. It is
// created once by the authenticator and never mutated downstream.
type Context struct {
	// ConsumerID is the billing/audit subject behind the credential.
	ConsumerID string
	// CredentialID identifies which credential resolved this context.
	CredentialID string
	// Roles are the free-form role labels used to select policies. A role of
	// "*" in a policy matches any caller.
	Roles []string
	// RateOverride, when non-nil, overrides the configured default rate
	// limit for this caller.
	RateOverride *int
	// Email is the caller's email address, when known (signed-token modes).
	Email string
	// Metadata carries opaque caller attributes. The authenticator does not
	// populate it: neither credential records nor token claims are copied
	// into it.
	Metadata map[string]string
}

// HasRole reports whether the context carries the given role, or the
// wildcard role "*".
func (c *Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role || r == "*" {
			return true
		}
	}
	return false
}

// Anonymous is the caller context produced by the "none" credential mode.
func Anonymous() *Context {
	return &Context{
		ConsumerID:   "anonymous",
		CredentialID: "none",
		Roles:        []string{"*"},
	}
}
