// Package auth decides whether a requester may use admin-only commands.
package auth

// Guard compares requester ids against a single configured admin identity.
// An empty admin id means every requester is authorized.
type Guard struct {
	adminID string
}

func NewGuard(adminID string) Guard { return Guard{adminID: adminID} }

// Restricted reports whether an admin identity is configured.
func (g Guard) Restricted() bool { return g.adminID != "" }

// IsAuthorized uses exact string equality, no normalization.
func (g Guard) IsAuthorized(requesterID string) bool {
	if g.adminID == "" {
		return true
	}
	return requesterID == g.adminID
}
