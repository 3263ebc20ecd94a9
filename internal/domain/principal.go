// Package domain contains entities without logic, just meta-data
package domain

type (
	UserID string
	OrgID  string
)

// Principal is an authenticated identity (user + organization)
// attached to a connection for its whole lifetime.
type Principal struct {
	UserID UserID `json:"user_id"`
	OrgID  OrgID  `json:"org_id"`
}
