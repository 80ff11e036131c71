// Package identity models the externally-issued identity of a signed-in actor
// and turns identity-provider tokens into that model.
package identity

import "errors"

// ErrMissingSubject is returned when a claims payload carries no subject.
var ErrMissingSubject = errors.New("identity: missing subject")

// Profile holds display attributes. They are informational only and never
// take part in authorization decisions.
type Profile struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarRef   string `json:"avatar_ref"`
}

// Identity is an opaque, externally-issued unique ID plus its profile.
type Identity struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`
}

// ContactAddress is the externally verifiable key the billing system uses.
func (i Identity) ContactAddress() string { return i.Profile.Email }

// Claims is the identity-provider payload. Only these four fields are read.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Identity converts the claims into an Identity.
func (c Claims) Identity() (Identity, error) {
	if c.Subject == "" {
		return Identity{}, ErrMissingSubject
	}
	return Identity{
		ID: c.Subject,
		Profile: Profile{
			DisplayName: c.Name,
			Email:       c.Email,
			AvatarRef:   c.Picture,
		},
	}, nil
}
