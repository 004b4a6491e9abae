package model

import "time"

// Principal represents an authenticated user identity. Principals are
// created by the external identity layer and are never destroyed by the
// core.
type Principal struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"display_name"`
	Email        string     `json:"email,omitempty"`
	Superuser    bool       `json:"superuser"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Clone returns an independent copy of the principal.
func (p *Principal) Clone() *Principal {
	c := *p
	if p.LastActiveAt != nil {
		t := *p.LastActiveAt
		c.LastActiveAt = &t
	}
	return &c
}
