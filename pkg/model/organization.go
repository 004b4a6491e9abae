package model

import (
	"fmt"
	"time"
)

// Organization represents a tenant boundary. Librarians and admins are
// always a subset of members; the mutation gateway keeps the subset
// relation intact across removals.
type Organization struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Members        Set       `json:"members"`
	Librarians     Set       `json:"librarians"`
	Admins         Set       `json:"admins"`
	ReportTemplate string    `json:"report_template,omitempty"` // opaque to the core
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int64     `json:"version"`
}

// NewOrganization creates an organization with empty membership sets.
func NewOrganization(id, name string) *Organization {
	return &Organization{
		ID:         id,
		Name:       name,
		Members:    NewSet(),
		Librarians: NewSet(),
		Admins:     NewSet(),
	}
}

// HasMember reports whether the principal is a member.
func (o *Organization) HasMember(principalID string) bool {
	return o.Members.Has(principalID)
}

// HasLibrarian reports whether the principal is a librarian.
func (o *Organization) HasLibrarian(principalID string) bool {
	return o.Librarians.Has(principalID)
}

// HasAdmin reports whether the principal is an admin.
func (o *Organization) HasAdmin(principalID string) bool {
	return o.Admins.Has(principalID)
}

// AddMember adds a principal to the members set.
func (o *Organization) AddMember(principalID string) {
	o.Members.Add(principalID)
}

// AddLibrarian grants the librarian role. The principal must already be a
// member; librarians are a subset of members.
func (o *Organization) AddLibrarian(principalID string) error {
	if !o.Members.Has(principalID) {
		return fmt.Errorf("principal %s is not a member of organisation %s", principalID, o.ID)
	}
	o.Librarians.Add(principalID)
	return nil
}

// AddAdmin grants the admin role. The principal must already be a member;
// admins are a subset of members.
func (o *Organization) AddAdmin(principalID string) error {
	if !o.Members.Has(principalID) {
		return fmt.Errorf("principal %s is not a member of organisation %s", principalID, o.ID)
	}
	o.Admins.Add(principalID)
	return nil
}

// RemoveMember removes a principal from members and, atomically on this
// snapshot, from librarians and admins. Stripping the principal from the
// shared_with set of the organisation's assessments is the gateway's job.
func (o *Organization) RemoveMember(principalID string) {
	o.Members.Remove(principalID)
	o.Librarians.Remove(principalID)
	o.Admins.Remove(principalID)
}

// Validate checks the role-subset relation on the snapshot.
func (o *Organization) Validate() error {
	if !o.Librarians.SubsetOf(o.Members) {
		return fmt.Errorf("organisation %s: librarians are not a subset of members", o.ID)
	}
	if !o.Admins.SubsetOf(o.Members) {
		return fmt.Errorf("organisation %s: admins are not a subset of members", o.ID)
	}
	return nil
}

// Clone returns an independent copy of the organization.
func (o *Organization) Clone() *Organization {
	c := *o
	c.Members = o.Members.Clone()
	c.Librarians = o.Librarians.Clone()
	c.Admins = o.Admins.Clone()
	return &c
}
