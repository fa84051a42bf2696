package booking

import (
	"strings"

	"github.com/google/uuid"
)

// ServiceRef selects a service either by exact id or by name query. The two
// variants resolve through separate lookups.
type ServiceRef struct {
	id   uuid.UUID
	name string
}

// ServiceByID references a service by its identifier.
func ServiceByID(id uuid.UUID) ServiceRef { return ServiceRef{id: id} }

// ServiceByName references the first active service whose name contains query.
func ServiceByName(query string) ServiceRef { return ServiceRef{name: strings.TrimSpace(query)} }

// IsZero reports whether neither variant was set.
func (r ServiceRef) IsZero() bool { return r.id == uuid.Nil && r.name == "" }

func (r ServiceRef) String() string {
	if r.id != uuid.Nil {
		return r.id.String()
	}
	return r.name
}

// StaffRef selects a staff member either by exact id or by name query.
type StaffRef struct {
	id   uuid.UUID
	name string
}

// StaffByID references a staff member by identifier.
func StaffByID(id uuid.UUID) StaffRef { return StaffRef{id: id} }

// StaffByName references the first active staff member whose name contains query.
func StaffByName(query string) StaffRef { return StaffRef{name: strings.TrimSpace(query)} }

// IsZero reports whether neither variant was set.
func (r StaffRef) IsZero() bool { return r.id == uuid.Nil && r.name == "" }

func (r StaffRef) String() string {
	if r.id != uuid.Nil {
		return r.id.String()
	}
	return r.name
}
