package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Overlaps applies the half-open rule: [aStart, aEnd) and [bStart, bEnd)
// intersect when each starts before the other ends. Touching intervals do not.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Interval is a booked span for one staff member.
type Interval struct {
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
}

// ConflictsWith reports whether [start, end) collides with any interval in
// busy, ignoring the appointment identified by exclude.
func ConflictsWith(busy []Interval, start, end time.Time, exclude uuid.UUID) bool {
	for _, b := range busy {
		if exclude != uuid.Nil && b.AppointmentID == exclude {
			continue
		}
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// Appointment is the persisted booking row.
type Appointment struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ClientID  uuid.UUID
	StaffID   uuid.UUID
	ServiceID uuid.UUID
	StartAt   time.Time
	EndAt     time.Time
	Status    Status
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
