package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
)

// Service is a bookable treatment.
type Service struct {
	ID               uuid.UUID
	Name             string
	Description      string
	ShortDescription string
	DurationMinutes  int
	Price            *float64
}

// Staff is a person appointments are booked with.
type Staff struct {
	ID   uuid.UUID
	Name string
}

// NewAppointment is the row handed to the reservation primitive.
type NewAppointment struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ClientID  uuid.UUID
	StaffID   uuid.UUID
	ServiceID uuid.UUID
	StartAt   time.Time
	EndAt     time.Time
	Status    appointment.Status
	Notes     string
}

// RescheduleParams moves one appointment to a new interval.
type RescheduleParams struct {
	AppointmentID uuid.UUID
	TenantID      uuid.UUID
	ClientID      uuid.UUID
	StaffID       uuid.UUID
	StartAt       time.Time
	EndAt         time.Time
}

// Upcoming is a future appointment as shown to its client.
type Upcoming struct {
	ID          uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Status      appointment.Status
	ServiceName string
	StaffName   string
	Price       *float64
}

// BookRequest asks for a new appointment. Date is YYYY-MM-DD and Time HH:MM,
// both in Location.
type BookRequest struct {
	TenantID uuid.UUID
	ClientID uuid.UUID
	Location *time.Location
	Date     string
	Time     string
	Service  ServiceRef
	Staff    StaffRef
	Notes    string
	// Initial is confirmed for the chat flow and pending for external tooling.
	Initial appointment.Status
	Actor   string
	Source  string
}

// BookResult describes a created appointment.
type BookResult struct {
	AppointmentID   uuid.UUID
	Status          appointment.Status
	ServiceName     string
	StaffName       string
	StartAt         time.Time
	EndAt           time.Time
	DurationMinutes int
	Price           *float64
	// Atomic is false when the weaker check-then-insert path produced the row.
	Atomic bool
}

// RescheduleRequest moves an owned appointment.
type RescheduleRequest struct {
	TenantID      uuid.UUID
	ClientID      uuid.UUID
	AppointmentID uuid.UUID
	Location      *time.Location
	Date          string
	Time          string
	Actor         string
}

// RescheduleResult describes the moved appointment.
type RescheduleResult struct {
	AppointmentID uuid.UUID
	ServiceName   string
	StartAt       time.Time
	EndAt         time.Time
	Atomic        bool
}

// StatusRequest addresses an owned appointment for cancel or confirm.
type StatusRequest struct {
	TenantID      uuid.UUID
	ClientID      uuid.UUID
	AppointmentID uuid.UUID
	Actor         string
	Reason        string
}
