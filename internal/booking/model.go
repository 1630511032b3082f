package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

type AppointmentType string

const (
	TypeRegular   AppointmentType = "regular"
	TypeEmergency AppointmentType = "emergency"
	TypeFollowup  AppointmentType = "followup"
)

// statusTransitions is the full appointment lifecycle. cancelled, completed
// and no_show are terminal.
var statusTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// HoldsSlot reports whether an appointment in this status owns its slot claim.
func (s AppointmentStatus) HoldsSlot() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

func ValidAppointmentType(t AppointmentType) bool {
	switch t {
	case TypeRegular, TypeEmergency, TypeFollowup:
		return true
	}
	return false
}

// Slot is one bookable unit of a doctor's calendar. Claiming flips IsBooked
// exactly once per lifecycle; AppointmentID is the back-reference to whoever
// claimed it. Times of day are stored as HH:MM strings.
type Slot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	HospitalID      uuid.UUID
	AppointmentDate time.Time
	StartTime       string
	EndTime         *string
	IsBooked        bool
	IsBlocked       bool
	AppointmentID   *uuid.UUID
	BookedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Claimable is the slot eligibility invariant: never booked, never blocked.
func (s *Slot) Claimable() bool {
	return !s.IsBooked && !s.IsBlocked
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	HospitalID         uuid.UUID
	SlotID             uuid.UUID
	ServiceID          *uuid.UUID
	AppointmentDate    time.Time
	AppointmentTime    string
	DurationMinutes    int
	Type               AppointmentType
	IsPriority         bool
	Concern            string
	Symptoms           *string
	Notes              *string
	Status             AppointmentStatus
	CancellationReason *string
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PatientProfile struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FullName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID         uuid.UUID
	HospitalID uuid.UUID
	Name       string
	Specialty  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type MedicalService struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Name     string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
