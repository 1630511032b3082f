package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient profile not found")
	ErrServiceNotFound     = errors.New("medical service not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotUnavailable covers already-booked, blocked, and nonexistent
	// slots alike; callers cannot and should not distinguish them.
	ErrSlotUnavailable = errors.New("slot unavailable")
)

// Repository contains all DB interactions needed by the coordinators.
// Slot claim and release, and conditional appointment updates, must be single
// atomic statements signalled by rows-affected, never check-then-act pairs.
type Repository interface {
	GetPatientProfileID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*MedicalService, error)

	// Slot store. ClaimSlot conditionally transitions a slot from unclaimed
	// to claimed and returns the claimed row as the source of truth for
	// scheduling fields; zero rows affected means ErrSlotUnavailable.
	// appointmentID may be nil when the appointment row does not exist yet.
	ClaimSlot(ctx context.Context, slotID uuid.UUID, appointmentID *uuid.UUID) (*Slot, error)
	// ReleaseSlot reverts a claim. A non-nil claimedBy only releases the slot
	// while that appointment still holds the claim.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID, claimedBy *uuid.UUID) error
	SetSlotAppointment(ctx context.Context, slotID, appointmentID uuid.UUID) error
	ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]Slot, error)

	// FindOrphanedClaims returns booked slots whose claiming appointment is
	// cancelled or gone, plus back-reference-less claims older than a grace
	// period; the reconcile worker releases them.
	FindOrphanedClaims(ctx context.Context) ([]Slot, error)

	// Appointment ledger
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	UpdateAppointmentSchedule(ctx context.Context, id, slotID uuid.UUID, date time.Time, timeOfDay string, from []AppointmentStatus) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason *string) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
