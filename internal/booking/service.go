package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/carebook/appointment-booking/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentStatus      = "APPOINTMENT_STATUS_CHANGED"
	EventBookingRolledBack      = "BOOKING_ROLLED_BACK"
	EventSlotReconcileNeeded    = "SLOT_RECONCILE_NEEDED"
	EventSlotReleased           = "SLOT_RELEASED"
)

const defaultDurationMinutes = 30

var (
	ErrValidation                = errors.New("invalid booking input")
	ErrForbidden                 = errors.New("appointment does not belong to caller")
	ErrAppointmentNotCancellable = errors.New("appointment is in a terminal state")
	ErrNotReschedulable          = errors.New("appointment cannot be rescheduled")
	ErrInvalidStatusTransition   = errors.New("invalid status transition")
	ErrBookingInProgress         = errors.New("an identical booking request is in flight, retry shortly")

	// ErrAppointmentCreationFailed covers a failed ledger insert whose slot
	// claim was rolled back cleanly.
	ErrAppointmentCreationFailed = errors.New("appointment creation failed")

	// ErrBookingFailed and ErrRescheduleFailed cover mid-transaction faults
	// after compensation ran; the net state change is zero.
	ErrBookingFailed    = errors.New("booking transaction failed")
	ErrRescheduleFailed = errors.New("reschedule transaction failed")
)

// BookingInput is the caller-supplied half of a booking. Scheduling fields
// always come from the claimed slot, never from the caller.
type BookingInput struct {
	SlotID     uuid.UUID
	ServiceID  *uuid.UUID // nil means the free-text "other" service
	Concern    string
	Type       AppointmentType
	IsPriority bool
	Symptoms   *string
	Notes      *string
	RequestID  string // optional idempotency key
}

type Service struct {
	repo Repository
	idem redisclient.Idempotency
	log  *zap.Logger
}

func NewService(repo Repository, idem redisclient.Idempotency, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		idem: idem,
		log:  log,
	}
}

// BookAppointment atomically converts an open slot into a pending
// appointment. The slot claim is a single conditional write, so concurrent
// requests for the same slot have exactly one winner; every failure after the
// claim triggers a compensating release before the error surfaces.
func (s *Service) BookAppointment(ctx context.Context, userID uuid.UUID, in BookingInput) (*Appointment, error) {
	in.Concern = strings.TrimSpace(in.Concern)
	if in.Concern == "" {
		return nil, fmt.Errorf("%w: concern is required", ErrValidation)
	}
	if in.Type == "" {
		in.Type = TypeRegular
	}
	if !ValidAppointmentType(in.Type) {
		return nil, fmt.Errorf("%w: unknown appointment type %q", ErrValidation, in.Type)
	}

	patientID, err := s.repo.GetPatientProfileID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve patient profile: %w", err)
	}

	if in.ServiceID != nil {
		if _, err := s.repo.GetServiceByID(ctx, *in.ServiceID); err != nil {
			if errors.Is(err, ErrServiceNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("validate service: %w", err)
		}
	}

	// Idempotent retry path: a request_id that already completed returns the
	// original appointment instead of racing its own slot. Keys are scoped to
	// the patient profile, so a request_id can only ever replay the caller's
	// own booking.
	var idemToken, idemKey string
	if in.RequestID != "" && s.idem != nil {
		idemKey = patientID.String() + ":" + in.RequestID
		token, existingID, err := s.idem.Begin(ctx, idemKey)
		if err != nil {
			if errors.Is(err, redisclient.ErrRequestInFlight) {
				return nil, ErrBookingInProgress
			}
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
		if existingID != "" {
			prior, err := uuid.Parse(existingID)
			if err != nil {
				return nil, fmt.Errorf("idempotency record corrupt: %w", err)
			}
			return s.repo.GetAppointmentByID(ctx, prior)
		}
		idemToken = token
	}

	abortIdem := func() {
		if idemToken == "" {
			return
		}
		if err := s.idem.Abort(ctx, idemKey, idemToken); err != nil {
			s.log.Warn("failed to release idempotency key",
				zap.String("request_id", in.RequestID), zap.Error(err))
		}
	}

	// The appointment row does not exist yet, so the claim carries a nil
	// back-reference until SetSlotAppointment below.
	slot, err := s.repo.ClaimSlot(ctx, in.SlotID, nil)
	if err != nil {
		abortIdem()
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim slot: %w", err)
	}

	appt := &Appointment{
		PatientID:       patientID,
		DoctorID:        slot.DoctorID,
		HospitalID:      slot.HospitalID,
		SlotID:          slot.ID,
		ServiceID:       in.ServiceID,
		AppointmentDate: slot.AppointmentDate,
		AppointmentTime: slot.StartTime,
		DurationMinutes: slotDurationMinutes(slot),
		Type:            in.Type,
		IsPriority:      in.IsPriority,
		Concern:         in.Concern,
		Symptoms:        in.Symptoms,
		Notes:           in.Notes,
		Status:          StatusPending,
	}

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		s.rollbackClaim(ctx, slot.ID, nil, nil, "appointment insert failed")
		abortIdem()
		return nil, fmt.Errorf("%w: %v", ErrAppointmentCreationFailed, err)
	}

	if err := s.repo.SetSlotAppointment(ctx, slot.ID, created.ID); err != nil {
		// A claimed slot pointing at nothing and an unreferenced appointment
		// are both unacceptable; undo the whole booking.
		if delErr := s.repo.DeleteAppointment(ctx, created.ID); delErr != nil {
			s.log.Error("compensation failed: could not delete appointment after back-reference fault",
				zap.String("appointment_id", created.ID.String()), zap.Error(delErr))
		}
		// The back-reference never landed, so the claim is still unreferenced.
		s.rollbackClaim(ctx, slot.ID, nil, &created.ID, "slot back-reference update failed")
		abortIdem()
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	if idemToken != "" {
		if err := s.idem.Complete(ctx, idemKey, created.ID.String()); err != nil {
			s.log.Warn("failed to store idempotency result",
				zap.String("request_id", in.RequestID), zap.Error(err))
		}
	}

	s.logEvent(ctx, EventAppointmentBooked, &created.ID, &slot.ID, map[string]any{
		"patient_id": patientID.String(),
		"doctor_id":  slot.DoctorID.String(),
		"date":       slot.AppointmentDate.Format("2006-01-02"),
		"time":       slot.StartTime,
	})

	return created, nil
}

// RescheduleAppointment moves a live appointment to a new slot. The new slot
// is claimed first; only then is the old one released, so the appointment is
// never left without a valid slot if the new claim loses.
func (s *Service) RescheduleAppointment(ctx context.Context, userID, appointmentID, newSlotID uuid.UUID) (*Appointment, error) {
	appt, err := s.getOwnedAppointment(ctx, userID, appointmentID)
	if err != nil {
		return nil, err
	}

	if !appt.Status.HoldsSlot() {
		return nil, ErrNotReschedulable
	}
	if appt.SlotID == newSlotID {
		return appt, nil
	}

	newSlot, err := s.repo.ClaimSlot(ctx, newSlotID, &appt.ID)
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim new slot: %w", err)
	}

	oldSlotID := appt.SlotID
	if err := s.repo.ReleaseSlot(ctx, oldSlotID, &appt.ID); err != nil {
		s.rollbackClaim(ctx, newSlot.ID, &appt.ID, &appt.ID, "old slot release failed")
		return nil, fmt.Errorf("%w: %v", ErrRescheduleFailed, err)
	}

	updated, err := s.repo.UpdateAppointmentSchedule(ctx, appt.ID, newSlot.ID,
		newSlot.AppointmentDate, newSlot.StartTime,
		[]AppointmentStatus{StatusPending, StatusConfirmed})
	if err != nil {
		s.rollbackClaim(ctx, newSlot.ID, &appt.ID, &appt.ID, "appointment schedule update failed")
		// Best effort: put the appointment back on its old slot so a live
		// appointment does not end up slotless. Losing this race is handed
		// to the reconcile worker.
		if _, reclaimErr := s.repo.ClaimSlot(ctx, oldSlotID, &appt.ID); reclaimErr != nil {
			s.log.Error("could not restore old slot after failed reschedule",
				zap.String("appointment_id", appt.ID.String()),
				zap.String("slot_id", oldSlotID.String()),
				zap.Error(reclaimErr))
			s.logEvent(ctx, EventSlotReconcileNeeded, &appt.ID, &oldSlotID, map[string]any{
				"reason": "reschedule_rollback_reclaim_failed",
			})
		}
		return nil, fmt.Errorf("%w: %v", ErrRescheduleFailed, err)
	}

	s.logEvent(ctx, EventAppointmentRescheduled, &updated.ID, &newSlot.ID, map[string]any{
		"old_slot_id": oldSlotID.String(),
		"new_slot_id": newSlot.ID.String(),
		"date":        newSlot.AppointmentDate.Format("2006-01-02"),
		"time":        newSlot.StartTime,
	})

	return updated, nil
}

// CancelAppointment cancels a live appointment and releases its slot.
// Cancelling an already-cancelled appointment is a no-op returning the
// current record. If the slot release fails the cancellation still stands;
// the slot is flagged for the reconcile worker instead.
func (s *Service) CancelAppointment(ctx context.Context, userID, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.getOwnedAppointment(ctx, userID, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if appt.Status.IsTerminal() {
		return nil, ErrAppointmentNotCancellable
	}

	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		reasonPtr = &reason
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID,
		[]AppointmentStatus{StatusPending, StatusConfirmed}, StatusCancelled, reasonPtr)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The conditional update lost a race with another transition.
			// Re-read: if it was a concurrent cancel, stay idempotent.
			current, readErr := s.repo.GetAppointmentByID(ctx, appt.ID)
			if readErr == nil && current.Status == StatusCancelled {
				return current, nil
			}
			return nil, ErrAppointmentNotCancellable
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if err := s.repo.ReleaseSlot(ctx, appt.SlotID, &appt.ID); err != nil {
		// Degraded but safe: the cancellation is authoritative, the slot is
		// repaired out of band.
		s.log.Error("slot release failed after cancellation, flagging for reconciliation",
			zap.String("appointment_id", appt.ID.String()),
			zap.String("slot_id", appt.SlotID.String()),
			zap.Error(err))
		s.logEvent(ctx, EventSlotReconcileNeeded, &appt.ID, &appt.SlotID, map[string]any{
			"reason": "cancel_release_failed",
		})
	}

	s.logEvent(ctx, EventAppointmentCancelled, &updated.ID, &appt.SlotID, map[string]any{
		"reason": reason,
	})

	return updated, nil
}

// TransitionStatus runs the non-cancel lifecycle transitions (confirm,
// complete, no-show) under the same conditional-write discipline.
func (s *Service) TransitionStatus(ctx context.Context, userID, appointmentID uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.getOwnedAppointment(ctx, userID, appointmentID)
	if err != nil {
		return nil, err
	}

	if !appt.Status.CanTransitionTo(to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID,
		[]AppointmentStatus{appt.Status}, to, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("transition appointment status: %w", err)
	}

	s.logEvent(ctx, EventAppointmentStatus, &updated.ID, nil, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})

	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*Appointment, error) {
	return s.getOwnedAppointment(ctx, userID, appointmentID)
}

func (s *Service) ListAppointments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Appointment, error) {
	patientID, err := s.repo.GetPatientProfileID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]Slot, error) {
	return s.repo.ListOpenSlots(ctx, doctorID, date)
}

// ReleaseOrphanedClaims frees slots still marked booked by a cancelled or
// deleted appointment. Run periodically by the reconcile worker.
func (s *Service) ReleaseOrphanedClaims(ctx context.Context) (int, error) {
	orphans, err := s.repo.FindOrphanedClaims(ctx)
	if err != nil {
		return 0, fmt.Errorf("find orphaned claims: %w", err)
	}

	released := 0
	for _, slot := range orphans {
		if err := s.repo.ReleaseSlot(ctx, slot.ID, slot.AppointmentID); err != nil {
			s.log.Error("failed to release orphaned slot",
				zap.String("slot_id", slot.ID.String()), zap.Error(err))
			continue
		}
		released++
		s.logEvent(ctx, EventSlotReleased, slot.AppointmentID, &slot.ID, map[string]any{
			"reason": "reconcile_worker",
		})
	}

	return released, nil
}

func (s *Service) getOwnedAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	patientID, err := s.repo.GetPatientProfileID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve patient profile: %w", err)
	}
	if appt.PatientID != patientID {
		return nil, ErrForbidden
	}

	return appt, nil
}

// rollbackClaim is the compensating action for a claim that must not stand.
// claimedBy mirrors the slot's current back-reference (nil for a claim whose
// back-reference never landed). A failure here leaves a locked slot, so it is
// logged loudly and recorded for reconciliation.
func (s *Service) rollbackClaim(ctx context.Context, slotID uuid.UUID, claimedBy, appointmentID *uuid.UUID, cause string) {
	if err := s.repo.ReleaseSlot(ctx, slotID, claimedBy); err != nil {
		s.log.Error("compensation failed: slot claim could not be reversed",
			zap.String("slot_id", slotID.String()),
			zap.String("cause", cause),
			zap.Error(err))
		s.logEvent(ctx, EventSlotReconcileNeeded, appointmentID, &slotID, map[string]any{
			"reason": "rollback_failed",
			"cause":  cause,
		})
		return
	}
	s.logEvent(ctx, EventBookingRolledBack, appointmentID, &slotID, map[string]any{
		"cause": cause,
	})
}

func slotDurationMinutes(slot *Slot) int {
	if slot.EndTime == nil {
		return defaultDurationMinutes
	}
	start, err := time.Parse("15:04", slot.StartTime)
	if err != nil {
		return defaultDurationMinutes
	}
	end, err := time.Parse("15:04", *slot.EndTime)
	if err != nil {
		return defaultDurationMinutes
	}
	if d := end.Sub(start); d > 0 {
		return int(d.Minutes())
	}
	return defaultDurationMinutes
}

func (s *Service) logEvent(ctx context.Context, eventType string, appointmentID, slotID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log", zap.String("event", eventType), zap.Error(err))
	}
}
