package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/booking"
)

// BookingService is the slice of the coordinator the handlers need; the
// tests stub it.
type BookingService interface {
	BookAppointment(ctx context.Context, userID uuid.UUID, in booking.BookingInput) (*booking.Appointment, error)
	RescheduleAppointment(ctx context.Context, userID, appointmentID, newSlotID uuid.UUID) (*booking.Appointment, error)
	CancelAppointment(ctx context.Context, userID, appointmentID uuid.UUID, reason string) (*booking.Appointment, error)
	TransitionStatus(ctx context.Context, userID, appointmentID uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*booking.Appointment, error)
	ListAppointments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]booking.Slot, error)
}

func bookHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated user")
			return
		}

		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		var serviceID *uuid.UUID
		if req.ServicesID != "" && req.ServicesID != "other" {
			id, err := uuid.Parse(req.ServicesID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_services_id", `services_id must be a UUID or "other"`)
				return
			}
			serviceID = &id
		}

		if strings.TrimSpace(req.Concern) == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "concern is required")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), userID, booking.BookingInput{
			SlotID:     slotID,
			ServiceID:  serviceID,
			Concern:    req.Concern,
			Type:       booking.AppointmentType(req.AppointmentType),
			IsPriority: req.IsPriority,
			Symptoms:   req.Symptoms,
			Notes:      req.Notes,
			RequestID:  req.RequestID,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeSuccess(w, http.StatusCreated, map[string]any{
			"appointment": toAppointmentResponse(appt),
		})
	}
}

func updateAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated user")
			return
		}

		appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var appt *booking.Appointment

		switch {
		case req.SlotID != nil:
			newSlotID, err := uuid.Parse(*req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			appt, err = svc.RescheduleAppointment(r.Context(), userID, appointmentID, newSlotID)
			if err != nil {
				handleBookingError(w, err)
				return
			}

		case req.Status != nil:
			to := booking.AppointmentStatus(*req.Status)
			if to == booking.StatusCancelled {
				reason := ""
				if req.CancellationReason != nil {
					reason = *req.CancellationReason
				}
				appt, err = svc.CancelAppointment(r.Context(), userID, appointmentID, reason)
			} else {
				appt, err = svc.TransitionStatus(r.Context(), userID, appointmentID, to)
			}
			if err != nil {
				handleBookingError(w, err)
				return
			}

		default:
			writeError(w, http.StatusBadRequest, "missing_update", "provide slot_id or status")
			return
		}

		writeSuccess(w, http.StatusOK, map[string]any{
			"appointment": toAppointmentResponse(appt),
		})
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated user")
			return
		}

		appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), userID, appointmentID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeSuccess(w, http.StatusOK, map[string]any{
			"appointment": toAppointmentResponse(appt),
		})
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated user")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointments(r.Context(), userID, limit, offset)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}

		writeSuccess(w, http.StatusOK, map[string]any{
			"appointments": out,
		})
	}
}

func listSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}

		var date *time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := time.Parse(dateLayout, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = &d
		}

		slots, err := svc.ListOpenSlots(r.Context(), doctorID, date)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, toSlotResponse(s))
		}

		writeSuccess(w, http.StatusOK, map[string]any{
			"slots": out,
		})
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		// Covers booked, blocked, and nonexistent slots alike; the UI should
		// refresh its slot list.
		writeError(w, http.StatusBadRequest, "slot_unavailable", "slot is unavailable, refresh available slots")
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_profile_not_found", err.Error())
	case errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrNotReschedulable),
		errors.Is(err, booking.ErrAppointmentNotCancellable),
		errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, booking.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "booking_in_progress", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
