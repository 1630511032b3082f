package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebook/appointment-booking/internal/booking"
)

type BookRequest struct {
	SlotID          string  `json:"slot_id"`
	ServicesID      string  `json:"services_id"`
	Concern         string  `json:"concern"`
	AppointmentType string  `json:"appointment_type"`
	IsPriority      bool    `json:"is_priority"`
	Symptoms        *string `json:"symptoms,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
}

// UpdateAppointmentRequest drives PATCH /appointments/{id}: a slot_id
// reschedules, a status runs the lifecycle transition (including cancel).
type UpdateAppointmentRequest struct {
	SlotID             *string `json:"slot_id,omitempty"`
	Status             *string `json:"status,omitempty"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	HospitalID         uuid.UUID  `json:"hospital_id"`
	SlotID             uuid.UUID  `json:"slot_id"`
	ServicesID         *uuid.UUID `json:"services_id"`
	AppointmentDate    string     `json:"appointment_date"`
	AppointmentTime    string     `json:"appointment_time"`
	DurationMinutes    int        `json:"duration_minutes"`
	AppointmentType    string     `json:"appointment_type"`
	IsPriority         bool       `json:"is_priority"`
	Concern            string     `json:"concern"`
	Symptoms           *string    `json:"symptoms,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	Status             string     `json:"status"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	HospitalID      uuid.UUID `json:"hospital_id"`
	AppointmentDate string    `json:"appointment_date"`
	StartTime       string    `json:"start_time"`
	EndTime         *string   `json:"end_time,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const dateLayout = "2006-01-02"

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		HospitalID:         a.HospitalID,
		SlotID:             a.SlotID,
		ServicesID:         a.ServiceID,
		AppointmentDate:    a.AppointmentDate.Format(dateLayout),
		AppointmentTime:    a.AppointmentTime,
		DurationMinutes:    a.DurationMinutes,
		AppointmentType:    string(a.Type),
		IsPriority:         a.IsPriority,
		Concern:            a.Concern,
		Symptoms:           a.Symptoms,
		Notes:              a.Notes,
		Status:             string(a.Status),
		CancellationReason: a.CancellationReason,
		CancelledAt:        a.CancelledAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toSlotResponse(s booking.Slot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		DoctorID:        s.DoctorID,
		HospitalID:      s.HospitalID,
		AppointmentDate: s.AppointmentDate.Format(dateLayout),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
	}
}
