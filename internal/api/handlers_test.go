package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/appointment-booking/internal/booking"
)

// stubService implements BookingService with overridable function fields.
type stubService struct {
	bookFn       func(ctx context.Context, userID uuid.UUID, in booking.BookingInput) (*booking.Appointment, error)
	rescheduleFn func(ctx context.Context, userID, appointmentID, newSlotID uuid.UUID) (*booking.Appointment, error)
	cancelFn     func(ctx context.Context, userID, appointmentID uuid.UUID, reason string) (*booking.Appointment, error)
	transitionFn func(ctx context.Context, userID, appointmentID uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error)
	getFn        func(ctx context.Context, userID, appointmentID uuid.UUID) (*booking.Appointment, error)
	listFn       func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	slotsFn      func(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]booking.Slot, error)
}

func (s *stubService) BookAppointment(ctx context.Context, userID uuid.UUID, in booking.BookingInput) (*booking.Appointment, error) {
	return s.bookFn(ctx, userID, in)
}

func (s *stubService) RescheduleAppointment(ctx context.Context, userID, appointmentID, newSlotID uuid.UUID) (*booking.Appointment, error) {
	return s.rescheduleFn(ctx, userID, appointmentID, newSlotID)
}

func (s *stubService) CancelAppointment(ctx context.Context, userID, appointmentID uuid.UUID, reason string) (*booking.Appointment, error) {
	return s.cancelFn(ctx, userID, appointmentID, reason)
}

func (s *stubService) TransitionStatus(ctx context.Context, userID, appointmentID uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error) {
	return s.transitionFn(ctx, userID, appointmentID, to)
}

func (s *stubService) GetAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*booking.Appointment, error) {
	return s.getFn(ctx, userID, appointmentID)
}

func (s *stubService) ListAppointments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
	return s.listFn(ctx, userID, limit, offset)
}

func (s *stubService) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]booking.Slot, error) {
	return s.slotsFn(ctx, doctorID, date)
}

func testRouter(svc BookingService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Env: "test", Version: "test"})
}

func sampleAppointment(userID uuid.UUID) *booking.Appointment {
	date, _ := time.Parse(dateLayout, "2025-03-01")
	return &booking.Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		HospitalID:      uuid.New(),
		SlotID:          uuid.New(),
		AppointmentDate: date,
		AppointmentTime: "09:00",
		DurationMinutes: 30,
		Type:            booking.TypeRegular,
		Concern:         "checkup",
		Status:          booking.StatusPending,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()

	var envelope struct {
		Success bool                       `json:"success"`
		Data    map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestBookEndpointCreated(t *testing.T) {
	userID := uuid.New()
	appt := sampleAppointment(userID)

	svc := &stubService{
		bookFn: func(_ context.Context, gotUser uuid.UUID, in booking.BookingInput) (*booking.Appointment, error) {
			assert.Equal(t, userID, gotUser)
			assert.Equal(t, appt.SlotID, in.SlotID)
			assert.Equal(t, "checkup", in.Concern)
			assert.Nil(t, in.ServiceID)
			return appt, nil
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodPost, "/book", userID.String(), BookRequest{
		SlotID:     appt.SlotID.String(),
		ServicesID: "other",
		Concern:    "checkup",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeEnvelope(t, rec)

	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(data["appointment"], &got))
	assert.Equal(t, appt.ID, got.ID)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "2025-03-01", got.AppointmentDate)
	assert.Equal(t, "09:00", got.AppointmentTime)
}

func TestBookEndpointRequiresIdentity(t *testing.T) {
	svc := &stubService{}

	rec := doJSON(t, testRouter(svc), http.MethodPost, "/book", "", BookRequest{
		SlotID:  uuid.NewString(),
		Concern: "checkup",
	})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Error)
}

func TestBookEndpointRejectsBadIdentity(t *testing.T) {
	svc := &stubService{}

	rec := doJSON(t, testRouter(svc), http.MethodPost, "/book", "not-a-uuid", BookRequest{
		SlotID:  uuid.NewString(),
		Concern: "checkup",
	})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookEndpointValidation(t *testing.T) {
	svc := &stubService{}
	router := testRouter(svc)
	userID := uuid.NewString()

	rec := doJSON(t, router, http.MethodPost, "/book", userID, BookRequest{
		SlotID:  "nope",
		Concern: "checkup",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot_id", decodeError(t, rec).Error)

	rec = doJSON(t, router, http.MethodPost, "/book", userID, BookRequest{
		SlotID:     uuid.NewString(),
		ServicesID: "not-a-uuid",
		Concern:    "checkup",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_services_id", decodeError(t, rec).Error)

	rec = doJSON(t, router, http.MethodPost, "/book", userID, BookRequest{
		SlotID: uuid.NewString(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rec).Error)
}

func TestBookEndpointSlotUnavailable(t *testing.T) {
	svc := &stubService{
		bookFn: func(context.Context, uuid.UUID, booking.BookingInput) (*booking.Appointment, error) {
			return nil, booking.ErrSlotUnavailable
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodPost, "/book", uuid.NewString(), BookRequest{
		SlotID:  uuid.NewString(),
		Concern: "checkup",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeError(t, rec).Error)
}

func TestBookEndpointInFlightConflict(t *testing.T) {
	svc := &stubService{
		bookFn: func(context.Context, uuid.UUID, booking.BookingInput) (*booking.Appointment, error) {
			return nil, booking.ErrBookingInProgress
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodPost, "/book", uuid.NewString(), BookRequest{
		SlotID:  uuid.NewString(),
		Concern: "checkup",
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "booking_in_progress", decodeError(t, rec).Error)
}

func TestPatchReschedule(t *testing.T) {
	userID := uuid.New()
	appt := sampleAppointment(userID)
	newSlot := uuid.New()

	svc := &stubService{
		rescheduleFn: func(_ context.Context, gotUser, gotAppt, gotSlot uuid.UUID) (*booking.Appointment, error) {
			assert.Equal(t, userID, gotUser)
			assert.Equal(t, appt.ID, gotAppt)
			assert.Equal(t, newSlot, gotSlot)
			return appt, nil
		},
	}

	slotStr := newSlot.String()
	rec := doJSON(t, testRouter(svc), http.MethodPatch, "/appointments/"+appt.ID.String(),
		userID.String(), UpdateAppointmentRequest{SlotID: &slotStr})

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPatchCancelRoutesToCancel(t *testing.T) {
	userID := uuid.New()
	appt := sampleAppointment(userID)
	appt.Status = booking.StatusCancelled

	svc := &stubService{
		cancelFn: func(_ context.Context, _, gotAppt uuid.UUID, reason string) (*booking.Appointment, error) {
			assert.Equal(t, appt.ID, gotAppt)
			assert.Equal(t, "changed plans", reason)
			return appt, nil
		},
	}

	status := "cancelled"
	reason := "changed plans"
	rec := doJSON(t, testRouter(svc), http.MethodPatch, "/appointments/"+appt.ID.String(),
		userID.String(), UpdateAppointmentRequest{Status: &status, CancellationReason: &reason})

	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeEnvelope(t, rec)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(data["appointment"], &got))
	assert.Equal(t, "cancelled", got.Status)
}

func TestPatchStatusTransition(t *testing.T) {
	userID := uuid.New()
	appt := sampleAppointment(userID)
	appt.Status = booking.StatusConfirmed

	svc := &stubService{
		transitionFn: func(_ context.Context, _, _ uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error) {
			assert.Equal(t, booking.StatusConfirmed, to)
			return appt, nil
		},
	}

	status := "confirmed"
	rec := doJSON(t, testRouter(svc), http.MethodPatch, "/appointments/"+appt.ID.String(),
		userID.String(), UpdateAppointmentRequest{Status: &status})

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPatchWithoutUpdateFields(t *testing.T) {
	svc := &stubService{}

	rec := doJSON(t, testRouter(svc), http.MethodPatch, "/appointments/"+uuid.NewString(),
		uuid.NewString(), UpdateAppointmentRequest{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_update", decodeError(t, rec).Error)
}

func TestPatchInvalidStateConflict(t *testing.T) {
	svc := &stubService{
		rescheduleFn: func(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (*booking.Appointment, error) {
			return nil, booking.ErrNotReschedulable
		},
	}

	slotStr := uuid.NewString()
	rec := doJSON(t, testRouter(svc), http.MethodPatch, "/appointments/"+uuid.NewString(),
		uuid.NewString(), UpdateAppointmentRequest{SlotID: &slotStr})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec).Error)
}

func TestGetAppointmentForbidden(t *testing.T) {
	svc := &stubService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (*booking.Appointment, error) {
			return nil, booking.ErrForbidden
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodGet, "/appointments/"+uuid.NewString(),
		uuid.NewString(), nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Error)
}

func TestGetAppointmentNotFound(t *testing.T) {
	svc := &stubService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (*booking.Appointment, error) {
			return nil, booking.ErrAppointmentNotFound
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodGet, "/appointments/"+uuid.NewString(),
		uuid.NewString(), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
}

func TestListAppointmentsPassesPagination(t *testing.T) {
	svc := &stubService{
		listFn: func(_ context.Context, _ uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
			assert.Equal(t, 5, limit)
			assert.Equal(t, 10, offset)
			return nil, nil
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodGet, "/appointments?limit=5&offset=10",
		uuid.NewString(), nil)

	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeEnvelope(t, rec)
	var got []AppointmentResponse
	require.NoError(t, json.Unmarshal(data["appointments"], &got))
	assert.Empty(t, got)
}

func TestListSlots(t *testing.T) {
	doctorID := uuid.New()
	date, _ := time.Parse(dateLayout, "2025-03-01")
	end := "09:30"

	svc := &stubService{
		slotsFn: func(_ context.Context, gotDoctor uuid.UUID, gotDate *time.Time) ([]booking.Slot, error) {
			assert.Equal(t, doctorID, gotDoctor)
			require.NotNil(t, gotDate)
			assert.True(t, date.Equal(*gotDate))
			return []booking.Slot{{
				ID:              uuid.New(),
				DoctorID:        doctorID,
				HospitalID:      uuid.New(),
				AppointmentDate: date,
				StartTime:       "09:00",
				EndTime:         &end,
			}}, nil
		},
	}

	rec := doJSON(t, testRouter(svc), http.MethodGet,
		"/appointment-slots?doctorId="+doctorID.String()+"&date=2025-03-01",
		uuid.NewString(), nil)

	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeEnvelope(t, rec)
	var got []SlotResponse
	require.NoError(t, json.Unmarshal(data["slots"], &got))
	require.Len(t, got, 1)
	assert.Equal(t, "09:00", got[0].StartTime)
	assert.Equal(t, "2025-03-01", got[0].AppointmentDate)
}

func TestListSlotsValidation(t *testing.T) {
	svc := &stubService{}
	router := testRouter(svc)
	userID := uuid.NewString()

	rec := doJSON(t, router, http.MethodGet, "/appointment-slots", userID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_doctor_id", decodeError(t, rec).Error)

	rec = doJSON(t, router, http.MethodGet,
		"/appointment-slots?doctorId="+uuid.NewString()+"&date=03-01-2025", userID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decodeError(t, rec).Error)
}
