package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const slotColumns = `id, doctor_id, hospital_id, appointment_date, start_time, end_time,
	is_booked, is_blocked, appointment_id, booked_at, created_at, updated_at`

const appointmentColumns = `id, patient_id, doctor_id, hospital_id, slot_id, services_id,
	appointment_date, appointment_time, duration_minutes, appointment_type, is_priority,
	concern, symptoms, notes, status, cancellation_reason, cancelled_at, created_at, updated_at`

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.HospitalID,
		&s.AppointmentDate,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.IsBlocked,
		&s.AppointmentID,
		&s.BookedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.HospitalID,
		&a.SlotID,
		&a.ServiceID,
		&a.AppointmentDate,
		&a.AppointmentTime,
		&a.DurationMinutes,
		&a.Type,
		&a.IsPriority,
		&a.Concern,
		&a.Symptoms,
		&a.Notes,
		&a.Status,
		&a.CancellationReason,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) GetPatientProfileID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id
		FROM patient_profiles
		WHERE user_id = $1
	`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrPatientNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	var svc MedicalService
	err := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, name
		FROM medical_services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.DoctorID, &svc.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

// ClaimSlot is the shared claim primitive: one conditional UPDATE whose WHERE
// clause carries the eligibility invariant. Two racing callers hit the same
// row and exactly one sees it returned; the loser gets ErrSlotUnavailable.
func (r *PgRepository) ClaimSlot(ctx context.Context, slotID uuid.UUID, appointmentID *uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_slots
		SET is_booked = true,
		    appointment_id = $2,
		    booked_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = false
		  AND is_blocked = false
		RETURNING `+slotColumns, slotID, appointmentID)
	return scanSlot(row)
}

// ReleaseSlot reverts a claim. Releasing an already-released slot is a no-op,
// and a non-nil claimedBy cannot free a slot since claimed by a different
// appointment.
func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID, claimedBy *uuid.UUID) error {
	query := `
		UPDATE appointment_slots
		SET is_booked = false,
		    appointment_id = NULL,
		    booked_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = true`
	args := []any{slotID}

	if claimedBy != nil {
		query += `
		  AND appointment_id = $2`
		args = append(args, *claimedBy)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("release slot %s: %w", slotID, err)
	}
	return nil
}

func (r *PgRepository) SetSlotAppointment(ctx context.Context, slotID, appointmentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment_slots
		SET appointment_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = true
	`, slotID, appointmentID)
	if err != nil {
		return fmt.Errorf("set slot appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM appointment_slots
		WHERE doctor_id = $1
		  AND is_booked = false
		  AND is_blocked = false`
	args := []any{doctorID}

	if date != nil {
		query += ` AND appointment_date = $2`
		args = append(args, *date)
	}
	query += ` ORDER BY appointment_date, start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

// FindOrphanedClaims matches two degraded shapes: claims whose appointment is
// cancelled or deleted, and claims that never got a back-reference (a failed
// rollback on the insert path) once they are past the in-flight grace period.
func (r *PgRepository) FindOrphanedClaims(ctx context.Context) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.doctor_id, s.hospital_id, s.appointment_date, s.start_time, s.end_time,
		       s.is_booked, s.is_blocked, s.appointment_id, s.booked_at, s.created_at, s.updated_at
		FROM appointment_slots s
		LEFT JOIN appointments a ON a.id = s.appointment_id
		WHERE s.is_booked = true
		  AND (
		        (s.appointment_id IS NULL AND s.booked_at < now() - interval '5 minutes')
		     OR (s.appointment_id IS NOT NULL AND (a.id IS NULL OR a.status = 'cancelled'))
		  )
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, hospital_id, slot_id, services_id,
			appointment_date, appointment_time, duration_minutes, appointment_type, is_priority,
			concern, symptoms, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.DoctorID, a.HospitalID, a.SlotID, a.ServiceID,
		a.AppointmentDate, a.AppointmentTime, a.DurationMinutes, a.Type, a.IsPriority,
		a.Concern, a.Symptoms, a.Notes, a.Status)

	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %s: %w", id, err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

// UpdateAppointmentSchedule rebinds an appointment to a new slot, conditional
// on the current status so two coordinators cannot race the same appointment.
func (r *PgRepository) UpdateAppointmentSchedule(ctx context.Context, id, slotID uuid.UUID, date time.Time, timeOfDay string, from []AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    appointment_date = $3,
		    appointment_time = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($5)
		RETURNING `+appointmentColumns,
		id, slotID, date, timeOfDay, statusStrings(from))
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason *string) (*Appointment, error) {
	if to == StatusCancelled {
		row := r.pool.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
			    cancellation_reason = $3,
			    cancelled_at = now(),
			    updated_at = now()
			WHERE id = $1
			  AND status = ANY($4)
			RETURNING `+appointmentColumns,
			id, to, reason, statusStrings(from))
		return scanAppointment(row)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns,
		id, to, statusStrings(from))
	return scanAppointment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
