package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/appointment-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 10, 1)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hospitalIDs, err := seedHospitals(context.Background(), pool, 10)
	if err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, hospitalIDs, 100)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedServices(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed services: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d hospitals", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := fmt.Sprintf("%s %s Hospital", gofakeit.City(), gofakeit.LastName())

		_, err := tx.Exec(ctx, `
			INSERT INTO hospitals (id, name, created_at)
			VALUES ($1, $2, now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("hospitals seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, hospitalIDs []uuid.UUID, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		hospital := hospitalIDs[gofakeit.Number(0, len(hospitalIDs)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, hospital_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, hospital, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding services for %d doctors", len(doctorIDs))

	services := []string{
		"Consultation",
		"Follow-up Visit",
		"Annual Checkup",
		"Diagnostic Review",
		"Vaccination",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		n := gofakeit.Number(2, 4)
		for i := 0; i < n; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO medical_services (id, doctor_id, name)
				VALUES ($1, $2, $3)
			`, uuid.New(), doctorID, services[i%len(services)])
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("services seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			// user_id stands in for the external auth subject
			_, err := tx.Exec(ctx, `
				INSERT INTO patient_profiles (id, user_id, full_name, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), uuid.New(), gofakeit.Name())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, days int) error {
	log.Printf("seeding slots for %d doctors over %d days", len(doctorIDs), days)

	today := time.Now().Truncate(24 * time.Hour)

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		var hospitalID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT hospital_id FROM doctors WHERE id = $1`, doctorID).Scan(&hospitalID); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		for day := 1; day <= days; day++ {
			date := today.AddDate(0, 0, day)
			// 09:00 to 17:00, 30-minute slots
			for hour := 9; hour < 17; hour++ {
				for _, minute := range []int{0, 30} {
					start := fmt.Sprintf("%02d:%02d", hour, minute)
					endMinute := minute + 30
					endHour := hour
					if endMinute == 60 {
						endMinute = 0
						endHour++
					}
					end := fmt.Sprintf("%02d:%02d", endHour, endMinute)

					_, err := tx.Exec(ctx, `
						INSERT INTO appointment_slots (id, doctor_id, hospital_id, appointment_date,
							start_time, end_time, is_booked, is_blocked, created_at, updated_at)
						VALUES ($1, $2, $3, $4, $5, $6, false, $7, now(), now())
					`, uuid.New(), doctorID, hospitalID, date, start, end, gofakeit.Number(0, 19) == 0)
					if err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("slots seeded")
	return nil
}
