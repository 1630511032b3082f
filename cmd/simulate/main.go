package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/appointment-booking/internal/db"
)

// simulate hammers the booking API with concurrent workers and then checks
// the store-level invariants: no slot claimed by two live appointments, no
// live appointment whose schedule differs from its slot.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	CancelRatio  float64
	ReschedRatio float64
	UserLimit    int
	SlotLimit    int
	PostgresDSN  string
}

type bookedAppointment struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

type DataPool struct {
	Users []uuid.UUID
	Slots []uuid.UUID

	mu     sync.RWMutex
	booked []bookedAppointment
}

func (dp *DataPool) AddBooked(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, a)
}

func (dp *DataPool) RandomBooked() (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.booked) == 0 {
		return bookedAppointment{}, false
	}
	return dp.booked[rand.Intn(len(dp.booked))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(p int) int {
		i := len(latencies) * p / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	log.Printf("simulate: url=%s workers=%d duration=%s", cfg.APIBaseURL, cfg.Workers, cfg.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 5, 1)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	data, err := loadDataPool(ctx, pool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d users and %d open slots", len(data.Users), len(data.Slots))

	bookMetrics := &OperationMetrics{}
	cancelMetrics := &OperationMetrics{}
	reschedMetrics := &OperationMetrics{}

	client := &http.Client{Timeout: 10 * time.Second}
	deadline := time.Now().Add(cfg.Duration)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				roll := rand.Float64()
				switch {
				case roll < cfg.CancelRatio:
					runCancel(client, cfg, data, cancelMetrics)
				case roll < cfg.CancelRatio+cfg.ReschedRatio:
					runReschedule(client, cfg, data, reschedMetrics)
				default:
					runBook(client, cfg, data, bookMetrics)
				}
			}
		}()
	}
	wg.Wait()

	report("book", bookMetrics)
	report("cancel", cancelMetrics)
	report("reschedule", reschedMetrics)

	if err := checkInvariants(ctx, pool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("all store invariants hold")
}

func loadSimConfig() SimConfig {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	return SimConfig{
		APIBaseURL:   envStr("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:     envDuration("SIM_DURATION", 30*time.Second),
		Workers:      envInt("SIM_WORKERS", 20),
		CancelRatio:  envFloat("SIM_CANCEL_RATIO", 0.1),
		ReschedRatio: envFloat("SIM_RESCHED_RATIO", 0.1),
		UserLimit:    envInt("SIM_USER_LIMIT", 500),
		SlotLimit:    envInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN:  dsn,
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	data := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT user_id FROM patient_profiles LIMIT $1`, cfg.UserLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.Users = append(data.Users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slotRows, err := pool.Query(ctx, `
		SELECT id FROM appointment_slots
		WHERE is_booked = false AND is_blocked = false
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, err
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var id uuid.UUID
		if err := slotRows.Scan(&id); err != nil {
			return nil, err
		}
		data.Slots = append(data.Slots, id)
	}
	if err := slotRows.Err(); err != nil {
		return nil, err
	}

	if len(data.Users) == 0 || len(data.Slots) == 0 {
		return nil, fmt.Errorf("need seeded users and open slots, run cmd/seed first")
	}

	return data, nil
}

func runBook(client *http.Client, cfg SimConfig, data *DataPool, m *OperationMetrics) {
	userID := data.Users[rand.Intn(len(data.Users))]
	// Deliberately narrow slot choice so workers collide on the same slots.
	slotID := data.Slots[rand.Intn(len(data.Slots))]

	body, _ := json.Marshal(map[string]any{
		"slot_id":     slotID.String(),
		"services_id": "other",
		"concern":     "simulated checkup",
	})

	status, respBody, latency := doRequest(client, http.MethodPost, cfg.APIBaseURL+"/book", userID, body)
	m.Record(latency, status == http.StatusCreated, status == http.StatusBadRequest || status == http.StatusConflict)

	if status == http.StatusCreated {
		var resp struct {
			Data struct {
				Appointment struct {
					ID uuid.UUID `json:"id"`
				} `json:"appointment"`
			} `json:"data"`
		}
		if err := json.Unmarshal(respBody, &resp); err == nil && resp.Data.Appointment.ID != uuid.Nil {
			data.AddBooked(bookedAppointment{ID: resp.Data.Appointment.ID, UserID: userID})
		}
	}
}

func runCancel(client *http.Client, cfg SimConfig, data *DataPool, m *OperationMetrics) {
	appt, ok := data.RandomBooked()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]any{
		"status":              "cancelled",
		"cancellation_reason": "simulation",
	})

	url := fmt.Sprintf("%s/appointments/%s", cfg.APIBaseURL, appt.ID)
	status, _, latency := doRequest(client, http.MethodPatch, url, appt.UserID, body)
	m.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func runReschedule(client *http.Client, cfg SimConfig, data *DataPool, m *OperationMetrics) {
	appt, ok := data.RandomBooked()
	if !ok {
		return
	}
	newSlot := data.Slots[rand.Intn(len(data.Slots))]

	body, _ := json.Marshal(map[string]any{
		"slot_id": newSlot.String(),
	})

	url := fmt.Sprintf("%s/appointments/%s", cfg.APIBaseURL, appt.ID)
	status, _, latency := doRequest(client, http.MethodPatch, url, appt.UserID, body)
	m.Record(latency, status == http.StatusOK,
		status == http.StatusBadRequest || status == http.StatusConflict)
}

func doRequest(client *http.Client, method, url string, userID uuid.UUID, body []byte) (int, []byte, time.Duration) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, latency
}

func report(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%s: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name, atomic.LoadInt64(&m.Total), atomic.LoadInt64(&m.Success),
		atomic.LoadInt64(&m.Conflict), atomic.LoadInt64(&m.Error), avg, p50, p95)
}

func checkInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubleClaims int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_id
			FROM appointments
			WHERE status IN ('pending', 'confirmed')
			GROUP BY slot_id
			HAVING count(*) > 1
		) dupes
	`).Scan(&doubleClaims)
	if err != nil {
		return err
	}
	if doubleClaims > 0 {
		return fmt.Errorf("%d slots are claimed by more than one live appointment", doubleClaims)
	}

	var mismatches int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointment_slots s ON s.id = a.slot_id
		WHERE a.status IN ('pending', 'confirmed')
		  AND (a.appointment_date <> s.appointment_date OR a.appointment_time <> s.start_time)
	`).Scan(&mismatches)
	if err != nil {
		return err
	}
	if mismatches > 0 {
		return fmt.Errorf("%d live appointments disagree with their slot's schedule", mismatches)
	}

	var unreferenced int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointment_slots s
		LEFT JOIN appointments a ON a.id = s.appointment_id
		WHERE s.is_booked = true
		  AND (s.appointment_id IS NULL OR a.id IS NULL)
	`).Scan(&unreferenced)
	if err != nil {
		return err
	}
	if unreferenced > 0 {
		return fmt.Errorf("%d booked slots have no backing appointment", unreferenced)
	}

	return nil
}
