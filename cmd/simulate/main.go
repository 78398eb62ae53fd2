package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/seed"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	ScheduleRatio   float64
	RescheduleRatio float64
	CancelRatio     float64
	CompleteRatio   float64
	ReadRatio       float64
	PatientLimit    int
}

type booking struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []api.DoctorResponse

	mu           sync.RWMutex
	appointments []booking // appointments this run created
}

func (dp *DataPool) AddAppointment(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booking{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
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

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Availability OperationMetrics
	Schedule     OperationMetrics
	Reschedule   OperationMetrics
	Cancel       OperationMetrics
	Complete     OperationMetrics
	Read         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("schedule", cfg.ScheduleRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("complete", cfg.CompleteRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := sim.loadDataPool(ctx, baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = dataPool
	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	if err := sim.Run(); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}
	sim.PrintReport()

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelAudit()
	violations, err := sim.Audit(auditCtx)
	if err != nil {
		logger.Fatal().Err(err).Msg("audit failed")
	}
	if violations > 0 {
		logger.Error().Int("violations", violations).Msg("double bookings detected")
		os.Exit(2)
	}
	logger.Info().Msg("audit clean: no doctor or patient is double booked")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		ScheduleRatio:   getFloat("SIM_SCHEDULE_RATIO", 0.45),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		CompleteRatio:   getFloat("SIM_COMPLETE_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
	}

	// Normalize ratios
	total := cfg.ScheduleRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.CompleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ScheduleRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.CompleteRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool reads doctors from the API. Patients come from Postgres, or
// for memory storage are regenerated from the server's SEED_VALUE.
func (s *Simulator) loadDataPool(ctx context.Context, baseCfg config.Config) (*DataPool, error) {
	dataPool := &DataPool{}

	if err := s.getJSON(ctx, "/doctors", &dataPool.Doctors); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	switch baseCfg.Storage {
	case config.StoragePostgres:
		pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, 2)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		defer pgPool.Close()

		rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT $1`, s.config.PatientLimit)
		if err != nil {
			return nil, fmt.Errorf("load patients: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			dataPool.Patients = append(dataPool.Patients, id)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

	case config.StorageMemory:
		if baseCfg.SeedValue == 0 {
			return nil, errors.New("memory storage: set the same non-zero SEED_VALUE for the server and the simulator")
		}
		gen := seed.NewGenerator(baseCfg.SeedValue)
		gen.Doctors(baseCfg.SeedDoctors)
		for _, p := range gen.Patients(min(baseCfg.SeedPatients, s.config.PatientLimit)) {
			dataPool.Patients = append(dataPool.Patients, p.ID)
		}
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			s.worker(ctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info().Msg("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.ScheduleRatio:
			s.doSchedule(ctx, rng)
		case r < s.config.ScheduleRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.ScheduleRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < 1-s.config.ReadRatio:
			s.doComplete(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

// pickSlot walks the availability endpoints the way a booking desk would and
// returns a free date and time for doctor, if any.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, doctorID uuid.UUID) (date, slot string, ok bool) {
	start := time.Now()
	var dates api.AvailableDatesResponse
	err := s.getJSON(ctx, "/doctors/"+doctorID.String()+"/availability", &dates)
	if err != nil || len(dates.Dates) == 0 {
		s.metrics.Availability.Record(time.Since(start), false, err == nil)
		return "", "", false
	}
	date = dates.Dates[rng.Intn(len(dates.Dates))].Date

	var times api.AvailableTimesResponse
	err = s.getJSON(ctx, "/doctors/"+doctorID.String()+"/availability/"+date, &times)
	s.metrics.Availability.Record(time.Since(start), err == nil && len(times.Times) > 0, err == nil)
	if err != nil || len(times.Times) == 0 {
		return "", "", false
	}
	return date, times.Times[rng.Intn(len(times.Times))].Time, true
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	date, slot, ok := s.pickSlot(ctx, rng, doctor.ID)
	if !ok {
		return
	}

	start := time.Now()
	status, body, err := s.send(ctx, http.MethodPost, "/appointments", api.ScheduleAppointmentRequest{
		PatientID: patientID.String(),
		DoctorID:  doctor.ID.String(),
		Date:      date,
		Time:      slot,
		Reason:    "simulated visit",
	})
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		var appt api.AppointmentResponse
		if json.Unmarshal(body, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(booking{ID: appt.ID, DoctorID: doctor.ID})
		}
	}
	s.metrics.Schedule.Record(latency, success, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	date, slot, ok := s.pickSlot(ctx, rng, b.DoctorID)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/reschedule",
		api.RescheduleAppointmentRequest{Date: date, Time: slot})
	s.metrics.Reschedule.Record(time.Since(start), err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", nil)
	s.metrics.Cancel.Record(time.Since(start), err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	base := "/appointments/" + b.ID.String()
	status, _, err := s.send(ctx, http.MethodPost, base+"/checkup", nil)
	if err == nil && status == http.StatusOK {
		status, _, err = s.send(ctx, http.MethodPost, base+"/complete", nil)
	}
	s.metrics.Complete.Record(time.Since(start), err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	path := "/appointments?patient_id=" + s.pool.Patients[rng.Intn(len(s.pool.Patients))].String()
	if b, ok := s.pool.RandomAppointment(rng); ok && rng.Intn(2) == 0 {
		path = "/appointments/" + b.ID.String()
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, path, nil)
	s.metrics.Read.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// Audit fetches every appointment and checks that no two blocking ones share
// a doctor or a patient at the same instant.
func (s *Simulator) Audit(ctx context.Context) (int, error) {
	var list api.ListAppointmentsResponse
	if err := s.getJSON(ctx, "/appointments", &list); err != nil {
		return 0, err
	}

	appts := make([]appointment.Appointment, 0, len(list.Appointments))
	for _, a := range list.Appointments {
		appts = append(appts, appointment.Appointment{
			ID:        a.ID,
			PatientID: a.PatientID,
			DoctorID:  a.DoctorID,
			StartsAt:  a.StartsAt,
			Status:    appointment.AppointmentStatus(a.Status),
		})
	}

	violations := 0
	for _, a := range appts {
		if !a.Status.Blocking() {
			continue
		}
		if c := appointment.FindConflict(a, appts); c != nil {
			violations++
			s.logger.Error().Err(c).Msg("conflict found")
		}
	}
	s.logger.Info().Int("appointments", len(appts)).Msg("audit complete")
	return violations, nil
}

func (s *Simulator) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func (s *Simulator) getJSON(ctx context.Context, path string, v any) error {
	status, body, err := s.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, status, body)
	}
	return json.Unmarshal(body, v)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Schedule", &s.metrics.Schedule)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Checkup + complete", &s.metrics.Complete)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
