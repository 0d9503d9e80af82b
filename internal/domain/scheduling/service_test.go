package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/events"
	"github.com/medbook/medbook/internal/platform/lock"
	"github.com/medbook/medbook/internal/platform/telemetry"
)

// -- Mock Repositories --

type mockScheduleRepo struct {
	mu     sync.Mutex
	scheds map[uuid.UUID]*Schedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{scheds: make(map[uuid.UUID]*Schedule)}
}

func (m *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.scheds {
		if existing.DoctorID == s.DoctorID && existing.Date == s.Date {
			return apperr.Invalid(msgScheduleExists)
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	m.scheds[s.ID] = s
	return nil
}

func (m *mockScheduleRepo) GetByDoctorDate(_ context.Context, doctorID uuid.UUID, date string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scheds {
		if s.DoctorID == doctorID && s.Date == date {
			return s, nil
		}
	}
	return nil, apperr.NotFound("schedule not found")
}

func (m *mockScheduleRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, date string) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Schedule
	for _, s := range m.scheds {
		if s.DoctorID == doctorID && (date == "" || s.Date == date) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result, nil
}

type mockAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
	// uniqueActive mimics the partial unique index on active slots.
	uniqueActive bool
	// createDelay widens the window between check and insert.
	createDelay time.Duration
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	if m.createDelay > 0 {
		time.Sleep(m.createDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uniqueActive {
		for _, existing := range m.appts {
			if existing.DoctorID == a.DoctorID && existing.Date == a.Date && existing.Time == a.Time && IsActive(existing.Status) {
				return apperr.Conflict(msgSlotBooked)
			}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) FindActive(_ context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Time == clock && IsActive(a.Status) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("appointment not found")
}

func (m *mockAppointmentRepo) ActiveTimes(_ context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == date && IsActive(a.Status) {
			out = append(out, a.Time)
		}
	}
	return out, nil
}

func (m *mockAppointmentRepo) list(match func(*Appointment) bool) []*AppointmentDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AppointmentDetail
	for _, a := range m.appts {
		if match(a) {
			out = append(out, &AppointmentDetail{Appointment: *a})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	return out
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*AppointmentDetail, error) {
	return m.list(func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *mockAppointmentRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*AppointmentDetail, error) {
	return m.list(func(a *Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to string, doctorNotes *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, apperr.Conflict("appointment was modified concurrently")
	}
	a.Status = to
	if doctorNotes != nil {
		a.DoctorNotes = doctorNotes
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

type mockDirectory struct {
	roles map[uuid.UUID]string
}

func (m *mockDirectory) LookupRole(_ context.Context, id uuid.UUID) (string, error) {
	role, ok := m.roles[id]
	if !ok {
		return "", apperr.NotFound("user not found")
	}
	return role, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type recordingRecorder struct {
	mu          sync.Mutex
	bookings    map[string]int
	transitions []string
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{bookings: make(map[string]int)}
}

func (r *recordingRecorder) ObserveBooking(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[outcome]++
}

func (r *recordingRecorder) ObserveTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+">"+to)
}

type countingTx struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return fn(ctx)
}

type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string) (func(), error) {
	return nil, lock.ErrTimeout
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// -- Fixture --

type fixture struct {
	svc       *Service
	schedules *mockScheduleRepo
	appts     *mockAppointmentRepo
	dir       *mockDirectory

	doctor   auth.Principal
	doctor2  auth.Principal
	patient  auth.Principal
	patient2 auth.Principal
	admin    auth.Principal
}

const testDate = "2025-06-01"

func newFixture() *fixture {
	f := &fixture{
		schedules: newMockScheduleRepo(),
		appts:     newMockAppointmentRepo(),
		dir:       &mockDirectory{roles: make(map[uuid.UUID]string)},
		doctor:    auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		doctor2:   auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		patient:   auth.Principal{ID: uuid.New(), Role: auth.RolePatient},
		patient2:  auth.Principal{ID: uuid.New(), Role: auth.RolePatient},
		admin:     auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin},
	}
	for _, p := range []auth.Principal{f.doctor, f.doctor2, f.patient, f.patient2, f.admin} {
		f.dir.roles[p.ID] = p.Role
	}
	f.svc = NewService(f.schedules, f.appts, f.dir)
	return f
}

func newTestService() *Service {
	return newFixture().svc
}

func (f *fixture) declare(t *testing.T, doctorID uuid.UUID, date string, slots ...TimeSlot) *Schedule {
	t.Helper()
	s := &Schedule{Date: date, TimeSlots: slots}
	if err := f.svc.CreateSchedule(context.Background(), doctorID, s); err != nil {
		t.Fatalf("declare schedule: %v", err)
	}
	return s
}

func (f *fixture) book(t *testing.T, patient auth.Principal, clock string) *Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(context.Background(), patient.ID, BookingRequest{
		DoctorID: f.doctor.ID, Date: testDate, Time: clock, Reason: "checkup",
	})
	if err != nil {
		t.Fatalf("book %s: %v", clock, err)
	}
	return a
}

func slot(start, end string) TimeSlot {
	return TimeSlot{StartTime: start, EndTime: end, IsAvailable: true}
}

func startTimes(slots []TimeSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime)
	}
	return out
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

// -- Schedule Tests --

func TestService_CreateSchedule(t *testing.T) {
	f := newFixture()
	s := f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"), slot("08:30", "09:00"))
	if s.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if s.DoctorID != f.doctor.ID {
		t.Error("expected schedule owned by the doctor")
	}
}

func TestService_CreateSchedule_DuplicateDate(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	err := f.svc.CreateSchedule(context.Background(), f.doctor.ID, &Schedule{Date: testDate, TimeSlots: []TimeSlot{slot("10:00", "10:30")}})
	assertKind(t, err, apperr.ErrInvalidRequest)

	// another doctor may use the same date
	f.declare(t, f.doctor2.ID, testDate, slot("08:00", "08:30"))
}

func TestService_CreateSchedule_Validation(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name  string
		sched Schedule
	}{
		{"bad date", Schedule{Date: "01/06/2025", TimeSlots: []TimeSlot{slot("08:00", "08:30")}}},
		{"no slots", Schedule{Date: testDate}},
		{"bad clock", Schedule{Date: testDate, TimeSlots: []TimeSlot{slot("8:00", "08:30")}}},
		{"end before start", Schedule{Date: testDate, TimeSlots: []TimeSlot{slot("09:00", "08:30")}}},
		{"duplicate start", Schedule{Date: testDate, TimeSlots: []TimeSlot{slot("08:00", "08:30"), slot("08:00", "09:00")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.sched
			assertKind(t, f.svc.CreateSchedule(context.Background(), f.doctor.ID, &s), apperr.ErrInvalidRequest)
		})
	}
}

func TestService_CreateSchedule_UnsortedOverlappingAllowed(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("09:00", "10:00"), slot("08:00", "09:30"))
}

func TestService_ListSchedules(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, "2025-06-03", slot("08:00", "08:30"))
	f.declare(t, f.doctor.ID, "2025-06-01", slot("08:00", "08:30"))

	all, err := f.svc.ListSchedules(context.Background(), f.doctor.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Date != "2025-06-01" {
		t.Errorf("expected 2 schedules sorted by date, got %+v", all)
	}

	one, _ := f.svc.ListSchedules(context.Background(), f.doctor.ID, "2025-06-03")
	if len(one) != 1 {
		t.Errorf("expected 1 schedule for the date filter, got %d", len(one))
	}

	none, _ := f.svc.ListSchedules(context.Background(), f.doctor2.ID, "")
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", none)
	}

	_, err = f.svc.ListSchedules(context.Background(), f.doctor.ID, "June")
	assertKind(t, err, apperr.ErrInvalidRequest)
}

// -- Availability Tests --

func TestService_GetAvailableSlots_NoSchedule(t *testing.T) {
	f := newFixture()
	slots, err := f.svc.GetAvailableSlots(context.Background(), f.doctor.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", slots)
	}
}

func TestService_GetAvailableSlots_ExcludesActiveOnly(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate,
		slot("08:00", "08:30"), slot("08:30", "09:00"), slot("09:00", "09:30"),
		slot("09:30", "10:00"), TimeSlot{StartTime: "10:00", EndTime: "10:30", IsAvailable: false})

	f.book(t, f.patient, "08:00")
	confirmed := f.book(t, f.patient, "08:30")
	completed := f.book(t, f.patient, "09:00")
	cancelled := f.book(t, f.patient, "09:30")

	ctx := context.Background()
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, confirmed.ID, StatusUpdate{Status: StatusConfirmed}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, completed.ID, StatusUpdate{Status: StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CancelAppointment(ctx, f.patient, cancelled.ID); err != nil {
		t.Fatal(err)
	}

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := startTimes(slots)
	if len(got) != 2 || got[0] != "09:00" || got[1] != "09:30" {
		t.Errorf("expected completed and cancelled slots only, got %v", got)
	}
}

// -- Booking Tests --

func TestService_CreateAppointment(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))

	notes := "first visit"
	a, err := f.svc.CreateAppointment(context.Background(), f.patient.ID, BookingRequest{
		DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "  fever ", Notes: &notes,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.PatientID != f.patient.ID || a.Reason != "fever" || a.Notes == nil || *a.Notes != notes {
		t.Errorf("unexpected appointment %+v", a)
	}

	// booking never flips the declared flag
	sched, _ := f.schedules.GetByDoctorDate(context.Background(), f.doctor.ID, testDate)
	if !sched.TimeSlots[0].IsAvailable {
		t.Error("expected schedule to be left untouched")
	}
}

func TestService_CreateAppointment_ValidationOrder(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate,
		slot("08:00", "08:30"), TimeSlot{StartTime: "09:00", EndTime: "09:30", IsAvailable: false})
	f.book(t, f.patient, "08:00")

	tests := []struct {
		name string
		req  BookingRequest
		kind error
	}{
		{"malformed date", BookingRequest{DoctorID: f.doctor.ID, Date: "2025-6-1", Time: "08:00", Reason: "x"}, apperr.ErrInvalidRequest},
		{"missing reason", BookingRequest{DoctorID: f.doctor.ID, Date: testDate, Time: "08:00"}, apperr.ErrInvalidRequest},
		{"unknown doctor", BookingRequest{DoctorID: uuid.New(), Date: testDate, Time: "08:00", Reason: "x"}, apperr.ErrNotFound},
		{"user is not a doctor", BookingRequest{DoctorID: f.patient2.ID, Date: testDate, Time: "08:00", Reason: "x"}, apperr.ErrNotFound},
		{"no schedule that day", BookingRequest{DoctorID: f.doctor.ID, Date: "2025-06-02", Time: "08:00", Reason: "x"}, apperr.ErrInvalidRequest},
		{"time matches no slot start", BookingRequest{DoctorID: f.doctor.ID, Date: testDate, Time: "08:15", Reason: "x"}, apperr.ErrInvalidRequest},
		{"slot declared unavailable", BookingRequest{DoctorID: f.doctor.ID, Date: testDate, Time: "09:00", Reason: "x"}, apperr.ErrInvalidRequest},
		{"slot already booked", BookingRequest{DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "x"}, apperr.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(context.Background(), f.patient2.ID, tt.req)
			assertKind(t, err, tt.kind)
		})
	}

	if n := len(f.appts.appts); n != 1 {
		t.Errorf("expected failed bookings to leave no records, got %d", n)
	}
}

func TestService_CreateAppointment_RunsInTransaction(t *testing.T) {
	f := newFixture()
	tx := &countingTx{}
	f.svc.SetTransactor(tx)
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	f.book(t, f.patient, "08:00")
	if tx.calls != 1 {
		t.Errorf("expected 1 transaction, got %d", tx.calls)
	}
}

func TestService_CreateAppointment_ConcurrentSameSlot(t *testing.T) {
	f := newFixture()
	f.appts.createDelay = 2 * time.Millisecond
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))

	const n = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), uuid.New(), BookingRequest{
				DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "race",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("expected exactly one booking, got %d", ok)
	}
	if conflicts != n-1 {
		t.Errorf("expected %d conflicts, got %d", n-1, conflicts)
	}
}

func TestService_CreateAppointment_ConcurrentDifferentSlots(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"), slot("08:30", "09:00"), slot("09:00", "09:30"))

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, clock := range []string{"08:00", "08:30", "09:00"} {
		wg.Add(1)
		go func(clock string) {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), uuid.New(), BookingRequest{
				DoctorID: f.doctor.ID, Date: testDate, Time: clock, Reason: "parallel",
			})
			errs <- err
		}(clock)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestService_CreateAppointment_UniqueIndexWithoutLock(t *testing.T) {
	f := newFixture()
	f.svc.SetLocker(noopLocker{})
	f.appts.uniqueActive = true
	f.appts.createDelay = 2 * time.Millisecond
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), uuid.New(), BookingRequest{
				DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "race",
			})
			if err != nil && !errors.Is(err, apperr.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Errorf("expected exactly one booking, got %d", ok)
	}
}

func TestService_CreateAppointment_LockTimeout(t *testing.T) {
	f := newFixture()
	f.svc.SetLocker(timeoutLocker{})
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	_, err := f.svc.CreateAppointment(context.Background(), f.patient.ID, BookingRequest{
		DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "x",
	})
	assertKind(t, err, apperr.ErrConflict)
}

func TestService_CreateAppointment_RecordsOutcomes(t *testing.T) {
	f := newFixture()
	rec := newRecordingRecorder()
	f.svc.SetRecorder(rec)
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))

	f.book(t, f.patient, "08:00")
	req := BookingRequest{DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "x"}
	_, _ = f.svc.CreateAppointment(context.Background(), f.patient2.ID, req)
	req.Time = "11:00"
	_, _ = f.svc.CreateAppointment(context.Background(), f.patient2.ID, req)

	if rec.bookings[telemetry.OutcomeBooked] != 1 || rec.bookings[telemetry.OutcomeConflict] != 1 || rec.bookings[telemetry.OutcomeRejected] != 1 {
		t.Errorf("unexpected outcomes %v", rec.bookings)
	}
}

func TestService_CreateAppointment_PublishesEvent(t *testing.T) {
	f := newFixture()
	pub := &recordingPublisher{}
	f.svc.SetPublisher(pub)
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))

	a := f.book(t, f.patient, "08:00")
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	evt := pub.events[0]
	if evt.Type != events.TypeAppointmentCreated || evt.AppointmentID != a.ID || evt.ActorID != f.patient.ID {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestService_CreateAppointment_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.svc.SetPublisher(&recordingPublisher{err: errors.New("broker down")})
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	f.book(t, f.patient, "08:00")
}

// -- Lifecycle Tests --

func TestService_UpdateAppointmentStatus_DoctorFlow(t *testing.T) {
	f := newFixture()
	pub := &recordingPublisher{}
	rec := newRecordingRecorder()
	f.svc.SetPublisher(pub)
	f.svc.SetRecorder(rec)
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	a := f.book(t, f.patient, "08:00")
	ctx := context.Background()

	confirmed, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, a.ID, StatusUpdate{Status: StatusConfirmed})
	if err != nil || confirmed.Status != StatusConfirmed {
		t.Fatalf("confirm: %v", err)
	}

	notes := "bring lab results"
	completed, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, a.ID, StatusUpdate{Status: StatusCompleted, DoctorNotes: &notes})
	if err != nil || completed.Status != StatusCompleted {
		t.Fatalf("complete: %v", err)
	}
	if completed.DoctorNotes == nil || *completed.DoctorNotes != notes {
		t.Errorf("expected doctor notes, got %v", completed.DoctorNotes)
	}

	if len(rec.transitions) != 2 || rec.transitions[0] != "pending>confirmed" || rec.transitions[1] != "confirmed>completed" {
		t.Errorf("unexpected transitions %v", rec.transitions)
	}
	last := pub.events[len(pub.events)-1]
	if last.Type != events.TypeAppointmentStatusChanged || last.PreviousStatus != StatusConfirmed || last.Status != StatusCompleted {
		t.Errorf("unexpected event %+v", last)
	}
}

func TestService_UpdateAppointmentStatus_Authorization(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	a := f.book(t, f.patient, "08:00")
	notes := "n"

	tests := []struct {
		name  string
		actor auth.Principal
		upd   StatusUpdate
		kind  error
	}{
		{"patient confirms own", f.patient, StatusUpdate{Status: StatusConfirmed}, apperr.ErrForbidden},
		{"patient completes own", f.patient, StatusUpdate{Status: StatusCompleted}, apperr.ErrForbidden},
		{"patient sets doctor notes", f.patient, StatusUpdate{Status: StatusCancelled, DoctorNotes: &notes}, apperr.ErrForbidden},
		{"other patient cancels", f.patient2, StatusUpdate{Status: StatusCancelled}, apperr.ErrForbidden},
		{"other doctor confirms", f.doctor2, StatusUpdate{Status: StatusConfirmed}, apperr.ErrForbidden},
		{"admin confirms", f.admin, StatusUpdate{Status: StatusConfirmed}, apperr.ErrForbidden},
		{"unknown status", f.doctor, StatusUpdate{Status: "noshow"}, apperr.ErrInvalidRequest},
		{"doctor resets to pending", f.doctor, StatusUpdate{Status: StatusPending}, apperr.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateAppointmentStatus(context.Background(), tt.actor, a.ID, tt.upd)
			assertKind(t, err, tt.kind)
		})
	}

	got, _ := f.appts.GetByID(context.Background(), a.ID)
	if got.Status != StatusPending {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func TestService_UpdateAppointmentStatus_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.UpdateAppointmentStatus(context.Background(), f.doctor, uuid.New(), StatusUpdate{Status: StatusConfirmed})
	assertKind(t, err, apperr.ErrNotFound)
}

func TestService_UpdateAppointmentStatus_PatientCancels(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	a := f.book(t, f.patient, "08:00")

	got, err := f.svc.UpdateAppointmentStatus(context.Background(), f.patient, a.ID, StatusUpdate{Status: StatusCancelled})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestService_UpdateAppointmentStatus_TerminalStates(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"), slot("08:30", "09:00"))
	ctx := context.Background()

	done := f.book(t, f.patient, "08:00")
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, done.ID, StatusUpdate{Status: StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, done.ID, StatusUpdate{Status: StatusCancelled})
	assertKind(t, err, apperr.ErrInvalidRequest)

	notes := "follow up in two weeks"
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, done.ID, StatusUpdate{Status: StatusCompleted, DoctorNotes: &notes}); err != nil {
		t.Errorf("expected doctor to amend notes on a completed appointment, got %v", err)
	}

	gone := f.book(t, f.patient, "08:30")
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, gone.ID, StatusUpdate{Status: StatusCancelled}); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.UpdateAppointmentStatus(ctx, f.doctor, gone.ID, StatusUpdate{Status: StatusConfirmed})
	assertKind(t, err, apperr.ErrInvalidRequest)
}

// -- Cancellation Tests --

func TestService_CancelAppointment(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	a := f.book(t, f.patient, "08:00")
	ctx := context.Background()

	_, err := f.svc.CancelAppointment(ctx, f.patient2, a.ID)
	assertKind(t, err, apperr.ErrForbidden)
	_, err = f.svc.CancelAppointment(ctx, f.doctor, a.ID)
	assertKind(t, err, apperr.ErrForbidden)
	_, err = f.svc.CancelAppointment(ctx, f.patient, uuid.New())
	assertKind(t, err, apperr.ErrNotFound)

	got, err := f.svc.CancelAppointment(ctx, f.patient, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if _, err := f.appts.GetByID(ctx, a.ID); err != nil {
		t.Error("expected the record to be kept after cancellation")
	}

	_, err = f.svc.CancelAppointment(ctx, f.patient, a.ID)
	assertKind(t, err, apperr.ErrInvalidRequest)
}

// -- End to end --

func TestFlow_SecondBookingConflicts(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))

	a := f.book(t, f.patient, "08:00")
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	_, err := f.svc.CreateAppointment(context.Background(), f.patient2.ID, BookingRequest{
		DoctorID: f.doctor.ID, Date: testDate, Time: "08:00", Reason: "second",
	})
	assertKind(t, err, apperr.ErrConflict)
}

func TestFlow_NoScheduleIsEmpty(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	slots, err := f.svc.GetAvailableSlots(context.Background(), f.doctor.ID, "2025-06-02")
	if err != nil || len(slots) != 0 {
		t.Errorf("expected empty list without error, got %v (%v)", slots, err)
	}
}

func TestFlow_CancellationReleasesSlot(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	ctx := context.Background()

	a := f.book(t, f.patient, "08:00")
	slots, _ := f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	if len(slots) != 0 {
		t.Fatalf("expected slot to be held, got %v", startTimes(slots))
	}

	if _, err := f.svc.CancelAppointment(ctx, f.patient, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	slots, _ = f.svc.GetAvailableSlots(ctx, f.doctor.ID, testDate)
	if len(slots) != 1 || slots[0].StartTime != "08:00" {
		t.Fatalf("expected 08:00 to be available again, got %v", startTimes(slots))
	}

	again := f.book(t, f.patient2, "08:00")
	if again.PatientID != f.patient2.ID {
		t.Error("expected another patient to rebook the released slot")
	}
}

func TestFlow_CompletedCannotBeCancelledByPatient(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	ctx := context.Background()
	a := f.book(t, f.patient, "08:00")

	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, a.ID, StatusUpdate{Status: StatusConfirmed}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.doctor, a.ID, StatusUpdate{Status: StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CancelAppointment(ctx, f.patient, a.ID)
	assertKind(t, err, apperr.ErrInvalidRequest)
	_, err = f.svc.UpdateAppointmentStatus(ctx, f.patient, a.ID, StatusUpdate{Status: StatusCancelled})
	assertKind(t, err, apperr.ErrInvalidRequest)
}

// -- Query Tests --

func TestService_ListMyAppointments(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"), slot("09:00", "09:30"))
	f.book(t, f.patient, "08:00")
	f.book(t, f.patient2, "09:00")
	ctx := context.Background()

	mine, err := f.svc.ListMyAppointments(ctx, f.patient)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected 1 appointment for the patient, got %d (%v)", len(mine), err)
	}
	doc, _ := f.svc.ListMyAppointments(ctx, f.doctor)
	if len(doc) != 2 || doc[0].Time != "09:00" {
		t.Errorf("expected 2 appointments newest first for the doctor, got %d", len(doc))
	}
	other, _ := f.svc.ListMyAppointments(ctx, f.doctor2)
	if other == nil || len(other) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", other)
	}
	_, err = f.svc.ListMyAppointments(ctx, f.admin)
	assertKind(t, err, apperr.ErrForbidden)
}

func TestService_GetAppointment(t *testing.T) {
	f := newFixture()
	f.declare(t, f.doctor.ID, testDate, slot("08:00", "08:30"))
	a := f.book(t, f.patient, "08:00")
	ctx := context.Background()

	for _, actor := range []auth.Principal{f.patient, f.doctor, f.admin} {
		if _, err := f.svc.GetAppointment(ctx, actor, a.ID); err != nil {
			t.Errorf("expected %s to read the appointment, got %v", actor.Role, err)
		}
	}
	_, err := f.svc.GetAppointment(ctx, f.patient2, a.ID)
	assertKind(t, err, apperr.ErrForbidden)
	_, err = f.svc.GetAppointment(ctx, f.patient, uuid.New())
	assertKind(t, err, apperr.ErrNotFound)
}
