package attendance_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"timekeeper-go/internal/core/attendance"
	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/ledger"
	"timekeeper-go/internal/util/timezone"
)

func TestMain(m *testing.M) {
	// Restart reconstruction parses ledger timestamps in the configured
	// timezone; pin it so instant comparisons are stable on any host.
	os.Setenv("TZ", "UTC")
	timezone.Initialize()
	os.Exit(m.Run())
}

// memoryLedger implements ledger.Ledger for tests, with an optional failure
// switch to exercise the retry path.
type memoryLedger struct {
	events []models.AttendanceEvent
	fail   bool
}

func (m *memoryLedger) Append(ev *models.AttendanceEvent) error {
	if m.fail {
		return ledger.ErrWriteFailed
	}
	m.events = append(m.events, *ev)
	return nil
}

func (m *memoryLedger) LatestStatuses() (map[string]models.AttendanceState, error) {
	states := make(map[string]models.AttendanceState)
	for i := range m.events {
		ev := &m.events[i]
		at, err := ev.EventTime(timezone.Location())
		if err != nil {
			return nil, err
		}
		states[ev.Name] = models.AttendanceState{
			Identity:      ev.Name,
			Status:        ev.Status,
			LastEventTime: at,
		}
	}
	return states, nil
}

func (m *memoryLedger) Recent(limit int) ([]models.AttendanceEvent, error) {
	out := make([]models.AttendanceEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

// nilStateLedger answers "no prior events" with a nil map, which the
// interface permits.
type nilStateLedger struct {
	memoryLedger
}

func (n *nilStateLedger) LatestStatuses() (map[string]models.AttendanceState, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) (*attendance.Engine, *memoryLedger) {
	t.Helper()
	led := &memoryLedger{}
	eng, err := attendance.NewEngine(attendance.Config{
		Threshold: 0.6,
		Cooldown:  5 * time.Second,
	}, led)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, led
}

func obsAt(identity string, confidence float64, at time.Time) models.Observation {
	return models.Observation{Identity: identity, Confidence: confidence, Timestamp: at}
}

var t0 = time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)

func TestFirstSightingCommitsIn(t *testing.T) {
	eng, led := newTestEngine(t)

	ev, err := eng.Evaluate(obsAt("Alice", 0.8, t0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event for first sighting")
	}
	if ev.Status != models.StatusIn {
		t.Errorf("first event status = %s, want IN", ev.Status)
	}
	if ev.Name != "Alice" {
		t.Errorf("event name = %q, want Alice", ev.Name)
	}
	if ev.Confidence != 0.8 {
		t.Errorf("event confidence = %v, want 0.8", ev.Confidence)
	}
	if len(led.events) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(led.events))
	}
	if led.events[0].Date != "2026-03-09" || led.events[0].Time != "08:30:00" {
		t.Errorf("event date/time = %s %s, want 2026-03-09 08:30:00", led.events[0].Date, led.events[0].Time)
	}
}

// Scenario A: repeat sighting inside the cooldown window is suppressed.
func TestCooldownSuppressesRepeatSighting(t *testing.T) {
	eng, led := newTestEngine(t)

	if ev, _ := eng.Evaluate(obsAt("Alice", 0.8, t0)); ev == nil {
		t.Fatal("expected IN event at t=0")
	}

	ev, err := eng.Evaluate(obsAt("Alice", 0.9, t0.Add(2*time.Second)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev != nil {
		t.Errorf("expected suppression inside cooldown, got %s event", ev.Status)
	}
	if len(led.events) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(led.events))
	}

	st, ok := eng.State("Alice")
	if !ok || st.Status != models.StatusIn {
		t.Errorf("state after suppression = %+v, want IN unchanged", st)
	}
	if !st.LastEventTime.Equal(t0) {
		t.Errorf("suppression must not advance last event time, got %v", st.LastEventTime)
	}
}

// Scenario B: a sighting after the cooldown elapsed toggles to OUT.
func TestToggleAfterCooldown(t *testing.T) {
	eng, _ := newTestEngine(t)

	if ev, _ := eng.Evaluate(obsAt("Alice", 0.8, t0)); ev == nil {
		t.Fatal("expected IN event at t=0")
	}

	ev, err := eng.Evaluate(obsAt("Alice", 0.75, t0.Add(6*time.Second)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev == nil {
		t.Fatal("expected OUT event after cooldown elapsed")
	}
	if ev.Status != models.StatusOut {
		t.Errorf("second event status = %s, want OUT", ev.Status)
	}
}

// Scenario C: unknown faces never commit, regardless of confidence.
func TestUnknownIdentityIgnored(t *testing.T) {
	eng, led := newTestEngine(t)

	ev, err := eng.Evaluate(obsAt(models.UnknownIdentity, 0.95, t0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev != nil {
		t.Error("unknown identity must not commit an event")
	}
	if len(led.events) != 0 {
		t.Errorf("expected empty ledger, got %d rows", len(led.events))
	}
	if _, ok := eng.State(models.UnknownIdentity); ok {
		t.Error("unknown identity must not create state")
	}
}

// Scenario D: below-threshold observations leave no trace; cooldown does not
// apply because no prior event exists.
func TestBelowThresholdThenValidSighting(t *testing.T) {
	eng, led := newTestEngine(t)

	ev, err := eng.Evaluate(obsAt("Bob", 0.5, t0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev != nil {
		t.Error("below-threshold observation must not commit")
	}
	if _, ok := eng.State("Bob"); ok {
		t.Error("below-threshold observation must not create state")
	}

	ev, err = eng.Evaluate(obsAt("Bob", 0.7, t0.Add(1*time.Second)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev == nil {
		t.Fatal("expected IN event one second later: no prior event means no cooldown")
	}
	if ev.Status != models.StatusIn {
		t.Errorf("event status = %s, want IN", ev.Status)
	}
	if len(led.events) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(led.events))
	}
}

// The committed sequence per identity strictly alternates starting with IN.
func TestAlternationInvariant(t *testing.T) {
	eng, led := newTestEngine(t)

	at := t0
	for i := 0; i < 7; i++ {
		if ev, err := eng.Evaluate(obsAt("Alice", 0.9, at)); err != nil || ev == nil {
			t.Fatalf("sighting %d: ev=%v err=%v", i, ev, err)
		}
		at = at.Add(10 * time.Second)
	}

	want := models.StatusIn
	for i, ev := range led.events {
		if ev.Status != want {
			t.Errorf("event %d status = %s, want %s", i, ev.Status, want)
		}
		want = want.Toggle()
	}
}

func TestIndependentIdentities(t *testing.T) {
	eng, _ := newTestEngine(t)

	if ev, _ := eng.Evaluate(obsAt("Alice", 0.8, t0)); ev == nil {
		t.Fatal("expected Alice IN")
	}
	// Bob arrives one second later: Alice's cooldown must not affect him.
	ev, err := eng.Evaluate(obsAt("Bob", 0.8, t0.Add(1*time.Second)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev == nil || ev.Status != models.StatusIn {
		t.Fatalf("expected Bob IN, got %v", ev)
	}
}

// Reconstructing state from the ledger yields the same state held in memory
// before a restart.
func TestIdempotentRestart(t *testing.T) {
	eng, led := newTestEngine(t)

	steps := []struct {
		name string
		at   time.Time
	}{
		{"Alice", t0},
		{"Bob", t0.Add(2 * time.Second)},
		{"Alice", t0.Add(10 * time.Second)},
		{"Carol", t0.Add(12 * time.Second)},
	}
	for _, s := range steps {
		if _, err := eng.Evaluate(obsAt(s.name, 0.9, s.at)); err != nil {
			t.Fatalf("Evaluate(%s): %v", s.name, err)
		}
	}

	before := eng.States()

	restarted, err := attendance.NewEngine(attendance.Config{
		Threshold: 0.6,
		Cooldown:  5 * time.Second,
	}, led)
	if err != nil {
		t.Fatalf("NewEngine after restart: %v", err)
	}
	after := restarted.States()

	if len(after) != len(before) {
		t.Fatalf("restart state count = %d, want %d", len(after), len(before))
	}
	for name, want := range before {
		got, ok := after[name]
		if !ok {
			t.Errorf("identity %q missing after restart", name)
			continue
		}
		if got.Status != want.Status {
			t.Errorf("%q status after restart = %s, want %s", name, got.Status, want.Status)
		}
		if !got.LastEventTime.Equal(want.LastEventTime) {
			t.Errorf("%q last event time after restart = %v, want %v", name, got.LastEventTime, want.LastEventTime)
		}
	}
}

// A failed append keeps the in-memory transition and retries the write on the
// next opportunity, preserving order.
func TestLedgerFailureRetainsTransitionAndRetries(t *testing.T) {
	led := &memoryLedger{fail: true}
	eng, err := attendance.NewEngine(attendance.Config{
		Threshold: 0.6,
		Cooldown:  5 * time.Second,
	}, led)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ev, err := eng.Evaluate(obsAt("Alice", 0.8, t0))
	if !errors.Is(err, ledger.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if ev == nil || ev.Status != models.StatusIn {
		t.Fatal("event must still be returned when the append fails")
	}

	// The decision is committed in memory despite the failed write.
	st, ok := eng.State("Alice")
	if !ok || st.Status != models.StatusIn {
		t.Fatalf("state after failed append = %+v, want IN", st)
	}
	if eng.PendingWrites() != 1 {
		t.Fatalf("pending writes = %d, want 1", eng.PendingWrites())
	}

	// Storage comes back; the next evaluation drains the queue first.
	led.fail = false
	ev, err = eng.Evaluate(obsAt("Alice", 0.85, t0.Add(10*time.Second)))
	if err != nil {
		t.Fatalf("Evaluate after recovery: %v", err)
	}
	if ev == nil || ev.Status != models.StatusOut {
		t.Fatalf("expected OUT after recovery, got %v", ev)
	}

	if eng.PendingWrites() != 0 {
		t.Errorf("pending writes after recovery = %d, want 0", eng.PendingWrites())
	}
	if len(led.events) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(led.events))
	}
	if led.events[0].Status != models.StatusIn || led.events[1].Status != models.StatusOut {
		t.Errorf("ledger order = %s,%s; want IN,OUT", led.events[0].Status, led.events[1].Status)
	}
}

// A ledger reporting no prior events as a nil map must still yield a working
// engine: the first sighting commits IN instead of panicking.
func TestNewEngineWithNilLedgerState(t *testing.T) {
	led := &nilStateLedger{}
	eng, err := attendance.NewEngine(attendance.Config{Threshold: 0.6, Cooldown: 5 * time.Second}, led)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ev, err := eng.Evaluate(obsAt("Alice", 0.9, t0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev == nil || ev.Status != models.StatusIn {
		t.Fatalf("expected IN event on first sighting, got %v", ev)
	}
	if st, ok := eng.State("Alice"); !ok || st.Status != models.StatusIn {
		t.Errorf("state = %+v ok=%v, want IN", st, ok)
	}
}

func TestFlushPending(t *testing.T) {
	led := &memoryLedger{fail: true}
	eng, err := attendance.NewEngine(attendance.Config{Threshold: 0.6, Cooldown: 5 * time.Second}, led)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := eng.Evaluate(obsAt("Alice", 0.8, t0)); !errors.Is(err, ledger.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}

	led.fail = false
	if err := eng.FlushPending(); err != nil {
		t.Fatalf("FlushPending: %v", err)
	}
	if len(led.events) != 1 {
		t.Errorf("ledger rows after flush = %d, want 1", len(led.events))
	}
}
