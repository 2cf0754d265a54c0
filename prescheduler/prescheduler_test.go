package prescheduler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/prescheduler"
)

type dispatched struct {
	at, local float64
	payload   any
}

type recorder struct {
	clock  *clock.Fake
	events []dispatched
}

func (r *recorder) Dispatch(localTime float64, payload any) error {
	r.events = append(r.events, dispatched{at: clock.Seconds(r.clock), local: localTime, payload: payload})
	return nil
}

func (r *recorder) payloads() []any {
	var ret []any
	for _, e := range r.events {
		ret = append(ret, e.payload)
	}
	return ret
}

func zeroOffset() float64 { return 0 }

func setup(opts ...prescheduler.Option) (*prescheduler.Prescheduler, *recorder, *clock.Fake) {
	fake := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{clock: fake}
	return prescheduler.New(rec, prescheduler.OffsetFunc(zeroOffset), fake, opts...), rec, fake
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestDispatchOrder(t *testing.T) {
	p, rec, fake := setup()
	defer p.Close()
	p.Schedule("run", "ed", 1005, "a")
	p.Schedule("run", "ed", 1002, "b")
	p.Schedule("run", "ed", 1008, "c")
	p.Schedule("run", "ed", 1002, "d")
	if len(rec.events) != 0 {
		t.Fatal("nothing should be dispatched yet")
	}
	fake.Advance(10 * time.Second)
	if got, want := rec.payloads(), []any{"b", "d", "a", "c"}; !slices.Equal(got, want) {
		t.Fatalf("dispatch order %v, want %v", got, want)
	}
	wantAt := []float64{1001.3, 1001.3, 1004.3, 1007.3}
	wantLocal := []float64{1002.5, 1002.5, 1005.5, 1008.5}
	for i, e := range rec.events {
		if !near(e.at, wantAt[i]) || !near(e.local, wantLocal[i]) {
			t.Errorf("event %d dispatched at %v for %v, want %v for %v", i, e.at, e.local, wantAt[i], wantLocal[i])
		}
	}
	if p.Pending() != 0 || p.Armed() {
		t.Error("the queue should be empty and disarmed")
	}
}

func TestSingleTimer(t *testing.T) {
	p, _, fake := setup(prescheduler.WithGC(0, 0))
	defer p.Close()
	p.Schedule("run", "ed", 1010, 1)
	p.Schedule("run", "ed", 1020, 2)
	p.Schedule("run", "ed", 1005, 3)
	p.Schedule("run", "ed", 1030, 4)
	if !p.Armed() {
		t.Fatal("a timer should be armed")
	}
	if n := fake.Pending(); n != 1 {
		t.Errorf("%d timers pending, want 1", n)
	}
	if p.Pending() != 4 {
		t.Errorf("Pending() = %d, want 4", p.Pending())
	}
}

func TestImmediateAndLate(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p, rec, _ := setup(prescheduler.WithLogger(logger))
	defer p.Close()
	p.Schedule("run", "ed", 1000.5, "soon")
	if len(rec.events) != 1 {
		t.Fatal("an event within the minimum lead should be dispatched at once")
	}
	if strings.Contains(buf.String(), "late audio event") {
		t.Error("an event that is not late should not be reported")
	}
	p.Schedule("run", "ed", 990, "late")
	if len(rec.events) != 2 || rec.events[1].payload != "late" {
		t.Fatal("a late event should still be dispatched")
	}
	if !strings.Contains(buf.String(), "late audio event") {
		t.Error("a late event should be logged")
	}
}

func TestCancelTag(t *testing.T) {
	p, rec, fake := setup()
	defer p.Close()
	p.Schedule("run1", "editor-1", 1005, "a")
	p.Schedule("run2", "editor-2", 1006, "b")
	p.Schedule("run1", "editor-1", 1007, "c")
	if n := p.CancelTag("editor-1"); n != 2 {
		t.Errorf("CancelTag removed %d events, want 2", n)
	}
	if n := p.CancelTag("editor-3"); n != 0 {
		t.Errorf("CancelTag of an unknown tag removed %d events", n)
	}
	if p.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", p.Pending())
	}
	fake.Advance(10 * time.Second)
	if got := rec.payloads(); !slices.Equal(got, []any{"b"}) {
		t.Errorf("dispatched %v, want [b]", got)
	}
}

func TestCancelAll(t *testing.T) {
	p, rec, fake := setup()
	defer p.Close()
	for i := range 5 {
		p.Schedule("run", "ed", 1010+float64(i), i)
	}
	p.CancelAll()
	if p.Pending() != 0 || p.Armed() {
		t.Error("CancelAll should empty the queue and disarm the timer")
	}
	if n := fake.Pending(); n != 1 {
		t.Errorf("%d timers pending, want only the collector", n)
	}
	fake.Advance(20 * time.Second)
	if len(rec.events) != 0 {
		t.Errorf("dispatched %v after CancelAll", rec.payloads())
	}
}

func TestRunOffsetStability(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{clock: fake}
	offset := 10.0
	p := prescheduler.New(rec, prescheduler.OffsetFunc(func() float64 { return offset }), fake)
	defer p.Close()
	p.Schedule("r1", "ed", 995, "first")
	offset = 20
	p.Schedule("r1", "ed", 996, "second")
	p.Schedule("r2", "ed", 996, "other")
	fake.Advance(time.Minute)
	want := map[any]float64{"first": 1005.5, "second": 1006.5, "other": 1016.5}
	if len(rec.events) != 3 {
		t.Fatalf("dispatched %d events, want 3", len(rec.events))
	}
	for _, e := range rec.events {
		if !near(e.local, want[e.payload]) {
			t.Errorf("%v dispatched for %v, want %v", e.payload, e.local, want[e.payload])
		}
	}
}

func TestGarbageCollection(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{clock: fake}
	offset := 1.0
	p := prescheduler.New(rec, prescheduler.OffsetFunc(func() float64 { return offset }), fake)
	defer p.Close()
	p.Schedule("r1", "ed", 900, "x")
	if p.Runs() != 1 {
		t.Fatalf("Runs() = %d, want 1", p.Runs())
	}
	fake.Advance(5 * time.Second)
	if p.Runs() != 1 {
		t.Fatal("a run seen exactly 5 s ago should be kept")
	}
	fake.Advance(5 * time.Second)
	if p.Runs() != 0 {
		t.Fatal("a run unseen for 10 s should be collected")
	}
	offset = 2
	p.Schedule("r1", "ed", 2000, "y")
	fake.Advance(time.Hour)
	if last := rec.events[len(rec.events)-1]; !near(last.local, 2002.5) {
		t.Errorf("a collected run should take the new offset, local %v", last.local)
	}
}

func TestResetOffsets(t *testing.T) {
	p, _, _ := setup()
	defer p.Close()
	p.Schedule("r1", "ed", 2000, nil)
	p.Schedule("r2", "ed", 2000, nil)
	p.ResetOffsets()
	if p.Runs() != 0 {
		t.Errorf("Runs() = %d after ResetOffsets", p.Runs())
	}
	if p.Pending() != 2 {
		t.Error("ResetOffsets should not drop events")
	}
}

func TestDispatchFailures(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	var got []any
	d := prescheduler.DispatcherFunc(func(_ float64, payload any) error {
		got = append(got, payload)
		switch payload {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("failed")
		}
		return nil
	})
	p := prescheduler.New(d, prescheduler.OffsetFunc(zeroOffset), fake, prescheduler.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	defer p.Close()
	p.Schedule("run", "ed", 1003, "panic")
	p.Schedule("run", "ed", 1004, "error")
	p.Schedule("run", "ed", 1005, "fine")
	fake.Advance(10 * time.Second)
	if !slices.Equal(got, []any{"panic", "error", "fine"}) {
		t.Errorf("dispatched %v", got)
	}
}

func TestClose(t *testing.T) {
	p, rec, fake := setup()
	p.Schedule("run", "ed", 1010, "a")
	p.Close()
	if fake.Pending() != 0 {
		t.Errorf("%d timers pending after Close", fake.Pending())
	}
	if err := p.Schedule("run", "ed", 1010, "b"); !errors.Is(err, prescheduler.ErrClosed) {
		t.Errorf("Schedule after Close returned %v", err)
	}
	fake.Advance(time.Minute)
	if len(rec.events) != 0 {
		t.Error("nothing should be dispatched after Close")
	}
}

// stallingHandler blocks the first warning until release is closed.
type stallingHandler struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *stallingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *stallingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelWarn {
		h.once.Do(func() {
			close(h.entered)
			<-h.release
		})
	}
	return nil
}

func (h *stallingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *stallingHandler) WithGroup(string) slog.Handler { return h }

type lockedRecorder struct {
	mu     sync.Mutex
	locals []float64
	names  []any
}

func (r *lockedRecorder) Dispatch(localTime float64, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locals = append(r.locals, localTime)
	r.names = append(r.names, payload)
	return nil
}

func (r *lockedRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func TestStalledDispatchKeepsOrder(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	rec := &lockedRecorder{}
	h := &stallingHandler{entered: make(chan struct{}), release: make(chan struct{})}
	p := prescheduler.New(rec, prescheduler.OffsetFunc(zeroOffset), fake, prescheduler.WithLogger(slog.New(h)))
	defer p.Close()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Schedule("run", "ed", 990, "early") // late, so a warning is logged first
	}()
	<-h.entered
	go func() {
		defer wg.Done()
		p.Schedule("run", "ed", 1000.6, "later")
	}()
	if rec.count() != 0 {
		t.Fatal("nothing should be dispatched while the first event is held up")
	}
	close(h.release)
	wg.Wait()
	if !slices.Equal(rec.names, []any{"early", "later"}) {
		t.Errorf("dispatch order %v, want [early later]", rec.names)
	}
}

func TestConcurrentSchedule(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	rec := &lockedRecorder{}
	p := prescheduler.New(rec, prescheduler.OffsetFunc(zeroOffset), fake)
	defer p.Close()
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				p.Schedule(fmt.Sprintf("run%d", g), "ed", 1005+float64((i*7+g*13)%100)/10, i)
			}
		}()
	}
	wg.Wait()
	fake.Advance(time.Minute)
	if len(rec.locals) != 400 {
		t.Fatalf("dispatched %d events, want 400", len(rec.locals))
	}
	if !slices.IsSorted(rec.locals) {
		t.Errorf("events were not dispatched in time order: %v", rec.locals)
	}
}
