package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/performance"
)

type consentFixture struct {
	gate        *consent.Gate
	clk         *clock.FakeClock
	live        *Orchestrator
	provisional *Orchestrator
	writer      *ConsentAwareWriter
	stats       *Stats
}

func newConsentFixture(t *testing.T, initial consent.State, p performance.Preset) *consentFixture {
	t.Helper()
	root := t.TempDir()
	clk := clock.Fake(epoch)
	open := func(sub string) *Orchestrator {
		dir, err := OpenDirectory(filepath.Join(root, sub))
		if err != nil {
			t.Fatalf("open %s: %v", sub, err)
		}
		return NewOrchestrator(dir, OrchestratorOptions{Feature: "rum", Preset: p, Clock: clk})
	}
	f := &consentFixture{gate: consent.NewGate(initial), clk: clk, stats: &Stats{}}
	f.live = open("v1")
	f.provisional = open("intermediate-v1")
	opts := FileWriterOptions{Feature: "rum", Clock: clk, Stats: f.stats}
	f.writer = NewConsentAwareWriter(f.gate,
		NewFileWriter(f.live, opts),
		NewFileWriter(f.provisional, opts),
		f.stats, nil)
	f.gate.Subscribe(NewMigrator("rum", f.live, f.provisional))
	return f
}

func count(t *testing.T, o *Orchestrator) int {
	t.Helper()
	files, err := o.Directory().Files()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return len(files)
}

func TestNotGrantedDropsSilently(t *testing.T) {
	f := newConsentFixture(t, consent.NotGranted, performance.EachEventNewFile())
	if err := f.writer.Write(Event{Type: "view", Payload: 1}); err != nil {
		t.Fatalf("write must succeed for the caller: %v", err)
	}
	if count(t, f.live)+count(t, f.provisional) != 0 {
		t.Fatalf("nothing may reach disk")
	}
	if got := f.stats.Snapshot().DroppedConsent; got != 1 {
		t.Fatalf("dropped consent = %d", got)
	}
}

func TestPendingThenGrantedMovesFiles(t *testing.T) {
	f := newConsentFixture(t, consent.Pending, performance.EachEventNewFile())
	for i := 0; i < 3; i++ {
		if err := f.writer.Write(Event{Type: "view", Payload: i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if count(t, f.live) != 0 || count(t, f.provisional) != 3 {
		t.Fatalf("pending writes must go to the provisional area")
	}

	f.gate.Set(consent.Granted)
	if count(t, f.provisional) != 0 {
		t.Fatalf("provisional area should be empty after grant")
	}
	readable, err := f.live.FilesForReading()
	if err != nil {
		t.Fatalf("files for reading: %v", err)
	}
	if len(readable) != 3 {
		t.Fatalf("expected 3 migrated files readable, got %d", len(readable))
	}
	r := NewBatchReader(f.live, "rum", nil, nil)
	for i, file := range readable {
		b, err := r.Read(file)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if rec := decodeRecord(t, b.Events[0].Data); rec.Payload.(float64) != float64(i) {
			t.Fatalf("order not preserved: file %d holds %v", i, rec.Payload)
		}
	}

	if err := f.writer.Write(Event{Type: "view", Payload: 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if count(t, f.live) != 4 {
		t.Fatalf("granted writes must go live")
	}
}

func TestPendingThenNotGrantedPurges(t *testing.T) {
	f := newConsentFixture(t, consent.Pending, performance.EachEventNewFile())
	for i := 0; i < 3; i++ {
		if err := f.writer.Write(Event{Type: "view", Payload: i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	f.gate.Set(consent.NotGranted)
	files, err := f.provisional.FilesForFlush()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 || count(t, f.provisional) != 0 || count(t, f.live) != 0 {
		t.Fatalf("provisional data must be gone")
	}

	// No flip-flop: going back to pending then granted resurrects nothing.
	f.gate.Set(consent.Pending)
	f.gate.Set(consent.Granted)
	if count(t, f.live) != 0 {
		t.Fatalf("purged data came back")
	}
}

func TestGrantedToNotGrantedKeepsWrittenData(t *testing.T) {
	f := newConsentFixture(t, consent.Granted, performance.EachEventNewFile())
	if err := f.writer.Write(Event{Type: "view", Payload: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.gate.Set(consent.NotGranted)
	if count(t, f.live) != 1 {
		t.Fatalf("granted data must survive a later denial")
	}
}

func TestDenyWaitsForInFlightProvisionalWrite(t *testing.T) {
	f := newConsentFixture(t, consent.Pending, performance.EachEventNewFile())
	state, release := f.gate.Hold()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.gate.Set(consent.NotGranted)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := f.writer.Scoped(state).Write(Event{Type: "view", Payload: "late"}); err != nil {
		t.Fatalf("scoped write: %v", err)
	}
	if count(t, f.provisional) != 1 {
		t.Fatalf("in-flight write must land before the purge")
	}
	release()
	wg.Wait()

	if count(t, f.provisional) != 0 {
		t.Fatalf("purge must remove the in-flight write too")
	}
}

func TestMoveLeftoversAfterGrant(t *testing.T) {
	f := newConsentFixture(t, consent.Granted, performance.EachEventNewFile())
	// A provisional file left behind by an interrupted move.
	stray := NewFileWriter(f.provisional, FileWriterOptions{Feature: "rum", Clock: f.clk})
	if err := stray.Write(Event{Type: "view", Payload: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewMigrator("rum", f.live, f.provisional)
	n, err := m.MoveLeftovers()
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if n != 1 || count(t, f.provisional) != 0 || count(t, f.live) != 1 {
		t.Fatalf("leftover not moved: n=%d live=%d provisional=%d", n, count(t, f.live), count(t, f.provisional))
	}
}
