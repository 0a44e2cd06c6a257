package replay

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/storage"
)

func writeTestLog(t *testing.T, events []event.Event, stride uint32) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "replay.eventlog")
	idxPath := logPath + ".idx"
	if err := storage.WriteLogAndIndex(logPath, idxPath, events, stride); err != nil {
		t.Fatalf("WriteLogAndIndex: %v", err)
	}
	return logPath, idxPath
}

func sampleEvents() []event.Event {
	return []event.Event{
		event.NewTrade(100, 1, "X", "AAPL", 10, 1),
		event.NewTrade(200, 2, "X", "AAPL", 11, 1),
		event.NewTrade(300, 3, "X", "MSFT", 12, 1),
		event.NewTrade(400, 4, "X", "AAPL", 13, 1),
	}
}

func TestReadEventsFullRange(t *testing.T) {
	logPath, idxPath := writeTestLog(t, sampleEvents(), 2)

	events, err := ReadEvents(logPath, idxPath, 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Fatal("events not in ascending sequence order")
		}
	}
}

func TestReadEventsRangeFilter(t *testing.T) {
	logPath, idxPath := writeTestLog(t, sampleEvents(), 2)

	events, err := ReadEvents(logPath, idxPath, 150, 350)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].TimestampNS != 200 || events[1].TimestampNS != 300 {
		t.Errorf("window = (%d, %d), want (200, 300)", events[0].TimestampNS, events[1].TimestampNS)
	}
}

func TestReadEventsIndexSeekMatchesFullScan(t *testing.T) {
	logPath, idxPath := writeTestLog(t, sampleEvents(), 2)

	withIndex, err := ReadEvents(logPath, idxPath, 250, 0)
	if err != nil {
		t.Fatalf("ReadEvents with index: %v", err)
	}
	withoutIndex, err := ReadEvents(logPath, "", 250, 0)
	if err != nil {
		t.Fatalf("ReadEvents without index: %v", err)
	}
	if !reflect.DeepEqual(withIndex, withoutIndex) {
		t.Fatalf("index seek changed results: %v vs %v", withIndex, withoutIndex)
	}
}

func TestReadEventsDeterministic(t *testing.T) {
	logPath, idxPath := writeTestLog(t, sampleEvents(), 1)

	first, err := ReadEvents(logPath, idxPath, 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	second, err := ReadEvents(logPath, idxPath, 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("two reads of the same range differ")
	}
}

func TestStreamMaxSpeedDeliversAll(t *testing.T) {
	events := sampleEvents()
	sink := make(chan event.Event, len(events))

	cfg := DefaultConfig()
	cfg.MaxSpeed = true
	StreamWithPacing(context.Background(), events, cfg, sink)
	close(sink)

	var got []event.Event
	for ev := range sink {
		got = append(got, ev)
	}
	if !reflect.DeepEqual(got, events) {
		t.Fatalf("delivered = %v, want %v", got, events)
	}
}

func TestStreamStepModeDeliversInOrder(t *testing.T) {
	events := sampleEvents()
	sink := make(chan event.Event, len(events))

	cfg := DefaultConfig()
	cfg.StepMode = true
	start := time.Now()
	StreamWithPacing(context.Background(), events, cfg, sink)
	close(sink)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("step mode took %v; it must not wait on wall-clock", elapsed)
	}
	count := 0
	var lastSeq uint64
	for ev := range sink {
		if ev.Sequence <= lastSeq {
			t.Fatal("out-of-order delivery in step mode")
		}
		lastSeq = ev.Sequence
		count++
	}
	if count != len(events) {
		t.Fatalf("delivered = %d, want %d", count, len(events))
	}
}

func TestStreamRealTimePacingLowerBound(t *testing.T) {
	base := uint64(1_000_000_000)
	step := uint64(30 * time.Millisecond)
	events := []event.Event{
		event.NewTrade(base, 1, "X", "AAPL", 1, 1),
		event.NewTrade(base+step, 2, "X", "AAPL", 2, 1),
		event.NewTrade(base+2*step, 3, "X", "AAPL", 3, 1),
	}

	sink := make(chan event.Event, 1)
	start := time.Now()
	done := make(chan struct{})
	var deliveries []time.Time
	go func() {
		defer close(done)
		for ev := range sink {
			_ = ev
			deliveries = append(deliveries, time.Now())
		}
	}()

	StreamWithPacing(context.Background(), events, DefaultConfig(), sink)
	close(sink)
	<-done

	if len(deliveries) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(deliveries))
	}
	for i, at := range deliveries {
		earliest := start.Add(time.Duration(uint64(i) * step))
		if at.Before(earliest.Add(-time.Millisecond)) {
			t.Errorf("event %d delivered at %v, before deadline %v", i, at, earliest)
		}
		if i > 0 && at.Before(deliveries[i-1]) {
			t.Errorf("delivery times not monotone at %d", i)
		}
	}
}

func TestStreamSaturatesOutOfOrderTimestamps(t *testing.T) {
	events := []event.Event{
		event.NewTrade(1_000_000, 1, "X", "AAPL", 1, 1),
		event.NewTrade(500_000, 2, "X", "AAPL", 2, 1), // earlier than baseline
	}
	sink := make(chan event.Event, 2)

	start := time.Now()
	StreamWithPacing(context.Background(), events, DefaultConfig(), sink)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("out-of-order event should not wait, took %v", elapsed)
	}
	close(sink)
	delivered := 0
	for range sink {
		delivered++
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	events := []event.Event{
		event.NewTrade(0, 1, "X", "AAPL", 1, 1),
		event.NewTrade(uint64(time.Hour), 2, "X", "AAPL", 2, 1),
	}
	sink := make(chan event.Event, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StreamWithPacing(ctx, events, DefaultConfig(), sink)
		close(done)
	}()

	<-sink // first event arrives immediately
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pacing did not stop promptly after cancellation")
	}
}

func TestNonPositiveSpeedTreatedAsRealTime(t *testing.T) {
	events := []event.Event{event.NewTrade(5, 1, "X", "AAPL", 1, 1)}
	sink := make(chan event.Event, 1)

	cfg := DefaultConfig()
	cfg.Speed = -3
	StreamWithPacing(context.Background(), events, cfg, sink)
	close(sink)
	if len(sink) != 1 {
		t.Fatal("event not delivered under non-positive speed")
	}
}
