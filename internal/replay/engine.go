// Package replay reads event ranges from a log and paces their delivery
// in wall-clock time.
package replay

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/storage"
)

// Config controls one replay pass. Zero values for FromNS and ToNS mean
// unbounded; a non-positive Speed is treated as 1.0.
type Config struct {
	FromNS   uint64
	ToNS     uint64
	Speed    float64
	MaxSpeed bool
	StepMode bool
}

// DefaultConfig returns a full-range, real-time replay at 1x speed.
func DefaultConfig() Config {
	return Config{FromNS: 0, ToNS: 0, Speed: 1.0, MaxSpeed: false, StepMode: false}
}

// ReadEvents opens the log and collects the records inside the
// [fromNS, toNS] window, in sequence order. When fromNS is set and an
// index file exists at indexPath, the scan starts from the index's
// lower-bound offset instead of the first record.
func ReadEvents(logPath, indexPath string, fromNS, toNS uint64) ([]event.Event, error) {
	reader, err := storage.OpenLog(logPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	seeked := false
	if fromNS > 0 && indexPath != "" {
		if _, statErr := os.Stat(indexPath); statErr == nil {
			idx, err := storage.OpenIndex(indexPath)
			if err != nil {
				return nil, err
			}
			if offset, ok := idx.SeekOffset(fromNS); ok {
				if err := reader.Seek(offset); err != nil {
					return nil, err
				}
				seeked = true
			}
		}
	}
	if !seeked {
		if err := reader.RewindToData(); err != nil {
			return nil, err
		}
	}

	var out []event.Event
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if toNS > 0 && rec.Event.TimestampNS > toNS {
			break
		}
		if rec.Event.TimestampNS < fromNS {
			continue
		}
		out = append(out, rec.Event)
	}

	// Logs are written in sequence order; sorting here keeps the result
	// correct even for a log that was not.
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// StreamWithPacing delivers events into sink under the configured
// pacing mode. In real-time mode each event's deadline is the absolute
// instant start + (ts - baseline) / speed, so a stalled consumer does
// not trigger burst catch-up. Delivery stops when ctx is canceled; the
// sink is never closed by this function.
func StreamWithPacing(ctx context.Context, events []event.Event, cfg Config, sink chan<- event.Event) {
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1.0
	}

	var baseline uint64
	haveBaseline := false
	start := time.Now()

	for _, ev := range events {
		if !cfg.MaxSpeed {
			if cfg.StepMode {
				runtime.Gosched()
			} else {
				if !haveBaseline {
					baseline, haveBaseline = ev.TimestampNS, true
				}
				var dt uint64
				if ev.TimestampNS > baseline {
					dt = ev.TimestampNS - baseline
				}
				deadline := start.Add(time.Duration(float64(dt) / speed))
				if !sleepUntil(ctx, deadline) {
					return
				}
			}
		}

		select {
		case sink <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// sleepUntil blocks until the deadline passes, reporting false when the
// context is canceled first.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	wait := time.Until(deadline)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
