package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/GeoCodeCrafter/md-replay/internal/clients"
	"github.com/GeoCodeCrafter/md-replay/internal/replay"
	"github.com/GeoCodeCrafter/md-replay/internal/storage"
)

// bench measures range-read throughput, per-event format latency, and
// raw record parse throughput over an existing log.
func bench(logPath, indexPath string) error {
	readStart := time.Now()
	events, err := replay.ReadEvents(logPath, indexPath, 0, 0)
	if err != nil {
		return err
	}
	readElapsed := time.Since(readStart)

	latencies := make([]uint64, 0, len(events))
	for _, ev := range events {
		s := time.Now()
		line := clients.FormatEvent(ev)
		latencies = append(latencies, uint64(time.Since(s).Nanoseconds()))
		_ = line
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var p99 uint64
	if len(latencies) > 0 {
		idx := int(float64(len(latencies)) * 0.99)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		p99 = latencies[idx]
	}

	parseStart := time.Now()
	reader, err := storage.OpenLog(logPath)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	if err := reader.RewindToData(); err != nil {
		return err
	}
	parsed := 0
	for {
		_, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		parsed++
	}
	parseElapsed := time.Since(parseStart)

	fmt.Printf("events/sec: %.2f\n", rate(len(events), readElapsed))
	fmt.Printf("p99 replay latency (ns): %d\n", p99)
	fmt.Printf("parse throughput (events/sec): %.2f\n", rate(parsed, parseElapsed))
	return nil
}

func rate(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}
