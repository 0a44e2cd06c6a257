package clients

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

// FeatureConfig parameterizes the feature client's rolling statistics
// and signal thresholds.
type FeatureConfig struct {
	MidWindow          int
	EwmaAlpha          float64
	SpreadThreshold    int64
	ImbalanceThreshold float64
	VolThreshold       float64
}

// DefaultFeatureConfig returns the thresholds used by the dashboard.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		MidWindow:          8,
		EwmaAlpha:          0.2,
		SpreadThreshold:    25,
		ImbalanceThreshold: 0.7,
		VolThreshold:       0.03,
	}
}

// SeededFeatureConfig derives a config deterministically from a seed.
// The same seed always yields the same config, which the verifier
// relies on.
func SeededFeatureConfig(seed int64) FeatureConfig {
	rng := rand.New(rand.NewSource(seed))
	return FeatureConfig{
		MidWindow:          8,
		EwmaAlpha:          0.1 + rng.Float64()*0.25,
		SpreadThreshold:    20 + rng.Int63n(10),
		ImbalanceThreshold: 0.6 + rng.Float64()*0.2,
		VolThreshold:       0.02 + rng.Float64()*0.02,
	}
}

// bookState tracks per-symbol top-of-book plus the rolling statistics
// derived from it.
type bookState struct {
	bidPx   int64
	bidSz   int64
	askPx   int64
	askSz   int64
	mids    []float64
	lastMid float64
	hasMid  bool
	ewmaVar float64
}

// RunFeature runs the feature client over the events and returns the
// emitted signal lines. It is a pure function of (events, cfg).
func RunFeature(events []event.Event, cfg FeatureConfig) []string {
	state := make(map[string]*bookState)
	var out []string

	for _, ev := range events {
		st := state[ev.Symbol]
		if st == nil {
			st = &bookState{}
			state[ev.Symbol] = st
		}

		if q, ok := ev.Payload.(event.Quote); ok {
			st.bidPx, st.bidSz, st.askPx, st.askSz = q.BidPx, q.BidSz, q.AskPx, q.AskSz
		}

		mid := computeMid(st, ev, cfg.MidWindow)
		var spread int64
		if st.bidPx > 0 && st.askPx > 0 {
			spread = st.askPx - st.bidPx
		}
		imbalance := computeImbalance(st)

		updateEwma(st, cfg, mid)
		vol := math.Sqrt(st.ewmaVar)

		rollingMid := mid
		if len(st.mids) > 0 {
			sum := 0.0
			for _, m := range st.mids {
				sum += m
			}
			rollingMid = sum / float64(len(st.mids))
		}

		var signals []string
		if spread > cfg.SpreadThreshold {
			signals = append(signals, "spread")
		}
		if math.Abs(imbalance) > cfg.ImbalanceThreshold {
			signals = append(signals, "imb")
		}
		if vol > cfg.VolThreshold {
			signals = append(signals, "vol")
		}

		if len(signals) > 0 {
			out = append(out, fmt.Sprintf("%d %d %s mid=%.6f spread=%d imb=%.6f vol=%.6f signal=%s",
				ev.Sequence, ev.TimestampNS, ev.Symbol,
				rollingMid, spread, imbalance, vol, strings.Join(signals, "|")))
		}
	}

	return out
}

// Symbols returns the sorted set of symbols a feature run would touch.
func Symbols(events []event.Event) []string {
	set := make(map[string]struct{})
	for _, ev := range events {
		set[ev.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func computeMid(st *bookState, ev event.Event, window int) float64 {
	var mid float64
	if st.bidPx > 0 && st.askPx > 0 {
		mid = (float64(st.bidPx) + float64(st.askPx)) * 0.5
	} else if t, ok := ev.Payload.(event.Trade); ok {
		mid = float64(t.PriceTicks)
	}

	if mid > 0 {
		st.mids = append(st.mids, mid)
		if window < 1 {
			window = 1
		}
		if len(st.mids) > window {
			st.mids = st.mids[1:]
		}
	}
	return mid
}

func computeImbalance(st *bookState) float64 {
	total := st.bidSz + st.askSz
	if total == 0 {
		return 0
	}
	return float64(st.bidSz-st.askSz) / float64(total)
}

func updateEwma(st *bookState, cfg FeatureConfig, mid float64) {
	if mid <= 0 {
		return
	}
	prev, had := st.lastMid, st.hasMid
	st.lastMid, st.hasMid = mid, true
	if !had || prev <= 0 {
		return
	}
	ret := math.Log(mid / prev)
	st.ewmaVar = cfg.EwmaAlpha*ret*ret + (1-cfg.EwmaAlpha)*st.ewmaVar
}
