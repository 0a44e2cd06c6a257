package dashboard

import (
	"math"
	"strings"

	"github.com/GeoCodeCrafter/md-replay/internal/clients"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

type seriesBook struct {
	bidPx   int64
	bidSz   int64
	askPx   int64
	askSz   int64
	mids    []float64
	lastMid float64
	hasMid  bool
	ewmaVar float64
}

// computeSeries derives per-event rolling mid, spread, imbalance, and
// EWMA volatility, tagging the events that cross the configured
// thresholds with {spread|imb|vol} in that order.
func computeSeries(events []event.Event, cfg clients.FeatureConfig) []SeriesPoint {
	state := make(map[string]*seriesBook)
	out := make([]SeriesPoint, 0, len(events))

	window := cfg.MidWindow
	if window < 1 {
		window = 1
	}

	for _, ev := range events {
		book := state[ev.Symbol]
		if book == nil {
			book = &seriesBook{}
			state[ev.Symbol] = book
		}

		if q, ok := ev.Payload.(event.Quote); ok {
			book.bidPx, book.bidSz, book.askPx, book.askSz = q.BidPx, q.BidSz, q.AskPx, q.AskSz
		}

		var mid float64
		if book.bidPx > 0 && book.askPx > 0 {
			mid = (float64(book.bidPx) + float64(book.askPx)) * 0.5
		} else if t, ok := ev.Payload.(event.Trade); ok {
			mid = float64(t.PriceTicks)
		}

		if mid > 0 {
			book.mids = append(book.mids, mid)
			if len(book.mids) > window {
				book.mids = book.mids[1:]
			}
		}

		rollingMid := mid
		if len(book.mids) > 0 {
			sum := 0.0
			for _, m := range book.mids {
				sum += m
			}
			rollingMid = sum / float64(len(book.mids))
		}

		var spread int64
		if book.bidPx > 0 && book.askPx > 0 {
			spread = book.askPx - book.bidPx
		}
		total := book.bidSz + book.askSz
		imbalance := 0.0
		if total != 0 {
			imbalance = float64(book.bidSz-book.askSz) / float64(total)
		}

		if mid > 0 {
			if book.hasMid && book.lastMid > 0 {
				ret := math.Log(mid / book.lastMid)
				book.ewmaVar = cfg.EwmaAlpha*ret*ret + (1-cfg.EwmaAlpha)*book.ewmaVar
			}
			book.lastMid, book.hasMid = mid, true
		}
		vol := math.Sqrt(book.ewmaVar)

		var tags []string
		if spread > cfg.SpreadThreshold {
			tags = append(tags, "spread")
		}
		if math.Abs(imbalance) > cfg.ImbalanceThreshold {
			tags = append(tags, "imb")
		}
		if vol > cfg.VolThreshold {
			tags = append(tags, "vol")
		}

		out = append(out, SeriesPoint{
			Sequence:    ev.Sequence,
			TimestampNS: ev.TimestampNS,
			Symbol:      ev.Symbol,
			Mid:         rollingMid,
			Spread:      spread,
			Imbalance:   imbalance,
			Vol:         vol,
			Signal:      strings.Join(tags, "|"),
		})
	}

	return out
}

// determinismReport runs the feature client twice over the selection
// and reports the first diverging line, if any.
func determinismReport(events []event.Event) DeterminismReport {
	cfg := clients.DefaultFeatureConfig()
	run1 := clients.RunFeature(events, cfg)
	run2 := clients.RunFeature(events, cfg)

	firstMismatch := 0
	for i := 0; i < len(run1) && i < len(run2); i++ {
		if run1[i] != run2[i] {
			firstMismatch = i + 1
			break
		}
	}
	if firstMismatch == 0 && len(run1) != len(run2) {
		shorter := len(run1)
		if len(run2) < shorter {
			shorter = len(run2)
		}
		firstMismatch = shorter + 1
	}

	return DeterminismReport{
		OK:                firstMismatch == 0,
		Lines:             len(run1),
		FirstMismatchLine: firstMismatch,
	}
}

// parserDiff compares two selections element-wise and pinpoints the
// first index that differs.
func parserDiff(left, right []event.Event) ParserDiffReport {
	max := len(left)
	if len(right) > max {
		max = len(right)
	}

	matchedPrefix := 0
	var firstMismatch *ParserMismatch

	for i := 0; i < max; i++ {
		var l, r *event.Event
		if i < len(left) {
			l = &left[i]
		}
		if i < len(right) {
			r = &right[i]
		}
		if l != nil && r != nil && *l == *r {
			matchedPrefix++
			continue
		}

		mismatch := ParserMismatch{Index: i + 1}
		switch {
		case l == nil:
			mismatch.Reason = "left missing event"
		case r == nil:
			mismatch.Reason = "right missing event"
		default:
			mismatch.Reason = mismatchReason(*l, *r)
		}
		if l != nil {
			mismatch.LeftSequence = l.Sequence
			mismatch.LeftLine = clients.FormatEvent(*l)
		}
		if r != nil {
			mismatch.RightSequence = r.Sequence
			mismatch.RightLine = clients.FormatEvent(*r)
		}
		firstMismatch = &mismatch
		break
	}

	return ParserDiffReport{
		OK:            firstMismatch == nil && len(left) == len(right),
		LeftEvents:    len(left),
		RightEvents:   len(right),
		MatchedPrefix: matchedPrefix,
		FirstMismatch: firstMismatch,
	}
}

func mismatchReason(left, right event.Event) string {
	switch {
	case left.Sequence != right.Sequence:
		return "sequence mismatch"
	case left.TimestampNS != right.TimestampNS:
		return "timestamp mismatch"
	case left.Symbol != right.Symbol:
		return "symbol mismatch"
	case left.Venue != right.Venue:
		return "venue mismatch"
	case left.Payload != right.Payload:
		return "payload mismatch"
	default:
		return "event mismatch"
	}
}
