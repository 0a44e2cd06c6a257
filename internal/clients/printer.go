// Package clients holds the pure event consumers: the line printer,
// the feature/signal client, and the determinism verifier.
package clients

import (
	"fmt"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

// FormatEvent renders one event in the line-stable print format used by
// golden tests.
func FormatEvent(ev event.Event) string {
	switch p := ev.Payload.(type) {
	case event.Trade:
		return fmt.Sprintf("%d %d %s %s trade px=%d sz=%d",
			ev.Sequence, ev.TimestampNS, ev.Venue, ev.Symbol, p.PriceTicks, p.Size)
	case event.Quote:
		return fmt.Sprintf("%d %d %s %s quote bid=%dx%d ask=%dx%d",
			ev.Sequence, ev.TimestampNS, ev.Venue, ev.Symbol, p.BidPx, p.BidSz, p.AskPx, p.AskSz)
	default:
		return fmt.Sprintf("%d %d %s %s unknown", ev.Sequence, ev.TimestampNS, ev.Venue, ev.Symbol)
	}
}
