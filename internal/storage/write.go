package storage

import (
	"sort"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

// WriteLogAndIndex writes the events to a fresh log and, in lockstep,
// records stride samples into the companion index. The header symbol
// set is the sorted set of symbols present in the events.
func WriteLogAndIndex(logPath, indexPath string, events []event.Event, stride uint32) error {
	symbolSet := make(map[string]struct{})
	for _, ev := range events {
		symbolSet[ev.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	lw, err := CreateLog(logPath, symbols, DefaultSchemaHash())
	if err != nil {
		return err
	}
	iw, err := CreateIndex(indexPath, stride)
	if err != nil {
		_ = lw.Close()
		return err
	}

	for _, ev := range events {
		offset, err := lw.Append(ev)
		if err != nil {
			_ = lw.Close()
			_ = iw.Close()
			return err
		}
		if err := iw.MaybeAdd(ev, offset); err != nil {
			_ = lw.Close()
			_ = iw.Close()
			return err
		}
	}

	if err := lw.Close(); err != nil {
		_ = iw.Close()
		return err
	}
	return iw.Close()
}
