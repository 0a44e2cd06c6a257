package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/tick"
)

// csvTable wraps encoding/csv with header-resolved column access and
// whitespace trimming.
type csvTable struct {
	r       *csv.Reader
	path    string
	columns map[string]int
	row     int
}

func openCSV(path string) (*csvTable, io.Closer, error) {
	rc, err := openInput(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		_ = rc.Close()
		return nil, nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("read csv header"),
			errs.WithPath(path),
			errs.WithCause(err))
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	return &csvTable{r: r, path: path, columns: columns, row: 1}, rc, nil
}

// next returns the next data row, or io.EOF at the end of the file.
func (t *csvTable) next() ([]string, error) {
	record, err := t.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("read csv record"),
			errs.WithPath(t.path),
			errs.WithRow(t.row+1),
			errs.WithCause(err))
	}
	t.row++
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	return record, nil
}

func (t *csvTable) field(record []string, name string) (string, error) {
	i, ok := t.columns[name]
	if !ok || i >= len(record) {
		return "", errs.New(errs.KindInputFormat,
			errs.WithMessage("missing column "+name),
			errs.WithPath(t.path),
			errs.WithRow(t.row))
	}
	return record[i], nil
}

func (t *csvTable) rowErr(message string) error {
	return errs.New(errs.KindInputFormat,
		errs.WithMessage(message),
		errs.WithPath(t.path),
		errs.WithRow(t.row))
}

// ParseCSVA parses a variant-A file: RFC 3339 timestamps with
// top-of-book quote columns.
func ParseCSVA(path, venue string, ticks *tick.Table) ([]event.Pending, error) {
	t, closer, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	var out []event.Pending
	for idx := uint64(0); ; idx++ {
		record, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		raw := struct{ timestamp, symbol, bidPx, bidSz, askPx, askSz string }{}
		for _, col := range []struct {
			name string
			dst  *string
		}{
			{"timestamp", &raw.timestamp},
			{"symbol", &raw.symbol},
			{"bid_px", &raw.bidPx},
			{"bid_sz", &raw.bidSz},
			{"ask_px", &raw.askPx},
			{"ask_sz", &raw.askSz},
		} {
			if *col.dst, err = t.field(record, col.name); err != nil {
				return nil, err
			}
		}

		ts, err := parseRFC3339NS(raw.timestamp)
		if err != nil {
			return nil, t.rowErr(err.Error())
		}
		bidPx, err := ticks.PriceStrToTicks(raw.symbol, raw.bidPx)
		if err != nil {
			return nil, err
		}
		askPx, err := ticks.PriceStrToTicks(raw.symbol, raw.askPx)
		if err != nil {
			return nil, err
		}
		bidSz, err := strconv.ParseInt(raw.bidSz, 10, 64)
		if err != nil {
			return nil, t.rowErr("invalid bid_sz: " + raw.bidSz)
		}
		askSz, err := strconv.ParseInt(raw.askSz, 10, 64)
		if err != nil {
			return nil, t.rowErr("invalid ask_sz: " + raw.askSz)
		}

		out = append(out, event.Pending{
			TimestampNS: ts,
			Venue:       venue,
			Symbol:      raw.symbol,
			Payload:     event.Quote{BidPx: bidPx, BidSz: bidSz, AskPx: askPx, AskSz: askSz},
			IngestOrder: idx,
		})
	}
	return out, nil
}

// ParseCSVB parses a variant-B file: millisecond epoch timestamps with
// trade columns.
func ParseCSVB(path, venue string, ticks *tick.Table) ([]event.Pending, error) {
	t, closer, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	var out []event.Pending
	for idx := uint64(0); ; idx++ {
		record, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		tsRaw, err := t.field(record, "timestamp_ms")
		if err != nil {
			return nil, err
		}
		symbol, err := t.field(record, "symbol")
		if err != nil {
			return nil, err
		}
		priceRaw, err := t.field(record, "price")
		if err != nil {
			return nil, err
		}
		sizeRaw, err := t.field(record, "size")
		if err != nil {
			return nil, err
		}

		ms, err := strconv.ParseUint(tsRaw, 10, 64)
		if err != nil {
			return nil, t.rowErr("invalid timestamp_ms: " + tsRaw)
		}
		ts, err := msToNS(ms)
		if err != nil {
			return nil, t.rowErr(err.Error())
		}
		priceTicks, err := ticks.PriceStrToTicks(symbol, priceRaw)
		if err != nil {
			return nil, err
		}
		size, err := strconv.ParseInt(sizeRaw, 10, 64)
		if err != nil {
			return nil, t.rowErr("invalid size: " + sizeRaw)
		}

		out = append(out, event.Pending{
			TimestampNS: ts,
			Venue:       venue,
			Symbol:      symbol,
			Payload:     event.Trade{PriceTicks: priceTicks, Size: size},
			IngestOrder: idx,
		})
	}
	return out, nil
}

// ParseCSVC parses a variant-C file: mixed trades and quotes with a
// per-row type column and sparse value columns.
func ParseCSVC(path, venue string, ticks *tick.Table) ([]event.Pending, error) {
	t, closer, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	var out []event.Pending
	for idx := uint64(0); ; idx++ {
		record, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		tsRaw, err := t.field(record, "timestamp")
		if err != nil {
			return nil, err
		}
		symbol, err := t.field(record, "symbol")
		if err != nil {
			return nil, err
		}
		rowType, err := t.field(record, "type")
		if err != nil {
			return nil, err
		}

		ts, err := parseMixedTimestampNS(tsRaw)
		if err != nil {
			return nil, t.rowErr(err.Error())
		}

		var payload event.Payload
		switch strings.ToLower(rowType) {
		case "trade":
			priceRaw, err := t.field(record, "price")
			if err != nil {
				return nil, err
			}
			priceTicks, err := ticks.PriceStrToTicks(symbol, priceRaw)
			if err != nil {
				return nil, err
			}
			sizeRaw, err := t.field(record, "size")
			if err != nil {
				return nil, err
			}
			size, err := parseInt64OrZero(sizeRaw)
			if err != nil {
				return nil, t.rowErr(err.Error())
			}
			payload = event.Trade{PriceTicks: priceTicks, Size: size}
		case "quote":
			bidPxRaw, err := t.field(record, "bid_px")
			if err != nil {
				return nil, err
			}
			askPxRaw, err := t.field(record, "ask_px")
			if err != nil {
				return nil, err
			}
			bidPx, err := ticks.PriceStrToTicks(symbol, bidPxRaw)
			if err != nil {
				return nil, err
			}
			askPx, err := ticks.PriceStrToTicks(symbol, askPxRaw)
			if err != nil {
				return nil, err
			}
			bidSzRaw, err := t.field(record, "bid_sz")
			if err != nil {
				return nil, err
			}
			askSzRaw, err := t.field(record, "ask_sz")
			if err != nil {
				return nil, err
			}
			bidSz, err := parseInt64OrZero(bidSzRaw)
			if err != nil {
				return nil, t.rowErr(err.Error())
			}
			askSz, err := parseInt64OrZero(askSzRaw)
			if err != nil {
				return nil, t.rowErr(err.Error())
			}
			payload = event.Quote{BidPx: bidPx, BidSz: bidSz, AskPx: askPx, AskSz: askSz}
		default:
			return nil, t.rowErr(fmt.Sprintf("unknown row type %q", rowType))
		}

		out = append(out, event.Pending{
			TimestampNS: ts,
			Venue:       venue,
			Symbol:      symbol,
			Payload:     payload,
			IngestOrder: idx,
		})
	}
	return out, nil
}

func parseRFC3339NS(raw string) (uint64, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", raw)
	}
	ns := ts.UnixNano()
	if ns < 0 {
		return 0, fmt.Errorf("negative timestamp %q", raw)
	}
	return uint64(ns), nil
}

// parseMixedTimestampNS accepts either an RFC 3339 string (identified by
// the presence of 'T') or an integer count of milliseconds since epoch.
func parseMixedTimestampNS(raw string) (uint64, error) {
	if strings.Contains(raw, "T") {
		return parseRFC3339NS(raw)
	}
	ms, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", raw)
	}
	return msToNS(ms)
}

func msToNS(ms uint64) (uint64, error) {
	if ms > math.MaxUint64/1_000_000 {
		return 0, fmt.Errorf("timestamp overflow: %d ms", ms)
	}
	return ms * 1_000_000, nil
}

func parseInt64OrZero(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}
