// Package dashboard serves read-only JSON views over an event vector
// loaded once at startup, plus a websocket live tail driven by the
// replay engine.
package dashboard

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/GeoCodeCrafter/md-replay/internal/clients"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
)

const (
	defaultEventsLimit = 500
	defaultSeriesLimit = 3000
	defaultDiffLimit   = 10_000
	maxLimit           = 100_000

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// State is the immutable data served by the dashboard. Events are
// loaded once and shared read-only across requests.
type State struct {
	events        []event.Event
	compareEvents []event.Event
	meta          Meta
	logger        *log.Logger
}

// NewState builds dashboard state over a loaded event vector. compare
// may be nil when no second log was loaded.
func NewState(events, compare []event.Event, logger *log.Logger) *State {
	return &State{
		events:        events,
		compareEvents: compare,
		meta:          buildMeta(events),
		logger:        logger,
	}
}

// Meta summarizes the loaded event vector.
type Meta struct {
	Events           int      `json:"events"`
	Trades           int      `json:"trades"`
	Quotes           int      `json:"quotes"`
	FirstTimestampNS uint64   `json:"first_timestamp_ns"`
	LastTimestampNS  uint64   `json:"last_timestamp_ns"`
	FirstSequence    uint64   `json:"first_sequence"`
	LastSequence     uint64   `json:"last_sequence"`
	Symbols          []string `json:"symbols"`
}

// EventRow is the row-shaped projection of one event.
type EventRow struct {
	TimestampNS uint64 `json:"timestamp_ns"`
	Sequence    uint64 `json:"sequence"`
	Venue       string `json:"venue"`
	Symbol      string `json:"symbol"`
	Kind        string `json:"kind"`
	PriceTicks  *int64 `json:"price_ticks,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	BidPx       *int64 `json:"bid_px,omitempty"`
	BidSz       *int64 `json:"bid_sz,omitempty"`
	AskPx       *int64 `json:"ask_px,omitempty"`
	AskSz       *int64 `json:"ask_sz,omitempty"`
}

// EventBatch wraps the rows of one /api/events response.
type EventBatch struct {
	Rows []EventRow `json:"rows"`
}

// SeriesPoint is one per-event sample of the rolling statistics.
type SeriesPoint struct {
	Sequence    uint64  `json:"sequence"`
	TimestampNS uint64  `json:"timestamp_ns"`
	Symbol      string  `json:"symbol"`
	Mid         float64 `json:"mid"`
	Spread      int64   `json:"spread"`
	Imbalance   float64 `json:"imbalance"`
	Vol         float64 `json:"vol"`
	Signal      string  `json:"signal,omitempty"`
}

// DiffReport combines the determinism re-run with the optional
// element-wise comparison against a second log.
type DiffReport struct {
	Determinism DeterminismReport `json:"determinism"`
	Parser      *ParserDiffReport `json:"parser,omitempty"`
}

// DeterminismReport describes a double feature run over the selection.
type DeterminismReport struct {
	OK                bool `json:"ok"`
	Lines             int  `json:"lines"`
	FirstMismatchLine int  `json:"first_mismatch_line,omitempty"`
}

// ParserDiffReport compares two event selections element-wise.
type ParserDiffReport struct {
	OK            bool            `json:"ok"`
	LeftEvents    int             `json:"left_events"`
	RightEvents   int             `json:"right_events"`
	MatchedPrefix int             `json:"matched_prefix"`
	FirstMismatch *ParserMismatch `json:"first_mismatch,omitempty"`
}

// ParserMismatch pinpoints the first diverging index of a diff.
type ParserMismatch struct {
	Index         int    `json:"index"`
	LeftSequence  uint64 `json:"left_sequence,omitempty"`
	RightSequence uint64 `json:"right_sequence,omitempty"`
	Reason        string `json:"reason"`
	LeftLine      string `json:"left_line,omitempty"`
	RightLine     string `json:"right_line,omitempty"`
}

type dataQuery struct {
	symbol  string
	fromSeq uint64
	toSeq   uint64
	limit   int
	hasTo   bool
}

// Handler returns the dashboard's HTTP routes.
func (s *State) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/meta", s.handleMeta)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/api/diff", s.handleDiff)
	mux.HandleFunc("/api/stream", s.handleStream)
	return mux
}

// Serve runs the dashboard until ctx is canceled.
func Serve(ctx context.Context, addr string, state *State) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           state.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	state.logger.Printf("dashboard listening on %s", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *State) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *State) handleMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.meta)
}

func (s *State) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := parseQuery(r, defaultEventsLimit)
	selected := selectEvents(s.events, query)
	rows := make([]EventRow, 0, len(selected))
	for _, ev := range selected {
		rows = append(rows, toRow(ev))
	}
	writeJSON(w, EventBatch{Rows: rows})
}

func (s *State) handleSeries(w http.ResponseWriter, r *http.Request) {
	query := parseQuery(r, defaultSeriesLimit)
	selected := selectEvents(s.events, query)
	writeJSON(w, computeSeries(selected, clients.DefaultFeatureConfig()))
}

func (s *State) handleDiff(w http.ResponseWriter, r *http.Request) {
	query := parseQuery(r, defaultDiffLimit)
	base := selectEvents(s.events, query)

	report := DiffReport{
		Determinism: determinismReport(base),
		Parser:      nil,
	}
	if s.compareEvents != nil {
		other := selectEvents(s.compareEvents, query)
		parser := parserDiff(base, other)
		report.Parser = &parser
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response failed", http.StatusInternalServerError)
	}
}

func parseQuery(r *http.Request, fallbackLimit int) dataQuery {
	q := r.URL.Query()
	query := dataQuery{symbol: q.Get("symbol"), fromSeq: 0, toSeq: 0, limit: fallbackLimit, hasTo: false}

	if raw := q.Get("from_seq"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			query.fromSeq = v
		}
	}
	if raw := q.Get("to_seq"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			query.toSeq = v
			query.hasTo = true
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			query.limit = v
		}
	}
	if query.limit < 1 {
		query.limit = 1
	}
	if query.limit > maxLimit {
		query.limit = maxLimit
	}
	return query
}

// selectEvents walks the sequence-ordered vector applying the query:
// from_seq and symbol skip, to_seq ends iteration.
func selectEvents(events []event.Event, query dataQuery) []event.Event {
	var out []event.Event
	for _, ev := range events {
		if ev.Sequence < query.fromSeq {
			continue
		}
		if query.hasTo && ev.Sequence > query.toSeq {
			break
		}
		if query.symbol != "" && !strings.EqualFold(ev.Symbol, query.symbol) {
			continue
		}
		out = append(out, ev)
		if len(out) == query.limit {
			break
		}
	}
	return out
}

func buildMeta(events []event.Event) Meta {
	symbolSet := make(map[string]struct{})
	trades, quotes := 0, 0
	for _, ev := range events {
		symbolSet[ev.Symbol] = struct{}{}
		switch ev.Payload.(type) {
		case event.Trade:
			trades++
		case event.Quote:
			quotes++
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	meta := Meta{
		Events:  len(events),
		Trades:  trades,
		Quotes:  quotes,
		Symbols: symbols,
	}
	if len(events) > 0 {
		meta.FirstTimestampNS = events[0].TimestampNS
		meta.LastTimestampNS = events[len(events)-1].TimestampNS
		meta.FirstSequence = events[0].Sequence
		meta.LastSequence = events[len(events)-1].Sequence
	}
	return meta
}

func toRow(ev event.Event) EventRow {
	row := EventRow{
		TimestampNS: ev.TimestampNS,
		Sequence:    ev.Sequence,
		Venue:       ev.Venue,
		Symbol:      ev.Symbol,
		Kind:        ev.Kind.String(),
	}
	switch p := ev.Payload.(type) {
	case event.Trade:
		row.PriceTicks, row.Size = ptr(p.PriceTicks), ptr(p.Size)
	case event.Quote:
		row.BidPx, row.BidSz = ptr(p.BidPx), ptr(p.BidSz)
		row.AskPx, row.AskSz = ptr(p.AskPx), ptr(p.AskSz)
	}
	return row
}

func ptr(v int64) *int64 { return &v }
