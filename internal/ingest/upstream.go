package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/tick"
)

// The upstream chart API exposes per-symbol bar arrays. Each bar yields
// a trade from close/volume and a quote whose bid/ask are the bar's
// (low, high) — a convention inherited from the chart shape, not a
// statement about real market structure.
const (
	defaultChartBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	chartUserAgent      = "md-replay/0.1"

	chartMaxAttempts  = 4
	chartMaxInterval  = 5 * time.Second
	chartRequestRate  = 2 // requests per second
	chartRequestBurst = 1
)

// ChartClient fetches historical bars from the upstream chart API.
type ChartClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// NewChartClient builds a client for the upstream chart API. An empty
// baseURL selects the production endpoint.
func NewChartClient(baseURL string) *ChartClient {
	if baseURL == "" {
		baseURL = defaultChartBaseURL
	}
	return &ChartClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(chartRequestRate), chartRequestBurst),
		baseURL:    baseURL,
	}
}

// Ingest fetches bars for each symbol and normalizes them into
// sequenced events. The ingest order is continuous across symbols.
func (c *ChartClient) Ingest(ctx context.Context, symbols []string, venue string, ticks *tick.Table, interval, rng string) ([]event.Event, error) {
	if len(symbols) == 0 {
		return nil, errs.New(errs.KindConfigurationInvalid, errs.WithMessage("empty symbols list"))
	}

	var pending []event.Pending
	ingestOrder := uint64(0)
	for _, symbol := range symbols {
		raw, err := c.fetchSymbolChart(ctx, symbol, interval, rng)
		if err != nil {
			return nil, err
		}
		items, err := parseChartPayload(raw, symbol, venue, ticks, ingestOrder)
		if err != nil {
			return nil, err
		}
		ingestOrder += uint64(len(items))
		pending = append(pending, items...)
	}

	if len(pending) == 0 {
		return nil, errs.New(errs.KindInputFormat, errs.WithMessage("no events returned"))
	}
	return event.AssignSequences(pending), nil
}

// fetchSymbolChart issues the chart request, retrying transport errors
// and upstream 5xx responses with exponential backoff.
func (c *ChartClient) fetchSymbolChart(ctx context.Context, symbol, interval, rng string) ([]byte, error) {
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", rng)
	q.Set("includePrePost", "false")
	q.Set("events", "history")
	target := c.baseURL + "/" + url.PathEscape(symbol) + "?" + q.Encode()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = chartMaxInterval

	var lastErr error
	for attempt := 0; attempt < chartMaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.New(errs.KindNetworkTransport, errs.WithMessage("rate limiter interrupted"), errs.WithCause(err))
		}

		body, retryable, err := c.doRequest(ctx, target, symbol)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = chartMaxInterval
		}
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.KindNetworkTransport, errs.WithCause(ctx.Err()))
		case <-time.After(sleep):
		}
	}
	return nil, lastErr
}

func (c *ChartClient) doRequest(ctx context.Context, target, symbol string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, errs.New(errs.KindNetworkTransport, errs.WithCause(err))
	}
	req.Header.Set("User-Agent", chartUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, errs.New(errs.KindNetworkTransport,
			errs.WithMessage("chart request failed: "+symbol),
			errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errs.New(errs.KindNetworkTransport,
			errs.WithMessage(fmt.Sprintf("chart request for %s returned %s", symbol, resp.Status)))
		return nil, resp.StatusCode >= 500, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errs.New(errs.KindNetworkTransport, errs.WithCause(err))
	}
	return body, false, nil
}

type chartEnvelope struct {
	Chart chartPayload `json:"chart"`
}

type chartPayload struct {
	Result []chartResult `json:"result"`
	Error  *chartError   `json:"error"`
}

type chartError struct {
	Description string `json:"description"`
}

type chartResult struct {
	Timestamp  []int64         `json:"timestamp"`
	Indicators chartIndicators `json:"indicators"`
}

type chartIndicators struct {
	Quote []chartQuoteSet `json:"quote"`
}

type chartQuoteSet struct {
	Close  []*float64 `json:"close"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Volume []*int64   `json:"volume"`
}

// parseChartPayload decodes one symbol's chart document into pending
// events. Bars with missing or non-finite required fields are skipped.
func parseChartPayload(raw []byte, symbol, venue string, ticks *tick.Table, ingestOrderStart uint64) ([]event.Pending, error) {
	var envelope chartEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errs.New(errs.KindInputFormat,
			errs.WithMessage("chart decode failed: "+symbol),
			errs.WithCause(err))
	}
	if envelope.Chart.Error != nil {
		msg := envelope.Chart.Error.Description
		if msg == "" {
			msg = "upstream error"
		}
		return nil, errs.New(errs.KindInputFormat, errs.WithMessage(symbol+": "+msg))
	}
	if len(envelope.Chart.Result) == 0 {
		return nil, errs.New(errs.KindInputFormat, errs.WithMessage(symbol+": missing chart result"))
	}
	result := envelope.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, errs.New(errs.KindInputFormat, errs.WithMessage(symbol+": missing quote payload"))
	}
	quote := result.Indicators.Quote[0]

	var out []event.Pending
	for idx, tsSec := range result.Timestamp {
		if tsSec < 0 || uint64(tsSec) > math.MaxUint64/1_000_000_000 {
			continue
		}
		timestampNS := uint64(tsSec) * 1_000_000_000

		volume := int64(1)
		if v := valueI64At(quote.Volume, idx); v != nil && *v > 1 {
			volume = *v
		}

		if closePx := valueF64At(quote.Close, idx); closePx != nil {
			priceTicks, err := floatToTicks(ticks, symbol, *closePx)
			if err != nil {
				return nil, err
			}
			out = append(out, event.Pending{
				TimestampNS: timestampNS,
				Venue:       venue,
				Symbol:      symbol,
				Payload:     event.Trade{PriceTicks: priceTicks, Size: volume},
				IngestOrder: ingestOrderStart + uint64(len(out)),
			})
		}

		low := valueF64At(quote.Low, idx)
		high := valueF64At(quote.High, idx)
		if low != nil && high != nil {
			bidPx, err := floatToTicks(ticks, symbol, math.Min(*low, *high))
			if err != nil {
				return nil, err
			}
			askPx, err := floatToTicks(ticks, symbol, math.Max(*low, *high))
			if err != nil {
				return nil, err
			}
			out = append(out, event.Pending{
				TimestampNS: timestampNS,
				Venue:       venue,
				Symbol:      symbol,
				Payload:     event.Quote{BidPx: bidPx, BidSz: volume, AskPx: askPx, AskSz: volume},
				IngestOrder: ingestOrderStart + uint64(len(out)),
			})
		}
	}

	return out, nil
}

func valueF64At(series []*float64, idx int) *float64 {
	if idx >= len(series) || series[idx] == nil || !isFinite(*series[idx]) {
		return nil
	}
	return series[idx]
}

func valueI64At(series []*int64, idx int) *int64 {
	if idx >= len(series) || series[idx] == nil {
		return nil
	}
	return series[idx]
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func floatToTicks(ticks *tick.Table, symbol string, value float64) (int64, error) {
	if !isFinite(value) {
		return 0, errs.New(errs.KindInputFormat,
			errs.WithMessage(fmt.Sprintf("%s: non-finite price %v", symbol, value)))
	}
	return ticks.PriceToTicks(symbol, decimal.NewFromFloat(value))
}
