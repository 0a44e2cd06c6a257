// Package tick maps decimal prices to signed integer tick counts.
//
// A Table is immutable after construction. Lookups fall back to the
// default tick size when a symbol has no override.
package tick

import (
	"github.com/shopspring/decimal"

	"github.com/GeoCodeCrafter/md-replay/config"
	"github.com/GeoCodeCrafter/md-replay/errs"
)

// Table resolves per-symbol tick sizes and converts prices to ticks.
type Table struct {
	defaultTick decimal.Decimal
	symbols     map[string]decimal.Decimal
}

// FromConfig builds a Table from a decoded tick configuration file.
func FromConfig(cfg config.TickFile) (*Table, error) {
	defaultTick, err := parsePositiveDecimal(cfg.DefaultTick)
	if err != nil {
		return nil, err
	}
	symbols := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for sym, raw := range cfg.Symbols {
		d, err := parsePositiveDecimal(raw)
		if err != nil {
			return nil, err
		}
		symbols[sym] = d
	}
	return &Table{defaultTick: defaultTick, symbols: symbols}, nil
}

// Uniform builds a Table with a single tick size and no overrides.
func Uniform(tickSize decimal.Decimal) (*Table, error) {
	if tickSize.Sign() <= 0 {
		return nil, errs.New(errs.KindTickConversion, errs.WithMessage("tick size must be positive"))
	}
	return &Table{defaultTick: tickSize, symbols: nil}, nil
}

// TickFor returns the tick size for the symbol, falling back to the default.
func (t *Table) TickFor(symbol string) decimal.Decimal {
	if d, ok := t.symbols[symbol]; ok {
		return d
	}
	return t.defaultTick
}

// PriceToTicks converts a decimal price into an integer tick count,
// rounding the quotient half away from zero.
func (t *Table) PriceToTicks(symbol string, price decimal.Decimal) (int64, error) {
	tickSize := t.TickFor(symbol)
	if tickSize.Sign() <= 0 {
		return 0, errs.New(errs.KindTickConversion, errs.WithMessage("tick size must be positive"))
	}
	ticks := price.DivRound(tickSize, 0)
	bi := ticks.BigInt()
	if !bi.IsInt64() {
		return 0, errs.New(errs.KindTickConversion, errs.WithMessage("tick conversion overflow"))
	}
	return bi.Int64(), nil
}

// PriceStrToTicks parses a decimal price string and converts it to ticks.
func (t *Table) PriceStrToTicks(symbol, price string) (int64, error) {
	px, err := decimal.NewFromString(price)
	if err != nil {
		return 0, errs.New(errs.KindTickConversion,
			errs.WithMessage("invalid decimal: "+price),
			errs.WithCause(err))
	}
	return t.PriceToTicks(symbol, px)
}

// TicksToPrice converts an integer tick count back to a decimal price.
func (t *Table) TicksToPrice(symbol string, ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(t.TickFor(symbol))
}

func parsePositiveDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errs.New(errs.KindTickConversion,
			errs.WithMessage("invalid decimal: "+raw),
			errs.WithCause(err))
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, errs.New(errs.KindTickConversion, errs.WithMessage("tick size must be positive"))
	}
	return d, nil
}
