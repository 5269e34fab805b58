package trade

import "github.com/shopspring/decimal"

func roundDownToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Floor().Mul(tick)
}

func roundUpToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Ceil().Mul(tick)
}

// EntryPrice places the order ticksDistance ticks off the touch, on
// the passive side, so it can never cross the spread: buys sit at or
// below the best bid, sells at or above the best ask. Residual
// rounding truncates away from the spread.
func EntryPrice(quote Quote, side Side, tick decimal.Decimal, ticksDistance int) (decimal.Decimal, error) {
	if tick.Sign() <= 0 {
		return decimal.Zero, Errf(ErrValidation, "tick size must be positive, got %s", tick)
	}
	if ticksDistance < 0 {
		return decimal.Zero, Errf(ErrValidation, "ticks distance must not be negative, got %d", ticksDistance)
	}
	offset := tick.Mul(decimal.NewFromInt(int64(ticksDistance)))
	switch side {
	case SideBuy:
		if quote.BestBid.Sign() <= 0 {
			return decimal.Zero, Errf(ErrValidation, "no best bid available")
		}
		return roundDownToTick(quote.BestBid.Sub(offset), tick), nil
	case SideSell:
		if quote.BestAsk.Sign() <= 0 {
			return decimal.Zero, Errf(ErrValidation, "no best ask available")
		}
		return roundUpToTick(quote.BestAsk.Add(offset), tick), nil
	}
	return decimal.Zero, Errf(ErrValidation, "invalid side %q", side)
}

// ComputeExitPrices turns percent targets into tick-aligned prices.
// Every price rounds toward the fill: a take-profit is never pushed
// further out than configured, and a stop-loss never loosens past its
// configured distance.
func ComputeExitPrices(fill decimal.Decimal, side Side, legs []TPLeg, slPercent, tick decimal.Decimal) ([]decimal.Decimal, decimal.Decimal, error) {
	if fill.Sign() <= 0 {
		return nil, decimal.Zero, Errf(ErrValidation, "fill price must be positive, got %s", fill)
	}
	if tick.Sign() <= 0 {
		return nil, decimal.Zero, Errf(ErrValidation, "tick size must be positive, got %s", tick)
	}
	if slPercent.Sign() <= 0 {
		return nil, decimal.Zero, Errf(ErrValidation, "stop-loss percent must be positive, got %s", slPercent)
	}

	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	tps := make([]decimal.Decimal, len(legs))

	switch side {
	case SideBuy:
		for i, leg := range legs {
			raw := fill.Mul(one.Add(leg.Percent.Div(hundred)))
			tps[i] = roundDownToTick(raw, tick)
		}
		sl := roundUpToTick(fill.Mul(one.Sub(slPercent.Div(hundred))), tick)
		return tps, sl, nil
	case SideSell:
		for i, leg := range legs {
			raw := fill.Mul(one.Sub(leg.Percent.Div(hundred)))
			tps[i] = roundUpToTick(raw, tick)
		}
		sl := roundDownToTick(fill.Mul(one.Add(slPercent.Div(hundred))), tick)
		return tps, sl, nil
	}
	return nil, decimal.Zero, Errf(ErrValidation, "invalid side %q", side)
}
