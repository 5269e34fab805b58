package trade

import "github.com/shopspring/decimal"

const maxTakeProfitLegs = 5

// fractionSumTolerance bounds how far explicit fractions may drift
// from summing to exactly 1. Step-level exactness is guaranteed later
// by the quantity allocator, which floors every leg and hands the
// remainder to the last one.
var fractionSumTolerance = decimal.New(1, -6)

// TPLeg pairs a take-profit trigger percent with the fraction of the
// position that leg exits.
type TPLeg struct {
	Percent  decimal.Decimal `json:"percent"`
	Fraction decimal.Decimal `json:"fraction"`
}

// TPConfig is a tagged variant over the three accepted take-profit
// shapes. At most one field may be set; the zero value means no
// take-profit legs.
type TPConfig struct {
	Single   *decimal.Decimal
	Equal    []decimal.Decimal
	Weighted []TPLeg
}

func SingleTP(percent decimal.Decimal) TPConfig {
	return TPConfig{Single: &percent}
}

func EqualSplitTP(percents ...decimal.Decimal) TPConfig {
	return TPConfig{Equal: percents}
}

func WeightedTP(legs ...TPLeg) TPConfig {
	return TPConfig{Weighted: legs}
}

// Normalize resolves the variant into ordered (percent, fraction) legs.
// Violations never reach the venue; they fail here.
func (c TPConfig) Normalize() ([]TPLeg, error) {
	shapes := 0
	if c.Single != nil {
		shapes++
	}
	if len(c.Equal) > 0 {
		shapes++
	}
	if len(c.Weighted) > 0 {
		shapes++
	}
	if shapes > 1 {
		return nil, Errf(ErrValidation, "take-profit config sets more than one shape")
	}

	one := decimal.NewFromInt(1)
	switch {
	case c.Single != nil:
		if c.Single.Sign() <= 0 {
			return nil, Errf(ErrValidation, "take-profit percent must be positive, got %s", c.Single)
		}
		return []TPLeg{{Percent: *c.Single, Fraction: one}}, nil

	case len(c.Equal) > 0:
		n := len(c.Equal)
		if n > maxTakeProfitLegs {
			return nil, Errf(ErrValidation, "too many take-profit legs: %d, maximum is %d", n, maxTakeProfitLegs)
		}
		share := one.Div(decimal.NewFromInt(int64(n)))
		legs := make([]TPLeg, n)
		used := decimal.Zero
		for i, pct := range c.Equal {
			if pct.Sign() <= 0 {
				return nil, Errf(ErrValidation, "take-profit percent must be positive, got %s", pct)
			}
			frac := share
			if i == n-1 {
				// Remainder to the last leg so the fractions always
				// sum to exactly 1.
				frac = one.Sub(used)
			}
			legs[i] = TPLeg{Percent: pct, Fraction: frac}
			used = used.Add(frac)
		}
		return legs, nil

	case len(c.Weighted) > 0:
		n := len(c.Weighted)
		if n > maxTakeProfitLegs {
			return nil, Errf(ErrValidation, "too many take-profit legs: %d, maximum is %d", n, maxTakeProfitLegs)
		}
		legs := make([]TPLeg, n)
		sum := decimal.Zero
		for i, leg := range c.Weighted {
			if leg.Percent.Sign() <= 0 {
				return nil, Errf(ErrValidation, "take-profit percent must be positive, got %s", leg.Percent)
			}
			if leg.Fraction.Sign() <= 0 {
				return nil, Errf(ErrValidation, "take-profit fraction must be positive, got %s", leg.Fraction)
			}
			legs[i] = leg
			sum = sum.Add(leg.Fraction)
		}
		if sum.Sub(one).Abs().GreaterThan(fractionSumTolerance) {
			return nil, Errf(ErrValidation, "take-profit fractions sum to %s, expected 1", sum)
		}
		return legs, nil
	}

	return nil, nil
}
