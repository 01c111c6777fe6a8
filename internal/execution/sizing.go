package execution

import (
	"fmt"
	"math"
	"strconv"

	"cryptoTrendBot/internal/ports"
)

// stepEpsilon absorbs float division noise when snapping to the quantity step.
const stepEpsilon = 1e-9

// Sizer converts a capital allocation into an exchange-compliant order quantity.
type Sizer struct {
	StepSize    float64
	MinNotional float64
}

// NewSizer builds a Sizer from the exchange's reported symbol filters.
func NewSizer(f *ports.SymbolFilters) Sizer {
	if f == nil {
		return Sizer{}
	}
	return Sizer{StepSize: f.StepSize, MinNotional: f.MinNotional}
}

// Quantity derives the order size for an open: notional is the capital at
// risk times leverage, floored to the quantity step. If the floored result
// falls below the exchange minimum notional, the quantity is raised to the
// minimum-implied size and snapped up to the step. Flooring first avoids
// step-size rejections; raising second still meets the minimum trade size.
func (s Sizer) Quantity(price, capital, riskFraction float64, leverage int) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive, got %g", price)
	}
	if capital <= 0 || riskFraction <= 0 || leverage <= 0 {
		return 0, fmt.Errorf("invalid sizing inputs: capital=%g riskFraction=%g leverage=%d", capital, riskFraction, leverage)
	}

	notional := capital * riskFraction * float64(leverage)
	qty := notional / price
	qty = s.floorToStep(qty)

	if s.MinNotional > 0 && price*qty < s.MinNotional {
		qty = s.ceilToStep(s.MinNotional / price)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("computed quantity is zero at price %g (notional %g, step %g)", price, notional, s.StepSize)
	}
	return qty, nil
}

// Format renders a quantity with exactly the precision the step size implies.
// Without a known step it falls back to full precision rather than truncating.
func (s Sizer) Format(qty float64) string {
	if s.StepSize <= 0 {
		return strconv.FormatFloat(qty, 'f', -1, 64)
	}
	return strconv.FormatFloat(qty, 'f', s.stepDecimals(), 64)
}

func (s Sizer) floorToStep(qty float64) float64 {
	if s.StepSize <= 0 {
		return qty
	}
	return math.Floor(qty/s.StepSize+stepEpsilon) * s.StepSize
}

func (s Sizer) ceilToStep(qty float64) float64 {
	if s.StepSize <= 0 {
		return qty
	}
	return math.Ceil(qty/s.StepSize-stepEpsilon) * s.StepSize
}

func (s Sizer) stepDecimals() int {
	if s.StepSize <= 0 || s.StepSize >= 1 {
		return 0
	}
	d := 0
	step := s.StepSize
	for step < 1-stepEpsilon && d < 8 {
		step *= 10
		d++
	}
	return d
}
