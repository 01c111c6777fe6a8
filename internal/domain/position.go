package domain

// Position is the engine's single live position. A flat position carries no
// entry data, which keeps the invariant "side == flat iff entry/quantity are
// empty" impossible to violate through the constructors below.
type Position struct {
	Side       PositionSide // Flat, Long or Short
	EntryPrice float64      // Price at which the position was entered
	Quantity   float64      // Size of the position, always positive
	OpenFee    float64      // Fee paid at entry, settled against PnL on close
}

// Flat returns the empty position.
func Flat() Position {
	return Position{Side: SideFlat}
}

// Open returns a live position in the given direction.
func Open(side PositionSide, entryPrice, quantity, openFee float64) Position {
	if side == SideFlat {
		return Flat()
	}
	return Position{Side: side, EntryPrice: entryPrice, Quantity: quantity, OpenFee: openFee}
}

// IsFlat reports whether no position is held.
func (p Position) IsFlat() bool {
	return p.Side == SideFlat || p.Side == ""
}

// Notional returns the position value at the given price.
func (p Position) Notional(price float64) float64 {
	if p.IsFlat() {
		return 0
	}
	return p.Quantity * price
}

// GrossPnL is the price-delta profit of closing at exitPrice, before fees.
func (p Position) GrossPnL(exitPrice float64) float64 {
	switch p.Side {
	case SideLong:
		return (exitPrice - p.EntryPrice) * p.Quantity
	case SideShort:
		return (p.EntryPrice - exitPrice) * p.Quantity
	default:
		return 0
	}
}
