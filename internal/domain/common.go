package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide is the direction of the engine's single live position.
type PositionSide string

const (
	SideFlat  PositionSide = "FLAT"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Opposite returns the reversed direction. Flat has no opposite.
func (s PositionSide) Opposite() PositionSide {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// OrderSide maps a position direction to the order side that opens it.
func (s PositionSide) OrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// TradeSide tags a ledger trade record: an open in either direction, or a close.
type TradeSide string

const (
	TradeLong  TradeSide = "LONG"
	TradeShort TradeSide = "SHORT"
	TradeClose TradeSide = "CLOSE"
)

// TradeSide maps a position direction to the trade record tag for its open.
func (s PositionSide) TradeSide() TradeSide {
	if s == SideShort {
		return TradeShort
	}
	return TradeLong
}
