package domain

import "fmt"

// OrderSide is the direction of an order.
type OrderSide uint8

const (
	NoOrderSide OrderSide = iota
	Buy
	Sell
)

func (s OrderSide) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "NO_ORDER_SIDE"
	}
}

// Opposite returns the other direction. Panics for NoOrderSide.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		panic("no opposite for NO_ORDER_SIDE")
	}
}

// OrderSideFromStr parses "BUY"/"SELL".
func OrderSideFromStr(s string) (OrderSide, error) {
	switch s {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return NoOrderSide, fmt.Errorf("invalid order side %q", s)
	}
}

// PositionSide is the net direction of a position.
type PositionSide uint8

const (
	Flat PositionSide = iota
	Long
	Short
)

func (s PositionSide) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// PositionSideFromStr parses "FLAT"/"LONG"/"SHORT".
func PositionSideFromStr(s string) (PositionSide, error) {
	switch s {
	case "FLAT":
		return Flat, nil
	case "LONG":
		return Long, nil
	case "SHORT":
		return Short, nil
	default:
		return Flat, fmt.Errorf("invalid position side %q", s)
	}
}

// LiquiditySide records whether a fill added or removed liquidity.
type LiquiditySide uint8

const (
	NoLiquiditySide LiquiditySide = iota
	Maker
	Taker
)

func (s LiquiditySide) String() string {
	switch s {
	case Maker:
		return "MAKER"
	case Taker:
		return "TAKER"
	default:
		return "NO_LIQUIDITY_SIDE"
	}
}

// AccountType distinguishes cash from margin accounts.
type AccountType uint8

const (
	CashAccountType AccountType = iota
	MarginAccountType
)

func (t AccountType) String() string {
	if t == MarginAccountType {
		return "MARGIN"
	}
	return "CASH"
}

// AccountTypeFromStr parses an account type name.
func AccountTypeFromStr(s string) (AccountType, error) {
	switch s {
	case "CASH":
		return CashAccountType, nil
	case "MARGIN":
		return MarginAccountType, nil
	default:
		return CashAccountType, fmt.Errorf("unknown account type %q", s)
	}
}

// OrderType is the execution type of a working order.
type OrderType uint8

const (
	Limit OrderType = iota
	Market
	StopLimit
	StopMarket
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case StopLimit:
		return "STOP_LIMIT"
	case StopMarket:
		return "STOP_MARKET"
	default:
		return "LIMIT"
	}
}

// TimeInForce is the lifetime policy of a working order.
type TimeInForce uint8

const (
	GTC TimeInForce = iota
	IOC
	FOK
	Day
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case Day:
		return "DAY"
	default:
		return "GTC"
	}
}

// OrderStatus is the venue-acknowledged lifecycle state of an order.
type OrderStatus uint8

const (
	Initialized OrderStatus = iota
	Submitted
	Accepted
	PartiallyFilled
	Filled
	Canceled
	Rejected
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case Submitted:
		return "SUBMITTED"
	case Accepted:
		return "ACCEPTED"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	default:
		return "INITIALIZED"
	}
}

// BookAction is a discrete order book delta operation.
type BookAction uint8

const (
	BookAdd BookAction = iota + 1
	BookUpdate
	BookDelete
	BookClear
)

func (a BookAction) String() string {
	switch a {
	case BookAdd:
		return "ADD"
	case BookUpdate:
		return "UPDATE"
	case BookDelete:
		return "DELETE"
	case BookClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// BookActionFromStr parses a delta action name.
func BookActionFromStr(s string) (BookAction, error) {
	switch s {
	case "ADD":
		return BookAdd, nil
	case "UPDATE":
		return BookUpdate, nil
	case "DELETE":
		return BookDelete, nil
	case "CLEAR":
		return BookClear, nil
	default:
		return 0, fmt.Errorf("invalid book action %q", s)
	}
}
