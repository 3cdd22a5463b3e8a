package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type OrderSide int

const (
	OrderSideBuy  OrderSide = 0 // bid
	OrderSideSell OrderSide = 1 // ask
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	}
	return fmt.Sprintf("OrderSide(%d)", int(s))
}

func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToLower(s) {
	case "buy", "bid", "long":
		return OrderSideBuy, nil
	case "sell", "ask", "short":
		return OrderSideSell, nil
	}
	return 0, fmt.Errorf("unknown order side %q", s)
}

type OrderType int

const (
	OrderTypeLimit        OrderType = 1
	OrderTypeMarket       OrderType = 2
	OrderTypeStopLimit    OrderType = 3
	OrderTypeStop         OrderType = 4
	OrderTypeTrailingStop OrderType = 5
	OrderTypeJoinBid      OrderType = 6
	OrderTypeJoinAsk      OrderType = 7
)

var orderTypeNames = map[OrderType]string{
	OrderTypeLimit:        "limit",
	OrderTypeMarket:       "market",
	OrderTypeStopLimit:    "stop_limit",
	OrderTypeStop:         "stop",
	OrderTypeTrailingStop: "trailing_stop",
	OrderTypeJoinBid:      "join_bid",
	OrderTypeJoinAsk:      "join_ask",
}

func (t OrderType) String() string {
	if name, ok := orderTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

func ParseOrderType(s string) (OrderType, error) {
	want := strings.ReplaceAll(strings.ToLower(s), "-", "_")
	for t, name := range orderTypeNames {
		if name == want {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

// Bracket is a dependent stop-loss or take-profit leg expressed as a signed
// tick offset from the parent's fill price. For a long entry the stop loss is
// negative and the take profit positive; a short entry flips both signs.
type Bracket struct {
	Ticks int       `json:"ticks"`
	Type  OrderType `json:"type"`
}

// Order is sent to the gateway exactly as built by the caller. Unset optional
// fields are omitted from the wire.
type Order struct {
	AccountID         int64     `json:"accountId"`
	ContractID        string    `json:"contractId"`
	Type              OrderType `json:"type"`
	Side              OrderSide `json:"side"`
	Size              int       `json:"size"`
	LimitPrice        *float64  `json:"limitPrice,omitempty"`
	StopPrice         *float64  `json:"stopPrice,omitempty"`
	TrailPrice        *float64  `json:"trailPrice,omitempty"`
	CustomTag         string    `json:"customTag,omitempty"`
	LinkedOrderID     *int64    `json:"linkedOrderId,omitempty"`
	StopLossBracket   *Bracket  `json:"stopLossBracket,omitempty"`
	TakeProfitBracket *Bracket  `json:"takeProfitBracket,omitempty"`
}

type OrderAck struct {
	OrderID int64           `json:"orderId"`
	Raw     json.RawMessage `json:"-"`
}
