package stream

import "ironbeam_auto_go/broker"

// Kind identifies a subscription channel.
type Kind string

const (
	KindQuote     Kind = "quotes"
	KindDepth     Kind = "depths"
	KindTrade     Kind = "trades"
	KindIndicator Kind = "indicators"
)

// Depth is one top-of-book update.
type Depth struct {
	Symbol   string  `json:"exchSym"`
	BidPrice float64 `json:"bidPrice"`
	BidSize  int     `json:"bidSize"`
	AskPrice float64 `json:"askPrice"`
	AskSize  int     `json:"askSize"`
}

// Trade is one executed trade print.
type Trade struct {
	Symbol    string  `json:"exchSym"`
	Price     float64 `json:"price"`
	Size      int     `json:"size"`
	Timestamp int64   `json:"timestamp"`
}

// Control is a server housekeeping message (ping, reset).
type Control struct {
	Type string `json:"type"`
}

// Handler signatures, one per message category.
type (
	QuoteHandler   func(broker.Quote)
	DepthHandler   func(Depth)
	TradeHandler   func(Trade)
	ControlHandler func(Control)
)

// serverMessage is the envelope every incoming frame is parsed into.
// Classification is by payload shape: whichever collection is populated
// decides the category, control frames carry only a type.
type serverMessage struct {
	Type   string         `json:"type,omitempty"`
	Quotes []broker.Quote `json:"quotes,omitempty"`
	Depths []Depth        `json:"depths,omitempty"`
	Trades []Trade        `json:"trades,omitempty"`
}

// clientRequest is the frame sent for subscribe/unsubscribe commands.
type clientRequest struct {
	ID      int64    `json:"id"`
	Request string   `json:"request"`
	Kind    Kind     `json:"kind"`
	Symbols []string `json:"symbols"`
}
