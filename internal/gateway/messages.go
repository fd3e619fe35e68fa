package gateway

import (
	"time"

	"github.com/bytedance/sonic"

	"trading-simulator/internal/model"
)

// Server message types.
const (
	TypePriceUpdate  = "price-update"
	TypeCandleClosed = "candle-closed"
	TypeCandles      = "candles"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypePong         = "pong"
)

// Client message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeGetCandles  = "get-candles"
	TypePing        = "ping"
)

// Envelope wraps every server message.
type Envelope struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ClientMsg is any message a client sends. Unused fields stay empty.
type ClientMsg struct {
	Type        string `json:"type"`
	ReqID       string `json:"req_id,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Granularity string `json:"granularity,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// PriceUpdate is the payload of price-update.
type PriceUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// CandlesReply is the payload of candles.
type CandlesReply struct {
	Symbol      string         `json:"symbol"`
	Granularity string         `json:"granularity"`
	Candles     []model.Candle `json:"candles"`
}

// SubscriptionReply acknowledges subscribe and unsubscribe.
type SubscriptionReply struct {
	Symbol        string   `json:"symbol"`
	Subscriptions []string `json:"subscriptions"`
}

// ErrorReply is the payload of error.
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongReply is the payload of pong.
type PongReply struct {
	ServerTS int64 `json:"server_ts"`
}

func encode(typ, reqID string, data any) ([]byte, error) {
	return sonic.Marshal(Envelope{Type: typ, ReqID: reqID, Data: data})
}
