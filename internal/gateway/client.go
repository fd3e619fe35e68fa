package gateway

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trading-simulator/internal/model"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	maxReadSize = 4096
)

// CandleSource answers candle history requests. It is satisfied by
// *candles.Aggregator.
type CandleSource interface {
	GetCandles(symbol string, g model.Granularity, count int) ([]model.Candle, error)
}

// client is a single WebSocket peer bound to a broadcaster channel.
type client struct {
	conn    *websocket.Conn
	ch      *Channel
	b       *Broadcaster
	candles CandleSource
	log     *zap.Logger
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ch.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-c.ch.Ready():
			for _, msg := range c.ch.drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					c.b.Remove(c.ch)
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.b.Remove(c.ch)
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.b.Remove(c.ch)
		c.conn.Close()
		c.log.Info("ws client disconnected", zap.String("conn_id", c.ch.ID()))
	}()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMsg
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			c.b.Reply(c.ch, TypeError, "", ErrorReply{Code: "bad_request", Message: "invalid message: " + err.Error()})
			continue
		}
		c.handle(msg)
	}
}

// handle serves one client message.
func (c *client) handle(msg ClientMsg) {
	switch msg.Type {
	case TypeSubscribe:
		if err := c.b.Subscribe(c.ch, msg.Symbol); err != nil {
			c.replyErr(msg.ReqID, err)
			return
		}
		c.b.Reply(c.ch, TypeSubscribed, msg.ReqID, SubscriptionReply{Symbol: msg.Symbol, Subscriptions: c.b.Subscriptions(c.ch)})

	case TypeUnsubscribe:
		c.b.Unsubscribe(c.ch, msg.Symbol)
		c.b.Reply(c.ch, TypeUnsubscribed, msg.ReqID, SubscriptionReply{Symbol: msg.Symbol, Subscriptions: c.b.Subscriptions(c.ch)})

	case TypeGetCandles:
		g, err := model.ParseGranularity(msg.Granularity)
		if err != nil {
			c.replyErr(msg.ReqID, err)
			return
		}
		count := msg.Count
		if count == 0 {
			count = 100
		}
		candles, err := c.candles.GetCandles(msg.Symbol, g, count)
		if err != nil {
			c.replyErr(msg.ReqID, err)
			return
		}
		c.b.Reply(c.ch, TypeCandles, msg.ReqID, CandlesReply{Symbol: msg.Symbol, Granularity: g.String(), Candles: candles})

	case TypePing:
		c.b.Reply(c.ch, TypePong, msg.ReqID, PongReply{ServerTS: time.Now().UnixMilli()})

	default:
		c.b.Reply(c.ch, TypeError, msg.ReqID, ErrorReply{Code: "bad_request", Message: "unknown message type " + msg.Type})
	}
}

func (c *client) replyErr(reqID string, err error) {
	c.b.Reply(c.ch, TypeError, reqID, ErrorReply{Code: ErrorCode(err), Message: err.Error()})
}

// ErrorCode maps an error kind to a stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrRuleViolation):
		return "rule_violation"
	case errors.Is(err, model.ErrAlreadyClosed):
		return "already_closed"
	default:
		return "internal"
	}
}
