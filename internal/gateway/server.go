// Package gateway is the real-time surface of the simulator: it fans price
// ticks and closed candles out to subscribed WebSocket connections and
// routes private notifications to the connections of their recipient.
package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Handler upgrades HTTP requests to WebSocket connections. The optional
// user_id query parameter subscribes the connection to that user's
// notifications.
type Handler struct {
	b       *Broadcaster
	candles CandleSource
	log     *zap.Logger
}

// NewHandler creates the WebSocket endpoint.
func NewHandler(b *Broadcaster, candles CandleSource, log *zap.Logger) *Handler {
	return &Handler{b: b, candles: candles, log: log.Named("ws")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	conn.EnableWriteCompression(true)

	ch := h.b.Open(r.URL.Query().Get("user_id"))
	c := &client{conn: conn, ch: ch, b: h.b, candles: h.candles, log: h.log}
	h.log.Info("ws client connected",
		zap.String("conn_id", ch.ID()), zap.String("user_id", ch.UserID()), zap.Int("total", h.b.Channels()))

	go c.writePump()
	go c.readPump()
}
