package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/logger"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 64 << 10
)

// Client is one websocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	subMu sync.RWMutex
	subs  map[string]*subscription // series key -> subscription
}

// subscription is one series a client follows, with its resolved config.
type subscription struct {
	id     string
	symbol string
	tf     int
	limit  int
	cfg    indicator.Config
	seq    atomic.Int64
}

func (s *subscription) request() service.Request {
	cfg := s.cfg
	return service.Request{Symbol: s.symbol, TF: s.tf, Limit: s.limit, Config: &cfg}
}

// groupKey is equal for subscriptions that produce the same bundle.
func (s *subscription) groupKey() string {
	return strconv.Itoa(s.limit) + "|" + s.cfg.Key()
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]*subscription),
	}
}

func (c *Client) subscription(seriesKey string) *subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[seriesKey]
}

// enqueue queues msg without blocking. A full buffer drops the message.
func (c *Client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.countDrop()
		c.hub.log.Warn("ws send buffer full, dropping message", slog.String("client", c.id))
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendBundle(sub *subscription, reqID string, resp *service.Response) {
	msg := ServerMessage{
		Type:   TypeBundle,
		ReqID:  reqID,
		SubID:  sub.id,
		Symbol: sub.symbol,
		TF:     sub.tf,
		Seq:    sub.seq.Add(1),
		Data:   resp,
		TS:     time.Now().UnixMilli(),
	}
	if c.enqueue(encode(msg)) {
		c.hub.countPush()
	}
}

func (c *Client) sendError(subID, reqID string, err error) {
	text := err.Error()
	kind := service.ErrorKind(err)
	if kind == "internal" {
		text = "internal error"
	}
	c.enqueue(encode(ServerMessage{Type: TypeError, ReqID: reqID, SubID: subID, Error: text, Kind: kind}))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws read failed", slog.String("client", c.id), slog.Any("err", err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "", invalid("invalid message: "+err.Error()))
			continue
		}

		switch strings.ToLower(msg.Action) {
		case ActionSubscribe:
			c.handleSubscribe(ctx, msg)
		case ActionUnsubscribe:
			c.handleUnsubscribe(msg)
		case ActionPing:
			c.enqueue(encode(ServerMessage{Type: TypePong, ReqID: msg.ReqID, TS: time.Now().UnixMilli()}))
		default:
			c.sendError("", msg.ReqID, invalid("unknown action "+strconv.Quote(msg.Action)))
		}
	}
}

// handleSubscribe registers (or replaces) the client's subscription to a
// series and sends the current bundle. A series with no bars yet stays
// subscribed; the client gets a not_found error now and bundles later.
func (c *Client) handleSubscribe(ctx context.Context, msg ClientMessage) {
	msg.Symbol = strings.TrimSpace(msg.Symbol)
	if msg.Symbol == "" || msg.TF <= 0 {
		c.sendError("", msg.ReqID, invalid("symbol and tf are required"))
		return
	}
	cfg, err := c.hub.svc.ResolveConfig(msg.Request())
	if err != nil {
		c.sendError("", msg.ReqID, err)
		return
	}

	sub := &subscription{
		id:     uuid.NewString(),
		symbol: msg.Symbol,
		tf:     int(msg.TF),
		limit:  msg.Limit,
		cfg:    cfg,
	}
	key := model.SeriesKey(sub.symbol, sub.tf)
	c.subMu.Lock()
	c.subs[key] = sub
	c.subMu.Unlock()
	c.hub.index(c, key)

	c.enqueue(encode(ServerMessage{Type: TypeSubscribed, ReqID: msg.ReqID, SubID: sub.id, Symbol: sub.symbol, TF: sub.tf}))

	tctx := logger.WithTraceID(ctx, logger.NewTraceID())
	cctx, cancel := context.WithTimeout(tctx, c.hub.computeTimeout)
	defer cancel()
	resp, err := c.hub.svc.Compute(cctx, sub.request())
	if err != nil {
		c.sendError(sub.id, msg.ReqID, err)
		return
	}
	c.sendBundle(sub, msg.ReqID, resp)

	c.hub.log.Debug("ws subscribed", append(logger.LogWithTrace(tctx),
		slog.String("client", c.id),
		slog.String("series", key),
		slog.String("config", cfg.Key()))...)
}

func (c *Client) handleUnsubscribe(msg ClientMessage) {
	key := model.SeriesKey(strings.TrimSpace(msg.Symbol), int(msg.TF))
	c.subMu.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	c.subMu.Unlock()
	if !ok {
		c.sendError("", msg.ReqID, notSubscribed(key))
		return
	}
	c.hub.unindex(c, key)
	c.enqueue(encode(ServerMessage{Type: TypeUnsubscribed, ReqID: msg.ReqID, SubID: sub.id, Symbol: sub.symbol, TF: sub.tf}))
}

func invalid(text string) error {
	return fmt.Errorf("%w: %s", service.ErrInvalidRequest, text)
}

func notSubscribed(key string) error {
	return fmt.Errorf("%w: not subscribed to %s", service.ErrNotFound, key)
}
