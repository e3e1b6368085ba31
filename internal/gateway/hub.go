// Package gateway streams indicator bundles to websocket clients.
//
// A client subscribes to a (symbol, timeframe) series with an indicator
// config. It immediately receives the current bundle and then a recomputed
// bundle every time bars for that series are updated.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"indicator-engine/internal/logger"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"
)

// Hub tracks websocket clients and their subscriptions, and fans out
// recomputed bundles when a series is updated.
type Hub struct {
	svc  *service.Service
	prom *metrics.Metrics // optional
	log  *slog.Logger

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	bySeries map[string]map[*Client]struct{} // series key -> subscribed clients

	// Pending updates are coalesced per series until Run picks them up.
	pendMu  sync.Mutex
	pending map[string]pendingUpdate
	wake    chan struct{}

	// Update-to-enqueue latency of pushed bundles.
	Latency *LatencyTracker

	computeTimeout time.Duration
}

type pendingUpdate struct {
	update model.BarsUpdated
	at     time.Time
}

// NewHub creates a hub. m and log may be nil.
func NewHub(svc *service.Service, m *metrics.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		svc:            svc,
		prom:           m,
		log:            log,
		clients:        make(map[*Client]struct{}),
		bySeries:       make(map[string]map[*Client]struct{}),
		pending:        make(map[string]pendingUpdate),
		wake:           make(chan struct{}, 1),
		Latency:        NewLatencyTracker(10000),
		computeTimeout: 10 * time.Second,
	}
}

// Run delivers queued series updates until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			h.drain(ctx)
		}
	}
}

// OnBarsUpdated queues u. Repeated updates for a series collapse into one
// recompute. It never blocks, so it is safe to call from a pub/sub loop.
func (h *Hub) OnBarsUpdated(u model.BarsUpdated) {
	key := model.SeriesKey(u.Symbol, u.TF)
	if !h.hasSubscribers(key) {
		return
	}
	h.pendMu.Lock()
	if prev, ok := h.pending[key]; ok {
		u.Count += prev.update.Count
		h.pending[key] = pendingUpdate{update: u, at: prev.at}
	} else {
		h.pending[key] = pendingUpdate{update: u, at: time.Now()}
	}
	h.pendMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) drain(ctx context.Context) {
	h.pendMu.Lock()
	batch := h.pending
	h.pending = make(map[string]pendingUpdate, len(batch))
	h.pendMu.Unlock()

	for key, p := range batch {
		if ctx.Err() != nil {
			return
		}
		h.push(ctx, key, p)
	}
}

// push recomputes every distinct request subscribed to a series once and
// sends the result to each subscriber.
func (h *Hub) push(ctx context.Context, seriesKey string, p pendingUpdate) {
	groups := make(map[string][]target)
	for _, t := range h.targets(seriesKey) {
		k := t.sub.groupKey()
		groups[k] = append(groups[k], t)
	}

	for _, ts := range groups {
		tid := logger.GenerateTraceID(seriesKey, p.update.LastTS)
		cctx, cancel := context.WithTimeout(logger.WithTraceID(ctx, tid), h.computeTimeout)
		resp, err := h.svc.Compute(cctx, ts[0].sub.request())
		cancel()
		if err != nil {
			h.log.Warn("recompute failed", append(logger.LogWithTrace(cctx),
				slog.String("series", seriesKey), slog.Any("err", err))...)
			for _, t := range ts {
				t.client.sendError(t.sub.id, "", err)
			}
			continue
		}
		for _, t := range ts {
			t.client.sendBundle(t.sub, "", resp)
		}
		h.Latency.Record(float64(time.Since(p.at).Microseconds()) / 1000)
	}
}

type target struct {
	client *Client
	sub    *subscription
}

func (h *Hub) targets(seriesKey string) []target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []target
	for c := range h.bySeries[seriesKey] {
		if sub := c.subscription(seriesKey); sub != nil {
			out = append(out, target{client: c, sub: sub})
		}
	}
	return out
}

func (h *Hub) hasSubscribers(seriesKey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySeries[seriesKey]) > 0
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(n))
	}
	h.log.Info("ws client connected", slog.String("client", c.id), slog.Int("clients", n))
}

// removeClient drops c and all its subscriptions. Safe to call twice.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for key, set := range h.bySeries {
		delete(set, c)
		if len(set) == 0 {
			delete(h.bySeries, key)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.closeSend()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(n))
	}
	h.log.Info("ws client disconnected", slog.String("client", c.id), slog.Int("clients", n))
}

func (h *Hub) index(c *Client, seriesKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	set := h.bySeries[seriesKey]
	if set == nil {
		set = make(map[*Client]struct{})
		h.bySeries[seriesKey] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unindex(c *Client, seriesKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.bySeries[seriesKey]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.bySeries, seriesKey)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	cs := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.RUnlock()
	for _, c := range cs {
		c.conn.Close()
		h.removeClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats is the /ws/stats payload.
type Stats struct {
	Clients       int            `json:"clients"`
	Subscriptions map[string]int `json:"subscriptions"` // series key -> subscribers
	LatencyP50    float64        `json:"latency_p50_ms"`
	LatencyP95    float64        `json:"latency_p95_ms"`
	LatencyP99    float64        `json:"latency_p99_ms"`
	Samples       int            `json:"latency_samples"`
}

// Stats reports connected clients, subscriptions and push latency.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	st := Stats{Clients: len(h.clients), Subscriptions: make(map[string]int, len(h.bySeries))}
	for key, set := range h.bySeries {
		st.Subscriptions[key] = len(set)
	}
	h.mu.RUnlock()
	st.LatencyP50, st.LatencyP95, st.LatencyP99 = h.Latency.Percentiles()
	st.Samples = h.Latency.Count()
	return st
}

func (h *Hub) countPush() {
	if h.prom != nil {
		h.prom.WSPushesTotal.Inc()
	}
}

func (h *Hub) countDrop() {
	if h.prom != nil {
		h.prom.WSDroppedTotal.Inc()
	}
}

func encode(msg ServerMessage) []byte {
	data, _ := json.Marshal(msg)
	return data
}
