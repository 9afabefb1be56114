package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/auth"
	"github.com/strefethen/hotel-hub-go/internal/metrics"
)

const writeWait = 10 * time.Second

// Options tunes the hub.
type Options struct {
	PingInterval time.Duration
	SendBuffer   int
}

// Hub tracks admin connections and their topic subscriptions.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*connection

	pingInterval time.Duration
	sendBuffer   int
	logger       *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// NewHub creates a hub. Call Start to run the liveness sweep.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Hub{
		conns:        make(map[string]*connection),
		pingInterval: opts.PingInterval,
		sendBuffer:   opts.SendBuffer,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

type connection struct {
	id   string
	user auth.User
	ws   *websocket.Conn

	// mu guards send and closed; send is closed exactly once on eviction.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	topicsMu sync.RWMutex
	topics   map[string]struct{}

	lastActivity atomic.Int64
}

func (c *connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *connection) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}

// enqueue never blocks. It reports false when the buffer is full or the
// connection is already closed.
func (c *connection) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *connection) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *connection) subscribed(topic string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start runs the liveness sweep until Close.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.started.Store(true)
		go h.livenessLoop()
	})
}

// Close stops the sweep and disconnects everyone.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		if h.started.Load() {
			<-h.done
		}
		for _, c := range h.snapshot() {
			h.evict(c, reasonShutdown)
		}
	})
}

func (h *Hub) livenessLoop() {
	defer close(h.done)
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep(time.Now())
		case <-h.stop:
			return
		}
	}
}

// sweep pings every connection and evicts those silent for two intervals.
func (h *Hub) sweep(now time.Time) {
	for _, c := range h.snapshot() {
		if c.idle(now) > 2*h.pingInterval {
			h.evict(c, reasonStale)
			continue
		}
		if err := c.ws.WriteControl(websocket.PingMessage, nil, now.Add(writeWait)); err != nil {
			h.evict(c, reasonWriteError)
		}
	}
}

// =============================================================================
// Connections
// =============================================================================

// Register adopts an upgraded websocket for user and starts its pumps.
func (h *Hub) Register(ws *websocket.Conn, user auth.User) string {
	c := &connection{
		id:     uuid.NewString(),
		user:   user,
		ws:     ws,
		send:   make(chan []byte, h.sendBuffer),
		topics: make(map[string]struct{}),
	}
	c.touch()

	h.mu.Lock()
	h.conns[c.id] = c
	count := len(h.conns)
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()

	h.logger.Info("admin realtime connection opened",
		zap.String("connection_id", c.id),
		zap.String("admin_id", user.AdminID),
		zap.Int("connections", count),
	)

	go h.writePump(c)
	go h.readPump(c)

	h.sendTo(c, newMessage(TypeConnectionEstablished, map[string]any{
		"connection_id": c.id,
		"admin_id":      user.AdminID,
		"username":      user.Username,
	}))
	return c.id
}

// ConnectionCount reports live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) snapshot() []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) evict(c *connection, reason string) {
	h.mu.Lock()
	_, present := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	if !c.close() {
		return
	}
	_ = c.ws.Close()
	if present {
		metrics.RealtimeConnections.Dec()
	}
	metrics.RealtimeEvictions.WithLabelValues(reason).Inc()
	h.logger.Info("admin realtime connection closed",
		zap.String("connection_id", c.id),
		zap.String("reason", reason),
	)
}

func (h *Hub) writePump(c *connection) {
	for frame := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.evict(c, reasonWriteError)
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (h *Hub) readPump(c *connection) {
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			h.evict(c, reasonClosed)
			return
		}
		c.touch()
		h.handleMessage(c, raw)
	}
}

func (h *Hub) handleMessage(c *connection, raw []byte) {
	var incoming IncomingMessage
	if err := json.Unmarshal(raw, &incoming); err != nil {
		h.sendTo(c, newMessage(TypeError, map[string]any{"message": "invalid message"}))
		return
	}

	switch incoming.Type {
	case TypePing:
		h.sendTo(c, newMessage(TypePong, nil))
	case TypeSubscribe, TypeUnsubscribe:
		var data topicData
		if len(incoming.Data) > 0 {
			if err := json.Unmarshal(incoming.Data, &data); err != nil {
				h.sendTo(c, newMessage(TypeError, map[string]any{"message": "invalid topic data"}))
				return
			}
		}
		topics := data.all()
		if len(topics) == 0 {
			h.sendTo(c, newMessage(TypeError, map[string]any{"message": "topic or topics is required"}))
			return
		}

		c.topicsMu.Lock()
		for _, topic := range topics {
			if incoming.Type == TypeSubscribe {
				c.topics[topic] = struct{}{}
			} else {
				delete(c.topics, topic)
			}
		}
		c.topicsMu.Unlock()

		reply := TypeSubscriptionConfirmed
		if incoming.Type == TypeUnsubscribe {
			reply = TypeUnsubscriptionConfirmed
		}
		h.sendTo(c, newMessage(reply, map[string]any{"topics": topics}))
	default:
		h.sendTo(c, newMessage(TypeError, map[string]any{"message": "unknown message type: " + incoming.Type}))
	}
}

func (h *Hub) sendTo(c *connection, message OutgoingMessage) {
	frame, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to encode realtime message", zap.String("type", message.Type), zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		h.evict(c, reasonBufferFull)
	}
}

// =============================================================================
// Broadcast
// =============================================================================

// Broadcast sends an event to subscribers of topic, or to everyone when topic
// is empty. It never blocks: a connection whose buffer is full is evicted.
func (h *Hub) Broadcast(eventType string, payload any, topic string) {
	frame, err := json.Marshal(newMessage(eventType, payload))
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("type", eventType), zap.Error(err))
		return
	}

	var slow []*connection
	for _, c := range h.snapshot() {
		if topic != "" && !c.subscribed(topic) {
			continue
		}
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.evict(c, reasonBufferFull)
	}
}
