package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scratchbrainz/deck"
	"scratchbrainz/platter"
)

// ============================================================================
// Renderer WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// The renderer is external. It connects here, receives tonearm and platter
// placements as "frame" messages plus "state" snapshots, and sends pointer
// gestures and its layout back as action envelopes.
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "state_init" with a deck snapshot.
//   - The engine never reads anything back from the renderer.
//
// ============================================================================

// stateBroadcast is what the daemon loop hands the broadcaster: a
// frameBroadcast or a snapshotBroadcast.
type stateBroadcast any

// wsSpinData describes a servo-locked rotation the renderer animates on its
// own. A zero period means the platter is no longer locked.
type wsSpinData struct {
	PeriodMS float64 `json:"period_ms"`
	Phase    float64 `json:"phase"`
	Reverse  bool    `json:"reverse"`
}

// frameBroadcast is the JSON `data` payload for "frame". Only the parts
// that changed are set.
type frameBroadcast struct {
	Tonearm *deck.ArmPose `json:"tonearm,omitempty"`
	Platter *float64      `json:"platter,omitempty"`
	Spin    *wsSpinData   `json:"spin,omitempty"`

	At time.Time `json:"-"`
}

func (f frameBroadcast) empty() bool {
	return f.Tonearm == nil && f.Platter == nil && f.Spin == nil
}

// merge folds a newer frame into f, newer parts winning.
func (f *frameBroadcast) merge(n frameBroadcast) {
	if n.Tonearm != nil {
		f.Tonearm = n.Tonearm
	}
	if n.Platter != nil {
		f.Platter = n.Platter
	}
	if n.Spin != nil {
		f.Spin = n.Spin
	}
	f.At = n.At
}

// snapshotBroadcast is published as "state".
type snapshotBroadcast struct {
	Snapshot deck.Snapshot
	At       time.Time
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Renderer adapter
// ============================================================================

// wsRenderer implements deck.Renderer by collecting one tick's placements
// into a frame. The daemon loop calls flush after every tick; a frame that
// cannot be queued is kept and merged into the next one.
type wsRenderer struct {
	out     chan<- stateBroadcast
	pending frameBroadcast
}

func newWSRenderer(out chan<- stateBroadcast) *wsRenderer {
	return &wsRenderer{out: out}
}

func (r *wsRenderer) PlaceTonearm(p deck.ArmPose) { r.pending.Tonearm = &p }

func (r *wsRenderer) RotatePlatter(angle float64) { r.pending.Platter = &angle }

func (r *wsRenderer) SpinPlatter(s platter.Spin) {
	r.pending.Spin = &wsSpinData{
		PeriodMS: float64(s.Period) / float64(time.Millisecond),
		Phase:    s.Phase,
		Reverse:  s.Reverse,
	}
}

func (r *wsRenderer) flush(now time.Time) {
	if r.pending.empty() {
		return
	}
	if r.out == nil {
		r.pending = frameBroadcast{}
		return
	}
	r.pending.At = now
	select {
	case r.out <- r.pending:
		r.pending = frameBroadcast{}
	default:
	}
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero selects a default.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. Zero selects a
	// default.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 64
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte
	once sync.Once

	remoteAddr string
	logger     *slog.Logger

	// onMessage handles inbound text messages. Nil discards them.
	onMessage func([]byte)
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 64
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxInboundBytes bounds one inbound action envelope.
	maxInboundBytes = 4096
)

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump reads inbound action envelopes until the connection fails, then
// unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage && c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+what+")", "remote_addr", c.remoteAddr, "error", err)
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// requests reaches the daemon loop for inbound actions and the
	// snapshot sent on connect.
	requests chan<- request
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the renderer websocket components. Call Register on
// a mux, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, requests chan<- request, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, cfg.Hub),
		requests: requests,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// The renderer is usually a local page served from another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)
	client.onMessage = s.inbound(client)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps outlive the handler; net/http cancels r.Context() when it
	// returns. The hub and connection errors end them instead.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	waitCtx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	snap, err := requestSnapshot(waitCtx, s.requests)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{Type: "state_init", Ts: &now, Data: snap})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// inbound returns the action handler for one client. Actions from a client
// are applied in the order it sent them.
func (s *Server) inbound(c *Client) func([]byte) {
	return func(msg []byte) {
		action, err := UnmarshalAction(msg)
		if err != nil {
			c.logger.Debug("ws inbound rejected", "remote_addr", c.remoteAddr, "error", err)
			return
		}
		if err := submit(context.Background(), s.requests, action); err != nil {
			c.logger.Debug("ws action failed", "remote_addr", c.remoteAddr, "action", actionType(action), "error", err)
		}
	}
}

func actionType(a Action) string {
	if name, ok := actionName(a); ok {
		return name
	}
	return "unknown"
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals daemon broadcasts and fans them out to all hub
// clients. Frames are coalesced: within each window only the merged latest
// frame goes out. A state snapshot flushes the pending frame first so the
// order the daemon produced is kept. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan stateBroadcast, window time.Duration, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *frameBroadcast
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(typ string, at time.Time, data any) {
		if at.IsZero() {
			at = time.Now()
		}
		ts := at.UTC()
		msg, err := json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", typ)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushFrame := func() {
		if pending == nil {
			return
		}
		emit("frame", pending.At, pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushFrame()
			stopTimer()
			return

		case <-timerCh:
			timer = nil
			timerCh = nil
			flushFrame()

		case b, ok := <-src:
			if !ok {
				flushFrame()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			switch ev := b.(type) {
			case frameBroadcast:
				if window <= 0 {
					emit("frame", ev.At, ev)
					continue
				}
				if pending == nil {
					f := ev
					pending = &f
				} else {
					pending.merge(ev)
				}
				// Do not reset on each frame; a steady stream still flushes
				// once per window.
				if timer == nil {
					timer = time.NewTimer(window)
					timerCh = timer.C
				}

			case snapshotBroadcast:
				flushFrame()
				stopTimer()
				emit("state", ev.At, ev.Snapshot)

			default:
				// Unknown broadcasts are dropped.
			}
		}
	}
}
