// Package stream manages the persistent push connection to the quote relay.
// It tracks subscribed symbols, batches subscribe/unsubscribe commands,
// reconnects after failures, suspends while the app is backgrounded and feeds
// incoming price ticks into the quote store.
package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/quotesync/internal/domain"
	"github.com/aristath/quotesync/internal/events"
	"github.com/aristath/quotesync/internal/quotestore"
)

// Status is the connection state, exposed as a pull-based snapshot.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	// DefaultReconnectDelay is a single flat delay, not exponential backoff.
	// Kept as-is: changing it alters observable reconnection timing.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultMaxSymbols is the relay's concurrent subscription limit.
	DefaultMaxSymbols = 200

	// Liveness watchdog: with heartbeats expected regularly, a silent
	// connection this old is treated as dead and forced through reconnect.
	livenessInterval  = 30 * time.Second
	livenessThreshold = 90 * time.Second
)

// Config holds stream connection configuration.
type Config struct {
	URL            string
	MaxSymbols     int
	ReconnectDelay time.Duration
}

// Connection is the push connection state machine. All writers of its state
// serialize on one mutex; the websocket itself is owned by the read loop of
// the current connection attempt.
type Connection struct {
	url            string
	maxSymbols     int
	reconnectDelay time.Duration
	httpClient     *http.Client

	store *quotestore.Store
	bus   *events.Bus
	log   zerolog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	connCtx        context.Context
	cancelFunc     context.CancelFunc
	status         Status
	subscribed     []string // insertion order, for FIFO capacity eviction
	subscribedSet  map[string]bool
	pending        []string // queued while disconnected, flushed on connect
	pendingSet     map[string]bool
	suspended      bool
	destroyed      bool
	reconnectTimer *time.Timer
	lastInbound    time.Time

	writeMu sync.Mutex
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// Proxies in front of the relay negotiate HTTP/2 via TLS ALPN, but the
// WebSocket upgrade handshake requires HTTP/1.1.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// New creates a stream connection in the disconnected state.
func New(cfg Config, store *quotestore.Store, bus *events.Bus, log zerolog.Logger) *Connection {
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = DefaultMaxSymbols
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Connection{
		url:            cfg.URL,
		maxSymbols:     cfg.MaxSymbols,
		reconnectDelay: cfg.ReconnectDelay,
		httpClient:     createHTTP1Client(),
		store:          store,
		bus:            bus,
		log:            log.With().Str("component", "stream").Logger(),
		status:         StatusDisconnected,
		subscribedSet:  make(map[string]bool),
		pendingSet:     make(map[string]bool),
	}
}

// Connect establishes the relay connection. It is a no-op when already
// connected or connecting, which prevents duplicate sockets. On success the
// pending queue is merged into the subscribed set and every subscribed symbol
// is sent as a single subscribe request, since the relay has no memory of a
// prior connection's state.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.destroyed || c.suspended {
		c.mu.Unlock()
		return nil
	}
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()
	c.emitStatus(StatusConnecting)

	c.log.Info().Str("url", c.url).Msg("Connecting to relay")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		outstanding := len(c.subscribed)+len(c.pending) > 0
		c.mu.Unlock()
		c.emitStatus(StatusError)

		c.log.Error().Err(err).Msg("Relay dial failed")
		if outstanding {
			c.scheduleReconnect()
		}
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "destroyed during connect")
		return nil
	}
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.status = StatusConnected
	c.lastInbound = time.Now()

	// Flush symbols queued while disconnected, then enforce capacity.
	// Nothing is on the wire yet, so eviction here needs no unsubscribe.
	for _, sym := range c.pending {
		c.addSubscribedLocked(sym)
	}
	c.pending = nil
	c.pendingSet = make(map[string]bool)
	for len(c.subscribed) > c.maxSymbols {
		c.evictOldestLocked()
	}
	toSend := append([]string(nil), c.subscribed...)
	c.mu.Unlock()
	c.emitStatus(StatusConnected)

	c.log.Info().Int("symbols", len(toSend)).Msg("Connected to relay")

	if len(toSend) > 0 {
		if err := c.sendControl(connCtx, actionSubscribe, toSend); err != nil {
			c.log.Error().Err(err).Msg("Failed to flush subscriptions")
		}
	}

	go c.readLoop(connCtx, conn)
	go c.watchLiveness(connCtx, conn)
	return nil
}

// Disconnect closes the connection and cancels any scheduled reconnect.
// The subscribed-symbol set is kept so a later Connect resubscribes.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	cancel := c.cancelFunc
	c.conn = nil
	c.connCtx = nil
	c.cancelFunc = nil
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		c.log.Info().Msg("Disconnected from relay")
	}
	if changed {
		c.emitStatus(StatusDisconnected)
	}
}

// Destroy tears the connection down permanently. No reconnect timer fires
// after destruction; this is the only terminal transition.
func (c *Connection) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.Disconnect()
}

// Suspend closes the connection while the app is backgrounded without
// clearing the subscribed-symbol set.
func (c *Connection) Suspend() {
	c.mu.Lock()
	if c.suspended || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.suspended = true
	c.mu.Unlock()

	c.log.Info().Msg("Suspending stream connection")
	c.Disconnect()
}

// Resume reopens the connection after a Suspend when subscriptions are
// outstanding.
func (c *Connection) Resume() {
	c.mu.Lock()
	if !c.suspended || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.suspended = false
	outstanding := len(c.subscribed)+len(c.pending) > 0
	c.mu.Unlock()

	c.log.Info().Bool("resubscribing", outstanding).Msg("Resuming stream connection")
	if outstanding {
		if err := c.Connect(); err != nil {
			c.log.Error().Err(err).Msg("Reconnect on resume failed")
		}
	}
}

// BindLifecycle suspends/resumes the connection on app lifecycle transitions.
// The returned function removes the binding.
func (c *Connection) BindLifecycle(n *LifecycleNotifier) func() {
	return n.OnTransition(func(state AppState) {
		switch state {
		case AppBackground:
			c.Suspend()
		case AppForeground:
			c.Resume()
		}
	})
}

// Subscribe adds symbols to the stream. Symbols are normalized and
// deduplicated against the current set. While disconnected the symbols are
// queued, never lost, and a connect is triggered; once connected the relay's
// capacity limit is enforced by evicting the oldest subscriptions first.
func (c *Connection) Subscribe(symbols []string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	var added []string
	for _, raw := range symbols {
		sym := domain.NormalizeSymbol(raw)
		if sym == "" || c.subscribedSet[sym] || c.pendingSet[sym] {
			continue
		}
		added = append(added, sym)
	}
	if len(added) == 0 {
		c.mu.Unlock()
		return
	}

	if c.status != StatusConnected {
		for _, sym := range added {
			c.pending = append(c.pending, sym)
			c.pendingSet[sym] = true
		}
		shouldConnect := !c.suspended
		c.mu.Unlock()

		c.log.Debug().Int("queued", len(added)).Msg("Queued subscriptions while disconnected")
		if shouldConnect {
			go func() {
				if err := c.Connect(); err != nil {
					c.log.Debug().Err(err).Msg("Connect triggered by subscribe failed")
				}
			}()
		}
		return
	}

	for _, sym := range added {
		c.addSubscribedLocked(sym)
	}
	var evicted []string
	for len(c.subscribed) > c.maxSymbols {
		evicted = append(evicted, c.evictOldestLocked())
	}
	// Symbols evicted in the same call never reached the wire.
	toSubscribe := added[:0]
	for _, sym := range added {
		if c.subscribedSet[sym] {
			toSubscribe = append(toSubscribe, sym)
		}
	}
	ctx := c.connCtx
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.log.Info().Strs("evicted", evicted).Msg("Capacity reached, evicting oldest subscriptions")
		if err := c.sendControl(ctx, actionUnsubscribe, evicted); err != nil {
			c.log.Error().Err(err).Msg("Failed to send eviction unsubscribe")
		}
	}
	if len(toSubscribe) > 0 {
		if err := c.sendControl(ctx, actionSubscribe, toSubscribe); err != nil {
			c.log.Error().Err(err).Msg("Failed to send subscribe")
		}
	}
}

// Unsubscribe removes symbols from the stream and the pending queue.
func (c *Connection) Unsubscribe(symbols []string) {
	c.mu.Lock()
	var onWire []string
	for _, raw := range symbols {
		sym := domain.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if c.pendingSet[sym] {
			delete(c.pendingSet, sym)
			c.pending = removeSymbol(c.pending, sym)
		}
		if c.subscribedSet[sym] {
			delete(c.subscribedSet, sym)
			c.subscribed = removeSymbol(c.subscribed, sym)
			onWire = append(onWire, sym)
		}
	}
	connected := c.status == StatusConnected
	ctx := c.connCtx
	c.mu.Unlock()

	if connected && len(onWire) > 0 {
		if err := c.sendControl(ctx, actionUnsubscribe, onWire); err != nil {
			c.log.Error().Err(err).Msg("Failed to send unsubscribe")
		}
	}
}

// Status returns the current connection status snapshot.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SubscribedSymbols returns a snapshot of subscribed symbols in subscription
// order, including symbols queued while disconnected.
func (c *Connection) SubscribedSymbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed)+len(c.pending))
	out = append(out, c.subscribed...)
	out = append(out, c.pending...)
	return out
}

// addSubscribedLocked appends a symbol preserving insertion order. Caller
// holds c.mu.
func (c *Connection) addSubscribedLocked(sym string) {
	if c.subscribedSet[sym] {
		return
	}
	c.subscribed = append(c.subscribed, sym)
	c.subscribedSet[sym] = true
}

// evictOldestLocked removes and returns the earliest-subscribed symbol.
// Caller holds c.mu.
func (c *Connection) evictOldestLocked() string {
	oldest := c.subscribed[0]
	c.subscribed = c.subscribed[1:]
	delete(c.subscribedSet, oldest)
	return oldest
}

func removeSymbol(list []string, sym string) []string {
	for i, s := range list {
		if s == sym {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// sendControl sends one subscribe/unsubscribe frame to the relay.
func (c *Connection) sendControl(ctx context.Context, action string, symbols []string) error {
	if ctx == nil {
		return fmt.Errorf("not connected")
	}

	frame := newControlFrame(action, symbols)
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", action, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", action, err)
	}

	c.log.Debug().Str("action", action).Int("symbols", len(symbols)).Msg("Control frame sent")
	return nil
}

// readLoop continuously reads relay messages for one connection attempt.
func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	var readErr error
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			readErr = err
			break
		}
		if msgType != websocket.MessageText {
			continue
		}
		c.handleMessage(data)
	}
	c.handleReadExit(ctx, readErr)
}

// handleReadExit tears down after the read loop stops and schedules a
// reconnect when the close was not intentional and subscriptions are
// outstanding.
func (c *Connection) handleReadExit(ctx context.Context, readErr error) {
	c.mu.Lock()
	if c.connCtx != ctx {
		// Disconnect/Destroy already tore this connection down, or a newer
		// connection superseded it.
		c.mu.Unlock()
		return
	}
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	c.conn = nil
	c.connCtx = nil

	abnormal := ctx.Err() == nil
	if abnormal {
		c.status = StatusError
	} else {
		c.status = StatusDisconnected
	}
	status := c.status
	outstanding := len(c.subscribed)+len(c.pending) > 0
	shouldReconnect := abnormal && outstanding && !c.destroyed && !c.suspended
	c.mu.Unlock()
	c.emitStatus(status)

	if abnormal {
		closeStatus := websocket.CloseStatus(readErr)
		if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
			c.log.Info().Int("status", int(closeStatus)).Msg("Relay closed the connection")
		} else {
			c.log.Error().Err(readErr).Msg("Relay read error")
		}
	}

	if shouldReconnect {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the flat-delay reconnect timer. At most one timer is
// armed at a time, and Disconnect/Destroy cancel it.
func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	if c.destroyed || c.suspended || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	delay := c.reconnectDelay
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		stopped := c.destroyed || c.suspended
		outstanding := len(c.subscribed)+len(c.pending) > 0
		c.mu.Unlock()
		if stopped || !outstanding {
			return
		}
		if err := c.Connect(); err != nil {
			// Connect arms the next flat-delay retry itself.
			c.log.Debug().Err(err).Msg("Reconnect attempt failed")
		}
	})
	c.mu.Unlock()

	c.log.Info().Dur("delay", delay).Msg("Reconnect scheduled")
}

// handleMessage parses one inbound frame. Malformed payloads are dropped; a
// bad frame must never take the read loop down.
func (c *Connection) handleMessage(data []byte) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug().Err(err).Msg("Dropping malformed relay frame")
		return
	}

	c.mu.Lock()
	c.lastInbound = time.Now()
	c.mu.Unlock()

	switch frame.Event {
	case eventHeartbeat:
		// Liveness signal only.
	case eventSubscribeStatus:
		c.log.Debug().Str("status", frame.Status).Str("symbol", frame.Symbol).Msg("Subscribe status")
	case eventPrice:
		c.handleTick(frame)
	default:
		c.log.Debug().Str("event", frame.Event).Msg("Ignoring unknown relay event")
	}
}

// handleTick writes a price tick into the store. When the store already holds
// a previous close the tick's own previous_close field is ignored, so an
// EOD-corrected value is never displaced by an after-hours-contaminated one.
func (c *Connection) handleTick(frame eventFrame) {
	includePreviousClose := true
	if existing, ok := c.store.GetQuote(frame.Symbol); ok && existing.PreviousClose > 0 {
		includePreviousClose = false
	}

	q, ok := frame.tickQuote(includePreviousClose)
	if !ok {
		c.log.Debug().Str("symbol", frame.Symbol).Msg("Dropping invalid price tick")
		return
	}
	c.store.SetQuote(q)
}

// watchLiveness forces a reconnect cycle when the relay has been silent well
// past the heartbeat cadence.
func (c *Connection) watchLiveness(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.connCtx == ctx && time.Since(c.lastInbound) > livenessThreshold
			c.mu.Unlock()
			if stale {
				c.log.Warn().Msg("Relay silent past liveness threshold, forcing reconnect")
				conn.Close(websocket.StatusPolicyViolation, "liveness timeout")
				return
			}
		}
	}
}

// emitStatus publishes a status transition on the event bus.
func (c *Connection) emitStatus(status Status) {
	c.log.Debug().Str("status", string(status)).Msg("Stream status changed")
	if c.bus != nil {
		c.bus.Emit(events.StreamStatusChanged, "stream", map[string]interface{}{
			"status": string(status),
		})
	}
}
