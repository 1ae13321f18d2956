package fieldsync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Monitor tracks online/offline transitions and exposes the current
// connectivity signal. Subscribers receive the new state on every
// transition.
type Monitor interface {
	// Online reports current connectivity.
	Online() bool

	// Subscribe returns a channel receiving each transition's new state,
	// and an unsubscribe function. The channel is buffered; a slow consumer
	// misses intermediate flaps but always observes the latest transition.
	Subscribe() (<-chan bool, func())
}

// monitorHub implements subscriber bookkeeping shared by the concrete
// monitors.
type monitorHub struct {
	mu     sync.Mutex
	online bool
	subs   map[uint64]chan bool
	nextID uint64
}

func newMonitorHub(online bool) *monitorHub {
	return &monitorHub{online: online, subs: make(map[uint64]chan bool)}
}

func (h *monitorHub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

func (h *monitorHub) Subscribe() (<-chan bool, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan bool, 4)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// set updates connectivity and notifies subscribers on transition.
func (h *monitorHub) set(online bool) {
	h.mu.Lock()
	if h.online == online {
		h.mu.Unlock()
		return
	}
	h.online = online
	subs := make([]chan bool, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Drain one stale value and retry so the subscriber always sees
			// the latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

// ManualMonitor is a Monitor driven by explicit SetOnline calls. It is the
// default for embedders that already know their connectivity (and the
// workhorse for tests).
type ManualMonitor struct {
	*monitorHub
}

// NewManualMonitor creates a manual monitor with the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{monitorHub: newMonitorHub(online)}
}

// SetOnline updates connectivity, notifying subscribers on transition.
func (m *ManualMonitor) SetOnline(online bool) {
	m.set(online)
}

// ProbeMonitorConfig configures the WebSocket connectivity probe.
type ProbeMonitorConfig struct {
	// URL is the WebSocket endpoint to probe (ws:// or wss://).
	URL string

	// Header values sent with the dial (e.g. Authorization).
	RequestHeader map[string][]string

	// PingInterval is how often to ping the server (default: 15s).
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong before declaring the
	// connection dead (default: 10s).
	PongTimeout time.Duration

	// RedialBackoff is the wait between failed dials (default: 5s).
	RedialBackoff time.Duration

	// Logger for probe events; defaults to log.Default().
	Logger *log.Logger
}

// ProbeMonitor derives connectivity from a persistent WebSocket to the
// server: a live, pong-responsive socket means online; dial failures and
// dead sockets mean offline. Start runs the probe loop until the context is
// cancelled or Close is called.
type ProbeMonitor struct {
	*monitorHub
	config ProbeMonitorConfig
	dialer *websocket.Dialer

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startMu sync.Mutex
	started bool
}

// NewProbeMonitor creates a WebSocket-probe monitor. It reports offline
// until the first successful dial.
func NewProbeMonitor(config ProbeMonitorConfig) *ProbeMonitor {
	if config.PingInterval <= 0 {
		config.PingInterval = 15 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 10 * time.Second
	}
	if config.RedialBackoff <= 0 {
		config.RedialBackoff = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &ProbeMonitor{
		monitorHub: newMonitorHub(false),
		config:     config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Start launches the probe loop. Calling Start twice is a no-op.
func (p *ProbeMonitor) Start(ctx context.Context) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.probeLoop(ctx)
	}()
}

// Close stops the probe loop and marks the monitor offline.
func (p *ProbeMonitor) Close() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if !p.started {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.started = false
	p.set(false)
}

func (p *ProbeMonitor) probeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := p.dialer.DialContext(ctx, p.config.URL, p.config.RequestHeader)
		if err != nil {
			p.set(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.RedialBackoff):
			}
			continue
		}

		p.set(true)
		p.holdConnection(ctx, conn)
		p.set(false)
	}
}

// holdConnection keeps the socket alive with pings until it dies or the
// context is cancelled.
func (p *ProbeMonitor) holdConnection(ctx context.Context, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(p.config.PingInterval + p.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(p.config.PingInterval + p.config.PongTimeout))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			// The probe ignores messages; reads exist to surface errors and
			// service pongs.
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(p.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readErr:
			return
		case <-ticker.C:
			deadline := time.Now().Add(p.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				p.config.Logger.Printf("fieldsync: connectivity probe ping failed: %v", err)
				return
			}
		}
	}
}
