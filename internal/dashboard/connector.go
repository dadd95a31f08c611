// Package dashboard implements the event transport connector spec §6
// describes: a strict, best-effort mirror of the EventBus onto an external
// dashboard process over a WebSocket, discovered via a port file watched
// with fsnotify. The core never depends on this package's success — every
// failure here is logged and retried, never propagated.
package dashboard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"zmcptools/internal/config"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/logging"
)

// DiscoveryFile is the name of the file under the data directory that, once
// present, names the dashboard's websocket URL.
const DiscoveryFile = "dashboard.port"

// ServerInfo identifies this process to the dashboard on registration.
type ServerInfo struct {
	RepositoryPath string    `json:"repositoryPath"`
	StartTime      time.Time `json:"startTime"`
}

// frame is the wire envelope for every message exchanged with the dashboard.
type frame struct {
	Type       string        `json:"type"`
	ProjectID  string        `json:"projectId,omitempty"`
	EventType  eventbus.Kind `json:"eventType,omitempty"`
	Payload    interface{}   `json:"payload,omitempty"`
	ServerInfo *ServerInfo   `json:"serverInfo,omitempty"`
}

// Connector watches for the dashboard's discovery file, maintains a
// reconnecting websocket connection, and forwards every EventBus event as a
// {type:"event", ...} frame.
type Connector struct {
	bus       *eventbus.Bus
	dataDir   string
	projectID string
	info      ServerInfo
	cfg       config.DashboardConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

// New constructs a Connector that mirrors bus onto whatever dashboard
// appears under dataDir.
func New(bus *eventbus.Bus, dataDir, projectID string, info ServerInfo, cfg config.DashboardConfig) *Connector {
	return &Connector{bus: bus, dataDir: dataDir, projectID: projectID, info: info, cfg: cfg}
}

// Run blocks, watching for the discovery file and maintaining a connection
// to it, until ctx is cancelled. Every error is logged and retried; Run
// returns when ctx is done or, with AutoReconnect disabled, as soon as the
// first connection cycle ends.
func (c *Connector) Run(ctx context.Context) {
	unsub := c.subscribeAll()
	defer unsub()

	for {
		if ctx.Err() != nil {
			return
		}
		url, err := c.awaitDiscoveryFile(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Dashboard("discovery watch failed: %v", err)
			if !sleepOrDone(ctx, c.cfg.ConnectionCheckInterval()) {
				return
			}
			continue
		}
		c.connectAndServe(ctx, url)
		if !c.cfg.AutoReconnect {
			return
		}
	}
}

func (c *Connector) discoveryPath() string {
	return filepath.Join(c.dataDir, DiscoveryFile)
}

// awaitDiscoveryFile blocks until the discovery file exists and returns its
// contents (the dashboard's websocket URL), using fsnotify the way the
// teacher's MangleWatcher watches a directory for file events.
func (c *Connector) awaitDiscoveryFile(ctx context.Context) (string, error) {
	if data, err := os.ReadFile(c.discoveryPath()); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("create discovery watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure data dir: %w", err)
	}
	if err := watcher.Add(c.dataDir); err != nil {
		return "", fmt.Errorf("watch data dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", fmt.Errorf("discovery watcher closed")
			}
			if filepath.Base(ev.Name) != DiscoveryFile {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			data, err := os.ReadFile(c.discoveryPath())
			if err != nil {
				continue
			}
			return strings.TrimSpace(string(data)), nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return "", fmt.Errorf("discovery watcher closed")
			}
			logging.DashboardDebug("discovery watcher error: %v", err)
		}
	}
}

// connectAndServe dials url, registers, and pumps frames until the
// connection drops or ctx is cancelled, then retries with exponential
// backoff per spec §6 (initial 1s, cap 30s, max 10 attempts).
func (c *Connector) connectAndServe(ctx context.Context, url string) {
	delay := c.cfg.ReconnectDelay()
	for attempt := 0; c.cfg.MaxReconnectAttempts == 0 || attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			logging.Dashboard("dashboard dial failed (attempt %d): %v", attempt+1, err)
			if !sleepOrDone(ctx, delay) {
				return
			}
			delay *= 2
			if max := c.cfg.MaxReconnectDelay(); delay > max {
				delay = max
			}
			continue
		}

		logging.Dashboard("connected to dashboard at %s", url)
		c.setConn(conn)
		c.register(conn)
		c.pump(ctx, conn)
		c.setConn(nil)
		delay = c.cfg.ReconnectDelay()

		if ctx.Err() != nil {
			return
		}
	}
	logging.Dashboard("exhausted reconnect attempts to dashboard")
}

func (c *Connector) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Connector) register(conn *websocket.Conn) {
	f := frame{Type: "register", ProjectID: c.projectID, ServerInfo: &c.info}
	if err := conn.WriteJSON(f); err != nil {
		logging.Dashboard("register frame failed: %v", err)
	}
}

// pump reads control frames (ping/request_status) until the connection
// closes or ctx is cancelled.
func (c *Connector) pump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			c.handleInbound(conn, msg)
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
	case <-done:
	}
}

func (c *Connector) handleInbound(conn *websocket.Conn, msg map[string]interface{}) {
	switch msg["type"] {
	case "ping":
		_ = conn.WriteJSON(frame{Type: "pong"})
	case "request_status":
		_ = conn.WriteJSON(frame{Type: "server_status", Payload: map[string]interface{}{
			"repositoryPath": c.info.RepositoryPath,
			"startTime":      c.info.StartTime,
		}})
	}
}

// subscribeAll mirrors every EventBus kind onto the dashboard connection,
// silently dropping events while disconnected (the bus is the source of
// truth, not the transport).
func (c *Connector) subscribeAll() func() {
	var ids []uint64
	for _, kind := range eventbus.AllKinds {
		k := kind
		ids = append(ids, c.bus.Subscribe(k, func(ev eventbus.Event) {
			c.forward(k, ev)
		}, eventbus.Filter{}))
	}
	return func() {
		for _, id := range ids {
			c.bus.Unsubscribe(id)
		}
	}
}

func (c *Connector) forward(kind eventbus.Kind, ev eventbus.Event) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	f := frame{Type: "event", ProjectID: c.projectID, EventType: kind, Payload: ev.Payload}
	if err := conn.WriteJSON(f); err != nil {
		logging.DashboardDebug("forward %s failed: %v", kind, err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
