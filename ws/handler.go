// Package ws is the websocket transport: it upgrades HTTP requests, decodes the {event, data} frames of a
// connection into a coordinator session and writes the outbound frames back.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/coordinator"
	"github.com/tcriess/lightspeed-contest/metrics"
	"github.com/tcriess/lightspeed-contest/types"
)

const eventsChannelSize = 16

type Options struct {
	SendQueueSize  int
	MaxMessageSize int64
}

// Handler accepts websocket connections and runs a coordinator session for each of them.
type Handler struct {
	coordinator *coordinator.Coordinator
	upgrader    websocket.Upgrader
	opts        Options
	logger      hclog.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	clients  map[*Client]struct{}
	sessions sync.WaitGroup
}

func NewHandler(coord *coordinator.Coordinator, opts Options, logger hclog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		coordinator: coord,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts:    opts,
		logger:  logger,
		metrics: m,
		clients: make(map[*Client]struct{}),
	}
}

func (h *Handler) track(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	h.sessions.Add(1)
	return true
}

func (h *Handler) untrack(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	h.sessions.Done()
}

// CloseAll closes every open connection, refuses new ones and waits until their sessions have ended or ctx is
// done. http.Server.Shutdown does not wait for hijacked connections, so call this after it.
func (h *Handler) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for client := range h.clients {
		client.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "error", err)
		return
	}
	client := NewClient(conn, h.opts, h.logger)
	if !h.track(client) {
		h.logger.Debug("rejecting connection during shutdown", "remote", r.RemoteAddr)
		client.Close()
		return
	}
	defer h.untrack(client)
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	h.logger.Debug("connection accepted", "conn", client.ID(), "remote", r.RemoteAddr)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.WriteLoop()
	}()
	events := make(chan types.InboundEvent, eventsChannelSize)
	go client.ReadLoop(events)

	// returns once ReadLoop closed the events channel, the session is disconnected by then
	h.coordinator.NewSession(client).Run(r.Context(), events)
	client.Close()
	wg.Wait()
	h.logger.Debug("connection closed", "conn", client.ID())
}
