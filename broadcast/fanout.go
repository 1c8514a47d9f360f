// Package broadcast delivers encoded events to the connections that joined a room.
package broadcast

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/metrics"
	"github.com/tcriess/lightspeed-contest/types"
)

// ErrDropped is returned by ToConn if the connection's send queue is full.
var ErrDropped = errors.New("send queue full, message dropped")

// Conn is one client connection as seen by the fan-out. Enqueue must not block, it returns false if the frame
// could not be queued.
type Conn interface {
	ID() string
	Enqueue(frame []byte) bool
}

type group struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Fanout maps room codes to the connections that joined them.
type Fanout struct {
	mu      sync.RWMutex
	groups  map[string]*group
	logger  hclog.Logger
	metrics *metrics.Metrics
}

func NewFanout(logger hclog.Logger, m *metrics.Metrics) *Fanout {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Fanout{
		groups:  make(map[string]*group),
		logger:  logger,
		metrics: m,
	}
}

func (f *Fanout) group(code string, create bool) *group {
	f.mu.RLock()
	g, ok := f.groups[code]
	f.mu.RUnlock()
	if ok || !create {
		return g
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok = f.groups[code]; ok {
		return g
	}
	g = &group{conns: make(map[string]Conn)}
	f.groups[code] = g
	return g
}

// Join adds conn to the room's group.
func (f *Fanout) Join(code string, conn Conn) {
	g := f.group(code, true)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn.ID()] = conn
}

// Leave removes conn from the room's group. Leaving a group that conn never joined is a no-op.
func (f *Fanout) Leave(code string, conn Conn) {
	g := f.group(code, false)
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.conns[conn.ID()]; ok && cur == conn {
		delete(g.conns, conn.ID())
	}
}

// Members returns the number of connections in the room's group.
func (f *Fanout) Members(code string) int {
	g := f.group(code, false)
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// ToRoom sends the event to every connection of the room.
func (f *Fanout) ToRoom(code, event string, payload interface{}) error {
	return f.send(code, "", event, payload)
}

// ToRoomExcept sends the event to every connection of the room except the one with the id exceptConnID.
func (f *Fanout) ToRoomExcept(code, exceptConnID, event string, payload interface{}) error {
	return f.send(code, exceptConnID, event, payload)
}

func (f *Fanout) send(code, except, event string, payload interface{}) error {
	frame, err := types.Encode(event, payload)
	if err != nil {
		f.logger.Error("could not encode event", "event", event, "error", err)
		return err
	}
	g := f.group(code, false)
	if g == nil {
		return nil
	}
	sent, dropped := 0, 0
	g.mu.RLock()
	for id, c := range g.conns {
		if id == except {
			continue
		}
		if c.Enqueue(frame) {
			sent++
		} else {
			dropped++
			f.logger.Debug("dropped event, send queue full", "room", code, "conn", id, "event", event)
		}
	}
	g.mu.RUnlock()
	f.metrics.Delivered(sent)
	f.metrics.Dropped(dropped)
	return nil
}

// ToConn sends the event to a single connection using the same envelope as the room broadcasts.
func (f *Fanout) ToConn(conn Conn, event string, payload interface{}) error {
	frame, err := types.Encode(event, payload)
	if err != nil {
		return err
	}
	if !conn.Enqueue(frame) {
		f.metrics.Dropped(1)
		f.logger.Debug("dropped event, send queue full", "conn", conn.ID(), "event", event)
		return ErrDropped
	}
	f.metrics.Delivered(1)
	return nil
}
