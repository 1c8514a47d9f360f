package coordinator

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/types"
	"golang.org/x/time/rate"
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
	InRoom
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case InRoom:
		return "in_room"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the protocol state of one connection. Events are processed strictly one after the other by the
// goroutine running Run, a Session must not be used from several goroutines.
type Session struct {
	c        *Coordinator
	conn     broadcast.Conn
	logger   hclog.Logger
	limiter  *rate.Limiter
	state    State
	identity types.Identity
	roomCode string
}

// NewSession creates the session of a freshly accepted connection.
func (c *Coordinator) NewSession(conn broadcast.Conn) *Session {
	s := &Session{
		c:      c,
		conn:   conn,
		logger: c.logger.Named("session").With("conn", conn.ID()),
		state:  Unauthenticated,
	}
	if c.opts.EventsPerSecond > 0 {
		burst := c.opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(c.opts.EventsPerSecond), burst)
	}
	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Identity() types.Identity {
	return s.identity
}

// RoomCode returns the room the session is in, empty if it is not in a room.
func (s *Session) RoomCode() string {
	return s.roomCode
}

// Run handles the events until the channel is closed (the transport closed the connection) or ctx is done,
// then disconnects the session.
func (s *Session) Run(ctx context.Context, events <-chan types.InboundEvent) {
	defer s.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Handle(ctx, ev)
		}
	}
}

// Handle processes a single inbound event.
func (s *Session) Handle(ctx context.Context, ev types.InboundEvent) {
	if s.state == Disconnected {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.sendError(ErrRateLimited)
		return
	}
	s.logger.Trace("event", "event", ev.Name, "state", s.state)
	switch ev.Name {
	case types.EventAuthenticate:
		s.authenticate(ctx, ev.Data)
	case types.EventJoinRoom:
		s.joinRoom(ev.Data)
	case types.EventLeaveRoom:
		if s.state == InRoom {
			s.leaveRoom()
		}
	case types.EventStartContest:
		s.startContest(ctx, ev.Data)
	case types.EventSubmitCode:
		s.submitCode(ctx, ev.Data)
	case types.EventSendMessage:
		s.sendMessage(ev.Data)
	case types.EventUpdateLeaderboard:
		s.updateLeaderboard(ev.Data)
	default:
		s.send(types.EventError, types.ErrorPayload{Message: "Unknown event: " + ev.Name})
	}
}

// Disconnect leaves the current room and releases the registry entry. It is safe to call more than once.
func (s *Session) Disconnect() {
	if s.state == Disconnected {
		return
	}
	if s.state == InRoom {
		s.leaveRoom()
	}
	if s.identity.Id != "" {
		s.c.registry.Release(s.identity.Id, s.conn)
	}
	s.state = Disconnected
	s.logger.Debug("disconnected", "user", s.identity.Id)
}

func (s *Session) send(event string, payload interface{}) {
	if err := s.c.fanout.ToConn(s.conn, event, payload); err != nil {
		s.logger.Debug("could not send event", "event", event, "error", err)
	}
}

func (s *Session) sendError(err error) {
	s.send(types.EventError, types.ErrorPayload{Message: ClientMessage(err)})
}
