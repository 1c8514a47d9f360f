package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/types"
)

const (
	defaultMaxMessageSize = 64 * 1024
	defaultSendQueueSize  = 256
	pongWait              = 2 * time.Minute
	pingPeriod            = time.Minute
	writeWait             = 10 * time.Second
)

// Client is a middleman between the websocket connection and the session handling its events. It implements
// broadcast.Conn.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger hclog.Logger

	// Buffered channel of outbound frames, it is never closed. Enqueue drops frames once it is full.
	send chan []byte

	maxMessageSize int64

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, opts Options, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	id := uuid.New().String()
	return &Client{
		id:             id,
		conn:           conn,
		logger:         logger.With("conn", id),
		send:           make(chan []byte, opts.SendQueueSize),
		maxMessageSize: opts.MaxMessageSize,
		done:           make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Enqueue queues a frame for the write loop without blocking. It returns false if the client is closed or its
// queue is full.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops both loops and closes the connection. It may be called more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// ReadLoop pumps frames from the websocket connection into events, until the connection fails or the client
// is closed. It closes events when it returns.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop(events chan<- types.InboundEvent) {
	defer func() {
		close(events)
		c.Close()
	}()
	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws closed unexpected", "error", err)
			}
			return
		}
		ev, err := types.Decode(raw)
		if err != nil || ev.Name == "" {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		select {
		case events <- ev:
		case <-c.done:
			return
		}
	}
}

// WriteLoop pumps queued frames to the websocket connection and keeps it alive with pings.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
