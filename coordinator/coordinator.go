// Package coordinator implements the per-connection protocol of the contest rooms: authentication, room
// membership, contests, submissions and chat. In-memory state is changed and broadcast synchronously, the
// durable store is updated in the background.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/auth"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/metrics"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/types"
)

// Grader grades submissions asynchronously. Enqueue must not block, it returns false if the submission was
// not accepted.
type Grader interface {
	Enqueue(sub types.Submission) bool
}

type Options struct {
	JoinHistory     int   // messages sent with room_joined
	DefaultDuration int64 // seconds, used if start_contest has no duration
	EventsPerSecond float64
	Burst           int
}

// Deps are the shared components all sessions work on.
type Deps struct {
	Rooms     *room.Store
	Fanout    *broadcast.Fanout
	Registry  *Registry
	Documents *persistence.Documents
	Verifier  auth.Verifier
	Grader    Grader // optional
	Logger    hclog.Logger
	Metrics   *metrics.Metrics
}

type Coordinator struct {
	rooms    *room.Store
	fanout   *broadcast.Fanout
	registry *Registry
	docs     *persistence.Documents
	verifier auth.Verifier
	grader   Grader
	logger   hclog.Logger
	metrics  *metrics.Metrics
	opts     Options

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time

	bgMu   sync.Mutex
	closed bool
	tails  map[string]chan struct{} // last queued write per ordering key
}

func New(deps Deps, opts Options) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if opts.JoinHistory <= 0 {
		opts.JoinHistory = 50
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = types.DefaultContestDuration
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		rooms:    deps.Rooms,
		fanout:   deps.Fanout,
		registry: deps.Registry,
		docs:     deps.Documents,
		verifier: deps.Verifier,
		grader:   deps.Grader,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		opts:     opts,
		bg:       bg,
		cancel:   cancel,
		now:      time.Now,
		tails:    make(map[string]chan struct{}),
	}
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// background runs a durable write detached from the connection that caused it: a disconnect does not cancel
// it. Failures are logged and never reach a client. After Shutdown no new writes are started.
func (c *Coordinator) background(op string, fn func(ctx context.Context) error) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	c.start(op, fn)
}

// backgroundOrdered is background, but writes with the same key run one after the other in call order.
func (c *Coordinator) backgroundOrdered(key, op string, fn func(ctx context.Context) error) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	prev := c.tails[key]
	done := make(chan struct{})
	started := c.start(op, func(ctx context.Context) error {
		defer func() {
			c.bgMu.Lock()
			if c.tails[key] == done {
				delete(c.tails, key)
			}
			c.bgMu.Unlock()
			close(done)
		}()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fn(ctx)
	})
	if started {
		c.tails[key] = done
	}
}

// start must be called with bgMu held.
func (c *Coordinator) start(op string, fn func(ctx context.Context) error) bool {
	if c.closed {
		c.metrics.DurableFailed(op)
		c.logger.Warn("dropping durable write after shutdown", "op", op)
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c.bg); err != nil {
			c.metrics.DurableFailed(op)
			c.logger.Error("durable write failed", "op", op, "error", err)
		}
	}()
	return true
}

// Wait blocks until all background writes have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown refuses further background writes, waits for the running ones until ctx is done, then cancels the
// remaining ones.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.bgMu.Lock()
	c.closed = true
	c.bgMu.Unlock()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("cancelling pending durable writes")
	}
	c.cancel()
}
