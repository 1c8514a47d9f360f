package grading

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-contest/room"
)

// Refresher periodically reconciles the leaderboards of rooms with an active contest with the durable
// scores, f.e. after scores were written by another process or an admin.
type Refresher struct {
	cronRunner   *cron.Cron
	leaderboards *Leaderboards
	rooms        *room.Store
	logger       hclog.Logger
	timeout      time.Duration
}

func NewRefresher(spec string, leaderboards *Leaderboards, rooms *room.Store, logger hclog.Logger) (*Refresher, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Refresher{
		cronRunner:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		leaderboards: leaderboards,
		rooms:        rooms,
		logger:       logger,
		timeout:      time.Minute,
	}
	_, err := r.cronRunner.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RefreshAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Refresher) Start() {
	r.cronRunner.Start()
}

// Stop stops the schedule, the returned context is done once a running refresh finished.
func (r *Refresher) Stop() context.Context {
	return r.cronRunner.Stop()
}

// RefreshAll refreshes the leaderboards of all rooms with an active contest and returns the number of rooms
// whose leaderboard changed.
func (r *Refresher) RefreshAll(ctx context.Context) int {
	changed := 0
	for _, code := range r.rooms.Codes() {
		contest, ok := r.rooms.Contest(code)
		if !ok || !contest.IsActive {
			continue
		}
		ok, err := r.leaderboards.Refresh(ctx, code)
		if err != nil {
			r.logger.Warn("could not refresh leaderboard", "room", code, "error", err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed
}
