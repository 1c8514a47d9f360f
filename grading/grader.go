// Package grading judges submissions in the background, scores them and keeps the room leaderboards up to
// date.
package grading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/metrics"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/scoring"
	"github.com/tcriess/lightspeed-contest/types"
	"golang.org/x/sync/semaphore"
)

const defaultMaxScore = 100

var (
	ErrProblemNotFound = errors.New("problem not found")
	ErrNoTestCases     = errors.New("problem has no test cases")
)

// Judge runs code against test cases.
type Judge interface {
	RunTestCases(ctx context.Context, code, language string, testCases []types.TestCase) ([]types.TestResult, error)
}

// ConnLookup finds the current connection of a user.
type ConnLookup interface {
	Lookup(userID string) (broadcast.Conn, bool)
}

type Options struct {
	Workers   int
	QueueSize int
}

type Deps struct {
	Rooms        *room.Store
	Fanout       *broadcast.Fanout
	Documents    *persistence.Documents
	Judge        Judge
	Formula      *scoring.Formula
	Conns        ConnLookup
	Leaderboards *Leaderboards
	Logger       hclog.Logger
	Metrics      *metrics.Metrics
}

// Grader is a bounded worker pool grading submissions.
type Grader struct {
	rooms        *room.Store
	fanout       *broadcast.Fanout
	docs         *persistence.Documents
	judge        Judge
	formula      *scoring.Formula
	conns        ConnLookup
	leaderboards *Leaderboards
	logger       hclog.Logger
	metrics      *metrics.Metrics

	workers int64
	queue   chan types.Submission
	sem     *semaphore.Weighted
	now     func() time.Time
}

func NewGrader(deps Deps, opts Options) *Grader {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Grader{
		rooms:        deps.Rooms,
		fanout:       deps.Fanout,
		docs:         deps.Documents,
		judge:        deps.Judge,
		formula:      deps.Formula,
		conns:        deps.Conns,
		leaderboards: deps.Leaderboards,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		workers:      int64(opts.Workers),
		queue:        make(chan types.Submission, opts.QueueSize),
		sem:          semaphore.NewWeighted(int64(opts.Workers)),
		now:          time.Now,
	}
}

// Enqueue queues the submission for grading, it returns false if the queue is full.
func (g *Grader) Enqueue(sub types.Submission) bool {
	select {
	case g.queue <- sub:
		return true
	default:
		return false
	}
}

// Run grades queued submissions with at most Workers running at the same time, until ctx is done. It returns
// after the running gradings finished.
func (g *Grader) Run(ctx context.Context) {
	defer func() {
		// wait for the running workers
		_ = g.sem.Acquire(context.Background(), g.workers)
		g.sem.Release(g.workers)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-g.queue:
			if err := g.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(sub types.Submission) {
				defer g.sem.Release(1)
				if err := g.Grade(ctx, sub); err != nil {
					g.logger.Info("grading failed", "submission", sub.Id, "error", err)
				}
			}(sub)
		}
	}
}

func (g *Grader) problem(ctx context.Context, code, problemID string) (types.Problem, error) {
	if contest, ok := g.rooms.Contest(code); ok {
		for _, p := range contest.Problems {
			if p.Id == problemID && len(p.TestCases) > 0 {
				return p, nil
			}
		}
	}
	p, err := g.docs.GetProblem(ctx, problemID)
	if errors.Is(err, persistence.ErrNotFound) {
		return p, fmt.Errorf("%w: %s", ErrProblemNotFound, problemID)
	}
	return p, err
}

// Grade judges one submission, stores the result, updates the score of the submitter and publishes the
// result and the new leaderboard to the room. A failure is reported to the submitter only.
func (g *Grader) Grade(ctx context.Context, sub types.Submission) error {
	start := g.now()
	problem, err := g.problem(ctx, sub.RoomCode, sub.ProblemId)
	if err == nil && len(problem.TestCases) == 0 {
		err = ErrNoTestCases
	}
	if err != nil {
		return g.fail(ctx, sub, err, start)
	}
	if err := g.docs.MarkSubmissionRunning(ctx, sub.Id); err != nil {
		g.logger.Warn("could not mark submission running", "submission", sub.Id, "error", err)
	}
	results, err := g.judge.RunTestCases(ctx, sub.Code, sub.Language, problem.TestCases)
	if err != nil {
		return g.fail(ctx, sub, err, start)
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	maxScore := problem.MaxScore
	if maxScore <= 0 {
		maxScore = defaultMaxScore
	}
	in := scoring.Input{PassedTests: passed, TotalTests: len(results), MaxScore: maxScore}
	if contest, ok := g.rooms.Contest(sub.RoomCode); ok {
		in.Elapsed = g.now().Sub(contest.StartTime)
		in.Duration = time.Duration(contest.Duration) * time.Second
	}
	score, err := g.formula.Score(in)
	if err != nil {
		return g.fail(ctx, sub, err, start)
	}
	sub.Results = results
	sub.Score = score
	sub.PassedTests = passed
	sub.TotalTests = len(results)
	sub.Accuracy = scoring.Accuracy(passed, len(results))
	sub.Status = types.SubmissionCompleted
	if err := g.docs.CompleteSubmission(ctx, sub); err != nil {
		g.logger.Error("could not store grading result", "submission", sub.Id, "error", err)
	}
	sd, err := g.docs.RecordScore(ctx, sub.RoomCode, sub.UserId, sub.ProblemId, score, g.now())
	if err != nil {
		g.logger.Error("could not store score", "submission", sub.Id, "error", err)
	} else {
		g.rooms.SetParticipantScore(sub.RoomCode, sub.UserId, sd.TotalScore)
	}
	g.rooms.Sequenced(sub.RoomCode, func() {
		g.fanout.ToRoom(sub.RoomCode, types.EventSubmissionCompleted, types.SubmissionCompletedPayload{
			SubmissionId: sub.Id,
			UserId:       sub.UserId,
			Score:        score,
			PassedTests:  passed,
			TotalTests:   len(results),
			Accuracy:     sub.Accuracy,
		})
	})
	g.metrics.Graded(types.SubmissionCompleted, g.now().Sub(start))
	if g.leaderboards != nil {
		if err := g.leaderboards.Rebuild(ctx, sub.RoomCode); err != nil {
			g.logger.Error("could not rebuild leaderboard", "room", sub.RoomCode, "error", err)
		}
	}
	return nil
}

func (g *Grader) fail(ctx context.Context, sub types.Submission, cause error, start time.Time) error {
	if err := g.docs.FailSubmission(ctx, sub.Id, cause.Error()); err != nil {
		g.logger.Error("could not store grading failure", "submission", sub.Id, "error", err)
	}
	if g.conns != nil {
		if conn, ok := g.conns.Lookup(sub.UserId); ok {
			g.fanout.ToConn(conn, types.EventSubmissionError, types.SubmissionErrorPayload{
				SubmissionId: sub.Id,
				UserId:       sub.UserId,
				Error:        cause.Error(),
			})
		}
	}
	g.metrics.Graded(types.SubmissionError, g.now().Sub(start))
	return cause
}
