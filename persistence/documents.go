package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/metrics"
	"github.com/tcriess/lightspeed-contest/retry"
	"github.com/tcriess/lightspeed-contest/types"
)

// RetryOptions bounds the retry-on-not-found loops of the durable writes.
type RetryOptions struct {
	MessageAttempts    int
	MembershipAttempts int
	Delay              time.Duration
	SettleDelay        time.Duration // wait after a document was created before it is used
}

// Documents implements the durable document layout of the contest service on top of a DocumentStore:
//
//	rooms/{code}, rooms/{code}/messages/{id}, rooms/{code}/scores/{uid}, contests/{code}, submissions/{id},
//	users/{uid}, problems/{id}
type Documents struct {
	store      DocumentStore
	logger     hclog.Logger
	metrics    *metrics.Metrics
	message    retry.Policy
	membership retry.Policy
	settle     time.Duration
	scoresMu   sync.Mutex
	roomsMu    keyedMutex // serializes membership writes per room
	now        func() time.Time
}

func NewDocuments(store DocumentStore, logger hclog.Logger, m *metrics.Metrics, opts RetryOptions) *Documents {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	d := &Documents{
		store:   store,
		logger:  logger,
		metrics: m,
		settle:  opts.SettleDelay,
		now:     time.Now,
	}
	d.message = d.notFoundPolicy("message", opts.MessageAttempts, opts.Delay)
	d.membership = d.notFoundPolicy("membership", opts.MembershipAttempts, opts.Delay)
	return d
}

func (d *Documents) notFoundPolicy(op string, attempts int, delay time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Backoff:     retry.Constant(delay),
		Retryable: func(err error) bool {
			return errors.Is(err, ErrNotFound)
		},
		Notify: func(err error, attempt int, wait time.Duration) {
			d.metrics.DurableRetry(op)
			d.logger.Debug("retrying durable write", "op", op, "attempt", attempt, "wait", wait, "error", err)
		},
	}
}

// Store returns the underlying DocumentStore.
func (d *Documents) Store() DocumentStore {
	return d.store
}

func roomPath(code string) string { return "rooms/" + code }
func messagesPath(code string) string { return "rooms/" + code + "/messages" }
func scoresPath(code string) string { return "rooms/" + code + "/scores" }
func scorePath(code, uid string) string { return "rooms/" + code + "/scores/" + uid }
func contestPath(code string) string { return "contests/" + code }
func submissionPath(id string) string { return "submissions/" + id }
func userPath(uid string) string { return "users/" + uid }
func problemPath(id string) string { return "problems/" + id }

func (d *Documents) sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RoomDoc is the durable room document.
type RoomDoc struct {
	RoomCode     string   `json:"roomCode"`
	Participants []string `json:"participants"`
	CreatedBy    string   `json:"createdBy,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	LastActivity string   `json:"lastActivity,omitempty"`
}

// CreateRoom writes a new room document unless there already is one.
func (d *Documents) CreateRoom(ctx context.Context, code, createdBy string) error {
	_, err := d.store.Get(ctx, roomPath(code))
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	now := types.Timestamp(d.now())
	return d.store.Set(ctx, roomPath(code), Doc{
		"roomCode":     code,
		"participants": []interface{}{},
		"createdBy":    createdBy,
		"createdAt":    now,
		"lastActivity": now,
	}, true)
}

func (d *Documents) GetRoom(ctx context.Context, code string) (RoomDoc, error) {
	room := RoomDoc{}
	doc, err := d.store.Get(ctx, roomPath(code))
	if err != nil {
		return room, err
	}
	err = Decode(doc, &room)
	return room, err
}

// UpdateMembership adds (join) or removes (leave) the user to/from the participants of the room document. A
// missing room document is created first. The store may not show a document right after it was written, so
// NotFound is retried with the membership policy. Membership writes of one room do not interleave.
func (d *Documents) UpdateMembership(ctx context.Context, code, userID string, join bool) error {
	unlock := d.roomsMu.Lock(code)
	defer unlock()
	path := roomPath(code)
	_, err := d.store.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		participants := []interface{}{}
		if join {
			participants = append(participants, userID)
		}
		now := types.Timestamp(d.now())
		err = d.membership.Do(ctx, func(ctx context.Context) error {
			return d.store.Set(ctx, path, Doc{
				"roomCode":     code,
				"participants": participants,
				"createdAt":    now,
				"lastActivity": now,
			}, true)
		})
		if err != nil {
			return fmt.Errorf("could not create room %s: %w", code, err)
		}
		// the created document already carries the membership
		return d.sleep(ctx, d.settle)
	}
	var op interface{}
	if join {
		op = ArrayUnion(userID)
	} else {
		op = ArrayRemove(userID)
	}
	err = d.membership.Do(ctx, func(ctx context.Context) error {
		now := types.Timestamp(d.now())
		err := d.store.Update(ctx, path, []Update{
			{Path: "participants", Value: op},
			{Path: "lastActivity", Value: now},
		})
		if errors.Is(err, ErrNotFound) {
			if serr := d.store.Set(ctx, path, Doc{"roomCode": code, "lastActivity": now}, true); serr != nil {
				d.logger.Debug("could not re-create room document", "room", code, "error", serr)
			}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("could not update membership of %s in %s: %w", userID, code, err)
	}
	return nil
}

// AddMessage persists a chat message below the room document.
func (d *Documents) AddMessage(ctx context.Context, code string, msg types.ChatMessage) error {
	path := roomPath(code)
	_, err := d.store.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		now := types.Timestamp(d.now())
		err = d.store.Set(ctx, path, Doc{"roomCode": code, "participants": []interface{}{}, "createdAt": now, "lastActivity": now}, true)
		if err != nil {
			return fmt.Errorf("could not create room %s: %w", code, err)
		}
		if err := d.sleep(ctx, d.settle); err != nil {
			return err
		}
	}
	doc, err := Encode(msg)
	if err != nil {
		return err
	}
	err = d.message.Do(ctx, func(ctx context.Context) error {
		_, err := d.store.Add(ctx, messagesPath(code), doc)
		if errors.Is(err, ErrNotFound) {
			if serr := d.store.Set(ctx, path, Doc{"roomCode": code, "lastActivity": types.Timestamp(d.now())}, true); serr != nil {
				d.logger.Debug("could not re-create room document", "room", code, "error", serr)
			}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("could not store message %s in %s: %w", msg.Id, code, err)
	}
	return nil
}

// ListMessages returns up to limit of the most recent persisted messages of the room, oldest first. limit <= 0
// returns all of them.
func (d *Documents) ListMessages(ctx context.Context, code string, limit int) ([]types.ChatMessage, error) {
	snaps, err := d.store.List(ctx, messagesPath(code))
	if err != nil {
		return nil, err
	}
	msgs := make([]types.ChatMessage, 0, len(snaps))
	for _, s := range snaps {
		msg := types.ChatMessage{}
		if err := Decode(s.Data, &msg); err != nil {
			d.logger.Warn("skipping undecodable message", "room", code, "id", s.ID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// ContestDoc is the durable record of a started contest.
type ContestDoc struct {
	types.Contest
	RoomCode     string   `json:"roomCode"`
	CreatedBy    string   `json:"createdBy"`
	Participants []string `json:"participants"`
}

// SaveContest replaces the contest document of the room.
func (d *Documents) SaveContest(ctx context.Context, code string, contest types.Contest, createdBy string, participants []string) error {
	doc, err := Encode(ContestDoc{
		Contest:      contest,
		RoomCode:     code,
		CreatedBy:    createdBy,
		Participants: participants,
	})
	if err != nil {
		return err
	}
	return d.store.Set(ctx, contestPath(code), doc, false)
}

func (d *Documents) GetContest(ctx context.Context, code string) (ContestDoc, error) {
	c := ContestDoc{}
	doc, err := d.store.Get(ctx, contestPath(code))
	if err != nil {
		return c, err
	}
	err = Decode(doc, &c)
	return c, err
}

// CreateSubmission stores a new pending submission and returns it with its generated id.
func (d *Documents) CreateSubmission(ctx context.Context, sub types.Submission) (types.Submission, error) {
	sub.Id = uuid.New().String()
	sub.Status = types.SubmissionPending
	sub.CreatedAt = types.Timestamp(d.now())
	doc, err := Encode(sub)
	if err != nil {
		return sub, err
	}
	if err := d.store.Set(ctx, submissionPath(sub.Id), doc, false); err != nil {
		return sub, fmt.Errorf("could not create submission: %w", err)
	}
	return sub, nil
}

func (d *Documents) GetSubmission(ctx context.Context, id string) (types.Submission, error) {
	sub := types.Submission{}
	doc, err := d.store.Get(ctx, submissionPath(id))
	if err != nil {
		return sub, err
	}
	err = Decode(doc, &sub)
	return sub, err
}

func (d *Documents) MarkSubmissionRunning(ctx context.Context, id string) error {
	return d.store.Update(ctx, submissionPath(id), []Update{{Path: "status", Value: types.SubmissionRunning}})
}

// CompleteSubmission stores the grading results of the submission.
func (d *Documents) CompleteSubmission(ctx context.Context, sub types.Submission) error {
	return d.store.Update(ctx, submissionPath(sub.Id), []Update{
		{Path: "status", Value: types.SubmissionCompleted},
		{Path: "results", Value: sub.Results},
		{Path: "score", Value: sub.Score},
		{Path: "passedTests", Value: sub.PassedTests},
		{Path: "totalTests", Value: sub.TotalTests},
		{Path: "accuracy", Value: sub.Accuracy},
	})
}

func (d *Documents) FailSubmission(ctx context.Context, id, message string) error {
	return d.store.Update(ctx, submissionPath(id), []Update{
		{Path: "status", Value: types.SubmissionError},
		{Path: "error", Value: message},
	})
}

// RecordScore stores score for the problem if it is better than the user's previous best and returns the
// resulting score document.
func (d *Documents) RecordScore(ctx context.Context, code, userID, problemID string, score int64, at time.Time) (types.ScoreDoc, error) {
	d.scoresMu.Lock()
	defer d.scoresMu.Unlock()
	sd := types.ScoreDoc{UserId: userID, ProblemScores: map[string]int64{}}
	doc, err := d.store.Get(ctx, scorePath(code, userID))
	switch {
	case err == nil:
		if err := Decode(doc, &sd); err != nil {
			return sd, err
		}
		if sd.ProblemScores == nil {
			sd.ProblemScores = map[string]int64{}
		}
	case !errors.Is(err, ErrNotFound):
		return sd, err
	}
	if prev, ok := sd.ProblemScores[problemID]; ok && prev >= score {
		return sd, nil
	}
	sd.ProblemScores[problemID] = score
	sd.TotalScore = 0
	for _, s := range sd.ProblemScores {
		sd.TotalScore += s
	}
	sd.LastSubmission = types.Timestamp(at)
	doc, err = Encode(sd)
	if err != nil {
		return sd, err
	}
	return sd, d.store.Set(ctx, scorePath(code, userID), doc, false)
}

// Scores returns the score documents of all users of the room.
func (d *Documents) Scores(ctx context.Context, code string) ([]types.ScoreDoc, error) {
	snaps, err := d.store.List(ctx, scoresPath(code))
	if err != nil {
		return nil, err
	}
	scores := make([]types.ScoreDoc, 0, len(snaps))
	for _, s := range snaps {
		sd := types.ScoreDoc{}
		if err := Decode(s.Data, &sd); err != nil {
			return nil, err
		}
		if sd.UserId == "" {
			sd.UserId = s.ID
		}
		scores = append(scores, sd)
	}
	return scores, nil
}

// UpsertUser stores the profile of an authenticated user and records the login time.
func (d *Documents) UpsertUser(ctx context.Context, identity types.Identity) error {
	now := types.Timestamp(d.now())
	doc := Doc{
		"uid":       identity.Id,
		"name":      identity.Name,
		"email":     identity.Email,
		"avatar":    identity.Avatar,
		"lastLogin": now,
	}
	_, err := d.store.Get(ctx, userPath(identity.Id))
	if errors.Is(err, ErrNotFound) {
		doc["createdAt"] = now
	} else if err != nil {
		return err
	}
	return d.store.Set(ctx, userPath(identity.Id), doc, true)
}

func (d *Documents) GetUser(ctx context.Context, uid string) (types.UserProfile, error) {
	u := types.UserProfile{}
	doc, err := d.store.Get(ctx, userPath(uid))
	if err != nil {
		return u, err
	}
	err = Decode(doc, &u)
	return u, err
}

func (d *Documents) SaveProblem(ctx context.Context, p types.Problem) error {
	if p.Id == "" {
		return fmt.Errorf("problem without id")
	}
	doc, err := Encode(p)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, problemPath(p.Id), doc, false)
}

func (d *Documents) GetProblem(ctx context.Context, id string) (types.Problem, error) {
	p := types.Problem{}
	doc, err := d.store.Get(ctx, problemPath(id))
	if err != nil {
		return p, err
	}
	err = Decode(doc, &p)
	if p.Id == "" {
		p.Id = id
	}
	return p, err
}

func (d *Documents) ListProblems(ctx context.Context) ([]types.Problem, error) {
	snaps, err := d.store.List(ctx, "problems")
	if err != nil {
		return nil, err
	}
	problems := make([]types.Problem, 0, len(snaps))
	for _, s := range snaps {
		p := types.Problem{}
		if err := Decode(s.Data, &p); err != nil {
			return nil, err
		}
		if p.Id == "" {
			p.Id = s.ID
		}
		problems = append(problems, p)
	}
	return problems, nil
}

// DefaultProblems is the demo problem catalog.
func DefaultProblems() []types.Problem {
	return []types.Problem{
		{
			Id:          "two-sum",
			Title:       "Two Sum",
			Difficulty:  "Easy",
			Description: "Given an array of integers nums and an integer target, return indices of the two numbers such that they add up to target.",
			MaxScore:    100,
			TimeLimit:   1800,
			TestCases: []types.TestCase{
				{Input: "[2,7,11,15]\n9", ExpectedOutput: "[0,1]"},
				{Input: "[3,2,4]\n6", ExpectedOutput: "[1,2]"},
				{Input: "[3,3]\n6", ExpectedOutput: "[0,1]"},
			},
		},
		{
			Id:          "reverse-string",
			Title:       "Reverse String",
			Difficulty:  "Easy",
			Description: "Write a function that reverses a string. The input string is given as an array of characters s.",
			MaxScore:    80,
			TimeLimit:   1200,
			TestCases: []types.TestCase{
				{Input: `["h","e","l","l","o"]`, ExpectedOutput: `["o","l","l","e","h"]`},
				{Input: `["H","a","n","n","a","h"]`, ExpectedOutput: `["h","a","n","n","a","H"]`},
			},
		},
	}
}

// SeedProblems writes the demo problems to the catalog and returns how many were written.
func (d *Documents) SeedProblems(ctx context.Context) (int, error) {
	problems := DefaultProblems()
	for _, p := range problems {
		if err := d.SaveProblem(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(problems), nil
}
