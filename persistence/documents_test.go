package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-contest/types"
)

// flakyStore simulates an eventually consistent store: the first failures calls of an operation return
// ErrNotFound.
type flakyStore struct {
	DocumentStore
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newFlakyStore(t *testing.T, failures map[string]int) *flakyStore {
	return &flakyStore{DocumentStore: newBuntTestStore(t), failures: failures, calls: map[string]int{}}
}

func (f *flakyStore) fail(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return true
	}
	return false
}

func (f *flakyStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *flakyStore) Add(ctx context.Context, collection string, data Doc) (string, error) {
	if f.fail("add") {
		return "", ErrNotFound
	}
	return f.DocumentStore.Add(ctx, collection, data)
}

func (f *flakyStore) Update(ctx context.Context, path string, updates []Update) error {
	if f.fail("update") {
		return ErrNotFound
	}
	return f.DocumentStore.Update(ctx, path, updates)
}

func testOptions() RetryOptions {
	return RetryOptions{MessageAttempts: 5, MembershipAttempts: 2, Delay: time.Millisecond, SettleDelay: time.Millisecond}
}

func TestDocuments_AddMessageCreatesRoom(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	msg := types.ChatMessage{Id: "m1", UserId: "u1", User: "Alice", Message: "hello", Timestamp: "2024-01-01T00:00:00.000Z"}
	require.NoError(t, d.AddMessage(ctx, "ABC123", msg))

	room, err := d.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", room.RoomCode)

	msgs, err := d.ListMessages(ctx, "ABC123", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg, msgs[0])
}

func TestDocuments_AddMessageRetriesNotFound(t *testing.T) {
	store := newFlakyStore(t, map[string]int{"add": 2})
	d := NewDocuments(store, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, d.AddMessage(ctx, "ABC123", types.ChatMessage{Id: "m1", Message: "hello"}))
	assert.Equal(t, 3, store.count("add"))

	msgs, err := d.ListMessages(ctx, "ABC123", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "exactly one document after retries")
}

func TestDocuments_AddMessageGivesUp(t *testing.T) {
	store := newFlakyStore(t, map[string]int{"add": 10})
	d := NewDocuments(store, nil, nil, testOptions())
	err := d.AddMessage(context.Background(), "ABC123", types.ChatMessage{Id: "m1"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, store.count("add"))
}

func TestDocuments_ListMessagesOrderAndLimit(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	for _, ts := range []string{"2024-01-01T00:00:03.000Z", "2024-01-01T00:00:01.000Z", "2024-01-01T00:00:02.000Z"} {
		require.NoError(t, d.AddMessage(ctx, "R", types.ChatMessage{Id: ts, Timestamp: ts}))
	}
	msgs, err := d.ListMessages(ctx, "R", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2024-01-01T00:00:02.000Z", msgs[0].Timestamp)
	assert.Equal(t, "2024-01-01T00:00:03.000Z", msgs[1].Timestamp)
}

func TestDocuments_Membership(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, d.UpdateMembership(ctx, "R", "u1", true))
	require.NoError(t, d.UpdateMembership(ctx, "R", "u2", true))
	require.NoError(t, d.UpdateMembership(ctx, "R", "u1", true))
	room, err := d.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, room.Participants)

	require.NoError(t, d.UpdateMembership(ctx, "R", "u1", false))
	room, err = d.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, room.Participants)
}

func TestDocuments_LeaveWithoutRoomDoc(t *testing.T) {
	store := newFlakyStore(t, nil)
	d := NewDocuments(store, nil, nil, testOptions())
	require.NoError(t, d.UpdateMembership(context.Background(), "R", "u1", false))
	room, err := d.GetRoom(context.Background(), "R")
	require.NoError(t, err)
	assert.Empty(t, room.Participants)
	assert.Equal(t, 0, store.count("update"))
}

func TestDocuments_JoinThenLeaveDuringSettle(t *testing.T) {
	store := newFlakyStore(t, nil)
	d := NewDocuments(store, nil, nil, RetryOptions{
		MessageAttempts:    5,
		MembershipAttempts: 2,
		Delay:              10 * time.Millisecond,
		SettleDelay:        300 * time.Millisecond,
	})
	ctx := context.Background()
	joined := make(chan error, 1)
	go func() {
		joined <- d.UpdateMembership(ctx, "R", "u1", true)
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, d.UpdateMembership(ctx, "R", "u1", false))
	require.NoError(t, <-joined)

	room, err := d.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, room.Participants)
	assert.Equal(t, 1, store.count("update"), "the created document is not updated again")
}

func TestKeyedMutex(t *testing.T) {
	k := keyedMutex{}
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()
	select {
	case <-acquired:
		t.Fatal("second holder of the same key")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-released
	unlockB()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func TestDocuments_MembershipRetry(t *testing.T) {
	store := newFlakyStore(t, map[string]int{"update": 1})
	d := NewDocuments(store, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, d.CreateRoom(ctx, "R", "u0"))
	require.NoError(t, d.UpdateMembership(ctx, "R", "u1", true))
	assert.Equal(t, 2, store.count("update"))
	room, err := d.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, room.Participants)
	assert.Equal(t, "u0", room.CreatedBy)

	store.failures["update"] = 5
	err = d.UpdateMembership(ctx, "R", "u2", true)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 4, store.count("update"))
}

func TestDocuments_Submissions(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	sub, err := d.CreateSubmission(ctx, types.Submission{UserId: "u1", RoomCode: "R", ProblemId: "two-sum", Code: "x", Language: "python"})
	require.NoError(t, err)
	require.NotEmpty(t, sub.Id)
	assert.Equal(t, types.SubmissionPending, sub.Status)

	require.NoError(t, d.MarkSubmissionRunning(ctx, sub.Id))
	got, err := d.GetSubmission(ctx, sub.Id)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionRunning, got.Status)

	sub.Results = []types.TestResult{{Input: "1", ExpectedOutput: "1", ActualOutput: "1", Passed: true}}
	sub.Score, sub.PassedTests, sub.TotalTests, sub.Accuracy = 100, 1, 1, 100
	require.NoError(t, d.CompleteSubmission(ctx, sub))
	got, err = d.GetSubmission(ctx, sub.Id)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionCompleted, got.Status)
	assert.Equal(t, int64(100), got.Score)
	assert.Len(t, got.Results, 1)

	require.NoError(t, d.FailSubmission(ctx, sub.Id, "boom"))
	got, _ = d.GetSubmission(ctx, sub.Id)
	assert.Equal(t, types.SubmissionError, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, d.MarkSubmissionRunning(ctx, "nope"), ErrNotFound)
}

func TestDocuments_RecordScoreKeepsBest(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sd, err := d.RecordScore(ctx, "R", "u1", "two-sum", 50, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), sd.TotalScore)

	sd, err = d.RecordScore(ctx, "R", "u1", "two-sum", 30, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(50), sd.TotalScore)
	assert.Equal(t, types.Timestamp(t0), sd.LastSubmission)

	sd, err = d.RecordScore(ctx, "R", "u1", "reverse-string", 100, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(150), sd.TotalScore)

	_, err = d.RecordScore(ctx, "R", "u2", "two-sum", 10, t0)
	require.NoError(t, err)
	scores, err := d.Scores(ctx, "R")
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestDocuments_UsersAndProblems(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	id := types.Identity{Id: "u1", Name: "Alice", Email: "a@example.com", Avatar: "a.png"}
	require.NoError(t, d.UpsertUser(ctx, id))
	u, err := d.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, id, u.Identity)
	created := u.CreatedAt
	require.NotEmpty(t, created)

	id.Name = "Alice B."
	require.NoError(t, d.UpsertUser(ctx, id))
	u, err = d.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", u.Name)
	assert.Equal(t, created, u.CreatedAt)

	p := types.Problem{Id: "two-sum", Title: "Two Sum", MaxScore: 100, TestCases: []types.TestCase{{Input: "1 2", ExpectedOutput: "3"}}}
	require.NoError(t, d.SaveProblem(ctx, p))
	got, err := d.GetProblem(ctx, "two-sum")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	all, err := d.ListProblems(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	_, err = d.GetProblem(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocuments_Contest(t *testing.T) {
	d := NewDocuments(newBuntTestStore(t), nil, nil, testOptions())
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := types.Contest{Title: "Weekly", StartTime: start, Duration: 3600, IsActive: true}
	require.NoError(t, d.SaveContest(ctx, "R", c, "u1", []string{"u1", "u2"}))
	got, err := d.GetContest(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, "Weekly", got.Title)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, []string{"u1", "u2"}, got.Participants)
	assert.Equal(t, "u1", got.CreatedBy)
}
