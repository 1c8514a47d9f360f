package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-contest/auth"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/types"
)

var users = map[string]types.Identity{
	"alice": {Id: "u1", Name: "Alice", Email: "alice@example.com"},
	"bob":   {Id: "u2", Name: "Bob"},
	"carol": {Id: "u3", Name: "Carol"},
}

var testVerifier = auth.VerifierFunc(func(ctx context.Context, credential string) (types.Identity, error) {
	identity, ok := users[credential]
	if !ok {
		return types.Identity{}, auth.ErrAuthenticationFailed
	}
	return identity, nil
})

// faultyStore wraps a DocumentStore: updates fail with ErrNotFound failUpdates times, and sets below
// failSetPrefix always fail.
type faultyStore struct {
	persistence.DocumentStore
	mu            sync.Mutex
	failUpdates   int
	updateCalls   int
	failSetPrefix string
}

func (s *faultyStore) Update(ctx context.Context, path string, updates []persistence.Update) error {
	s.mu.Lock()
	s.updateCalls++
	fail := s.failUpdates > 0
	if fail {
		s.failUpdates--
	}
	s.mu.Unlock()
	if fail {
		return persistence.ErrNotFound
	}
	return s.DocumentStore.Update(ctx, path, updates)
}

func (s *faultyStore) Set(ctx context.Context, path string, data persistence.Doc, merge bool) error {
	if s.failSetPrefix != "" && strings.HasPrefix(path, s.failSetPrefix) {
		return errors.New("store unavailable")
	}
	return s.DocumentStore.Set(ctx, path, data, merge)
}

type fakeGrader struct {
	mu     sync.Mutex
	accept bool
	queued []types.Submission
}

func (g *fakeGrader) Enqueue(sub types.Submission) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.accept {
		return false
	}
	g.queued = append(g.queued, sub)
	return true
}

type testConn struct {
	id     string
	frames chan []byte
}

func (c *testConn) ID() string { return c.id }

func (c *testConn) Enqueue(frame []byte) bool {
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

type harness struct {
	t      *testing.T
	c      *Coordinator
	rooms  *room.Store
	store  *faultyStore
	docs   *persistence.Documents
	grader *fakeGrader
	nconn  int
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWithRetry(t, opts, persistence.RetryOptions{
		MessageAttempts:    5,
		MembershipAttempts: 2,
		Delay:              time.Millisecond,
		SettleDelay:        time.Millisecond,
	})
}

func newHarnessWithRetry(t *testing.T, opts Options, retry persistence.RetryOptions) *harness {
	t.Helper()
	bunt, err := persistence.NewBuntStore(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { bunt.Close() })
	h := &harness{
		t:      t,
		rooms:  room.NewStore(0),
		store:  &faultyStore{DocumentStore: bunt},
		grader: &fakeGrader{accept: true},
	}
	h.docs = persistence.NewDocuments(h.store, nil, nil, retry)
	h.c = New(Deps{
		Rooms:     h.rooms,
		Fanout:    broadcast.NewFanout(nil, nil),
		Documents: h.docs,
		Verifier:  testVerifier,
		Grader:    h.grader,
	}, opts)
	return h
}

type client struct {
	t    *testing.T
	conn *testConn
	s    *Session
}

func (h *harness) connect() *client {
	h.nconn++
	conn := &testConn{id: "conn-" + string(rune('a'+h.nconn)), frames: make(chan []byte, 64)}
	return &client{t: h.t, conn: conn, s: h.c.NewSession(conn)}
}

// login connects and authenticates, the authenticated event is consumed.
func (h *harness) login(credential string) *client {
	cl := h.connect()
	cl.do(types.EventAuthenticate, credential)
	cl.expect(types.EventAuthenticated)
	return cl
}

func (cl *client) do(event string, payload interface{}) {
	cl.t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(cl.t, err)
		data = raw
	}
	cl.s.Handle(context.Background(), types.InboundEvent{Name: event, Data: data})
}

func (cl *client) next() (types.WebsocketMessage, bool) {
	select {
	case f := <-cl.conn.frames:
		msg := types.WebsocketMessage{}
		require.NoError(cl.t, json.Unmarshal(f, &msg))
		return msg, true
	default:
		return types.WebsocketMessage{}, false
	}
}

// expect pops the next event, asserts its name and returns its payload.
func (cl *client) expect(event string) json.RawMessage {
	cl.t.Helper()
	msg, ok := cl.next()
	require.True(cl.t, ok, "expected %s, got nothing", event)
	require.Equal(cl.t, event, msg.Event, "payload: %s", msg.Data)
	return msg.Data
}

func (cl *client) expectError(message string) {
	cl.t.Helper()
	payload := types.ErrorPayload{}
	require.NoError(cl.t, json.Unmarshal(cl.expect(types.EventError), &payload))
	assert.Equal(cl.t, message, payload.Message)
}

func (cl *client) expectNothing() {
	cl.t.Helper()
	msg, ok := cl.next()
	assert.False(cl.t, ok, "unexpected event %s", msg.Event)
}

func decode(t *testing.T, data json.RawMessage, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, out))
}

func TestJoinEmptyRoom(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")

	raw := alice.expect(types.EventRoomJoined)
	generic := map[string]interface{}{}
	decode(t, raw, &generic)
	assert.Nil(t, generic["contest"])
	assert.Equal(t, []interface{}{}, generic["messages"])

	snap := types.RoomSnapshot{}
	decode(t, raw, &snap)
	assert.Equal(t, "ABC123", snap.RoomCode)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, users["alice"], snap.Participants[0].Identity)
	assert.Equal(t, 0, snap.Participants[0].Submissions)
	alice.expectNothing()
	assert.Equal(t, InRoom, alice.s.State())
	assert.Equal(t, "ABC123", alice.s.RoomCode())

	h.c.Wait()
	doc, err := h.docs.GetRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, doc.Participants)
	profile, err := h.docs.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.Name)
}

func TestJoinWithObjectPayload(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, map[string]string{"roomCode": "ABC123"})
	alice.expect(types.EventRoomJoined)
}

func TestContestFlow(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)

	alice.do(types.EventStartContest, map[string]interface{}{"title": "Weekly", "duration": 3600})
	contest := types.Contest{}
	decode(t, alice.expect(types.EventContestStarted), &contest)
	assert.Equal(t, "Weekly", contest.Title)
	assert.Equal(t, int64(3600), contest.Duration)
	assert.True(t, contest.IsActive)

	bob := h.login("bob")
	bob.do(types.EventJoinRoom, "ABC123")
	snap := types.RoomSnapshot{}
	decode(t, bob.expect(types.EventRoomJoined), &snap)
	require.NotNil(t, snap.Contest)
	assert.Equal(t, "Weekly", snap.Contest.Title)
	assert.Len(t, snap.Participants, 2)

	joined := types.MembershipPayload{}
	decode(t, alice.expect(types.EventUserJoined), &joined)
	assert.Equal(t, users["bob"], joined.User)
	assert.Equal(t, 2, joined.ParticipantCount)
	bob.expectNothing()

	h.c.Wait()
	saved, err := h.docs.GetContest(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "Weekly", saved.Title)
	assert.Equal(t, "u1", saved.CreatedBy)
}

func TestContestDefaultsAndCatalogProblems(t *testing.T) {
	h := newHarness(t, Options{DefaultDuration: 1800})
	require.NoError(t, h.docs.SaveProblem(context.Background(), types.Problem{
		Id: "two-sum", Title: "Two Sum", MaxScore: 100,
		TestCases: []types.TestCase{{Input: "1", ExpectedOutput: "1"}},
	}))
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)

	alice.do(types.EventStartContest, map[string]interface{}{"title": "T", "problems": []interface{}{"two-sum", map[string]interface{}{"id": "custom", "title": "Custom"}}})
	contest := types.Contest{}
	decode(t, alice.expect(types.EventContestStarted), &contest)
	assert.Equal(t, int64(1800), contest.Duration)
	want := []types.Problem{{Id: "two-sum", Title: "Two Sum", MaxScore: 100}, {Id: "custom", Title: "Custom"}}
	if diff := cmp.Diff(want, contest.Problems); diff != "" {
		t.Errorf("problems mismatch (-want +got):\n%s", diff)
	}

	// test cases stay on the server
	stored, ok := h.rooms.Contest("R1")
	require.True(t, ok)
	assert.Len(t, stored.Problems[0].TestCases, 1)
}

func TestContestReplaced(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)
	alice.do(types.EventStartContest, map[string]interface{}{"title": "first"})
	alice.expect(types.EventContestStarted)
	alice.do(types.EventStartContest, map[string]interface{}{"title": "second"})
	alice.expect(types.EventContestStarted)

	contest, ok := h.rooms.Contest("R1")
	require.True(t, ok)
	assert.Equal(t, "second", contest.Title)
}

func TestChatEcho(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)
	bob := h.login("bob")
	bob.do(types.EventJoinRoom, "ABC123")
	bob.expect(types.EventRoomJoined)
	alice.expect(types.EventUserJoined)

	bob.do(types.EventSendMessage, "  hello ")
	fromAlice := types.ChatMessage{}
	fromBob := types.ChatMessage{}
	decode(t, alice.expect(types.EventNewMessage), &fromAlice)
	decode(t, bob.expect(types.EventNewMessage), &fromBob)
	assert.Equal(t, fromAlice, fromBob)
	assert.NotEmpty(t, fromAlice.Id)
	assert.Equal(t, "hello", fromAlice.Message)
	assert.Equal(t, "Bob", fromAlice.User)
	assert.Equal(t, "u2", fromAlice.UserId)

	bob.do(types.EventSendMessage, map[string]string{"message": "   "})
	alice.expectNothing()
	bob.expectNothing()

	h.c.Wait()
	msgs, err := h.docs.ListMessages(context.Background(), "ABC123", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, fromAlice.Id, msgs[0].Id)

	// a late joiner gets the history
	carol := h.connect()
	carol.do(types.EventAuthenticate, map[string]string{"token": "carol"})
	carol.expect(types.EventAuthenticated)
	carol.do(types.EventJoinRoom, "ABC123")
	snap := types.RoomSnapshot{}
	decode(t, carol.expect(types.EventRoomJoined), &snap)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, fromAlice.Id, snap.Messages[0].Id)
}

func TestMembershipRetriedWithoutClientEvent(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.docs.CreateRoom(context.Background(), "ABC123", "someone"))
	h.store.failUpdates = 1

	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)
	h.c.Wait()
	alice.expectNothing()

	assert.Equal(t, 2, h.store.updateCalls)
	doc, err := h.docs.GetRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, doc.Participants)
}

func TestMembershipFailureIsNotReported(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.docs.CreateRoom(context.Background(), "ABC123", "someone"))
	h.store.failUpdates = 10

	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)
	h.c.Wait()
	alice.expectNothing()
	assert.Equal(t, 2, h.store.updateCalls)
}

func TestJoinThenLeaveKeepsDurableOrder(t *testing.T) {
	h := newHarnessWithRetry(t, Options{}, persistence.RetryOptions{
		MessageAttempts:    5,
		MembershipAttempts: 2,
		Delay:              10 * time.Millisecond,
		SettleDelay:        300 * time.Millisecond,
	})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)
	time.Sleep(50 * time.Millisecond)
	alice.do(types.EventLeaveRoom, nil)
	h.c.Wait()

	doc, err := h.docs.GetRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Empty(t, doc.Participants)

	bob := h.login("bob")
	bob.do(types.EventJoinRoom, "ABC123")
	bob.expect(types.EventRoomJoined)
	bob.do(types.EventLeaveRoom, nil)
	bob.do(types.EventJoinRoom, "ABC123")
	bob.expect(types.EventRoomJoined)
	h.c.Wait()

	doc, err = h.docs.GetRoom(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, doc.Participants)
}

func TestDisconnectAndRejoin(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)
	alice.do(types.EventStartContest, map[string]interface{}{"title": "T"})
	alice.expect(types.EventContestStarted)

	bob := h.login("bob")
	bob.do(types.EventJoinRoom, "ABC123")
	bob.expect(types.EventRoomJoined)
	alice.expect(types.EventUserJoined)

	bob.do(types.EventSubmitCode, map[string]string{"problemId": "p1", "code": "print(1)", "language": "python"})
	bob.expect(types.EventSubmissionReceived)
	alice.expect(types.EventNewSubmission)
	p, _ := h.rooms.Participant("ABC123", "u2")
	assert.Equal(t, 1, p.Submissions)

	bob.s.Disconnect()
	bob.s.Disconnect()
	left := types.MembershipPayload{}
	decode(t, alice.expect(types.EventUserLeft), &left)
	assert.Equal(t, "u2", left.User.Id)
	assert.Equal(t, 1, left.ParticipantCount)
	alice.expectNothing()
	assert.Equal(t, Disconnected, bob.s.State())
	_, ok := h.c.Registry().Lookup("u2")
	assert.False(t, ok)

	// events after disconnect are dropped
	bob.do(types.EventSendMessage, "ghost")
	alice.expectNothing()

	bob = h.login("bob")
	bob.do(types.EventJoinRoom, "ABC123")
	snap := types.RoomSnapshot{}
	decode(t, bob.expect(types.EventRoomJoined), &snap)
	for _, p := range snap.Participants {
		if p.Id == "u2" {
			assert.Equal(t, 0, p.Submissions)
		}
	}
	h.c.Wait()
}

func TestRunDisconnectsWhenEventsClose(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	events := make(chan types.InboundEvent, 1)
	events <- types.InboundEvent{Name: types.EventJoinRoom, Data: json.RawMessage(`"R1"`)}
	close(events)
	alice.s.Run(context.Background(), events)
	alice.expect(types.EventRoomJoined)
	assert.Equal(t, Disconnected, alice.s.State())
	assert.Empty(t, h.rooms.Participants("R1"))
	h.c.Wait()
}

func TestSwitchRooms(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	bob := h.login("bob")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)
	bob.do(types.EventJoinRoom, "R1")
	bob.expect(types.EventRoomJoined)
	alice.expect(types.EventUserJoined)

	alice.do(types.EventJoinRoom, "R2")
	alice.expect(types.EventRoomJoined)
	bob.expect(types.EventUserLeft)
	assert.Equal(t, "R2", alice.s.RoomCode())
	assert.Len(t, h.rooms.Participants("R1"), 1)

	alice.do(types.EventLeaveRoom, nil)
	assert.Equal(t, Authenticated, alice.s.State())
	assert.Empty(t, h.rooms.Participants("R2"))
	h.c.Wait()
}

func TestLeaderboardLastWriteWins(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)

	first := []types.LeaderboardEntry{{Rank: 1, UserId: "u1", Name: "Alice", TotalScore: 10}}
	second := []types.LeaderboardEntry{{Rank: 1, UserId: "u2", Name: "Bob", TotalScore: 20}}
	alice.do(types.EventUpdateLeaderboard, first)
	alice.expect(types.EventLeaderboardUpdated)
	alice.do(types.EventUpdateLeaderboard, second)
	got := []types.LeaderboardEntry{}
	decode(t, alice.expect(types.EventLeaderboardUpdated), &got)
	assert.Equal(t, second, got)
	assert.Equal(t, second, h.rooms.Leaderboard("R1"))
}

func TestLeaderboardWeaklyTyped(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)

	alice.do(types.EventUpdateLeaderboard, []map[string]interface{}{
		{"rank": "1", "userId": "u1", "name": "Alice", "totalScore": "100"},
	})
	got := []types.LeaderboardEntry{}
	decode(t, alice.expect(types.EventLeaderboardUpdated), &got)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].TotalScore)
	assert.Equal(t, 1, got[0].Rank)

	alice.do(types.EventUpdateLeaderboard, "not a leaderboard")
	alice.expectError("Invalid payload")
}

func TestErrors(t *testing.T) {
	h := newHarness(t, Options{})

	anon := h.connect()
	anon.do(types.EventJoinRoom, "ABC123")
	anon.expectError("Not authenticated")
	assert.False(t, h.rooms.Exists("ABC123"))

	anon.do(types.EventAuthenticate, "mallory")
	payload := types.ErrorPayload{}
	decode(t, anon.expect(types.EventAuthError), &payload)
	assert.Equal(t, "Authentication failed", payload.Message)
	assert.Equal(t, Unauthenticated, anon.s.State())

	alice := h.login("alice")
	alice.do(types.EventAuthenticate, "alice")
	alice.expectError("Already authenticated")

	alice.do(types.EventJoinRoom, "")
	alice.expectError("Room code required")
	alice.do(types.EventJoinRoom, "no spaces allowed")
	alice.expectError("Invalid room code")

	alice.do("dance", nil)
	alice.expectError("Unknown event: dance")

	// not in a room: ignored
	alice.do(types.EventSendMessage, "hello")
	alice.do(types.EventStartContest, map[string]interface{}{"title": "T"})
	alice.do(types.EventSubmitCode, map[string]string{"problemId": "p1", "code": "x", "language": "python"})
	alice.do(types.EventUpdateLeaderboard, []types.LeaderboardEntry{})
	alice.do(types.EventLeaveRoom, nil)
	alice.expectNothing()

	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)
	alice.do(types.EventSubmitCode, map[string]string{"problemId": "p1", "code": "x", "language": "python"})
	alice.expectError("No active contest")

	alice.do(types.EventStartContest, map[string]interface{}{"title": "T"})
	alice.expect(types.EventContestStarted)
	alice.do(types.EventSubmitCode, map[string]string{"problemId": "p1"})
	alice.expectError("Submission requires problemId, code and language")
	h.c.Wait()
}

func TestSubmitFailed(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.failSetPrefix = "submissions/"
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)
	alice.do(types.EventStartContest, map[string]interface{}{"title": "T"})
	alice.expect(types.EventContestStarted)

	alice.do(types.EventSubmitCode, map[string]string{"problemId": "p1", "code": "x", "language": "python"})
	alice.expectError("Failed to submit code")
	alice.expectNothing()
	p, _ := h.rooms.Participant("R1", "u1")
	assert.Equal(t, 0, p.Submissions)
	h.c.Wait()
}

func TestSubmissionQueued(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	alice.do(types.EventJoinRoom, "R1")
	alice.expect(types.EventRoomJoined)
	alice.do(types.EventStartContest, map[string]interface{}{"title": "T"})
	alice.expect(types.EventContestStarted)
	bob := h.login("bob")
	bob.do(types.EventJoinRoom, "R1")
	bob.expect(types.EventRoomJoined)
	alice.expect(types.EventUserJoined)

	alice.do(types.EventSubmitCode, map[string]string{"problemId": "p1", "code": "x", "language": "python"})
	received := types.SubmissionReceivedPayload{}
	decode(t, alice.expect(types.EventSubmissionReceived), &received)
	alice.expectNothing()
	notice := types.NewSubmissionPayload{}
	decode(t, bob.expect(types.EventNewSubmission), &notice)
	assert.Equal(t, types.NewSubmissionPayload{User: "Alice", SubmissionCount: 1}, notice)

	require.Len(t, h.grader.queued, 1)
	assert.Equal(t, received.SubmissionId, h.grader.queued[0].Id)
	stored, err := h.docs.GetSubmission(context.Background(), received.SubmissionId)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionPending, stored.Status)
	assert.Equal(t, "R1", stored.RoomCode)

	h.grader.accept = false
	alice.do(types.EventSubmitCode, map[string]string{"problemId": "p1", "code": "y", "language": "python"})
	decode(t, alice.expect(types.EventSubmissionReceived), &received)
	failed := types.SubmissionErrorPayload{}
	decode(t, alice.expect(types.EventSubmissionError), &failed)
	assert.Equal(t, received.SubmissionId, failed.SubmissionId)
	h.c.Wait()
	stored, err = h.docs.GetSubmission(context.Background(), received.SubmissionId)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionError, stored.Status)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Options{EventsPerSecond: 0.001, Burst: 2})
	cl := h.connect()
	cl.do("a", nil)
	cl.expectError("Unknown event: a")
	cl.do("b", nil)
	cl.expectError("Unknown event: b")
	cl.do("c", nil)
	cl.expectError("Rate limit exceeded")
}

func TestStaleConnectionKeepsNewerRegistration(t *testing.T) {
	h := newHarness(t, Options{})
	old := h.login("alice")
	newer := h.login("alice")
	conn, ok := h.c.Registry().Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, newer.conn.ID(), conn.ID())

	old.s.Disconnect()
	conn, ok = h.c.Registry().Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, newer.conn.ID(), conn.ID())
	h.c.Wait()
}

func TestShutdownCancelsPendingWrites(t *testing.T) {
	h := newHarness(t, Options{})
	started := make(chan struct{})
	h.c.background("test", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	h.c.Shutdown(ctx)
	h.c.Wait()
}

func TestNoBackgroundWritesAfterShutdown(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.login("alice")
	h.c.Shutdown(context.Background())

	ran := false
	h.c.background("test", func(ctx context.Context) error {
		ran = true
		return nil
	})
	alice.do(types.EventJoinRoom, "ABC123")
	alice.expect(types.EventRoomJoined)
	h.c.Wait()
	assert.False(t, ran)
	_, err := h.docs.GetRoom(context.Background(), "ABC123")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestClientMessage(t *testing.T) {
	assert.Equal(t, "No active contest", ClientMessage(ErrNoActiveContest))
	assert.Equal(t, "Failed to submit code", ClientMessage(errors.Join(errors.New("x"), ErrSubmitFailed)))
	assert.Equal(t, "boom", ClientMessage(errors.New("boom")))
}
