package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-contest/types"
)

var ErrCodeExhausted = errors.New("could not generate an unused room code")

// Store holds all rooms of the process. Rooms are created on first use and never removed. The map is
// guarded by a store level lock, the state of each room by the room's own lock.
type Store struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	historySize int
}

func NewStore(historySize int) *Store {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	return &Store{
		rooms:       make(map[string]*Room),
		historySize: historySize,
	}
}

// GetOrCreateRoom returns the room with the given code, creating it if necessary. Concurrent calls for the
// same code always return the same room.
func (s *Store) GetOrCreateRoom(code string) *Room {
	s.mu.RLock()
	r, ok := s.rooms[code]
	s.mu.RUnlock()
	if ok {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rooms[code]; ok {
		return r
	}
	r = newRoom(code, s.historySize)
	s.rooms[code] = r
	return r
}

// CreateRoom creates a room with a fresh generated code.
func (s *Store) CreateRoom() (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < 10; i++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}
		r := newRoom(code, s.historySize)
		s.rooms[code] = r
		return r, nil
	}
	return nil, ErrCodeExhausted
}

func (s *Store) Get(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[code]
	return r, ok
}

func (s *Store) Exists(code string) bool {
	_, ok := s.Get(code)
	return ok
}

// Codes returns the codes of all rooms, sorted.
func (s *Store) Codes() []string {
	s.mu.RLock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	s.mu.RUnlock()
	sort.Strings(codes)
	return codes
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Sequenced runs fn while holding the sequencing lock of the room (which is created if necessary). Everything
// that has to be observed in the same order by all members of a room (a state change followed by its
// broadcast) runs inside fn. fn must not block on I/O.
func (s *Store) Sequenced(code string, fn func()) {
	r := s.GetOrCreateRoom(code)
	r.seq.Lock()
	defer r.seq.Unlock()
	fn()
}

// AddParticipant inserts a fresh participant record for the identity, replacing any previous record of the
// same user. It returns the resulting participant count.
func (s *Store) AddParticipant(code string, identity types.Identity) int {
	r := s.GetOrCreateRoom(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[identity.Id] = &types.Participant{
		Identity: identity,
		JoinedAt: time.Now().UTC(),
	}
	return len(r.participants)
}

// RemoveParticipant removes the user from the room and returns the resulting participant count. Removing an
// absent user is not an error.
func (s *Store) RemoveParticipant(code, userID string) int {
	r, ok := s.Get(code)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, userID)
	return len(r.participants)
}

func (s *Store) Participants(code string) []types.Participant {
	r, ok := s.Get(code)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantList()
}

func (s *Store) Participant(code, userID string) (types.Participant, bool) {
	r, ok := s.Get(code)
	if !ok {
		return types.Participant{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return types.Participant{}, false
	}
	return *p, true
}

// SetContest replaces the contest of the room.
func (s *Store) SetContest(code string, contest types.Contest) {
	r := s.GetOrCreateRoom(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contest = cloneContest(&contest)
}

// Contest returns a copy of the room's contest.
func (s *Store) Contest(code string) (types.Contest, bool) {
	r, ok := s.Get(code)
	if !ok {
		return types.Contest{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contest == nil {
		return types.Contest{}, false
	}
	return *cloneContest(r.contest), true
}

// AppendMessage adds msg to the chat history, evicting the oldest message once the history is full.
func (s *Store) AppendMessage(code string, msg types.ChatMessage) {
	r := s.GetOrCreateRoom(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.push(msg)
}

// Messages returns up to limit of the most recent messages, oldest first. A negative limit returns the whole
// history.
func (s *Store) Messages(code string, limit int) []types.ChatMessage {
	r, ok := s.Get(code)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.last(limit)
}

// SetLeaderboard replaces the leaderboard of the room.
func (s *Store) SetLeaderboard(code string, entries []types.LeaderboardEntry) {
	r := s.GetOrCreateRoom(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaderboard = cloneLeaderboard(entries)
}

func (s *Store) Leaderboard(code string) []types.LeaderboardEntry {
	r, ok := s.Get(code)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneLeaderboard(r.leaderboard)
}

// Snapshot returns a copy of the room state with at most historyLimit messages.
func (s *Store) Snapshot(code string, historyLimit int) (types.RoomSnapshot, bool) {
	r, ok := s.Get(code)
	if !ok {
		return types.RoomSnapshot{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := types.RoomSnapshot{
		RoomCode:     r.Code,
		Participants: r.participantList(),
		Contest:      cloneContest(r.contest),
		Leaderboard:  cloneLeaderboard(r.leaderboard),
		Messages:     r.history.last(historyLimit),
	}
	if snap.Contest != nil {
		public := snap.Contest.Public()
		snap.Contest = &public
	}
	return snap, true
}

// RecordSubmission counts a submission of the user and updates the time spent since the contest started. It
// returns the new submission count, ok is false if the user is not a participant of the room.
func (s *Store) RecordSubmission(code, userID string, now time.Time) (int, bool) {
	r, ok := s.Get(code)
	if !ok {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return 0, false
	}
	p.Submissions++
	if r.contest != nil && !r.contest.StartTime.IsZero() {
		p.TimeSpent = int64(now.Sub(r.contest.StartTime) / time.Second)
	}
	return p.Submissions, true
}

// SetParticipantScore sets the live score of a participant. Unknown users are ignored.
func (s *Store) SetParticipantScore(code, userID string, score int64) bool {
	r, ok := s.Get(code)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return false
	}
	p.Score = score
	return true
}
