package room

import (
	"container/ring"
	"sort"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-contest/types"
)

// DefaultHistorySize is the number of chat messages kept per room.
const DefaultHistorySize = 100

// Room is the in-memory authoritative state of one room. All access goes through the Store, which hands out
// copies only.
type Room struct {
	Code      string
	CreatedAt time.Time

	seq sync.Mutex // orders "mutate then fan out" sequences
	mu  sync.Mutex // guards the fields below

	participants map[string]*types.Participant
	contest      *types.Contest
	leaderboard  []types.LeaderboardEntry
	history      *history
}

func newRoom(code string, historySize int) *Room {
	return &Room{
		Code:         code,
		CreatedAt:    time.Now(),
		participants: make(map[string]*types.Participant),
		history:      newHistory(historySize),
	}
}

func (r *Room) participantList() []types.Participant {
	list := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].Id < list[j].Id
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func cloneContest(c *types.Contest) *types.Contest {
	if c == nil {
		return nil
	}
	cc := *c
	cc.Problems = append([]types.Problem(nil), c.Problems...)
	return &cc
}

func cloneLeaderboard(entries []types.LeaderboardEntry) []types.LeaderboardEntry {
	out := make([]types.LeaderboardEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		if e.ProblemScores != nil {
			out[i].ProblemScores = make(map[string]int64, len(e.ProblemScores))
			for k, v := range e.ProblemScores {
				out[i].ProblemScores[k] = v
			}
		}
	}
	return out
}

// history is a fixed size FIFO of chat messages, the oldest message is overwritten first.
type history struct {
	next     *ring.Ring // slot the next message is written to
	size     int
	capacity int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &history{next: ring.New(capacity), capacity: capacity}
}

func (h *history) push(msg types.ChatMessage) {
	h.next.Value = msg
	h.next = h.next.Next()
	if h.size < h.capacity {
		h.size++
	}
}

// last returns up to n of the most recent messages, oldest first. n < 0 returns everything.
func (h *history) last(n int) []types.ChatMessage {
	if n < 0 || n > h.size {
		n = h.size
	}
	out := make([]types.ChatMessage, 0, n)
	r := h.next.Move(-n)
	for i := 0; i < n; i++ {
		out = append(out, r.Value.(types.ChatMessage))
		r = r.Next()
	}
	return out
}
