package grading

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/types"
)

const (
	DefaultLeaderboardSize = 50
	unknownUser            = "Unknown User"
)

// Leaderboards rebuilds room leaderboards from the durable score documents and publishes them to the room.
type Leaderboards struct {
	rooms  *room.Store
	fanout *broadcast.Fanout
	docs   *persistence.Documents
	logger hclog.Logger
	size   int

	mu     sync.Mutex
	hashes map[string]uint64 // room code -> hash of the last published leaderboard
}

func NewLeaderboards(rooms *room.Store, fanout *broadcast.Fanout, docs *persistence.Documents, size int, logger hclog.Logger) *Leaderboards {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	return &Leaderboards{
		rooms:  rooms,
		fanout: fanout,
		docs:   docs,
		logger: logger,
		size:   size,
		hashes: make(map[string]uint64),
	}
}

// Build computes the leaderboard of the room: ordered by total score (descending), ties broken by the earlier
// last submission, limited to the configured size.
func (l *Leaderboards) Build(ctx context.Context, code string) ([]types.LeaderboardEntry, error) {
	scores, err := l.docs.Scores(ctx, code)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].TotalScore != scores[j].TotalScore {
			return scores[i].TotalScore > scores[j].TotalScore
		}
		return scores[i].LastSubmission < scores[j].LastSubmission
	})
	if len(scores) > l.size {
		scores = scores[:l.size]
	}
	entries := make([]types.LeaderboardEntry, 0, len(scores))
	for i, sd := range scores {
		entry := types.LeaderboardEntry{
			Rank:           i + 1,
			UserId:         sd.UserId,
			Name:           unknownUser,
			TotalScore:     sd.TotalScore,
			ProblemScores:  sd.ProblemScores,
			LastSubmission: sd.LastSubmission,
		}
		if user, err := l.docs.GetUser(ctx, sd.UserId); err == nil {
			entry.Name = user.Name
			entry.Avatar = user.Avatar
		} else if p, ok := l.rooms.Participant(code, sd.UserId); ok {
			entry.Name = p.Name
			entry.Avatar = p.Avatar
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Rebuild builds and publishes the leaderboard of the room.
func (l *Leaderboards) Rebuild(ctx context.Context, code string) error {
	entries, err := l.Build(ctx, code)
	if err != nil {
		return err
	}
	l.publish(code, entries, hashEntries(entries))
	return nil
}

// Refresh builds the leaderboard and publishes it only if it differs from the last published one.
func (l *Leaderboards) Refresh(ctx context.Context, code string) (bool, error) {
	entries, err := l.Build(ctx, code)
	if err != nil {
		return false, err
	}
	hash := hashEntries(entries)
	l.mu.Lock()
	last, ok := l.hashes[code]
	l.mu.Unlock()
	if ok && last == hash {
		return false, nil
	}
	l.publish(code, entries, hash)
	return true, nil
}

func (l *Leaderboards) publish(code string, entries []types.LeaderboardEntry, hash uint64) {
	l.rooms.Sequenced(code, func() {
		l.rooms.SetLeaderboard(code, entries)
		l.fanout.ToRoom(code, types.EventLeaderboardUpdated, entries)
	})
	l.mu.Lock()
	l.hashes[code] = hash
	l.mu.Unlock()
}

func hashEntries(entries []types.LeaderboardEntry) uint64 {
	hash, err := hashstructure.Hash(entries, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return hash
}
