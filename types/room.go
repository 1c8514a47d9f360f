package types

import "time"

const DefaultContestDuration = 3600 // seconds

// Contest is a timed challenge attached to one room. Only IsActive may change after creation, a second
// start replaces the whole contest.
type Contest struct {
	Title       string    `json:"title" mapstructure:"title"`
	Description string    `json:"description,omitempty" mapstructure:"description"`
	StartTime   time.Time `json:"startTime" mapstructure:"-"`
	Duration    int64     `json:"duration" mapstructure:"duration"` // seconds
	IsActive    bool      `json:"isActive" mapstructure:"-"`
	Problems    []Problem `json:"problems" mapstructure:"-"`
}

// Public returns a copy of the contest without test cases, this is what clients get to see.
func (c Contest) Public() Contest {
	problems := make([]Problem, len(c.Problems))
	for i, p := range c.Problems {
		problems[i] = p.Public()
	}
	c.Problems = problems
	return c
}

// Problem is one task of a contest. Test cases are never sent to clients.
type Problem struct {
	Id          string     `json:"id" mapstructure:"id"`
	Title       string     `json:"title,omitempty" mapstructure:"title"`
	Difficulty  string     `json:"difficulty,omitempty" mapstructure:"difficulty"`
	Description string     `json:"description,omitempty" mapstructure:"description"`
	MaxScore    int64      `json:"maxScore,omitempty" mapstructure:"maxScore"`
	TimeLimit   int64      `json:"timeLimit,omitempty" mapstructure:"timeLimit"`
	TestCases   []TestCase `json:"testCases,omitempty" mapstructure:"testCases"`
}

// Public returns a copy of the problem without its test cases.
func (p Problem) Public() Problem {
	p.TestCases = nil
	return p
}

type TestCase struct {
	Input          string `json:"input" mapstructure:"input"`
	ExpectedOutput string `json:"expectedOutput" mapstructure:"expectedOutput"`
}

// LeaderboardEntry is one ranked line of a room leaderboard. Rank is the 1-based sort position.
type LeaderboardEntry struct {
	Rank           int              `json:"rank" mapstructure:"rank"`
	UserId         string           `json:"userId" mapstructure:"userId"`
	Name           string           `json:"name" mapstructure:"name"`
	Avatar         string           `json:"avatar" mapstructure:"avatar"`
	TotalScore     int64            `json:"totalScore" mapstructure:"totalScore"`
	ProblemScores  map[string]int64 `json:"problemScores" mapstructure:"problemScores"`
	LastSubmission string           `json:"lastSubmission" mapstructure:"lastSubmission"`
}

// RoomSnapshot is the full view of a room sent to a user who just joined it.
type RoomSnapshot struct {
	RoomCode     string             `json:"roomCode"`
	Participants []Participant      `json:"participants"`
	Contest      *Contest           `json:"contest"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
	Messages     []ChatMessage      `json:"messages"`
}
