package types

const (
	SubmissionPending   = "pending"
	SubmissionRunning   = "running"
	SubmissionCompleted = "completed"
	SubmissionError     = "error"
)

// Submission is the durable record of one code submission (submissions/{id}).
type Submission struct {
	Id          string       `json:"id"`
	UserId      string       `json:"userId"`
	RoomCode    string       `json:"roomCode"`
	ProblemId   string       `json:"problemId"`
	Code        string       `json:"code"`
	Language    string       `json:"language"`
	Status      string       `json:"status"`
	CreatedAt   string       `json:"createdAt"`
	Results     []TestResult `json:"results,omitempty"`
	Score       int64        `json:"score,omitempty"`
	PassedTests int          `json:"passedTests,omitempty"`
	TotalTests  int          `json:"totalTests,omitempty"`
	Accuracy    float64      `json:"accuracy,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// TestResult is the outcome of running a submission against one test case.
type TestResult struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	ActualOutput   string `json:"actualOutput"`
	Passed         bool   `json:"passed"`
	Time           string `json:"time"`
	Memory         int64  `json:"memory"`
	Error          string `json:"error,omitempty"`
}

// ScoreDoc holds the best score per problem of one user in one room (rooms/{code}/scores/{uid}).
type ScoreDoc struct {
	UserId         string           `json:"userId"`
	ProblemScores  map[string]int64 `json:"problemScores"`
	TotalScore     int64            `json:"totalScore"`
	LastSubmission string           `json:"lastSubmission"`
}
