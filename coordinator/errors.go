package coordinator

import "errors"

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNoActiveContest      = errors.New("no active contest")
	ErrSubmitFailed         = errors.New("failed to submit code")
	ErrRoomCodeRequired     = errors.New("room code required")
	ErrInvalidRoomCode      = errors.New("invalid room code")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrInvalidSubmission    = errors.New("submission requires problemId, code and language")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrGradingUnavailable   = errors.New("grading queue is full")
)

// clientMessages are the texts sent to clients in error events.
var clientMessages = map[error]string{
	ErrNotAuthenticated:     "Not authenticated",
	ErrAlreadyAuthenticated: "Already authenticated",
	ErrNoActiveContest:      "No active contest",
	ErrSubmitFailed:         "Failed to submit code",
	ErrRoomCodeRequired:     "Room code required",
	ErrInvalidRoomCode:      "Invalid room code",
	ErrInvalidPayload:       "Invalid payload",
	ErrInvalidSubmission:    "Submission requires problemId, code and language",
	ErrRateLimited:          "Rate limit exceeded",
	ErrGradingUnavailable:   "Grading queue is full, please resubmit later",
}

// ClientMessage returns the text sent to a client for err.
func ClientMessage(err error) string {
	for e, msg := range clientMessages {
		if errors.Is(err, e) {
			return msg
		}
	}
	return err.Error()
}

// the message sent with auth_error, verifier details are only logged
const authFailedMessage = "Authentication failed"
