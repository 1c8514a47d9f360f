package types

import "encoding/json"

// inbound events
const (
	EventAuthenticate      = "authenticate"
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventStartContest      = "start_contest"
	EventSubmitCode        = "submit_code"
	EventSendMessage       = "send_message"
	EventUpdateLeaderboard = "update_leaderboard"
)

// outbound events
const (
	EventAuthenticated       = "authenticated"
	EventAuthError           = "auth_error"
	EventRoomJoined          = "room_joined"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventContestStarted      = "contest_started"
	EventSubmissionReceived  = "submission_received"
	EventNewSubmission       = "new_submission"
	EventSubmissionCompleted = "submission_completed"
	EventSubmissionError     = "submission_error"
	EventNewMessage          = "new_message"
	EventLeaderboardUpdated  = "leaderboard_updated"
	EventError               = "error"
)

// InboundEvent is one decoded frame from a client, handed from the transport to the coordinator.
type InboundEvent struct {
	Name string
	Data json.RawMessage
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type AuthenticatedPayload struct {
	User Identity `json:"user"`
}

// MembershipPayload is sent with user_joined and user_left.
type MembershipPayload struct {
	User             Identity `json:"user"`
	ParticipantCount int      `json:"participantCount"`
}

type SubmissionReceivedPayload struct {
	SubmissionId string `json:"submissionId"`
}

type NewSubmissionPayload struct {
	User            string `json:"user"`
	SubmissionCount int    `json:"submissionCount"`
}

type SubmissionCompletedPayload struct {
	SubmissionId string  `json:"submissionId"`
	UserId       string  `json:"userId"`
	Score        int64   `json:"score"`
	PassedTests  int     `json:"passedTests"`
	TotalTests   int     `json:"totalTests"`
	Accuracy     float64 `json:"accuracy"`
}

type SubmissionErrorPayload struct {
	SubmissionId string `json:"submissionId"`
	UserId       string `json:"userId"`
	Error        string `json:"error"`
}
