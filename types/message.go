package types

import (
	"encoding/json"
	"time"
)

// TimestampFormat is ISO 8601 in UTC with millisecond precision, all timestamps on the wire and in the
// durable store use it.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Timestamp formats t with TimestampFormat.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection, in both directions
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is a chat line as broadcast to the room and kept in the room history.
type ChatMessage struct {
	Id        string `json:"id"`
	UserId    string `json:"userId"`
	User      string `json:"user"`   // sender display name
	Avatar    string `json:"avatar"` // sender avatar
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// IncomingChat is the object form of the send_message payload.
type IncomingChat struct {
	Message string `mapstructure:"message"`
}

// IncomingJoin is the object form of the join_room payload.
type IncomingJoin struct {
	RoomCode string `mapstructure:"roomCode"`
}

// IncomingAuth is the object form of the authenticate payload.
type IncomingAuth struct {
	Token string `mapstructure:"token"`
}

// IncomingSubmission is the submit_code payload.
type IncomingSubmission struct {
	Code      string `mapstructure:"code"`
	Language  string `mapstructure:"language"`
	ProblemId string `mapstructure:"problemId"`
}
