package types

import "time"

// Identity is the verified identity of a connected user. It is obtained once per connection when the
// connection authenticates and never changes afterwards.
type Identity struct {
	Id     string `json:"uid" mapstructure:"uid"`       // stable, unique
	Name   string `json:"name" mapstructure:"name"`     // display name
	Email  string `json:"email" mapstructure:"email"`   // may be empty for guests
	Avatar string `json:"avatar" mapstructure:"avatar"` // avatar url, may be empty
}

// UserProfile is the durable counterpart of an Identity (users/{uid}).
type UserProfile struct {
	Identity
	CreatedAt string `json:"createdAt,omitempty"`
	LastLogin string `json:"lastLogin,omitempty"`
}

// Participant is a user's live membership record within one room.
type Participant struct {
	Identity
	JoinedAt    time.Time `json:"joinedAt"`
	Score       int64     `json:"score"`
	Submissions int       `json:"submissions"`
	TimeSpent   int64     `json:"timeSpent"` // seconds since contest start at the last submission
}
