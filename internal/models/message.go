package models

import "time"

// Message represents a single turn in a studio conversation. It contains the participant's role, the
// accumulated text, and whether the text is still being streamed from the provider.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// IsStreaming is true only while a model message is receiving fragments.
	IsStreaming bool
}

// Turn is the role/text pair handed to a provider as conversation history.
type Turn struct {
	Role Role
	Text string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleModel represents a message produced by the generation provider.
	RoleModel Role = "model"
)

// Turns converts messages into provider history, oldest first.
func Turns(messages []Message) []Turn {
	turns := make([]Turn, len(messages))
	for i, msg := range messages {
		turns[i] = Turn{
			Role: msg.Role,
			Text: msg.Text,
		}
	}
	return turns
}
