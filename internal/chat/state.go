package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/models"
)

// ConnectionErrorText is appended as a model message when a stream fails.
const ConnectionErrorText = "Connection Error: Studio link disrupted. Please try again."

// State is the conversation as seen by the UI. PendingID names the streaming model message and is empty
// while the conversation is idle.
type State struct {
	Messages  []models.Message
	PendingID string
}

// Event is an input to Reduce.
type Event interface {
	event()
}

// Submitted appends the user message and an empty streaming model placeholder.
type Submitted struct {
	UserID  string
	ModelID string
	Text    string
	At      time.Time
}

// FragmentReceived appends Text to the pending model message.
type FragmentReceived struct {
	ID   string
	Text string
}

// StreamCompleted ends the generation of the pending model message.
type StreamCompleted struct {
	ID string
}

// StreamFailed ends the generation of the pending model message and appends a model message carrying
// ConnectionErrorText.
type StreamFailed struct {
	ID      string
	ErrorID string
	At      time.Time
}

func (Submitted) event()        {}
func (FragmentReceived) event() {}
func (StreamCompleted) event()  {}
func (StreamFailed) event()     {}

// Generating reports whether a model message is being streamed.
func (s State) Generating() bool {
	return s.PendingID != ""
}

// Reduce returns the state that results from applying e to s. It never modifies s: a changed state always
// carries a fresh Messages slice. Events that don't apply to s, such as a submission while generating or a
// fragment for a message that isn't pending, leave the state unchanged.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case Submitted:
		if s.Generating() || strings.TrimSpace(e.Text) == "" {
			return s
		}
		msgs := make([]models.Message, 0, len(s.Messages)+2)
		msgs = append(msgs, s.Messages...)
		msgs = append(msgs,
			models.Message{
				ID:        e.UserID,
				Role:      models.RoleUser,
				Text:      e.Text,
				Timestamp: e.At,
			},
			models.Message{
				ID:          e.ModelID,
				Role:        models.RoleModel,
				Timestamp:   e.At,
				IsStreaming: true,
			},
		)
		return State{Messages: msgs, PendingID: e.ModelID}
	case FragmentReceived:
		return s.updatePending(e.ID, func(msg *models.Message) {
			msg.Text += e.Text
		})
	case StreamCompleted:
		if e.ID == "" || e.ID != s.PendingID {
			return s
		}
		next := s.updatePending(e.ID, func(msg *models.Message) {
			msg.IsStreaming = false
		})
		next.PendingID = ""
		return next
	case StreamFailed:
		if e.ID == "" || e.ID != s.PendingID {
			return s
		}
		// The placeholder keeps whatever text it reached.
		next := Reduce(s, StreamCompleted{ID: e.ID})
		next.Messages = append(next.Messages, models.Message{
			ID:        e.ErrorID,
			Role:      models.RoleModel,
			Text:      ConnectionErrorText,
			Timestamp: e.At,
		})
		return next
	}
	return s
}

func (s State) updatePending(id string, fn func(*models.Message)) State {
	if id == "" || id != s.PendingID {
		return s
	}
	idx := slices.IndexFunc(s.Messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		return s
	}
	msgs := slices.Clone(s.Messages)
	fn(&msgs[idx])
	return State{Messages: msgs, PendingID: s.PendingID}
}
