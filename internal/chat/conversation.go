package chat

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/google/uuid"
)

// LLM represents a large language model that streams a reply to a new message given the prior conversation.
// The returned iterator yields text fragments in delivery order; a non-nil error ends the sequence and fails
// the whole reply.
type LLM interface {
	Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error]
}

// Conversation owns the ordered messages of one chat and the "generation in progress" flag. All state
// changes go through Reduce under a mutex, so a submission check and the resulting state change can't
// interleave with another submission.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	mu    sync.Mutex
	state State

	newID func() string
	now   func() time.Time
}

// Submission is the result of a successful Submit: the appended message pair and the history the
// provider should be seeded with.
type Submission struct {
	User    models.Message
	Model   models.Message
	History []models.Turn
}

// Option configures a Conversation.
type Option func(*Conversation)

var (
	// ErrEmptyMessage is returned by Submit for empty or whitespace-only text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrGenerating is returned by Submit while a reply is being streamed.
	ErrGenerating = errors.New("a reply is already being generated")
)

// WithIDGenerator overrides how message IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(c *Conversation) {
		c.newID = fn
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Conversation) {
		c.now = fn
	}
}

// NewConversation creates an empty, idle conversation.
func NewConversation(opts ...Option) *Conversation {
	c := &Conversation{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ID = c.newID()
	c.CreatedAt = c.now()
	return c
}

// Submit appends the user message and a streaming model placeholder. The returned history holds every
// message that preceded the pair.
func (c *Conversation) Submit(text string) (Submission, error) {
	if strings.TrimSpace(text) == "" {
		return Submission{}, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Generating() {
		return Submission{}, ErrGenerating
	}

	history := models.Turns(c.state.Messages)
	c.state = Reduce(c.state, Submitted{
		UserID:  c.newID(),
		ModelID: c.newID(),
		Text:    text,
		At:      c.now(),
	})

	n := len(c.state.Messages)
	return Submission{
		User:    c.state.Messages[n-2],
		Model:   c.state.Messages[n-1],
		History: history,
	}, nil
}

// Stream consumes the reply to sub from llm, applying fragments in arrival order. onUpdate, if not nil, is
// called after every change with the changed message: the pending model message as it grows and finishes,
// and on failure the appended error message. A stream failure is recovered into the conversation and also
// returned so the caller can log it.
func (c *Conversation) Stream(ctx context.Context, llm LLM, sub Submission, onUpdate func(models.Message)) error {
	notify := func(msg models.Message, ok bool) {
		if ok && onUpdate != nil {
			onUpdate(msg)
		}
	}

	for fragment, err := range llm.Chat(ctx, sub.History, sub.User.Text) {
		if err != nil {
			errorID := c.newID()
			c.apply(StreamFailed{ID: sub.Model.ID, ErrorID: errorID, At: c.now()})
			notify(c.message(sub.Model.ID))
			notify(c.message(errorID))
			return err
		}
		if fragment == "" {
			continue
		}
		c.apply(FragmentReceived{ID: sub.Model.ID, Text: fragment})
		notify(c.message(sub.Model.ID))
	}

	c.apply(StreamCompleted{ID: sub.Model.ID})
	notify(c.message(sub.Model.ID))
	return nil
}

// Messages returns a copy of the conversation in display order.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.state.Messages)
}

// Generating reports whether a reply is being streamed.
func (c *Conversation) Generating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Generating()
}

func (c *Conversation) apply(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Reduce(c.state, e)
}

func (c *Conversation) message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.state.Messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		return models.Message{}, false
	}
	return c.state.Messages[idx], true
}
