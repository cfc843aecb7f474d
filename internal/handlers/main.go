package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xaistudio "github.com/MegaGrindStone/xai-studio"
	"github.com/MegaGrindStone/xai-studio/internal/chat"
	"github.com/MegaGrindStone/xai-studio/internal/imaging"
	"github.com/MegaGrindStone/xai-studio/internal/metrics"
	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/tmaxmax/go-sse"
)

// KeySetter selects the credential used for billable provider calls.
type KeySetter interface {
	SetKey(key string)
}

// Main is the presentation shell of the studio. It serves the chat and image views, runs the chat streams
// and fans their progress out to browsers through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	llm           chat.LLM
	images        *imaging.Machine
	keys          KeySetter
	conversations *conversations

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures Main.
type Option func(*Main)

// SSE event types for real-time updates.
var (
	messagesSSEType  = sse.Type("messages")
	closeChatSSEType = sse.Type("closeChat")
)

const (
	errLoggerKey = "err"

	// DefaultMaxConversations bounds the conversations held in memory.
	DefaultMaxConversations = 100
)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Main) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics the handlers record to. Defaults to a fresh metrics.Metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Main) {
		m.metrics = mt
	}
}

// WithMaxConversations bounds the conversations held in memory. The oldest conversation is dropped when a
// new one would exceed the bound.
func WithMaxConversations(n int) Option {
	return func(m *Main) {
		m.conversations = newConversations(n)
	}
}

// NewMain creates a new Main. It parses the required HTML templates from the embedded filesystem and
// initializes the SSE server, subscribing every client to the conversation it names.
func NewMain(llm chat.LLM, images *imaging.Machine, keys KeySetter, opts ...Option) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"lower": strings.ToLower,
	}).ParseFS(
		xaistudio.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		templates:     tmpl,
		llm:           llm,
		images:        images,
		keys:          keys,
		conversations: newConversations(DefaultMaxConversations),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewMetrics()
	}
	m.logger = m.logger.With(slog.String("module", "handlers"))

	m.sseSrv = &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			topics := []string{sse.DefaultTopic}

			conversationID := s.Req.URL.Query().Get("conversation_id")
			if conversationID != "" {
				topics = append(topics, conversationTopic(conversationID))
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      topics,
			}, true
		},
	}

	return m, nil
}

func conversationTopic(conversationID string) string {
	return fmt.Sprintf("conversation-%s", conversationID)
}

// HandleSSE serves the server-sent events stream. Clients pass the conversation they display as the
// conversation_id query parameter.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: closeChatSSEType}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

type messageEvent struct {
	ID        string `json:"id"`
	HTML      string `json:"html"`
	Streaming bool   `json:"streaming"`
}

func (m Main) publishMessage(conversationID string, msg models.Message) error {
	html, err := m.renderMessage(msg)
	if err != nil {
		return err
	}

	data, err := json.Marshal(messageEvent{
		ID:        msg.ID,
		HTML:      html,
		Streaming: msg.IsStreaming,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message event: %w", err)
	}

	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(string(data))
	if err := m.sseSrv.Publish(e, conversationTopic(conversationID)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
