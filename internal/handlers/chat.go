package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/chat"
	"github.com/MegaGrindStone/xai-studio/internal/models"
)

// HandleChats accepts a user message through HTTP POST. It expects the "message" and "conversation_id" form
// fields. On success it renders the user message and the streaming placeholder for the reply, then streams
// the reply in the background, publishing every change to the conversation's SSE topic.
//
// It responds with 400 for an empty message, 404 for an unknown conversation and 409 while the conversation
// is still streaming a reply.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conv, ok := m.conversations.get(r.FormValue("conversation_id"))
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	sub, err := conv.Submit(r.FormValue("message"))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			m.metrics.ChatSubmissionsTotal.WithLabelValues("empty").Inc()
			http.Error(w, "Message is required", http.StatusBadRequest)
		case errors.Is(err, chat.ErrGenerating):
			m.metrics.ChatSubmissionsTotal.WithLabelValues("busy").Inc()
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	m.metrics.ChatSubmissionsTotal.WithLabelValues("accepted").Inc()

	// The stream starts only after the pair has been written and flushed.
	defer func() { go m.chat(conv, sub) }()

	var sb strings.Builder
	for _, msg := range []models.Message{sub.User, sub.Model} {
		html, err := m.renderMessage(msg)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sb.WriteString(html)
	}
	if _, err := w.Write([]byte(sb.String())); err != nil {
		m.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleConversation renders every message of the conversation named by the "conversation_id" query
// parameter. Rendering never changes the conversation, so repeated calls give identical output until the
// conversation itself changes.
func (m Main) HandleConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := m.conversations.get(r.URL.Query().Get("conversation_id"))
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	msgs, err := newMessages(conv.Messages())
	if err != nil {
		m.logger.Error("Failed to render conversation", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "messages", msgs); err != nil {
		m.logger.Error("Failed to render conversation", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) chat(conv *chat.Conversation, sub chat.Submission) {
	m.metrics.ChatStreamsInFlight.Inc()
	defer m.metrics.ChatStreamsInFlight.Dec()

	start := time.Now()
	logger := m.logger.With(
		slog.String("conversationID", conv.ID),
		slog.String("messageID", sub.Model.ID))

	err := conv.Stream(context.Background(), m.llm, sub, func(msg models.Message) {
		if msg.ID == sub.Model.ID && msg.IsStreaming {
			m.metrics.ChatFragmentsTotal.Inc()
		}
		if err := m.publishMessage(conv.ID, msg); err != nil {
			logger.Error("Failed to publish message", slog.String(errLoggerKey, err.Error()))
		}
	})
	if err != nil {
		logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
		m.metrics.RecordChatStream("failed", time.Since(start))
		return
	}
	logger.Debug("Reply completed", slog.Duration("took", time.Since(start)))
	m.metrics.RecordChatStream("completed", time.Since(start))
}
