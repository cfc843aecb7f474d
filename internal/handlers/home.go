package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/xai-studio/internal/chat"
)

// HandleHome renders the studio page. The mode query parameter picks the chat (default) or image view. The
// chat view always opens a fresh conversation, so a reload starts over.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := homePageData{
		Mode:  modeChat,
		Image: m.imageView(),
	}
	if r.URL.Query().Get("mode") == modeImage {
		data.Mode = modeImage
	}

	if data.Mode == modeChat {
		conv := chat.NewConversation()
		held := m.conversations.add(conv)
		m.metrics.ConversationsActive.Set(float64(held))
		data.ConversationID = conv.ID
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
