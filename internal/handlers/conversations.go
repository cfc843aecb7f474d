package handlers

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/xai-studio/internal/chat"
)

// conversations holds the in-memory conversations opened by the chat view, oldest first.
type conversations struct {
	mu    sync.Mutex
	byID  map[string]*chat.Conversation
	order []string
	limit int
}

func newConversations(limit int) *conversations {
	if limit <= 0 {
		limit = DefaultMaxConversations
	}
	return &conversations{
		byID:  make(map[string]*chat.Conversation),
		limit: limit,
	}
}

// add stores conv, dropping the oldest conversations beyond the bound. It returns the number held.
func (c *conversations) add(conv *chat.Conversation) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID[conv.ID] = conv
	c.order = append(c.order, conv.ID)
	for len(c.order) > c.limit {
		delete(c.byID, c.order[0])
		c.order = slices.Delete(c.order, 0, 1)
	}
	return len(c.order)
}

func (c *conversations) get(id string) (*chat.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[id]
	return conv, ok
}
