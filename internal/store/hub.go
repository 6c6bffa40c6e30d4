package store

import (
	"sync"

	"github.com/mindwell-app/mindwell/internal/log"
)

// Action classifies a committed change pushed to subscribers.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// Change is one committed message mutation.
type Change struct {
	Action  Action  `json:"action"`
	Message Message `json:"message"`
}

// subscriberBuffer bounds how far a subscriber may lag before changes
// are dropped for it.
const subscriberBuffer = 32

type subscriber struct {
	conversationID string
	ch             chan Change
}

// Hub fans committed changes out to per-conversation subscribers.
// Publishing never blocks: a subscriber that cannot keep up loses
// changes and is expected to resync by refetching.
type Hub struct {
	logger log.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates a Hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers for a conversation's committed changes. The
// returned cancel func must be called to release the subscription; it
// closes the channel.
func (h *Hub) Subscribe(conversationID string) (<-chan Change, func()) {
	sub := &subscriber{
		conversationID: conversationID,
		ch:             make(chan Change, subscriberBuffer),
	}

	h.mu.Lock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[conversationID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, conversationID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers a change to every subscriber of the conversation.
func (h *Hub) Publish(conversationID string, change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[conversationID] {
		select {
		case sub.ch <- change:
		default:
			h.logger.Warn("dropping change for slow subscriber",
				"conversation_id", conversationID,
				"action", change.Action,
				"message_id", change.Message.ID)
		}
	}
}
