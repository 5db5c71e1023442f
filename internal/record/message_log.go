package record

import (
	"sort"

	"chat-sync/internal/model"
)

// messageLog keeps messages per conversation in insertion order. Callers hold
// the MemoryStore lock.
type messageLog struct {
	data  map[string][]model.Message
	index map[string]string // message id -> conversation id
}

func newMessageLog() *messageLog {
	return &messageLog{
		data:  make(map[string][]model.Message),
		index: make(map[string]string),
	}
}

func (m *messageLog) append(msg model.Message) {
	m.data[msg.ConversationID] = append(m.data[msg.ConversationID], msg)
	m.index[msg.ID] = msg.ConversationID
}

func (m *messageLog) get(id string) (model.Message, bool) {
	convID, ok := m.index[id]
	if !ok {
		return model.Message{}, false
	}
	for _, msg := range m.data[convID] {
		if msg.ID == id {
			return msg, true
		}
	}
	return model.Message{}, false
}

// list returns a copy ordered by createdAt, ties in insertion order.
func (m *messageLog) list(conversationID string) []model.Message {
	msgs := m.data[conversationID]
	result := make([]model.Message, len(msgs))
	copy(result, msgs)
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (m *messageLog) replace(msg model.Message) {
	msgs := m.data[msg.ConversationID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return
		}
	}
}

func (m *messageLog) remove(id string) (model.Message, bool) {
	convID, ok := m.index[id]
	if !ok {
		return model.Message{}, false
	}
	msgs := m.data[convID]
	for i, msg := range msgs {
		if msg.ID == id {
			m.data[convID] = append(msgs[:i:i], msgs[i+1:]...)
			delete(m.index, id)
			return msg, true
		}
	}
	return model.Message{}, false
}

func (m *messageLog) deleteConversation(conversationID string) {
	for _, msg := range m.data[conversationID] {
		delete(m.index, msg.ID)
	}
	delete(m.data, conversationID)
}
