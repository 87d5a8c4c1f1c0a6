package store

import (
	"time"

	"teen-chats/internal/realtime"
)

// messageRow mirrors one row of messages joined with the sender's profile
type messageRow struct {
	ID         string
	Kind       string
	SenderID   string
	ReceiverID string
	GroupID    string
	Content    string
	CreatedAt  time.Time
	Username   string
	Nickname   string
	Avatar     string
}

func (m messageRow) event() realtime.ChatEvent {
	return realtime.ChatEvent{
		ID:         m.ID,
		Kind:       realtime.ChatKind(m.Kind),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.UTC(),
		Sender: realtime.Sender{
			ID:       m.SenderID,
			Username: m.Username,
			Nickname: m.Nickname,
			Avatar:   m.Avatar,
		},
	}
}
