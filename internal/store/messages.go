package store

import (
	"context"
	"fmt"

	"teen-chats/internal/realtime"
)

var (
	_ realtime.Store             = (*Postgres)(nil)
	_ realtime.MembershipChecker = (*Postgres)(nil)
)

const defaultHistoryLimit = 100

// Store inserts a chat message and returns it with its id, timestamp and sender profile
func (p *Postgres) Store(ctx context.Context, ev realtime.NewChatEvent) (realtime.ChatEvent, error) {
	var receiverID, groupID string
	switch ev.Kind {
	case realtime.KindDM:
		receiverID = ev.Destination
	case realtime.KindGroup:
		groupID = ev.Destination
	default:
		return realtime.ChatEvent{}, fmt.Errorf("unknown message kind %q", ev.Kind)
	}

	row := p.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (kind, sender_id, receiver_id, group_id, room_key, content)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
			RETURNING id, created_at, sender_id
		)
		SELECT m.id::text, m.created_at,
		       COALESCE(u.username, ''), COALESCE(u.nickname, ''), COALESCE(u.avatar, '')
		FROM m LEFT JOIN users u ON u.id = m.sender_id
	`, string(ev.Kind), ev.SenderID, receiverID, groupID, string(ev.Room()), ev.Content)

	r := messageRow{
		Kind:       string(ev.Kind),
		SenderID:   ev.SenderID,
		ReceiverID: receiverID,
		GroupID:    groupID,
		Content:    ev.Content,
	}
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Username, &r.Nickname, &r.Avatar); err != nil {
		return realtime.ChatEvent{}, fmt.Errorf("insert message: %w", err)
	}
	p.log.Debug("message.stored", "id", r.ID, "room", ev.Room())
	return r.event(), nil
}

// FetchRecent returns up to limit of the newest messages of a room, oldest first
func (p *Postgres) FetchRecent(ctx context.Context, room realtime.RoomKey, limit int) ([]realtime.ChatEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, kind, sender_id, receiver_id, group_id, content, created_at, username, nickname, avatar
		FROM (
			SELECT m.id::text AS id, m.kind, m.sender_id,
			       COALESCE(m.receiver_id, '') AS receiver_id, COALESCE(m.group_id, '') AS group_id,
			       m.content, m.created_at,
			       COALESCE(u.username, '') AS username, COALESCE(u.nickname, '') AS nickname,
			       COALESCE(u.avatar, '') AS avatar
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.room_key = $1
			ORDER BY m.created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, string(room), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]realtime.ChatEvent, 0, limit)
	for rows.Next() {
		var r messageRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.SenderID, &r.ReceiverID, &r.GroupID, &r.Content,
			&r.CreatedAt, &r.Username, &r.Nickname, &r.Avatar); err != nil {
			return nil, err
		}
		out = append(out, r.event())
	}
	return out, rows.Err()
}

// IsMember reports whether identity belongs to groupID
func (p *Postgres) IsMember(ctx context.Context, identity, groupID string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)
	`, groupID, identity).Scan(&ok)
	return ok, err
}
