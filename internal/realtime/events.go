package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// Inbound event names sent by clients
const (
	TypeJoin             = "join"
	TypeJoinDM           = "join-dm"
	TypeJoinGroup        = "join-group"
	TypeLeaveDM          = "leave-dm"
	TypeLeaveGroup       = "leave-group"
	TypeSendDM           = "send-dm"
	TypeSendGroupMessage = "send-group-message"
	TypeTypingDM         = "typing-dm"
	TypeTypingGroup      = "typing-group"
)

// Outbound event names delivered to clients
const (
	TypeConnected       = "connected"
	TypeNewDM           = "new-dm"
	TypeNewGroupMessage = "new-group-message"
	TypeUserTypingDM    = "user-typing-dm"
	TypeUserTypingGroup = "user-typing-group"
	TypeAck             = "ack"
	TypeError           = "error"
)

// SignalKind names a WebRTC handshake frame; the same name is used in both directions
type SignalKind string

const (
	SignalOffer        SignalKind = "voice-offer"
	SignalAnswer       SignalKind = "voice-answer"
	SignalIceCandidate SignalKind = "ice-candidate"
)

func (k SignalKind) valid() bool {
	return k == SignalOffer || k == SignalAnswer || k == SignalIceCandidate
}

// RoomKey identifies a fan-out target
type RoomKey string

// UserRoomKey is the per-identity inbox, auto-joined on connect
func UserRoomKey(identity string) RoomKey { return RoomKey("user:" + identity) }

// GroupRoomKey is the room for a group conversation
func GroupRoomKey(groupID string) RoomKey { return RoomKey("group:" + groupID) }

// ResolveDirectPairKey returns the same key for (a, b) and (b, a)
func ResolveDirectPairKey(a, b string) RoomKey {
	if b < a {
		a, b = b, a
	}
	return RoomKey("dm:" + a + "-" + b)
}

// ChatKind tells direct messages from group messages
type ChatKind string

const (
	KindDM    ChatKind = "dm"
	KindGroup ChatKind = "group"
)

// Sender carries the display attributes resolved by the store
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// ChatEvent is a stored chat message; fan-out and history use the same shape
type ChatEvent struct {
	ID         string    `json:"id"`
	Kind       ChatKind  `json:"kind"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Sender     Sender    `json:"sender"`
}

// NewChatEvent is what the router hands to the persistence gateway
type NewChatEvent struct {
	Kind        ChatKind
	SenderID    string
	Destination string // receiver id for dm, group id for group
	Content     string
}

// Room is the fan-out room of the event
func (e NewChatEvent) Room() RoomKey {
	if e.Kind == KindGroup {
		return GroupRoomKey(e.Destination)
	}
	return ResolveDirectPairKey(e.SenderID, e.Destination)
}

// TypingEvent is an ephemeral typing-state change
type TypingEvent struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
	GroupID  string `json:"groupId,omitempty"`
}

// SignalFrame is a relayed handshake frame; exactly one payload field is set
type SignalFrame struct {
	From      string          `json:"from"`
	FromConn  string          `json:"fromConn"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Envelope is the single wire frame in both directions
type Envelope struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type connectedPayload struct {
	ConnID string `json:"connId"`
	UserID string `json:"userId"`
}

type ackPayload struct {
	ID string `json:"id,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// inbound payloads
type (
	peerReq struct {
		OtherUserID string `json:"otherUserId"`
	}
	groupReq struct {
		GroupID string `json:"groupId"`
	}
	sendDMReq struct {
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
	}
	sendGroupReq struct {
		GroupID string `json:"groupId"`
		Content string `json:"content"`
	}
	typingDMReq struct {
		OtherUserID string `json:"otherUserId"`
		IsTyping    bool   `json:"isTyping"`
	}
	typingGroupReq struct {
		GroupID  string `json:"groupId"`
		IsTyping bool   `json:"isTyping"`
	}
	signalReq struct {
		To        string          `json:"to"`
		Offer     json.RawMessage `json:"offer,omitempty"`
		Answer    json.RawMessage `json:"answer,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}
)

// payload picks the field matching kind
func (s signalReq) payload(kind SignalKind) json.RawMessage {
	switch kind {
	case SignalOffer:
		return s.Offer
	case SignalAnswer:
		return s.Answer
	default:
		return s.Candidate
	}
}

// Encode builds an outbound frame
func Encode(typ, ref string, v any) ([]byte, error) {
	var data json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Envelope{Type: typ, Ref: ref, Data: data})
}

const maxIDLen = 128

// validID rejects empty, oversized or control-char identifiers
func validID(id string) bool {
	if id == "" || len(id) > maxIDLen || strings.TrimSpace(id) != id {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
