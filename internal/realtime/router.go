package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"teen-chats/pkg/metrics"
)

const (
	DefaultPersistTimeout = 5 * time.Second
	DefaultMaxContentLen  = 4000
)

// MembershipChecker answers whether identity belongs to a group
type MembershipChecker interface {
	IsMember(ctx context.Context, identity, groupID string) (bool, error)
}

// Options tunes a Router. Bus and Members are optional.
type Options struct {
	InstanceID     string
	PersistTimeout time.Duration
	MaxContentLen  int
	GroupJoinAuthz bool
	Bus            Publisher
	Members        MembershipChecker
}

// Router interprets inbound events and drives membership, persistence and fan-out
type Router struct {
	log   *slog.Logger
	rooms *Rooms
	reg   *Registry
	gw    *Gateway
	relay *Relay
	opts  Options
}

// NewRouter wires registry, rooms, gateway and relay around store
func NewRouter(logger *slog.Logger, store Store, opts Options) *Router {
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.MaxContentLen <= 0 {
		opts.MaxContentLen = DefaultMaxContentLen
	}
	rooms := NewRooms()
	reg := NewRegistry(rooms)
	return &Router{
		log:   logger,
		rooms: rooms,
		reg:   reg,
		gw:    NewGateway(store, logger),
		relay: NewRelay(logger, reg, opts.Bus, opts.InstanceID),
		opts:  opts,
	}
}

func (r *Router) Registry() *Registry { return r.reg }
func (r *Router) Rooms() *Rooms       { return r.rooms }
func (r *Router) InstanceID() string  { return r.opts.InstanceID }

// Connect admits a socket for identity and sends it the admission event
func (r *Router) Connect(identity string, tr Transport) *Conn {
	c := r.reg.Admit(identity, tr)
	metrics.ConnectionsActive.Inc()
	r.reply(c, TypeConnected, "", connectedPayload{ConnID: c.ID, UserID: identity})
	r.log.Debug("router.connect", "conn", c.ID, "user", identity)
	return c
}

// Disconnect is the single cleanup point for a socket, whatever ended it
func (r *Router) Disconnect(c *Conn) {
	if r.reg.Remove(c) {
		metrics.ConnectionsActive.Dec()
		r.log.Debug("router.disconnect", "conn", c.ID, "user", c.Identity)
	}
}

// HandleJoinUserRoom re-joins the caller's inbox; Connect already did it once
func (r *Router) HandleJoinUserRoom(c *Conn) error {
	return r.rooms.Join(c, UserRoomKey(c.Identity))
}

// HandleJoinDirectRoom joins the pair room shared with other
func (r *Router) HandleJoinDirectRoom(c *Conn, other string) error {
	if !validID(other) {
		return fmt.Errorf("%w: invalid user id", ErrValidation)
	}
	return r.rooms.Join(c, ResolveDirectPairKey(c.Identity, other))
}

// HandleLeaveDirectRoom leaves the pair room shared with other
func (r *Router) HandleLeaveDirectRoom(c *Conn, other string) error {
	if !validID(other) {
		return fmt.Errorf("%w: invalid user id", ErrValidation)
	}
	r.rooms.Leave(c, ResolveDirectPairKey(c.Identity, other))
	return nil
}

// HandleJoinGroupRoom joins group:{groupID}, subject to the membership check when enabled
func (r *Router) HandleJoinGroupRoom(ctx context.Context, c *Conn, groupID string) error {
	if !validID(groupID) {
		return fmt.Errorf("%w: invalid group id", ErrValidation)
	}
	if err := r.authorizeGroup(ctx, c.Identity, groupID); err != nil {
		return err
	}
	return r.rooms.Join(c, GroupRoomKey(groupID))
}

// HandleLeaveGroupRoom leaves group:{groupID}
func (r *Router) HandleLeaveGroupRoom(c *Conn, groupID string) error {
	if !validID(groupID) {
		return fmt.Errorf("%w: invalid group id", ErrValidation)
	}
	r.rooms.Leave(c, GroupRoomKey(groupID))
	return nil
}

// HandleSendDirect stores a direct message, then fans it out to the pair room
func (r *Router) HandleSendDirect(ctx context.Context, senderID, receiverID, content string) (ChatEvent, error) {
	return r.send(ctx, NewChatEvent{Kind: KindDM, SenderID: senderID, Destination: receiverID, Content: content})
}

// HandleSendGroup stores a group message, then fans it out to the group room
func (r *Router) HandleSendGroup(ctx context.Context, senderID, groupID, content string) (ChatEvent, error) {
	return r.send(ctx, NewChatEvent{Kind: KindGroup, SenderID: senderID, Destination: groupID, Content: content})
}

func (r *Router) send(ctx context.Context, ev NewChatEvent) (ChatEvent, error) {
	ev.Content = strings.TrimSpace(ev.Content)
	if ev.Content == "" {
		return ChatEvent{}, fmt.Errorf("%w: empty content", ErrValidation)
	}
	if utf8.RuneCountInString(ev.Content) > r.opts.MaxContentLen {
		return ChatEvent{}, fmt.Errorf("%w: content longer than %d characters", ErrValidation, r.opts.MaxContentLen)
	}
	if !validID(ev.SenderID) || !validID(ev.Destination) {
		return ChatEvent{}, fmt.Errorf("%w: invalid identifier", ErrValidation)
	}
	if ev.Kind == KindGroup {
		if err := r.authorizeGroup(ctx, ev.SenderID, ev.Destination); err != nil {
			return ChatEvent{}, err
		}
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.PersistTimeout)
	stored, err := r.gw.Store(pctx, ev)
	cancel()
	if err != nil {
		r.log.Warn("router.persist", "sender", ev.SenderID, "kind", ev.Kind, "to", ev.Destination, "err", err)
		return ChatEvent{}, err
	}

	typ := TypeNewDM
	if ev.Kind == KindGroup {
		typ = TypeNewGroupMessage
	}
	// committed: the broadcast must finish even if the sender goes away
	n := r.fanout(context.WithoutCancel(ctx), ev.Room(), typ, stored, "")
	r.log.Debug("router.send", "id", stored.ID, "room", ev.Room(), "delivered", n)
	return stored, nil
}

// HandleTyping tells the other members of the room that userID started or stopped typing.
// target is the other user for KindDM and the group id for KindGroup.
func (r *Router) HandleTyping(ctx context.Context, userID string, kind ChatKind, target string, isTyping bool) (int, error) {
	if !validID(userID) || !validID(target) {
		return 0, fmt.Errorf("%w: invalid identifier", ErrValidation)
	}
	switch kind {
	case KindDM:
		ev := TypingEvent{UserID: userID, IsTyping: isTyping}
		return r.fanout(ctx, ResolveDirectPairKey(userID, target), TypeUserTypingDM, ev, userID), nil
	case KindGroup:
		ev := TypingEvent{UserID: userID, IsTyping: isTyping, GroupID: target}
		return r.fanout(ctx, GroupRoomKey(target), TypeUserTypingGroup, ev, userID), nil
	default:
		return 0, fmt.Errorf("%w: unknown chat kind %q", ErrValidation, kind)
	}
}

// Relay forwards a signaling frame from c to every connection of to
func (r *Router) Relay(ctx context.Context, kind SignalKind, from *Conn, to string, payload json.RawMessage) (int, error) {
	return r.relay.Relay(ctx, kind, from, to, payload)
}

// Dispatch is the single inbound entry point for a connection.
// Failures are reported to c only; the error is returned for the caller's logs.
func (r *Router) Dispatch(ctx context.Context, c *Conn, env Envelope) error {
	id, err := r.dispatch(ctx, c, env)

	result := "ok"
	if err != nil {
		result = errorCode(err)
		r.reply(c, TypeError, env.Ref, errorPayload{Code: errorCode(err), Message: clientMessage(err)})
	} else if env.Ref != "" {
		r.reply(c, TypeAck, env.Ref, ackPayload{ID: id})
	}
	metrics.EventsInbound.WithLabelValues(metricType(env.Type), result).Inc()
	return err
}

func (r *Router) dispatch(ctx context.Context, c *Conn, env Envelope) (string, error) {
	switch env.Type {
	case TypeJoin:
		return "", r.HandleJoinUserRoom(c)

	case TypeJoinDM, TypeLeaveDM:
		var req peerReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		if env.Type == TypeJoinDM {
			return "", r.HandleJoinDirectRoom(c, req.OtherUserID)
		}
		return "", r.HandleLeaveDirectRoom(c, req.OtherUserID)

	case TypeJoinGroup, TypeLeaveGroup:
		var req groupReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		if env.Type == TypeJoinGroup {
			return "", r.HandleJoinGroupRoom(ctx, c, req.GroupID)
		}
		return "", r.HandleLeaveGroupRoom(c, req.GroupID)

	case TypeSendDM:
		var req sendDMReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		ev, err := r.HandleSendDirect(ctx, c.Identity, req.ReceiverID, req.Content)
		return ev.ID, err

	case TypeSendGroupMessage:
		var req sendGroupReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		ev, err := r.HandleSendGroup(ctx, c.Identity, req.GroupID, req.Content)
		return ev.ID, err

	case TypeTypingDM:
		var req typingDMReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		_, err := r.HandleTyping(ctx, c.Identity, KindDM, req.OtherUserID, req.IsTyping)
		return "", err

	case TypeTypingGroup:
		var req typingGroupReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		_, err := r.HandleTyping(ctx, c.Identity, KindGroup, req.GroupID, req.IsTyping)
		return "", err

	case string(SignalOffer), string(SignalAnswer), string(SignalIceCandidate):
		var req signalReq
		if err := decode(env, &req); err != nil {
			return "", err
		}
		kind := SignalKind(env.Type)
		_, err := r.relay.Relay(ctx, kind, c, req.To, req.payload(kind))
		return "", err

	default:
		return "", fmt.Errorf("%w: unknown event %q", ErrValidation, env.Type)
	}
}

// DeliverRemote applies a frame published by another instance to local members
func (r *Router) DeliverRemote(m BusMessage) int {
	if m.Origin == r.opts.InstanceID {
		return 0
	}
	metrics.BusMessages.WithLabelValues("in").Inc()
	return r.deliverLocal(m.Room, m.Payload, m.Exclude)
}

// fanout encodes v once and sends it to every member of key except exclude's connections
func (r *Router) fanout(ctx context.Context, key RoomKey, typ string, v any, exclude string) int {
	b, err := Encode(typ, "", v)
	if err != nil {
		r.log.Error("router.encode", "type", typ, "err", err)
		return 0
	}
	n := r.deliverLocal(key, b, exclude)

	if r.opts.Bus != nil {
		msg := BusMessage{Origin: r.opts.InstanceID, Room: key, Exclude: exclude, Payload: b}
		if err := r.opts.Bus.Publish(ctx, msg); err != nil {
			r.log.Warn("router.publish", "room", key, "err", err)
		} else {
			metrics.BusMessages.WithLabelValues("out").Inc()
		}
	}
	return n
}

// deliverLocal walks a membership snapshot; one failed conn never stops the rest
func (r *Router) deliverLocal(key RoomKey, b []byte, exclude string) int {
	sent := 0
	for _, c := range r.rooms.MembersOf(key) {
		if exclude != "" && c.Identity == exclude {
			continue
		}
		if err := c.deliver(b); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			r.log.Warn("router.deliver", "conn", c.ID, "room", key, "err", err)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
		sent++
	}
	return sent
}

// reply sends a frame to c alone
func (r *Router) reply(c *Conn, typ, ref string, v any) {
	b, err := Encode(typ, ref, v)
	if err != nil {
		r.log.Error("router.encode", "type", typ, "err", err)
		return
	}
	if err := c.deliver(b); err != nil {
		r.log.Debug("router.reply", "conn", c.ID, "type", typ, "err", err)
	}
}

func (r *Router) authorizeGroup(ctx context.Context, identity, groupID string) error {
	if !r.opts.GroupJoinAuthz || r.opts.Members == nil {
		return nil
	}
	ok, err := r.opts.Members.IsMember(ctx, identity, groupID)
	if err != nil {
		return fmt.Errorf("%w: membership check: %w", ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of group %s", ErrForbidden, groupID)
	}
	return nil
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", ErrValidation, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: bad %s payload", ErrValidation, env.Type)
	}
	return nil
}

// clientMessage hides store internals from clients
func clientMessage(err error) string {
	switch errorCode(err) {
	case "validation", "forbidden":
		return err.Error()
	case "persistence":
		return "message could not be stored"
	default:
		return "internal error"
	}
}

var knownTypes = map[string]bool{
	TypeJoin: true, TypeJoinDM: true, TypeJoinGroup: true, TypeLeaveDM: true, TypeLeaveGroup: true,
	TypeSendDM: true, TypeSendGroupMessage: true, TypeTypingDM: true, TypeTypingGroup: true,
	string(SignalOffer): true, string(SignalAnswer): true, string(SignalIceCandidate): true,
}

// metricType keeps client-chosen strings out of metric labels
func metricType(t string) string {
	if knownTypes[t] {
		return t
	}
	return "unknown"
}
