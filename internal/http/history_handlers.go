package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"teen-chats/internal/realtime"
	"teen-chats/pkg/auth"
)

// HistoryStore is the read side of the Persistence Service
type HistoryStore interface {
	FetchRecent(ctx context.Context, room realtime.RoomKey, limit int) ([]realtime.ChatEvent, error)
	IsMember(ctx context.Context, identity, groupID string) (bool, error)
}

// HistoryAPI serves the bounded recent window of a conversation.
// Events have the same shape as the ones fanned out over the websocket.
type HistoryAPI struct {
	DB         HistoryStore
	Log        *slog.Logger
	Limit      int
	GroupAuthz bool
}

type historyResp struct {
	Messages []realtime.ChatEvent `json:"messages"`
}

// Direct returns the recent messages between the caller and ?userId=
func (a *HistoryAPI) Direct(w http.ResponseWriter, r *http.Request) {
	other := r.URL.Query().Get("userId")
	if other == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	uid := auth.UserID(r.Context())
	a.serve(w, r, realtime.ResolveDirectPairKey(uid, other))
}

// Group returns the recent messages of group {id}
func (a *HistoryAPI) Group(w http.ResponseWriter, r *http.Request) {
	gid := r.PathValue("id")
	if gid == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if a.GroupAuthz {
		ok, err := a.DB.IsMember(r.Context(), auth.UserID(r.Context()), gid)
		if err != nil {
			a.Log.Error("history.member_check", "group", gid, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}
	}
	a.serve(w, r, realtime.GroupRoomKey(gid))
}

func (a *HistoryAPI) serve(w http.ResponseWriter, r *http.Request, room realtime.RoomKey) {
	msgs, err := a.DB.FetchRecent(r.Context(), room, a.Limit)
	if err != nil {
		a.Log.Error("history.fetch", "room", room, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []realtime.ChatEvent{}
	}
	writeJSON(w, historyResp{Messages: msgs})
}
