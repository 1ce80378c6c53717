package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/matchmaking"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
	"github.com/DoyleJ11/memory-match-backend/internal/types"
)

const qrSize = 256

// Notifier pushes room changes made over HTTP to connected sockets.
type Notifier interface {
	RoomUpdated(r room.Room)
	ReadyChanged(r room.Room, userID string, ready bool)
	MatchStarting(r room.Room, m royale.Match)
	PlayerRemoved(roomID string, d royale.Departure, reason string)
	RoomClosed(r room.Room)
}

type API struct {
	royale        *royale.Service
	queue         *matchmaking.Queue
	notify        Notifier
	publicBaseURL string
	log           *zap.Logger
}

func NewAPI(svc *royale.Service, queue *matchmaking.Queue, notify Notifier, publicBaseURL string, log *zap.Logger) *API {
	return &API{royale: svc, queue: queue, notify: notify, publicBaseURL: publicBaseURL, log: log.Named("http")}
}

type createRoomRequest struct {
	Name        string `json:"name"`
	MaxPlayers  int    `json:"maxPlayers"`
	PairCount   int    `json:"pairCount"`
	SoftCapTime int    `json:"softCapTime"`
	HardCapTime *int   `json:"hardCapTime"`
	Password    string `json:"password"`
	Seed        string `json:"seed"`
	BorderColor string `json:"borderColor"`
}

func profileFor(r *http.Request, borderColor string) room.Profile {
	id := identityFrom(r.Context())
	return room.Profile{UserID: id.UserID, DisplayName: id.Username, AvatarURL: id.AvatarURL, BorderColor: borderColor}
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		fail(w, a.log, err)
		return
	}
	rm, err := a.royale.CreateRoom(r.Context(), profileFor(r, req.BorderColor), room.Settings{
		Name:           req.Name,
		MaxPlayers:     req.MaxPlayers,
		PairCount:      req.PairCount,
		SoftCapSeconds: req.SoftCapTime,
		HardCapSeconds: req.HardCapTime,
		Password:       req.Password,
		Seed:           req.Seed,
	}, "")
	if err != nil {
		fail(w, a.log, err)
		return
	}
	ok(w, http.StatusCreated, "Room created", types.Room(rm))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validationf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (a *API) ListRooms(w http.ResponseWriter, r *http.Request) {
	lo, err := queryInt(r, "minPlayers")
	if err != nil {
		fail(w, a.log, err)
		return
	}
	hi, err := queryInt(r, "maxPlayers")
	if err != nil {
		fail(w, a.log, err)
		return
	}
	rooms, err := a.royale.ListPublic(r.Context(), lo, hi)
	if err != nil {
		fail(w, a.log, err)
		return
	}
	ok(w, http.StatusOK, "", types.Rooms(rooms))
}

func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := a.royale.GetRoom(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		fail(w, a.log, err)
		return
	}
	ok(w, http.StatusOK, "", types.Room(rm))
}

func (a *API) GetRoomByCode(w http.ResponseWriter, r *http.Request) {
	rm, err := a.royale.GetRoomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, a.log, err)
		return
	}
	ok(w, http.StatusOK, "", types.Room(rm))
}

// RoomQR renders the invite link for a room code as a PNG.
func (a *API) RoomQR(w http.ResponseWriter, r *http.Request) {
	rm, err := a.royale.GetRoomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, a.log, err)
		return
	}
	png, err := qrcode.Encode(a.publicBaseURL+"/battle-royale/join/"+rm.Code, qrcode.Medium, qrSize)
	if err != nil {
		fail(w, a.log, apperr.Internal("encode qr code", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type joinRoomRequest struct {
	Password    string `json:"password"`
	BorderColor string `json:"borderColor"`
}

func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := decode(r, &req); err != nil {
		fail(w, a.log, err)
		return
	}
	rm, rejoined, err := a.royale.JoinRoom(r.Context(), chi.URLParam(r, "roomId"), profileFor(r, req.BorderColor), req.Password, "")
	if err != nil {
		fail(w, a.log, err)
		return
	}
	a.notify.RoomUpdated(rm)
	msg := "Joined room"
	if rejoined {
		msg = "Rejoined room"
	}
	ok(w, http.StatusOK, msg, types.Room(rm))
}

type readyRequest struct {
	Ready *bool `json:"ready"`
}

func (a *API) SetReady(w http.ResponseWriter, r *http.Request) {
	var req readyRequest
	if err := decode(r, &req); err != nil {
		fail(w, a.log, err)
		return
	}
	if req.Ready == nil {
		fail(w, a.log, apperr.Validationf("ready is required"))
		return
	}
	userID := identityFrom(r.Context()).UserID
	rm, err := a.royale.SetReady(r.Context(), chi.URLParam(r, "roomId"), userID, *req.Ready)
	if err != nil {
		fail(w, a.log, err)
		return
	}
	ready := false
	if p := rm.Player(userID); p != nil {
		ready = p.IsReady
	}
	a.notify.ReadyChanged(rm, userID, ready)
	ok(w, http.StatusOK, "", types.Room(rm))
}

type kickRequest struct {
	PlayerID string `json:"playerId"`
}

func (a *API) Kick(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := decode(r, &req); err != nil {
		fail(w, a.log, err)
		return
	}
	if req.PlayerID == "" {
		fail(w, a.log, apperr.Validationf("playerId is required"))
		return
	}
	roomID := chi.URLParam(r, "roomId")
	d, err := a.royale.Kick(r.Context(), roomID, identityFrom(r.Context()).UserID, req.PlayerID)
	if err != nil {
		fail(w, a.log, err)
		return
	}
	a.notify.PlayerRemoved(roomID, d, "kicked")
	ok(w, http.StatusOK, "Player kicked", types.Room(d.Room))
}

func (a *API) StartMatch(w http.ResponseWriter, r *http.Request) {
	rm, m, err := a.royale.StartMatch(r.Context(), chi.URLParam(r, "roomId"), identityFrom(r.Context()).UserID)
	if err != nil {
		fail(w, a.log, err)
		return
	}
	a.notify.MatchStarting(rm, m)
	ok(w, http.StatusOK, "Match starting", map[string]any{"room": types.Room(rm), "matchId": m.ID})
}

func (a *API) CloseRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := a.royale.CloseRoom(r.Context(), chi.URLParam(r, "roomId"), identityFrom(r.Context()).UserID)
	if err != nil {
		fail(w, a.log, err)
		return
	}
	a.notify.RoomClosed(rm)
	ok(w, http.StatusOK, "Room closed", nil)
}

func (a *API) Leaderboard(w http.ResponseWriter, r *http.Request) {
	m, standings, err := a.royale.Leaderboard(r.Context(), chi.URLParam(r, "matchId"))
	if err != nil {
		fail(w, a.log, err)
		return
	}
	ok(w, http.StatusOK, "", types.Leaderboard(m, standings))
}

func (a *API) QueuePeek(w http.ResponseWriter, r *http.Request) {
	ok(w, http.StatusOK, "", a.queue.Peek())
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
