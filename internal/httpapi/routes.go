package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/auth"
)

// Deps are the pieces the router mounts.
type Deps struct {
	API            *API
	Auth           *auth.Authenticator
	Identities     auth.IdentityLookup
	OriginPatterns []string
	DuelSocket     http.Handler
	RoyaleSocket   http.Handler
	Log            *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))
	r.Use(cors(d.OriginPatterns))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/api/solo-duel/queue", d.API.QueuePeek)
	r.Method(http.MethodGet, "/ws/duel", d.DuelSocket)
	r.Method(http.MethodGet, "/ws/royale", d.RoyaleSocket)

	r.Route("/api/battle-royale", func(r chi.Router) {
		r.Use(authenticate(d.Auth, d.Identities, d.Log))

		r.Post("/rooms", d.API.CreateRoom)
		r.Get("/rooms", d.API.ListRooms)
		r.Get("/rooms/code/{code}", d.API.GetRoomByCode)
		r.Get("/rooms/code/{code}/qr", d.API.RoomQR)
		r.Route("/rooms/{roomId}", func(r chi.Router) {
			r.Get("/", d.API.GetRoom)
			r.Delete("/", d.API.CloseRoom)
			r.Post("/join", d.API.JoinRoom)
			r.Post("/ready", d.API.SetReady)
			r.Post("/kick", d.API.Kick)
			r.Post("/start", d.API.StartMatch)
		})
		r.Get("/matches/{matchId}/leaderboard", d.API.Leaderboard)
	})
	return r
}
