// internal/handlers/server.go

// Package handlers exposes the HTTP API and the websocket coordinator.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/leaderboard"
	"github.com/agus-marmor/typeclash/internal/lobby"
	"github.com/agus-marmor/typeclash/internal/match"
	"github.com/agus-marmor/typeclash/internal/store"
)

// Server bundles the services the HTTP handlers dispatch into.
type Server struct {
	Store       store.Store
	Auth        *auth.Service
	Lobbies     *lobby.Service
	Engine      *match.Engine
	Leaderboard *leaderboard.Service // nil when redis is not configured
	Coordinator *Coordinator
	Log         *logrus.Logger
}

// Routes builds the route table. Method-qualified patterns need Go 1.22+.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /user/create", s.handleCreateUser)
	mux.HandleFunc("POST /user/login", s.handleLogin)
	mux.HandleFunc("GET /user/me", s.withAuth(s.handleMe))

	mux.HandleFunc("POST /lobby", s.withAuth(s.handleCreateLobby))
	mux.HandleFunc("GET /lobby/{code}", s.withAuth(s.handleGetLobby))
	mux.HandleFunc("POST /lobby/{code}/join", s.withAuth(s.handleJoinLobby))
	mux.HandleFunc("POST /lobby/{code}/leave", s.withAuth(s.handleLeaveLobby))
	mux.HandleFunc("POST /lobby/{code}/ready", s.withAuth(s.handleReady(true)))
	mux.HandleFunc("POST /lobby/{code}/unready", s.withAuth(s.handleReady(false)))
	mux.HandleFunc("POST /lobby/{code}/start", s.withAuth(s.handleStartMatch))
	mux.HandleFunc("POST /lobby/{code}/kick", s.withAuth(s.handleKick))
	mux.HandleFunc("POST /lobby/{code}/heartbeat", s.withAuth(s.handleHeartbeat))

	mux.HandleFunc("GET /match/{code}", s.withAuth(s.handleGetMatch))

	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)

	if s.Coordinator != nil {
		mux.HandleFunc("GET /ws", s.Coordinator.Handler())
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authedHandler is an HTTP handler that has already passed authentication.
type authedHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

// withAuth verifies the caller's token (Authorization bearer or auth_token
// cookie) and passes the identity through.
func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, errs.New(errs.KindAuth, "missing credentials"))
			return
		}
		id, err := s.Auth.Verify(token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r, id)
	}
}

// bearerToken pulls the token from the Authorization header, the auth_token
// cookie, or the token query parameter (websocket clients cannot set
// headers), in that order.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	if c, err := r.Cookie("auth_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// writeError maps a typed error to its HTTP status and a stable JSON shape.
// Unknown errors are logged with their cause and surface as a bare internal
// error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := errs.Convert(err)
	if e.Kind == errs.KindInternal {
		s.Log.WithError(err).Error("internal error")
	}
	writeJSON(w, e.HTTPStatus(), errorBody{Error: errorDetail{Kind: e.Kind, Message: e.Message}})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.KindValidation, "invalid request payload", err)
	}
	return nil
}
