// internal/handlers/lobby.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
)

type createLobbyRequest struct {
	Character models.Character `json:"character"`
}

type kickRequest struct {
	UserID uuid.UUID `json:"userId"`
}

func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req createLobbyRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}

	l, err := s.Lobbies.Create(r.Context(), id.UserID, id.Username, req.Character)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.NewLobbySnapshot(l))
}

func (s *Server) handleGetLobby(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	l, err := s.Lobbies.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewLobbySnapshot(l))
}

func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	l, err := s.Lobbies.Join(r.Context(), r.PathValue("code"), id.UserID, id.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewLobbySnapshot(l))
}

func (s *Server) handleLeaveLobby(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	l, err := s.Lobbies.Leave(r.Context(), r.PathValue("code"), id.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if l == nil {
		// The leaver was the last member; the lobby is gone.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, models.NewLobbySnapshot(l))
}

func (s *Server) handleReady(ready bool) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		l, err := s.Lobbies.SetReady(r.Context(), r.PathValue("code"), id.UserID, ready)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, models.NewLobbySnapshot(l))
	}
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	m, err := s.Lobbies.Start(r.Context(), r.PathValue("code"), id.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewMatchSnapshot(m))
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req kickRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.UserID == uuid.Nil {
		s.writeError(w, errs.New(errs.KindValidation, "userId is required"))
		return
	}

	l, err := s.Lobbies.Kick(r.Context(), r.PathValue("code"), id.UserID, req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewLobbySnapshot(l))
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := s.Lobbies.Heartbeat(r.Context(), r.PathValue("code"), id.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
