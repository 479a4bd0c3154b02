// internal/handlers/match.go
package handlers

import (
	"net/http"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
)

// handleGetMatch returns the current match for a lobby code, participants
// only. Clients use it to fetch the prompt and to recover state after a
// reconnect.
func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	m, err := s.Store.GetMatch(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if m.Player(id.UserID) == nil {
		s.writeError(w, errs.New(errs.KindForbidden, "not a participant of this match"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewMatchSnapshot(m))
}
