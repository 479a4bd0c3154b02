// internal/handlers/leaderboard.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/agus-marmor/typeclash/internal/leaderboard"
)

const (
	defaultLeaderboardSize = 20
	maxLeaderboardSize     = 100
)

// handleLeaderboard returns the global best-WPM standings. When redis is not
// configured the board is simply empty.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.Leaderboard == nil {
		writeJSON(w, http.StatusOK, []leaderboard.Entry{})
		return
	}

	n := defaultLeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	if n > maxLeaderboardSize {
		n = maxLeaderboardSize
	}

	entries, err := s.Leaderboard.Top(r.Context(), n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
