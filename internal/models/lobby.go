// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Character is one of the two mutually exclusive roles a racer plays as.
type Character string

const (
	CharacterMech  Character = "mech"
	CharacterKaiju Character = "kaiju"
)

// Valid reports whether c is one of the two known roles.
func (c Character) Valid() bool {
	return c == CharacterMech || c == CharacterKaiju
}

// Complement returns the opposing role. The joiner of a two-role lobby always
// receives the complement of the host's pick.
func (c Character) Complement() Character {
	if c == CharacterMech {
		return CharacterKaiju
	}
	return CharacterMech
}

// LobbyStatus tracks the lobby lifecycle. Status only moves forward.
type LobbyStatus string

const (
	LobbyOpen       LobbyStatus = "open"
	LobbyInProgress LobbyStatus = "in_progress"
	LobbyFinished   LobbyStatus = "finished"
)

// LobbyPlayer is one member of a lobby roster. Roster order is join order.
type LobbyPlayer struct {
	UserID     uuid.UUID `json:"userId"`
	Username   string    `json:"username"`
	Character  Character `json:"character"`
	Ready      bool      `json:"ready"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Lobby is the pre-match waiting room, keyed by a short join code.
//
// Invariants maintained by the lobby service:
//   - len(Players) <= MaxPlayers
//   - at most one roster entry per UserID
//   - HostUserID references a current roster member whenever the roster is
//     non-empty (host transfers to the earliest remaining joiner on leave)
type Lobby struct {
	Code           string        `json:"code"`
	HostUserID     uuid.UUID     `json:"hostUserId"`
	Status         LobbyStatus   `json:"status"`
	MaxPlayers     int           `json:"maxPlayers"`
	Players        []LobbyPlayer `json:"players"`
	CurrentMatchID uuid.UUID     `json:"currentMatchId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
}

// Player returns the roster entry for userID, or nil if not a member.
func (l *Lobby) Player(userID uuid.UUID) *LobbyPlayer {
	for i := range l.Players {
		if l.Players[i].UserID == userID {
			return &l.Players[i]
		}
	}
	return nil
}

// RemovePlayer pulls userID from the roster preserving join order. It returns
// false if the user was not a member.
func (l *Lobby) RemovePlayer(userID uuid.UUID) bool {
	for i := range l.Players {
		if l.Players[i].UserID == userID {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			return true
		}
	}
	return false
}

// AllReady reports whether every roster member has readied up.
func (l *Lobby) AllReady() bool {
	if len(l.Players) == 0 {
		return false
	}
	for i := range l.Players {
		if !l.Players[i].Ready {
			return false
		}
	}
	return true
}

// Clone returns a deep copy, so store callers can hand out lobbies without
// sharing the roster slice.
func (l *Lobby) Clone() *Lobby {
	cp := *l
	cp.Players = make([]LobbyPlayer, len(l.Players))
	copy(cp.Players, l.Players)
	return &cp
}
