// internal/models/snapshot.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Snapshots are the wire-format views broadcast to room subscribers. They are
// distinct types from the mutable records so handlers never leak internal
// state by accident; every broadcast goes through one of the two converters
// below.

// LobbyPlayerSnapshot mirrors LobbyPlayer for the wire.
type LobbyPlayerSnapshot struct {
	UserID     uuid.UUID `json:"userId"`
	Username   string    `json:"username"`
	Character  Character `json:"character"`
	Ready      bool      `json:"ready"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// LobbyCapacity is the current/max player count pair.
type LobbyCapacity struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// LobbySnapshot is the full lobby view sent on every roster change.
type LobbySnapshot struct {
	Code           string                `json:"code"`
	Status         LobbyStatus           `json:"status"`
	HostUserID     uuid.UUID             `json:"hostUserId"`
	Players        []LobbyPlayerSnapshot `json:"players"`
	Capacity       LobbyCapacity         `json:"capacity"`
	AllReady       bool                  `json:"allReady"`
	CanStart       bool                  `json:"canStart"`
	CurrentMatchID uuid.UUID             `json:"currentMatchId,omitempty"`
	ServerTime     time.Time             `json:"serverTime"`
}

// NewLobbySnapshot converts a lobby record into its wire view.
func NewLobbySnapshot(l *Lobby) LobbySnapshot {
	players := make([]LobbyPlayerSnapshot, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, LobbyPlayerSnapshot{
			UserID:     p.UserID,
			Username:   p.Username,
			Character:  p.Character,
			Ready:      p.Ready,
			JoinedAt:   p.JoinedAt,
			LastSeenAt: p.LastSeenAt,
		})
	}

	allReady := l.AllReady()
	return LobbySnapshot{
		Code:           l.Code,
		Status:         l.Status,
		HostUserID:     l.HostUserID,
		Players:        players,
		Capacity:       LobbyCapacity{Current: len(players), Max: l.MaxPlayers},
		AllReady:       allReady,
		CanStart:       l.Status == LobbyOpen && len(players) >= 2 && allReady,
		CurrentMatchID: l.CurrentMatchID,
		ServerTime:     time.Now().UTC(),
	}
}

// MatchPlayerSnapshot mirrors MatchPlayer for the wire.
type MatchPlayerSnapshot struct {
	UserID     uuid.UUID  `json:"userId"`
	Username   string     `json:"username"`
	Character  Character  `json:"character"`
	WPM        int        `json:"wpm"`
	Accuracy   int        `json:"accuracy"`
	CharsTyped int        `json:"charsTyped"`
	Errors     int        `json:"errors"`
	Finished   bool       `json:"finished"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// MatchSnapshot is the full match view. The terminal match:finished broadcast
// carries the same shape with WinnerUserID and EndReason populated.
type MatchSnapshot struct {
	ID           uuid.UUID             `json:"id"`
	Code         string                `json:"code"`
	Status       MatchStatus           `json:"status"`
	PromptText   string                `json:"promptText"`
	StartedAt    *time.Time            `json:"startedAt,omitempty"`
	EndedAt      *time.Time            `json:"endedAt,omitempty"`
	DurationMs   int64                 `json:"durationMs,omitempty"`
	WinnerUserID *uuid.UUID            `json:"winnerUserId,omitempty"`
	EndReason    EndReason             `json:"endReason,omitempty"`
	Players      []MatchPlayerSnapshot `json:"players"`
}

// NewMatchSnapshot converts a match record into its wire view.
func NewMatchSnapshot(m *Match) MatchSnapshot {
	players := make([]MatchPlayerSnapshot, 0, len(m.Players))
	for _, p := range m.Players {
		players = append(players, MatchPlayerSnapshot{
			UserID:     p.UserID,
			Username:   p.Username,
			Character:  p.Character,
			WPM:        p.WPM,
			Accuracy:   p.Accuracy,
			CharsTyped: p.CharsTyped,
			Errors:     p.Errors,
			Finished:   p.Finished,
			FinishedAt: p.FinishedAt,
		})
	}

	return MatchSnapshot{
		ID:           m.ID,
		Code:         m.Code,
		Status:       m.Status,
		PromptText:   m.PromptText,
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
		DurationMs:   m.DurationMs,
		WinnerUserID: m.WinnerUserID,
		EndReason:    m.EndReason,
		Players:      players,
	}
}
