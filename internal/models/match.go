// internal/models/match.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus tracks the race lifecycle. Status only moves forward
// (countdown -> playing -> finished); finished is also reachable straight
// from countdown when a match is aborted.
type MatchStatus string

const (
	MatchCountdown MatchStatus = "countdown"
	MatchPlaying   MatchStatus = "playing"
	MatchFinished  MatchStatus = "finished"
)

// EndReason records which termination trigger closed the match out.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndTimeout   EndReason = "timeout"
)

// MatchPlayer is one racer's authoritative progress record.
// CharsTyped and Errors are monotonic non-decreasing; FinishedAt is set at
// most once.
type MatchPlayer struct {
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

// Match is one timed race spawned from a lobby. Its player list is a snapshot
// of the lobby roster at spawn time; later roster changes do not affect it.
type Match struct {
	ID           uuid.UUID     `json:"id"`
	Code         string        `json:"code"` // originating lobby code
	Status       MatchStatus   `json:"status"`
	PromptText   string        `json:"promptText"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	DurationMs   int64         `json:"durationMs,omitempty"`
	Players      []MatchPlayer `json:"players"`
	WinnerUserID *uuid.UUID    `json:"winnerUserId,omitempty"`
	EndReason    EndReason     `json:"endReason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Player returns the progress record for userID, or nil if not a racer.
func (m *Match) Player(userID uuid.UUID) *MatchPlayer {
	for i := range m.Players {
		if m.Players[i].UserID == userID {
			return &m.Players[i]
		}
	}
	return nil
}

// AllFinished reports whether every racer has crossed the line.
func (m *Match) AllFinished() bool {
	if len(m.Players) == 0 {
		return false
	}
	for i := range m.Players {
		if !m.Players[i].Finished {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the match record.
func (m *Match) Clone() *Match {
	cp := *m
	cp.Players = make([]MatchPlayer, len(m.Players))
	copy(cp.Players, m.Players)
	if m.StartedAt != nil {
		t := *m.StartedAt
		cp.StartedAt = &t
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		cp.EndedAt = &t
	}
	if m.WinnerUserID != nil {
		id := *m.WinnerUserID
		cp.WinnerUserID = &id
	}
	for i := range m.Players {
		if m.Players[i].FinishedAt != nil {
			t := *m.Players[i].FinishedAt
			cp.Players[i].FinishedAt = &t
		}
	}
	return &cp
}
