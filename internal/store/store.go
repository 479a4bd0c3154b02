// internal/store/store.go

// Package store persists lobby, match, and user records keyed by code.
//
// Every mutation of a lobby or match funnels through UpdateLobby/UpdateMatch:
// the store applies the given mutator atomically against the current record,
// and any error returned by the mutator aborts the write and surfaces to the
// caller unchanged. Precondition checks therefore live inside the mutators
// (status, capacity, membership) and a lost race is reported as the exact
// typed error the failed condition encodes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agus-marmor/typeclash/internal/models"
)

// ErrUnchanged is returned by a mutator to abort the update without any
// write. The store propagates it; callers treat it as a silent no-op, which
// is how late client events and stale timers are swallowed.
var ErrUnchanged = errors.New("store: record unchanged")

// LobbyMutator and MatchMutator mutate a record in place. They run with the
// record exclusively held (in-memory lock or row lock) and must not retain
// references past their return.
type (
	LobbyMutator func(*models.Lobby) error
	MatchMutator func(*models.Match) error
)

// Store is the persistence boundary for the match lifecycle engine.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Lobbies, keyed by join code. CreateLobby fails with KindConflict when
	// the code is taken, which createLobby's bounded retry loop relies on.
	CreateLobby(ctx context.Context, l *models.Lobby) error
	GetLobby(ctx context.Context, code string) (*models.Lobby, error)
	UpdateLobby(ctx context.Context, code string, mutate LobbyMutator) (*models.Lobby, error)
	DeleteLobby(ctx context.Context, code string) error

	// DeleteExpiredLobbies removes lobbies whose TTL has lapsed and returns
	// how many were swept.
	DeleteExpiredLobbies(ctx context.Context, now time.Time) (int, error)

	// Matches, keyed by originating lobby code (one live match per code).
	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, code string) (*models.Match, error)
	UpdateMatch(ctx context.Context, code string, mutate MatchMutator) (*models.Match, error)
	DeleteMatch(ctx context.Context, code string) error
}
