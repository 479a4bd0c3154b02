// internal/store/memory.go
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
)

// Memory is the in-process Store used by tests and single-node deployments
// without a database. A single mutex per entity map makes every
// UpdateLobby/UpdateMatch a serialized check-and-set; mutators run against a
// deep copy which is only published if the mutator succeeds, so a failed
// precondition never leaves partial state behind.
type Memory struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*models.User
	emails  map[string]uuid.UUID
	lobbies map[string]*models.Lobby
	matches map[string]*models.Match
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[uuid.UUID]*models.User),
		emails:  make(map[string]uuid.UUID),
		lobbies: make(map[string]*models.Lobby),
		matches: make(map[string]*models.Match),
	}
}

func normCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func (s *Memory) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := s.emails[key]; exists {
		return errs.New(errs.KindConflict, "email already registered")
	}
	cp := *u
	s.users[u.ID] = &cp
	s.emails[key] = u.ID
	return nil
}

func (s *Memory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Memory) CreateLobby(_ context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := normCode(l.Code)
	if _, exists := s.lobbies[code]; exists {
		return errs.Newf(errs.KindConflict, "lobby code %s already in use", code)
	}
	s.lobbies[code] = l.Clone()
	return nil
}

func (s *Memory) GetLobby(_ context.Context, code string) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lobbies[normCode(code)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "lobby not found")
	}
	return l.Clone(), nil
}

func (s *Memory) UpdateLobby(_ context.Context, code string, mutate LobbyMutator) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.lobbies[normCode(code)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "lobby not found")
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.lobbies[normCode(code)] = next
	return next.Clone(), nil
}

func (s *Memory) DeleteLobby(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lobbies, normCode(code))
	return nil
}

func (s *Memory) DeleteExpiredLobbies(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for code, l := range s.lobbies {
		if !l.ExpiresAt.IsZero() && l.ExpiresAt.Before(now) {
			delete(s.lobbies, code)
			n++
		}
	}
	return n, nil
}

func (s *Memory) CreateMatch(_ context.Context, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A new race replaces any previous finished one for the same code.
	s.matches[normCode(m.Code)] = m.Clone()
	return nil
}

func (s *Memory) GetMatch(_ context.Context, code string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[normCode(code)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "match not found")
	}
	return m.Clone(), nil
}

func (s *Memory) UpdateMatch(_ context.Context, code string, mutate MatchMutator) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.matches[normCode(code)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "match not found")
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.matches[normCode(code)] = next
	return next.Clone(), nil
}

func (s *Memory) DeleteMatch(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, normCode(code))
	return nil
}
