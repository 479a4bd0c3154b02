// internal/lobby/service.go

// Package lobby manages the pre-match waiting room: code generation, the
// join/ready/leave roster, host privileges, and the handoff into a match.
package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
	"github.com/agus-marmor/typeclash/internal/prompt"
	"github.com/agus-marmor/typeclash/internal/store"
)

// Event names emitted to lobby rooms.
const (
	EventUpdate       = "lobby:update"
	EventPresence     = "lobby:presence"
	EventMatchCreated = "match:created"
	EventChat         = "lobby:chat"
)

const (
	// codeAlphabet drops 0/O/1/I so codes survive being read aloud.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 5
	codeAttempts = 5

	// DefaultTTL is how long an idle lobby survives; joining refreshes it.
	DefaultTTL = 2 * time.Hour

	// DefaultMaxPlayers: one mech, one kaiju.
	DefaultMaxPlayers = 2

	minPlayersToStart = 2
)

// Broadcaster pushes an event to everyone subscribed to a lobby room.
type Broadcaster interface {
	ToLobby(code, event string, payload interface{})
}

// MatchStarter is the slice of the match engine the lobby service needs.
type MatchStarter interface {
	StartCountdown(code string)
}

// PresencePayload announces a roster membership change.
type PresencePayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Event    string    `json:"event"` // joined | left | kicked
}

// MatchCreatedPayload tells lobby subscribers to move to the match room.
type MatchCreatedPayload struct {
	MatchID uuid.UUID `json:"matchId"`
	Code    string    `json:"code"`
}

// errAlreadyStarted signals a start request that lost the race to a previous
// one; the caller resolves it by returning the active match.
var errAlreadyStarted = errors.New("lobby: match already started")

// Service owns every lobby transition. All writes go through the store's
// atomic mutators, so capacity, membership, and status checks cannot race.
type Service struct {
	store   store.Store
	bc      Broadcaster
	engine  MatchStarter
	prompts prompt.Provider
	log     *logrus.Logger

	ttl         time.Duration
	maxPlayers  int
	promptWords int
	now         func() time.Time
	codeFn      func() string
}

// Option tweaks service behavior; tests use these to pin codes and clocks.
type Option func(*Service)

// WithTTL overrides the lobby idle TTL.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeFunc overrides join-code generation.
func WithCodeFunc(fn func() string) Option {
	return func(s *Service) { s.codeFn = fn }
}

// WithPromptWords overrides the prompt length for spawned matches.
func WithPromptWords(n int) Option {
	return func(s *Service) { s.promptWords = n }
}

// NewService wires a lobby service.
func NewService(st store.Store, bc Broadcaster, engine MatchStarter, prompts prompt.Provider, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:       st,
		bc:          bc,
		engine:      engine,
		prompts:     prompts,
		log:         log,
		ttl:         DefaultTTL,
		maxPlayers:  DefaultMaxPlayers,
		promptWords: prompt.DefaultWordCount,
		now:         time.Now,
		codeFn:      GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode returns a random 5-character join code. The alphabet length
// divides 256, so the byte fold introduces no bias.
func GenerateCode() string {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in real trouble; fall
		// back to something unique rather than crash the request.
		return uuid.NewString()[:codeLength]
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// Create opens a lobby with the caller as host. Code collisions are retried a
// bounded number of times before giving up with KindCodeExhausted.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, username string, character models.Character) (*models.Lobby, error) {
	if character == "" {
		character = models.CharacterMech
	}
	if !character.Valid() {
		return nil, errs.Newf(errs.KindValidation, "unknown character %q", character)
	}

	now := s.now().UTC()
	for i := 0; i < codeAttempts; i++ {
		l := &models.Lobby{
			Code:       s.codeFn(),
			HostUserID: userID,
			Status:     models.LobbyOpen,
			MaxPlayers: s.maxPlayers,
			Players: []models.LobbyPlayer{{
				UserID:     userID,
				Username:   username,
				Character:  character,
				JoinedAt:   now,
				LastSeenAt: now,
			}},
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		err := s.store.CreateLobby(ctx, l)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"code": l.Code,
				"host": userID,
			}).Info("lobby: created")
			return l, nil
		}
		if !errs.IsKind(err, errs.KindConflict) {
			return nil, err
		}
	}
	return nil, errs.Newf(errs.KindCodeExhausted, "could not generate a unique lobby code in %d attempts", codeAttempts)
}

// Get returns the lobby for code.
func (s *Service) Get(ctx context.Context, code string) (*models.Lobby, error) {
	return s.store.GetLobby(ctx, code)
}

// Join adds the caller to an open lobby. The joiner is assigned the
// complement of the host's character and the lobby TTL is refreshed.
// Capacity, status, and membership are all checked under the same atomic
// update, so two concurrent joins for the last slot admit exactly one.
func (s *Service) Join(ctx context.Context, code string, userID uuid.UUID, username string) (*models.Lobby, error) {
	now := s.now().UTC()
	l, err := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
		if l.Status != models.LobbyOpen {
			return errs.New(errs.KindClosed, "lobby is not accepting players")
		}
		if l.Player(userID) != nil {
			return errs.New(errs.KindAlreadyMember, "already in this lobby")
		}
		if len(l.Players) >= l.MaxPlayers {
			return errs.New(errs.KindFull, "lobby is full")
		}

		character := models.CharacterKaiju
		if host := l.Player(l.HostUserID); host != nil {
			character = host.Character.Complement()
		}
		l.Players = append(l.Players, models.LobbyPlayer{
			UserID:     userID,
			Username:   username,
			Character:  character,
			JoinedAt:   now,
			LastSeenAt: now,
		})
		l.ExpiresAt = now.Add(s.ttl)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bc.ToLobby(code, EventPresence, PresencePayload{UserID: userID, Username: username, Event: "joined"})
	s.bc.ToLobby(code, EventUpdate, models.NewLobbySnapshot(l))
	return l, nil
}

// SetReady flips the caller's ready flag. Setting the flag to its current
// value is an ack without a broadcast.
func (s *Service) SetReady(ctx context.Context, code string, userID uuid.UUID, ready bool) (*models.Lobby, error) {
	l, err := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
		if l.Status != models.LobbyOpen {
			return errs.New(errs.KindClosed, "lobby is not accepting ready changes")
		}
		p := l.Player(userID)
		if p == nil {
			return errs.New(errs.KindNotMember, "not in this lobby")
		}
		if p.Ready == ready {
			return store.ErrUnchanged
		}
		p.Ready = ready
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		return s.store.GetLobby(ctx, code)
	}
	if err != nil {
		return nil, err
	}

	s.bc.ToLobby(code, EventUpdate, models.NewLobbySnapshot(l))
	return l, nil
}

// Heartbeat stamps the caller's LastSeenAt. It never evicts; liveness is
// advisory and shown to the other player, disconnect handling is the
// coordinator's job.
func (s *Service) Heartbeat(ctx context.Context, code string, userID uuid.UUID) error {
	now := s.now().UTC()
	_, err := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
		p := l.Player(userID)
		if p == nil {
			return errs.New(errs.KindNotMember, "not in this lobby")
		}
		p.LastSeenAt = now
		return nil
	})
	return err
}

// Leave removes the caller from the lobby. If the host leaves, the earliest
// remaining joiner inherits the host seat; an emptied lobby is deleted.
// Returns the post-leave lobby, or nil if the lobby was deleted.
func (s *Service) Leave(ctx context.Context, code string, userID uuid.UUID) (*models.Lobby, error) {
	var username string
	l, err := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
		p := l.Player(userID)
		if p == nil {
			return errs.New(errs.KindNotMember, "not in this lobby")
		}
		username = p.Username
		l.RemovePlayer(userID)
		if l.HostUserID == userID && len(l.Players) > 0 {
			l.HostUserID = l.Players[0].UserID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(l.Players) == 0 {
		if err := s.store.DeleteLobby(ctx, code); err != nil && !errs.IsKind(err, errs.KindNotFound) {
			s.log.WithError(err).WithField("code", code).Error("lobby: delete after last leave failed")
		}
		s.log.WithField("code", code).Info("lobby: deleted (empty)")
		return nil, nil
	}

	s.bc.ToLobby(code, EventPresence, PresencePayload{UserID: userID, Username: username, Event: "left"})
	s.bc.ToLobby(code, EventUpdate, models.NewLobbySnapshot(l))
	return l, nil
}

// Kick removes targetID from the lobby. Host only, and the host cannot kick
// themselves (that is a leave).
func (s *Service) Kick(ctx context.Context, code string, hostID, targetID uuid.UUID) (*models.Lobby, error) {
	var username string
	l, err := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
		if l.Status != models.LobbyOpen {
			return errs.New(errs.KindClosed, "lobby is not open")
		}
		if l.HostUserID != hostID {
			return errs.New(errs.KindForbidden, "only the host can kick")
		}
		if hostID == targetID {
			return errs.New(errs.KindValidation, "host cannot kick themselves")
		}
		p := l.Player(targetID)
		if p == nil {
			return errs.New(errs.KindNotMember, "target is not in this lobby")
		}
		username = p.Username
		l.RemovePlayer(targetID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bc.ToLobby(code, EventPresence, PresencePayload{UserID: targetID, Username: username, Event: "kicked"})
	s.bc.ToLobby(code, EventUpdate, models.NewLobbySnapshot(l))
	return l, nil
}

// Start flips an open lobby to in_progress and spawns its match: the roster
// is snapshotted into the match record, the countdown begins, and the match
// is announced to the lobby room. Host only, at least two players, everyone
// ready. A duplicate start request returns the already-running match instead
// of failing, so a client retry after a dropped response is harmless.
func (s *Service) Start(ctx context.Context, code string, hostID uuid.UUID) (*models.Match, error) {
	matchID := uuid.New()
	now := s.now().UTC()

	var roster []models.LobbyPlayer
	l, err := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
		if l.Status == models.LobbyInProgress {
			return errAlreadyStarted
		}
		if l.Status != models.LobbyOpen {
			return errs.New(errs.KindClosed, "lobby is finished")
		}
		if l.HostUserID != hostID {
			return errs.New(errs.KindForbidden, "only the host can start the match")
		}
		if len(l.Players) < minPlayersToStart {
			return errs.Newf(errs.KindInsufficientPlayers, "need at least %d players", minPlayersToStart)
		}
		if !l.AllReady() {
			return errs.New(errs.KindNotAllReady, "everyone must be ready")
		}
		l.Status = models.LobbyInProgress
		l.CurrentMatchID = matchID
		roster = append(roster[:0], l.Players...)
		return nil
	})
	if errors.Is(err, errAlreadyStarted) {
		return s.store.GetMatch(ctx, code)
	}
	if err != nil {
		return nil, err
	}

	m := &models.Match{
		ID:         matchID,
		Code:       l.Code,
		Status:     models.MatchCountdown,
		PromptText: s.prompts.GetPrompt(s.promptWords),
		CreatedAt:  now,
	}
	for _, p := range roster {
		m.Players = append(m.Players, models.MatchPlayer{
			UserID:    p.UserID,
			Username:  p.Username,
			Character: p.Character,
			Accuracy:  100,
		})
	}

	if err := s.store.CreateMatch(ctx, m); err != nil {
		// Roll the lobby back so the host can retry instead of stranding
		// everyone in a matchless in_progress lobby.
		if _, rbErr := s.store.UpdateLobby(ctx, code, func(l *models.Lobby) error {
			if l.CurrentMatchID != matchID {
				return store.ErrUnchanged
			}
			l.Status = models.LobbyOpen
			l.CurrentMatchID = uuid.Nil
			return nil
		}); rbErr != nil && !errors.Is(rbErr, store.ErrUnchanged) {
			s.log.WithError(rbErr).WithField("code", code).Error("lobby: start rollback failed")
		}
		return nil, err
	}

	s.bc.ToLobby(code, EventUpdate, models.NewLobbySnapshot(l))
	s.bc.ToLobby(code, EventMatchCreated, MatchCreatedPayload{MatchID: matchID, Code: l.Code})
	s.engine.StartCountdown(l.Code)

	s.log.WithFields(logrus.Fields{
		"code":     l.Code,
		"match_id": matchID,
		"players":  len(m.Players),
	}).Info("lobby: match started")
	return m, nil
}

// HandleMatchFinished closes the lobby out once its match ends. Wired as the
// engine's finished hook.
func (s *Service) HandleMatchFinished(m *models.Match) {
	l, err := s.store.UpdateLobby(context.Background(), m.Code, func(l *models.Lobby) error {
		if l.Status == models.LobbyFinished {
			return store.ErrUnchanged
		}
		l.Status = models.LobbyFinished
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) || errs.IsKind(err, errs.KindNotFound) {
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("code", m.Code).Error("lobby: close after match failed")
		return
	}
	s.bc.ToLobby(m.Code, EventUpdate, models.NewLobbySnapshot(l))
}

// Sweep deletes lobbies past their TTL. Run periodically from main.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.store.DeleteExpiredLobbies(ctx, s.now().UTC())
}
