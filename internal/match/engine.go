// internal/match/engine.go

// Package match runs the lifecycle of a race: countdown, play, finish. The
// engine owns every transition of a match record; lobby and transport code
// only ever call into it.
package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
	"github.com/agus-marmor/typeclash/internal/store"
)

// Event names emitted to match rooms.
const (
	EventCountdown = "match:countdown"
	EventStarted   = "match:started"
	EventProgress  = "match:progress"
	EventUpdate    = "match:update"
	EventFinished  = "match:finished"
)

const (
	// DefaultCountdownSecs mirrors the on-screen 3..2..1 before play begins.
	DefaultCountdownSecs = 3
	// DefaultTimeLimit is the hard ceiling on a race; the watchdog finalizes
	// any match still playing when it fires.
	DefaultTimeLimit = 120 * time.Second
)

// Broadcaster pushes an event to everyone subscribed to a match room. The
// websocket coordinator implements it; tests use a recording fake.
type Broadcaster interface {
	ToMatch(code, event string, payload interface{})
}

// CountdownPayload is the per-second tick sent during the countdown.
type CountdownPayload struct {
	Secs int `json:"secs"`
}

// StartedPayload announces the flip to playing.
type StartedPayload struct {
	MatchID   uuid.UUID `json:"matchId"`
	StartedAt time.Time `json:"startedAt"`
}

// ProgressPayload is the per-player delta broadcast on every accepted report.
type ProgressPayload struct {
	UserID     uuid.UUID `json:"userId"`
	CharsTyped int       `json:"charsTyped"`
	Errors     int       `json:"errors"`
	WPM        int       `json:"wpm"`
	Accuracy   int       `json:"accuracy"`
	Finished   bool      `json:"finished"`
}

// Engine drives matches through countdown -> playing -> finished. All state
// lives in the store; the engine only keeps its timers.
type Engine struct {
	store store.Store
	bc    Broadcaster
	log   *logrus.Logger

	countdownSecs int
	tick          time.Duration
	timeLimit     time.Duration
	now           func() time.Time

	// onFinished runs after a match is finalized, outside any store
	// transaction. Used to archive results and release the lobby.
	onFinished func(*models.Match)

	mu        sync.Mutex
	watchdogs map[string]*time.Timer
}

// Option tweaks engine behavior, mostly so tests can run on short clocks.
type Option func(*Engine)

// WithCountdown overrides the countdown length and tick interval.
func WithCountdown(secs int, tick time.Duration) Option {
	return func(e *Engine) {
		e.countdownSecs = secs
		e.tick = tick
	}
}

// WithTimeLimit overrides the hard match timeout.
func WithTimeLimit(d time.Duration) Option {
	return func(e *Engine) { e.timeLimit = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine over the given store and broadcaster.
func NewEngine(st store.Store, bc Broadcaster, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		bc:            bc,
		log:           log,
		countdownSecs: DefaultCountdownSecs,
		tick:          time.Second,
		timeLimit:     DefaultTimeLimit,
		now:           time.Now,
		watchdogs:     make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetFinishedHook registers the post-finalize callback. Must be called before
// the first match starts; it exists so the lobby service and leaderboard can
// hook in after construction.
func (e *Engine) SetFinishedHook(fn func(*models.Match)) {
	e.onFinished = fn
}

// StartCountdown kicks off the countdown sequence for a freshly created
// match. It returns immediately; ticks are emitted from a goroutine.
func (e *Engine) StartCountdown(code string) {
	go e.runCountdown(code)
}

func (e *Engine) runCountdown(code string) {
	for secs := e.countdownSecs; secs > 0; secs-- {
		e.bc.ToMatch(code, EventCountdown, CountdownPayload{Secs: secs})
		time.Sleep(e.tick)
	}
	e.bc.ToMatch(code, EventCountdown, CountdownPayload{Secs: 0})
	e.beginPlay(code)
}

// beginPlay flips countdown -> playing, stamps StartedAt, and arms the
// watchdog. A match that was finalized during the countdown (everyone left)
// makes this a no-op.
func (e *Engine) beginPlay(code string) {
	startedAt := e.now().UTC()
	m, err := e.store.UpdateMatch(context.Background(), code, func(m *models.Match) error {
		if m.Status != models.MatchCountdown {
			return store.ErrUnchanged
		}
		m.Status = models.MatchPlaying
		m.StartedAt = &startedAt
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) || errs.IsKind(err, errs.KindNotFound) {
		return
	}
	if err != nil {
		e.log.WithError(err).WithField("code", code).Error("match: failed to begin play")
		return
	}

	e.armWatchdog(code)
	e.bc.ToMatch(code, EventStarted, StartedPayload{MatchID: m.ID, StartedAt: startedAt})
	e.bc.ToMatch(code, EventUpdate, models.NewMatchSnapshot(m))

	e.log.WithFields(logrus.Fields{
		"code":     code,
		"match_id": m.ID,
	}).Info("match: started")
}

func (e *Engine) armWatchdog(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.watchdogs[code]; ok {
		t.Stop()
	}
	e.watchdogs[code] = time.AfterFunc(e.timeLimit, func() {
		if err := e.Finalize(context.Background(), code, models.EndTimeout); err != nil {
			e.log.WithError(err).WithField("code", code).Error("match: timeout finalize failed")
		}
	})
}

func (e *Engine) cancelWatchdog(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.watchdogs[code]; ok {
		t.Stop()
		delete(e.watchdogs, code)
	}
}

// ReportProgress folds a client progress report into the match and broadcasts
// the result. Reports for unknown matches, matches not in play, or users who
// are not racing are dropped silently: they are late or duplicate deliveries,
// not caller mistakes. When the report finishes the last unfinished player
// the match is finalized inline.
func (e *Engine) ReportProgress(ctx context.Context, code string, userID uuid.UUID, upd ProgressUpdate) error {
	var newlyFinished bool
	now := e.now().UTC()

	m, err := e.store.UpdateMatch(ctx, code, func(m *models.Match) error {
		if m.Status != models.MatchPlaying {
			return store.ErrUnchanged
		}
		p := m.Player(userID)
		if p == nil || p.Finished {
			return store.ErrUnchanged
		}
		newlyFinished = apply(m, p, upd, now)
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) || errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	p := m.Player(userID)
	e.bc.ToMatch(code, EventProgress, ProgressPayload{
		UserID:     p.UserID,
		CharsTyped: p.CharsTyped,
		Errors:     p.Errors,
		WPM:        p.WPM,
		Accuracy:   p.Accuracy,
		Finished:   p.Finished,
	})
	e.bc.ToMatch(code, EventUpdate, models.NewMatchSnapshot(m))

	if newlyFinished && m.AllFinished() {
		return e.Finalize(ctx, code, models.EndCompleted)
	}
	return nil
}

// RequestFinish marks the caller finished at their current position and
// returns their final record so the transport can acknowledge. Duplicate
// requests return the frozen record without re-running the finish.
func (e *Engine) RequestFinish(ctx context.Context, code string, userID uuid.UUID, upd ProgressUpdate) (*models.MatchPlayer, error) {
	upd.Finished = true
	if err := e.ReportProgress(ctx, code, userID, upd); err != nil {
		return nil, err
	}

	m, err := e.store.GetMatch(ctx, code)
	if err != nil {
		return nil, err
	}
	p := m.Player(userID)
	if p == nil {
		return nil, errs.New(errs.KindNotMember, "user is not in this match")
	}
	out := *p
	if out.FinishedAt != nil {
		at := *out.FinishedAt
		out.FinishedAt = &at
	}
	return &out, nil
}

// Finalize closes a match exactly once: stamps EndedAt and the end reason,
// resolves the winner, cancels the watchdog, and broadcasts the terminal
// snapshot. Safe to call from the watchdog, the last progress report, and
// room-empty handling concurrently; all but the first call are no-ops.
func (e *Engine) Finalize(ctx context.Context, code string, reason models.EndReason) error {
	endedAt := e.now().UTC()
	m, err := e.store.UpdateMatch(ctx, code, func(m *models.Match) error {
		if m.Status == models.MatchFinished {
			return store.ErrUnchanged
		}
		m.Status = models.MatchFinished
		m.EndedAt = &endedAt
		if m.StartedAt != nil {
			m.DurationMs = endedAt.Sub(*m.StartedAt).Milliseconds()
		}
		m.EndReason = reason
		m.WinnerUserID = Resolve(m.Players)
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) || errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	e.cancelWatchdog(code)
	e.bc.ToMatch(code, EventFinished, models.NewMatchSnapshot(m))

	fields := logrus.Fields{
		"code":     code,
		"match_id": m.ID,
		"reason":   reason,
	}
	if m.WinnerUserID != nil {
		fields["winner"] = *m.WinnerUserID
	}
	e.log.WithFields(fields).Info("match: finished")

	if e.onFinished != nil {
		e.onFinished(m)
	}
	return nil
}

// HandleEmptyRoom finalizes a match whose room has drained, so an abandoned
// race cannot sit in playing until process restart. Finished or missing
// matches are left alone.
func (e *Engine) HandleEmptyRoom(ctx context.Context, code string) {
	if err := e.Finalize(ctx, code, models.EndTimeout); err != nil {
		e.log.WithError(err).WithField("code", code).Error("match: empty-room finalize failed")
	}
}
