// internal/lobby/service_test.go
package lobby

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
	"github.com/agus-marmor/typeclash/internal/prompt"
	"github.com/agus-marmor/typeclash/internal/store"
)

type recordedEvent struct {
	Code    string
	Event   string
	Payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeBroadcaster) ToLobby(code, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Code: code, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Event == event {
			n++
		}
	}
	return n
}

type fakeStarter struct {
	mu    sync.Mutex
	codes []string
}

func (f *fakeStarter) StartCountdown(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.Memory, *fakeBroadcaster, *fakeStarter) {
	t.Helper()
	st := store.NewMemory()
	bc := &fakeBroadcaster{}
	starter := &fakeStarter{}
	svc := NewService(st, bc, starter, prompt.NewWordList(1), testLogger(), opts...)
	return svc, st, bc, starter
}

func mustCreate(t *testing.T, svc *Service, host uuid.UUID) *models.Lobby {
	t.Helper()
	l, err := svc.Create(context.Background(), host, "host", models.CharacterMech)
	require.NoError(t, err)
	return l
}

func TestCreateLobby(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	host := uuid.New()

	l, err := svc.Create(context.Background(), host, "host", "")
	require.NoError(t, err)

	assert.Len(t, l.Code, codeLength)
	assert.Equal(t, models.LobbyOpen, l.Status)
	assert.Equal(t, host, l.HostUserID)
	require.Len(t, l.Players, 1)
	// Unspecified character defaults to mech.
	assert.Equal(t, models.CharacterMech, l.Players[0].Character)
	assert.False(t, l.Players[0].Ready)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), l.ExpiresAt, time.Minute)
}

func TestCreateRejectsUnknownCharacter(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), uuid.New(), "host", "dragon")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestCreateExhaustsCodes(t *testing.T) {
	svc, _, _, _ := newTestService(t, WithCodeFunc(func() string { return "SAMEC" }))

	_, err := svc.Create(context.Background(), uuid.New(), "first", models.CharacterMech)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), uuid.New(), "second", models.CharacterMech)
	assert.True(t, errs.IsKind(err, errs.KindCodeExhausted))
}

func TestJoinAssignsComplementAndRefreshesTTL(t *testing.T) {
	svc, _, bc, _ := newTestService(t, WithTTL(time.Hour))
	host := uuid.New()
	l := mustCreate(t, svc, host)

	joiner := uuid.New()
	got, err := svc.Join(context.Background(), l.Code, joiner, "challenger")
	require.NoError(t, err)

	require.Len(t, got.Players, 2)
	assert.Equal(t, models.CharacterKaiju, got.Players[1].Character)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.ExpiresAt, time.Minute)
	assert.Equal(t, 1, bc.count(EventUpdate))
	assert.Equal(t, 1, bc.count(EventPresence))
}

func TestJoinRejections(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	host := uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()

	_, err := svc.Join(ctx, l.Code, host, "host")
	assert.True(t, errs.IsKind(err, errs.KindAlreadyMember))

	_, err = svc.Join(ctx, "ZZZZZ", uuid.New(), "lost")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	_, err = svc.Join(ctx, l.Code, uuid.New(), "second")
	require.NoError(t, err)
	_, err = svc.Join(ctx, l.Code, uuid.New(), "third")
	assert.True(t, errs.IsKind(err, errs.KindFull))

	_, err = st.UpdateLobby(ctx, l.Code, func(l *models.Lobby) error {
		l.Status = models.LobbyInProgress
		return nil
	})
	require.NoError(t, err)
	_, err = svc.Join(ctx, l.Code, uuid.New(), "late")
	assert.True(t, errs.IsKind(err, errs.KindClosed))
}

func TestConcurrentJoinAdmitsExactlyOne(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	l := mustCreate(t, svc, uuid.New())

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Join(context.Background(), l.Code, uuid.New(), "racer")
		}(i)
	}
	wg.Wait()

	var ok, full int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errs.IsKind(err, errs.KindFull):
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
}

func TestSetReadyIdempotent(t *testing.T) {
	svc, _, bc, _ := newTestService(t)
	host := uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()

	got, err := svc.SetReady(ctx, l.Code, host, true)
	require.NoError(t, err)
	assert.True(t, got.Players[0].Ready)
	updates := bc.count(EventUpdate)

	// Repeating the same ready state acks without broadcasting.
	got, err = svc.SetReady(ctx, l.Code, host, true)
	require.NoError(t, err)
	assert.True(t, got.Players[0].Ready)
	assert.Equal(t, updates, bc.count(EventUpdate))

	_, err = svc.SetReady(ctx, l.Code, uuid.New(), true)
	assert.True(t, errs.IsKind(err, errs.KindNotMember))
}

func TestHeartbeatStampsLastSeen(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc, st, _, _ := newTestService(t, WithClock(func() time.Time { return clock }))
	host := uuid.New()
	l := mustCreate(t, svc, host)

	clock = base.Add(30 * time.Second)
	require.NoError(t, svc.Heartbeat(context.Background(), l.Code, host))

	got, err := st.GetLobby(context.Background(), l.Code)
	require.NoError(t, err)
	assert.Equal(t, clock, got.Players[0].LastSeenAt)
	// Heartbeats never evict anyone.
	assert.Len(t, got.Players, 1)
}

func TestLeaveTransfersHost(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	host, joiner := uuid.New(), uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()

	_, err := svc.Join(ctx, l.Code, joiner, "challenger")
	require.NoError(t, err)

	got, err := svc.Leave(ctx, l.Code, host)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, joiner, got.HostUserID)
	require.Len(t, got.Players, 1)
}

func TestLeaveLastPlayerDeletesLobby(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	host := uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()

	got, err := svc.Leave(ctx, l.Code, host)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = st.GetLobby(ctx, l.Code)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestKick(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	host, joiner := uuid.New(), uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()

	_, err := svc.Join(ctx, l.Code, joiner, "challenger")
	require.NoError(t, err)

	_, err = svc.Kick(ctx, l.Code, joiner, host)
	assert.True(t, errs.IsKind(err, errs.KindForbidden))

	_, err = svc.Kick(ctx, l.Code, host, host)
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	got, err := svc.Kick(ctx, l.Code, host, joiner)
	require.NoError(t, err)
	require.Len(t, got.Players, 1)
	assert.Equal(t, host, got.HostUserID)
}

func readyLobby(t *testing.T, svc *Service) (*models.Lobby, uuid.UUID, uuid.UUID) {
	t.Helper()
	host, joiner := uuid.New(), uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()
	_, err := svc.Join(ctx, l.Code, joiner, "challenger")
	require.NoError(t, err)
	_, err = svc.SetReady(ctx, l.Code, host, true)
	require.NoError(t, err)
	_, err = svc.SetReady(ctx, l.Code, joiner, true)
	require.NoError(t, err)
	return l, host, joiner
}

func TestStartSpawnsMatch(t *testing.T) {
	svc, st, bc, starter := newTestService(t)
	l, host, joiner := readyLobby(t, svc)
	ctx := context.Background()

	m, err := svc.Start(ctx, l.Code, host)
	require.NoError(t, err)

	assert.Equal(t, models.MatchCountdown, m.Status)
	assert.Equal(t, l.Code, m.Code)
	assert.NotEmpty(t, m.PromptText)
	require.Len(t, m.Players, 2)
	assert.Equal(t, host, m.Players[0].UserID)
	assert.Equal(t, joiner, m.Players[1].UserID)
	assert.Equal(t, 100, m.Players[0].Accuracy)

	got, err := st.GetLobby(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyInProgress, got.Status)
	assert.Equal(t, m.ID, got.CurrentMatchID)

	assert.Equal(t, []string{l.Code}, starter.codes)
	assert.Equal(t, 1, bc.count(EventMatchCreated))
}

func TestStartDuplicateReturnsActiveMatch(t *testing.T) {
	svc, _, _, starter := newTestService(t)
	l, host, _ := readyLobby(t, svc)
	ctx := context.Background()

	first, err := svc.Start(ctx, l.Code, host)
	require.NoError(t, err)

	second, err := svc.Start(ctx, l.Code, host)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	// The countdown was only kicked off once.
	assert.Len(t, starter.codes, 1)
}

// flakyMatchStore fails CreateMatch a set number of times before delegating.
type flakyMatchStore struct {
	store.Store
	failures int
}

func (f *flakyMatchStore) CreateMatch(ctx context.Context, m *models.Match) error {
	if f.failures > 0 {
		f.failures--
		return errs.New(errs.KindInternal, "match store unavailable")
	}
	return f.Store.CreateMatch(ctx, m)
}

func TestStartRollsBackWhenMatchCreateFails(t *testing.T) {
	st := &flakyMatchStore{Store: store.NewMemory(), failures: 1}
	bc := &fakeBroadcaster{}
	starter := &fakeStarter{}
	svc := NewService(st, bc, starter, prompt.NewWordList(1), testLogger())
	l, host, _ := readyLobby(t, svc)
	ctx := context.Background()

	_, err := svc.Start(ctx, l.Code, host)
	require.Error(t, err)

	// The lobby is reopened with its match pointer cleared, and no countdown
	// ever started.
	got, err := st.GetLobby(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyOpen, got.Status)
	assert.Equal(t, uuid.Nil, got.CurrentMatchID)
	assert.Empty(t, starter.codes)
	assert.Equal(t, 0, bc.count(EventMatchCreated))

	// The host can retry once the store recovers.
	m, err := svc.Start(ctx, l.Code, host)
	require.NoError(t, err)

	got, err = st.GetLobby(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyInProgress, got.Status)
	assert.Equal(t, m.ID, got.CurrentMatchID)
	assert.Equal(t, []string{l.Code}, starter.codes)
}

func TestStartPreconditions(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	host, joiner := uuid.New(), uuid.New()
	l := mustCreate(t, svc, host)
	ctx := context.Background()

	_, err := svc.Start(ctx, l.Code, host)
	assert.True(t, errs.IsKind(err, errs.KindInsufficientPlayers))

	_, err = svc.Join(ctx, l.Code, joiner, "challenger")
	require.NoError(t, err)

	_, err = svc.Start(ctx, l.Code, host)
	assert.True(t, errs.IsKind(err, errs.KindNotAllReady))

	_, err = svc.SetReady(ctx, l.Code, host, true)
	require.NoError(t, err)
	_, err = svc.SetReady(ctx, l.Code, joiner, true)
	require.NoError(t, err)

	_, err = svc.Start(ctx, l.Code, joiner)
	assert.True(t, errs.IsKind(err, errs.KindForbidden))
}

func TestHandleMatchFinishedClosesLobby(t *testing.T) {
	svc, st, bc, _ := newTestService(t)
	l, host, _ := readyLobby(t, svc)
	ctx := context.Background()

	m, err := svc.Start(ctx, l.Code, host)
	require.NoError(t, err)

	updates := bc.count(EventUpdate)
	svc.HandleMatchFinished(m)
	svc.HandleMatchFinished(m) // idempotent

	got, err := st.GetLobby(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyFinished, got.Status)
	assert.Equal(t, updates+1, bc.count(EventUpdate))
}

func TestSweepDeletesExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc, st, _, _ := newTestService(t, WithClock(func() time.Time { return clock }), WithTTL(time.Minute))
	l := mustCreate(t, svc, uuid.New())

	clock = base.Add(2 * time.Minute)
	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetLobby(context.Background(), l.Code)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
