// internal/leaderboard/leaderboard_test.go
package leaderboard

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agus-marmor/typeclash/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(rdb, log)
}

func finishedMatch(players ...models.MatchPlayer) *models.Match {
	now := time.Now().UTC()
	return &models.Match{
		ID:        uuid.New(),
		Code:      "RACE1",
		Status:    models.MatchFinished,
		EndedAt:   &now,
		EndReason: models.EndCompleted,
		Players:   players,
	}
}

func TestRecordMatchAndTop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	fast, slow := uuid.New(), uuid.New()

	err := svc.RecordMatch(ctx, finishedMatch(
		models.MatchPlayer{UserID: fast, Username: "fast", WPM: 88},
		models.MatchPlayer{UserID: slow, Username: "slow", WPM: 41},
	))
	require.NoError(t, err)

	top, err := svc.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, Entry{Rank: 1, UserID: fast, Username: "fast", BestWPM: 88}, top[0])
	assert.Equal(t, Entry{Rank: 2, UserID: slow, Username: "slow", BestWPM: 41}, top[1])

	n, err := svc.ArchiveLen(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRecordMatchKeepsPersonalBest(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	racer := uuid.New()

	require.NoError(t, svc.RecordMatch(ctx, finishedMatch(
		models.MatchPlayer{UserID: racer, Username: "racer", WPM: 90},
	)))
	// A slower follow-up race must not lower the standing.
	require.NoError(t, svc.RecordMatch(ctx, finishedMatch(
		models.MatchPlayer{UserID: racer, Username: "racer", WPM: 55},
	)))

	top, err := svc.Top(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 90, top[0].BestWPM)

	n, err := svc.ArchiveLen(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRecordMatchSkipsZeroWPM(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordMatch(ctx, finishedMatch(
		models.MatchPlayer{UserID: uuid.New(), Username: "idle", WPM: 0},
	)))

	top, err := svc.Top(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestTopBounds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	top, err := svc.Top(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, top)

	top, err = svc.Top(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, top)
}
