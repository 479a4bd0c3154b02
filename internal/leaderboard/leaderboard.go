// internal/leaderboard/leaderboard.go

// Package leaderboard keeps global best-WPM standings in redis and queues
// finished matches for offline archival. Redis is optional: when no client is
// configured the server simply runs without standings.
package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/agus-marmor/typeclash/internal/models"
)

const (
	keyBestWPM = "typeclash:leaderboard:wpm"
	keyNames   = "typeclash:leaderboard:names"
	keyArchive = "typeclash:matches:archive"

	recordTimeout = 5 * time.Second
)

// Entry is one leaderboard row.
type Entry struct {
	Rank     int       `json:"rank"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	BestWPM  int       `json:"bestWpm"`
}

// Service wraps the redis client used for standings and the archive queue.
type Service struct {
	rdb *redis.Client
	log *logrus.Logger
}

// New builds a leaderboard service over rdb.
func New(rdb *redis.Client, log *logrus.Logger) *Service {
	return &Service{rdb: rdb, log: log}
}

// RecordMatch folds a finished match into the standings and pushes the full
// record onto the archive queue. ZADD GT keeps only personal bests, so
// re-recording a match cannot lower anyone's score.
func (s *Service) RecordMatch(ctx context.Context, m *models.Match) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, p := range m.Players {
		if p.WPM <= 0 {
			continue
		}
		pipe.ZAddGT(ctx, keyBestWPM, redis.Z{Score: float64(p.WPM), Member: p.UserID.String()})
		pipe.HSet(ctx, keyNames, p.UserID.String(), p.Username)
	}
	pipe.RPush(ctx, keyArchive, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Top returns the n highest personal bests, best first.
func (s *Service) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}

	zs, err := s.rdb.ZRevRangeWithScores(ctx, keyBestWPM, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return []Entry{}, nil
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	names, err := s.rdb.HMGet(ctx, keyNames, ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		id, err := uuid.Parse(ids[i])
		if err != nil {
			continue
		}
		e := Entry{Rank: i + 1, UserID: id, BestWPM: int(z.Score)}
		if i < len(names) {
			if name, ok := names[i].(string); ok {
				e.Username = name
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ArchiveLen reports how many finished matches are waiting in the queue.
// A drain worker (out of process) consumes from the same key.
func (s *Service) ArchiveLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, keyArchive).Result()
}

// HandleMatchFinished is the engine hook adapter: record with a bounded
// timeout and log instead of failing the caller, since finalization must not
// depend on redis health.
func (s *Service) HandleMatchFinished(m *models.Match) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.RecordMatch(ctx, m); err != nil {
		s.log.WithError(err).WithField("match_id", m.ID).Error("leaderboard: record failed")
	}
}
