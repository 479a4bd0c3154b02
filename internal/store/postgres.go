// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
)

// Postgres implements Store on a pgx pool. Lobby and match records are stored
// as JSONB documents keyed by code; UpdateLobby/UpdateMatch run the mutator
// inside a transaction holding the row lock (SELECT ... FOR UPDATE), so the
// read-mutate-write is a single conditional commit and concurrent joins or
// finalize triggers serialize on the row.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool for the given DSN and pings it.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() { s.pool.Close() }

// EnsureSchema creates the tables if they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS lobbies (
		code TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		expires_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS matches (
		code TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	q := `INSERT INTO users (id, email, username, password_hash, created_at) VALUES ($1, lower($2), $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, u.ID, u.Email, u.Username, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return errs.New(errs.KindConflict, "email already registered")
	}
	if err != nil {
		return errs.Internal(err)
	}
	return nil
}

func (s *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `SELECT id, email, username, password_hash, created_at FROM users WHERE id = $1`
	return s.scanUser(s.pool.QueryRow(ctx, q, id))
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT id, email, username, password_hash, created_at FROM users WHERE email = lower($1)`
	return s.scanUser(s.pool.QueryRow(ctx, q, email))
}

func (s *Postgres) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	return &u, nil
}

func (s *Postgres) CreateLobby(ctx context.Context, l *models.Lobby) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return errs.Internal(err)
	}
	q := `INSERT INTO lobbies (code, doc, expires_at) VALUES ($1, $2, $3)`
	_, err = s.pool.Exec(ctx, q, normCode(l.Code), doc, l.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.Newf(errs.KindConflict, "lobby code %s already in use", l.Code)
	}
	if err != nil {
		return errs.Internal(err)
	}
	return nil
}

func (s *Postgres) GetLobby(ctx context.Context, code string) (*models.Lobby, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM lobbies WHERE code = $1`, normCode(code)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "lobby not found")
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	var l models.Lobby
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, errs.Internal(err)
	}
	return &l, nil
}

func (s *Postgres) UpdateLobby(ctx context.Context, code string, mutate LobbyMutator) (*models.Lobby, error) {
	var out *models.Lobby
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM lobbies WHERE code = $1 FOR UPDATE`, normCode(code)).Scan(&doc)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.New(errs.KindNotFound, "lobby not found")
		}
		if err != nil {
			return errs.Internal(err)
		}

		var l models.Lobby
		if err := json.Unmarshal(doc, &l); err != nil {
			return errs.Internal(err)
		}
		if err := mutate(&l); err != nil {
			return err
		}

		next, err := json.Marshal(&l)
		if err != nil {
			return errs.Internal(err)
		}
		if _, err := tx.Exec(ctx, `UPDATE lobbies SET doc = $2, expires_at = $3 WHERE code = $1`,
			normCode(code), next, l.ExpiresAt); err != nil {
			return errs.Internal(err)
		}
		out = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) DeleteLobby(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM lobbies WHERE code = $1`, normCode(code)); err != nil {
		return errs.Internal(err)
	}
	return nil
}

func (s *Postgres) DeleteExpiredLobbies(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lobbies WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, errs.Internal(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) CreateMatch(ctx context.Context, m *models.Match) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return errs.Internal(err)
	}
	q := `INSERT INTO matches (code, doc) VALUES ($1, $2)
	      ON CONFLICT (code) DO UPDATE SET doc = EXCLUDED.doc`
	if _, err := s.pool.Exec(ctx, q, normCode(m.Code), doc); err != nil {
		return errs.Internal(err)
	}
	return nil
}

func (s *Postgres) GetMatch(ctx context.Context, code string) (*models.Match, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM matches WHERE code = $1`, normCode(code)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "match not found")
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	var m models.Match
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, errs.Internal(err)
	}
	return &m, nil
}

func (s *Postgres) UpdateMatch(ctx context.Context, code string, mutate MatchMutator) (*models.Match, error) {
	var out *models.Match
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM matches WHERE code = $1 FOR UPDATE`, normCode(code)).Scan(&doc)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.New(errs.KindNotFound, "match not found")
		}
		if err != nil {
			return errs.Internal(err)
		}

		var m models.Match
		if err := json.Unmarshal(doc, &m); err != nil {
			return errs.Internal(err)
		}
		if err := mutate(&m); err != nil {
			return err
		}

		next, err := json.Marshal(&m)
		if err != nil {
			return errs.Internal(err)
		}
		if _, err := tx.Exec(ctx, `UPDATE matches SET doc = $2 WHERE code = $1`, normCode(code), next); err != nil {
			return errs.Internal(err)
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) DeleteMatch(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE code = $1`, normCode(code)); err != nil {
		return errs.Internal(err)
	}
	return nil
}
