// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/panenka/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS lobbies (
	code TEXT PRIMARY KEY,
	host_id TEXT NOT NULL,
	host_name TEXT NOT NULL,
	host_token TEXT NOT NULL,
	created_at DOUBLE PRECISION NOT NULL,
	updated_at DOUBLE PRECISION NOT NULL,
	host_seen DOUBLE PRECISION NOT NULL,
	locked BOOLEAN NOT NULL,
	auto_locked BOOLEAN NOT NULL DEFAULT FALSE,
	buzz_order TEXT NOT NULL,
	question_value INTEGER NOT NULL DEFAULT 0,
	active_player_id TEXT
);
CREATE TABLE IF NOT EXISTS players (
	id TEXT PRIMARY KEY,
	lobby_code TEXT NOT NULL REFERENCES lobbies(code) ON DELETE CASCADE,
	name TEXT NOT NULL,
	joined_at DOUBLE PRECISION NOT NULL,
	last_seen DOUBLE PRECISION NOT NULL,
	buzzed_at DOUBLE PRECISION,
	score INTEGER NOT NULL DEFAULT 0
);
ALTER TABLE lobbies ADD COLUMN IF NOT EXISTS auto_locked BOOLEAN NOT NULL DEFAULT FALSE;
CREATE INDEX IF NOT EXISTS idx_players_lobby_code ON players(lobby_code);
`

// Postgres error codes treated as transient contention.
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresStore persists lobbies in PostgreSQL. Writers take a row lock on the lobby
// with a bounded lock_timeout, so two transactions on one code never interleave.
type PostgresStore struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, lockWait time.Duration) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &PostgresStore{pool: pool, lockWait: lockWait}, nil
}

func (s *PostgresStore) Create(ctx context.Context, lobby *models.Lobby) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		buzzOrder, err := encodeBuzzOrder(lobby.BuzzOrder)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO lobbies (code, host_id, host_name, host_token, created_at, updated_at, host_seen,
			                     locked, auto_locked, buzz_order, question_value, active_player_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (code) DO NOTHING`,
			lobby.Code, lobby.HostID, lobby.HostName, lobby.HostToken,
			lobby.CreatedAt, lobby.UpdatedAt, lobby.HostSeen,
			lobby.Locked, lobby.AutoLocked, buzzOrder, lobby.QuestionValue, nullable(lobby.ActivePlayerID),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCodeTaken
		}
		return pgSavePlayers(ctx, tx, lobby)
	})
	return pgError(err)
}

func (s *PostgresStore) WithLobby(ctx context.Context, code string, fn TxFunc) (*models.Lobby, error) {
	var committed *models.Lobby
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
			return err
		}
		l, err := pgLoad(ctx, tx, code, true)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
		if l.Closed {
			_, err := tx.Exec(ctx, `DELETE FROM lobbies WHERE code = $1`, code)
			return err
		}
		if err := pgSave(ctx, tx, l); err != nil {
			return err
		}
		committed = l
		return nil
	})
	if err != nil {
		return nil, pgError(err)
	}
	return committed, nil
}

func (s *PostgresStore) ReadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	var l *models.Lobby
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		var err error
		l, err = pgLoad(ctx, tx, code, false)
		return err
	})
	if err != nil {
		return nil, pgError(err)
	}
	return l, nil
}

func (s *PostgresStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT code FROM lobbies ORDER BY code`)
	if err != nil {
		return nil, pgError(err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, pgError(err)
	}
	return codes, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgError maps lock timeouts and serialization failures to ErrConflict.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgLoad(ctx context.Context, tx pgx.Tx, code string, forUpdate bool) (*models.Lobby, error) {
	q := `
		SELECT code, host_id, host_name, host_token, created_at, updated_at, host_seen,
		       locked, auto_locked, buzz_order, question_value, active_player_id
		FROM lobbies WHERE code = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}

	var (
		l         models.Lobby
		buzzOrder string
		active    *string
	)
	err := tx.QueryRow(ctx, q, code).Scan(
		&l.Code, &l.HostID, &l.HostName, &l.HostToken, &l.CreatedAt, &l.UpdatedAt, &l.HostSeen,
		&l.Locked, &l.AutoLocked, &buzzOrder, &l.QuestionValue, &active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if l.BuzzOrder, err = decodeBuzzOrder(buzzOrder); err != nil {
		return nil, err
	}
	if active != nil {
		l.ActivePlayerID = *active
	}

	rows, err := tx.Query(ctx, `
		SELECT id, lobby_code, name, joined_at, last_seen, buzzed_at, score
		FROM players WHERE lobby_code = $1`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	l.Players = make(map[string]*models.Player)
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.LobbyCode, &p.Name, &p.JoinedAt, &p.LastSeen, &p.BuzzedAt, &p.Score); err != nil {
			return nil, err
		}
		l.Players[p.ID] = &p
	}
	return &l, rows.Err()
}

func pgSave(ctx context.Context, tx pgx.Tx, l *models.Lobby) error {
	buzzOrder, err := encodeBuzzOrder(l.BuzzOrder)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE lobbies SET host_id = $2, host_name = $3, host_token = $4, created_at = $5,
		       updated_at = $6, host_seen = $7, locked = $8, auto_locked = $9, buzz_order = $10,
		       question_value = $11, active_player_id = $12
		WHERE code = $1`,
		l.Code, l.HostID, l.HostName, l.HostToken, l.CreatedAt, l.UpdatedAt, l.HostSeen,
		l.Locked, l.AutoLocked, buzzOrder, l.QuestionValue, nullable(l.ActivePlayerID),
	)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM players WHERE lobby_code = $1`, l.Code); err != nil {
		return err
	}
	return pgSavePlayers(ctx, tx, l)
}

func pgSavePlayers(ctx context.Context, tx pgx.Tx, l *models.Lobby) error {
	if len(l.Players) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range l.Players {
		batch.Queue(`
			INSERT INTO players (id, lobby_code, name, joined_at, last_seen, buzzed_at, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, l.Code, p.Name, p.JoinedAt, p.LastSeen, p.BuzzedAt, p.Score)
	}
	return tx.SendBatch(ctx, batch).Close()
}
