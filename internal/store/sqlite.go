// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jason-s-yu/panenka/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS lobbies (
	code TEXT PRIMARY KEY,
	host_id TEXT NOT NULL,
	host_name TEXT NOT NULL,
	host_token TEXT NOT NULL,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	host_seen REAL NOT NULL,
	locked INTEGER NOT NULL,
	auto_locked INTEGER NOT NULL DEFAULT 0,
	buzz_order TEXT NOT NULL,
	question_value INTEGER NOT NULL DEFAULT 0,
	active_player_id TEXT
);
CREATE TABLE IF NOT EXISTS players (
	id TEXT PRIMARY KEY,
	lobby_code TEXT NOT NULL,
	name TEXT NOT NULL,
	joined_at REAL NOT NULL,
	last_seen REAL NOT NULL,
	buzzed_at REAL,
	score INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(lobby_code) REFERENCES lobbies(code) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_players_lobby_code ON players(lobby_code);
`

// SQLiteStore persists lobbies in a SQLite file.
// Writers use BEGIN IMMEDIATE so transactions on a lobby are serialized by the database lock.
type SQLiteStore struct {
	writer *sql.DB
	reader *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// If dbPath is empty, defaults to "./data/lobbies.sqlite3".
func NewSQLiteStore(ctx context.Context, dbPath string, lockWait time.Duration) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/lobbies.sqlite3"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	busy := lockWait.Milliseconds()
	if busy <= 0 {
		busy = 5000
	}
	base := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d", dbPath, busy)

	writer, err := sql.Open("sqlite3", base+"&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	reader, err := sql.Open("sqlite3", base+"&_txlock=deferred")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}

	s := &SQLiteStore{writer: writer, reader: reader}
	if err := writer.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := writer.ExecContext(ctx, sqliteSchema); err != nil {
		s.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Create(ctx context.Context, lobby *models.Lobby) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM lobbies WHERE code = ?`, lobby.Code).Scan(&exists)
		if err == nil {
			return ErrCodeTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return sqliteSave(ctx, tx, lobby, true)
	})
}

func (s *SQLiteStore) WithLobby(ctx context.Context, code string, fn TxFunc) (*models.Lobby, error) {
	var committed *models.Lobby
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		l, err := sqliteLoad(ctx, tx, code)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
		if l.Closed {
			_, err := tx.ExecContext(ctx, `DELETE FROM lobbies WHERE code = ?`, code)
			return err
		}
		if err := sqliteSave(ctx, tx, l, false); err != nil {
			return err
		}
		committed = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *SQLiteStore) ReadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, sqliteError(err)
	}
	defer tx.Rollback()
	l, err := sqliteLoad(ctx, tx, code)
	if err != nil {
		return nil, sqliteError(err)
	}
	return l, nil
}

func (s *SQLiteStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT code FROM lobbies ORDER BY code`)
	if err != nil {
		return nil, sqliteError(err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *SQLiteStore) Close() error {
	rerr := s.reader.Close()
	if err := s.writer.Close(); err != nil {
		return err
	}
	return rerr
}

// runTx executes fn inside a write transaction.
// If fn returns an error the tx rolls back, else it commits.
func (s *SQLiteStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.BeginTx(ctx, nil) // BEGIN IMMEDIATE
	if err != nil {
		return sqliteError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return sqliteError(err)
	}
	return sqliteError(tx.Commit())
}

// sqliteError maps lock contention to ErrConflict.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteLoad(ctx context.Context, q sqlQuerier, code string) (*models.Lobby, error) {
	var (
		l         models.Lobby
		buzzOrder string
		active    sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT code, host_id, host_name, host_token, created_at, updated_at, host_seen,
		       locked, auto_locked, buzz_order, question_value, active_player_id
		FROM lobbies WHERE code = ?`, code).Scan(
		&l.Code, &l.HostID, &l.HostName, &l.HostToken, &l.CreatedAt, &l.UpdatedAt, &l.HostSeen,
		&l.Locked, &l.AutoLocked, &buzzOrder, &l.QuestionValue, &active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if l.BuzzOrder, err = decodeBuzzOrder(buzzOrder); err != nil {
		return nil, err
	}
	l.ActivePlayerID = active.String

	rows, err := q.QueryContext(ctx, `
		SELECT id, lobby_code, name, joined_at, last_seen, buzzed_at, score
		FROM players WHERE lobby_code = ?`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	l.Players = make(map[string]*models.Player)
	for rows.Next() {
		var (
			p        models.Player
			buzzedAt sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.LobbyCode, &p.Name, &p.JoinedAt, &p.LastSeen, &buzzedAt, &p.Score); err != nil {
			return nil, err
		}
		if buzzedAt.Valid {
			at := buzzedAt.Float64
			p.BuzzedAt = &at
		}
		l.Players[p.ID] = &p
	}
	return &l, rows.Err()
}

// sqliteSave writes the lobby row, then replaces its players.
func sqliteSave(ctx context.Context, tx *sql.Tx, l *models.Lobby, insert bool) error {
	buzzOrder, err := encodeBuzzOrder(l.BuzzOrder)
	if err != nil {
		return err
	}
	active := sql.NullString{String: l.ActivePlayerID, Valid: l.ActivePlayerID != ""}

	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lobbies (code, host_id, host_name, host_token, created_at, updated_at, host_seen,
			                     locked, auto_locked, buzz_order, question_value, active_player_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.Code, l.HostID, l.HostName, l.HostToken, l.CreatedAt, l.UpdatedAt, l.HostSeen,
			l.Locked, l.AutoLocked, buzzOrder, l.QuestionValue, active)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE lobbies SET host_id = ?, host_name = ?, host_token = ?, created_at = ?, updated_at = ?,
			       host_seen = ?, locked = ?, auto_locked = ?, buzz_order = ?, question_value = ?,
			       active_player_id = ?
			WHERE code = ?`,
			l.HostID, l.HostName, l.HostToken, l.CreatedAt, l.UpdatedAt, l.HostSeen,
			l.Locked, l.AutoLocked, buzzOrder, l.QuestionValue, active, l.Code)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE lobby_code = ?`, l.Code); err != nil {
		return err
	}
	for _, p := range l.Players {
		var buzzedAt sql.NullFloat64
		if p.BuzzedAt != nil {
			buzzedAt = sql.NullFloat64{Float64: *p.BuzzedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO players (id, lobby_code, name, joined_at, last_seen, buzzed_at, score)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, l.Code, p.Name, p.JoinedAt, p.LastSeen, buzzedAt, p.Score); err != nil {
			return err
		}
	}
	return nil
}
