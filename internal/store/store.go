// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jason-s-yu/panenka/internal/models"
)

var (
	// ErrNotFound is returned when no lobby exists for a code.
	ErrNotFound = errors.New("store: lobby not found")
	// ErrCodeTaken is returned by Create when the code is already in use.
	ErrCodeTaken = errors.New("store: lobby code already in use")
	// ErrConflict is a transient failure: the per-lobby lock could not be taken in time
	// or a concurrent transaction won. Callers may retry.
	ErrConflict = errors.New("store: transaction conflict")
)

// TxFunc mutates a lobby snapshot inside a transaction.
// Returning an error discards every change. Setting l.Closed deletes the lobby on commit.
type TxFunc func(l *models.Lobby) error

// Repository is durable keyed storage for lobbies and their players.
// Transactions on one code are serialized; different codes never share a lock.
type Repository interface {
	// Create inserts a new lobby. It fails with ErrCodeTaken if the code exists.
	Create(ctx context.Context, lobby *models.Lobby) error
	// WithLobby runs fn against the current snapshot and commits what it does.
	// It returns the committed lobby, or nil when fn closed it.
	WithLobby(ctx context.Context, code string, fn TxFunc) (*models.Lobby, error)
	// ReadLobby returns the last committed snapshot without taking the write lock.
	ReadLobby(ctx context.Context, code string) (*models.Lobby, error)
	// ListCodes returns the codes of every stored lobby.
	ListCodes(ctx context.Context) ([]string, error)
	Close() error
}

// encodeBuzzOrder renders the queue the way the lobbies table stores it.
func encodeBuzzOrder(order []string) (string, error) {
	if order == nil {
		order = []string{}
	}
	b, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("encode buzz order: %w", err)
	}
	return string(b), nil
}

func decodeBuzzOrder(raw string) ([]string, error) {
	order := []string{}
	if raw == "" {
		return order, nil
	}
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("decode buzz order: %w", err)
	}
	return order, nil
}
