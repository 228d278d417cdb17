// internal/store/memory.go
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jason-s-yu/panenka/internal/models"
)

// memoryEntry pairs a committed lobby with the lock that serializes its writers.
type memoryEntry struct {
	sem *semaphore.Weighted

	mu    sync.RWMutex // guards lobby and gone; never held across fn
	lobby *models.Lobby
	gone  bool
}

// snapshot clones the committed lobby, or reports ErrNotFound once it is gone.
func (e *memoryEntry) snapshot() (*models.Lobby, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.gone {
		return nil, ErrNotFound
	}
	return e.lobby.Clone(), nil
}

// MemoryStore keeps lobbies in process memory. Suitable for a single instance;
// state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex // protects the map only; entries lock themselves
	lobbies  map[string]*memoryEntry
	lockWait time.Duration
}

// NewMemoryStore returns an empty store. lockWait bounds how long a transaction
// waits for another one on the same code before failing with ErrConflict.
func NewMemoryStore(lockWait time.Duration) *MemoryStore {
	return &MemoryStore{
		lobbies:  make(map[string]*memoryEntry),
		lockWait: lockWait,
	}
}

func (s *MemoryStore) Create(_ context.Context, lobby *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[lobby.Code]; exists {
		return ErrCodeTaken
	}
	s.lobbies[lobby.Code] = &memoryEntry{
		sem:   semaphore.NewWeighted(1),
		lobby: lobby.Clone(),
	}
	return nil
}

func (s *MemoryStore) WithLobby(ctx context.Context, code string, fn TxFunc) (*models.Lobby, error) {
	s.mu.RLock()
	e, ok := s.lobbies[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if err := s.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	working, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	if err := fn(working); err != nil {
		return nil, err
	}

	if working.Closed {
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()

		s.mu.Lock()
		if s.lobbies[code] == e {
			delete(s.lobbies, code)
		}
		s.mu.Unlock()
		return nil, nil
	}

	result := working.Clone()
	e.mu.Lock()
	e.lobby = working
	e.mu.Unlock()
	return result, nil
}

// acquire waits for the entry lock, giving up after lockWait.
func (s *MemoryStore) acquire(ctx context.Context, e *memoryEntry) error {
	if s.lockWait <= 0 {
		return e.sem.Acquire(ctx, 1)
	}
	wctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	if err := e.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *MemoryStore) ReadLobby(_ context.Context, code string) (*models.Lobby, error) {
	s.mu.RLock()
	e, ok := s.lobbies[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e.snapshot()
}

func (s *MemoryStore) ListCodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.lobbies))
	for code := range s.lobbies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Close drops every lobby.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.lobbies {
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()
	}
	s.lobbies = make(map[string]*memoryEntry)
	return nil
}
