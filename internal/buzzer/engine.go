// internal/buzzer/engine.go
package buzzer

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/panenka/internal/auth"
	"github.com/jason-s-yu/panenka/internal/metrics"
	"github.com/jason-s-yu/panenka/internal/models"
	"github.com/jason-s-yu/panenka/internal/store"
)

const (
	// MaxNameLength caps display names, in runes.
	MaxNameLength = 32

	defaultHostName   = "Host"
	maxCodeAttempts   = 8
	defaultPlayerTTL  = 180 * time.Second
	defaultHostTTL    = 60 * time.Minute
	defaultTouchEvery = 10 * time.Second
)

// Config wires an Engine. Repo and Signer are required.
type Config struct {
	Repo    store.Repository
	Signer  *auth.Signer
	Clock   clockwork.Clock
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics

	// LockOnFirstBuzz locks the buzzers when the first player of an open window buzzes.
	LockOnFirstBuzz bool
	PlayerTTL       time.Duration
	HostTTL         time.Duration
	// TouchInterval is how stale last_seen/host_seen may get before a poll writes it.
	TouchInterval time.Duration
	// MaxRetries bounds retries of a transaction that failed with store.ErrConflict.
	MaxRetries   int
	RetryBackoff time.Duration
}

// Engine runs every lobby operation: it resolves the lobby, applies the reaper,
// performs the mutation inside one repository transaction and projects the result.
type Engine struct {
	repo    store.Repository
	signer  *auth.Signer
	clock   clockwork.Clock
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	reaper  Reaper

	lockOnFirst   bool
	touchInterval time.Duration
	maxRetries    int
	retryBackoff  time.Duration
}

// HostSession is returned to the host when a lobby is created.
type HostSession struct {
	Code      string `json:"code"`
	HostID    string `json:"host_id"`
	HostToken string `json:"host_token"`
	State     *State `json:"state"`
}

// PlayerSession is returned to a player when they join.
type PlayerSession struct {
	Code     string `json:"code"`
	PlayerID string `json:"player_id"`
	State    *State `json:"state"`
}

// NewEngine fills defaults and validates cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Repo == nil {
		return nil, errors.New("buzzer: engine requires a repository")
	}
	if cfg.Signer == nil {
		return nil, errors.New("buzzer: engine requires a token signer")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.PlayerTTL <= 0 {
		cfg.PlayerTTL = defaultPlayerTTL
	}
	if cfg.HostTTL <= 0 {
		cfg.HostTTL = defaultHostTTL
	}
	if cfg.TouchInterval <= 0 {
		cfg.TouchInterval = defaultTouchEvery
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Engine{
		repo:          cfg.Repo,
		signer:        cfg.Signer,
		clock:         cfg.Clock,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		reaper:        Reaper{PlayerTTL: cfg.PlayerTTL, HostTTL: cfg.HostTTL},
		lockOnFirst:   cfg.LockOnFirstBuzz,
		touchInterval: cfg.TouchInterval,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.RetryBackoff,
	}, nil
}

func (e *Engine) now() float64 {
	return models.Timestamp(e.clock.Now())
}

// CreateLobby opens a new lobby, generating its code and minting the host token.
func (e *Engine) CreateLobby(ctx context.Context, hostName string) (*HostSession, error) {
	name, err := cleanName(hostName)
	if errors.Is(err, errEmptyName) {
		name = defaultHostName
	} else if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}
		hostID := uuid.NewString()
		token, err := e.signer.CreateHostToken(code, hostID)
		if err != nil {
			return nil, fmt.Errorf("mint host token: %w", err)
		}

		l := models.NewLobby(code, hostID, name, token, e.now())
		err = e.retry(ctx, func() error { return e.repo.Create(ctx, l) })
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.metrics.LobbyCreated()
		e.log.WithFields(logrus.Fields{"code": code, "host_id": hostID}).Info("lobby created")
		return &HostSession{
			Code:      code,
			HostID:    hostID,
			HostToken: token,
			State:     Project(l, Viewer{Role: RoleHost}),
		}, nil
	}
	return nil, fmt.Errorf("%w: no free lobby code after %d attempts", ErrUnavailable, maxCodeAttempts)
}

// Join adds a player to the lobby.
func (e *Engine) Join(ctx context.Context, code, name string) (*PlayerSession, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	playerID := uuid.NewString()

	committed, err := e.transact(ctx, code, func(l *models.Lobby, now float64) error {
		l.Players[playerID] = &models.Player{
			ID:        playerID,
			LobbyCode: l.Code,
			Name:      name,
			JoinedAt:  now,
			LastSeen:  now,
		}
		l.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PlayerJoined()
	e.log.WithFields(logrus.Fields{"code": committed.Code, "player_id": playerID}).Info("player joined")
	return &PlayerSession{
		Code:     committed.Code,
		PlayerID: playerID,
		State:    Project(committed, Viewer{Role: RolePlayer, PlayerID: playerID}),
	}, nil
}

// HostState is the host's poll. It reads without locking unless the host's
// heartbeat is due or the snapshot holds expired records.
func (e *Engine) HostState(ctx context.Context, code, token string) (*State, error) {
	l, err := e.read(ctx, code)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if e.reaper.needsWrite(l, now) || e.touchDue(l.HostSeen, now) {
		return e.hostOp(ctx, code, token, "poll", func(*models.Lobby, float64) error { return nil })
	}
	if err := e.authorizeHost(l, token); err != nil {
		return nil, err
	}
	return Project(l, Viewer{Role: RoleHost}), nil
}

// PlayerState is a player's poll.
func (e *Engine) PlayerState(ctx context.Context, code, playerID string) (*State, error) {
	l, err := e.read(ctx, code)
	if err != nil {
		return nil, err
	}
	now := e.now()
	p, member := l.Players[playerID]
	if e.reaper.needsWrite(l, now) || (member && e.touchDue(p.LastSeen, now)) {
		return e.playerOp(ctx, code, playerID, func(*models.Lobby, *models.Player, float64) error { return nil })
	}
	if !member {
		return nil, fmt.Errorf("%w: player %s is not in lobby %s", ErrForbidden, playerID, l.Code)
	}
	return Project(l, Viewer{Role: RolePlayer, PlayerID: playerID}), nil
}

// Buzz records a player's buzz. Refusals are reported in the status, never as errors.
func (e *Engine) Buzz(ctx context.Context, code, playerID string) (BuzzStatus, *State, error) {
	var status BuzzStatus
	st, err := e.playerOp(ctx, code, playerID, func(l *models.Lobby, p *models.Player, now float64) error {
		status = buzz(l, p.ID, now, e.lockOnFirst)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	e.metrics.Buzz(string(status))
	e.log.WithFields(logrus.Fields{"code": st.Code, "player_id": playerID, "status": status}).Debug("buzz")
	return status, st, nil
}

// Leave removes the player from the lobby.
func (e *Engine) Leave(ctx context.Context, code, playerID string) error {
	_, err := e.transact(ctx, code, func(l *models.Lobby, now float64) error {
		if !dropPlayer(l, playerID, now) {
			return fmt.Errorf("%w: player %s is not in lobby %s", ErrForbidden, playerID, l.Code)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"code": code, "player_id": playerID}).Info("player left")
	return nil
}

// Lock closes the buzzers.
func (e *Engine) Lock(ctx context.Context, code, token string) (*State, error) {
	return e.hostOp(ctx, code, token, "lock", func(l *models.Lobby, now float64) error {
		lock(l, now)
		return nil
	})
}

// Unlock reopens the buzzers.
func (e *Engine) Unlock(ctx context.Context, code, token string) (*State, error) {
	return e.hostOp(ctx, code, token, "unlock", func(l *models.Lobby, now float64) error {
		unlock(l, now)
		return nil
	})
}

// Reset clears the queue and reopens buzzers regardless of resolution state.
func (e *Engine) Reset(ctx context.Context, code, token string) (*State, error) {
	return e.hostOp(ctx, code, token, "reset", func(l *models.Lobby, now float64) error {
		resetQueue(l, now)
		return nil
	})
}

// Close deletes the lobby. Every later request for the code fails with ErrNotFound.
func (e *Engine) Close(ctx context.Context, code, token string) error {
	_, err := e.hostOp(ctx, code, token, "close", func(l *models.Lobby, now float64) error {
		closeLobby(l, now)
		return nil
	})
	if err != nil {
		return err
	}
	e.log.WithField("code", code).Info("lobby closed")
	return nil
}

// SetQuestionValue sets the value of the open question.
func (e *Engine) SetQuestionValue(ctx context.Context, code, token string, value int) (*State, error) {
	if err := validQuestionValue(value); err != nil {
		return nil, err
	}
	return e.hostOp(ctx, code, token, "set_question_value", func(l *models.Lobby, now float64) error {
		return setQuestionValue(l, value, now)
	})
}

// ConfirmActive picks a queued player to answer. A non-queued player is a no-op.
func (e *Engine) ConfirmActive(ctx context.Context, code, token, playerID string) (*State, error) {
	return e.hostOp(ctx, code, token, "confirm_active", func(l *models.Lobby, now float64) error {
		return confirmActive(l, playerID, now)
	})
}

// Resolve scores the active player. Without an active player it is a no-op.
func (e *Engine) Resolve(ctx context.Context, code, token string, action ResolveAction) (*State, error) {
	if _, err := ParseResolveAction(string(action)); err != nil {
		return nil, err
	}
	applied := false
	st, err := e.hostOp(ctx, code, token, "resolve", func(l *models.Lobby, now float64) error {
		// a conflicted attempt never committed
		applied = false
		if err := resolve(l, action, now); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err == nil && applied {
		e.metrics.Resolution(string(action))
	}
	return st, err
}

// Sweep applies the reaper to one lobby. It writes only when something expired.
func (e *Engine) Sweep(ctx context.Context, code string) error {
	l, err := e.read(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !e.reaper.needsWrite(l, e.now()) {
		return nil
	}
	_, err = e.transact(ctx, code, func(*models.Lobby, float64) error { return nil })
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// SweepAll sweeps every stored lobby and returns how many it visited.
func (e *Engine) SweepAll(ctx context.Context) (int, error) {
	codes, err := e.repo.ListCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list lobbies: %w", err)
	}
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := e.Sweep(ctx, code); err != nil {
			e.log.WithError(err).WithField("code", code).Warn("sweep failed")
		}
	}
	return len(codes), nil
}

// hostOp authenticates the host token, touches host_seen and runs op.
// op returning ErrInvalidOperation is logged and the touch still commits.
func (e *Engine) hostOp(ctx context.Context, code, token, action string, op func(l *models.Lobby, now float64) error) (*State, error) {
	committed, err := e.transact(ctx, code, func(l *models.Lobby, now float64) error {
		if err := e.authorizeHost(l, token); err != nil {
			return err
		}
		l.HostSeen = now
		return e.tolerate(op(l, now), l.Code, action)
	})
	if err != nil {
		return nil, err
	}
	if committed == nil {
		return nil, nil
	}
	return Project(committed, Viewer{Role: RoleHost}), nil
}

// playerOp checks membership, touches last_seen and runs op.
func (e *Engine) playerOp(ctx context.Context, code, playerID string, op func(l *models.Lobby, p *models.Player, now float64) error) (*State, error) {
	committed, err := e.transact(ctx, code, func(l *models.Lobby, now float64) error {
		p, ok := l.Players[playerID]
		if !ok || playerID == "" {
			return fmt.Errorf("%w: player %s is not in lobby %s", ErrForbidden, playerID, l.Code)
		}
		p.LastSeen = now
		return e.tolerate(op(l, p, now), l.Code, "player")
	})
	if err != nil {
		return nil, err
	}
	return Project(committed, Viewer{Role: RolePlayer, PlayerID: playerID}), nil
}

func (e *Engine) tolerate(err error, code, action string) error {
	if errors.Is(err, ErrInvalidOperation) {
		e.log.WithFields(logrus.Fields{"code": code, "action": action}).WithError(err).Debug("ignoring no-op action")
		return nil
	}
	return err
}

// authorizeHost accepts only a token signed by this service, issued for this lobby,
// and equal to the token stored with it.
func (e *Engine) authorizeHost(l *models.Lobby, token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing host token", ErrForbidden)
	}
	if _, code, err := e.signer.VerifyHostToken(token); err != nil || code != l.Code {
		return fmt.Errorf("%w: host token not valid for lobby %s", ErrForbidden, l.Code)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(l.HostToken)) != 1 {
		return fmt.Errorf("%w: host token not valid for lobby %s", ErrForbidden, l.Code)
	}
	return nil
}

// transact runs op on the lobby inside one repository transaction, after the reaper.
// An expired lobby is deleted and reported as ErrNotFound.
func (e *Engine) transact(ctx context.Context, rawCode string, op func(l *models.Lobby, now float64) error) (*models.Lobby, error) {
	code, ok := NormalizeCode(rawCode)
	if !ok {
		return nil, ErrNotFound
	}

	var (
		committed *models.Lobby
		expired   bool
		evicted   []string
	)
	err := e.retry(ctx, func() error {
		var err error
		committed, err = e.repo.WithLobby(ctx, code, func(l *models.Lobby) error {
			expired, evicted = false, nil
			now := e.now()
			res := e.reaper.Apply(l, now)
			if res.LobbyExpired {
				expired = true
				return nil
			}
			evicted = res.Evicted
			return op(l, now)
		})
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expired {
		e.metrics.Evicted("lobby", 1)
		e.log.WithField("code", code).Info("lobby expired")
		return nil, ErrNotFound
	}
	if len(evicted) > 0 {
		e.metrics.Evicted("player", len(evicted))
		e.log.WithFields(logrus.Fields{"code": code, "players": evicted}).Info("evicted stale players")
	}
	return committed, nil
}

// read fetches the committed snapshot without locking. Callers check
// reaper.needsWrite before projecting it.
func (e *Engine) read(ctx context.Context, rawCode string) (*models.Lobby, error) {
	code, ok := NormalizeCode(rawCode)
	if !ok {
		return nil, ErrNotFound
	}
	var l *models.Lobby
	err := e.retry(ctx, func() error {
		var err error
		l, err = e.repo.ReadLobby(ctx, code)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// retry runs fn again after store.ErrConflict, at most maxRetries times.
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt >= e.maxRetries {
			e.metrics.Failed()
			e.log.WithError(err).WithField("attempts", attempt+1).Warn("lobby transaction gave up")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		e.metrics.Retried()
		if err := e.backoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	d := e.retryBackoff * time.Duration(attempt+1)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(d):
		return nil
	}
}

func (e *Engine) touchDue(lastSeen, now float64) bool {
	return now-lastSeen >= e.touchInterval.Seconds()
}

var errEmptyName = fmt.Errorf("%w: name must not be empty", ErrInvalidInput)

func cleanName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", errEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalidInput, MaxNameLength)
	}
	return name, nil
}
