// internal/buzzer/workflow.go
package buzzer

import (
	"fmt"
	"math"

	"github.com/jason-s-yu/panenka/internal/models"
)

// Phase is the host-visible workflow state of a lobby.
type Phase string

const (
	PhaseOpen      Phase = "open"
	PhaseLocked    Phase = "locked"
	PhaseResolving Phase = "resolving"
	PhaseClosed    Phase = "closed"
)

// ResolveAction is the host's scoring decision for the active player.
type ResolveAction string

const (
	ResolveCorrect   ResolveAction = "correct"
	ResolveIncorrect ResolveAction = "incorrect"
	ResolveSkip      ResolveAction = "skip"
)

// ParseResolveAction validates an action name from a request body.
func ParseResolveAction(s string) (ResolveAction, error) {
	switch a := ResolveAction(s); a {
	case ResolveCorrect, ResolveIncorrect, ResolveSkip:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown resolve action %q", ErrInvalidInput, s)
}

// phaseOf derives the workflow state from the stored fields.
func phaseOf(l *models.Lobby) Phase {
	switch {
	case l.Closed:
		return PhaseClosed
	case l.ActivePlayerID != "":
		return PhaseResolving
	case l.Locked:
		return PhaseLocked
	}
	return PhaseOpen
}

// lock closes the buzzers without touching the queue. A manual lock also ends
// any automatic arrival window.
func lock(l *models.Lobby, now float64) {
	l.Locked = true
	l.AutoLocked = false
	l.UpdatedAt = now
}

// unlock reopens the buzzers without touching the queue.
func unlock(l *models.Lobby, now float64) {
	l.Locked = false
	l.AutoLocked = false
	l.UpdatedAt = now
}

// MaxQuestionValue bounds a single question so scores stay inside a 32-bit column
// for any realistic game.
const MaxQuestionValue = 1_000_000

// validQuestionValue rejects values outside [0, MaxQuestionValue].
func validQuestionValue(value int) error {
	if value < 0 {
		return fmt.Errorf("%w: question value must not be negative", ErrInvalidInput)
	}
	if value > MaxQuestionValue {
		return fmt.Errorf("%w: question value must not exceed %d", ErrInvalidInput, MaxQuestionValue)
	}
	return nil
}

// addScore adds delta to score, saturating at the int32 range.
func addScore(score, delta int) int {
	sum := int64(score) + int64(delta)
	switch {
	case sum > math.MaxInt32:
		return math.MaxInt32
	case sum < math.MinInt32:
		return math.MinInt32
	}
	return int(sum)
}

// setQuestionValue changes the value used by the next resolve. Earlier
// resolutions are never rescored.
func setQuestionValue(l *models.Lobby, value int, now float64) error {
	if err := validQuestionValue(value); err != nil {
		return err
	}
	l.QuestionValue = value
	l.UpdatedAt = now
	return nil
}

// confirmActive selects a queued player to answer. The lobby stays locked while they do.
func confirmActive(l *models.Lobby, playerID string, now float64) error {
	if position(l, playerID) == 0 {
		return fmt.Errorf("%w: player %s is not queued", ErrInvalidOperation, playerID)
	}
	l.ActivePlayerID = playerID
	l.Locked = true
	l.AutoLocked = false
	l.UpdatedAt = now
	return nil
}

// resolve applies the host's decision to the active player.
func resolve(l *models.Lobby, action ResolveAction, now float64) error {
	if l.ActivePlayerID == "" {
		return fmt.Errorf("%w: no active player", ErrInvalidOperation)
	}
	p, ok := l.Players[l.ActivePlayerID]
	if !ok {
		// active player vanished without the queue noticing; repair and report
		l.Dequeue(l.ActivePlayerID)
		return fmt.Errorf("%w: active player left", ErrInvalidOperation)
	}

	switch action {
	case ResolveCorrect:
		p.Score = addScore(p.Score, l.QuestionValue)
		resetQueue(l, now)
		return nil
	case ResolveIncorrect:
		p.Score = addScore(p.Score, -l.QuestionValue)
	case ResolveSkip:
	default:
		return fmt.Errorf("%w: unknown resolve action %q", ErrInvalidInput, action)
	}

	// incorrect and skip: drop only the active player; they keep their buzz mark
	// so they cannot buzz again for this question
	l.Dequeue(p.ID)
	l.AutoLocked = false
	l.Locked = len(l.BuzzOrder) > 0
	l.UpdatedAt = now
	return nil
}

// closeLobby marks the lobby for deletion on commit.
func closeLobby(l *models.Lobby, now float64) {
	l.Closed = true
	l.UpdatedAt = now
}
