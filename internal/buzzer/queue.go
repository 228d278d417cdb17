// internal/buzzer/queue.go
package buzzer

import (
	"github.com/jason-s-yu/panenka/internal/models"
)

// BuzzStatus is the outcome of one buzz attempt, as reported to the player.
type BuzzStatus string

const (
	// BuzzAccepted means the player was appended to the queue.
	BuzzAccepted BuzzStatus = "ok"
	// BuzzAlready means the player already buzzed during this question cycle.
	BuzzAlready BuzzStatus = "already"
	// BuzzClosed means buzzers are locked for this player right now.
	BuzzClosed BuzzStatus = "closed"
)

// minBuzzGap keeps buzzed_at strictly increasing along the queue when two buzzes
// commit within the same clock tick. Commit order is the ordering authority.
const minBuzzGap = 1e-6

// buzzWindowOpen reports whether a new buzz is accepted right now.
// An automatic first-buzz lock keeps the arrival window open until the host acts.
func buzzWindowOpen(l *models.Lobby) bool {
	return !l.Locked || l.AutoLocked
}

// canBuzz reports whether player p would be queued by a buzz at this moment.
func canBuzz(l *models.Lobby, p *models.Player) bool {
	return p != nil && !p.HasBuzzed() && l.Position(p.ID) == 0 && buzzWindowOpen(l)
}

// buzz appends playerID to the queue if the lobby accepts it. It must run inside a
// lobby transaction, after the reaper, so a present player is never an expired one.
// Violated preconditions are no-ops reported through the status.
func buzz(l *models.Lobby, playerID string, now float64, lockOnFirst bool) BuzzStatus {
	p, ok := l.Players[playerID]
	if !ok {
		return BuzzClosed
	}
	if p.HasBuzzed() || l.Position(playerID) > 0 {
		return BuzzAlready
	}
	if !buzzWindowOpen(l) {
		return BuzzClosed
	}

	at := now
	if n := len(l.BuzzOrder); n > 0 {
		if last := l.Players[l.BuzzOrder[n-1]]; last != nil && last.BuzzedAt != nil && at <= *last.BuzzedAt {
			at = *last.BuzzedAt + minBuzzGap
		}
	}
	p.BuzzedAt = &at
	p.LastSeen = now
	l.BuzzOrder = append(l.BuzzOrder, playerID)

	if lockOnFirst && !l.Locked {
		l.Locked = true
		l.AutoLocked = true
	}
	l.UpdatedAt = now
	return BuzzAccepted
}

// position is the 1-based rank of playerID in the queue, or 0 when absent.
func position(l *models.Lobby, playerID string) int {
	return l.Position(playerID)
}

// resetQueue clears the queue, the active player and every buzz mark, and reopens buzzers.
func resetQueue(l *models.Lobby, now float64) {
	l.BuzzOrder = []string{}
	l.ActivePlayerID = ""
	l.Locked = false
	l.AutoLocked = false
	for _, p := range l.Players {
		p.BuzzedAt = nil
	}
	l.UpdatedAt = now
}

// dropPlayer removes a player from the lobby and from the queue structures.
// If that empties an automatically locked queue, buzzers reopen.
func dropPlayer(l *models.Lobby, playerID string, now float64) bool {
	if _, ok := l.Players[playerID]; !ok {
		return false
	}
	delete(l.Players, playerID)
	l.Dequeue(playerID)
	if len(l.BuzzOrder) == 0 && l.AutoLocked {
		l.Locked = false
		l.AutoLocked = false
	}
	l.UpdatedAt = now
	return true
}
