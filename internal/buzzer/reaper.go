// internal/buzzer/reaper.go
package buzzer

import (
	"sort"
	"time"

	"github.com/jason-s-yu/panenka/internal/models"
)

// Reaper decides which lobbies and players have expired. It has no goroutine of its own:
// the engine applies it as the first step of every lobby access.
type Reaper struct {
	PlayerTTL time.Duration
	HostTTL   time.Duration
}

// reapResult describes what a reaper pass removed.
type reapResult struct {
	LobbyExpired bool
	Evicted      []string
}

// lobbyExpired reports whether the host has been silent longer than HostTTL.
func (r Reaper) lobbyExpired(l *models.Lobby, now float64) bool {
	return now-l.HostSeen > r.HostTTL.Seconds()
}

func (r Reaper) playerExpired(p *models.Player, now float64) bool {
	return now-p.LastSeen > r.PlayerTTL.Seconds()
}

// stalePlayers returns the ids of expired players, sorted for deterministic eviction.
func (r Reaper) stalePlayers(l *models.Lobby, now float64) []string {
	var ids []string
	for id, p := range l.Players {
		if r.playerExpired(p, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Apply evicts expired players from l and marks l closed if the lobby itself expired.
// It mutates l; run it on a transaction snapshot or on a private copy.
func (r Reaper) Apply(l *models.Lobby, now float64) reapResult {
	if r.lobbyExpired(l, now) {
		l.Closed = true
		return reapResult{LobbyExpired: true}
	}
	res := reapResult{Evicted: r.stalePlayers(l, now)}
	for _, id := range res.Evicted {
		dropPlayer(l, id, now)
	}
	return res
}

// needsWrite reports whether a read snapshot holds anything a write pass would evict.
func (r Reaper) needsWrite(l *models.Lobby, now float64) bool {
	if r.lobbyExpired(l, now) {
		return true
	}
	for _, p := range l.Players {
		if r.playerExpired(p, now) {
			return true
		}
	}
	return false
}
