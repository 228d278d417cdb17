// internal/models/lobby.go
package models

import (
	"slices"
	"sort"
	"time"
)

// Lobby is one buzzer game session owned by a single host.
// It maps to a row in the lobbies table plus its players.
type Lobby struct {
	Code      string `json:"code"`
	HostID    string `json:"host_id"`
	HostName  string `json:"host_name"`
	HostToken string `json:"host_token"`

	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`
	HostSeen  float64 `json:"host_seen"`

	// Locked blocks new buzzes unless AutoLocked is also set.
	Locked bool `json:"locked"`
	// AutoLocked marks a lock placed by the first buzz of an open window.
	// While it holds, further buzzes still queue in arrival order.
	AutoLocked bool `json:"auto_locked"`

	BuzzOrder      []string `json:"buzz_order"`
	QuestionValue  int      `json:"question_value"`
	ActivePlayerID string   `json:"active_player_id,omitempty"`

	Players map[string]*Player `json:"players"`

	// Closed asks the repository to delete the lobby when the transaction commits.
	Closed bool `json:"-"`
}

// Player is a participant of a lobby.
type Player struct {
	ID        string   `json:"id"`
	LobbyCode string   `json:"lobby_code"`
	Name      string   `json:"name"`
	JoinedAt  float64  `json:"joined_at"`
	LastSeen  float64  `json:"last_seen"`
	BuzzedAt  *float64 `json:"buzzed_at,omitempty"`
	Score     int      `json:"score"`
}

// Timestamp converts t into seconds since the epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// NewLobby returns an empty, open lobby stamped at now.
func NewLobby(code, hostID, hostName, hostToken string, now float64) *Lobby {
	return &Lobby{
		Code:      code,
		HostID:    hostID,
		HostName:  hostName,
		HostToken: hostToken,
		CreatedAt: now,
		UpdatedAt: now,
		HostSeen:  now,
		BuzzOrder: []string{},
		Players:   make(map[string]*Player),
	}
}

// Clone returns a deep copy so a transaction can mutate freely.
func (l *Lobby) Clone() *Lobby {
	if l == nil {
		return nil
	}
	c := *l
	c.BuzzOrder = slices.Clone(l.BuzzOrder)
	if c.BuzzOrder == nil {
		c.BuzzOrder = []string{}
	}
	c.Players = make(map[string]*Player, len(l.Players))
	for id, p := range l.Players {
		c.Players[id] = p.Clone()
	}
	return &c
}

// Clone returns a copy of the player, including its buzz timestamp.
func (p *Player) Clone() *Player {
	c := *p
	if p.BuzzedAt != nil {
		at := *p.BuzzedAt
		c.BuzzedAt = &at
	}
	return &c
}

// HasBuzzed reports whether the player buzzed during the current question cycle.
func (p *Player) HasBuzzed() bool {
	return p.BuzzedAt != nil
}

// Position returns the 1-based queue rank of playerID, or 0 when not queued.
func (l *Lobby) Position(playerID string) int {
	for i, id := range l.BuzzOrder {
		if id == playerID {
			return i + 1
		}
	}
	return 0
}

// Dequeue removes playerID from the buzz order and clears it as the active player.
// It reports whether anything changed.
func (l *Lobby) Dequeue(playerID string) bool {
	changed := false
	if i := l.Position(playerID); i > 0 {
		l.BuzzOrder = slices.Delete(l.BuzzOrder, i-1, i)
		changed = true
	}
	if l.ActivePlayerID == playerID && playerID != "" {
		l.ActivePlayerID = ""
		changed = true
	}
	return changed
}

// Roster returns the players ordered by join time.
func (l *Lobby) Roster() []*Player {
	out := make([]*Player, 0, len(l.Players))
	for _, p := range l.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
