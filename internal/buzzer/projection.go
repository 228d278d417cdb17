// internal/buzzer/projection.go
package buzzer

import (
	"sort"

	"github.com/jason-s-yu/panenka/internal/models"
)

// Role says who a snapshot is built for.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Viewer identifies the caller a snapshot is scoped to.
type Viewer struct {
	Role     Role
	PlayerID string // set for RolePlayer
}

// State is the role-scoped snapshot polled by clients. It never carries the host token.
type State struct {
	Code          string        `json:"code"`
	Role          Role          `json:"role"`
	HostName      string        `json:"host_name"`
	Phase         Phase         `json:"phase"`
	Locked        bool          `json:"locked"`
	BuzzOpen      bool          `json:"buzz_open"`
	QuestionValue int           `json:"question_value"`
	ActivePlayer  *string       `json:"active_player"`
	BuzzQueue     []QueueEntry  `json:"buzz_queue"`
	Players       []RosterEntry `json:"players"`
	Scoreboard    []ScoreEntry  `json:"scoreboard"`
	You           *You          `json:"you,omitempty"`
	UpdatedAt     float64       `json:"updated_at"`
}

// QueueEntry is one queued buzz, oldest first. ID is only revealed to the host.
type QueueEntry struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	IsActive bool   `json:"is_active"`
}

// RosterEntry is one lobby member. ID is only revealed to the host.
type RosterEntry struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Position *int   `json:"position"`
	Buzzed   bool   `json:"buzzed"`
	IsSelf   bool   `json:"is_self"`
	IsActive bool   `json:"is_active"`
	Score    int    `json:"score"`
}

// ScoreEntry is one row of the scoreboard.
type ScoreEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// You is the requesting player's own view.
type You struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position *int   `json:"position"`
	CanBuzz  bool   `json:"can_buzz"`
	Score    int    `json:"score"`
}

// Project builds the snapshot for viewer. It is pure: l is not modified.
func Project(l *models.Lobby, viewer Viewer) *State {
	s := &State{
		Code:          l.Code,
		Role:          viewer.Role,
		HostName:      l.HostName,
		Phase:         phaseOf(l),
		Locked:        l.Locked,
		BuzzOpen:      buzzWindowOpen(l),
		QuestionValue: l.QuestionValue,
		BuzzQueue:     make([]QueueEntry, 0, len(l.BuzzOrder)),
		Players:       make([]RosterEntry, 0, len(l.Players)),
		Scoreboard:    make([]ScoreEntry, 0, len(l.Players)),
		UpdatedAt:     l.UpdatedAt,
	}

	if p, ok := l.Players[l.ActivePlayerID]; ok {
		name := p.Name
		s.ActivePlayer = &name
	}

	for i, id := range l.BuzzOrder {
		p, ok := l.Players[id]
		if !ok {
			continue
		}
		entry := QueueEntry{
			Name:     p.Name,
			Position: i + 1,
			IsActive: id == l.ActivePlayerID,
		}
		if viewer.Role == RoleHost {
			entry.ID = id
		}
		s.BuzzQueue = append(s.BuzzQueue, entry)
	}

	for _, p := range l.Roster() {
		entry := RosterEntry{
			Name:     p.Name,
			Position: positionPtr(l, p.ID),
			Buzzed:   p.HasBuzzed(),
			IsSelf:   viewer.Role == RolePlayer && p.ID == viewer.PlayerID,
			IsActive: p.ID == l.ActivePlayerID,
			Score:    p.Score,
		}
		if viewer.Role == RoleHost {
			entry.ID = p.ID
		}
		s.Players = append(s.Players, entry)
	}

	s.Scoreboard = scoreboard(l)

	if viewer.Role == RolePlayer {
		if p, ok := l.Players[viewer.PlayerID]; ok {
			s.You = &You{
				ID:       p.ID,
				Name:     p.Name,
				Position: positionPtr(l, p.ID),
				CanBuzz:  canBuzz(l, p),
				Score:    p.Score,
			}
		}
	}
	return s
}

// scoreboard sorts players by score descending, then name ascending.
func scoreboard(l *models.Lobby) []ScoreEntry {
	out := make([]ScoreEntry, 0, len(l.Players))
	for _, p := range l.Players {
		out = append(out, ScoreEntry{Name: p.Name, Score: p.Score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func positionPtr(l *models.Lobby, playerID string) *int {
	if pos := position(l, playerID); pos > 0 {
		return &pos
	}
	return nil
}
