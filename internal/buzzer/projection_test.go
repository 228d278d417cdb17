// internal/buzzer/projection_test.go
package buzzer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHostView(t *testing.T) {
	l := lobbyWith(3, 100)
	l.Players["p2"].Score = 30
	l.Players["p3"].Score = 30
	buzz(l, "p3", 110, true)
	buzz(l, "p1", 111, true)
	require.NoError(t, confirmActive(l, "p3", 112))

	s := Project(l, Viewer{Role: RoleHost})

	assert.Equal(t, RoleHost, s.Role)
	assert.Nil(t, s.You)
	assert.Equal(t, PhaseResolving, s.Phase)
	require.NotNil(t, s.ActivePlayer)
	assert.Equal(t, "P3", *s.ActivePlayer)

	require.Len(t, s.BuzzQueue, 2)
	assert.Equal(t, QueueEntry{ID: "p3", Name: "P3", Position: 1, IsActive: true}, s.BuzzQueue[0])
	assert.Equal(t, QueueEntry{ID: "p1", Name: "P1", Position: 2}, s.BuzzQueue[1])

	require.Len(t, s.Players, 3)
	assert.Equal(t, "p1", s.Players[0].ID, "roster is in join order and reveals ids to the host")
	assert.False(t, s.Players[0].IsSelf)

	assert.Equal(t, []ScoreEntry{{"P2", 30}, {"P3", 30}, {"P1", 0}}, s.Scoreboard)
}

func TestProjectPlayerView(t *testing.T) {
	l := lobbyWith(2, 100)
	buzz(l, "p2", 110, true)

	s := Project(l, Viewer{Role: RolePlayer, PlayerID: "p2"})
	require.NotNil(t, s.You)
	assert.Equal(t, "p2", s.You.ID)
	require.NotNil(t, s.You.Position)
	assert.Equal(t, 1, *s.You.Position)
	assert.False(t, s.You.CanBuzz)

	for _, p := range s.Players {
		assert.Empty(t, p.ID, "players never see other ids")
		assert.Equal(t, p.Name == "P2", p.IsSelf)
	}

	for _, q := range s.BuzzQueue {
		assert.Empty(t, q.ID, "queue never reveals ids to players")
	}

	other := Project(l, Viewer{Role: RolePlayer, PlayerID: "p1"})
	assert.Nil(t, other.You.Position)
	assert.True(t, other.You.CanBuzz, "arrival window is still open")
}

func TestProjectNeverLeaksHostToken(t *testing.T) {
	l := lobbyWith(1, 100)
	l.HostToken = "secret-host-token"

	for _, v := range []Viewer{{Role: RoleHost}, {Role: RolePlayer, PlayerID: "p1"}} {
		raw, err := json.Marshal(Project(l, v))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "secret-host-token")
	}
}

func TestProjectIsPure(t *testing.T) {
	l := lobbyWith(2, 100)
	buzz(l, "p1", 110, true)
	before := l.Clone()

	Project(l, Viewer{Role: RoleHost})
	Project(l, Viewer{Role: RolePlayer, PlayerID: "p2"})

	assert.Equal(t, before, l)
}

func TestProjectEmptyLobbyUsesEmptyLists(t *testing.T) {
	raw, err := json.Marshal(Project(lobbyWith(0, 100), Viewer{Role: RoleHost}))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, []any{}, m["buzz_queue"])
	assert.Equal(t, []any{}, m["players"])
	assert.Nil(t, m["active_player"])
	assert.Equal(t, "open", m["phase"])
}

func TestProjectPlayerViewHidesRivalIDs(t *testing.T) {
	l := lobbyWith(2, 100)
	buzz(l, "p2", 110, true)
	require.NoError(t, confirmActive(l, "p2", 111))

	raw, err := json.Marshal(Project(l, Viewer{Role: RolePlayer, PlayerID: "p1"}))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"p2"`)

	host, err := json.Marshal(Project(l, Viewer{Role: RoleHost}))
	require.NoError(t, err)
	assert.Contains(t, string(host), `"id":"p2"`)
}
