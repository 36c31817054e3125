package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertKeepsRequesterAcrossPulses(t *testing.T) {
	t.Parallel()

	tbl := NewMemberTable()
	tbl.Upsert("b", "alice", "play_request", false)
	tbl.Upsert("b", "", "time_pulse", true)

	m, ok := tbl.Get("b")
	require.True(t, ok)
	assert.Equal(t, "alice", m.Requester)
	assert.Equal(t, "time_pulse", m.LastAction)
	assert.True(t, m.IsMaster)
	assert.True(t, m.Online())
}

func TestSnapshotIsSorted(t *testing.T) {
	t.Parallel()

	tbl := NewMemberTable()
	for _, id := range []string{"c", "a", "b"} {
		tbl.Upsert(id, "", "", false)
	}
	var ids []string
	for _, m := range tbl.Snapshot() {
		ids = append(ids, m.PeerID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestPruneStaleMarksThenRemoves(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	tbl := NewMemberTable()
	tbl.now = func() time.Time { return now }
	tbl.Upsert("a", "", "", false)

	now = now.Add(time.Minute)
	tbl.PruneStale(now.Add(-30*time.Second), now.Add(-time.Hour))
	m, ok := tbl.Get("a")
	require.True(t, ok)
	assert.False(t, m.Online())

	now = now.Add(time.Minute)
	tbl.PruneStale(now.Add(-30*time.Second), now.Add(-30*time.Second))
	_, ok = tbl.Get("a")
	assert.False(t, ok)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	t.Parallel()

	tbl := NewMemberTable()
	ch := tbl.Subscribe()
	tbl.Upsert("a", "", "", false)
	tbl.Clear()

	evt := <-ch
	assert.Equal(t, "update", evt.Type)
	evt = <-ch
	assert.Equal(t, "snapshot", evt.Type)
	assert.Empty(t, evt.Members)

	tbl.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
