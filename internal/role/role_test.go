package role

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIdentityIsUnique(t *testing.T) {
	t.Parallel()

	a, b := NewIdentity(), NewIdentity()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestMasterAlwaysActsAsAuthority(t *testing.T) {
	t.Parallel()

	tr := New(NewIdentity(), func() bool { return true })
	assert.True(t, tr.ActsAsAuthority())

	tr.RecordAuthorityCapability(true)
	tr.SetLastRequester("someone-else")
	assert.True(t, tr.ActsAsAuthority())
}

func TestFollowerDefersToCapableMaster(t *testing.T) {
	t.Parallel()

	self := NewIdentity()
	tr := New(self, func() bool { return false })
	tr.RecordAuthorityCapability(true)
	tr.SetLastRequester(self)

	assert.False(t, tr.ActsAsAuthority())
}

func TestLastRequesterTakesOverFromIncapableMaster(t *testing.T) {
	t.Parallel()

	self := NewIdentity()
	tr := New(self, func() bool { return false })
	assert.False(t, tr.ActsAsAuthority(), "nobody requested yet")

	tr.SetLastRequester(self)
	assert.True(t, tr.ActsAsAuthority())

	tr.SetLastRequester("other")
	assert.False(t, tr.ActsAsAuthority())
}

func TestResetRederivesFromMaster(t *testing.T) {
	t.Parallel()

	var master atomic.Bool
	self := NewIdentity()
	tr := New(self, master.Load)
	tr.RecordAuthorityCapability(true)
	tr.SetLastRequester(self)

	tr.Reset()
	st := tr.Status()
	assert.False(t, st.KnownAuthorityHasFeature)
	assert.Empty(t, st.LastRequester)
	assert.False(t, st.ActsAsAuthority)

	master.Store(true)
	tr.Reset()
	assert.True(t, tr.Status().KnownAuthorityHasFeature)
	assert.True(t, tr.ActsAsAuthority())
}
