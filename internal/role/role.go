// Package role decides whether this participant drives playback for the
// session. The transport master always does. When the master is not known to
// run boombox, whoever issued the last executed play request takes over.
package role

import (
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("role")

// Identity is the participant identity, generated once per process. It is
// separate from the libp2p peer ID so that a restarted peer starts fresh.
type Identity string

func NewIdentity() Identity { return Identity(uuid.NewString()) }

type Tracker struct {
	self     Identity
	isMaster func() bool

	mu                       sync.RWMutex
	knownAuthorityHasFeature bool
	lastRequester            Identity
}

// Status is a point-in-time view for the API.
type Status struct {
	Self                     Identity `json:"self"`
	IsMaster                 bool     `json:"is_master"`
	ActsAsAuthority          bool     `json:"acts_as_authority"`
	KnownAuthorityHasFeature bool     `json:"known_authority_has_feature"`
	LastRequester            Identity `json:"last_requester,omitempty"`
}

func New(self Identity, isMaster func() bool) *Tracker {
	if isMaster == nil {
		isMaster = func() bool { return false }
	}
	return &Tracker{
		self:                     self,
		isMaster:                 isMaster,
		knownAuthorityHasFeature: isMaster(),
	}
}

func (t *Tracker) Self() Identity { return t.self }

func (t *Tracker) ActsAsAuthority() bool {
	if t.isMaster() {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.knownAuthorityHasFeature && t.lastRequester == t.self
}

// RecordAuthorityCapability is fed from playing_state messages whose sender
// claims to be the transport master.
func (t *Tracker) RecordAuthorityCapability(has bool) {
	t.mu.Lock()
	changed := t.knownAuthorityHasFeature != has
	t.knownAuthorityHasFeature = has
	t.mu.Unlock()
	if changed {
		log.Infof("session master runs boombox: %v", has)
	}
}

func (t *Tracker) SetLastRequester(id Identity) {
	t.mu.Lock()
	t.lastRequester = id
	t.mu.Unlock()
}

// Reset forgets the last requester and re-derives the capability flag from
// the current master status. Called when the session is lost.
func (t *Tracker) Reset() {
	master := t.isMaster()
	t.mu.Lock()
	t.lastRequester = ""
	t.knownAuthorityHasFeature = master
	t.mu.Unlock()
}

func (t *Tracker) Status() Status {
	master := t.isMaster()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		Self:                     t.self,
		IsMaster:                 master,
		ActsAsAuthority:          master || (!t.knownAuthorityHasFeature && t.lastRequester == t.self),
		KnownAuthorityHasFeature: t.knownAuthorityHasFeature,
		LastRequester:            t.lastRequester,
	}
}
