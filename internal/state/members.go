package state

import (
	"sort"
	"sync"
	"time"
)

// Member is one participant seen on the session topic.
type Member struct {
	PeerID       string    `json:"peer_id"`
	Requester    string    `json:"requester,omitempty"`
	IsMaster     bool      `json:"is_master"`
	LastAction   string    `json:"last_action,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	OfflineSince time.Time `json:"offline_since,omitzero"`
}

func (m Member) Online() bool { return m.OfflineSince.IsZero() }

type MemberEvent struct {
	Type    string   `json:"type"`
	PeerID  string   `json:"peer_id,omitempty"`
	Member  *Member  `json:"member,omitempty"`
	Members []Member `json:"members,omitempty"`
}

type MemberTable struct {
	mu        sync.Mutex
	members   map[string]Member
	listeners []chan MemberEvent
	now       func() time.Time
}

func NewMemberTable() *MemberTable {
	return &MemberTable{
		members: map[string]Member{},
		now:     time.Now,
	}
}

// Upsert records traffic from a peer. Requester and action are only
// overwritten when non-empty so a time pulse does not erase who asked last.
func (t *MemberTable) Upsert(id, requester, action string, isMaster bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.members[id]
	m.PeerID = id
	if requester != "" {
		m.Requester = requester
	}
	if action != "" {
		m.LastAction = action
	}
	m.IsMaster = isMaster
	m.LastSeen = t.now()
	m.OfflineSince = time.Time{}
	t.members[id] = m
	t.notifyListeners(MemberEvent{Type: "update", PeerID: id, Member: &m})
}

func (t *MemberTable) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[id]
	if !ok {
		return
	}
	m.LastSeen = t.now()
	t.members[id] = m
}

func (t *MemberTable) Get(id string) (Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[id]
	return m, ok
}

// Clear drops every member, used when the session is left.
func (t *MemberTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = map[string]Member{}
	t.notifyListeners(MemberEvent{Type: "snapshot", Members: []Member{}})
}

// Snapshot returns members ordered by peer id.
func (t *MemberTable) Snapshot() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// PruneStale marks members unseen since ttlCutoff as offline, then removes
// offline members whose grace period ended before graceCutoff.
func (t *MemberTable) PruneStale(ttlCutoff, graceCutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, m := range t.members {
		if m.Online() {
			if m.LastSeen.Before(ttlCutoff) {
				m.OfflineSince = t.now()
				t.members[id] = m
				t.notifyListeners(MemberEvent{Type: "update", PeerID: id, Member: &m})
			}
			continue
		}
		if m.OfflineSince.Before(graceCutoff) {
			delete(t.members, id)
			t.notifyListeners(MemberEvent{Type: "remove", PeerID: id})
		}
	}
}

func (t *MemberTable) Subscribe() chan MemberEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan MemberEvent, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *MemberTable) Unsubscribe(ch chan MemberEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *MemberTable) notifyListeners(evt MemberEvent) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
