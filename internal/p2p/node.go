package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/petervdpas/boombox/internal/proto"
	"github.com/petervdpas/boombox/internal/state"
	"github.com/petervdpas/boombox/internal/util"
)

var log = logging.Logger("p2p")

var ErrNotInSession = errors.New("not in a session")

func init() {
	// Dial failures and backoff errors go to stderr by default.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

const (
	DefaultMemberTTL   = 20 * time.Second
	DefaultMemberGrace = time.Minute
	memberScanInterval = 2 * time.Second
)

type Options struct {
	ListenPort int
	KeyFile    string

	// Empty disables LAN discovery.
	MdnsTag        string
	BootstrapPeers []string

	// Pins the master. Empty elects the lowest peer id on the topic.
	HostPeerID string

	MemberTTL   time.Duration
	MemberGrace time.Duration
}

type Node struct {
	Host    host.Host
	ps      *pubsub.PubSub
	members *state.MemberTable
	opts    Options

	mu      sync.Mutex
	room    string
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	handler func(proto.SyncMsg)
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Debugf("mdns: connect %s: %v", pi.ID, err)
	}
}

// loadOrCreateKey loads the persistent identity key, generating and saving
// an Ed25519 key on first run or when the stored one is unreadable.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Warnf("corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

func New(ctx context.Context, opts Options, members *state.MemberTable) (*Node, error) {
	if opts.MemberTTL <= 0 {
		opts.MemberTTL = DefaultMemberTTL
	}
	if opts.MemberGrace <= 0 {
		opts.MemberGrace = DefaultMemberGrace
	}
	if members == nil {
		members = state.NewMemberTable()
	}

	priv, isNew, err := loadOrCreateKey(opts.KeyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Infof("generated new identity key: %s", opts.KeyFile)
	} else {
		log.Infof("loaded identity key: %s", opts.KeyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	if opts.MdnsTag != "" {
		md := mdns.NewMdnsService(h, opts.MdnsTag, &mdnsNotifee{h: h})
		if err := md.Start(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	n := &Node{
		Host:    h,
		ps:      ps,
		members: members,
		opts:    opts,
	}

	if len(opts.BootstrapPeers) > 0 {
		go n.connectBootstrap(ctx, opts.BootstrapPeers)
	}

	return n, nil
}

func (n *Node) connectBootstrap(ctx context.Context, addrs []string) {
	for _, raw := range addrs {
		addr, err := ma.NewMultiaddr(strings.TrimSpace(raw))
		if err != nil {
			log.Warnf("bootstrap: %q: %v", raw, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Warnf("bootstrap: %q: %v", raw, err)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
		err = n.Host.Connect(cctx, *pi)
		cancel()
		if err != nil {
			log.Warnf("bootstrap: connect %s: %v", pi.ID, err)
			continue
		}
		log.Infof("bootstrap: connected to %s", pi.ID)
	}
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

func (n *Node) Members() *state.MemberTable {
	return n.members
}

// SetHandler installs the receiver for session messages from other peers.
func (n *Node) SetHandler(h func(proto.SyncMsg)) {
	n.mu.Lock()
	n.handler = h
	n.mu.Unlock()
}

// JoinSession subscribes to the room's topic, leaving any previous room.
// Joining the room already joined is a no-op.
func (n *Node) JoinSession(room string) error {
	room, err := util.ValidateRoomName(room)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.room == room {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	n.LeaveSession()

	topic, err := n.ps.Join(proto.SessionTopic(room))
	if err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return fmt.Errorf("subscribe %s: %w", room, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	n.mu.Lock()
	n.room = room
	n.topic = topic
	n.sub = sub
	n.cancel = cancel
	n.done = done
	n.mu.Unlock()

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.scanMembers(ctx, topic)
		}()
		n.readLoop(ctx, sub)
		wg.Wait()
	}()

	log.Infof("joined session %s", room)
	return nil
}

// LeaveSession drops the current topic. Safe to call when not in a session.
func (n *Node) LeaveSession() {
	n.mu.Lock()
	room, topic, sub, cancel, done := n.room, n.topic, n.sub, n.cancel, n.done
	n.room, n.topic, n.sub, n.cancel, n.done = "", nil, nil, nil, nil
	n.mu.Unlock()

	if topic == nil {
		return
	}
	cancel()
	sub.Cancel()
	<-done
	if err := topic.Close(); err != nil {
		log.Warnf("close topic %s: %v", room, err)
	}
	n.members.Clear()
	log.Infof("left session %s", room)
}

func (n *Node) Room() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.room
}

func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.topic != nil
}

// Send publishes msg on the session topic. Delivery to self is the caller's
// job, so target only matters to the caller.
func (n *Node) Send(ctx context.Context, target proto.Target, msg proto.SyncMsg) error {
	n.mu.Lock()
	topic := n.topic
	n.mu.Unlock()
	if topic == nil {
		return ErrNotInSession
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := topic.Publish(ctx, b); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Action, target, err)
	}
	return nil
}

// IsMaster reports whether this peer is the session master. Outside a
// session nobody is.
func (n *Node) IsMaster() bool {
	master := n.MasterID()
	return master != "" && master == n.ID()
}

// MasterID returns the pinned host peer when configured, otherwise the
// lowest peer id among the topic's subscribers and self.
func (n *Node) MasterID() string {
	n.mu.Lock()
	topic := n.topic
	n.mu.Unlock()
	if topic == nil {
		return ""
	}
	if n.opts.HostPeerID != "" {
		return n.opts.HostPeerID
	}
	ids := []string{n.ID()}
	for _, pid := range topic.ListPeers() {
		ids = append(ids, pid.String())
	}
	return lowestID(ids)
}

func lowestID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	low := ids[0]
	for _, id := range ids[1:] {
		if id < low {
			low = id
		}
	}
	return low
}

func (n *Node) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	self := n.Host.ID()
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return
		}
		from := m.GetFrom()
		if from == self {
			continue
		}

		var msg proto.SyncMsg
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Debugf("drop malformed message from %s: %v", from, err)
			continue
		}
		if msg.Action == "" {
			continue
		}
		msg.From = from.String()

		n.members.Upsert(msg.From, msg.Requester, msg.Action, msg.From == n.MasterID())

		n.mu.Lock()
		h := n.handler
		n.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

// scanMembers keeps the member table in line with the topic's subscribers,
// including peers that never send anything.
func (n *Node) scanMembers(ctx context.Context, topic *pubsub.Topic) {
	t := time.NewTicker(memberScanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			master := n.MasterID()
			for _, pid := range topic.ListPeers() {
				id := pid.String()
				if m, ok := n.members.Get(id); ok && m.Online() {
					n.members.Touch(id)
					continue
				}
				n.members.Upsert(id, "", "", id == master)
			}
			n.members.PruneStale(now.Add(-n.opts.MemberTTL), now.Add(-n.opts.MemberGrace))
		}
	}
}

func (n *Node) Close() error {
	n.LeaveSession()
	return n.Host.Close()
}
