// Package listen runs the shared-playback protocol for one session: local
// requests go out to every participant, the acting authority periodically
// broadcasts its playing state and position, and followers reconcile.
package listen

import (
	"context"
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/debounce"
	"github.com/petervdpas/boombox/internal/media"
	"github.com/petervdpas/boombox/internal/player"
	"github.com/petervdpas/boombox/internal/proto"
	"github.com/petervdpas/boombox/internal/role"
)

var log = logging.Logger("listen")

var (
	ErrInvalidReference = errors.New("reference is not a supported youtube url")
	ErrNegativeSeek     = errors.New("seek seconds must be >= 0")
)

// Transport delivers sync messages to the session. Messages sent to
// proto.TargetAll are also handled locally by the Manager; the transport
// never echoes our own messages back.
type Transport interface {
	Send(ctx context.Context, target proto.Target, msg proto.SyncMsg) error
	IsMaster() bool
	Connected() bool
}

// Resolver is the acquisition pipeline as seen from the protocol.
type Resolver interface {
	Resolve(ctx context.Context, reference, requester string) bool
	Cancel()
}

type Config struct {
	SyncInterval       time.Duration
	Tick               time.Duration
	Debounce           time.Duration
	VisualizerInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SyncInterval:       5 * time.Second,
		Tick:               50 * time.Millisecond,
		Debounce:           debounce.DefaultDelay,
		VisualizerInterval: 50 * time.Millisecond,
	}
}

// Status is what the local API reports.
type Status struct {
	Player    player.State `json:"player"`
	Role      role.Status  `json:"role"`
	Connected bool         `json:"connected"`
}

type Manager struct {
	cfg   Config
	tr    Transport
	role  *role.Tracker
	ctrl  *player.Controller
	res   Resolver
	plays *debounce.Debouncer[proto.SyncMsg]

	mu            sync.Mutex
	runCtx        context.Context
	lastConnected bool
	lastSync      time.Time
	lastLevel     time.Time
}

func New(cfg Config, tr Transport, rt *role.Tracker, ctrl *player.Controller, res Resolver) *Manager {
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.VisualizerInterval <= 0 {
		cfg.VisualizerInterval = def.VisualizerInterval
	}
	m := &Manager{
		cfg:    cfg,
		tr:     tr,
		role:   rt,
		ctrl:   ctrl,
		res:    res,
		runCtx: context.Background(),
	}
	m.plays = debounce.New(cfg.Debounce, m.executePlay)
	return m
}

// ── Local requests ───────────────────────────────────────────────────────────

// RequestPlay asks every participant, including this one, to play reference.
func (m *Manager) RequestPlay(ctx context.Context, reference string) error {
	if !media.IsValidReference(reference) {
		return ErrInvalidReference
	}
	return m.broadcast(ctx, proto.TargetAll, proto.PlayRequest(reference, string(m.role.Self())))
}

func (m *Manager) RequestStop(ctx context.Context) error {
	return m.broadcast(ctx, proto.TargetAll, proto.StopRequest())
}

// RequestSeek moves every participant by seconds, backwards unless forward.
func (m *Manager) RequestSeek(ctx context.Context, seconds float64, forward bool) error {
	if seconds < 0 {
		return ErrNegativeSeek
	}
	return m.broadcast(ctx, proto.TargetAll, proto.SeekRequest(seconds, forward))
}

// broadcast applies TargetAll messages locally first. Transport failures are
// logged and not returned; the local effect already happened.
func (m *Manager) broadcast(ctx context.Context, target proto.Target, msg proto.SyncMsg) error {
	if target == proto.TargetAll {
		m.HandleMessage(msg)
	}
	if !m.tr.Connected() {
		log.Debugf("not in a session, %s stays local", msg.Action)
		return nil
	}
	if err := m.tr.Send(ctx, target, msg); err != nil {
		log.Warnf("send %s to %s: %v", msg.Action, target, err)
	}
	return nil
}

// ── Inbound ──────────────────────────────────────────────────────────────────

// HandleMessage applies one sync message, local or remote.
func (m *Manager) HandleMessage(msg proto.SyncMsg) {
	switch msg.Action {
	case proto.ActionPlayRequest:
		if !media.IsValidReference(msg.Reference) {
			log.Warnf("dropping play request with invalid reference %q from %s", msg.Reference, msg.From)
			return
		}
		log.Infof("got play request from %s", msg.Requester)
		m.plays.Submit(msg)

	case proto.ActionStopRequest:
		log.Infof("got stop request")
		m.ctrl.Stop()

	case proto.ActionSeekRequest:
		log.Infof("got seek request (%.1fs, forward=%v)", msg.Delta, msg.Forward)
		m.ctrl.SeekRelative(msg.Delta, msg.Forward)

	case proto.ActionPlayingState:
		log.Debugf("got playing state %s playing=%v authority=%v", msg.MediaID, msg.Playing, msg.SenderIsAuthority)
		if msg.SenderIsAuthority {
			m.role.RecordAuthorityCapability(true)
		}
		m.ctrl.ApplyAuthoritativePlayingState(media.ID(msg.MediaID), msg.Playing)

	case proto.ActionTimePulse:
		log.Debugf("got time pulse %s at %.2f", msg.MediaID, msg.Position)
		m.ctrl.ApplyAuthoritativeTime(media.ID(msg.MediaID), msg.Position)

	default:
		log.Debugf("ignoring unknown action %q", msg.Action)
	}
}

// executePlay runs once per debounce window with the last play request.
func (m *Manager) executePlay(msg proto.SyncMsg) {
	m.role.SetLastRequester(role.Identity(msg.Requester))

	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()

	m.res.Resolve(ctx, msg.Reference, msg.Requester)
}

// ── Tick loop ────────────────────────────────────────────────────────────────

// Run drives session-loss detection, authority broadcasts and the level
// meter until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	t := time.NewTicker(m.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case now := <-t.C:
			m.tick(ctx, now)
		}
	}
}

func (m *Manager) tick(ctx context.Context, now time.Time) {
	connected := m.tr.Connected()

	m.mu.Lock()
	lost := m.lastConnected && !connected
	m.lastConnected = connected
	dueSync := now.Sub(m.lastSync) > m.cfg.SyncInterval
	dueLevel := now.Sub(m.lastLevel) >= m.cfg.VisualizerInterval
	if dueLevel {
		m.lastLevel = now
	}
	m.mu.Unlock()

	if lost {
		log.Infof("session lost, resetting audio")
		m.ResetSession()
	}

	if connected && dueSync && m.role.ActsAsAuthority() {
		m.syncOut(ctx)
		m.mu.Lock()
		m.lastSync = now
		m.mu.Unlock()
	}

	if dueLevel {
		m.ctrl.SampleLevel()
	}
}

// ResetSession drops any running acquisition and returns playback and the
// authority heuristic to their initial state.
func (m *Manager) ResetSession() {
	m.res.Cancel()
	m.ctrl.StopAndReset()
}

func (m *Manager) syncOut(ctx context.Context) {
	id := string(m.ctrl.CurrentID())
	playing := m.ctrl.IsPlaying()

	if err := m.tr.Send(ctx, proto.TargetOthers, proto.PlayingState(id, playing, m.tr.IsMaster())); err != nil {
		log.Warnf("send playing state: %v", err)
	}
	if playing {
		if err := m.tr.Send(ctx, proto.TargetOthers, proto.TimePulse(id, m.ctrl.Position())); err != nil {
			log.Warnf("send time pulse: %v", err)
		}
	}
}

func (m *Manager) Status() Status {
	return Status{
		Player:    m.ctrl.State(),
		Role:      m.role.Status(),
		Connected: m.tr.Connected(),
	}
}

// Close drops pending play requests and any running download.
func (m *Manager) Close() {
	m.plays.Stop()
	m.res.Cancel()
}
