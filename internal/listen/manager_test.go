package listen

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/boombox/internal/audiotest"
	"github.com/petervdpas/boombox/internal/media"
	"github.com/petervdpas/boombox/internal/player"
	"github.com/petervdpas/boombox/internal/proto"
	"github.com/petervdpas/boombox/internal/role"
)

const refA = "https://www.youtube.com/watch?v=ABCDEFGHIJK"

type sent struct {
	target proto.Target
	msg    proto.SyncMsg
}

type fakeTransport struct {
	master    atomic.Bool
	connected atomic.Bool

	mu   sync.Mutex
	sent []sent
}

func (f *fakeTransport) Send(_ context.Context, target proto.Target, msg proto.SyncMsg) error {
	f.mu.Lock()
	f.sent = append(f.sent, sent{target, msg})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsMaster() bool  { return f.master.Load() }
func (f *fakeTransport) Connected() bool { return f.connected.Load() }

func (f *fakeTransport) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

// toneResolver stands in for the pipeline: every resolve loads the same tone
// under the reference's media ID.
type toneResolver struct {
	ctrl *player.Controller
	path string

	mu       sync.Mutex
	resolved []string
	cancels  atomic.Int32
}

func (r *toneResolver) Resolve(_ context.Context, reference, requester string) bool {
	r.mu.Lock()
	r.resolved = append(r.resolved, reference+"|"+requester)
	r.mu.Unlock()
	r.ctrl.SetCurrent(media.DeriveID(reference), "tone")
	<-r.ctrl.Load(r.path)
	return true
}

func (r *toneResolver) Cancel() { r.cancels.Add(1) }

func (r *toneResolver) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resolved...)
}

type peer struct {
	tr   *fakeTransport
	role *role.Tracker
	ctrl *player.Controller
	out  *player.NullOutput
	res  *toneResolver
	m    *Manager
}

func newPeer(t *testing.T, master bool) *peer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	audiotest.WriteTone(t, path, 10, 1000)

	p := &peer{tr: &fakeTransport{}}
	p.tr.master.Store(master)
	p.tr.connected.Store(true)
	p.role = role.New(role.NewIdentity(), p.tr.IsMaster)
	p.out = player.NewNullOutput(beep.SampleRate(audiotest.SampleRate))
	p.ctrl = player.NewController(p.role, p.out, player.DefaultOptions())
	p.res = &toneResolver{ctrl: p.ctrl, path: path}

	cfg := DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond
	p.m = New(cfg, p.tr, p.role, p.ctrl, p.res)
	t.Cleanup(p.m.Close)
	return p
}

func TestRequestPlayRejectsInvalidReference(t *testing.T) {
	t.Parallel()

	p := newPeer(t, true)
	err := p.m.RequestPlay(context.Background(), "https://example.com/song")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Empty(t, p.tr.messages())
}

func TestRequestPlayBroadcastsAndResolvesLocally(t *testing.T) {
	t.Parallel()

	p := newPeer(t, false)
	require.NoError(t, p.m.RequestPlay(context.Background(), refA))

	msgs := p.tr.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, proto.TargetAll, msgs[0].target)
	assert.Equal(t, proto.ActionPlayRequest, msgs[0].msg.Action)
	assert.Equal(t, string(p.role.Self()), msgs[0].msg.Requester)

	require.Eventually(t, func() bool { return len(p.res.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, refA+"|"+string(p.role.Self()), p.res.calls()[0])

	// Not master, master unknown to run boombox, we asked last: we drive.
	assert.True(t, p.role.ActsAsAuthority())
	assert.True(t, p.ctrl.IsPlaying())
}

func TestPlayRequestsAreDebounced(t *testing.T) {
	t.Parallel()

	p := newPeer(t, false)
	refB := "https://youtu.be/BBBBBBBBBBB"
	p.m.HandleMessage(proto.PlayRequest(refA, "alice"))
	p.m.HandleMessage(proto.PlayRequest(refB, "bob"))

	require.Eventually(t, func() bool { return len(p.res.calls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{refB + "|bob"}, p.res.calls())
	assert.Equal(t, role.Identity("bob"), p.role.Status().LastRequester)
}

func TestInvalidRemotePlayRequestIsDropped(t *testing.T) {
	t.Parallel()

	p := newPeer(t, false)
	p.m.HandleMessage(proto.PlayRequest("https://evil.example/x", "mallory"))
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, p.res.calls())
}

func TestRequestSeekRejectsNegative(t *testing.T) {
	t.Parallel()

	p := newPeer(t, true)
	assert.ErrorIs(t, p.m.RequestSeek(context.Background(), -1, true), ErrNegativeSeek)
	require.NoError(t, p.m.RequestSeek(context.Background(), 2, true))
	require.Len(t, p.tr.messages(), 1)
	assert.Equal(t, proto.ActionSeekRequest, p.tr.messages()[0].msg.Action)
}

func TestPlayingStateRecordsAuthorityCapability(t *testing.T) {
	t.Parallel()

	p := newPeer(t, false)
	assert.False(t, p.role.Status().KnownAuthorityHasFeature)

	p.m.HandleMessage(proto.PlayingState("", false, false))
	assert.False(t, p.role.Status().KnownAuthorityHasFeature, "non-master sender proves nothing")

	p.m.HandleMessage(proto.PlayingState("", false, true))
	assert.True(t, p.role.Status().KnownAuthorityHasFeature)
}

func TestTickBroadcastsOnlyAsAuthority(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()

	follower := newPeer(t, false)
	follower.m.tick(ctx, now)
	assert.Empty(t, follower.tr.messages())

	host := newPeer(t, true)
	host.m.tick(ctx, now)
	msgs := host.tr.messages()
	require.Len(t, msgs, 1, "stopped: playing state only")
	assert.Equal(t, proto.TargetOthers, msgs[0].target)
	assert.Equal(t, proto.ActionPlayingState, msgs[0].msg.Action)
	assert.True(t, msgs[0].msg.SenderIsAuthority)

	host.res.Resolve(ctx, refA, "x")
	require.True(t, host.ctrl.IsPlaying())
	host.tr.reset()

	host.m.tick(ctx, now.Add(time.Second))
	assert.Empty(t, host.tr.messages(), "inside the sync interval")

	host.m.tick(ctx, now.Add(6*time.Second))
	msgs = host.tr.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, proto.ActionPlayingState, msgs[0].msg.Action)
	assert.True(t, msgs[0].msg.Playing)
	assert.Equal(t, "ABCDEFGHIJK", msgs[0].msg.MediaID)
	assert.Equal(t, proto.ActionTimePulse, msgs[1].msg.Action)
	assert.Equal(t, "ABCDEFGHIJK", msgs[1].msg.MediaID)
}

func TestSessionLossResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newPeer(t, false)
	require.NoError(t, p.m.RequestPlay(ctx, refA))
	require.Eventually(t, p.ctrl.IsPlaying, time.Second, 5*time.Millisecond)

	p.m.tick(ctx, time.Now())
	p.tr.connected.Store(false)
	p.m.tick(ctx, time.Now())

	st := p.m.Status()
	assert.False(t, st.Connected)
	assert.False(t, st.Player.Playing)
	assert.Empty(t, st.Player.CurrentID)
	assert.Empty(t, st.Role.LastRequester)
	assert.EqualValues(t, 1, p.res.cancels.Load())
}

// relay wires two peers' transports together so sends arrive at the other.
func relay(t *testing.T, from, to *peer) {
	t.Helper()
	go func() {
		seen := 0
		for {
			msgs := from.tr.messages()
			for _, s := range msgs[seen:] {
				to.m.HandleMessage(s.msg)
			}
			seen = len(msgs)
			select {
			case <-time.After(5 * time.Millisecond):
			case <-t.Context().Done():
				return
			}
		}
	}()
}

func TestFollowerMirrorsAuthority(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	host := newPeer(t, true)
	guest := newPeer(t, false)
	relay(t, host, guest)
	relay(t, guest, host)

	// The master announces itself before anything plays.
	start := time.Now()
	host.m.tick(ctx, start)
	require.Eventually(t, func() bool { return guest.role.Status().KnownAuthorityHasFeature }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, guest.m.RequestPlay(ctx, refA))
	require.Eventually(t, func() bool { return host.ctrl.IsPlaying() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return guest.ctrl.State().ClipLoaded }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, guest.role.ActsAsAuthority())
	assert.False(t, guest.ctrl.IsPlaying(), "followers wait for the authority")

	host.out.Advance(4 * time.Second)
	host.m.tick(ctx, start.Add(6*time.Second))

	require.Eventually(t, guest.ctrl.IsPlaying, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return guest.ctrl.Position() > 3.5
	}, 2*time.Second, 5*time.Millisecond, "drift beyond threshold is corrected")

	require.NoError(t, guest.m.RequestStop(ctx))
	require.Eventually(t, func() bool { return !host.ctrl.IsPlaying() }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, guest.ctrl.IsPlaying())
}
