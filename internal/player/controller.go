// Package player owns the single "now playing" slot: the decoded clip, its
// position and whether it is playing. Everything else goes through
// Controller.
package player

import (
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/media"
	"github.com/petervdpas/boombox/internal/util"
)

var log = logging.Logger("player")

// Role is the slice of role.Tracker the controller consults.
type Role interface {
	ActsAsAuthority() bool
	Reset()
}

type Options struct {
	DriftThreshold float64 // seconds
	Volume         float64 // 0..1

	VocalLow   float64
	VocalHigh  float64
	SampleSize int
}

func DefaultOptions() Options {
	return Options{
		DriftThreshold: 1.5,
		Volume:         0.45,
		VocalLow:       300,
		VocalHigh:      3400,
		SampleSize:     256,
	}
}

type Controller struct {
	role Role
	out  Output
	opts Options

	mu      sync.Mutex
	id      media.ID
	title   string
	status  LoadStatus
	clip    *Clip
	stream  beep.StreamSeeker
	ctrl    *beep.Ctrl
	vol     *effects.Volume
	volume  float64
	playing bool
	level   float64

	// attached is true while the current chain is registered with out; a
	// chain that ran to the end has been dropped by the mixer.
	attached bool

	// loadGen invalidates in-flight decodes; chainGen invalidates end-of-clip
	// callbacks from replaced chains.
	loadGen  uint64
	chainGen uint64

	ring *util.RingBuffer[float64]

	subMu sync.Mutex
	subs  map[chan State]struct{}
}

func NewController(role Role, out Output, opts Options) *Controller {
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = DefaultOptions().DriftThreshold
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultOptions().SampleSize
	}
	return &Controller{
		role:   role,
		out:    out,
		opts:   opts,
		volume: util.Clamp(opts.Volume, 0, 1),
		status: Loaded,
		ring:   util.NewRingBuffer[float64](2 * opts.SampleSize),
		subs:   make(map[chan State]struct{}),
	}
}

// SetCurrent records the media the session is about to play. Sync messages
// are matched against this ID from now on.
func (c *Controller) SetCurrent(id media.ID, title string) {
	c.mu.Lock()
	c.id = id
	c.title = title
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) SetTitle(title string) {
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) CurrentID() media.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Controller) SetStatus(s LoadStatus) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		log.Debugf("load status -> %s", s)
		c.notify()
	}
}

// Load decodes path in the background. The returned channel yields the
// decode error (nil on success) and is then closed. A later Load or
// StopAndReset discards this one. On success the clip is installed and, if
// this peer acts as authority, starts playing.
func (c *Controller) Load(path string) <-chan error {
	c.mu.Lock()
	c.loadGen++
	gen := c.loadGen
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		clip, err := DecodeFile(path, c.out.SampleRate())
		done <- c.finishLoad(gen, clip, err)
	}()
	return done
}

// CancelLoad discards any decode still in flight and stops the installed
// clip, so nothing keeps playing under a media ID it doesn't belong to.
func (c *Controller) CancelLoad() {
	c.mu.Lock()
	c.loadGen++
	stopped := c.playing && c.stopLocked()
	c.mu.Unlock()
	if stopped {
		c.notify()
	}
}

func (c *Controller) finishLoad(gen uint64, clip *Clip, err error) error {
	c.mu.Lock()
	if gen != c.loadGen {
		c.mu.Unlock()
		log.Debugf("discarding superseded load")
		return nil
	}
	if err != nil {
		c.status = Error
		c.mu.Unlock()
		log.Errorf("failed to load audio: %v", err)
		c.notify()
		return err
	}

	c.installLocked(clip)
	c.status = Loaded
	autoplay := c.role.ActsAsAuthority()
	if autoplay {
		c.playLocked()
	}
	id := c.id
	c.mu.Unlock()

	log.Infof("loaded %s (%.1fs), autoplay=%v", id, clip.Length(), autoplay)
	c.notify()
	return nil
}

// installLocked replaces the clip and builds a fresh paused chain:
// volume(ctrl(seq(tap(clip), end callback))).
func (c *Controller) installLocked(clip *Clip) {
	c.detachLocked()
	c.clip = clip
	c.ring.Reset()
	c.stream = clip.streamer()
	c.attachLocked()
}

func (c *Controller) attachLocked() {
	c.chainGen++
	gen := c.chainGen
	c.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(newTap(c.stream, c.ring), beep.Callback(func() {
			// Runs under the output lock; take c.mu elsewhere.
			go c.ended(gen)
		})),
		Paused: true,
	}
	c.vol = &effects.Volume{Streamer: c.ctrl, Base: 2}
	c.applyVolumeLocked()
	c.out.Play(c.vol)
	c.attached = true
}

func (c *Controller) detachLocked() {
	if !c.attached {
		return
	}
	c.out.Lock()
	c.ctrl.Streamer = nil
	c.out.Unlock()
	c.attached = false
	c.playing = false
}

// Close silences the output for shutdown. Pending loads are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.loadGen++
	c.detachLocked()
	c.mu.Unlock()
	c.out.Clear()
	c.notify()
}

func (c *Controller) ended(gen uint64) {
	c.mu.Lock()
	if gen != c.chainGen {
		c.mu.Unlock()
		return
	}
	c.attached = false
	c.playing = false
	c.mu.Unlock()
	log.Debugf("clip finished")
	c.notify()
}

func (c *Controller) Play() {
	c.mu.Lock()
	ok := c.playLocked()
	c.mu.Unlock()
	if ok {
		c.notify()
	}
}

func (c *Controller) playLocked() bool {
	if c.clip == nil {
		return false
	}
	if !c.attached {
		// Previous chain ran off the end; restart from the top.
		c.stream = c.clip.streamer()
		c.attachLocked()
	}
	c.out.Lock()
	c.ctrl.Paused = false
	c.out.Unlock()
	c.playing = true
	return true
}

// Stop pauses and rewinds to the start.
func (c *Controller) Stop() {
	c.mu.Lock()
	ok := c.stopLocked()
	c.mu.Unlock()
	if ok {
		c.notify()
	}
}

func (c *Controller) stopLocked() bool {
	if c.clip == nil {
		c.playing = false
		return false
	}
	if c.attached {
		c.out.Lock()
		c.ctrl.Paused = true
		_ = c.stream.Seek(0)
		c.out.Unlock()
	}
	c.playing = false
	return true
}

// SeekRelative moves by delta seconds, backwards unless forward is set. A
// negative delta is rejected. The target is clamped to [0, length].
func (c *Controller) SeekRelative(delta float64, forward bool) bool {
	if delta < 0 || math.IsNaN(delta) {
		log.Warnf("rejecting seek by %v", delta)
		return false
	}
	c.mu.Lock()
	if c.clip == nil {
		c.mu.Unlock()
		return false
	}
	pos := c.positionLocked()
	if forward {
		pos += delta
	} else {
		pos -= delta
	}
	c.seekLocked(util.Clamp(pos, 0, c.clip.Length()))
	c.mu.Unlock()
	c.notify()
	return true
}

// ApplyAuthoritativePlayingState mirrors the authority's playing flag. It is a
// no-op on the authority itself.
func (c *Controller) ApplyAuthoritativePlayingState(id media.ID, playing bool) {
	if c.role.ActsAsAuthority() {
		return
	}

	c.mu.Lock()
	changed := false
	switch {
	case !c.playing && playing && c.clip != nil && id == c.id:
		log.Infof("authority is playing %s, starting", id)
		changed = c.playLocked()
	case c.playing && (!playing || id != c.id):
		log.Infof("authority stopped or switched (%s), stopping", id)
		changed = c.stopLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// ApplyAuthoritativeTime corrects drift. It only acts on followers with the
// same clip loaded, for positions inside the clip, and when the gap exceeds
// the drift threshold. Returns whether the position was changed.
func (c *Controller) ApplyAuthoritativeTime(id media.ID, position float64) bool {
	if c.role.ActsAsAuthority() {
		return false
	}

	c.mu.Lock()
	if c.clip == nil || id != c.id {
		c.mu.Unlock()
		log.Warnf("ignoring time pulse for %s at %.2f", id, position)
		return false
	}
	if position < 0 || position >= c.clip.Length() || math.IsNaN(position) {
		c.mu.Unlock()
		log.Warnf("invalid time pulse received: %.2f", position)
		return false
	}
	local := c.positionLocked()
	if math.Abs(local-position) <= c.opts.DriftThreshold {
		c.mu.Unlock()
		return false
	}
	c.seekLocked(position)
	c.mu.Unlock()

	log.Debugf("drift %.2fs corrected to %.2f", local-position, position)
	c.notify()
	return true
}

// StopAndReset is the session-lost path: drop any pending load, stop, forget
// the current media and reset the role.
func (c *Controller) StopAndReset() {
	c.mu.Lock()
	c.loadGen++
	c.stopLocked()
	c.status = Loaded
	c.id = ""
	c.title = ""
	c.level = 0
	c.mu.Unlock()

	c.role.Reset()
	c.notify()
}

// SetVolume takes a linear 0..1 gain. 0 mutes.
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	c.volume = util.Clamp(v, 0, 1)
	if c.attached {
		c.out.Lock()
		c.applyVolumeLocked()
		c.out.Unlock()
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) applyVolumeLocked() {
	if c.vol == nil {
		return
	}
	c.vol.Silent = c.volume <= 0
	if !c.vol.Silent {
		c.vol.Volume = math.Log2(c.volume)
	}
}

// SampleLevel refreshes the vocal band meter from the most recent audio.
func (c *Controller) SampleLevel() float64 {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()

	level := 0.0
	if playing {
		n := 2 * c.opts.SampleSize
		if c.ring.Len() >= n {
			level = BandLevel(c.ring.Last(n), c.out.SampleRate(), c.opts.SampleSize, c.opts.VocalLow, c.opts.VocalHigh)
		}
	}

	c.mu.Lock()
	c.level = level
	c.mu.Unlock()
	return level
}

func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		CurrentID:  c.id,
		Title:      c.title,
		ClipLoaded: c.clip != nil,
		Playing:    c.playing,
		Position:   c.positionLocked(),
		Status:     c.status,
		Volume:     c.volume,
		Level:      c.level,
		UpdatedAt:  time.Now(),
	}
	if c.clip != nil {
		st.Length = c.clip.Length()
	}
	return st
}

func (c *Controller) positionLocked() float64 {
	if c.clip == nil {
		return 0
	}
	if !c.attached {
		if c.stream == nil {
			return 0
		}
		return c.clip.rate.D(c.stream.Position()).Seconds()
	}
	c.out.Lock()
	p := c.stream.Position()
	c.out.Unlock()
	return c.clip.rate.D(p).Seconds()
}

func (c *Controller) seekLocked(seconds float64) {
	frames := c.clip.rate.N(time.Duration(seconds * float64(time.Second)))
	if frames > c.clip.Frames() {
		frames = c.clip.Frames()
	}
	if !c.attached {
		// Re-arm a finished chain at the new position, paused.
		c.stream = c.clip.streamer()
		_ = c.stream.Seek(frames)
		c.attachLocked()
		return
	}
	c.out.Lock()
	if err := c.stream.Seek(frames); err != nil {
		log.Warnf("seek to %.2f: %v", seconds, err)
	}
	c.out.Unlock()
}

// Subscribe returns a channel of state snapshots pushed on every change.
// Slow readers miss updates rather than block the controller.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) notify() {
	st := c.State()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
