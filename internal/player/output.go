package player

import (
	"context"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Output is where the controller sends audio. Lock guards every streamer the
// output currently plays.
type Output interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Clear()
	Lock()
	Unlock()
}

// SpeakerOutput plays through the default sound device.
type SpeakerOutput struct {
	rate beep.SampleRate
}

func NewSpeakerOutput(rate beep.SampleRate) (*SpeakerOutput, error) {
	if err := speaker.Init(rate, rate.N(100*time.Millisecond)); err != nil {
		return nil, err
	}
	return &SpeakerOutput{rate: rate}, nil
}

func (o *SpeakerOutput) SampleRate() beep.SampleRate { return o.rate }
func (o *SpeakerOutput) Play(s beep.Streamer)         { speaker.Play(s) }
func (o *SpeakerOutput) Clear()                       { speaker.Clear() }
func (o *SpeakerOutput) Lock()                        { speaker.Lock() }
func (o *SpeakerOutput) Unlock()                      { speaker.Unlock() }

// NullOutput mixes and discards audio. Run drains it in real time for
// headless peers; tests call Advance to move time by hand.
type NullOutput struct {
	rate  beep.SampleRate
	mu    sync.Mutex
	mixer beep.Mixer
	buf   [][2]float64
}

func NewNullOutput(rate beep.SampleRate) *NullOutput {
	return &NullOutput{rate: rate}
}

func (o *NullOutput) SampleRate() beep.SampleRate { return o.rate }

func (o *NullOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	o.mixer.Add(s)
	o.mu.Unlock()
}

func (o *NullOutput) Clear() {
	o.mu.Lock()
	o.mixer.Clear()
	o.mu.Unlock()
}

func (o *NullOutput) Lock()   { o.mu.Lock() }
func (o *NullOutput) Unlock() { o.mu.Unlock() }

// Advance pulls d worth of samples through every playing streamer.
func (o *NullOutput) Advance(d time.Duration) {
	n := o.rate.N(d)
	o.mu.Lock()
	defer o.mu.Unlock()
	if cap(o.buf) < n {
		o.buf = make([][2]float64, n)
	}
	o.mixer.Stream(o.buf[:n])
}

func (o *NullOutput) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			o.Advance(now.Sub(last))
			last = now
		}
	}
}
