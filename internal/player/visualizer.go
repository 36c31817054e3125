package player

import (
	"math"
	"math/cmplx"

	"github.com/faiface/beep"
	"github.com/mjibson/go-dsp/fft"

	"github.com/petervdpas/boombox/internal/util"
)

// tap copies a mono mix of everything streamed through it into a ring
// buffer for the level meter.
type tap struct {
	s    beep.Streamer
	ring *util.RingBuffer[float64]
	mono []float64
}

func newTap(s beep.Streamer, ring *util.RingBuffer[float64]) *tap {
	return &tap{s: s, ring: ring}
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	if n > 0 {
		if cap(t.mono) < n {
			t.mono = make([]float64, n)
		}
		mono := t.mono[:n]
		for i := 0; i < n; i++ {
			mono[i] = (samples[i][0] + samples[i][1]) / 2
		}
		t.ring.PushAll(mono)
	}
	return n, ok
}

func (t *tap) Err() error { return t.s.Err() }

// BandLevel is the mouth-open meter: the average normalized FFT magnitude of
// the vocal band, scaled by 50 and clamped to [0, 1]. samples must hold
// 2*bins values; bins are rate/2/bins Hz wide.
func BandLevel(samples []float64, rate beep.SampleRate, bins int, low, high float64) float64 {
	n := 2 * bins
	if len(samples) < n || bins == 0 {
		return 0
	}

	window := make([]float64, n)
	for i := 0; i < n; i++ {
		window[i] = samples[len(samples)-n+i] * blackmanHarris(i, n)
	}
	coeffs := fft.FFTReal(window)

	res := float64(rate) / 2 / float64(bins)
	minIdx := int(math.Floor(low / res))
	maxIdx := int(math.Ceil(high / res))
	if maxIdx < minIdx {
		return 0
	}

	var sum float64
	for i := minIdx; i <= maxIdx && i < bins; i++ {
		sum += cmplx.Abs(coeffs[i]) / float64(n)
	}
	avg := sum / float64(maxIdx-minIdx+1)
	return util.Clamp(avg*50, 0, 1)
}

func blackmanHarris(i, n int) float64 {
	const a0, a1, a2, a3 = 0.35875, 0.48829, 0.14128, 0.01168
	x := 2 * math.Pi * float64(i) / float64(n-1)
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x) - a3*math.Cos(3*x)
}
