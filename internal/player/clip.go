package player

import (
	"fmt"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

const resampleQuality = 4

// Clip is a fully decoded track held in memory at the output sample rate.
type Clip struct {
	buf  *beep.Buffer
	rate beep.SampleRate
}

// DecodeFile reads a WAV file and resamples it to rate.
func DecodeFile(path string, rate beep.SampleRate) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != rate {
		src = beep.Resample(resampleQuality, format.SampleRate, rate, streamer)
	}

	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("decode %s: no audio frames", path)
	}
	return &Clip{buf: buf, rate: rate}, nil
}

func (c *Clip) Frames() int { return c.buf.Len() }

func (c *Clip) Length() float64 { return c.rate.D(c.buf.Len()).Seconds() }

func (c *Clip) streamer() beep.StreamSeeker { return c.buf.Streamer(0, c.buf.Len()) }
