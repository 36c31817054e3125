// Package audiotest writes small WAV fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const SampleRate = 8000

// WriteTone writes a mono 16-bit sine of freq Hz lasting seconds to path.
func WriteTone(t testing.TB, path string, seconds, freq float64) {
	t.Helper()
	if err := EncodeTone(path, seconds, freq); err != nil {
		t.Fatalf("write tone %s: %v", path, err)
	}
}

// EncodeTone is WriteTone for goroutines that can't fail a test directly.
func EncodeTone(path string, seconds, freq float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n := int(seconds * SampleRate)
	data := make([]int, n)
	for i := range data {
		data[i] = int(math.Sin(2*math.Pi*freq*float64(i)/SampleRate) * 0.5 * math.MaxInt16)
	}

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// WriteGarbage writes bytes that no decoder accepts as WAV.
func WriteGarbage(t testing.TB, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("definitely not RIFF data"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
