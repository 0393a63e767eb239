package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"aircheck/internal/dsp"
)

func testTone(freq float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(dsp.SampleRate))
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := testTone(440, dsp.SampleRate/2)

	if err := WriteWAV(path, samples, dsp.SampleRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	got, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rate != dsp.SampleRate {
		t.Errorf("sample rate %d, want %d", rate, dsp.SampleRate)
	}
	if len(got) != len(samples) {
		t.Fatalf("read %d samples, want %d", len(got), len(samples))
	}
	for i := range got {
		if math.Abs(got[i]-samples[i]) > 1.0/16384 {
			t.Fatalf("sample %d off by %g after 16-bit round trip", i, got[i]-samples[i])
		}
	}
}

func TestWriteWAVClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot.wav")
	if err := WriteWAV(path, []float64{1.5, -1.5, 0}, dsp.SampleRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	got, _, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	for i, s := range got {
		if s < -1 || s > 1 {
			t.Errorf("sample %d = %g outside [-1, 1]", i, s)
		}
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadWAV(path); err == nil {
		t.Error("garbage file decoded without error")
	}
}

func TestPCMReaderDecodesSamples(t *testing.T) {
	raw := make([]byte, 8)
	for i, v := range []int16{0, 16384, -16384, -32768} {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}

	r := NewPCMReader(bytes.NewReader(raw))
	buf := make([]float64, 4)
	n, err := r.ReadChunk(buf)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if n != 4 {
		t.Fatalf("read %d samples, want 4", n)
	}
	want := []float64{0, 0.5, -0.5, -1}
	for i := range want {
		if math.Abs(buf[i]-want[i]) > 1e-9 {
			t.Errorf("sample %d = %g, want %g", i, buf[i], want[i])
		}
	}
}

func TestPCMReaderPartialThenInterrupted(t *testing.T) {
	// Six bytes is three samples: a short read delivers them, the next
	// read reports the interruption.
	r := NewPCMReader(bytes.NewReader(make([]byte, 6)))
	buf := make([]float64, 4)

	n, err := r.ReadChunk(buf)
	if err != nil {
		t.Fatalf("partial read failed: %v", err)
	}
	if n != 3 {
		t.Errorf("partial read returned %d samples, want 3", n)
	}

	n, err = r.ReadChunk(buf)
	if n != 0 {
		t.Errorf("exhausted reader returned %d samples", n)
	}
	if !errors.Is(err, ErrStreamInterrupted) {
		t.Errorf("got %v, want ErrStreamInterrupted", err)
	}
}

func TestTrackLabelFilenameFallback(t *testing.T) {
	// A WAV carries no tags, so the label falls back to the file name.
	path := filepath.Join(t.TempDir(), "Morning Show Jingle.wav")
	if err := WriteWAV(path, testTone(440, dsp.SampleRate/4), dsp.SampleRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	if got := TrackLabel(path); got != "Morning Show Jingle" {
		t.Errorf("TrackLabel = %q, want %q", got, "Morning Show Jingle")
	}
}

func TestTrackLabelMissingFile(t *testing.T) {
	if got := TrackLabel("/nope/missing.mp3"); got != "missing" {
		t.Errorf("TrackLabel = %q, want %q", got, "missing")
	}
}
