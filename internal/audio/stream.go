package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"aircheck/internal/dsp"
)

// ErrStreamInterrupted means the live stream stopped delivering samples.
// Reconnect policy belongs to the caller; the monitor resets its window
// rather than fingerprint across the discontinuity.
var ErrStreamInterrupted = errors.New("stream interrupted")

// ChunkReader supplies decoded mono PCM chunks at dsp.SampleRate.
type ChunkReader interface {
	// ReadChunk fills buf with up to len(buf) samples and returns how many
	// were read. Any failure, including end of stream, wraps
	// ErrStreamInterrupted.
	ReadChunk(buf []float64) (int, error)
	Close() error
}

// PCMReader adapts a raw s16le byte stream into a ChunkReader. Used directly
// in tests and as the tail of the ffmpeg stream decoder.
type PCMReader struct {
	r     io.Reader
	bytes []byte
}

func NewPCMReader(r io.Reader) *PCMReader {
	return &PCMReader{r: r}
}

func (p *PCMReader) ReadChunk(buf []float64) (int, error) {
	want := len(buf) * 2
	if cap(p.bytes) < want {
		p.bytes = make([]byte, want)
	}
	raw := p.bytes[:want]

	n, err := io.ReadFull(p.r, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		buf[i] = float64(v) / 32768.0
	}
	if err != nil && !(errors.Is(err, io.ErrUnexpectedEOF) && samples > 0) {
		return samples, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}
	return samples, nil
}

func (p *PCMReader) Close() error {
	if c, ok := p.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StreamDecoder shells out to ffmpeg to pull a stream URL and decode it to
// mono s16le at the pipeline rate, exposing the result as a ChunkReader.
type StreamDecoder struct {
	cmd *exec.Cmd
	pcm *PCMReader
}

func OpenStream(url string) (*StreamDecoder, error) {
	cmd := exec.Command(
		"ffmpeg",
		"-v", "quiet",
		"-i", url,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(dsp.SampleRate),
		"-f", "s16le",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	return &StreamDecoder{cmd: cmd, pcm: NewPCMReader(stdout)}, nil
}

func (d *StreamDecoder) ReadChunk(buf []float64) (int, error) {
	return d.pcm.ReadChunk(buf)
}

func (d *StreamDecoder) Close() error {
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	return d.cmd.Wait()
}
