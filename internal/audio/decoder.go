// Package audio is the decode boundary: everything upstream of the pipeline
// that turns files or stream URLs into mono PCM at the pipeline sample rate.
// Transcoding is delegated to ffmpeg, as the external collaborator.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"aircheck/internal/dsp"
)

// ConvertToWAV transcodes any audio file ffmpeg understands into a mono
// 16-bit PCM WAV at the pipeline sample rate. The caller owns the returned
// temp file.
func ConvertToWAV(ctx context.Context, inputPath, tempDir string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", err
	}

	outputPath := filepath.Join(tempDir, uuid.NewString()+".wav")
	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(dsp.SampleRate),
		"-c:a", "pcm_s16le",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}
	return outputPath, nil
}

// DecodeFile decodes one library file to mono samples at dsp.SampleRate.
// WAV files already at the pipeline rate are read directly; everything else
// goes through ffmpeg.
func DecodeFile(ctx context.Context, path string) ([]float64, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, rate, err := ReadWAV(path)
		if err == nil && rate == dsp.SampleRate {
			return samples, nil
		}
		// Wrong rate or unreadable header: fall through to ffmpeg.
	}

	wavPath, err := ConvertToWAV(ctx, path, os.TempDir())
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	samples, rate, err := ReadWAV(wavPath)
	if err != nil {
		return nil, err
	}
	if rate != dsp.SampleRate {
		return nil, fmt.Errorf("converted file has rate %d, want %d", rate, dsp.SampleRate)
	}
	return samples, nil
}
