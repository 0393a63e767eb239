package dsp

import (
	"errors"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/window"
)

// Pipeline constants. Everything downstream (peak extraction, hashing,
// stream matching) assumes mono PCM at SampleRate analysed with these
// window/hop lengths, so they live here rather than in a config struct.
const (
	SampleRate = 11025
	WindowSize = 1024
	HopSize    = 256
	NumBins    = WindowSize / 2
)

var ErrShortInput = errors.New("input shorter than analysis window")

// FrameTime converts an analysis frame index to seconds of stream time.
func FrameTime(frame int64) float64 {
	return float64(frame) * float64(HopSize) / float64(SampleRate)
}

// BinFrequency converts an FFT bin index to Hz.
func BinFrequency(bin int) float64 {
	return float64(bin) * float64(SampleRate) / float64(WindowSize)
}

// AnalysisWindow returns the Hamming window applied to every frame before
// the transform.
func AnalysisWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return window.Hamming(w)
}

// Spectrum computes the magnitude spectrum of a single frame. win must have
// the same length as frame. Only the positive-frequency half is returned.
func Spectrum(frame, win []float64) []float64 {
	buf := make([]float64, len(frame))
	for i := range frame {
		buf[i] = frame[i] * win[i]
	}
	spec := fft.FFTReal(buf)
	mag := make([]float64, len(spec)/2)
	for i := range mag {
		mag[i] = cmplx.Abs(spec[i])
	}
	return mag
}

// STFT slides a windowed transform over samples and returns a time-major
// magnitude spectrogram, spectra[frameIdx][freqBin]. Deterministic for
// identical input.
func STFT(samples []float64, windowSize, hopSize int) ([][]float64, error) {
	if windowSize <= 0 || hopSize <= 0 {
		return nil, errors.New("window and hop sizes must be positive")
	}
	if len(samples) < windowSize {
		return nil, ErrShortInput
	}

	win := AnalysisWindow(windowSize)
	spectra := make([][]float64, 0, (len(samples)-windowSize)/hopSize+1)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		spectra = append(spectra, Spectrum(samples[start:start+windowSize], win))
	}
	return spectra, nil
}
