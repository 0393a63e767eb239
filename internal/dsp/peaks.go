package dsp

import "sort"

// Landmark is a spectral peak at a given analysis frame, the building block
// of fingerprints.
type Landmark struct {
	Bin       int     // frequency bin index
	Frame     int     // frame index within the analysed window
	Magnitude float64 // linear magnitude
}

// PeakConfig tunes landmark extraction.
//
// The floor is adaptive per frequency band: a landmark must exceed the mean
// of its band's recent maxima by FloorFactor. A fixed global threshold does
// not survive the loudness swings of real streams (ads, normalization), which
// is why the floor tracks each band separately. RelativeFloor additionally
// ties acceptance to the frame's dominant magnitude, so window-leakage skirts
// and broadband noise in otherwise quiet bands never become landmarks, and
// OnsetGapFrames collapses a sustained peak to its onset instead of a run of
// near-threshold frames whose length flips under small perturbations.
type PeakConfig struct {
	HistoryFrames  int     // trailing frames per band feeding the noise floor
	FloorFactor    float64 // landmark must exceed floor*mean(band history)
	RelativeFloor  float64 // landmark must reach this fraction of the frame max
	MinMagnitude   float64 // absolute floor; keeps silence from producing landmarks
	NeighborBins   int     // +/- bins for the frequency local-max test
	OnsetGapFrames int     // frames a band stays quiet after emitting a landmark
}

func DefaultPeakConfig() PeakConfig {
	return PeakConfig{
		HistoryFrames:  8,
		FloorFactor:    1.8,
		RelativeFloor:  0.1,
		MinMagnitude:   1e-4,
		NeighborBins:   3,
		OnsetGapFrames: 8,
	}
}

// frequencyBands returns log-spaced [lo, hi) bin ranges, matching the
// roughly logarithmic distribution of musical energy.
func frequencyBands(nBins int) [][2]int {
	bands := [][2]int{{0, minInt(10, nBins)}}
	for start := 10; start < nBins; start *= 2 {
		end := minInt(start*2, nBins)
		bands = append(bands, [2]int{start, end})
		if end == nBins {
			break
		}
	}
	return bands
}

// ExtractLandmarks scans a magnitude spectrogram and returns the landmarks,
// sorted by (frame, bin). Per frame, each band contributes at most its
// strongest bin, and that bin is kept only if it is a local maximum in
// frequency, clears the band's rolling noise floor, the relative floor and
// the absolute magnitude floor, and the band has not emitted a landmark
// within the onset gap.
func ExtractLandmarks(spectra [][]float64, cfg PeakConfig) []Landmark {
	if len(spectra) == 0 || len(spectra[0]) == 0 {
		return nil
	}
	nBins := len(spectra[0])
	bands := frequencyBands(nBins)

	// Rolling per-band history of band maxima. history[b] is a ring of the
	// last HistoryFrames values.
	history := make([][]float64, len(bands))
	lastOnset := make([]int, len(bands))
	for b := range history {
		history[b] = make([]float64, 0, cfg.HistoryFrames)
		lastOnset[b] = -cfg.OnsetGapFrames - 1
	}

	landmarks := make([]Landmark, 0, len(spectra)*2)
	for t, frame := range spectra {
		frameMax := 0.0
		for _, v := range frame {
			if v > frameMax {
				frameMax = v
			}
		}

		for b, band := range bands {
			lo, hi := band[0], band[1]
			if lo >= len(frame) {
				continue
			}
			if hi > len(frame) {
				hi = len(frame)
			}

			maxMag, maxBin := 0.0, lo
			for i := lo; i < hi; i++ {
				if frame[i] > maxMag {
					maxMag, maxBin = frame[i], i
				}
			}

			floor := bandFloor(history[b], cfg)
			accept := maxMag >= cfg.MinMagnitude &&
				maxMag >= cfg.RelativeFloor*frameMax &&
				maxMag > floor &&
				t-lastOnset[b] > cfg.OnsetGapFrames &&
				isLocalMax(frame, maxBin, cfg.NeighborBins)

			// The floor adapts to whatever is playing, accepted or not.
			history[b] = pushHistory(history[b], maxMag, cfg.HistoryFrames)

			if accept {
				lastOnset[b] = t
				landmarks = append(landmarks, Landmark{Bin: maxBin, Frame: t, Magnitude: maxMag})
			}
		}
	}

	sort.Slice(landmarks, func(i, j int) bool {
		if landmarks[i].Frame == landmarks[j].Frame {
			return landmarks[i].Bin < landmarks[j].Bin
		}
		return landmarks[i].Frame < landmarks[j].Frame
	})
	return landmarks
}

// bandFloor is the adaptive threshold for one band: FloorFactor times the
// mean of the band's recent maxima. With no history yet it falls back to the
// absolute floor so the first frames can still produce landmarks.
func bandFloor(hist []float64, cfg PeakConfig) float64 {
	if len(hist) == 0 {
		return cfg.MinMagnitude
	}
	var sum float64
	for _, v := range hist {
		sum += v
	}
	return cfg.FloorFactor * sum / float64(len(hist))
}

func pushHistory(hist []float64, v float64, limit int) []float64 {
	hist = append(hist, v)
	if len(hist) > limit {
		hist = hist[1:]
	}
	return hist
}

func isLocalMax(frame []float64, bin, neighbors int) bool {
	for d := -neighbors; d <= neighbors; d++ {
		i := bin + d
		if d == 0 || i < 0 || i >= len(frame) {
			continue
		}
		if frame[i] > frame[bin] {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
