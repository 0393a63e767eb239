package fingerprint

import (
	"aircheck/internal/dsp"
)

// Record ties one generated hash occurrence to a track and the frame of its
// anchor landmark. A track may legitimately produce the same hash at several
// offsets (musical repetition); every occurrence is kept.
type Record struct {
	Hash        Hash
	TrackID     uint32
	AnchorFrame uint32
}

// Config bounds the anchor/target pairing neighborhood.
type Config struct {
	FanOut         int // max targets paired with each anchor
	MinDeltaFrames int // skip near-simultaneous pairs
	MaxDeltaFrames int // how far forward an anchor may reach
	MaxBinDelta    int // max frequency distance, in bins, within a pair
	Peaks          dsp.PeakConfig
}

func DefaultConfig() Config {
	return Config{
		FanOut:         6,
		MinDeltaFrames: 2,
		MaxDeltaFrames: 128, // ~3s at the pipeline frame rate
		MaxBinDelta:    200,
		Peaks:          dsp.DefaultPeakConfig(),
	}
}

// Pair walks time-ordered landmarks and emits one Record per admissible
// (anchor, target) pair. Landmarks must be sorted by (frame, bin), which is
// how dsp.ExtractLandmarks returns them. Bit-reproducible for identical
// input.
func Pair(landmarks []dsp.Landmark, trackID uint32, cfg Config) []Record {
	records := make([]Record, 0, len(landmarks)*cfg.FanOut/2)
	for i, anchor := range landmarks {
		paired := 0
		for j := i + 1; j < len(landmarks) && paired < cfg.FanOut; j++ {
			target := landmarks[j]
			delta := target.Frame - anchor.Frame
			if delta > cfg.MaxDeltaFrames {
				break
			}
			if delta < cfg.MinDeltaFrames {
				continue
			}
			if absInt(target.Bin-anchor.Bin) > cfg.MaxBinDelta {
				continue
			}
			h, ok := PackHash(anchor.Bin, target.Bin, delta)
			if !ok {
				continue
			}
			records = append(records, Record{
				Hash:        h,
				TrackID:     trackID,
				AnchorFrame: uint32(anchor.Frame),
			})
			paired++
		}
	}
	return records
}

// Extract runs the whole pipeline over mono PCM samples at dsp.SampleRate:
// STFT, landmark extraction, pairing. Returns dsp.ErrShortInput when samples
// cannot fill a single analysis window.
func Extract(samples []float64, trackID uint32, cfg Config) ([]Record, error) {
	spectra, err := dsp.STFT(samples, dsp.WindowSize, dsp.HopSize)
	if err != nil {
		return nil, err
	}
	landmarks := dsp.ExtractLandmarks(spectra, cfg.Peaks)
	return Pair(landmarks, trackID, cfg), nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
