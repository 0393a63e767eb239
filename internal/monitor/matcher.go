package monitor

import (
	"sort"

	"aircheck/internal/dsp"
	"aircheck/internal/fingerprint"
	"aircheck/internal/index"
)

// Candidate is one track exceeding the vote threshold in a single pass.
type Candidate struct {
	TrackID     uint32
	OffsetDelta int64   // estimated onset of the track, in stream frames
	Votes       int     // votes in the winning alignment bucket
	Confidence  float64 // Votes / hashes generated this pass
}

// matcher votes index postings by time alignment. A track actually playing
// produces many hashes consistent with one constant stream/track offset,
// while accidental hash collisions scatter across offsets; concentration in
// a single delta bucket is the discriminating signal.
type matcher struct {
	idx *index.Index
	cfg Config
}

// match fingerprints one window snapshot and returns every track whose best
// alignment bucket reaches MinVotes, ordered by votes descending, ties by
// lower track id.
func (m *matcher) match(samples []float64, startFrame int64) ([]Candidate, error) {
	records, err := fingerprint.Extract(samples, 0, m.cfg.Fingerprint)
	if err != nil {
		return nil, err
	}
	return m.tally(records, startFrame), nil
}

type trackBucket struct {
	track  uint32
	bucket int64
}

// tally votes index postings by alignment. A stream hash occurrence votes at
// most once per (track, bucket): a track that repeats the same hash at nearby
// offsets must not pile those postings into a single alignment. Bucket votes
// are therefore bounded by the number of hashes generated, keeping confidence
// within (0, 1].
func (m *matcher) tally(records []fingerprint.Record, startFrame int64) []Candidate {
	if len(records) == 0 {
		return nil
	}

	bucketWidth := int64(m.cfg.DeltaBucketFrames)
	if bucketWidth <= 0 {
		bucketWidth = 1
	}

	// votes[track][deltaBucket] = count
	votes := make(map[uint32]map[int64]int)
	var seen []trackBucket
	for _, rec := range records {
		postings := m.idx.Lookup(rec.Hash)
		if len(postings) == 0 {
			continue
		}
		absFrame := startFrame + int64(rec.AnchorFrame)
		seen = seen[:0]
		for _, p := range postings {
			delta := absFrame - int64(p.AnchorFrame)
			tb := trackBucket{p.TrackID, floorDiv(delta, bucketWidth)}
			dup := false
			for _, s := range seen {
				if s == tb {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			seen = append(seen, tb)

			byDelta := votes[tb.track]
			if byDelta == nil {
				byDelta = make(map[int64]int)
				votes[tb.track] = byDelta
			}
			byDelta[tb.bucket]++
		}
	}

	candidates := make([]Candidate, 0, len(votes))
	for trackID, byDelta := range votes {
		bestBucket, bestVotes := int64(0), 0
		for bucket, n := range byDelta {
			if n > bestVotes || (n == bestVotes && bucket < bestBucket) {
				bestBucket, bestVotes = bucket, n
			}
		}
		if bestVotes < m.cfg.MinVotes {
			continue
		}
		candidates = append(candidates, Candidate{
			TrackID:     trackID,
			OffsetDelta: bestBucket * bucketWidth,
			Votes:       bestVotes,
			Confidence:  float64(bestVotes) / float64(len(records)),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Votes != candidates[j].Votes {
			return candidates[i].Votes > candidates[j].Votes
		}
		return candidates[i].TrackID < candidates[j].TrackID
	})
	return candidates
}

// onsetSeconds converts a frame-space offset delta to stream seconds.
func onsetSeconds(delta int64) float64 {
	return dsp.FrameTime(delta)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
