package monitor

import (
	"math"
	"math/rand"
	"testing"

	"aircheck/internal/dsp"
	"aircheck/internal/fingerprint"
	"aircheck/internal/index"
)

// trackAudio synthesizes tonal test audio: a fresh tone every quarter second,
// frequencies drawn from a seeded source.
func trackAudio(seed int64, seconds float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * dsp.SampleRate)
	segment := dsp.SampleRate / 4
	out := make([]float64, n)
	freq := 0.0
	for i := range out {
		if i%segment == 0 {
			freq = dsp.BinFrequency(20 + rng.Intn(400))
		}
		out[i] = 0.4 * math.Sin(2*math.Pi*freq*float64(i)/float64(dsp.SampleRate))
	}
	return out
}

func indexTracks(t *testing.T, samplesByID map[uint32][]float64) *index.Index {
	t.Helper()
	idx := index.New()
	for id, samples := range samplesByID {
		records, err := fingerprint.Extract(samples, id, fingerprint.DefaultConfig())
		if err != nil {
			t.Fatalf("Extract track %d: %v", id, err)
		}
		if len(records) == 0 {
			t.Fatalf("track %d produced no fingerprints", id)
		}
		idx.InsertAll(records)
	}
	return idx
}

func testMatcherConfig() Config {
	cfg := DefaultConfig()
	cfg.WindowSeconds = 6
	cfg.StepSeconds = 1.5
	cfg.MinVotes = 5
	return cfg
}

func TestMatchIdentifiesTrackAndOffset(t *testing.T) {
	track := trackAudio(1, 10)
	idx := indexTracks(t, map[uint32][]float64{
		1: track,
		2: trackAudio(2, 10),
	})

	// The snippet starts 200 frames into track 1; feed it as if it sat at the
	// same absolute position in the stream, so the winning alignment bucket is
	// the one containing delta zero.
	const offsetFrames = 200
	offset := offsetFrames * dsp.HopSize
	snippet := track[offset : offset+4*dsp.SampleRate]

	m := matcher{idx: idx, cfg: testMatcherConfig()}
	cands, err := m.match(snippet, offsetFrames)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(cands) == 0 {
		t.Fatal("no candidates for an exact snippet")
	}
	best := cands[0]
	if best.TrackID != 1 {
		t.Fatalf("best candidate is track %d, want 1", best.TrackID)
	}
	if best.OffsetDelta < -int64(m.cfg.DeltaBucketFrames) || best.OffsetDelta > int64(m.cfg.DeltaBucketFrames) {
		t.Errorf("offset delta %d frames, want near 0", best.OffsetDelta)
	}
	if best.Confidence <= 0 || best.Confidence > 1 {
		t.Errorf("confidence %v outside (0, 1]", best.Confidence)
	}
}

func TestMatchReportsStreamOnset(t *testing.T) {
	track := trackAudio(3, 8)
	idx := indexTracks(t, map[uint32][]float64{1: track})

	// The track's opening plays 500 frames into the stream: the offset delta
	// recovers that onset.
	const startFrames = 500
	m := matcher{idx: idx, cfg: testMatcherConfig()}
	cands, err := m.match(track[:6*dsp.SampleRate], startFrames)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(cands) == 0 {
		t.Fatal("no candidates")
	}
	got := cands[0].OffsetDelta
	if got < startFrames-int64(m.cfg.DeltaBucketFrames) || got > startFrames+int64(m.cfg.DeltaBucketFrames) {
		t.Errorf("onset estimate %d frames, want near %d", got, startFrames)
	}
	if sec := onsetSeconds(got); math.Abs(sec-dsp.FrameTime(startFrames)) > 0.2 {
		t.Errorf("onset %.2fs, want near %.2fs", sec, dsp.FrameTime(startFrames))
	}
}

func TestMatchRejectsUnknownAudio(t *testing.T) {
	idx := indexTracks(t, map[uint32][]float64{1: trackAudio(4, 8)})

	m := matcher{idx: idx, cfg: testMatcherConfig()}
	cands, err := m.match(trackAudio(99, 6), 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("unrelated audio matched: %v", cands)
	}
}

func TestMatchSilence(t *testing.T) {
	idx := indexTracks(t, map[uint32][]float64{1: trackAudio(5, 8)})

	m := matcher{idx: idx, cfg: testMatcherConfig()}
	cands, err := m.match(make([]float64, 6*dsp.SampleRate), 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("silence matched: %v", cands)
	}
}

func TestMatchTieBreaksOnLowerTrackID(t *testing.T) {
	// Identical audio under two ids votes identically; ordering must still be
	// deterministic.
	track := trackAudio(6, 8)
	idx := indexTracks(t, map[uint32][]float64{3: track, 7: track})

	m := matcher{idx: idx, cfg: testMatcherConfig()}
	cands, err := m.match(track[:6*dsp.SampleRate], 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].Votes != cands[1].Votes {
		t.Fatalf("identical tracks voted differently: %d vs %d", cands[0].Votes, cands[1].Votes)
	}
	if cands[0].TrackID != 3 {
		t.Errorf("tie broken toward track %d, want 3", cands[0].TrackID)
	}
}

func TestTallyCapsRepeatedHashes(t *testing.T) {
	h, ok := fingerprint.PackHash(100, 120, 8)
	if !ok {
		t.Fatal("hash not representable")
	}

	// The track holds the same hash at two nearby anchors, both inside one
	// alignment bucket; the stream produces it twice as well. The cross pairs
	// must not add votes, so the bucket cannot outgrow the hash count.
	idx := index.New()
	idx.InsertAll([]fingerprint.Record{
		{Hash: h, TrackID: 1, AnchorFrame: 0},
		{Hash: h, TrackID: 1, AnchorFrame: 2},
	})

	cfg := testMatcherConfig()
	cfg.MinVotes = 1
	m := matcher{idx: idx, cfg: cfg}

	records := []fingerprint.Record{
		{Hash: h, AnchorFrame: 0},
		{Hash: h, AnchorFrame: 2},
	}
	cands := m.tally(records, 0)
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	best := cands[0]
	if best.Votes > len(records) {
		t.Errorf("votes %d exceed the %d hashes generated", best.Votes, len(records))
	}
	if best.Votes != 2 {
		t.Errorf("votes %d, want 2", best.Votes)
	}
	if best.Confidence <= 0 || best.Confidence > 1 {
		t.Errorf("confidence %v outside (0, 1]", best.Confidence)
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, want int64 }{
		{7, 4, 1},
		{8, 4, 2},
		{0, 4, 0},
		{-1, 4, -1},
		{-4, 4, -1},
		{-5, 4, -2},
	}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
