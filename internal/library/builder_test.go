package library

import (
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"aircheck/internal/audio"
	"aircheck/internal/dsp"
	"aircheck/internal/fingerprint"
	"aircheck/internal/index"
	"aircheck/pkg/logger"
)

func fixtureTone(seed int64, seconds float64) []float64 {
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

func writeFixture(t *testing.T, dir, name string, seed int64) {
	t.Helper()
	if err := audio.WriteWAV(filepath.Join(dir, name), fixtureTone(seed, 2), dsp.SampleRate); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
}

func testBuilder(t *testing.T) (*Builder, *index.Index) {
	t.Helper()
	idx := index.New()
	b := &Builder{
		Store:   openTestStore(t),
		Index:   idx,
		Config:  fingerprint.DefaultConfig(),
		Log:     logger.New(io.Discard, logger.ERROR, false),
		Workers: 2,
	}
	return b, idx
}

func TestBuildDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "alpha.wav", 1)
	writeFixture(t, dir, "beta.wav", 2)

	b, idx := testBuilder(t)
	report, err := b.Build(context.Background(), dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if report.Tracks != 2 {
		t.Errorf("built %d tracks, want 2", report.Tracks)
	}
	if len(report.Skipped) != 0 {
		t.Errorf("unexpected skips: %v", report.Skipped)
	}
	if report.Records == 0 || idx.Len() != report.Records {
		t.Errorf("report says %d records, index holds %d", report.Records, idx.Len())
	}

	tracks, err := b.Store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("store lists %d tracks, want 2", len(tracks))
	}
	labels := map[string]bool{}
	for _, tr := range tracks {
		labels[tr.Label] = true
	}
	if !labels["alpha"] || !labels["beta"] {
		t.Errorf("labels = %v", labels)
	}
}

func TestBuildSkipsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "good.wav", 3)
	if err := os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, _ := testBuilder(t)
	report, err := b.Build(context.Background(), dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Tracks != 1 {
		t.Errorf("built %d tracks, want 1", report.Tracks)
	}
	if len(report.Skipped) != 1 {
		t.Fatalf("skipped %d files, want 1", len(report.Skipped))
	}
	if report.Skipped[0].Path != filepath.Join(dir, "broken.wav") {
		t.Errorf("skipped %s", report.Skipped[0].Path)
	}
}

func TestBuildIgnoresNonAudio(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "only.wav", 4)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("readme"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, _ := testBuilder(t)
	report, err := b.Build(context.Background(), dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Tracks != 1 || len(report.Skipped) != 0 {
		t.Errorf("report = %d tracks, %d skipped", report.Tracks, len(report.Skipped))
	}
}

func TestBuildEmptyDirectory(t *testing.T) {
	b, _ := testBuilder(t)
	report, err := b.Build(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Tracks != 0 || report.Records != 0 {
		t.Errorf("empty dir produced report %+v", report)
	}
}

func TestBuildProgress(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.wav", 5)
	writeFixture(t, dir, "b.wav", 6)

	b, _ := testBuilder(t)
	var mu sync.Mutex
	var seen []int
	b.Progress = func(done, total int, path string) {
		mu.Lock()
		seen = append(seen, done)
		if total != 2 {
			t.Errorf("progress total %d, want 2", total)
		}
		mu.Unlock()
	}

	if _, err := b.Build(context.Background(), dir); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("progress called %d times, want 2", len(seen))
	}
}

func TestBuildWithPersistence(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "persisted.wav", 7)

	persist, err := index.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer persist.Close()

	b, idx := testBuilder(t)
	b.Persist = persist
	if _, err := b.Build(context.Background(), dir); err != nil {
		t.Fatalf("Build: %v", err)
	}

	loaded, err := persist.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != idx.Len() {
		t.Errorf("persisted %d records, in-memory has %d", loaded.Len(), idx.Len())
	}
}

func TestRemoveTrackEverywhere(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "keep.wav", 8)
	writeFixture(t, dir, "drop.wav", 9)

	persist, err := index.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer persist.Close()

	b, idx := testBuilder(t)
	b.Persist = persist
	if _, err := b.Build(context.Background(), dir); err != nil {
		t.Fatalf("Build: %v", err)
	}

	tracks, err := b.Store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var dropID uint32
	for _, tr := range tracks {
		if tr.Label == "drop" {
			dropID = tr.ID
		}
	}
	if dropID == 0 {
		t.Fatal("drop track not registered")
	}

	if err := b.RemoveTrack(dropID); err != nil {
		t.Fatalf("RemoveTrack: %v", err)
	}
	if idx.TrackRecords(dropID) != 0 {
		t.Error("in-memory index still holds removed track")
	}
	if _, err := b.Store.Get(dropID); err == nil {
		t.Error("metadata survives removal")
	}
	loaded, err := persist.Load()
	if err != nil {
		t.Fatalf("Load after removal: %v", err)
	}
	if loaded.TrackRecords(dropID) != 0 {
		t.Error("persisted index still holds removed track")
	}
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.wav", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, _ := testBuilder(t)
	if _, err := b.Build(ctx, dir); err == nil {
		t.Error("cancelled build returned nil error")
	}
}
