package library

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"aircheck/internal/audio"
	"aircheck/internal/fingerprint"
	"aircheck/internal/index"
	"aircheck/pkg/logger"
)

// RecoverableError is a per-file build failure: logged and skipped, never
// fatal to the batch.
type RecoverableError struct {
	Path string
	Err  error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("skipped %s: %v", e.Path, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// Report summarizes one build run.
type Report struct {
	Tracks  int
	Records int
	Skipped []*RecoverableError
	Elapsed time.Duration
}

// Builder fingerprints every track in a directory and populates the track
// store, the in-memory index and, when configured, the persisted index.
// Tracks are independent, so files are processed on a bounded worker pool.
type Builder struct {
	Store   *Store
	Index   *index.Index
	Persist *index.Store // optional
	Config  fingerprint.Config
	Log     *logger.Logger
	Workers int
	// Progress, when set, is called after each file (done counts both built
	// and skipped files).
	Progress func(done, total int, path string)
}

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
}

// Build walks dir recursively and fingerprints every audio file found.
// Per-file decode or fingerprint failures are isolated: recorded in the
// report, logged, skipped. The batch itself fails only on cancellation or a
// storage fault.
func (b *Builder) Build(ctx context.Context, dir string) (*Report, error) {
	log := b.Log
	if log == nil {
		log = logger.GetLogger()
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	paths, err := collectAudioFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		log.Warnf("no audio files found in %s", dir)
	} else {
		log.Infof("building library from %s files in %s", humanize.Comma(int64(len(paths))), dir)
	}

	start := time.Now()
	report := &Report{}
	var mu sync.Mutex
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, buildErr := b.buildOne(ctx, path)

			mu.Lock()
			if buildErr != nil {
				skip := &RecoverableError{Path: path, Err: buildErr}
				report.Skipped = append(report.Skipped, skip)
				log.Warnf("%v", skip)
			} else {
				report.Tracks++
				report.Records += records
			}
			done++
			d := done
			mu.Unlock()

			if b.Progress != nil {
				b.Progress(d, len(paths), path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	log.Infof("library build done: %d tracks, %s fingerprints, %d skipped in %s",
		report.Tracks, humanize.Comma(int64(report.Records)), len(report.Skipped), report.Elapsed.Round(time.Millisecond))
	return report, nil
}

func (b *Builder) buildOne(ctx context.Context, path string) (int, error) {
	samples, err := audio.DecodeFile(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}

	label := audio.TrackLabel(path)
	trackID, err := b.Store.Register(label, int64(len(samples)))
	if err != nil {
		return 0, fmt.Errorf("register: %w", err)
	}

	records, err := fingerprint.Extract(samples, trackID, b.Config)
	if err != nil {
		b.Store.Delete(trackID)
		return 0, fmt.Errorf("fingerprint: %w", err)
	}

	if b.Persist != nil {
		if err := b.Persist.Append(trackID, records); err != nil {
			b.Store.Delete(trackID)
			return 0, fmt.Errorf("persist: %w", err)
		}
	}
	b.Index.InsertAll(records)
	return len(records), nil
}

// RemoveTrack deletes a track everywhere: metadata, in-memory index, and the
// persisted index when configured.
func (b *Builder) RemoveTrack(trackID uint32) error {
	if err := b.Store.Delete(trackID); err != nil {
		return err
	}
	b.Index.Remove(trackID)
	if b.Persist != nil {
		return b.Persist.RemoveTrack(trackID)
	}
	return nil
}

func collectAudioFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && audioExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
