// aircheck fingerprints a local track library and watches a live audio
// stream for those tracks, printing detection events as they happen.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"aircheck/internal/audio"
	"aircheck/internal/fingerprint"
	"aircheck/internal/index"
	"aircheck/internal/library"
	"aircheck/internal/monitor"
	"aircheck/pkg/logger"
)

func main() {
	var (
		optData    = flag.String("data", "aircheck-data", "Data directory for the track db and fingerprint index")
		optBuild   = flag.String("build", "", "Build the library from audio files under this directory")
		optRebuild = flag.Bool("rebuild", false, "With -build: drop the existing index first")
		optMonitor = flag.String("monitor", "", "Monitor this stream URL for library tracks")
		optList    = flag.Bool("list", false, "List library tracks")
		optRemove  = flag.Uint("remove", 0, "Remove the track with this id from the library")
		optWorkers = flag.Int("workers", 0, "Fingerprinting workers for -build (default: NumCPU)")
	)
	flag.Parse()

	log := logger.GetLogger()

	store, err := library.OpenStore(filepath.Join(*optData, "tracks.sqlite3"))
	if err != nil {
		log.Errorf("opening track store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	persist, err := index.OpenStore(filepath.Join(*optData, "indexdb"))
	if err != nil {
		log.Errorf("opening fingerprint index: %v", err)
		os.Exit(1)
	}
	defer persist.Close()

	switch {
	case *optBuild != "":
		err = runBuild(store, persist, *optBuild, *optRebuild, *optWorkers, log)
	case *optMonitor != "":
		err = runMonitor(store, persist, *optMonitor, log)
	case *optList:
		err = runList(store, persist)
	case *optRemove != 0:
		err = runRemove(store, persist, uint32(*optRemove), log)
	default:
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadIndex(persist *index.Store, log *logger.Logger) (*index.Index, error) {
	idx, err := persist.Load()
	if err != nil {
		if errors.Is(err, index.ErrIndexCorrupt) {
			return nil, fmt.Errorf("%w; rebuild with -build -rebuild", err)
		}
		return nil, err
	}
	return idx, nil
}

func runBuild(store *library.Store, persist *index.Store, dir string, rebuild bool, workers int, log *logger.Logger) error {
	if rebuild {
		log.Infof("dropping existing library index")
		if err := persist.Drop(); err != nil {
			return fmt.Errorf("dropping index: %w", err)
		}
		if err := store.Wipe(); err != nil {
			return fmt.Errorf("wiping track store: %w", err)
		}
	}

	idx, err := loadIndex(persist, log)
	if err != nil {
		return err
	}

	progress := mpb.New(mpb.WithWidth(64))
	var bar *mpb.Bar

	builder := &library.Builder{
		Store:   store,
		Index:   idx,
		Persist: persist,
		Config:  fingerprint.DefaultConfig(),
		Log:     log,
		Workers: workers,
		Progress: func(done, total int, path string) {
			if bar == nil {
				bar = progress.AddBar(int64(total),
					mpb.PrependDecorators(decor.Name("fingerprinting"), decor.CountersNoUnit(" %d/%d")),
					mpb.AppendDecorators(decor.Percentage()),
				)
			}
			bar.Increment()
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := builder.Build(ctx, dir)
	if bar != nil {
		progress.Wait()
	}
	if err != nil {
		return err
	}
	fmt.Printf("built %d tracks, %s fingerprints (%d skipped)\n",
		report.Tracks, humanize.Comma(int64(report.Records)), len(report.Skipped))
	return nil
}

func runMonitor(store *library.Store, persist *index.Store, url string, log *logger.Logger) error {
	idx, err := loadIndex(persist, log)
	if err != nil {
		return err
	}
	if idx.Len() == 0 {
		log.Warnf("fingerprint index is empty; nothing can be detected")
	}

	stream, err := audio.OpenStream(url)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close()

	mon := monitor.New(idx, monitor.DefaultConfig(),
		monitor.WithLogger(log),
		monitor.WithLabels(func(id uint32) string {
			if track, err := store.Get(id); err == nil {
				return track.Label
			}
			return fmt.Sprintf("track %d", id)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan monitor.Event, 16)
	go func() {
		for ev := range events {
			fmt.Printf("%s: %s (track %d) at %.1fs confidence %.2f\n",
				ev.Type, ev.Label, ev.TrackID, ev.StreamTimestamp, ev.Confidence)
		}
	}()

	log.Infof("monitoring %s against %d tracks", url, len(idx.Tracks()))
	err = mon.Run(ctx, stream, events)
	close(events)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runList(store *library.Store, persist *index.Store) error {
	idx, err := persist.Load()
	if err != nil && !errors.Is(err, index.ErrIndexCorrupt) {
		return err
	}

	tracks, err := store.List()
	if err != nil {
		return err
	}
	for _, track := range tracks {
		records := 0
		if idx != nil {
			records = idx.TrackRecords(track.ID)
		}
		fmt.Printf("%4d  %-50s %8s fingerprints\n", track.ID, track.Label, humanize.Comma(int64(records)))
	}
	return nil
}

func runRemove(store *library.Store, persist *index.Store, id uint32, log *logger.Logger) error {
	track, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("track %d not found: %w", id, err)
	}

	builder := &library.Builder{Store: store, Index: index.New(), Persist: persist, Log: log}
	if err := builder.RemoveTrack(id); err != nil {
		return err
	}
	log.Infof("removed track %d (%s)", id, track.Label)
	return nil
}
