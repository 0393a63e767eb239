package monitor

import (
	"context"
	"fmt"

	"aircheck/internal/audio"
	"aircheck/internal/dsp"
	"aircheck/internal/fingerprint"
	"aircheck/internal/index"
	"aircheck/pkg/logger"
)

// Config tunes the live matching loop. The vote threshold trades false
// positives against sensitivity and depends on hash density per second of
// audio; the defaults are calibrated against the synthetic end-to-end tests.
type Config struct {
	WindowSeconds     float64 // analysis window over the stream
	StepSeconds       float64 // cadence between matching passes
	MinVotes          int     // votes needed in one alignment bucket
	DeltaBucketFrames int     // alignment histogram bucket width
	ConfirmPasses     int
	MissPasses        int
	MaxDetection      float64 // seconds; 0 disables the cap
	Fingerprint       fingerprint.Config
}

func DefaultConfig() Config {
	return Config{
		WindowSeconds:     12,
		StepSeconds:       3,
		MinVotes:          12,
		DeltaBucketFrames: 4,
		ConfirmPasses:     2,
		MissPasses:        2,
		MaxDetection:      600,
		Fingerprint:       fingerprint.DefaultConfig(),
	}
}

// Monitor drives the streaming pipeline: chunks in, detection events out.
// Advance is the pull-based step function, so the whole pipeline can be
// driven synchronously with scripted chunks; Run wraps it for a live
// ChunkReader.
type Monitor struct {
	cfg         Config
	log         *logger.Logger
	labels      func(uint32) string
	window      *StreamWindow
	matcher     matcher
	agg         *Aggregator
	stepSamples int
	pending     int
	snapshot    []float64
}

type Option func(*Monitor)

func WithLogger(log *logger.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithLabels installs a resolver used to annotate events with track labels.
func WithLabels(resolve func(uint32) string) Option {
	return func(m *Monitor) { m.labels = resolve }
}

func New(idx *index.Index, cfg Config, opts ...Option) *Monitor {
	windowSamples := int(cfg.WindowSeconds * dsp.SampleRate)
	m := &Monitor{
		cfg:         cfg,
		log:         logger.GetLogger(),
		window:      NewStreamWindow(windowSamples),
		matcher:     matcher{idx: idx, cfg: cfg},
		agg:         NewAggregator(AggregatorConfig{ConfirmPasses: cfg.ConfirmPasses, MissPasses: cfg.MissPasses, MaxDetection: cfg.MaxDetection}),
		stepSamples: int(cfg.StepSeconds * dsp.SampleRate),
		snapshot:    make([]float64, windowSamples),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Advance feeds one decoded chunk into the window and runs any matching
// passes that became due, returning events in emission order. A failed pass
// is dropped with a warning; matching resumes at the next step.
func (m *Monitor) Advance(chunk []float64) []Event {
	m.window.Write(chunk)
	m.pending += len(chunk)

	var events []Event
	for m.pending >= m.stepSamples {
		m.pending -= m.stepSamples
		if !m.window.Filled() {
			continue
		}

		startSample := m.window.Snapshot(m.snapshot)
		startFrame := startSample / dsp.HopSize
		passTime := m.window.Duration()

		cands, err := m.matcher.match(m.snapshot, startFrame)
		if err != nil {
			m.log.Warnf("analysis pass at %.1fs dropped: %v", passTime, err)
			continue
		}
		events = append(events, m.agg.Observe(cands, passTime)...)
	}

	if m.labels != nil {
		for i := range events {
			events[i].Label = m.labels(events[i].TrackID)
		}
	}
	return events
}

// Reset discards the buffered window, the pass cadence and all pending
// detection state. Called on stream discontinuities.
func (m *Monitor) Reset() {
	m.window.Reset()
	m.agg.Reset()
	m.pending = 0
}

// Run pulls chunks from r until ctx is cancelled or the stream fails,
// delivering events to out. The producer goroutine is the only writer into
// the bounded handoff; when the analysis side cannot keep up, the oldest
// buffered chunk is dropped rather than blocking the decoder or growing
// memory. Cancellation discards buffered audio and unconfirmed detections.
func (m *Monitor) Run(ctx context.Context, r audio.ChunkReader, out chan<- Event) error {
	chunkSamples := dsp.SampleRate / 4 // quarter-second chunks

	chunks := make(chan []float64, 8)
	errc := make(chan error, 1)

	go func() {
		for ctx.Err() == nil {
			buf := make([]float64, chunkSamples)
			n, err := r.ReadChunk(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				default:
					select {
					case <-chunks:
						m.log.Warnf("analysis behind real time, dropping oldest buffered chunk")
					default:
					}
					select {
					case chunks <- buf[:n]:
					default:
					}
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.Reset()
			return ctx.Err()
		case err := <-errc:
			m.Reset()
			return fmt.Errorf("monitoring stopped: %w", err)
		case chunk := <-chunks:
			for _, ev := range m.Advance(chunk) {
				select {
				case out <- ev:
				case <-ctx.Done():
					m.Reset()
					return ctx.Err()
				}
			}
		}
	}
}
