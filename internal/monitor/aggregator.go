package monitor

import "sort"

type EventType int

const (
	// TrackDetected is emitted once per distinct playback occurrence, when a
	// track has exceeded the vote threshold for ConfirmPasses consecutive
	// passes.
	TrackDetected EventType = iota
	// TrackEnded closes a confirmed detection after MissPasses consecutive
	// passes without votes, or at the max-detection cap.
	TrackEnded
)

func (t EventType) String() string {
	switch t {
	case TrackDetected:
		return "DETECTED"
	case TrackEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Event is one detection-lifecycle event. StreamTimestamp is the estimated
// track onset for TrackDetected and the closing pass time for TrackEnded;
// ConfirmedAt is always the stream time of the pass that produced the event.
type Event struct {
	Type            EventType
	TrackID         uint32
	Label           string
	StreamTimestamp float64
	ConfirmedAt     float64
	Confidence      float64
}

type trackPhase int

const (
	phasePending trackPhase = iota
	phaseConfirmed
)

// trackState is one row of the aggregator's flat state table. Idle tracks
// simply have no row.
type trackState struct {
	phase       trackPhase
	hits        int
	misses      int
	onset       float64
	confidence  float64
	confirmedAt float64
}

// AggregatorConfig tunes detection debouncing.
type AggregatorConfig struct {
	ConfirmPasses int     // consecutive matching passes before TrackDetected
	MissPasses    int     // consecutive missing passes before TrackEnded
	MaxDetection  float64 // seconds a detection may stay open
}

// Aggregator debounces per-pass candidates into detection events. One state
// machine per track id, all advanced exactly once per pass; multiple tracks
// may be pending or confirmed at the same time (cross-fades).
type Aggregator struct {
	cfg    AggregatorConfig
	states map[uint32]*trackState
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.ConfirmPasses < 1 {
		cfg.ConfirmPasses = 1
	}
	if cfg.MissPasses < 1 {
		cfg.MissPasses = 1
	}
	return &Aggregator{cfg: cfg, states: make(map[uint32]*trackState)}
}

// Observe advances every tracked state by one pass and returns the events it
// produced, ordered by stream timestamp, then type, then track id.
func (a *Aggregator) Observe(cands []Candidate, passTime float64) []Event {
	matched := make(map[uint32]bool, len(cands))
	var events []Event

	for _, c := range cands {
		matched[c.TrackID] = true
		s := a.states[c.TrackID]
		if s == nil {
			// An alignment before stream start means the track was already
			// playing when monitoring began; report its onset as stream zero.
			onset := onsetSeconds(c.OffsetDelta)
			if onset < 0 {
				onset = 0
			}
			s = &trackState{phase: phasePending, onset: onset}
			a.states[c.TrackID] = s
		}
		s.hits++
		s.misses = 0
		s.confidence = c.Confidence

		if s.phase == phasePending && s.hits >= a.cfg.ConfirmPasses {
			s.phase = phaseConfirmed
			s.confirmedAt = passTime
			events = append(events, Event{
				Type:            TrackDetected,
				TrackID:         c.TrackID,
				StreamTimestamp: s.onset,
				ConfirmedAt:     passTime,
				Confidence:      s.confidence,
			})
		}
	}

	for trackID, s := range a.states {
		if matched[trackID] {
			if s.phase == phaseConfirmed && a.cfg.MaxDetection > 0 && passTime-s.confirmedAt >= a.cfg.MaxDetection {
				events = append(events, a.closeEvent(trackID, s, passTime))
				delete(a.states, trackID)
			}
			continue
		}

		switch s.phase {
		case phasePending:
			// The confirm requirement is consecutive; one miss voids it.
			delete(a.states, trackID)
		case phaseConfirmed:
			s.misses++
			if s.misses >= a.cfg.MissPasses {
				events = append(events, a.closeEvent(trackID, s, passTime))
				delete(a.states, trackID)
			}
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].StreamTimestamp != events[j].StreamTimestamp {
			return events[i].StreamTimestamp < events[j].StreamTimestamp
		}
		if events[i].Type != events[j].Type {
			return events[i].Type < events[j].Type
		}
		return events[i].TrackID < events[j].TrackID
	})
	return events
}

func (a *Aggregator) closeEvent(trackID uint32, s *trackState, passTime float64) Event {
	return Event{
		Type:            TrackEnded,
		TrackID:         trackID,
		StreamTimestamp: passTime,
		ConfirmedAt:     passTime,
		Confidence:      s.confidence,
	}
}

// Reset drops all per-track state. Pending and confirmed detections are
// discarded, not flushed.
func (a *Aggregator) Reset() {
	a.states = make(map[uint32]*trackState)
}
