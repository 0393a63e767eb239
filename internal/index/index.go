// Package index maps fingerprint hashes to the tracks and offsets that
// produced them. The in-memory Index serves the matching hot path; Store
// persists the same mapping in badger.
package index

import (
	"sync"

	"aircheck/internal/fingerprint"
)

// Posting is one stored occurrence of a hash.
type Posting struct {
	TrackID     uint32
	AnchorFrame uint32
}

// Index is an explicitly owned object handed to both the library builder and
// the streaming matcher; construct isolated instances in tests rather than
// sharing globals.
//
// Building (Insert/Remove) and matching (Lookup) are distinct phases and are
// never interleaved, but builds themselves run on a worker pool, so writes
// are guarded. Lookup only takes the read lock.
type Index struct {
	mu      sync.RWMutex
	buckets map[fingerprint.Hash][]Posting
	tracks  map[uint32]int // records held per track
}

func New() *Index {
	return &Index{
		buckets: make(map[fingerprint.Hash][]Posting),
		tracks:  make(map[uint32]int),
	}
}

// Insert appends one record to its hash bucket. Duplicates are kept; order
// within a bucket carries no meaning.
func (x *Index) Insert(rec fingerprint.Record) {
	x.mu.Lock()
	x.insertLocked(rec)
	x.mu.Unlock()
}

// InsertAll appends a batch under one lock acquisition.
func (x *Index) InsertAll(recs []fingerprint.Record) {
	x.mu.Lock()
	for _, rec := range recs {
		x.insertLocked(rec)
	}
	x.mu.Unlock()
}

func (x *Index) insertLocked(rec fingerprint.Record) {
	x.buckets[rec.Hash] = append(x.buckets[rec.Hash], Posting{
		TrackID:     rec.TrackID,
		AnchorFrame: rec.AnchorFrame,
	})
	x.tracks[rec.TrackID]++
}

// Lookup returns every stored occurrence of h, or nil when unseen. An empty
// or freshly constructed index is not an error; matching simply collects
// zero votes. Callers must not modify the returned slice.
func (x *Index) Lookup(h fingerprint.Hash) []Posting {
	x.mu.RLock()
	postings := x.buckets[h]
	x.mu.RUnlock()
	return postings
}

// Remove drops every record for trackID. Linear in index size, which is
// acceptable for infrequent library edits.
func (x *Index) Remove(trackID uint32) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for h, bucket := range x.buckets {
		kept := bucket[:0]
		for _, p := range bucket {
			if p.TrackID != trackID {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(x.buckets, h)
		} else {
			x.buckets[h] = kept
		}
	}
	delete(x.tracks, trackID)
}

// Len returns the total number of stored records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	total := 0
	for _, n := range x.tracks {
		total += n
	}
	return total
}

// TrackRecords returns the number of records stored for trackID.
func (x *Index) TrackRecords(trackID uint32) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tracks[trackID]
}

// Tracks returns the ids currently represented in the index.
func (x *Index) Tracks() []uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]uint32, 0, len(x.tracks))
	for id := range x.tracks {
		ids = append(ids, id)
	}
	return ids
}
