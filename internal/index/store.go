package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"

	"aircheck/internal/fingerprint"
)

// ErrIndexCorrupt means the persisted index failed validation on load.
// Loading is all-or-nothing: a partially loaded index would turn silent gaps
// into false negatives indistinguishable from "track not in library", so the
// caller must rebuild instead.
var ErrIndexCorrupt = errors.New("fingerprint index corrupt")

// Store persists the hash -> (track, offset) mapping in badger. Postings are
// keyed by (hash, track, anchor) with a multiplicity count as value, so the
// exact record multiset survives a round trip. Each track additionally gets
// a meta entry holding its record count and a checksum, validated on load.
type Store struct {
	db *badger.DB
}

const (
	postingPrefix = 'h'
	metaPrefix    = 't'

	postingKeyLen = 1 + 4 + 4 + 4 // prefix + hash + track + anchor
	metaValueLen  = 4 + 8         // count + checksum
)

func OpenStore(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Drop erases the whole persisted index (force rebuild).
func (s *Store) Drop() error {
	return s.db.DropAll()
}

// Append writes every record of one track. The build phase is append-only:
// a track is appended exactly once, in whole.
func (s *Store) Append(trackID uint32, recs []fingerprint.Record) error {
	counts := make(map[[postingKeyLen]byte]uint32, len(recs))
	var checksum uint64
	for _, rec := range recs {
		if rec.TrackID != trackID {
			return fmt.Errorf("record for track %d in batch for track %d", rec.TrackID, trackID)
		}
		counts[postingKey(rec.Hash, rec.TrackID, rec.AnchorFrame)]++
		checksum += recordChecksum(rec)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for key, n := range counts {
		key := key
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, n)
		if err := wb.Set(key[:], val); err != nil {
			return fmt.Errorf("writing posting: %w", err)
		}
	}

	meta := make([]byte, metaValueLen)
	binary.BigEndian.PutUint32(meta[:4], uint32(len(recs)))
	binary.BigEndian.PutUint64(meta[4:], checksum)
	if err := wb.Set(metaKey(trackID), meta); err != nil {
		return fmt.Errorf("writing track meta: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing index batch: %w", err)
	}
	return nil
}

// RemoveTrack deletes every posting and the meta entry for trackID without
// touching other tracks. Linear in store size; library edits are rare.
func (s *Store) RemoveTrack(trackID uint32) error {
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{postingPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if len(key) == postingKeyLen && binary.BigEndian.Uint32(key[5:9]) == trackID {
				doomed = append(doomed, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning postings: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("deleting posting: %w", err)
		}
	}
	if err := wb.Delete(metaKey(trackID)); err != nil {
		return fmt.Errorf("deleting track meta: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing removal: %w", err)
	}
	return nil
}

// Load reads the whole store into a fresh in-memory Index, validating every
// track's record count and checksum against its meta entry. Any
// inconsistency or read failure yields ErrIndexCorrupt.
func (s *Store) Load() (*Index, error) {
	idx := New()
	counts := make(map[uint32]uint32)
	sums := make(map[uint32]uint64)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{postingPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != postingKeyLen {
				return fmt.Errorf("malformed posting key of length %d", len(key))
			}
			rec := fingerprint.Record{
				Hash:        fingerprint.Hash(binary.BigEndian.Uint32(key[1:5])),
				TrackID:     binary.BigEndian.Uint32(key[5:9]),
				AnchorFrame: binary.BigEndian.Uint32(key[9:13]),
			}
			err := item.Value(func(val []byte) error {
				if len(val) != 4 {
					return fmt.Errorf("malformed posting value of length %d", len(val))
				}
				n := binary.BigEndian.Uint32(val)
				for i := uint32(0); i < n; i++ {
					idx.Insert(rec)
					counts[rec.TrackID]++
					sums[rec.TrackID] += recordChecksum(rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	metas := make(map[uint32][2]uint64)
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{metaPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 5 {
				return fmt.Errorf("malformed meta key of length %d", len(key))
			}
			trackID := binary.BigEndian.Uint32(key[1:5])
			err := item.Value(func(val []byte) error {
				if len(val) != metaValueLen {
					return fmt.Errorf("malformed meta value of length %d", len(val))
				}
				metas[trackID] = [2]uint64{
					uint64(binary.BigEndian.Uint32(val[:4])),
					binary.BigEndian.Uint64(val[4:]),
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	if len(metas) != len(counts) {
		return nil, fmt.Errorf("%w: %d tracks with postings, %d with meta", ErrIndexCorrupt, len(counts), len(metas))
	}
	for trackID, meta := range metas {
		if uint64(counts[trackID]) != meta[0] || sums[trackID] != meta[1] {
			return nil, fmt.Errorf("%w: track %d fails validation", ErrIndexCorrupt, trackID)
		}
	}
	return idx, nil
}

func postingKey(h fingerprint.Hash, trackID, anchorFrame uint32) [postingKeyLen]byte {
	var key [postingKeyLen]byte
	key[0] = postingPrefix
	binary.BigEndian.PutUint32(key[1:5], uint32(h))
	binary.BigEndian.PutUint32(key[5:9], trackID)
	binary.BigEndian.PutUint32(key[9:13], anchorFrame)
	return key
}

func metaKey(trackID uint32) []byte {
	key := make([]byte, 5)
	key[0] = metaPrefix
	binary.BigEndian.PutUint32(key[1:5], trackID)
	return key
}

// recordChecksum hashes one record's fixed encoding. Per-track checksums are
// the wrapping sum of these, so validation is independent of storage order.
func recordChecksum(rec fingerprint.Record) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(rec.Hash))
	binary.BigEndian.PutUint32(buf[4:8], rec.TrackID)
	binary.BigEndian.PutUint32(buf[8:12], rec.AnchorFrame)
	return xxhash.Checksum64(buf[:])
}
