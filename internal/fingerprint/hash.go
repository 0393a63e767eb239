package fingerprint

// Hash is the quantized key derived from a landmark pair: anchor frequency
// bucket, paired frequency bucket and frame delta packed into 32 bits.
// Equality is exact over the packed value.
type Hash uint32

// Bit layout: [ anchor (freqBits) | paired (freqBits) | delta (deltaBits) ].
// Frequency bins are bucketed two bins wide so that small pitch jitter between
// encodings of the same audio still lands in the same bucket; wider buckets
// would tolerate more drift at the cost of more accidental collisions.
const (
	freqBits  = 9
	deltaBits = 14

	// FreqBucketBins is the quantization width in FFT bins.
	FreqBucketBins = 2

	freqMask  = (1 << freqBits) - 1
	deltaMask = (1 << deltaBits) - 1

	shiftPaired = deltaBits
	shiftAnchor = deltaBits + freqBits
)

// PackHash quantizes and packs a landmark pair. ok is false when the pair is
// not representable (bucket or delta out of field range).
func PackHash(anchorBin, pairedBin, deltaFrames int) (Hash, bool) {
	if anchorBin < 0 || pairedBin < 0 || deltaFrames < 0 {
		return 0, false
	}
	anchor := uint32(anchorBin / FreqBucketBins)
	paired := uint32(pairedBin / FreqBucketBins)
	delta := uint32(deltaFrames)

	if anchor > freqMask || paired > freqMask || delta > deltaMask {
		return 0, false
	}
	return Hash(anchor<<shiftAnchor | paired<<shiftPaired | delta), true
}

// AnchorBucket returns the quantized anchor frequency bucket.
func (h Hash) AnchorBucket() int { return int(h>>shiftAnchor) & freqMask }

// PairedBucket returns the quantized paired frequency bucket.
func (h Hash) PairedBucket() int { return int(h>>shiftPaired) & freqMask }

// DeltaFrames returns the frame distance between the pair.
func (h Hash) DeltaFrames() int { return int(h) & deltaMask }
