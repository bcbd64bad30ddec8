package order

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	trackingPrefix   = "TRK"
	trackingSuffix   = 10
	trackingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Largest multiple of len(trackingAlphabet) that fits in a byte.
	trackingByteLimit = 252
	// Local redraws before a candidate the filter may have seen is returned
	// anyway; the repository stays the authority on uniqueness.
	localRedraws = 4
)

// ValidTrackingNumber reports whether s has the TRK + 10 [A-Z0-9] format.
func ValidTrackingNumber(s string) bool {
	if len(s) != len(trackingPrefix)+trackingSuffix || s[:len(trackingPrefix)] != trackingPrefix {
		return false
	}
	for i := len(trackingPrefix); i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// TrackingNumbers generates random tracking numbers. A bloom filter of
// numbers already issued lets it skip likely duplicates before they reach
// storage.
type TrackingNumbers struct {
	mu   sync.Mutex
	seen *bloom.BloomFilter
	rand io.Reader
}

// NewTrackingNumbers creates a generator sized for expected numbers.
func NewTrackingNumbers(expected uint) *TrackingNumbers {
	if expected == 0 {
		expected = 100_000
	}
	return &TrackingNumbers{
		seen: bloom.NewWithEstimates(expected, 0.001),
		rand: rand.Reader,
	}
}

// Next returns a fresh tracking number.
func (g *TrackingNumbers) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var candidate string
	for range localRedraws {
		s, err := g.draw()
		if err != nil {
			return "", err
		}
		candidate = s
		if !g.seen.TestString(s) {
			break
		}
	}
	g.seen.AddString(candidate)
	return candidate, nil
}

func (g *TrackingNumbers) draw() (string, error) {
	out := make([]byte, 0, len(trackingPrefix)+trackingSuffix)
	out = append(out, trackingPrefix...)

	var buf [16]byte
	for len(out) < cap(out) {
		if _, err := io.ReadFull(g.rand, buf[:]); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for _, b := range buf {
			if b >= trackingByteLimit {
				continue
			}
			out = append(out, trackingAlphabet[int(b)%len(trackingAlphabet)])
			if len(out) == cap(out) {
				break
			}
		}
	}
	return string(out), nil
}
