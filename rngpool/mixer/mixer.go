package mixer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"camrand/rngpool/model"
)

// mixTag domain-separates the output hash from every other keyed BLAKE2b
// use in the process.
var mixTag = []byte("camrand-mix-v1")

// osEntropyBytes is pulled fresh from the operating system on every Mix
// call, so even a full compromise of all image sources leaves the output
// unpredictable.
const osEntropyBytes = 64

// ErrNoSamples is returned when Mix is called with an empty batch.
var ErrNoSamples = errors.New("mixer: no samples to mix")

// Mixer is the only component permitted to produce a RandomBlock. It owns a
// process-local secret key, generated once at startup and never persisted or
// logged, and a counter that guarantees no two blocks are ever produced from
// identical internal state.
type Mixer struct {
	blockSize int

	mu          sync.Mutex
	key         []byte
	counter     uint64
	pendingSeed []byte // external seed folded into the next Mix call only
}

// New generates the startup secret and validates the hash primitive with the
// configured block size. Any error here is a fatal configuration problem:
// the process must not serve output without a working mixer.
func New(blockSize int) (*Mixer, error) {
	if blockSize <= 0 || blockSize > blake2b.Size {
		return nil, fmt.Errorf("mixer: block size must be 1..%d bytes, got %d", blake2b.Size, blockSize)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("mixer: failed to generate secret key: %w", err)
	}
	// Probe the primitive once so a broken configuration stops startup.
	if _, err := blake2b.New(blockSize, key); err != nil {
		return nil, fmt.Errorf("mixer: hash primitive unavailable: %w", err)
	}
	return &Mixer{blockSize: blockSize, key: key}, nil
}

// BlockSize returns the size in bytes of the blocks this mixer produces.
func (m *Mixer) BlockSize() int { return m.blockSize }

// Mix folds an ordered batch of samples, their collection metadata, the
// process counter and fresh OS entropy into one keyed digest. The counter
// increments exactly once per call, so two calls with byte-for-byte
// identical input still produce distinct blocks.
func (m *Mixer) Mix(samples []*model.ExtractedSample) (*model.RandomBlock, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := blake2b.New(m.blockSize, m.key)
	if err != nil {
		return nil, fmt.Errorf("mixer: hash init failed: %w", err)
	}
	h.Write(mixTag)

	var meta [8]byte
	for _, s := range samples {
		h.Write(s.Region)
		// Fixed-width encodings prevent framing ambiguity between samples.
		binary.BigEndian.PutUint32(meta[0:4], uint32(s.PayloadSize))
		binary.BigEndian.PutUint32(meta[4:8], uint32(s.Latency.Microseconds()))
		h.Write(meta[:])
	}

	binary.BigEndian.PutUint64(meta[:], m.counter)
	h.Write(meta[:])
	m.counter++

	osEntropy := make([]byte, osEntropyBytes)
	if _, err := rand.Read(osEntropy); err != nil {
		// Abandon the block rather than emit output missing the OS factor.
		return nil, fmt.Errorf("mixer: OS entropy unavailable: %w", err)
	}
	h.Write(osEntropy)

	if m.pendingSeed != nil {
		h.Write(m.pendingSeed)
		m.pendingSeed = nil
	}

	return &model.RandomBlock{
		CreatedAt: time.Now(),
		Bytes:     h.Sum(nil),
	}, nil
}

// SeedExternal folds caller-supplied bytes into the next Mix call only.
// Additive by construction: it is one more input to the keyed hash and can
// never displace entropy already captured from the sources.
func (m *Mixer) SeedExternal(seed []byte) {
	if len(seed) == 0 {
		return
	}
	m.mu.Lock()
	m.pendingSeed = append(m.pendingSeed, seed...)
	m.mu.Unlock()
}
