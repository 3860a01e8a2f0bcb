package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"camrand/internal/shared/logger"
	"camrand/internal/shared/types"
	"camrand/rngpool/mixer"
	"camrand/rngpool/model"
	"camrand/rngpool/registry"
	"camrand/rngpool/store"
)

// ErrBufferExhausted is returned when a dequeue cannot be satisfied within
// the replenishment attempt budget. Callers get full-length output or this
// error, never a silently short payload.
var ErrBufferExhausted = errors.New("buffer exhausted: sources could not produce enough blocks")

// Collector is the fetch→process stage of the pipeline as the manager sees
// it. The real implementation is fetcher.Fetcher; tests substitute mocks.
type Collector interface {
	CollectRound(ctx context.Context, endpoints []*model.SourceEndpoint, goal int) []*model.ExtractedSample
}

// Broadcaster receives a status snapshot after every round and dequeue.
type Broadcaster interface {
	BroadcastStatus(report *model.StatusReport)
}

// Manager owns the durable FIFO of random blocks and drives replenishment.
// Rounds are serialized: concurrent collection is disallowed by design to
// keep buffer ordering and the mixer counter auditable.
type Manager struct {
	cfg       *types.Config
	store     store.Store
	registry  *registry.Registry
	collector Collector
	mixer     *mixer.Mixer

	roundMu sync.Mutex // serializes replenishment rounds

	stateMu sync.RWMutex
	state   model.RoundState

	hubMu sync.RWMutex
	hub   Broadcaster
}

// NewManager wires the pipeline components together.
func NewManager(cfg *types.Config, st store.Store, reg *registry.Registry, col Collector, mx *mixer.Mixer) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		collector: col,
		mixer:     mx,
		state:     model.StateIdle,
	}
}

// SetBroadcaster attaches the websocket hub (or any other listener).
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.hubMu.Lock()
	m.hub = b
	m.hubMu.Unlock()
}

// Dequeue pops whole blocks in FIFO order, concatenates them and truncates
// to exactly byteCount. Each popped block is deleted and never served again.
// If the buffer cannot cover the request, collection rounds run inline until
// it can or the attempt budget is spent.
func (m *Manager) Dequeue(ctx context.Context, byteCount int) ([]byte, error) {
	if byteCount <= 0 {
		return nil, fmt.Errorf("invalid byte count %d", byteCount)
	}
	blockSize := m.mixer.BlockSize()
	needed := (byteCount + blockSize - 1) / blockSize

	// Blocks popped here are accumulated across attempts: losing part of the
	// buffer to a concurrent consumer costs replenishment work, not an error.
	var blocks []*model.RandomBlock
	for attempt := 0; ; attempt++ {
		got, err := m.store.PopFront(needed - len(blocks))
		if err != nil {
			return nil, fmt.Errorf("failed to pop blocks: %w", err)
		}
		blocks = append(blocks, got...)
		if len(blocks) >= needed {
			break
		}
		if attempt >= m.cfg.PoolConf.DequeueAttempts {
			l := logger.WithComponent("RngPool/Manager")
			l.Warn().
				Int("requested_bytes", byteCount).
				Int("popped_blocks", len(blocks)).
				Msg("Dequeue exceeded replenishment budget.")
			return nil, ErrBufferExhausted
		}
		m.roundMu.Lock()
		if m.store.Count() < needed-len(blocks) {
			m.runRound(ctx)
		}
		m.roundMu.Unlock()
	}

	out := make([]byte, 0, needed*blockSize)
	for _, b := range blocks {
		out = append(out, b.Bytes...)
	}
	m.broadcast()

	// Kick off background replenishment if the dequeue dipped the buffer
	// below the low-water mark.
	if m.store.Count() < m.cfg.PoolConf.LowWaterMark {
		go m.MaybeReplenish(context.Background())
	}

	return out[:byteCount], nil
}

// SeedExternal folds caller-supplied bytes into the next mix call.
func (m *Manager) SeedExternal(seed []byte) {
	m.mixer.SeedExternal(seed)
}

// MaybeReplenish runs collection rounds until the buffer is back above the
// high-water mark or the attempt budget is exhausted. Stopping short leaves
// the buffer partially filled: degraded availability, not an error.
func (m *Manager) MaybeReplenish(ctx context.Context) {
	if m.store.Count() >= m.cfg.PoolConf.LowWaterMark {
		return
	}
	m.roundMu.Lock()
	defer m.roundMu.Unlock()

	l := logger.WithComponent("RngPool/Manager")
	for attempt := 0; attempt < m.cfg.PoolConf.DequeueAttempts; attempt++ {
		if m.store.Count() >= m.cfg.PoolConf.HighWaterMark {
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.runRound(ctx)
	}
	if m.store.Count() < m.cfg.PoolConf.HighWaterMark {
		l.Warn().
			Int("buffered_blocks", m.store.Count()).
			Int("high_water_mark", m.cfg.PoolConf.HighWaterMark).
			Msg("Replenishment budget exhausted below high-water mark, running degraded.")
	}
}

// runRound executes one fetch→process→mix cycle and appends the produced
// blocks. Caller must hold roundMu. Underfill is not an error: the round
// produces whatever blocks it can.
func (m *Manager) runRound(ctx context.Context) int {
	l := logger.WithComponent("RngPool/Manager")
	roundID := uuid.NewString()[:8]

	m.setState(model.StateCollecting)
	m.broadcast()

	candidates := m.registry.ListEligible()
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	goal := m.cfg.PoolConf.FramesGoal
	started := time.Now()
	samples := m.collector.CollectRound(ctx, candidates, goal)

	produced := 0
	for _, batch := range m.batchSamples(samples) {
		block, err := m.mixer.Mix(batch)
		if err != nil {
			l.Error().Str("round", roundID).Err(err).Msg("Mix failed, block abandoned.")
			continue
		}
		if err := m.store.Append(block); err != nil {
			l.Error().Str("round", roundID).Err(err).Msg("Failed to persist block.")
			continue
		}
		produced++
	}

	if len(samples) < goal {
		l.Info().
			Str("round", roundID).
			Int("collected", len(samples)).
			Int("goal", goal).
			Msg("Round underfilled, continuing with what was collected.")
	}
	l.Info().
		Str("round", roundID).
		Int("blocks", produced).
		Int("buffered", m.store.Count()).
		Int64("elapsed_ms", time.Since(started).Milliseconds()).
		Msg("Round finished.")

	if m.store.Count() >= m.cfg.PoolConf.HighWaterMark {
		m.setState(model.StateIdle)
	} else {
		m.setState(model.StateDegraded)
	}
	m.broadcast()
	return produced
}

// batchSamples groups a round's samples into per-block batches.
// samples_per_block > 0 chunks them, final partial chunk included;
// samples_per_block = 0 folds every sample into each of blocks_per_round
// blocks, which is how the buffer refills faster than one block per fetch.
func (m *Manager) batchSamples(samples []*model.ExtractedSample) [][]*model.ExtractedSample {
	if len(samples) == 0 {
		return nil
	}
	perBlock := m.cfg.PoolConf.SamplesPerBlock
	if perBlock <= 0 {
		batches := make([][]*model.ExtractedSample, 0, m.cfg.PoolConf.BlocksPerRound)
		for i := 0; i < m.cfg.PoolConf.BlocksPerRound; i++ {
			batches = append(batches, samples)
		}
		return batches
	}
	var batches [][]*model.ExtractedSample
	for start := 0; start < len(samples); start += perBlock {
		end := start + perBlock
		if end > len(samples) {
			end = len(samples)
		}
		batches = append(batches, samples[start:end])
	}
	return batches
}

// Status reports the buffer and per-endpoint health snapshot.
func (m *Manager) Status() *model.StatusReport {
	report := &model.StatusReport{
		BufferedBlocks: m.store.Count(),
		RoundState:     m.getState(),
		Endpoints:      m.registry.Summary(),
	}
	report.BelowLowWater = report.BufferedBlocks < m.cfg.PoolConf.LowWaterMark
	if t, ok := m.store.LastCreated(); ok {
		report.LastBlockTime = &t
	}
	return report
}

// DrainToFile repeatedly dequeues blocks and appends them to path until the
// file holds at least totalBits bits, resuming from whatever is already
// there. format is "binary" (raw bytes) or "text" (ASCII '0'/'1' per bit),
// the two layouts the statistical test suites consume.
func (m *Manager) DrainToFile(ctx context.Context, path string, totalBits int64, format string) error {
	if format != "binary" && format != "text" {
		return fmt.Errorf("unknown output format %q", format)
	}
	l := logger.WithComponent("RngPool/Manager")

	var bitsDone int64
	if info, err := os.Stat(path); err == nil {
		if format == "binary" {
			bitsDone = info.Size() * 8
		} else {
			bitsDone = info.Size()
		}
		l.Info().Str("path", path).Int64("bits", bitsDone).Msg("Resuming existing output file.")
	}
	if bitsDone >= totalBits {
		l.Info().Msg("Target bit count already reached, nothing to do.")
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	blockSize := m.mixer.BlockSize()
	for bitsDone < totalBits {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := m.Dequeue(ctx, blockSize)
		if err != nil {
			return fmt.Errorf("drain stalled at %d/%d bits: %w", bitsDone, totalBits, err)
		}
		if format == "binary" {
			if _, err := file.Write(data); err != nil {
				return err
			}
			bitsDone += int64(len(data)) * 8
		} else {
			if _, err := file.Write(toASCIIBits(data)); err != nil {
				return err
			}
			bitsDone += int64(len(data)) * 8
		}
		l.Debug().Int64("bits", bitsDone).Int64("target", totalBits).Msg("Drain progress.")
	}

	l.Info().Str("path", path).Int64("bits", bitsDone).Str("format", format).Msg("Drain finished.")
	return nil
}

// toASCIIBits expands raw bytes to one '0'/'1' character per bit, MSB first.
func toASCIIBits(data []byte) []byte {
	out := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for bit := 7; bit >= 0; bit-- {
			out = append(out, '0'+(b>>uint(bit))&1)
		}
	}
	return out
}

func (m *Manager) setState(s model.RoundState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

func (m *Manager) getState() model.RoundState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) broadcast() {
	m.hubMu.RLock()
	hub := m.hub
	m.hubMu.RUnlock()
	if hub != nil {
		hub.BroadcastStatus(m.Status())
	}
}
