package model

import "time"

// SourceKind distinguishes single-snapshot endpoints from multi-frame streams.
type SourceKind string

const (
	KindSnapshot SourceKind = "snapshot"
	KindStream   SourceKind = "stream"
)

// SourceEndpoint 定义了一个图像源的完整信息，是整个模块的核心数据结构。
// Identity comes from the sources file; health state is runtime-only and is
// mutated exclusively by the fetcher pool via the registry.
type SourceEndpoint struct {
	URL  string     `json:"url"`
	Kind SourceKind `json:"kind"`

	// Health state. The disabled flag is never persisted: the external
	// health tool curates the sources file out-of-band.
	FailureCount int       `json:"failure_count"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	Disabled     bool      `json:"disabled"`
}

// FailureKind classifies one failed attempt against one endpoint.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection_error"
	FailureDecode     FailureKind = "decode_error"
	FailureDuplicate  FailureKind = "duplicate_frame"
	FailureTooSmall   FailureKind = "frame_too_small"
	FailureTooLarge   FailureKind = "payload_too_large"
)

// FetchResult is the outcome of one attempt against one endpoint. It is
// consumed immediately by the frame processor and discarded.
type FetchResult struct {
	Endpoint *SourceEndpoint
	Payload  []byte // raw image bytes, nil on failure
	Latency  time.Duration
	Failure  FailureKind // empty on success
	Err      error       // underlying cause, log-only
}

// ExtractedSample is a fixed-size region of canonical pixel bytes drawn from
// one accepted frame, plus the metadata that feeds the mixer as auxiliary
// entropy.
type ExtractedSample struct {
	Region      []byte // CropWidth*CropHeight*3 bytes, RGB8
	X, Y        int    // selection coordinates, derived from the frame digest
	SourceURL   string
	Latency     time.Duration
	PayloadSize int // byte size of the original payload
}

// RandomBlock is one fixed-size unit of mixed random output, created only by
// the entropy mixer and stored durably until dequeued exactly once.
type RandomBlock struct {
	Seq       uint64
	CreatedAt time.Time
	Bytes     []byte
}

// RoundState names the buffer manager's replenishment cycle states.
type RoundState string

const (
	StateIdle       RoundState = "idle"
	StateCollecting RoundState = "collecting"
	StateDegraded   RoundState = "degraded"
)

// EndpointHealth is the per-endpoint slice of a status report.
type EndpointHealth struct {
	URL          string     `json:"url"`
	Kind         SourceKind `json:"kind"`
	FailureCount int        `json:"failure_count"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	Disabled     bool       `json:"disabled"`
}

// StatusReport is the snapshot exposed to the serving layer and pushed to
// websocket subscribers after every round.
type StatusReport struct {
	BufferedBlocks int              `json:"buffered_block_count"`
	BelowLowWater  bool             `json:"low_water_mark_flag"`
	LastBlockTime  *time.Time       `json:"last_block_timestamp,omitempty"`
	RoundState     RoundState       `json:"round_state"`
	Endpoints      []EndpointHealth `json:"endpoints"`
}
