package types

// CommonConf holds behaviour shared by both serve and drain modes.
type CommonConf struct {
	DataDir string `ini:"data_dir"`
}

// PoolConf configures the buffer manager and the source registry.
type PoolConf struct {
	SourcesFile      string `ini:"sources_file"`      // line-oriented endpoint list
	BufferFile       string `ini:"buffer_file"`       // persistent FIFO block store
	LowWaterMark     int    `ini:"low_water_mark"`    // replenish below this many blocks
	HighWaterMark    int    `ini:"high_water_mark"`   // stop replenishing above this
	FramesGoal       int    `ini:"frames_goal"`       // successful frames wanted per round
	BlocksPerRound   int    `ini:"blocks_per_round"`  // blocks per round when samples_per_block=0
	SamplesPerBlock  int    `ini:"samples_per_block"` // 0 = fold every sample into every block
	FailureThreshold int    `ini:"failure_threshold"` // consecutive failures before disabling
	DequeueAttempts  int    `ini:"dequeue_attempts"`  // replenish attempts before buffer_exhausted
}

// FetchConf configures the fetcher pool.
type FetchConf struct {
	TimeoutSeconds     int `ini:"timeout_seconds"`
	Concurrency        int `ini:"concurrency"`
	MaxSnapshotBytes   int `ini:"max_snapshot_bytes"`
	MaxStreamScanBytes int `ini:"max_stream_scan_bytes"`
	DedupWindow        int `ini:"dedup_window"`
}

// MixerConf configures the entropy mixer and the frame processor.
type MixerConf struct {
	BlockSize  int `ini:"block_size"` // bytes per output block, max 64
	CropWidth  int `ini:"crop_width"`
	CropHeight int `ini:"crop_height"`
}

// LocalConf holds the serving layer configuration.
type LocalConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// ScraperConf configures source discovery.
type ScraperConf struct {
	DirectoryURLs []string `ini:"directory_urls,omitempty" delim:","`
	MaxPerRun     int      `ini:"max_per_run"`
}

// Config is the unified configuration structure mapped from camrand.ini.
type Config struct {
	CommonConf  `ini:"common"`
	PoolConf    `ini:"pool"`
	FetchConf   `ini:"fetch"`
	MixerConf   `ini:"mixer"`
	LocalConf   `ini:"local"`
	LogConf     `ini:"log"`
	ScraperConf `ini:"scraper"`
}

// ApplyDefaults fills every zero-valued knob with the pipeline defaults.
func (c *Config) ApplyDefaults() {
	if c.PoolConf.SourcesFile == "" {
		c.PoolConf.SourcesFile = "webcams.txt"
	}
	if c.PoolConf.BufferFile == "" {
		c.PoolConf.BufferFile = "rng_buffer.dat"
	}
	if c.PoolConf.LowWaterMark <= 0 {
		c.PoolConf.LowWaterMark = 50
	}
	if c.PoolConf.BlocksPerRound <= 0 {
		c.PoolConf.BlocksPerRound = 10
	}
	if c.PoolConf.HighWaterMark <= c.PoolConf.LowWaterMark {
		c.PoolConf.HighWaterMark = c.PoolConf.LowWaterMark + c.PoolConf.BlocksPerRound
	}
	if c.PoolConf.FramesGoal <= 0 {
		c.PoolConf.FramesGoal = 100
	}
	if c.PoolConf.FailureThreshold <= 0 {
		c.PoolConf.FailureThreshold = 10
	}
	if c.PoolConf.DequeueAttempts <= 0 {
		c.PoolConf.DequeueAttempts = 3
	}
	if c.FetchConf.TimeoutSeconds <= 0 {
		c.FetchConf.TimeoutSeconds = 10
	}
	if c.FetchConf.Concurrency <= 0 {
		c.FetchConf.Concurrency = 50
	}
	if c.FetchConf.MaxSnapshotBytes <= 0 {
		c.FetchConf.MaxSnapshotBytes = 4 * 1024 * 1024
	}
	if c.FetchConf.MaxStreamScanBytes <= 0 {
		c.FetchConf.MaxStreamScanBytes = 2 * 1024 * 1024
	}
	if c.FetchConf.DedupWindow <= 0 {
		c.FetchConf.DedupWindow = 4
	}
	if c.MixerConf.BlockSize <= 0 {
		c.MixerConf.BlockSize = 64
	}
	if c.MixerConf.CropWidth <= 0 {
		c.MixerConf.CropWidth = 100
	}
	if c.MixerConf.CropHeight <= 0 {
		c.MixerConf.CropHeight = 100
	}
	if c.ScraperConf.MaxPerRun <= 0 {
		c.ScraperConf.MaxPerRun = 200
	}
}
