package frame

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"image"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"camrand/internal/shared/logger"
	"camrand/rngpool/model"
)

// cropTag domain-separates the crop-coordinate PRF from every other keyed
// hash in the process.
var cropTag = []byte("crop-v1")

// Processor turns a raw successfully-fetched image into an ExtractedSample,
// or rejects it with a typed failure kind. All state mutation happens on the
// round consumer goroutine; the mutex only guards against misuse.
type Processor struct {
	cropW, cropH int
	windowSize   int
	cropKey      []byte

	mu     sync.Mutex
	recent map[string][][32]byte // per-endpoint rolling digest window, newest last
}

// New creates a processor with a fresh process-local crop key. The key makes
// extraction coordinates unpredictable to anyone who can see the frames,
// while still being a pure function of the frame content for this process.
func New(cropW, cropH, windowSize int) (*Processor, error) {
	if cropW <= 0 || cropH <= 0 {
		return nil, fmt.Errorf("invalid crop size %dx%d", cropW, cropH)
	}
	if windowSize <= 0 {
		windowSize = 1
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate crop key: %w", err)
	}
	return &Processor{
		cropW:      cropW,
		cropH:      cropH,
		windowSize: windowSize,
		cropKey:    key,
		recent:     make(map[string][][32]byte),
	}, nil
}

// Process validates, decodes, deduplicates and extracts a region from one
// payload. On rejection the returned failure kind is non-empty and the
// sample is nil.
func (p *Processor) Process(ep *model.SourceEndpoint, payload []byte, latency time.Duration) (*model.ExtractedSample, model.FailureKind) {
	l := logger.WithComponent("RngPool/Frame")

	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		l.Debug().Str("url", ep.URL).Err(err).Msg("Payload did not decode as an image.")
		return nil, model.FailureDecode
	}

	pix, w, h := normalize(img)
	digest := blake2b.Sum256(pix)

	if p.seenRecently(ep.URL, digest) {
		l.Debug().Str("url", ep.URL).Msg("Duplicate frame within dedup window, discarding.")
		return nil, model.FailureDuplicate
	}

	if w < p.cropW || h < p.cropH {
		l.Debug().Str("url", ep.URL).Int("width", w).Int("height", h).Msg("Frame smaller than extraction region.")
		return nil, model.FailureTooSmall
	}

	x, y := p.deriveCropOrigin(digest, w, h)
	region := extractRegion(pix, w, x, y, p.cropW, p.cropH)

	p.remember(ep.URL, digest)

	l.Debug().
		Str("url", ep.URL).
		Str("format", format).
		Int("x", x).
		Int("y", y).
		Msg("Frame accepted.")

	return &model.ExtractedSample{
		Region:      region,
		X:           x,
		Y:           y,
		SourceURL:   ep.URL,
		Latency:     latency,
		PayloadSize: len(payload),
	}, ""
}

// Forget drops the dedup state for an endpoint. Called when the registry
// disables one, so the map cannot grow past the source list size.
func (p *Processor) Forget(url string) {
	p.mu.Lock()
	delete(p.recent, url)
	p.mu.Unlock()
}

// normalize converts any decoded image to the canonical layout: 8-bit RGB,
// row-major, top-left origin. Mixing then treats all sources uniformly.
func normalize(img image.Image) (pix []byte, w, h int) {
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)

	// Drop the constant alpha channel.
	pix = make([]byte, 0, w*h*3)
	for i := 0; i < len(dst.Pix); i += 4 {
		pix = append(pix, dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2])
	}
	return pix, w, h
}

// deriveCropOrigin maps the frame digest through a keyed BLAKE2b PRF to a
// crop origin inside the frame bounds. No separate RNG: the position cannot
// be steered without also changing the frame content that is being mixed.
func (p *Processor) deriveCropOrigin(digest [32]byte, w, h int) (int, int) {
	maxX := w - p.cropW + 1
	maxY := h - p.cropH + 1

	prf, err := blake2b.New(8, p.cropKey)
	if err != nil {
		// Key length is fixed at construction; this cannot fail at runtime.
		panic(err)
	}
	prf.Write(cropTag)
	prf.Write(digest[:])
	seed := prf.Sum(nil)

	x := int(binary.BigEndian.Uint32(seed[0:4])) % maxX
	y := int(binary.BigEndian.Uint32(seed[4:8])) % maxY
	return x, y
}

// extractRegion copies a cw×ch rectangle out of a w-wide RGB8 pixel buffer.
func extractRegion(pix []byte, w, x, y, cw, ch int) []byte {
	region := make([]byte, 0, cw*ch*3)
	for row := y; row < y+ch; row++ {
		start := (row*w + x) * 3
		region = append(region, pix[start:start+cw*3]...)
	}
	return region
}

func (p *Processor) seenRecently(url string, digest [32]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.recent[url] {
		if d == digest {
			return true
		}
	}
	return false
}

func (p *Processor) remember(url string, digest [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	window := append(p.recent[url], digest)
	if len(window) > p.windowSize {
		window = window[len(window)-p.windowSize:]
	}
	p.recent[url] = window
}
