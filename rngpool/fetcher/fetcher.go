package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"camrand/internal/shared/logger"
	"camrand/internal/shared/types"
	"camrand/rngpool/frame"
	"camrand/rngpool/model"
	"camrand/rngpool/registry"
)

// antiCacheHeaders defeat CDN and camera-side caching so every fetch sees a
// fresh frame.
var antiCacheHeaders = map[string]string{
	"User-Agent":    "Mozilla/5.0",
	"Cache-Control": "no-cache",
	"Pragma":        "no-cache",
}

// Fetcher executes collection rounds: bounded-concurrency retrieval of one
// image per endpoint, with the rest of the pipeline (decode, dedup, region
// extraction) running single-threaded on the consumer side in arrival order.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	maxSnapshot int
	maxScan     int

	registry  *registry.Registry
	processor *frame.Processor
}

// New builds a fetcher pool. Public webcams routinely carry broken TLS
// certificates; the payload is noise, not secrets, so verification is off.
func New(cfg types.FetchConf, reg *registry.Registry, proc *frame.Processor) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: timeout / 2,
		IdleConnTimeout:     timeout,
		MaxIdleConnsPerHost: 2,
	}
	return &Fetcher{
		client:      &http.Client{Transport: transport},
		timeout:     timeout,
		concurrency: cfg.Concurrency,
		maxSnapshot: cfg.MaxSnapshotBytes,
		maxScan:     cfg.MaxStreamScanBytes,
		registry:    reg,
		processor:   proc,
	}
}

// CollectRound attempts every candidate endpoint once, up to the concurrency
// limit in flight, and stops early once goal frames have been accepted.
// Samples come back in fetch-completion order: real network jitter is part
// of the entropy. Endpoint failures are absorbed here and recorded against
// the registry; the round itself never fails.
func (f *Fetcher) CollectRound(ctx context.Context, endpoints []*model.SourceEndpoint, goal int) []*model.ExtractedSample {
	l := logger.WithComponent("RngPool/Fetcher")
	if len(endpoints) == 0 {
		return nil
	}

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan model.FetchResult, len(endpoints))
	semaphore := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup

	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep *model.SourceEndpoint) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-roundCtx.Done():
				// Round satisfied before this fetch started: no outcome
				// is recorded against the endpoint.
				return
			}
			defer func() { <-semaphore }()
			results <- f.fetchOne(roundCtx, ep)
		}(ep)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	samples := make([]*model.ExtractedSample, 0, goal)
	for res := range results {
		if res.Failure == "" && res.Payload == nil {
			// Cancelled mid-flight by the round itself.
			continue
		}

		if res.Failure == "" {
			sample, failure := f.processor.Process(res.Endpoint, res.Payload, res.Latency)
			if failure == "" {
				samples = append(samples, sample)
				f.registry.RecordOutcome(res.Endpoint.URL, true)
				if len(samples) >= goal {
					cancel()
				}
				continue
			}
			res.Failure = failure
		}

		f.registry.RecordOutcome(res.Endpoint.URL, false)
		l.Debug().
			Str("url", res.Endpoint.URL).
			Str("failure", string(res.Failure)).
			Err(res.Err).
			Msg("Fetch attempt failed.")
	}

	l.Info().Int("collected", len(samples)).Int("goal", goal).Int("candidates", len(endpoints)).Msg("Collection round finished.")
	return samples
}

// fetchOne retrieves one payload from one endpoint, dispatching on the
// response Content-Type: plain snapshots, MJPEG streams and HTML camera
// landing pages are all accepted.
func (f *Fetcher) fetchOne(ctx context.Context, ep *model.SourceEndpoint) model.FetchResult {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	resp, err := f.get(reqCtx, ep.URL)
	if err != nil {
		return model.FetchResult{Endpoint: ep, Failure: classifyError(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return model.FetchResult{
			Endpoint: ep,
			Failure:  model.FailureConnection,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	var payload []byte
	var failure model.FailureKind

	switch {
	case strings.Contains(contentType, "image"):
		payload, failure, err = f.readSnapshot(resp.Body)
	case strings.Contains(contentType, "multipart/x-mixed-replace"):
		payload, failure, err = f.readFirstJPEG(resp.Body)
	case strings.Contains(contentType, "text/html"):
		payload, failure, err = f.fetchFromHTMLPage(reqCtx, resp)
	default:
		failure = model.FailureDecode
		err = fmt.Errorf("unsupported content type %q", contentType)
	}

	if failure != "" {
		return model.FetchResult{Endpoint: ep, Failure: failure, Err: err}
	}
	return model.FetchResult{Endpoint: ep, Payload: payload, Latency: latency}
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range antiCacheHeaders {
		req.Header.Set(k, v)
	}
	return f.client.Do(req)
}

// readSnapshot reads a single-image body, rejecting oversized payloads
// before they are buffered whole.
func (f *Fetcher) readSnapshot(body io.Reader) ([]byte, model.FailureKind, error) {
	data, err := io.ReadAll(io.LimitReader(body, int64(f.maxSnapshot)+1))
	if err != nil {
		return nil, model.FailureConnection, err
	}
	if len(data) > f.maxSnapshot {
		return nil, model.FailureTooLarge, fmt.Errorf("snapshot exceeds %d bytes", f.maxSnapshot)
	}
	if len(data) == 0 {
		return nil, model.FailureDecode, errors.New("empty snapshot body")
	}
	return data, "", nil
}

// classifyError maps a transport error to the endpoint failure taxonomy.
// A context cancelled by the round (goal reached) is not an endpoint fault
// and produces an empty kind, which the consumer skips.
func classifyError(roundCtx context.Context, err error) model.FailureKind {
	if roundCtx.Err() == context.Canceled {
		return ""
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.FailureTimeout
	}
	return model.FailureConnection
}
