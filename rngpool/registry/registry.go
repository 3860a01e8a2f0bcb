package registry

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"camrand/internal/shared/logger"
	"camrand/rngpool/model"
)

// Registry holds the candidate endpoints and their runtime health state.
// It performs no network I/O of its own and never fails: it only records.
// The sources file is owned by the external health tool; a line whose first
// non-space byte is '#' is a disabled entry (or a plain comment when the
// remainder is not a URL).
type Registry struct {
	path      string
	threshold int

	mu        sync.RWMutex
	endpoints map[string]*model.SourceEndpoint
	onDisable func(url string)
}

// New creates an empty registry. threshold is the consecutive-failure count
// at which an endpoint is disabled for the rest of the process lifetime (or
// until Reset).
func New(path string, threshold int) *Registry {
	return &Registry{
		path:      path,
		threshold: threshold,
		endpoints: make(map[string]*model.SourceEndpoint),
	}
}

// Load reads the sources file into memory, replacing the current set but
// keeping health counters for endpoints that survive the reload.
func (r *Registry) Load() error {
	l := logger.WithComponent("RngPool/Registry")

	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.Warn().Str("path", r.path).Msg("Sources file not found, starting with an empty registry.")
			r.mu.Lock()
			r.endpoints = make(map[string]*model.SourceEndpoint)
			r.mu.Unlock()
			return nil
		}
		return err
	}
	defer file.Close()

	loaded := make(map[string]*model.SourceEndpoint)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		ep, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		loaded[ep.URL] = ep
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	for url, old := range r.endpoints {
		if ep, ok := loaded[url]; ok && !ep.Disabled {
			ep.FailureCount = old.FailureCount
			ep.LastSuccess = old.LastSuccess
			ep.Disabled = old.Disabled
		}
	}
	r.endpoints = loaded
	active := 0
	for _, ep := range loaded {
		if !ep.Disabled {
			active++
		}
	}
	r.mu.Unlock()

	l.Info().Int("total", len(loaded)).Int("active", active).Msg("Loaded source endpoints.")
	return nil
}

// parseLine turns one sources-file line into an endpoint. Format:
//
//	URL [snapshot|stream]
//	# URL ...        (disabled by the health tool)
//	# free text      (ignored)
func parseLine(line string) (*model.SourceEndpoint, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	disabled := false
	if strings.HasPrefix(line, "#") {
		disabled = true
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	url := fields[0]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, false
	}

	kind := model.KindSnapshot
	if len(fields) > 1 && model.SourceKind(fields[1]) == model.KindStream {
		kind = model.KindStream
	}

	return &model.SourceEndpoint{URL: url, Kind: kind, Disabled: disabled}, true
}

// ListEligible returns a snapshot of all enabled endpoints, ordered by URL.
// Disabled endpoints are never selected until Reset re-enables them.
func (r *Registry) ListEligible() []*model.SourceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eligible := make([]*model.SourceEndpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		if ep.Disabled {
			continue
		}
		copied := *ep
		eligible = append(eligible, &copied)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].URL < eligible[j].URL
	})
	return eligible
}

// OnDisable registers a callback invoked whenever an endpoint crosses the
// failure threshold. Used to drop per-endpoint pipeline state.
func (r *Registry) OnDisable(fn func(url string)) {
	r.mu.Lock()
	r.onDisable = fn
	r.mu.Unlock()
}

// RecordOutcome updates the health counters for one attempt. Once the
// consecutive-failure count reaches the threshold the endpoint is disabled.
func (r *Registry) RecordOutcome(url string, success bool) {
	r.mu.Lock()
	ep, ok := r.endpoints[url]
	if !ok {
		r.mu.Unlock()
		return
	}
	if success {
		ep.FailureCount = 0
		ep.LastSuccess = time.Now()
		r.mu.Unlock()
		return
	}
	ep.FailureCount++
	disabled := false
	if !ep.Disabled && ep.FailureCount >= r.threshold {
		ep.Disabled = true
		disabled = true
	}
	fn := r.onDisable
	failures := ep.FailureCount
	r.mu.Unlock()

	if disabled {
		l := logger.WithComponent("RngPool/Registry")
		l.Warn().
			Str("url", url).
			Int("failures", failures).
			Msg("Endpoint disabled after consecutive failures.")
		if fn != nil {
			fn(url)
		}
	}
}

// Reset is the hook for the external health tool: it re-reads the sources
// file and clears all runtime health state.
func (r *Registry) Reset() error {
	r.mu.Lock()
	r.endpoints = make(map[string]*model.SourceEndpoint)
	r.mu.Unlock()
	l := logger.WithComponent("RngPool/Registry")
	l.Info().Msg("Registry health state reset.")
	return r.Load()
}

// Summary reports per-endpoint health for the status API.
func (r *Registry) Summary() []model.EndpointHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.EndpointHealth, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		h := model.EndpointHealth{
			URL:          ep.URL,
			Kind:         ep.Kind,
			FailureCount: ep.FailureCount,
			Disabled:     ep.Disabled,
		}
		if !ep.LastSuccess.IsZero() {
			t := ep.LastSuccess
			h.LastSuccess = &t
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Append adds newly discovered endpoints to the in-memory set and the
// sources file. Existing URLs are skipped. Used by the discovery scrapers.
func (r *Registry) Append(urls []string) (int, error) {
	r.mu.Lock()
	fresh := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, exists := r.endpoints[u]; exists {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		r.endpoints[u] = &model.SourceEndpoint{URL: u, Kind: model.KindSnapshot}
		fresh = append(fresh, u)
	}
	r.mu.Unlock()

	if len(fresh) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for _, u := range fresh {
		if _, err := f.WriteString(u + "\n"); err != nil {
			return 0, err
		}
	}
	return len(fresh), nil
}
