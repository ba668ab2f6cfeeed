package kukuh

import (
	"container/list"
	"net/http"
	"strings"
	"sync"
)

// EndpointLimits is the rate limit configuration for an endpoint pattern.
// SharedPool, when set, names a bucket shared by every pattern carrying the
// same pool name, so several endpoints spend from one allowance.
type EndpointLimits struct {
	CallsPerSecond float64
	BurstSize      float64
	SharedPool     string
}

// RateLimiterRegistry resolves a rate limiter per outbound request: the key
// function (request host by default) selects a pool, endpoint patterns
// override the default limits, and a size bound evicts the least recently
// used idle pool. The registry is caller-owned; nothing here is process
// global.
type RateLimiterRegistry struct {
	mu         sync.Mutex
	keyFunc    KeyFunc
	defaults   EndpointLimits
	configs    map[string]EndpointLimits
	limiters   map[string]*list.Element
	order      *list.List
	maxEntries int
}

type registryEntry struct {
	key     string
	limiter *RateLimiter
}

// DefaultRegistrySize bounds the number of live limiter pools.
const DefaultRegistrySize = 50

// NewRateLimiterRegistry creates a registry using defaults for any endpoint
// without a matching pattern configuration. Zero default fields fall back
// to 10 calls/s with no burst.
func NewRateLimiterRegistry(defaults EndpointLimits) *RateLimiterRegistry {
	if defaults.CallsPerSecond <= 0 {
		defaults.CallsPerSecond = 10
	}
	if defaults.BurstSize < 1 {
		defaults.BurstSize = 1
	}
	return &RateLimiterRegistry{
		keyFunc:    HostKeyFunc,
		defaults:   defaults,
		configs:    make(map[string]EndpointLimits),
		limiters:   make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: DefaultRegistrySize,
	}
}

// SetKeyFunc replaces the pool key function. Must be called before use.
func (r *RateLimiterRegistry) SetKeyFunc(fn KeyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyFunc = fn
}

// SetMaxEntries adjusts the pool bound. Must be at least 1.
func (r *RateLimiterRegistry) SetMaxEntries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= 1 {
		r.maxEntries = n
	}
}

// ConfigureEndpoint registers limits for a URL pattern. Patterns are matched
// first by exact host, then by substring of the full URL.
func (r *RateLimiterRegistry) ConfigureEndpoint(pattern string, limits EndpointLimits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limits.CallsPerSecond <= 0 {
		limits.CallsPerSecond = r.defaults.CallsPerSecond
	}
	if limits.BurstSize < 1 {
		limits.BurstSize = 1
	}
	r.configs[pattern] = limits
}

// Get returns the limiter responsible for req and its pool name, creating
// the pool on first use and refreshing its LRU position on every hit.
func (r *RateLimiterRegistry) Get(req *http.Request) (Limiter, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := "default"
	if r.keyFunc != nil {
		key = r.keyFunc(req)
	}

	limits := r.findLimits(req, key)
	if limits.SharedPool != "" {
		key = "pool:" + limits.SharedPool
	}

	if elem, ok := r.limiters[key]; ok {
		r.order.MoveToFront(elem)
		return elem.Value.(*registryEntry).limiter, key
	}

	limiter := NewRateLimiter(limits.CallsPerSecond, limits.BurstSize)
	elem := r.order.PushFront(&registryEntry{key: key, limiter: limiter})
	r.limiters[key] = elem

	for len(r.limiters) > r.maxEntries {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.limiters, oldest.Value.(*registryEntry).key)
	}

	return limiter, key
}

// Acquire resolves the limiter for req and blocks on it.
func (r *RateLimiterRegistry) Acquire(req *http.Request) error {
	limiter, _ := r.Get(req)
	return limiter.Acquire(req.Context())
}

// Len returns the number of live pools.
func (r *RateLimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// findLimits picks the best matching configuration for the request: exact
// host key match first, then substring match against the full URL, then the
// registry defaults. Caller holds the lock.
func (r *RateLimiterRegistry) findLimits(req *http.Request, key string) EndpointLimits {
	host := requestHost(req)
	if limits, ok := r.configs[host]; ok {
		return limits
	}
	if limits, ok := r.configs[key]; ok {
		return limits
	}

	if req != nil && req.URL != nil {
		full := req.URL.String()
		for pattern, limits := range r.configs {
			if strings.Contains(full, pattern) {
				return limits
			}
		}
	}

	return r.defaults
}

// HostKeyFunc keys pools by the request host.
func HostKeyFunc(req *http.Request) string {
	return "host:" + requestHost(req)
}

// RouteKeyFunc keys pools by method and path, for APIs that rate limit per
// route rather than per host.
func RouteKeyFunc(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "route:unknown"
	}
	return "route:" + req.Method + ":" + req.URL.Path
}

func requestHost(req *http.Request) string {
	if req == nil {
		return "unknown"
	}
	if req.URL != nil && req.URL.Host != "" {
		return req.URL.Host
	}
	if req.Host != "" {
		return req.Host
	}
	return "unknown"
}
