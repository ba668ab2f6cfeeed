package kukuh

import (
	"fmt"
	"net/http"
	"testing"
)

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest(%s) failed: %v", url, err)
	}
	return req
}

func TestRegistryDefaults(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{})
	if registry.defaults.CallsPerSecond != 10 {
		t.Errorf("Expected default 10 calls/s, got %g", registry.defaults.CallsPerSecond)
	}
	if registry.defaults.BurstSize != 1 {
		t.Errorf("Expected default burst 1, got %g", registry.defaults.BurstSize)
	}
	if registry.maxEntries != DefaultRegistrySize {
		t.Errorf("Expected max entries %d, got %d", DefaultRegistrySize, registry.maxEntries)
	}
}

func TestRegistrySameHostSharesPool(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 5})

	a, keyA := registry.Get(mustRequest(t, "GET", "https://api.example.com/v1/items"))
	b, keyB := registry.Get(mustRequest(t, "POST", "https://api.example.com/v1/orders"))

	if a != b {
		t.Error("Expected same limiter instance for requests to the same host")
	}
	if keyA != keyB || keyA != "host:api.example.com" {
		t.Errorf("Unexpected pool keys %q, %q", keyA, keyB)
	}
	if registry.Len() != 1 {
		t.Errorf("Expected 1 pool, got %d", registry.Len())
	}
}

func TestRegistryDistinctHostsGetDistinctPools(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 5})

	a, _ := registry.Get(mustRequest(t, "GET", "https://api.example.com/"))
	b, _ := registry.Get(mustRequest(t, "GET", "https://other.example.com/"))

	if a == b {
		t.Error("Expected different limiters for different hosts")
	}
	if registry.Len() != 2 {
		t.Errorf("Expected 2 pools, got %d", registry.Len())
	}
}

func TestRegistrySharedPool(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 10})
	registry.ConfigureEndpoint("api.example.com", EndpointLimits{
		CallsPerSecond: 2, SharedPool: "vendor",
	})
	registry.ConfigureEndpoint("files.example.com", EndpointLimits{
		CallsPerSecond: 2, SharedPool: "vendor",
	})

	a, keyA := registry.Get(mustRequest(t, "GET", "https://api.example.com/v1"))
	b, keyB := registry.Get(mustRequest(t, "GET", "https://files.example.com/download"))

	if a != b {
		t.Error("Expected one limiter for pools sharing a name")
	}
	if keyA != "pool:vendor" || keyB != "pool:vendor" {
		t.Errorf("Unexpected shared pool keys %q, %q", keyA, keyB)
	}
}

func TestRegistryPatternLimitsApplied(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 10, BurstSize: 1})
	registry.ConfigureEndpoint("api.example.com", EndpointLimits{
		CallsPerSecond: 3, BurstSize: 7,
	})

	limiter, _ := registry.Get(mustRequest(t, "GET", "https://api.example.com/v1"))
	rl, ok := limiter.(*RateLimiter)
	if !ok {
		t.Fatalf("Expected *RateLimiter, got %T", limiter)
	}
	if rl.rate != 3 {
		t.Errorf("Expected configured rate 3, got %g", rl.rate)
	}
	if rl.burst != 7 {
		t.Errorf("Expected configured burst 7, got %g", rl.burst)
	}
}

func TestRegistrySubstringPatternMatch(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 10})
	registry.ConfigureEndpoint("/v2/companies", EndpointLimits{CallsPerSecond: 1})

	limiter, _ := registry.Get(mustRequest(t, "GET", "https://api.example.com/v2/companies/42"))
	rl := limiter.(*RateLimiter)
	if rl.rate != 1 {
		t.Errorf("Expected substring pattern rate 1, got %g", rl.rate)
	}
}

func TestRegistryLRUEviction(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 10})
	registry.SetMaxEntries(3)

	for i := 0; i < 3; i++ {
		registry.Get(mustRequest(t, "GET", fmt.Sprintf("https://host%d.example.com/", i)))
	}

	// Touch host0 so host1 becomes the eviction candidate.
	first, _ := registry.Get(mustRequest(t, "GET", "https://host0.example.com/"))

	registry.Get(mustRequest(t, "GET", "https://host3.example.com/"))

	if registry.Len() != 3 {
		t.Fatalf("Expected 3 pools after eviction, got %d", registry.Len())
	}

	// host0 survived the eviction.
	again, _ := registry.Get(mustRequest(t, "GET", "https://host0.example.com/"))
	if first != again {
		t.Error("Expected recently used pool to survive eviction")
	}

	// host1 was evicted and comes back as a fresh pool count-wise.
	registry.Get(mustRequest(t, "GET", "https://host1.example.com/"))
	if registry.Len() != 3 {
		t.Errorf("Expected pool count to stay at the bound, got %d", registry.Len())
	}
}

func TestRegistryRouteKeyFunc(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 10})
	registry.SetKeyFunc(RouteKeyFunc)

	a, keyA := registry.Get(mustRequest(t, "GET", "https://api.example.com/v1/items"))
	b, keyB := registry.Get(mustRequest(t, "POST", "https://api.example.com/v1/items"))

	if a == b {
		t.Error("Expected per-route pools under RouteKeyFunc")
	}
	if keyA != "route:GET:/v1/items" {
		t.Errorf("Unexpected key %q", keyA)
	}
	if keyB != "route:POST:/v1/items" {
		t.Errorf("Unexpected key %q", keyB)
	}
}

func TestRegistryAcquire(t *testing.T) {
	registry := NewRateLimiterRegistry(EndpointLimits{CallsPerSecond: 100, BurstSize: 10})

	req := mustRequest(t, "GET", "https://api.example.com/")
	for i := 0; i < 5; i++ {
		if err := registry.Acquire(req); err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
	}
}

func TestHostKeyFunc(t *testing.T) {
	req := mustRequest(t, "GET", "https://api.example.com:8443/v1")
	if got := HostKeyFunc(req); got != "host:api.example.com:8443" {
		t.Errorf("HostKeyFunc() = %q", got)
	}
	if got := HostKeyFunc(nil); got != "host:unknown" {
		t.Errorf("HostKeyFunc(nil) = %q", got)
	}
}
