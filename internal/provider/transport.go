package provider

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	Timeout time.Duration
	// RatePerSecond <= 0 disables throttling.
	RatePerSecond float64
	Burst         int
	UserAgent     string
}

// NewHTTPClient returns the client adapters use for provider calls. All
// requests share one token bucket per client.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewRateLimitedTransport(http.DefaultTransport, cfg.RatePerSecond, cfg.Burst, cfg.UserAgent),
	}
}

type rateLimitedTransport struct {
	base      http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
}

func NewRateLimitedTransport(base http.RoundTripper, perSecond float64, burst int, userAgent string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedTransport{
		base:      base,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: userAgent,
	}
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
