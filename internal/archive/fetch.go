package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/resilience"
)

// maxFeedBytes caps a single capture.
const maxFeedBytes = 256 << 20

// StatusError is a publisher answer other than 200 OK.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Fetcher retrieves the current payload of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, d feed.Descriptor) ([]byte, error)
}

// HTTPFetcher fetches feeds over HTTP. Server errors and transport failures
// are retried with backoff; client errors are not. Each publisher host gets
// its own circuit breaker so one dead endpoint does not slow the others.
type HTTPFetcher struct {
	client   *http.Client
	retry    resilience.RetryConfig
	breakers *resilience.BreakerSet
	metrics  *metrics.Metrics
}

func NewHTTPFetcher(cfg config.ArchiveConfig, m *metrics.Metrics) *HTTPFetcher {
	bc := resilience.BreakerConfig{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerReset,
	}
	if m != nil {
		bc.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: cfg.FetchTimeout},
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: 500 * time.Millisecond,
		},
		breakers: resilience.NewBreakerSet("feed:", bc),
		metrics:  m,
	}
}

// WithClient swaps the HTTP client; tests point it at httptest servers.
func (f *HTTPFetcher) WithClient(c *http.Client) *HTTPFetcher {
	f.client = c
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, d feed.Descriptor) ([]byte, error) {
	u, err := url.Parse(d.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid feed url %q", d.URL)
	}
	cb := f.breakers.For(u.Host)

	start := time.Now()
	var body []byte
	err = resilience.Retry(ctx, "fetch "+d.FeedName, f.retry, func() error {
		err := cb.Do(func() error {
			var err error
			body, err = f.get(ctx, d.URL)
			return err
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
	if f.metrics != nil {
		f.metrics.FetchDuration.WithLabelValues(d.FeedName).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{URL: target, StatusCode: resp.StatusCode}
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, resilience.BreakerNeutral(statusErr)
		}
		return nil, statusErr
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// OpenCircuits names the publisher hosts whose breakers are refusing calls.
func (f *HTTPFetcher) OpenCircuits() []string {
	return f.breakers.Open()
}
