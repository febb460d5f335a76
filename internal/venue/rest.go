package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RESTClient is the shared rate-limited, breaker-protected HTTP getter for
// single-shot fallback requests. REST is never on the hot path; the limiter
// keeps fallback bursts inside venue limits and the breaker stops hammering a
// venue that is refusing us.
type RESTClient struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewRESTClient creates a client capped at ratePerSecond requests.
func NewRESTClient(venue string, ratePerSecond int) *RESTClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &RESTClient{
		http: &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        venue + "-rest",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Get fetches url and returns the response body. Blocks for rate-limit
// tokens; fails fast while the breaker is open.
func (c *RESTClient) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}
