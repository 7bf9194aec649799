package meteofrance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/common"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff retries 10 times, waiting 2s, 4s, 8s ... capped at 60s.
var DefaultBackoff = BackoffConfig{
	MaxAttempts:     10,
	InitialInterval: 2 * time.Second,
	MaxInterval:     60 * time.Second,
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// response is a fully read upstream reply.
type response struct {
	StatusCode int
	Body       []byte
}

// transport runs single HTTP exchanges under the retry policy and the circuit breaker.
type transport struct {
	cfg     HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	sleep   climate.Sleeper
	log     logrus.FieldLogger
}

func newCircuitBreaker(name string, threshold int, timeout time.Duration, log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("breaker", name).Warnf("circuit breaker %s -> %s", from, to)
		},
	})
}

// do executes one exchange. Transport failures are retried with exponential
// backoff; any HTTP status, including errors, is handed back to the caller.
func (t *transport) do(
	ctx context.Context,
	op string,
	buildRequest func() (*http.Request, error),
) (*response, error) {
	if t.cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if t.cfg.Backoff.MaxAttempts <= 0 || t.cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		result, err := t.circuit.Execute(func() (interface{}, error) {
			resp, execErr := t.cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, fmt.Errorf("read body: %w", readErr)
			}
			return &response{StatusCode: resp.StatusCode, Body: body}, nil
		})

		if err == nil {
			resp, ok := result.(*response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %v", op, climate.ErrCircuitOpen, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= t.cfg.Backoff.MaxAttempts {
			return nil, &climate.TransportError{Op: op, Attempts: attempt, Err: err}
		}

		delay := backoffDelay(t.cfg.Backoff, attempt-1)
		t.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warnf("transport error, retrying: %v", err)

		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// backoffDelay is InitialInterval * 2^n, capped at MaxInterval.
func backoffDelay(cfg BackoffConfig, n int) time.Duration {
	delay := cfg.InitialInterval * time.Duration(math.Pow(2, float64(n)))
	if cfg.MaxInterval > 0 && (delay > cfg.MaxInterval || delay <= 0) {
		delay = cfg.MaxInterval
	}
	return delay
}

// isTransient separates flaky-network failures from errors that would fail the
// same way on every attempt (bad scheme, TLS verification).
func isTransient(err error) bool {
	return !common.HasAny(err.Error(),
		"unsupported protocol scheme",
		"certificate",
		"no Host in request URL",
		"invalid control character in URL",
	)
}
