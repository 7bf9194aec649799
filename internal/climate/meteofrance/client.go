// Package meteofrance talks to the Météo-France DPClim climatology API: the
// asynchronous order/poll protocol for daily station data and the station
// metadata endpoints.
package meteofrance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
)

const (
	// DefaultBaseURL is the DPClim v1 root.
	DefaultBaseURL = "https://public-api.meteofrance.fr/public/DPClim/v1"
	// DefaultPollInterval is the wait between two polls of a pending order.
	DefaultPollInterval = 5 * time.Second
	// DefaultBreakerThreshold is the number of consecutive transport failures
	// that opens the circuit, three exhausted requests' worth.
	DefaultBreakerThreshold = 30
	// DefaultBreakerTimeout is how long an open circuit rejects requests
	// before letting one through.
	DefaultBreakerTimeout = 2 * time.Minute

	orderPath       = "/commande-station/quotidienne"
	filePath        = "/commande/fichier"
	stationInfoPath = "/information-station"
	stationListPath = "/liste-stations/quotidienne"

	timestampLayout = "2006-01-02T15:04:05Z"
)

// Config configures a Client.
type Config struct {
	BaseURL          string
	APIKey           string
	PollInterval     time.Duration
	MaxPolls         int // 0 polls until the order completes or ctx ends
	Backoff          BackoffConfig
	BreakerThreshold int           // negative disables the breaker
	BreakerTimeout   time.Duration // open state duration
}

// Client drives the two-phase order protocol: Submit returns an order token,
// Fetch polls it until the extraction is ready and stores the CSV chunk.
type Client struct {
	baseURL      string
	apiKey       string
	http         *transport
	chunks       climate.ChunkStore
	pollInterval time.Duration
	maxPolls     int
	sleep        climate.Sleeper
	log          logrus.FieldLogger
}

// Option customises a Client.
type Option func(*Client)

// WithSleeper replaces the suspension used for polling and backoff.
func WithSleeper(s climate.Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func NewClient(httpClient *http.Client, cfg Config, chunks climate.ChunkStore, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("meteofrance api key is not configured")
	}
	if chunks == nil {
		return nil, fmt.Errorf("meteofrance client needs a chunk store")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		chunks:       chunks,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		sleep:        climate.SleepContext,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "meteofrance")
	c.http = &transport{
		cfg:     HTTPClientConfig{Client: httpClient, Backoff: cfg.Backoff},
		circuit: newCircuitBreaker("meteofrance", cfg.BreakerThreshold, cfg.BreakerTimeout, c.log),
		sleep:   c.sleep,
		log:     c.log,
	}
	return c, nil
}

// Submit orders the extraction of req and returns its token. Any status other
// than 202 Accepted fails with ErrRequestRejected wrapping an UpstreamError.
func (c *Client) Submit(ctx context.Context, req climate.DownloadRequest) (climate.OrderToken, error) {
	if err := req.Validate(); err != nil {
		return climate.OrderToken{}, err
	}

	op := "submit " + req.String()
	resp, err := c.http.do(ctx, op, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("id-station", req.Station.String())
		values.Set("date-deb-periode", req.Start.UTC().Format(timestampLayout))
		values.Set("date-fin-periode", req.End.UTC().Format(timestampLayout))
		return c.newRequest(orderPath, values)
	})
	if err != nil {
		return climate.OrderToken{}, err
	}

	log := c.log.WithFields(logrus.Fields{"station": req.Station, "status": resp.StatusCode})
	if resp.StatusCode != http.StatusAccepted {
		log.Errorf("order rejected: %s", resp.Body)
		return climate.OrderToken{}, fmt.Errorf("%w: %w", climate.ErrRequestRejected,
			&climate.UpstreamError{Op: op, Status: resp.StatusCode, Body: string(resp.Body)})
	}

	id, err := parseOrderNumber(resp.Body)
	if err != nil {
		return climate.OrderToken{}, fmt.Errorf("%s: %w", op, err)
	}
	log.WithField("order", id).Infof("order accepted for %s", req)
	return climate.OrderToken{ID: id, Request: req}, nil
}

// Fetch polls the order until the file is produced. 204 means still pending
// and is retried after the poll interval; 201 carries the CSV, which is stored
// only if the chunk does not exist yet.
func (c *Client) Fetch(ctx context.Context, token climate.OrderToken) climate.DownloadOutcome {
	if token.ID == "" {
		return climate.Failed{Err: fmt.Errorf("fetch: empty order token")}
	}

	op := "fetch order " + token.ID
	log := c.log.WithFields(logrus.Fields{"station": token.Request.Station, "order": token.ID})

	for polls := 1; ; polls++ {
		resp, err := c.http.do(ctx, op, func() (*http.Request, error) {
			values := url.Values{}
			values.Set("id-cmde", token.ID)
			return c.newRequest(filePath, values)
		})
		if err != nil {
			return climate.Failed{Err: err}
		}

		switch resp.StatusCode {
		case http.StatusCreated:
			path, written, err := c.chunks.WriteChunk(token.Request, resp.Body)
			if err != nil {
				return climate.Failed{Err: fmt.Errorf("%s: save chunk: %w", op, err)}
			}
			if written {
				log.Infof("chunk saved to %s (%d bytes)", path, len(resp.Body))
			} else {
				log.Infof("chunk %s already present, kept existing file", path)
			}
			return climate.Completed{Payload: resp.Body, Path: path, Reused: !written}

		case http.StatusNoContent:
			if c.maxPolls > 0 && polls >= c.maxPolls {
				return climate.Failed{Err: fmt.Errorf("%s: %w (%d polls)", op, climate.ErrPollLimit, polls)}
			}
			log.Debug("production still pending")
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return climate.Failed{Err: err}
			}

		default:
			log.WithField("status", resp.StatusCode).Errorf("order failed: %s", resp.Body)
			return climate.Failed{Err: &climate.UpstreamError{Op: op, Status: resp.StatusCode, Body: string(resp.Body)}}
		}
	}
}

// Download returns the chunk for req, running Submit and Fetch only when the
// chunk is not already on disk.
func (c *Client) Download(ctx context.Context, req climate.DownloadRequest) climate.DownloadOutcome {
	if err := req.Validate(); err != nil {
		return climate.Failed{Err: err}
	}

	payload, path, err := c.chunks.ReadChunk(req)
	switch {
	case err == nil:
		c.log.WithField("station", req.Station).Debugf("chunk %s already downloaded", path)
		return climate.Completed{Payload: payload, Path: path, Reused: true}
	case !errors.Is(err, fs.ErrNotExist):
		return climate.Failed{Err: fmt.Errorf("read chunk %s: %w", req, err)}
	}

	token, err := c.Submit(ctx, req)
	if err != nil {
		return climate.Failed{Err: err}
	}
	return c.Fetch(ctx, token)
}

func (c *Client) newRequest(path string, values url.Values) (*http.Request, error) {
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, values.Encode())
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// parseOrderNumber reads {"elaboreProduitAvecDemandeResponse": {"return": ...}}.
// The order number is sometimes a JSON string and sometimes a bare number.
func parseOrderNumber(body []byte) (string, error) {
	var payload struct {
		Response struct {
			Return json.RawMessage `json:"return"`
		} `json:"elaboreProduitAvecDemandeResponse"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}

	raw := bytes.TrimSpace(payload.Response.Return)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("order response has no order number")
	}
	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("decode order number: %w", err)
		}
	} else {
		id = string(raw)
	}
	if id = strings.TrimSpace(id); id == "" {
		return "", fmt.Errorf("order response has an empty order number")
	}
	return id, nil
}
