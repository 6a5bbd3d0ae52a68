package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUpstreamUnavailable is returned while the circuit breaker is open.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// maxUpstreamBody bounds how much of an upstream response is buffered.
const maxUpstreamBody = 8 << 20

// Result is the outcome of one upstream call. Duration is always set,
// even when the call failed before a response arrived.
type Result struct {
	StatusCode int
	StatusText string
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx upstream status.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Gateway forwards prompts to the generative-language generateContent endpoint.
type Gateway struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithTimeout bounds each upstream call. Zero keeps the transport default.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			cpy := *g.client
			cpy.Timeout = d
			g.client = &cpy
		}
	}
}

// WithBreaker trips after failures consecutive transport errors or 5xx
// responses and rejects calls for openTimeout.
func WithBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(g *Gateway) {
		if failures == 0 {
			failures = 5
		}
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "gemini-upstream",
			Timeout: openTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
		})
	}
}

// New creates a gateway for model hosted at baseURL.
func New(baseURL, model string, opts ...Option) (*Gateway, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %s: %w", baseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %s: scheme and host required", baseURL)
	}
	if model == "" {
		return nil, errors.New("upstream model is required")
	}

	g := &Gateway{
		endpoint: fmt.Sprintf("%s/v1beta/models/%s:generateContent", parsed.String(), url.PathEscape(model)),
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Endpoint returns the upstream URL without credentials.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

// RedactedURL returns the URL used for a call with the key masked, safe to log.
func (g *Gateway) RedactedURL() string {
	return g.endpoint + "?key=" + redacted
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// Generate sends prompt upstream. A non-2xx status is not an error: the
// caller gets the status and body. Errors are transport failures, already
// stripped of apiKey, or ErrUpstreamUnavailable.
func (g *Gateway) Generate(ctx context.Context, apiKey, prompt string) (Result, error) {
	if g.breaker == nil {
		return g.do(ctx, apiKey, prompt)
	}

	var res Result
	_, err := g.breaker.Execute(func() (interface{}, error) {
		var callErr error
		res, callErr = g.do(ctx, apiKey, prompt)
		if callErr != nil {
			return nil, callErr
		}
		if res.StatusCode >= 500 {
			return nil, fmt.Errorf("upstream error: %d", res.StatusCode)
		}
		return nil, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Result{}, ErrUpstreamUnavailable
	case err != nil && res.StatusCode != 0:
		// 5xx counted by the breaker but still relayed to the caller.
		return res, nil
	default:
		return res, err
	}
}

func (g *Gateway) do(ctx context.Context, apiKey, prompt string) (Result, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode upstream request: %w", err)
	}

	target := g.endpoint + "?key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return Result{}, errors.New(Redact(err.Error(), apiKey))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	res := Result{Duration: time.Since(start)}
	if err != nil {
		// *url.Error embeds the full URL, key included.
		return res, errors.New(Redact(err.Error(), apiKey))
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.StatusText = statusText(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return res, fmt.Errorf("read upstream response: %s", Redact(err.Error(), apiKey))
	}
	res.Body = body
	return res, nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
