// Package tracking reads runs from the execution engine's tracking API and
// keeps subscribed runs fresh.
package tracking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/tracelens/internal/metrics"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/validation"
	"github.com/rendis/tracelens/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 10 * time.Second
)

// RunRef identifies one run on the tracking backend.
type RunRef struct {
	Project string `json:"project"`
	App     string `json:"app"`
	AppID   string `json:"app_id"`
}

// Topic is the hub topic carrying updates for the run.
func (r RunRef) Topic() string {
	return streaming.RunTopic(r.Project, r.App, r.AppID)
}

func (r RunRef) String() string {
	return r.Project + "/" + r.App + "/" + r.AppID
}

func (r RunRef) valid() bool {
	return r.Project != "" && r.App != "" && r.AppID != ""
}

// Fetcher loads a run. Implemented by Client; tests substitute fakes.
type Fetcher interface {
	FetchRun(ctx context.Context, ref RunRef) (*schema.Run, error)
}

// Client is a read-only HTTP client for the tracking API.
type Client struct {
	baseURL   string
	http      *http.Client
	validator validation.Validator
	logger    *slog.Logger
	maxBody   int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithValidator sets the validator that decodes every fetched run.
func WithValidator(v validation.Validator) ClientOption {
	return func(c *Client) { c.validator = v }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid backend url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		maxBody: defaultMaxResponseBody,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.validator == nil {
		p, err := validation.NewPipeline(c.logger)
		if err != nil {
			return nil, fmt.Errorf("tracking: new client: %w", err)
		}
		c.validator = p
	}
	return c, nil
}

// RunURL returns the API URL of a run.
func (c *Client) RunURL(ref RunRef) string {
	return fmt.Sprintf("%s/api/v0/%s/%s/apps/%s", c.baseURL,
		url.PathEscape(ref.Project), url.PathEscape(ref.App), url.PathEscape(ref.AppID))
}

// FetchRun loads the application description and step history of a run.
// A 404 maps to NOT_FOUND, other non-2xx statuses and transport failures to
// UPSTREAM_ERROR, and structurally malformed bodies to VALIDATION_ERROR. An
// application with dangling references is returned as is; building its
// graph reports the problem.
func (c *Client) FetchRun(ctx context.Context, ref RunRef) (*schema.Run, error) {
	if !ref.valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "incomplete run reference %q", ref.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RunURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("tracking: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TrackingFetches.WithLabelValues("run", "error").Inc()
		return nil, schema.NewErrorf(schema.ErrCodeUpstream, "fetch run %s", ref).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		metrics.TrackingFetches.WithLabelValues("run", "error").Inc()
		return nil, schema.NewErrorf(schema.ErrCodeUpstream, "read run %s", ref).WithCause(err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.TrackingFetches.WithLabelValues("run", "not_found").Inc()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", ref)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.TrackingFetches.WithLabelValues("run", "error").Inc()
		return nil, schema.NewErrorf(schema.ErrCodeUpstream, "fetch run %s: status %d", ref, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}

	run, err := c.validator.DecodeRun(body)
	if err != nil {
		metrics.TrackingFetches.WithLabelValues("run", "invalid").Inc()
		return nil, err
	}
	if run.Application.Project == "" {
		run.Application.Project = ref.Project
	}
	if run.Application.AppID == "" {
		run.Application.AppID = ref.AppID
	}

	metrics.TrackingFetches.WithLabelValues("run", "ok").Inc()
	c.logger.Debug("fetched run",
		slog.String("run", ref.String()),
		slog.Int("steps", len(run.Steps)),
		slog.Duration("duration", time.Since(start)),
	)
	return run, nil
}
