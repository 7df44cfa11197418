package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"equipviz/internal/analysis"
	"equipviz/internal/core"
	"equipviz/internal/log"
	"equipviz/internal/metrics"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultLoginTimeout = 4 * time.Second
	maxRetryDelay       = 5 * time.Second

	maxJSONBytes   = 8 << 20
	maxReportBytes = 64 << 20
	maxErrorBytes  = 4 << 10
)

// Config configures the analysis service client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	LoginTimeout   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxReportBytes int64
	HTTPClient     *http.Client
	Logger         *log.Logger
}

// Client talks to the analysis service over HTTP with basic authentication.
type Client struct {
	base         *url.URL
	httpClient   *http.Client
	timeout      time.Duration
	loginTimeout time.Duration
	maxRetries   int
	retryDelay   time.Duration
	maxReport    int64
	logger       *log.Logger
}

var _ analysis.Backend = (*Client)(nil)

// NewClient validates the base URL and fills in defaults.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", cfg.BaseURL)
	}

	c := &Client{
		base:         base,
		httpClient:   cfg.HTTPClient,
		timeout:      cfg.Timeout,
		loginTimeout: cfg.LoginTimeout,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryBaseDelay,
		maxReport:    cfg.MaxReportBytes,
		logger:       cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.loginTimeout <= 0 {
		c.loginTimeout = defaultLoginTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.maxReport <= 0 {
		c.maxReport = maxReportBytes
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 200 * time.Millisecond
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	c.logger = c.logger.WithComponent(log.ComponentBackend)
	return c, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(parts, "/") + "/"
	return u.String()
}

// VerifyLogin checks the credentials against the history endpoint with a short timeout.
func (c *Client) VerifyLogin(ctx context.Context, creds core.Credentials) error {
	const op = "verify_login"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	resp, err := c.getWithRetry(ctx, op, creds, c.endpoint("history"), c.maxRetries)
	if err == nil {
		drain(resp.Body)
	}
	metrics.ObserveBackend(op, err, time.Since(start))
	return err
}

// Ping reports whether the service answers at all. Any HTTP status counts as
// reachable; only transport failures do not.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint("history"), nil)
	if err != nil {
		return fmt.Errorf("ping: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &analysis.NetworkError{Op: "ping", Err: err}
	}
	drain(resp.Body)
	return nil
}

// ListHistory returns prior uploads as ordered by the service.
func (c *Client) ListHistory(ctx context.Context, creds core.Credentials) ([]core.HistoryEntry, error) {
	const op = "list_history"
	start := time.Now()

	history, err := c.listHistory(ctx, op, creds)
	metrics.ObserveBackend(op, err, time.Since(start))
	return history, err
}

func (c *Client) listHistory(ctx context.Context, op string, creds core.Credentials) ([]core.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.getWithRetry(ctx, op, creds, c.endpoint("history"), c.maxRetries)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBytes))
	if err != nil {
		return nil, &analysis.NetworkError{Op: op, Err: err}
	}
	var history []core.HistoryEntry
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("%s: decode history: %w", op, err)
	}
	if history == nil {
		history = []core.HistoryEntry{}
	}
	return history, nil
}

// UploadDataset posts the body as multipart field "file". Uploads are never retried.
func (c *Client) UploadDataset(ctx context.Context, creds core.Credentials, filename string, r io.Reader) (core.UploadResult, error) {
	const op = "upload"
	start := time.Now()

	result, err := c.upload(ctx, op, creds, filename, r)
	metrics.ObserveBackend(op, err, time.Since(start))
	return result, err
}

func (c *Client) upload(ctx context.Context, op string, creds core.Credentials, filename string, r io.Reader) (core.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return core.UploadResult{}, fmt.Errorf("%s: create form file: %w", op, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return core.UploadResult{}, fmt.Errorf("%s: read upload: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return core.UploadResult{}, fmt.Errorf("%s: close multipart: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), &buf)
	if err != nil {
		return core.UploadResult{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := c.do(req, op)
	if err != nil {
		return core.UploadResult{}, err
	}
	defer drain(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBytes))
	if err != nil {
		return core.UploadResult{}, &analysis.NetworkError{Op: op, Err: err}
	}
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "summary").IsObject() {
		return core.UploadResult{}, &analysis.StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "response carries no summary",
		}
	}
	var result core.UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return core.UploadResult{}, fmt.Errorf("%s: decode result: %w", op, err)
	}
	return result, nil
}

// FetchReport downloads the PDF for one dataset.
func (c *Client) FetchReport(ctx context.Context, creds core.Credentials, id core.DatasetID) (core.Report, error) {
	const op = "report"
	start := time.Now()

	report, err := c.fetchReport(ctx, op, creds, id)
	metrics.ObserveBackend(op, err, time.Since(start))
	return report, err
}

func (c *Client) fetchReport(ctx context.Context, op string, creds core.Credentials, id core.DatasetID) (core.Report, error) {
	if !id.Valid() {
		return core.Report{}, fmt.Errorf("%s: %w", op, core.ErrInvalidID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// reports are fetched exactly once, never retried
	resp, err := c.getWithRetry(ctx, op, creds, c.endpoint("report", id.String()), 0)
	if err != nil {
		return core.Report{}, err
	}
	defer drain(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxReport+1))
	if err != nil {
		return core.Report{}, &analysis.NetworkError{Op: op, Err: err}
	}
	if int64(len(data)) > c.maxReport {
		return core.Report{}, fmt.Errorf("%w: %w", analysis.ErrTooLarge, &analysis.StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "report is larger than " + sizeLabel(c.maxReport),
		})
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return core.Report{
		DatasetID:   id,
		Filename:    id.ReportFilename(),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// getWithRetry issues an idempotent GET, retrying transient failures up to
// retries times with exponential backoff. The caller owns the returned body.
func (c *Client) getWithRetry(ctx context.Context, op string, creds core.Credentials, target string, retries int) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			metrics.BackendRetries.WithLabelValues(op).Inc()
			delay := backoff(c.retryDelay, attempt)
			c.logger.DebugContext(ctx, "Retrying backend request",
				log.FieldOperation, op,
				log.FieldAttempt, attempt,
				"delay", delay,
				log.FieldError, lastErr)
			select {
			case <-ctx.Done():
				return nil, errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: build request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json, application/pdf")
		req.SetBasicAuth(creds.Username, creds.Password)

		resp, err := c.do(req, op)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !analysis.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// do sends the request and turns transport failures and non-2xx statuses into
// typed errors. On success the caller owns the body.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, &analysis.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer drain(resp.Body)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	c.logger.DebugContext(req.Context(), "Backend returned error status",
		log.FieldOperation, op,
		log.FieldStatusCode, resp.StatusCode)
	return nil, &analysis.StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(body),
	}
}

// errorMessage pulls a human readable reason out of an error body. The service
// answers with {"error": ...}, {"detail": ...} or field validation maps.
func errorMessage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		text := strings.TrimSpace(string(body))
		if strings.HasPrefix(text, "<") {
			return ""
		}
		return truncate(text, 200)
	}
	for _, path := range []string{"error", "detail", "message", "file.0", "non_field_errors.0"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return truncate(v.String(), 200)
		}
	}
	return ""
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func sizeLabel(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBytes))
	_ = body.Close()
}
