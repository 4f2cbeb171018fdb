// Package platform is the HTTP client for the placement platform: session
// lifecycle, answer storage, grading, translation, code execution and the
// integrity audit log.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/config"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 20
	defaultBurst     = 5

	// maxResponseSize caps response bodies read into memory.
	maxResponseSize = 1 << 20
)

var (
	// ErrSubmission wraps every failed answer submission.
	ErrSubmission = errors.New("answer submission failed")

	// ErrRateLimited is returned when the platform answers 429 outside grading.
	ErrRateLimited = errors.New("platform rate limit exceeded")
)

// StatusError is a non-2xx platform response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.Code, e.Body)
}

// Client talks to the platform API. It implements proctor.Lifecycle,
// proctor.AnswerSubmitter, proctor.Grader, proctor.CodeRunner,
// narration.Translator and violation.AuditSink.
type Client struct {
	baseURL    string
	apiKey     config.Secret
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// New creates a platform client.
func New(cfg config.PlatformConfig, logger *logging.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid platform base url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		baseURL:    strings.TrimRight(base.String(), "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		logger:     logger.Named("platform"),
	}, nil
}

// StartSession marks the interview session as started.
func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/interviews/"+url.PathEscape(sessionID)+"/start", nil, nil)
}

// CompleteSession marks the interview session as finished.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/interviews/"+url.PathEscape(sessionID)+"/complete", nil, nil)
}

type submitRequest struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

type submitResponse struct {
	AnswerID string `json:"answer_id"`
}

// SubmitAnswer stores one answer. It makes a single attempt; every failure
// wraps ErrSubmission.
func (c *Client) SubmitAnswer(ctx context.Context, a proctor.Answer) (string, error) {
	var resp submitResponse
	path := "/api/v1/interviews/" + url.PathEscape(a.SessionID) + "/answers"
	if err := c.do(ctx, http.MethodPost, path, submitRequest{QuestionID: a.QuestionID, Text: a.Text}, &resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if resp.AnswerID == "" {
		return "", fmt.Errorf("%w: response carried no answer id", ErrSubmission)
	}
	return resp.AnswerID, nil
}

// GradeAnswer requests grading. A 429 or a rate_limited body is reported as
// GradeResult.RateLimited, not as an error.
func (c *Client) GradeAnswer(ctx context.Context, answerID string) (proctor.GradeResult, error) {
	var res proctor.GradeResult
	err := c.do(ctx, http.MethodPost, "/api/v1/answers/"+url.PathEscape(answerID)+"/grade", nil, &res)
	if errors.Is(err, ErrRateLimited) {
		return proctor.GradeResult{RateLimited: true}, nil
	}
	if err != nil {
		return proctor.GradeResult{}, fmt.Errorf("grade answer: %w", err)
	}
	if !res.RateLimited {
		res.OK = true
	}
	return res, nil
}

type translateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// Translate translates text into the target locale.
func (c *Client) Translate(ctx context.Context, text, targetLocale string) (string, error) {
	var resp translateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/translate", translateRequest{Text: text, Target: targetLocale}, &resp); err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return resp.Text, nil
}

type runRequest struct {
	Language string `json:"language"`
	Source   string `json:"source"`
}

// RunCode executes source on the platform sandbox.
func (c *Client) RunCode(ctx context.Context, language, source string) (proctor.RunResult, error) {
	var res proctor.RunResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/code/run", runRequest{Language: language, Source: source}, &res); err != nil {
		return proctor.RunResult{}, fmt.Errorf("run code: %w", err)
	}
	return res, nil
}

type integrityEvent struct {
	ID        string            `json:"id"`
	Category  string            `json:"category"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// LogIntegrityEvent appends ev to the session's audit log. The event id lets
// the platform drop redelivered events.
func (c *Client) LogIntegrityEvent(ctx context.Context, ev violation.AuditEvent) error {
	body := integrityEvent{
		ID:        ev.ID,
		Category:  string(ev.Category),
		Message:   ev.Message,
		Details:   ev.Details,
		Timestamp: ev.Timestamp,
	}
	path := "/api/v1/interviews/" + url.PathEscape(ev.SessionID) + "/integrity-events"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("log integrity event: %w", err)
	}
	return nil
}

// do sends one JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug(ctx, "platform call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
