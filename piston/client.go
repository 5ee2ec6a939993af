// Package piston delegates execution to a Piston code-execution server.
package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"codetutor-exec/model"
)

const (
	DefaultBaseURL = "http://localhost:2000"
	DefaultTimeout = 35 * time.Second

	bodyPreviewLimit = 200
)

// Client talks to the Piston v2 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	runtimes   Runtimes
	logger     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (35s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRuntimes replaces the runtime table.
func WithRuntimes(r Runtimes) Option {
	return func(c *Client) { c.runtimes = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a Client for baseURL, falling back to DefaultBaseURL when empty.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		runtimes:   DefaultRuntimes(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports reports whether language maps to a Piston runtime.
func (c *Client) Supports(language string) bool {
	_, ok := c.runtimes.Lookup(language)
	return ok
}

type executeRequest struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Files    []file `json:"files"`
	Stdin    string `json:"stdin,omitempty"`
}

type file struct {
	Content string `json:"content"`
}

type stage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type executeResponse struct {
	Run     *stage `json:"run"`
	Compile *stage `json:"compile"`
}

// Run executes code once on Piston with the given stdin. Every failure is
// reported in the outcome; Run never returns an error.
func (c *Client) Run(ctx context.Context, language, code, stdin string) model.ExecutionOutcome {
	start := time.Now()

	rt, ok := c.runtimes.Lookup(language)
	if !ok {
		return model.Failed(model.KindValidation, "", fmt.Sprintf("Language '%s' not supported by Piston", language), time.Since(start))
	}

	payload, err := json.Marshal(executeRequest{
		Language: rt.Language,
		Version:  rt.Version,
		Files:    []file{{Content: code}},
		Stdin:    stdin,
	})
	if err != nil {
		return model.Failed(model.KindRuntime, "", "Piston connection failed: "+err.Error(), time.Since(start))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/execute", bytes.NewReader(payload))
	if err != nil {
		return model.Failed(model.KindBackendUnavailable, "", "Piston connection failed: "+err.Error(), time.Since(start))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("piston request failed", zap.String("language", rt.Language), zap.Error(err))
		return model.Failed(model.KindBackendUnavailable, "", "Piston connection failed: "+err.Error(), time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Failed(model.KindBackendUnavailable, "", "Piston connection failed: "+err.Error(), time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("piston returned error status",
			zap.String("language", rt.Language),
			zap.Int("status", resp.StatusCode))
		msg := fmt.Sprintf("Piston error: %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), preview(body))
		return model.Failed(model.KindUpstream, "", msg, time.Since(start))
	}

	var result executeResponse
	if err := json.Unmarshal(body, &result); err != nil || (result.Run == nil && result.Compile == nil) {
		return model.Failed(model.KindUpstream, "", "Invalid response from Piston", time.Since(start))
	}

	elapsed := time.Since(start)
	if cs := result.Compile; cs != nil && cs.failed() {
		text := strings.TrimSpace(cs.Stderr)
		if text == "" {
			text = strings.TrimSpace(cs.Stdout)
		}
		return model.Failed(model.KindCompilation, "", "Compilation error:\n"+text, elapsed)
	}
	if result.Run == nil {
		return model.Failed(model.KindUpstream, "", "Invalid response from Piston", elapsed)
	}

	run := result.Run
	output := strings.TrimSpace(run.Stdout)
	stderr := strings.TrimSpace(run.Stderr)

	if !run.failed() && stderr == "" {
		return model.ExecutionOutcome{
			Success:         true,
			Output:          output,
			ExecutionTimeMs: model.Millis(elapsed),
		}
	}

	if stderr == "" && run.Signal != nil && *run.Signal != "" {
		stderr = "Process killed by signal " + *run.Signal
	}
	if stderr == "" && run.Code != nil {
		stderr = fmt.Sprintf("Process exited with code %d", *run.Code)
	}
	return model.Failed(model.KindRuntime, output, stderr, elapsed)
}

func (s *stage) failed() bool {
	if s.Code != nil {
		return *s.Code != 0
	}
	return s.Signal != nil && *s.Signal != ""
}

// IsAvailable reports whether the runtimes endpoint answers with 2xx.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/runtimes", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func preview(body []byte) string {
	runes := []rune(strings.TrimSpace(string(body)))
	if len(runes) > bodyPreviewLimit {
		runes = runes[:bodyPreviewLimit]
	}
	return string(runes)
}
