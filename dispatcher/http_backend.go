package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"codetutor-exec/model"
)

// Backend executes a request on one execution service.
type Backend interface {
	Name() string
	Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionOutcome, error)
}

// HTTPBackend posts requests to a worker's /execute route.
type HTTPBackend struct {
	name    string
	baseURL string
	client  *http.Client
	budget  Budget
}

// NewHTTPBackend returns a backend for the worker at baseURL. A nil client
// uses one without its own timeout; the dispatch context bounds each call.
func NewHTTPBackend(name, baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (b *HTTPBackend) Name() string { return b.name + "@" + b.baseURL }

// WithBudget sets the worker's worst case, which may extend the dispatch
// deadline for requests with test cases.
func (b *HTTPBackend) WithBudget(budget Budget) *HTTPBackend {
	b.budget = budget
	return b
}

func (b *HTTPBackend) Budget() Budget { return b.budget }

func (b *HTTPBackend) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionOutcome, error) {
	payload, err := json.Marshal(model.WorkerRequest{
		Code:      req.Code,
		Language:  strings.ToLower(strings.TrimSpace(req.Language)),
		TestCases: req.TestCases,
	})
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build worker request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && isDialError(err) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read worker response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
		var outcome model.ExecutionOutcome
		if json.Unmarshal(body, &outcome) == nil && (outcome.Error != nil || outcome.Output != "") {
			upstream.Outcome = &outcome
		}
		return nil, upstream
	}

	var outcome model.ExecutionOutcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	return &outcome, nil
}

func isDialError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
