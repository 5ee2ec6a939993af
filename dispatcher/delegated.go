package dispatcher

import (
	"context"
	"errors"
	"net/http"

	"codetutor-exec/grader"
	"codetutor-exec/model"
	"codetutor-exec/piston"
)

// DelegatedBackend runs requests on Piston and grades test cases by
// re-running the code once per case with the case input on stdin.
type DelegatedBackend struct {
	client *piston.Client
	budget Budget
}

func NewDelegatedBackend(client *piston.Client) *DelegatedBackend {
	return &DelegatedBackend{client: client}
}

func (b *DelegatedBackend) Name() string { return "piston" }

// WithBudget sets the worst case of one Piston run.
func (b *DelegatedBackend) WithBudget(budget Budget) *DelegatedBackend {
	b.budget = budget
	return b
}

func (b *DelegatedBackend) Budget() Budget { return b.budget }

func (b *DelegatedBackend) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionOutcome, error) {
	outcome := b.client.Run(ctx, req.Language, req.Code, "")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch outcome.Kind {
	case model.KindBackendUnavailable:
		return nil, &UpstreamError{StatusCode: http.StatusServiceUnavailable, Outcome: &outcome}
	case model.KindUpstream:
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Outcome: &outcome}
	}

	if outcome.Success && len(req.TestCases) > 0 {
		results := grader.Grade(req.TestCases, func(tc model.TestCase) (string, error) {
			run := b.client.Run(ctx, req.Language, req.Code, tc.InputText())
			if !run.Success {
				msg := run.ErrorText()
				if msg == "" {
					msg = "execution failed"
				}
				return "", errors.New(msg)
			}
			return run.Output, nil
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome.TestResults = &results
	}
	return &outcome, nil
}
