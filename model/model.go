package model

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// NoOutput replaces an empty stdout in successful outcomes.
	NoOutput = "(No output)"
	// TruncationMarker follows output cut at the length cap.
	TruncationMarker = "... (output truncated)"
)

// ErrorKind classifies a failed outcome.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindCompilation        ErrorKind = "compilation"
	KindTimeout            ErrorKind = "timeout"
	KindRuntime            ErrorKind = "runtime"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindUpstream           ErrorKind = "upstream"
)

// ExecutionRequest is the inbound submission handed to the dispatcher.
type ExecutionRequest struct {
	Language  string     `json:"language"`
	Code      string     `json:"code"`
	TestCases []TestCase `json:"testCases,omitempty"`
}

// TestCase is a single expected-output check. Input is nil when the case has none.
type TestCase struct {
	ID             string  `json:"id"`
	Input          *string `json:"input"`
	ExpectedOutput string  `json:"expectedOutput"`
	Description    string  `json:"description,omitempty"`
}

// InputText returns the case input or "" when absent.
func (t TestCase) InputText() string {
	if t.Input == nil {
		return ""
	}
	return *t.Input
}

// TestResult is the graded result for one TestCase.
type TestResult struct {
	TestID   string `json:"testId"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Message  string `json:"message,omitempty"`
}

// TestResults aggregates graded test cases in input order.
type TestResults struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Details []TestResult `json:"details"`
}

// ExecutionOutcome is the single result shape produced by every worker,
// adapter and the dispatcher.
type ExecutionOutcome struct {
	Success         bool         `json:"success"`
	Output          string       `json:"output"`
	Error           *string      `json:"error"`
	ExecutionTimeMs int64        `json:"executionTimeMs"`
	TestResults     *TestResults `json:"testResults,omitempty"`
	Kind            ErrorKind    `json:"errorKind,omitempty"`
}

// ErrorText returns the error message or "" when the outcome has none.
func (o ExecutionOutcome) ErrorText() string {
	if o.Error == nil {
		return ""
	}
	return *o.Error
}

// WorkerRequest is the body the dispatcher posts to a worker's /execute route.
type WorkerRequest struct {
	Code      string     `json:"code"`
	Language  string     `json:"language,omitempty"`
	TestCases []TestCase `json:"testCases,omitempty"`
}

// Failed builds an unsuccessful outcome.
func Failed(kind ErrorKind, output, message string, elapsed time.Duration) ExecutionOutcome {
	return ExecutionOutcome{
		Success:         false,
		Output:          output,
		Error:           &message,
		ExecutionTimeMs: Millis(elapsed),
		Kind:            kind,
	}
}

// Completed builds a successful outcome from captured stdout and stderr.
func Completed(stdout, stderr string, elapsed time.Duration) ExecutionOutcome {
	if stdout == "" {
		stdout = NoOutput
	}
	outcome := ExecutionOutcome{
		Success:         true,
		Output:          stdout,
		ExecutionTimeMs: Millis(elapsed),
	}
	if stderr != "" {
		outcome.Error = &stderr
	}
	return outcome
}

// Millis converts a duration to non-negative whole milliseconds.
func Millis(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// DurationText renders d as "5 seconds", "1 second" or, for fractional
// durations, Go's duration string ("250ms").
func DurationText(d time.Duration) string {
	if d%time.Second != 0 {
		return d.String()
	}
	secs := int64(d / time.Second)
	if secs == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", secs)
}

// TruncateOutput caps output at max characters and appends TruncationMarker
// when anything was cut. A non-positive max disables the cap.
func TruncateOutput(output string, max int) string {
	if max <= 0 || utf8.RuneCountInString(output) <= max {
		return output
	}
	return string([]rune(output)[:max]) + TruncationMarker
}
