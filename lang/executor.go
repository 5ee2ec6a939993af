// Package lang runs dynamically interpreted submissions inside an in-process
// JavaScript sandbox. Each run gets a fresh interpreter, so nothing a submission
// does can leak into another run.
package lang

import (
	"context"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"codetutor-exec/grader"
	"codetutor-exec/model"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultMaxOutput = 10000

	sourceName = "submission.js"
)

// Options configures a Sandbox. Zero values fall back to the defaults.
type Options struct {
	Timeout   time.Duration
	MaxOutput int
	Logger    *zap.Logger
}

// variant turns submitted source into plain JavaScript for the interpreter.
type variant interface {
	name() string
	prepare(code string) (string, error)
}

// Sandbox executes JavaScript and TypeScript submissions.
type Sandbox struct {
	timeout   time.Duration
	maxOutput int
	logger    *zap.Logger
	variants  map[string]variant
}

// NewSandbox builds a Sandbox with the supported language variants registered.
func NewSandbox(opts Options) *Sandbox {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	js := javascriptVariant{}
	ts := typescriptVariant{}

	return &Sandbox{
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutput,
		logger:    opts.Logger,
		variants: map[string]variant{
			"":                      js,
			"javascript":            js,
			"js":                    js,
			"node":                  js,
			"typescript":            ts,
			"ts":                    ts,
			"javascript-typescript": ts,
		},
	}
}

// Supports reports whether language selects a registered variant.
func (s *Sandbox) Supports(language string) bool {
	_, ok := s.variants[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// Execute runs code once and, when tests are supplied and the run succeeded,
// once more per test case in its own interpreter.
func (s *Sandbox) Execute(ctx context.Context, language, code string, tests []model.TestCase) model.ExecutionOutcome {
	start := time.Now()

	v, ok := s.variants[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return model.Failed(model.KindValidation, "", "Unsupported language: "+language, time.Since(start))
	}

	source, err := v.prepare(code)
	if err != nil {
		return model.Failed(model.KindCompilation, "", err.Error(), time.Since(start))
	}

	program, err := goja.Compile(sourceName, source, false)
	if err != nil {
		return model.Failed(model.KindRuntime, "", err.Error(), time.Since(start))
	}

	main := s.run(ctx, program, "")
	if main.err != nil {
		s.logger.Debug("script run failed",
			zap.String("variant", v.name()),
			zap.String("kind", string(main.err.kind)),
			zap.Duration("duration", time.Since(start)))
		return model.Failed(main.err.kind, s.truncate(main.output), main.err.msg, time.Since(start))
	}

	outcome := model.Completed(s.truncate(main.output), "", 0)

	if len(tests) > 0 {
		results := grader.Grade(tests, func(tc model.TestCase) (string, error) {
			res := s.run(ctx, program, tc.InputText())
			if res.err != nil {
				return "", res.err
			}
			return res.output, nil
		})
		outcome.TestResults = &results
	}

	outcome.ExecutionTimeMs = model.Millis(time.Since(start))
	s.logger.Debug("script run completed",
		zap.String("variant", v.name()),
		zap.Int("tests", len(tests)),
		zap.Int64("duration_ms", outcome.ExecutionTimeMs))

	return outcome
}

func (s *Sandbox) truncate(output string) string {
	return model.TruncateOutput(output, s.maxOutput)
}

// timeoutMessage renders "<prefix> after 5 seconds".
func timeoutMessage(prefix string, d time.Duration) string {
	return prefix + " after " + model.DurationText(d)
}
