package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	logrus "github.com/sirupsen/logrus"

	"codetutor-exec/grader"
	"codetutor-exec/internal"
	"codetutor-exec/model"
)

const (
	DefaultExecutionTimeout = 5 * time.Second
	DefaultCompileTimeout   = 10 * time.Second
	DefaultMaxOutput        = 10000
	DefaultMaxWorkers       = 2
	DefaultMaxJobs          = 8
	DefaultMemoryBytes      = 256 << 20
	DefaultNanoCPUs         = 1_000_000_000
	DefaultPidsLimit        = 64

	// maxArtifactSize bounds the base64 program handed to the run container
	// through its environment.
	maxArtifactSize  = 96 << 10
	minBuildMemory   = 512 << 20
	noEntryPoint     = "No entry point (Main method) found"
	compileErrPrefix = "Compilation error:\n"
)

// Options configures a compiled-language Worker. Zero values fall back to
// the defaults above.
type Options struct {
	ExecutionTimeout time.Duration
	CompileTimeout   time.Duration
	MaxOutput        int
	MaxCodeLength    int
	MaxWorkers       int
	MaxJobs          int
	Limits           Limits
	// Languages lists the enabled profiles; the first is used when a request
	// names no language.
	Languages []string
	// Images overrides a profile's image by profile name.
	Images map[string]string
	Logger *logrus.Logger
}

func (o Options) withDefaults() Options {
	if o.ExecutionTimeout <= 0 {
		o.ExecutionTimeout = DefaultExecutionTimeout
	}
	if o.CompileTimeout <= 0 {
		o.CompileTimeout = DefaultCompileTimeout
	}
	if o.MaxOutput <= 0 {
		o.MaxOutput = DefaultMaxOutput
	}
	if o.MaxCodeLength <= 0 {
		o.MaxCodeLength = internal.DefaultMaxCodeLength
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.MaxJobs < 0 {
		o.MaxJobs = 0
	} else if o.MaxJobs == 0 {
		o.MaxJobs = DefaultMaxJobs
	}
	if o.Limits.MemoryBytes <= 0 {
		o.Limits.MemoryBytes = DefaultMemoryBytes
	}
	if o.Limits.NanoCPUs <= 0 {
		o.Limits.NanoCPUs = DefaultNanoCPUs
	}
	if o.Limits.PidsLimit <= 0 {
		o.Limits.PidsLimit = DefaultPidsLimit
	}
	if len(o.Languages) == 0 {
		o.Languages = []string{"csharp"}
	}
	if o.Logger == nil {
		o.Logger = NewLogger("")
	}
	return o
}

// Worker compiles and runs C#/Java submissions in throwaway containers.
type Worker struct {
	containers      *ContainerManager
	pool            *WorkerPool
	profiles        map[string]Profile
	defaultLanguage string
	opts            Options
	logger          *logrus.Logger
}

// program is a built artifact ready to be run any number of times.
type program struct {
	profile    Profile
	artifact   string
	entryClass string
}

// NewWorker connects to Docker and starts the worker pool.
func NewWorker(opts Options) (*Worker, error) {
	opts = opts.withDefaults()
	cm, err := NewContainerManager(opts.Limits, opts.Logger)
	if err != nil {
		return nil, err
	}
	return newWorker(cm, opts)
}

func newWorker(cm *ContainerManager, opts Options) (*Worker, error) {
	opts = opts.withDefaults()

	w := &Worker{
		containers: cm,
		profiles:   make(map[string]Profile, len(opts.Languages)),
		opts:       opts,
		logger:     opts.Logger,
	}
	for _, language := range opts.Languages {
		p, ok := GetProfile(language)
		if !ok {
			return nil, fmt.Errorf("unsupported compiled language: %s", language)
		}
		if image := opts.Images[p.Name]; image != "" {
			p.Image = image
		}
		w.profiles[p.Name] = p
		if w.defaultLanguage == "" {
			w.defaultLanguage = p.Name
		}
	}

	w.pool = NewWorkerPool(opts.MaxWorkers, opts.MaxJobs, w.process, opts.Logger)
	return w, nil
}

// Warmup pulls the image of every enabled profile.
func (w *Worker) Warmup(ctx context.Context) error {
	var errs []error
	for _, p := range w.profiles {
		if err := w.containers.EnsureImage(ctx, p.Image); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Supports reports whether language selects an enabled profile. An empty
// language selects the default profile.
func (w *Worker) Supports(language string) bool {
	_, ok := w.profile(language)
	return ok
}

func (w *Worker) profile(language string) (Profile, bool) {
	if strings.TrimSpace(language) == "" {
		language = w.defaultLanguage
	}
	p, ok := GetProfile(language)
	if !ok {
		return Profile{}, false
	}
	p, ok = w.profiles[p.Name]
	return p, ok
}

// Execute queues req on the worker pool and waits for its outcome.
func (w *Worker) Execute(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome {
	start := time.Now()
	outcome, err := w.pool.ExecuteJob(ctx, req)
	switch {
	case err == nil:
		return outcome
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrPoolClosed):
		w.logger.WithError(err).Warn("Execution rejected")
		return model.Failed(model.KindBackendUnavailable, "", "Execution error: "+err.Error(), time.Since(start))
	default:
		return model.Failed(model.KindTimeout, "", "Execution error: "+err.Error(), time.Since(start))
	}
}

// Shutdown stops the pool and removes any container still running.
func (w *Worker) Shutdown() {
	w.pool.Shutdown()
	w.containers.Shutdown()
}

func (w *Worker) process(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome {
	start := time.Now()

	profile, ok := w.profile(req.Language)
	if !ok {
		return model.Failed(model.KindValidation, "", "Unsupported language: "+req.Language, time.Since(start))
	}

	if err := internal.SanitizeCode(req.Code, profile.Name, w.opts.MaxCodeLength); err != nil {
		return model.Failed(model.KindValidation, "", "Code failed to pass sanitization: "+err.Error(), time.Since(start))
	}

	log := w.logger.WithFields(logrus.Fields{
		"language": profile.Name,
		"tests":    len(req.TestCases),
	})

	prog, failure := w.build(ctx, profile, req.Code)
	if failure != nil {
		failure.ExecutionTimeMs = model.Millis(time.Since(start))
		log.WithField("error_kind", failure.Kind).Info("Build rejected")
		return *failure
	}

	res, err := w.runProgram(ctx, prog, "")
	if err != nil {
		log.WithError(err).Error("Run failed")
		return model.Failed(model.KindRuntime, "", "Execution error: "+err.Error(), time.Since(start))
	}
	if failed, ok := w.runFailure(prog, res); ok {
		failed.ExecutionTimeMs = model.Millis(time.Since(start))
		log.WithField("error_kind", failed.Kind).Info("Run faulted")
		return failed
	}

	outcome := model.Completed(w.truncate(res.Stdout), strings.TrimSpace(res.Stderr), 0)

	if len(req.TestCases) > 0 {
		results := grader.Grade(req.TestCases, func(tc model.TestCase) (string, error) {
			res, err := w.runProgram(ctx, prog, tc.InputText())
			if err != nil {
				return "", err
			}
			if failed, ok := w.runFailure(prog, res); ok {
				return "", errors.New(failed.ErrorText())
			}
			return res.Stdout, nil
		})
		outcome.TestResults = &results
	}

	outcome.ExecutionTimeMs = model.Millis(time.Since(start))
	log.WithField("duration_ms", outcome.ExecutionTimeMs).Info("Execution completed")
	return outcome
}

// build wraps, compiles and packages the submission. A non-nil outcome means
// the build did not produce a runnable program.
func (w *Worker) build(ctx context.Context, profile Profile, code string) (*program, *model.ExecutionOutcome) {
	source := profile.prepareSource(code)
	entry := profile.EntryClass(source)
	sourceClass := entry
	if profile.SourceClass != nil {
		sourceClass = profile.SourceClass(source)
	}

	memory := w.opts.Limits.MemoryBytes
	if memory < minBuildMemory {
		memory = minBuildMemory
	}

	res, err := w.containers.Run(ctx, containerSpec{
		Stage:   StageBuild,
		Image:   profile.Image,
		Script:  profile.BuildScript,
		Env:     []string{"SOURCE=" + source, "MAIN_CLASS=" + entry, "SOURCE_CLASS=" + sourceClass},
		Timeout: w.opts.CompileTimeout,
		Memory:  memory,
	})
	if err != nil {
		return nil, failedPtr(model.KindRuntime, "Execution error: "+err.Error())
	}

	if res.TimedOut {
		return nil, failedPtr(model.KindCompilation,
			fmt.Sprintf("%scompilation timed out after %s", compileErrPrefix, w.opts.CompileTimeout))
	}

	if res.ExitCode != 0 || res.OOMKilled {
		diagnostics := res.Stderr
		if strings.TrimSpace(diagnostics) == "" {
			diagnostics = res.Stdout
		}
		if profile.MissingEntry.MatchString(diagnostics) {
			return nil, failedPtr(model.KindCompilation, noEntryPoint)
		}
		text := profile.diagnostics(diagnostics)
		if text == "" {
			text = fmt.Sprintf("compiler exited with code %d", res.ExitCode)
		}
		return nil, failedPtr(model.KindCompilation, compileErrPrefix+text)
	}

	artifact := strings.TrimSpace(res.Stdout)
	switch {
	case artifact == "":
		return nil, failedPtr(model.KindRuntime, "Execution error: build produced no program")
	case len(artifact) > maxArtifactSize:
		return nil, failedPtr(model.KindRuntime, "Execution error: compiled program too large")
	}

	return &program{profile: profile, artifact: artifact, entryClass: entry}, nil
}

func (w *Worker) runProgram(ctx context.Context, prog *program, stdin string) (*containerResult, error) {
	return w.containers.Run(ctx, containerSpec{
		Stage:   StageRun,
		Image:   prog.profile.Image,
		Script:  prog.profile.RunScript,
		Env:     []string{"ARTIFACT=" + prog.artifact, "STDIN_DATA=" + stdin, "MAIN_CLASS=" + prog.entryClass},
		Timeout: w.opts.ExecutionTimeout,
	})
}

// runFailure converts a finished run into a failed outcome when it timed
// out, was killed or exited non-zero.
func (w *Worker) runFailure(prog *program, res *containerResult) (model.ExecutionOutcome, bool) {
	stdout := w.truncate(res.Stdout)
	switch {
	case res.TimedOut:
		return model.Failed(model.KindTimeout, stdout,
			"Execution timed out after "+model.DurationText(w.opts.ExecutionTimeout), res.Duration), true
	case res.OOMKilled:
		return model.Failed(model.KindRuntime, stdout, "Execution error: memory limit exceeded", res.Duration), true
	case res.ExitCode != 0:
		if prog.profile.MissingEntry.MatchString(res.Stderr) {
			return model.Failed(model.KindCompilation, "", noEntryPoint, res.Duration), true
		}
		return model.Failed(model.KindRuntime, stdout, "Execution error: "+faultMessage(res), res.Duration), true
	}
	return model.ExecutionOutcome{}, false
}

var exceptionLines = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^Exception in thread "[^"]*" (.+)$`),
	regexp.MustCompile(`(?m)^\s*(?:\[ERROR\] FATAL UNHANDLED EXCEPTION: )?((?:[A-Za-z_]\w*\.)+[A-Za-z_]\w*(?:Exception|Error): .*)$`),
}

// faultMessage picks the exception line from stderr when one is recognisable,
// then the last non-empty stderr line, then the exit code.
func faultMessage(res *containerResult) string {
	for _, re := range exceptionLines {
		if m := re.FindStringSubmatch(res.Stderr); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fmt.Sprintf("process exited with code %d", res.ExitCode)
}

func (w *Worker) truncate(stdout string) string {
	return model.TruncateOutput(strings.TrimRight(stdout, "\r\n"), w.opts.MaxOutput)
}

func failedPtr(kind model.ErrorKind, message string) *model.ExecutionOutcome {
	outcome := model.Failed(kind, "", message, 0)
	return &outcome
}
