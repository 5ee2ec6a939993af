package executor

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	logrus "github.com/sirupsen/logrus"

	"codetutor-exec/model"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestWorker(t *testing.T, fake *fakeDockerClient, opts Options) *Worker {
	t.Helper()

	opts.Logger = quietLogger()
	cm := newContainerManager(fake, Limits{MemoryBytes: 128 << 20, NanoCPUs: 500_000_000, PidsLimit: 32}, opts.Logger)
	w, err := newWorker(cm, opts)
	if err != nil {
		t.Fatalf("newWorker returned error: %v", err)
	}
	t.Cleanup(w.pool.Shutdown)
	return w
}

// builds succeed with a fixed artifact; runs use the given behaviour.
func compiledOK(run func(config *container.Config) fakeRun) func(config *container.Config) fakeRun {
	return func(config *container.Config) fakeRun {
		if isBuild(config) {
			return fakeRun{stdout: "UFJPR1JBTQ==\n"}
		}
		return run(config)
	}
}

func TestWorkerExecutesSnippet(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(*container.Config) fakeRun {
		return fakeRun{stdout: "hello\n"}
	}))
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: `Console.WriteLine("hello");`})

	if !outcome.Success {
		t.Fatalf("expected success, got %q", outcome.ErrorText())
	}
	if outcome.Output != "hello" {
		t.Fatalf("expected output %q, got %q", "hello", outcome.Output)
	}
	if outcome.Error != nil {
		t.Fatalf("expected nil error, got %q", *outcome.Error)
	}

	created := fake.created()
	if len(created) != 2 {
		t.Fatalf("expected build and run containers, got %d", len(created))
	}

	build, run := created[0], created[1]
	source, _ := envValue(build.config, "SOURCE")
	if !strings.Contains(source, "public class Program") || !strings.Contains(source, `Console.WriteLine("hello");`) {
		t.Fatalf("expected wrapped source, got %q", source)
	}
	if artifact, _ := envValue(run.config, "ARTIFACT"); artifact != "UFJPR1JBTQ==" {
		t.Fatalf("expected artifact forwarded to run container, got %q", artifact)
	}
	for i, c := range created {
		if c.hostConfig.NetworkMode != "none" || !c.config.NetworkDisabled {
			t.Fatalf("container %d: expected networking disabled", i)
		}
		if c.config.Labels[SandboxLabel] != "true" {
			t.Fatalf("container %d: expected sandbox label", i)
		}
		if c.hostConfig.Resources.PidsLimit == nil || *c.hostConfig.Resources.PidsLimit != 32 {
			t.Fatalf("container %d: expected pids limit", i)
		}
		if !c.removed {
			t.Fatalf("container %d: expected removal after use", i)
		}
	}
	if run.hostConfig.Resources.Memory != 128<<20 {
		t.Fatalf("expected run memory limit, got %d", run.hostConfig.Resources.Memory)
	}
	if build.hostConfig.Resources.Memory != minBuildMemory {
		t.Fatalf("expected build memory floor, got %d", build.hostConfig.Resources.Memory)
	}
}

func TestWorkerEmptyOutputPlaceholder(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(*container.Config) fakeRun { return fakeRun{} }))
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "int x = 1;"})
	if !outcome.Success || outcome.Output != model.NoOutput {
		t.Fatalf("expected placeholder output, got %+v", outcome)
	}
}

func TestWorkerCompilationError(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(func(config *container.Config) fakeRun {
		return fakeRun{
			exit: 1,
			stderr: "Program.cs(7,9): error CS0103: The name `y' does not exist in the current context\n" +
				"Program.cs(2,14): warning CS0105: The using directive for `System' appeared previously\n" +
				"Compilation failed: 1 error(s), 1 warnings\n",
		}
	})
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "Console.WriteLine(y);"})

	if outcome.Success {
		t.Fatalf("expected compilation failure")
	}
	want := "Compilation error:\nProgram.cs(7,9): error CS0103: The name `y' does not exist in the current context"
	if outcome.ErrorText() != want {
		t.Fatalf("expected %q, got %q", want, outcome.ErrorText())
	}
	if outcome.Output != "" || outcome.Kind != model.KindCompilation {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if n := len(fake.created()); n != 1 {
		t.Fatalf("expected only the build container, got %d", n)
	}
}

func TestWorkerMissingEntryPoint(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(func(*container.Config) fakeRun {
		return fakeRun{exit: 1, stderr: "error CS5001: Program `program.exe' does not contain a static `Main' method suitable for an entry point\n"}
	})
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "public class Foo { }"})
	if outcome.ErrorText() != noEntryPoint {
		t.Fatalf("expected %q, got %q", noEntryPoint, outcome.ErrorText())
	}
}

func TestWorkerCompileTimeout(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(func(*container.Config) fakeRun { return fakeRun{block: true} })
	w := newTestWorker(t, fake, Options{CompileTimeout: 50 * time.Millisecond})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "int x = 1;"})
	if outcome.ErrorText() != "Compilation error:\ncompilation timed out after 50ms" {
		t.Fatalf("unexpected error %q", outcome.ErrorText())
	}
}

func TestWorkerRunTimeoutPreservesPartialOutput(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(*container.Config) fakeRun {
		return fakeRun{stdout: "partial\n", block: true}
	}))
	w := newTestWorker(t, fake, Options{ExecutionTimeout: 50 * time.Millisecond})

	start := time.Now()
	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "while (true) { }"})

	if outcome.Success {
		t.Fatalf("expected timeout failure")
	}
	if outcome.ErrorText() != "Execution timed out after 50ms" {
		t.Fatalf("unexpected error %q", outcome.ErrorText())
	}
	if outcome.Output != "partial" || outcome.Kind != model.KindTimeout {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout not enforced")
	}

	fake.mu.Lock()
	stops := len(fake.stopCalls)
	fake.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected one ContainerStop, got %d", stops)
	}
}

func TestWorkerRuntimeFault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  fakeRun
		want string
	}{
		{
			name: "mono exception",
			run: fakeRun{
				stdout: "before\n",
				exit:   1,
				stderr: "\nUnhandled Exception:\nSystem.InvalidOperationException: boom\n  at Program.Main () [0x00001] in <abc>:0\n" +
					"[ERROR] FATAL UNHANDLED EXCEPTION: System.InvalidOperationException: boom\n  at Program.Main () [0x00001] in <abc>:0\n",
			},
			want: "Execution error: System.InvalidOperationException: boom",
		},
		{
			name: "java exception",
			run: fakeRun{
				exit:   1,
				stderr: "Exception in thread \"main\" java.lang.ArithmeticException: / by zero\n\tat Main.main(Main.java:3)\n",
			},
			want: "Execution error: java.lang.ArithmeticException: / by zero",
		},
		{
			name: "last stderr line",
			run:  fakeRun{exit: 2, stderr: "first\nsegfault near here\n\n"},
			want: "Execution error: segfault near here",
		},
		{
			name: "exit code only",
			run:  fakeRun{exit: 3},
			want: "Execution error: process exited with code 3",
		},
		{
			name: "oom",
			run:  fakeRun{exit: 137, oom: true},
			want: "Execution error: memory limit exceeded",
		},
	}

	for _, tt := range tests {
		run := tt.run
		fake := newFakeDockerClient(compiledOK(func(*container.Config) fakeRun { return run }))
		w := newTestWorker(t, fake, Options{})

		outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "int x = 1;"})
		if outcome.Success {
			t.Fatalf("%s: expected failure", tt.name)
		}
		if outcome.ErrorText() != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.want, outcome.ErrorText())
		}
		if outcome.Kind != model.KindRuntime {
			t.Fatalf("%s: expected runtime kind, got %q", tt.name, outcome.Kind)
		}
	}
}

func TestWorkerFaultKeepsStdout(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(*container.Config) fakeRun {
		return fakeRun{stdout: "line 1\nline 2\n", exit: 1}
	}))
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "int x = 1;"})
	if outcome.Output != "line 1\nline 2" {
		t.Fatalf("expected captured stdout, got %q", outcome.Output)
	}
}

func TestWorkerSanitizationRejectsBeforeDocker(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(nil)
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: `System.Diagnostics.Process.Start("sh");`})
	if outcome.Kind != model.KindValidation {
		t.Fatalf("expected validation kind, got %q", outcome.Kind)
	}
	if !strings.HasPrefix(outcome.ErrorText(), "Code failed to pass sanitization: ") {
		t.Fatalf("unexpected error %q", outcome.ErrorText())
	}
	if n := len(fake.created()); n != 0 {
		t.Fatalf("expected no containers, got %d", n)
	}
}

func TestWorkerUnsupportedLanguage(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, newFakeDockerClient(nil), Options{})
	if w.Supports("java") {
		t.Fatalf("java is not enabled by default")
	}
	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "x", Language: "java"})
	if outcome.ErrorText() != "Unsupported language: java" {
		t.Fatalf("unexpected error %q", outcome.ErrorText())
	}
}

func TestWorkerGradesTestCasesWithStdin(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(config *container.Config) fakeRun {
		stdin, _ := envValue(config, "STDIN_DATA")
		switch strings.TrimSpace(stdin) {
		case "":
			return fakeRun{stdout: "ready\n"}
		case "boom":
			return fakeRun{exit: 1, stderr: "System.Exception: bad input\n"}
		default:
			return fakeRun{stdout: strings.ToUpper(stdin) + "\n"}
		}
	}))
	w := newTestWorker(t, fake, Options{})

	in := func(s string) *string { return &s }
	outcome := w.Execute(context.Background(), model.WorkerRequest{
		Code: "var s = Console.ReadLine(); Console.WriteLine(s.ToUpper());",
		TestCases: []model.TestCase{
			{ID: "a", Input: in("abc"), ExpectedOutput: "ABC"},
			{ID: "b", Input: in("boom"), ExpectedOutput: "BOOM"},
			{ID: "c", Input: in("xyz"), ExpectedOutput: "xyz"},
		},
	})

	if !outcome.Success || outcome.Output != "ready" {
		t.Fatalf("unexpected main run %+v", outcome)
	}
	results := outcome.TestResults
	if results == nil || results.Passed != 1 || results.Failed != 2 {
		t.Fatalf("unexpected results %+v", results)
	}
	if results.Details[1].Message != "Error: Execution error: System.Exception: bad input" {
		t.Fatalf("unexpected fault message %q", results.Details[1].Message)
	}
	if results.Details[2].Message != "Expected 'xyz' but got 'XYZ'" {
		t.Fatalf("unexpected mismatch message %q", results.Details[2].Message)
	}
	if n := len(fake.created()); n != 5 {
		t.Fatalf("expected one build and four runs, got %d containers", n)
	}
}

func TestWorkerJavaProfile(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(config *container.Config) fakeRun {
		class, _ := envValue(config, "MAIN_CLASS")
		return fakeRun{stdout: class + "\n"}
	}))
	w := newTestWorker(t, fake, Options{Languages: []string{"csharp", "java"}, Images: map[string]string{"java": "temurin:test"}})

	outcome := w.Execute(context.Background(), model.WorkerRequest{
		Language: "java",
		Code:     "public class Solution { public static void main(String[] a) { System.out.println(1); } }",
	})
	if outcome.Output != "Solution" {
		t.Fatalf("expected entry class Solution, got %q", outcome.Output)
	}
	if image := fake.created()[0].config.Image; image != "temurin:test" {
		t.Fatalf("expected image override, got %q", image)
	}
}

func TestWorkerJavaPackagePrivateEntryClass(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(config *container.Config) fakeRun {
		class, _ := envValue(config, "MAIN_CLASS")
		return fakeRun{stdout: class + "\n"}
	}))
	w := newTestWorker(t, fake, Options{Languages: []string{"java"}})

	outcome := w.Execute(context.Background(), model.WorkerRequest{
		Language: "java",
		Code:     "class Foo { public static void main(String[] a) { System.out.println(1); } }",
	})
	if outcome.Output != "Foo" {
		t.Fatalf("expected entry class Foo, got %q", outcome.Output)
	}
	build := fake.created()[0].config
	if file, _ := envValue(build, "SOURCE_CLASS"); file != "Main" {
		t.Fatalf("expected source file Main.java, got %q", file)
	}
	if entry, _ := envValue(build, "MAIN_CLASS"); entry != "Foo" {
		t.Fatalf("expected build entry Foo, got %q", entry)
	}
}

func TestWorkerRejectsOversizedArtifact(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(func(config *container.Config) fakeRun {
		return fakeRun{stdout: strings.Repeat("A", maxArtifactSize+4)}
	})
	w := newTestWorker(t, fake, Options{})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "int x = 1;"})
	if outcome.ErrorText() != "Execution error: compiled program too large" {
		t.Fatalf("unexpected error %q", outcome.ErrorText())
	}
}

func TestWorkerTruncatesOutput(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(compiledOK(func(*container.Config) fakeRun {
		return fakeRun{stdout: strings.Repeat("x", 50)}
	}))
	w := newTestWorker(t, fake, Options{MaxOutput: 10})

	outcome := w.Execute(context.Background(), model.WorkerRequest{Code: "int x = 1;"})
	if outcome.Output != strings.Repeat("x", 10)+model.TruncationMarker {
		t.Fatalf("unexpected output %q", outcome.Output)
	}
}

func TestWorkerWarmupPullsOnce(t *testing.T) {
	t.Parallel()

	fake := newFakeDockerClient(nil)
	w := newTestWorker(t, fake, Options{Languages: []string{"csharp", "java"}})

	for i := 0; i < 3; i++ {
		if err := w.Warmup(context.Background()); err != nil {
			t.Fatalf("Warmup returned error: %v", err)
		}
	}
	fake.mu.Lock()
	pulls := len(fake.imagePulls)
	fake.mu.Unlock()
	if pulls != 2 {
		t.Fatalf("expected one pull per image, got %d", pulls)
	}
}

func TestNewWorkerRejectsUnknownLanguage(t *testing.T) {
	t.Parallel()

	cm := newContainerManager(newFakeDockerClient(nil), Limits{}, quietLogger())
	if _, err := newWorker(cm, Options{Languages: []string{"cobol"}, Logger: quietLogger()}); err == nil {
		t.Fatalf("expected error for unknown language")
	}
}
