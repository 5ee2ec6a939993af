package lang

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja"

	"codetutor-exec/model"
)

var errInterruptedByTimeout = errors.New("script execution timed out")

// lockdown replaces every route to runtime code generation with a function
// that throws EvalError.
var lockdown = goja.MustCompile("lockdown.js", `(function () {
	var blocked = function () {
		throw new EvalError("Code generation from strings is disabled in this sandbox");
	};
	var protos = [Function.prototype];
	var make = Function;
	try { protos.push(Object.getPrototypeOf(make("return function* () {}")())); } catch (e) {}
	try { protos.push(Object.getPrototypeOf(make("return async function () {}")())); } catch (e) {}
	for (var i = 0; i < protos.length; i++) {
		Object.defineProperty(protos[i], "constructor", { value: blocked, writable: false, configurable: false });
	}
	Object.defineProperty(globalThis, "eval", { value: blocked, writable: false, configurable: false });
	Object.defineProperty(globalThis, "Function", { value: blocked, writable: false, configurable: false });
})();`, false)

type javascriptVariant struct{}

func (javascriptVariant) name() string { return "javascript" }

func (javascriptVariant) prepare(code string) (string, error) { return code, nil }

type runError struct {
	kind model.ErrorKind
	msg  string
}

func (e *runError) Error() string { return e.msg }

type runResult struct {
	output string
	err    *runError
}

// logCapture collects console lines and stops growing once the joined text
// passes the limit; the caller truncates the rest.
type logCapture struct {
	lines []string
	size  int
	limit int
}

func (c *logCapture) add(line string) {
	if c.size > c.limit {
		return
	}
	if len(c.lines) > 0 {
		c.size++
	}
	c.size += utf8.RuneCountInString(line)
	c.lines = append(c.lines, line)
}

func (c *logCapture) String() string {
	return strings.Join(c.lines, "\n")
}

// run executes program in a freshly built runtime with the given stdin text.
func (s *Sandbox) run(ctx context.Context, program *goja.Program, input string) runResult {
	capture := &logCapture{limit: s.maxOutput}

	vm := goja.New()
	if err := s.installGlobals(vm, capture, input); err != nil {
		return runResult{err: &runError{kind: model.KindRuntime, msg: err.Error()}}
	}
	if _, err := vm.RunProgram(lockdown); err != nil {
		return runResult{err: &runError{kind: model.KindRuntime, msg: err.Error()}}
	}

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(errInterruptedByTimeout)
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	_, err := vm.RunProgram(program)
	if err != nil {
		return runResult{output: capture.String(), err: s.classify(err)}
	}
	return runResult{output: capture.String()}
}

func (s *Sandbox) installGlobals(vm *goja.Runtime, capture *logCapture, input string) error {
	console := vm.NewObject()
	logger := func(prefix string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			capture.add(prefix + strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	for name, prefix := range map[string]string{
		"log":   "",
		"info":  "",
		"debug": "",
		"error": "ERROR: ",
		"warn":  "WARN: ",
	} {
		if err := console.Set(name, logger(prefix)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	if err := vm.Set("input", input); err != nil {
		return err
	}

	lines := splitInput(input)
	next := 0
	return vm.Set("readline", func(goja.FunctionCall) goja.Value {
		if next >= len(lines) {
			return goja.Undefined()
		}
		line := lines[next]
		next++
		return vm.ToValue(line)
	})
}

func splitInput(input string) []string {
	if input == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (s *Sandbox) classify(err error) *runError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, errInterruptedByTimeout) {
			return &runError{kind: model.KindTimeout, msg: timeoutMessage("Code execution timed out", s.timeout)}
		}
		return &runError{kind: model.KindTimeout, msg: "Code execution cancelled"}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &runError{kind: model.KindRuntime, msg: exceptionMessage(exception)}
	}

	return &runError{kind: model.KindRuntime, msg: err.Error()}
}

// exceptionMessage mirrors err.message for Error objects and String(value)
// for anything else that was thrown. Built-in error types keep their name.
func exceptionMessage(ex *goja.Exception) string {
	value := ex.Value()
	obj, ok := value.(*goja.Object)
	if !ok || obj == nil {
		if value == nil {
			return ex.Error()
		}
		return value.String()
	}

	message := obj.Get("message")
	if message == nil || goja.IsUndefined(message) {
		return value.String()
	}

	name := obj.Get("name")
	if name != nil && !goja.IsUndefined(name) {
		switch n := name.String(); n {
		case "Error", "":
			return message.String()
		default:
			return n + ": " + message.String()
		}
	}
	return message.String()
}
