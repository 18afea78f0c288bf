package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is returned when a probed script exceeds its time budget.
var ErrTimeout = errors.New("sandbox: execution timeout exceeded")

// Config defines runtime limits.
type Config struct {
	Timeout        time.Duration // hard interrupt after this long
	MaxCallStack   int           // goja call stack depth limit
	MaxConsoleLogs int           // console entries kept per run
}

// DefaultConfig returns the limits used by the console probe.
func DefaultConfig() Config {
	return Config{
		Timeout:        2 * time.Second,
		MaxCallStack:   1024,
		MaxConsoleLogs: 200,
	}
}

// LogEntry is one console call made by the script.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Result holds the outcome of a probe run.
type Result struct {
	Console     []LogEntry    `json:"console"`
	Error       string        `json:"error,omitempty"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Runtime executes scripts in fresh goja isolates. Each Run builds a new VM
// and throws it away afterwards, mirroring the full teardown of the preview
// frame on every change.
type Runtime struct {
	config Config
}

// NewRuntime creates a runtime with config; zero fields take defaults.
func NewRuntime(config Config) *Runtime {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxCallStack <= 0 {
		config.MaxCallStack = def.MaxCallStack
	}
	if config.MaxConsoleLogs <= 0 {
		config.MaxConsoleLogs = def.MaxConsoleLogs
	}
	return &Runtime{config: config}
}

// Run executes script. Script exceptions and timeouts are reported in the
// Result; the returned error is non-nil only for ErrTimeout or context
// cancellation, so callers can tell a runaway script from a failing one.
func (r *Runtime) Run(ctx context.Context, script string) (*Result, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(r.config.MaxCallStack)

	console := &consoleSink{limit: r.config.MaxConsoleLogs}
	if err := setupGlobals(vm, console); err != nil {
		return nil, fmt.Errorf("sandbox: setup globals: %w", err)
	}

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)

	var (
		interruptMu sync.Mutex
		cause       error
	)
	go func() {
		select {
		case <-timer.C:
			interruptMu.Lock()
			cause = ErrTimeout
			interruptMu.Unlock()
			vm.Interrupt(ErrTimeout.Error())
		case <-ctx.Done():
			interruptMu.Lock()
			cause = ctx.Err()
			interruptMu.Unlock()
			vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	start := time.Now()
	_, runErr := vm.RunString(script)
	result := &Result{
		Console:  console.entries(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		result.Interrupted = true
		result.Error = interrupted.Error()
		interruptMu.Lock()
		defer interruptMu.Unlock()
		return result, cause
	}

	result.Error = runErr.Error()
	return result, nil
}

func setupGlobals(vm *goja.Runtime, console *consoleSink) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	obj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := obj.Set(level, console.fn(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", obj); err != nil {
		return err
	}

	// Timers never fire in a probe.
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return err
		}
	}
	return nil
}

type consoleSink struct {
	mu    sync.Mutex
	limit int
	logs  []LogEntry
}

func (c *consoleSink) fn(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		c.mu.Lock()
		if len(c.logs) < c.limit {
			c.logs = append(c.logs, LogEntry{
				Level:   level,
				Message: strings.Join(parts, " "),
				Time:    time.Now(),
			})
		}
		c.mu.Unlock()

		return goja.Undefined()
	}
}

func (c *consoleSink) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry{}, c.logs...)
}
