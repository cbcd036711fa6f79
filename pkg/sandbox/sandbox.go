// Package sandbox runs generated analysis snippets against a dataset.
//
// Snippets are expr-lang expressions over a single variable, df, which is a
// read-only Frame view of the table. Execution is restricted three ways: a
// source deny-list, an AST allow-list of identifiers, builtins and methods,
// and a wall-clock limit. Nothing reachable from df can touch the
// filesystem, the network or the process.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
)

const (
	DefaultTimeout     = 3 * time.Second
	DefaultPreviewRows = 20
)

var errCancelled = errors.New("execution cancelled")

// Config controls execution limits.
type Config struct {
	Timeout     time.Duration
	PreviewRows int
}

// Executor runs snippets. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	// beforeRun is called inside the execution goroutine; tests use it to
	// simulate slow snippets.
	beforeRun func(ctx context.Context)
}

// New creates an executor. Zero config fields take defaults.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = DefaultPreviewRows
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{cfg: cfg, logger: logging.Component(logger, "sandbox")}
}

// Timeout returns the configured execution ceiling.
func (e *Executor) Timeout() time.Duration { return e.cfg.Timeout }

type outcome struct {
	value any
	err   error
}

// Execute validates and runs code against table. It never returns an error:
// every failure mode is a Result kind. The effective limit is the smaller of
// the configured timeout and the time left on ctx.
func (e *Executor) Execute(ctx context.Context, code string, table *dataset.Table) Result {
	start := time.Now()
	res := e.execute(ctx, code, table)
	res.Elapsed = time.Since(start)
	e.logger.Debug("snippet executed", "kind", res.Kind, "elapsed", res.Elapsed)
	return res
}

func (e *Executor) execute(ctx context.Context, code string, table *dataset.Table) Result {
	if table == nil {
		return RuntimeFailure("no dataset is bound to this session")
	}
	if err := Check(code); err != nil {
		var forbidden *Forbidden
		if errors.As(err, &forbidden) {
			e.logger.Warn("snippet refused", "reason", forbidden.Reason)
			return ForbiddenResult(forbidden.Reason)
		}
		return RuntimeFailure(err.Error())
	}

	program, err := expr.Compile(code, compileOptions()...)
	if err != nil {
		return RuntimeFailure(cleanMessage(err))
	}

	limit := e.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < limit {
			limit = left
		}
	}
	if limit <= 0 {
		return Timeout(0)
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: panicError(r)}
			}
		}()
		if e.beforeRun != nil {
			e.beforeRun(runCtx)
		}
		env := map[string]any{"df": newFrame(table, &budget{ctx: runCtx})}
		v, err := expr.Run(program, env)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if runCtx.Err() != nil {
			return Timeout(limit)
		}
		if out.err != nil {
			if errors.Is(out.err, errCancelled) {
				return Timeout(limit)
			}
			return RuntimeFailure(cleanMessage(out.err))
		}
		return render(out.value, e.cfg.PreviewRows)
	case <-runCtx.Done():
		return Timeout(limit)
	}
}

func compileOptions() []expr.Option {
	opts := []expr.Option{
		expr.Env(map[string]any{"df": Frame{}}),
		expr.DisableAllBuiltins(),
	}
	for _, name := range allowedBuiltins {
		opts = append(opts, expr.EnableBuiltin(name))
	}
	return opts
}

func panicError(r any) error {
	switch v := r.(type) {
	case error:
		return v
	default:
		return fmt.Errorf("%v", v)
	}
}

// cleanMessage keeps the first line of an expr error; later lines hold a
// source excerpt that is noise for end users.
func cleanMessage(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Message
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
