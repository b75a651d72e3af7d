package drivers

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
)

const (
	defaultExprTimeout = 5 * time.Second
	maxExprSteps       = 100_000
)

// ExprEnv is what a detection expression can observe.
type ExprEnv struct {
	Platform    string
	FileExists  func(path string) bool
	LookupEnv   func(name string) (string, bool)
	RegistryKey func(path string) (bool, error)
}

// ExprEvaluator evaluates Starlark boolean expressions used as detection
// rules. Expressions run without load(), print output, or any builtin that
// touches the system beyond the read-only helpers in ExprEnv.
type ExprEvaluator struct {
	timeout time.Duration
}

// NewExprEvaluator creates an evaluator. A zero timeout uses the default.
func NewExprEvaluator(timeout time.Duration) *ExprEvaluator {
	if timeout == 0 {
		timeout = defaultExprTimeout
	}
	return &ExprEvaluator{timeout: timeout}
}

// Eval evaluates expr and returns its boolean value.
func (e *ExprEvaluator) Eval(ctx context.Context, expr string, env ExprEnv) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("detection expression not evaluated: %w", err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "detect",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(maxExprSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	val, err := starlark.Eval(thread, "detect", expr, exprBuiltins(env))
	if err != nil {
		return false, fmt.Errorf("detection expression failed: %w", err)
	}

	b, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("detection expression must evaluate to a bool, got %s", val.Type())
	}
	return bool(b), nil
}

func exprBuiltins(env ExprEnv) starlark.StringDict {
	return starlark.StringDict{
		"platform": starlark.String(env.Platform),

		"file_exists": starlark.NewBuiltin("file_exists", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			if env.FileExists == nil {
				return starlark.False, nil
			}
			return starlark.Bool(env.FileExists(path)), nil
		}),

		"env": starlark.NewBuiltin("env", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			if env.LookupEnv == nil {
				return starlark.None, nil
			}
			if v, ok := env.LookupEnv(name); ok {
				return starlark.String(v), nil
			}
			return starlark.None, nil
		}),

		"registry_key_exists": starlark.NewBuiltin("registry_key_exists", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			if env.RegistryKey == nil {
				return starlark.False, nil
			}
			ok, err := env.RegistryKey(path)
			if err != nil {
				return nil, err
			}
			return starlark.Bool(ok), nil
		}),
	}
}
