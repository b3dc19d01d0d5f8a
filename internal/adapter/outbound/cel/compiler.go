// Package cel compiles matcher expressions with cel-go.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/matcher"
)

// maxExpressionLength is the maximum allowed length for matcher expressions.
const maxExpressionLength = 4096

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) cancellation is checked.
const interruptCheckFreq = 100

// maxFunctionArity is the largest argument count declared for custom functions.
const maxFunctionArity = 4

// ErrInvalidExpression is returned for expressions that fail the safety checks.
var ErrInvalidExpression = errors.New("invalid matcher expression")

// MatcherCompiler compiles matcher expressions against a fixed set of token
// variables and functions. Programs are cached by expression text.
type MatcherCompiler struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]*program
}

// NewMatcherCompiler declares every variable as dyn and every function with dyn
// overloads for one to four arguments.
func NewMatcherCompiler(variables []string, fns matcher.FunctionMap) (*MatcherCompiler, error) {
	opts := []cel.EnvOption{ext.Strings()}
	for _, v := range variables {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}

	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, functionDecl(name, fns[name]))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher environment: %w", err)
	}
	return &MatcherCompiler{env: env, programs: make(map[string]*program)}, nil
}

// NewFactory adapts NewMatcherCompiler to matcher.CompilerFactory.
func NewFactory() matcher.CompilerFactory {
	return func(variables []string, fns matcher.FunctionMap) (matcher.Compiler, error) {
		return NewMatcherCompiler(variables, fns)
	}
}

// Compile implements matcher.Compiler.
func (c *MatcherCompiler) Compile(expr string) (matcher.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	if err := validateExpression(expr); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	p, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	prg = &program{prg: p}
	c.mu.Lock()
	if cached, ok := c.programs[expr]; ok {
		prg = cached
	} else {
		c.programs[expr] = prg
	}
	c.mu.Unlock()
	return prg, nil
}

// Len returns the number of cached programs.
func (c *MatcherCompiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

type program struct {
	prg cel.Program
}

// Eval implements matcher.Program.
func (p *program) Eval(vars map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	out, _, err := p.prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	switch v := out.Value().(type) {
	case bool, int64, uint64, float64:
		return v, nil
	default:
		return nil, fmt.Errorf("matcher returned %T, want bool or number", v)
	}
}

// validateExpression enforces length and nesting limits.
func validateExpression(expr string) error {
	if expr == "" {
		return fmt.Errorf("%w: expression is empty", ErrInvalidExpression)
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrInvalidExpression, len(expr), maxExpressionLength)
	}

	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("%w: nesting too deep: %d levels (max %d)", ErrInvalidExpression, maxDepth, maxNestingDepth)
	}
	return nil
}

// functionDecl declares fn under name with one dyn overload per arity.
func functionDecl(name string, fn matcher.Function) cel.EnvOption {
	overloads := make([]cel.FunctionOpt, 0, maxFunctionArity)
	for n := 1; n <= maxFunctionArity; n++ {
		args := make([]*cel.Type, n)
		for i := range args {
			args[i] = cel.DynType
		}

		var binding cel.OverloadOpt
		switch n {
		case 1:
			binding = cel.UnaryBinding(func(a ref.Val) ref.Val {
				return call(fn, a)
			})
		case 2:
			binding = cel.BinaryBinding(func(a, b ref.Val) ref.Val {
				return call(fn, a, b)
			})
		default:
			binding = cel.FunctionBinding(func(vals ...ref.Val) ref.Val {
				return call(fn, vals...)
			})
		}

		overloads = append(overloads,
			cel.Overload(name+"_dyn_"+strconv.Itoa(n), args, cel.DynType, binding))
	}
	return cel.Function(name, overloads...)
}

// call converts CEL values to Go natives, invokes fn and converts the result back.
func call(fn matcher.Function, vals ...ref.Val) ref.Val {
	args := make([]any, len(vals))
	for i, v := range vals {
		if types.IsError(v) {
			return v
		}
		args[i] = v.Value()
	}

	res, err := fn(args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	return types.DefaultTypeAdapter.NativeToValue(res)
}

// Compile-time interface verification.
var _ matcher.Compiler = (*MatcherCompiler)(nil)
