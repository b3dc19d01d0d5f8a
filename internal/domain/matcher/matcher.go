// Package matcher defines the matcher expression port and the built-in matcher functions.
package matcher

import "errors"

// Function is a named function callable from a matcher expression.
// Arguments arrive as Go natives (string, int64, float64, bool, ...).
type Function func(args ...any) (any, error)

// FunctionMap maps function names to implementations.
type FunctionMap map[string]Function

// Clone returns a shallow copy of the map.
func (fm FunctionMap) Clone() FunctionMap {
	out := make(FunctionMap, len(fm))
	for name, fn := range fm {
		out[name] = fn
	}
	return out
}

// Program is a compiled matcher expression.
type Program interface {
	// Eval evaluates the program against token bindings.
	// The result is a bool or a number.
	Eval(vars map[string]any) (any, error)
}

// Compiler turns matcher text into programs. Implementations cache by expression text.
type Compiler interface {
	Compile(expr string) (Program, error)
}

// CompilerFactory builds a Compiler for a set of token names and functions.
type CompilerFactory func(variables []string, fns FunctionMap) (Compiler, error)

var (
	// ErrArgumentCount is returned when a function receives the wrong number of arguments.
	ErrArgumentCount = errors.New("wrong number of arguments")
	// ErrArgumentType is returned when a function receives an argument of the wrong type.
	ErrArgumentType = errors.New("wrong argument type")
)
