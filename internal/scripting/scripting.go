// Package scripting compiles the predicate scripts used by script filters.
//
// A script reads the "routable" global and assigns a boolean to the global
// "result". Anything other than a boolean result evaluates to false.
package scripting

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

const (
	JavaScript = "javascript"
	Starlark   = "starlark"
)

var (
	ErrSyntax                 = errors.New("script syntax error")
	ErrScriptNotFound         = errors.New("script file not found")
	ErrUnsupportedInterpreter = errors.New("unsupported script interpreter")
	ErrRuntime                = errors.New("script runtime error")
)

// Program is a compiled predicate. Implementations are safe for concurrent use.
type Program interface {
	Eval(env map[string]any) (bool, error)
	Interpreter() string
}

var programs sync.Map // interpreter:sha256(source) -> Program

// NormalizeInterpreter maps accepted aliases to an interpreter name.
func NormalizeInterpreter(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "javascript", "js", "ecmascript":
		return JavaScript, nil
	case "starlark", "star", "python", "py":
		return Starlark, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedInterpreter, name)
}

// Compile returns the program for source, reusing an earlier compilation of the same source.
func Compile(interpreter, source string) (Program, error) {
	interp, err := NormalizeInterpreter(interpreter)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(source))
	key := interp + ":" + hex.EncodeToString(sum[:])
	if p, ok := programs.Load(key); ok {
		return p.(Program), nil
	}

	var p Program
	switch interp {
	case JavaScript:
		p, err = compileJavaScript(source)
	case Starlark:
		p, err = compileStarlark(source)
	}
	if err != nil {
		return nil, err
	}
	actual, _ := programs.LoadOrStore(key, p)
	return actual.(Program), nil
}

// Load reads the script at path and compiles it.
func Load(interpreter, path string) (Program, error) {
	if _, err := NormalizeInterpreter(interpreter); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	return Compile(interpreter, string(src))
}
