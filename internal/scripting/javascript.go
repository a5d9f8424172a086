package scripting

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsProgram struct {
	prog *goja.Program
}

func compileJavaScript(source string) (*jsProgram, error) {
	prog, err := goja.Compile("filter", source, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return &jsProgram{prog: prog}, nil
}

func (p *jsProgram) Interpreter() string { return JavaScript }

// Eval runs the program on a fresh runtime; goja programs can be shared, runtimes cannot.
func (p *jsProgram) Eval(env map[string]any) (bool, error) {
	vm := goja.New()
	if err := vm.Set("routable", env); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	if err := vm.Set("result", false); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	if _, err := vm.RunProgram(p.prog); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	result, ok := vm.Get("result").Export().(bool)
	if !ok {
		return false, nil
	}
	return result, nil
}
