package scripting

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type starlarkProgram struct {
	prog *starlark.Program
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

func compileStarlark(source string) (*starlarkProgram, error) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, "filter.star", source, func(name string) bool {
		return name == "routable"
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return &starlarkProgram{prog: prog}, nil
}

func (p *starlarkProgram) Interpreter() string { return Starlark }

func (p *starlarkProgram) Eval(env map[string]any) (bool, error) {
	routable, err := toStarlark(env)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	thread := &starlark.Thread{Name: "filter"}
	globals, err := p.prog.Init(thread, starlark.StringDict{"routable": routable})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	result, ok := globals["result"].(starlark.Bool)
	if !ok {
		return false, nil
	}
	return bool(result), nil
}

// toStarlark converts the plain Go values found in a routable environment.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case []byte:
		return starlark.Bytes(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint8:
		return starlark.MakeInt(int(x)), nil
	case float64:
		return starlark.Float(x), nil
	case []string:
		elems := make([]starlark.Value, 0, len(x))
		for _, s := range x {
			elems = append(elems, starlark.String(s))
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for _, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(x))
		for k, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
