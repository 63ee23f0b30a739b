package lang

import (
	"encoding/json"
	"fmt"

	"coderunner/executor"
)

// The user program runs through exec() with a trimmed builtins table; the
// harness itself is never validated, so it may use exec and compile freely.
const pythonHarness = `import builtins as _builtins
import sys as _sys

_input_lines = %s
_input_index = 0


def _input(prompt=""):
    global _input_index
    if prompt:
        print(prompt, end="", flush=True)
    if _input_index < len(_input_lines):
        value = _input_lines[_input_index]
        _input_index += 1
        print(value)
        return value
    return ""


_safe_builtins = {
    name: value
    for name, value in vars(_builtins).items()
    if name not in ("open", "exec", "eval", "compile", "breakpoint")
}
_safe_builtins["input"] = _input

_source = %s
_scope = {"__builtins__": _safe_builtins, "__name__": "__main__"}
try:
    exec(compile(_source, "<main>", "exec"), _scope)
except Exception as e:
    print("Runtime Error: " + str(e), file=_sys.stderr)
    _sys.exit(1)
`

// PythonEngine runs Python 3 programs read from stdin.
type PythonEngine struct {
	baseEngine
}

func NewPythonEngine(validator Validator, command string) *PythonEngine {
	if command == "" {
		command = "python3"
	}
	return &PythonEngine{baseEngine{
		language:  "python",
		validator: validator,
		launch: executor.LaunchSpec{
			Command: command,
			Args:    []string{"-I", "-"},
			Env:     interpreterEnv("PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1"),
		},
	}}
}

func (e *PythonEngine) Prepare(code, input string) (string, error) {
	lines, err := json.Marshal(inputLines(input))
	if err != nil {
		return "", fmt.Errorf("encoding input: %w", err)
	}
	source, err := json.Marshal(code)
	if err != nil {
		return "", fmt.Errorf("encoding code: %w", err)
	}
	return fmt.Sprintf(pythonHarness, lines, source), nil
}
