package lang

import (
	"encoding/json"
	"fmt"

	"coderunner/executor"
)

// Console output goes straight to stdout so the runner sees every byte as it
// is produced. The user program is compiled with new Function so the shadowed
// names below are parameters it cannot see past.
const jsHarness = `(function (proc) {
  const inputLines = %s;
  let inputIndex = 0;
  const nextLine = () => (inputIndex < inputLines.length ? inputLines[inputIndex++] : "");

  const emit = (line) => {
    proc.stdout.write(line + "\n");
  };
  const format = (args) =>
    args
      .map((arg) => (typeof arg === "object" && arg !== null ? JSON.stringify(arg, null, 2) : String(arg)))
      .join(" ");

  const sandboxConsole = {
    log: (...args) => emit(format(args)),
    info: (...args) => emit(format(args)),
    debug: (...args) => emit(format(args)),
    error: (...args) => emit("ERROR: " + format(args)),
    warn: (...args) => emit("WARN: " + format(args)),
  };

  const prompt = (message) => {
    if (message) emit(String(message));
    return nextLine();
  };

  const readline = {
    question: (message, callback) => {
      if (message) emit(String(message));
      callback(nextLine());
    },
    createInterface: () => ({ question: readline.question, close: () => {}, on: () => {} }),
  };

  const fail = (error) => {
    const message = error && error.message !== undefined ? error.message : String(error);
    proc.stderr.write("Runtime Error: " + message + "\n");
    proc.exitCode = 1;
  };
  proc.on("uncaughtException", fail);
  proc.on("unhandledRejection", fail);

  const source = %s;
  try {
    const program = new Function(
      "console", "readline", "prompt",
      "require", "process", "global", "globalThis", "Buffer",
      "setImmediate", "clearImmediate", "module", "exports", "__filename", "__dirname",
      source
    );
    program.call({}, sandboxConsole, readline, prompt);
  } catch (error) {
    fail(error);
  }
})(process);
`

// JavaScriptEngine runs Node.js programs read from stdin.
type JavaScriptEngine struct {
	baseEngine
}

func NewJavaScriptEngine(validator Validator, command string) *JavaScriptEngine {
	if command == "" {
		command = "node"
	}
	return &JavaScriptEngine{baseEngine{
		language:  "javascript",
		validator: validator,
		launch: executor.LaunchSpec{
			Command: command,
			Args:    []string{"-"},
			Env:     interpreterEnv("NODE_NO_WARNINGS=1"),
		},
	}}
}

func (e *JavaScriptEngine) Prepare(code, input string) (string, error) {
	lines, err := json.Marshal(inputLines(input))
	if err != nil {
		return "", fmt.Errorf("encoding input: %w", err)
	}
	source, err := json.Marshal(code)
	if err != nil {
		return "", fmt.Errorf("encoding code: %w", err)
	}
	return fmt.Sprintf(jsHarness, lines, source), nil
}
