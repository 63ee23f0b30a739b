package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coderunner/config"
	"coderunner/model"
	"coderunner/natshandler"
	"coderunner/pkg"
	"coderunner/service"

	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	natsURL    string
	language   string
	inputFile  string
	timeoutMs  int
	priority   int
	outputJSON bool
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
	dimColor  = color.New(color.Faint)
)

// exitError carries the executed program's exit code out of RunE.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("program exited with code %d", e.code)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "runctl",
		Short:         "Run JavaScript and Python programs through the coderunner sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats", "", "NATS URL of a running coderunner server (runs locally when empty)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print the raw result as JSON")

	rootCmd.AddCommand(runCmd(), queueCmd(), languagesCmd())

	if err := rootCmd.Execute(); err != nil {
		if ee, ok := err.(exitError); ok {
			os.Exit(ee.code)
		}
		errColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&language, "lang", "l", "", "Language (inferred from the file extension when empty)")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "File whose contents are fed to the program as input (- for stdin)")
	cmd.Flags().IntVarP(&timeoutMs, "timeout", "t", 5000, "Timeout in milliseconds")
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute a source file and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(pkg.MaxTimeoutMs)*time.Millisecond+5*time.Second)
			defer cancel()

			var result model.ExecutionResult
			if natsURL != "" {
				result, err = runRemote(ctx, req)
			} else {
				result, err = runLocal(ctx, req)
			}
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), result)
		},
	}
	addSourceFlags(cmd)
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue [file]",
		Short: "Queue a source file on a running server and print the job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL == "" {
				return fmt.Errorf("queue needs a server: pass --nats")
			}
			req, err := buildRequest(args[0])
			if err != nil {
				return err
			}

			nc, err := nats.Connect(natsURL, nats.Name("runctl"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			data, err := json.Marshal(model.QueueRequest{Request: req, Priority: &priority})
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			msg, err := nc.Request(natshandler.SubjectQueue, data, 10*time.Second)
			if err != nil {
				return fmt.Errorf("queue request failed: %w", err)
			}

			var reply model.QueueReply
			if err := json.Unmarshal(msg.Data, &reply); err != nil {
				return fmt.Errorf("failed to decode reply: %w", err)
			}
			if reply.Error != "" {
				return fmt.Errorf("%s", reply.Error)
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return json.NewEncoder(out).Encode(reply)
			}
			okColor.Fprintf(out, "Job queued: %s\n", reply.JobID)
			dimColor.Fprintf(out, "Events are published on %s*\n", natshandler.SubjectEventsPrefix)
			return nil
		},
	}
	addSourceFlags(cmd)
	cmd.Flags().IntVarP(&priority, "priority", "p", 1, "Queue priority (higher runs first)")
	return cmd
}

func languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages runctl can execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, l := range []string{"javascript", "python"} {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
}

// inferLanguage maps a file extension to a supported language.
func inferLanguage(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python", nil
	case ".js", ".mjs", ".cjs":
		return "javascript", nil
	}
	return "", fmt.Errorf("cannot infer language from %q, pass --lang", path)
}

func buildRequest(path string) (model.ExecutionRequest, error) {
	var req model.ExecutionRequest

	code, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read source: %w", err)
	}

	lang := language
	if lang == "" {
		if lang, err = inferLanguage(path); err != nil {
			return req, err
		}
	}

	var input []byte
	switch inputFile {
	case "":
	case "-":
		input, err = io.ReadAll(os.Stdin)
	default:
		input, err = os.ReadFile(inputFile)
	}
	if err != nil {
		return req, fmt.Errorf("failed to read input: %w", err)
	}

	return model.ExecutionRequest{
		Language:  lang,
		Code:      string(code),
		Input:     string(input),
		TimeoutMs: pkg.ClampTimeout(timeoutMs, pkg.MaxTimeoutMs),
	}, nil
}

func runLocal(ctx context.Context, req model.ExecutionRequest) (model.ExecutionResult, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return model.ExecutionResult{}, err
	}
	runLog := logrus.New()
	runLog.SetOutput(io.Discard)

	svc, err := service.Build(cfg, zap.NewNop(), runLog, nil, nil)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	defer svc.Shutdown()

	req, err = pkg.NormalizeRequest(req, svc.SupportedLanguages(), int(cfg.DefaultTimeout/time.Millisecond))
	if err != nil {
		return model.ExecutionResult{}, err
	}
	return svc.ExecuteDirectly(ctx, req), nil
}

func runRemote(ctx context.Context, req model.ExecutionRequest) (model.ExecutionResult, error) {
	nc, err := nats.Connect(natsURL, nats.Name("runctl"))
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()
	return natshandler.Execute(ctx, nc, req)
}

// report prints the result and returns an exitError when the program did not
// succeed, so the process exit code mirrors it.
func report(out io.Writer, result model.ExecutionResult) error {
	if outputJSON {
		if err := json.NewEncoder(out).Encode(result); err != nil {
			return err
		}
	} else {
		if result.Output != "" {
			fmt.Fprint(out, result.Output)
			if !strings.HasSuffix(result.Output, "\n") {
				fmt.Fprintln(out)
			}
		}
		if result.Error != "" {
			errColor.Fprintln(os.Stderr, result.Error)
		}
		status := okColor
		if !result.Success {
			status = errColor
		}
		exit := "n/a"
		if result.ExitCode != nil {
			exit = fmt.Sprint(*result.ExitCode)
		}
		status.Fprintf(os.Stderr, "exit %s", exit)
		infoColor.Fprintf(os.Stderr, " in %dms\n", result.ExecutionTimeMs)
	}

	if result.Success {
		return nil
	}
	if result.ExitCode != nil && *result.ExitCode != 0 {
		return exitError{code: *result.ExitCode}
	}
	return exitError{code: 1}
}
