package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/openwork/agentloop"
	"github.com/martinemde/openwork/config"
	"github.com/martinemde/openwork/llm"
	"github.com/martinemde/openwork/logging"
	"github.com/martinemde/openwork/tools"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run an agent task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTask,
}

var (
	runPaths         []string
	runModel         string
	runAPIKey        string
	runMaxIterations int
	runNativeTools   bool
	runVerbose       bool
)

func init() {
	runCmd.Flags().StringArrayVarP(&runPaths, "path", "p", nil, "Allowed path (repeatable; defaults to the current directory)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model id or alias (e.g. gpt-4o, sonnet, llama3.1)")
	runCmd.Flags().StringVarP(&runAPIKey, "api-key", "k", "", "API key for the model provider (or set OPENWORK_API_KEY)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Iteration budget (overrides config)")
	runCmd.Flags().BoolVar(&runNativeTools, "native-tools", false, "Use provider tool calling instead of JSON replies")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print lifecycle events and tool executions")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runTask(cmd *cobra.Command, args []string) error {
	task := args[0]
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.Model.Name = runModel
		cfg.Model.Provider = ""
	}
	if runAPIKey == "" {
		runAPIKey = os.Getenv("OPENWORK_API_KEY")
	}
	if runAPIKey != "" {
		cfg.Model.APIKey = runAPIKey
	}
	if runMaxIterations > 0 {
		cfg.Agent.MaxIterations = runMaxIterations
	}
	if runNativeTools {
		cfg.Agent.NativeToolCalls = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logOpts := cfg.LoggingOptions()
	if runVerbose {
		logOpts.Level = slog.LevelDebug
	}
	logOpts.Writer = errOut
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer logger.Close()

	paths, err := resolvePaths(runPaths, errOut)
	if err != nil {
		return err
	}

	adapterCfg, err := cfg.AdapterConfig()
	if err != nil {
		return err
	}
	adapter, err := llm.NewGollmAdapter(adapterCfg)
	if err != nil {
		return err
	}
	policy := cfg.RetryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
	}
	client := llm.NewClient(
		llm.WithProvider(adapter.Name(), adapter),
		llm.WithDefaultModel(adapter.Model()),
		llm.WithMiddleware(llm.RetryMiddleware(policy)),
	)
	defer client.Close()

	toolOpts := cfg.ToolOptions()
	toolOpts.Logger = logger.Logger

	opts := []agentloop.Option{
		agentloop.WithConfig(cfg.AgentConfig()),
		agentloop.WithLogger(logger.Logger),
		agentloop.WithSandbox(cfg.SandboxConfig()),
	}
	var events *agentloop.ChannelObserver
	done := make(chan struct{})
	if runVerbose {
		events = agentloop.NewChannelObserver(256)
		opts = append(opts, agentloop.WithObserver(events))
		go func() {
			defer close(done)
			printEvents(errOut, events.Events())
		}()
	} else {
		close(done)
	}

	agent := agentloop.New(client, tools.Default(toolOpts), opts...)

	fmt.Fprintf(out, "Task: %s\n", task)
	fmt.Fprintf(out, "Model: %s (%s)\n", adapter.Model(), adapter.Name())
	fmt.Fprintf(out, "Allowed paths: %s\n\n", strings.Join(paths, ", "))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res := agent.Run(ctx, task, paths)

	if events != nil {
		events.Close()
	}
	<-done

	if runVerbose && len(res.Observations) > 0 {
		fmt.Fprintln(out, "Tool executions:")
		for _, obs := range res.Observations {
			mark := "ok"
			if !obs.Success {
				mark = "failed"
			}
			fmt.Fprintf(out, "  [%s] %s\n", mark, obs.ToolName)
		}
		fmt.Fprintln(out)
	}

	if !res.Success {
		return fmt.Errorf("task failed after %d iterations: %s", res.Iterations, res.Error)
	}
	fmt.Fprintln(out, res.Output)
	return nil
}

// resolvePaths makes every allowed path absolute and checks it exists. No
// paths means the current directory.
func resolvePaths(paths []string, warn io.Writer) ([]string, error) {
	if len(paths) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(warn, "Warning: no paths specified, using the current directory.")
		paths = []string{cwd}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("path does not exist: %s", abs)
			}
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

func printEvents(w io.Writer, events <-chan agentloop.Event) {
	for e := range events {
		switch e.Kind {
		case agentloop.EventThinking:
			fmt.Fprintf(w, "[%d] thinking\n", e.Iteration)
		case agentloop.EventExecuting:
			fmt.Fprintf(w, "[%d] executing %v\n", e.Iteration, e.Data["tool"])
		case agentloop.EventObservation:
			if ok, _ := e.Data["success"].(bool); ok {
				fmt.Fprintf(w, "[%d] %v succeeded\n", e.Iteration, e.Data["tool"])
			} else {
				fmt.Fprintf(w, "[%d] %v failed: %v\n", e.Iteration, e.Data["tool"], e.Data["error"])
			}
		case agentloop.EventLoopDetected:
			fmt.Fprintf(w, "[%d] loop detected\n", e.Iteration)
		case agentloop.EventComplete:
			fmt.Fprintf(w, "[%d] complete\n", e.Iteration)
		case agentloop.EventError:
			fmt.Fprintf(w, "[%d] error: %v\n", e.Iteration, e.Data["error"])
		}
	}
}
