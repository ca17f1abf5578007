package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"refinery"
	"refinery/internal/adapter"
	"refinery/internal/config"
	"refinery/internal/modelfile"
	"refinery/internal/ratelimit"
	"refinery/internal/script"
	"refinery/internal/trace"
	"refinery/internal/transport"
	"refinery/internal/wire"
	"refinery/sutserver"
)

var (
	runConfigPath string
	runOutput     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an adapter session",
	Long: `Run loads the configuration, compiles the refinement definitions,
binds to the model file's channel pair, and serves the runner until
interrupted. A final metrics report is printed on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOutput != "text" && runOutput != "json" {
			return fmt.Errorf("--output must be 'text' or 'json', got %q", runOutput)
		}
		return runSession(runConfigPath, runOutput)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "refinery.yaml", "path to the YAML config file")
	runCmd.Flags().StringVar(&runOutput, "output", "text", "metrics report format: text, json")
}

func runSession(configPath, output string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Trace sink: a file when configured, stderr otherwise.
	traceOut := io.Writer(os.Stderr)
	var traceFile *os.File
	if cfg.Engine.TraceFile != "" {
		traceFile, err = os.Create(cfg.Engine.TraceFile)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer traceFile.Close()
		traceOut = traceFile
	}
	logger := trace.New(traceOut)

	console := io.Writer(os.Stdout)
	if cfg.Engine.LogConsoleToTrace {
		console = io.MultiWriter(os.Stdout, logger.ConsoleWriter())
	}

	// Compile the declared actions and refinements.
	specs, err := script.FieldSpecs(cfg.Actions)
	if err != nil {
		return err
	}
	codec := wire.NewCodec()
	for kind, spec := range specs {
		if err := codec.RegisterFields(kind, spec); err != nil {
			return err
		}
	}
	systems := make([]*refinery.IOSTS, 0, len(cfg.Refinements))
	for _, def := range cfg.Refinements {
		ios, err := script.Compile(def, specs)
		if err != nil {
			return err
		}
		systems = append(systems, ios)
	}

	// Bind to the model file's channel pair.
	bindings, err := modelfile.Parse(cfg.Runner.Model)
	if err != nil {
		return err
	}
	binding, err := selectBinding(bindings, cfg.Runner.Port)
	if err != nil {
		return err
	}

	// Optional SUT link.
	var sut *sutserver.Client
	execute := func(c refinery.SystemAction) error {
		logger.Printf("no SUT configured, dropping command %q", c.Kind())
		return nil
	}
	if cfg.SUT.Addr != "" {
		sut, err = sutserver.Dial(cfg.SUT.Addr)
		if err != nil {
			return err
		}
		defer sut.Close()
		execute = func(c refinery.SystemAction) error {
			return sut.Send(commandLine(c))
		}
	}

	var rng *rand.Rand
	if cfg.Engine.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Engine.Seed))
	}
	recorder := trace.NewRecorder()

	var runner *transport.ProcessOptions
	if cfg.Runner.Exec != "" {
		runner = &transport.ProcessOptions{
			Path:   cfg.Runner.Exec,
			Args:   cfg.Runner.Args,
			Stdout: traceOut,
			Stderr: traceOut,
		}
	}

	var a *adapter.Adapter
	link := transport.NewConnector(transport.Options{
		Binding:   binding,
		Host:      cfg.RunnerHost(),
		OnStarted: func() { a.HandleRunnerStarted() },
		OnInput:   func(ta wire.TorXakisAction) { a.HandleRunnerInput(ta) },
		Runner:    runner,
	})

	a, err = adapter.New(adapter.Options{
		Systems:        systems,
		Codec:          codec,
		Link:           link,
		Binding:        binding,
		ExecuteCommand: execute,
		Limiter:        ratelimit.New(cfg.SUT.CommandRPS),
		Logger:         logger,
		Recorder:       recorder,
		Rand:           rng,
	})
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	// Feed observed SUT events into the scheduler.
	done := make(chan struct{})
	if sut != nil {
		go func() {
			for line := range sut.Events() {
				kind, payload := splitEventLine(line)
				if err := a.HandleSystemEvent(refinery.NewSystemAction(refinery.Kind(kind), payload)); err != nil {
					logger.Printf("event %q: %v", kind, err)
				}
			}
			close(done)
		}()
	}

	fmt.Fprintf(console, "refinery: %d refinement(s) on port %d (%s/%s), waiting for runner\n",
		len(systems), binding.Port, binding.InChannel, binding.OutChannel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Fprintln(console, "refinery: shutting down")

	if err := a.Stop(); err != nil {
		logger.Printf("stop: %v", err)
	}
	if sut != nil {
		_ = sut.Close()
		<-done
	}
	recorder.Close()

	metrics := recorder.Metrics()
	if output == "json" {
		enc := json.NewEncoder(console)
		enc.SetIndent("", "  ")
		return enc.Encode(metrics)
	}
	printMetrics(console, metrics)
	return nil
}

// selectBinding picks the configured port's binding, or the first one.
func selectBinding(bindings []modelfile.Binding, port int) (modelfile.Binding, error) {
	if port == 0 {
		return bindings[0], nil
	}
	for _, b := range bindings {
		if b.Port == port {
			return b, nil
		}
	}
	return modelfile.Binding{}, fmt.Errorf("model file has no binding for port %d", port)
}

// commandLine renders a system command for the SUT wire: the kind, then
// the payload when it is textual.
func commandLine(c refinery.SystemAction) string {
	switch p := c.Payload().(type) {
	case nil:
		return string(c.Kind())
	case string:
		if p == "" {
			return string(c.Kind())
		}
		return string(c.Kind()) + " " + p
	default:
		return fmt.Sprintf("%s %v", c.Kind(), p)
	}
}

// splitEventLine splits an event line into its kind token and payload.
func splitEventLine(line string) (string, string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}

func printMetrics(w io.Writer, m refinery.Metrics) {
	fmt.Fprintln(w, "\n=== Refinement Session ===")
	fmt.Fprintf(w, "Inputs:       %d (%d dropped)\n", m.Inputs, m.InputsDropped)
	fmt.Fprintf(w, "Events:       %d (%d dropped, %d discarded)\n", m.Events, m.EventsDropped, m.EventsDiscarded)
	fmt.Fprintf(w, "Outputs:      %d\n", m.Outputs)
	fmt.Fprintf(w, "Commands:     %d\n", m.Commands)
	fmt.Fprintf(w, "Error replies: %d\n", m.ErrorReplies)
	fmt.Fprintf(w, "Refinements:  %d closed\n", m.Refinements)
	if m.Refinements > 0 {
		fmt.Fprintf(w, "Durations:    min %v  avg %v  p50 %v  p95 %v  max %v\n",
			m.Duration.Min, m.Duration.Avg, m.Duration.P50, m.Duration.P95, m.Duration.Max)
	}
}
