// Command thinkact runs the ReAct agent in a terminal or as an ACP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/m4xw311/thinkact/agent"
	"github.com/m4xw311/thinkact/agent/acp"
	"github.com/m4xw311/thinkact/agent/terminal"
	"github.com/m4xw311/thinkact/config"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/llm"
	"github.com/m4xw311/thinkact/logging"
	"github.com/m4xw311/thinkact/metrics"
	"github.com/m4xw311/thinkact/parser"
	"github.com/m4xw311/thinkact/prompt"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/steplog"
	"github.com/m4xw311/thinkact/tools"
	"github.com/m4xw311/thinkact/tools/mcp"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	session     string
	resume      string
	provider    string
	model       string
	maxTurns    int
	temperature float64
	acp         bool
	trace       bool
	verbose     bool
	metricsAddr string
	stepDB      string
	configPath  string
	logLevel    string
	logFormat   string
	sessionDir  string
	prompt      string

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("thinkact", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.session, "session", "", "Session name to create")
	fs.StringVar(&o.resume, "resume", "", "Resume a session by name")
	fs.StringVar(&o.provider, "provider", "", "Model provider: anthropic, google, openai, xai, bedrock, ollama or mock")
	fs.StringVar(&o.model, "model", "", "Model name (defaults to the provider's default)")
	fs.IntVar(&o.maxTurns, "max-turns", 0, "Maximum number of actions per request")
	fs.Float64Var(&o.temperature, "temperature", agent.DefaultTemperature, "Sampling temperature")
	fs.BoolVar(&o.acp, "acp", false, "Serve the Agent Client Protocol over stdio")
	fs.BoolVar(&o.trace, "trace", false, "Write debug logs to acp.trace to troubleshoot issues")
	fs.BoolVar(&o.verbose, "v", false, "Print action arguments and observations")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&o.stepDB, "step-db", "", "Record agent steps in this SQLite database")
	fs.StringVar(&o.configPath, "config", "", "Additional configuration file")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&o.prompt, "prompt", "", "Answer this prompt once and exit")
	fs.StringVar(&o.sessionDir, "session-dir", session.DefaultDir, "Directory holding session files")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, fs.Args(), nil
}

// apply overlays explicitly set flags onto the loaded configuration.
func (o *options) apply(cfg *config.Config) error {
	if o.provider != "" {
		cfg.Provider = o.provider
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	if o.set["max-turns"] {
		cfg.MaxTurns = o.maxTurns
	}
	if o.set["temperature"] {
		cfg.Temperature = o.temperature
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
	if o.stepDB != "" {
		cfg.StepLog.SQLitePath = o.stepDB
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %+v\n", err)
		return 1
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %+v\n", err)
		return 1
	}

	logCfg := logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: stderr}
	if opts.trace {
		traceFile, err := os.OpenFile("acp.trace", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error opening trace file: %+v\n", err)
			return 1
		}
		defer traceFile.Close()
		logCfg = logging.Config{Level: "debug", Format: "json", Output: traceFile, AddSource: true}
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid logging configuration: %+v\n", err)
		return 1
	}

	if opts.acp {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	base, cleanup, err := buildAgent(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing agent: %+v\n", err)
		return 1
	}
	defer cleanup()

	if opts.acp {
		server := acp.NewServer(base, opts.sessionDir, logger)
		if err := server.Serve(ctx, stdin, stdout); err != nil {
			fmt.Fprintf(stderr, "ACP mode failed: %+v\n", err)
			return 1
		}
		return 0
	}

	sess, err := openSession(opts, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "%+v\n", err)
		return 1
	}

	term := terminal.New(base, sess)
	term.In = stdin
	term.Out = stdout
	term.Verbose = opts.verbose
	if opts.prompt != "" {
		if _, err := term.Ask(ctx, opts.prompt); err != nil {
			fmt.Fprintf(stderr, "Agent stopped with an error: %+v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintln(stdout, "Thinkact is ready. Type your prompt.")
	if err := term.Run(ctx, strings.Join(rest, " ")); err != nil {
		fmt.Fprintf(stderr, "Agent stopped with an error: %+v\n", err)
		return 1
	}
	return 0
}

func openSession(opts *options, stdout io.Writer) (*session.Session, error) {
	if opts.resume != "" {
		sess, err := session.Load(opts.sessionDir, opts.resume)
		if err != nil {
			return nil, errors.Wrapf(err, "Error resuming session '%s'", opts.resume)
		}
		fmt.Fprintf(stdout, "Resuming session: %s\n", opts.resume)
		return sess, nil
	}

	name := opts.session
	if name == "" {
		name = defaultSessionName()
	}
	sess, err := session.New(opts.sessionDir, name)
	if err != nil {
		return nil, errors.Wrapf(err, "Error creating session '%s'", name)
	}
	fmt.Fprintf(stdout, "Starting new session: %s\n", name)
	return sess, nil
}

// buildAgent wires providers, actions, prompt and step logging into the
// configuration every query's agent is created from.
func buildAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Config, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	recorder := metrics.NewRecorder()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: recorder.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		closers = append(closers, func() { _ = srv.Close() })
		logger.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
	}

	llmOpts := llm.Options{Logger: logger, Recorder: recorder}
	primary, err := llm.NewProvider(ctx, cfg.Provider, cfg.Model, llm.EnvCredentials{}, llmOpts)
	if err != nil {
		return agent.Config{}, cleanup, err
	}
	retrier := llm.NewRetrier(llm.RetryConfig{
		MaxRetries:     cfg.Retry.MaxRetries,
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		EnableFallback: cfg.Retry.EnableFallback,
	}, logger, recorder)
	chain := llm.NewFallbackChain(primary, retrier, llm.NewFactory(llm.EnvCredentials{}, llmOpts), logger, recorder)

	clients, mcpActions := mcp.StartAll(ctx, cfg.MCPServers, logger)
	closers = append(closers, func() {
		for _, c := range clients {
			_ = c.Stop()
		}
	})
	registry, err := tools.NewRegistry(append(tools.Builtin(cfg), mcpActions...)...)
	if err != nil {
		return agent.Config{}, cleanup, err
	}

	promptOpts := prompt.Options{
		Context:      cfg.Prompt.Context,
		Instructions: cfg.Prompt.Instructions,
		Actions:      registry.Actions(),
		Caching:      cfg.Prompt.Caching && prompt.CachingSupported(cfg.Provider),
		CacheTTL:     cfg.Prompt.CacheTTL,
	}
	if strings.TrimSpace(cfg.Prompt.Examples) != "" {
		promptOpts.Examples = []string{cfg.Prompt.Examples}
	}

	steps := steplog.Multi{steplog.NewSlogLogger(logger, slog.LevelDebug)}
	if cfg.StepLog.SQLitePath != "" {
		if dir := filepath.Dir(cfg.StepLog.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return agent.Config{}, cleanup, errors.Wrapf(err, "could not create step log directory")
			}
		}
		store, err := steplog.OpenSQLite(ctx, cfg.StepLog.SQLitePath, logger)
		if err != nil {
			return agent.Config{}, cleanup, err
		}
		closers = append(closers, func() { _ = store.Close() })
		steps = append(steps, store)
	}

	return agent.Config{
		Name:         "thinkact",
		Model:        chain,
		Registry:     registry,
		Parser:       parser.New(logger),
		SystemPrompt: prompt.Build(promptOpts),
		Temperature:  cfg.Temperature,
		MaxTurns:     cfg.MaxTurns,
		Steps:        steps,
		Logger:       logger,
		Metrics:      recorder,
	}, cleanup, nil
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "thinkact"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
