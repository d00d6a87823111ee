package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/m4xw311/docseek/agent"
	"github.com/m4xw311/docseek/agent/acp"
	"github.com/m4xw311/docseek/agent/terminal"
	"github.com/m4xw311/docseek/agent/wsbridge"
	"github.com/m4xw311/docseek/config"
	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/llm"
	"github.com/m4xw311/docseek/session"
	"github.com/m4xw311/docseek/tools"
	"github.com/m4xw311/docseek/tools/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.IsKind(err, errors.KindConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// app holds the global flags.
type app struct {
	sessionName string
	configPath  string
	verbose     bool
	addr        string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "docseek [prompt]",
		Short: "DocSeek - chat with your documentation",
		Long: `DocSeek is a conversational assistant for searching documentation.

Plain questions are answered by the configured language model, which may call
the documentation tool while it answers. Phrases such as "tell me about" or
"find docs on" run a search directly. Type /help in a session for commands.

Run without a subcommand to start the interactive terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.sessionName, "session", "s", "", "session name to create or resume")
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "additional config file, read after the defaults")
	rootCmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "write debug logs")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over a WebSocket",
		Long: `Starts an HTTP server with a WebSocket endpoint at /ws. Each text message
is one user turn; every event of the turn is sent back as a JSON message.
Only one client can be connected at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context(), cmd.OutOrStdout())
		},
	}
	serveCmd.Flags().StringVar(&a.addr, "addr", "localhost:8080", "listen address")

	acpCmd := &cobra.Command{
		Use:   "acp",
		Short: "Serve the session to an editor over the Agent Client Protocol",
		Long: `Speaks newline-delimited JSON-RPC on stdin and stdout, for editors such as
Zed. Nothing but protocol messages is written to stdout; logs go to the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runACP(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(serveCmd, acpCmd)

	return rootCmd
}

// runtime is everything a front end needs for one session.
type runtime struct {
	orchestrator *agent.Orchestrator
	logger       *zap.Logger
	sessionName  string
	resumed      int
}

func (r *runtime) close() {
	if err := r.orchestrator.Close(); err != nil {
		r.logger.Error("failed to save history on exit", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func (a *app) setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.E(errors.KindConfiguration, errors.Wrapf(err, "could not create data dir %s", cfg.DataDir))
	}

	logger, err := newLogger(cfg.DataDir, a.verbose)
	if err != nil {
		return nil, err
	}

	params, err := llm.ParseParams(cfg.Params)
	if err != nil {
		return nil, err
	}
	provider, err := llm.New(ctx, cfg.LLMClient, cfg.Model)
	if err != nil {
		return nil, err
	}

	name := a.sessionName
	if name == "" {
		name = defaultSessionName()
	}
	conv, err := session.Load(name, session.SessionPath(cfg.DataDir, name))
	if err != nil {
		return nil, err
	}
	library, err := session.OpenLibrary(filepath.Join(cfg.DataDir, "library.json"))
	if err != nil {
		return nil, err
	}

	o, err := agent.New(agent.Options{
		Conversation: conv,
		Library:      library,
		Provider:     provider,
		Tools:        newToolProvider(cfg, logger),
		Params:       params,
		SystemPrompt: cfg.SystemPrompt,
		SearchLimit:  cfg.Tool.SearchLimit,
		MaxToolCalls: cfg.Tool.MaxCallsPerTurn,
		Theme:        cfg.Theme,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("session started",
		zap.String("session", name),
		zap.String("llm", cfg.LLMClient),
		zap.String("model", cfg.Model),
		zap.Int("history", conv.Len()),
	)
	return &runtime{orchestrator: o, logger: logger, sessionName: name, resumed: conv.Len()}, nil
}

// newLogger writes JSON logs to <dataDir>/docseek.log so the terminal stays
// clean.
func newLogger(dataDir string, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(dataDir, "docseek.log")}
	config.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, errors.E(errors.KindConfiguration, errors.Wrapf(err, "failed to initialize logger"))
	}
	return logger, nil
}

// newToolProvider picks the tool backend for cfg. Without a command every
// tool call fails with a tool_unavailable error.
func newToolProvider(cfg *config.Config, logger *zap.Logger) tools.Provider {
	if !cfg.ToolConfigured() {
		return tools.Disabled{}
	}
	opts := tools.Options{
		Command:          cfg.Tool.Command,
		Args:             cfg.Tool.Args,
		Env:              cfg.Tool.Env,
		AllowedCommands:  cfg.Tool.AllowedCommands,
		HandshakeTimeout: cfg.Tool.HandshakeTimeout,
		CallTimeout:      cfg.Tool.CallTimeout,
		GracePeriod:      cfg.Tool.GracePeriod,
		Logger:           logger,
	}
	if cfg.Tool.Protocol == config.ProtocolMCP {
		return mcp.NewProvider(opts, cfg.Tool.Capabilities)
	}
	return tools.NewSupervisor(opts)
}

func (a *app) runChat(ctx context.Context, in io.Reader, out io.Writer, initialPrompt string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	rt, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	interrupts := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				select {
				case interrupts <- struct{}{}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	banner := fmt.Sprintf("DocSeek session %s. Type /help for commands, /exit to quit.", rt.sessionName)
	if rt.resumed > 0 {
		banner = fmt.Sprintf("DocSeek session %s (%d messages). Type /help for commands, /exit to quit.", rt.sessionName, rt.resumed)
	}
	term := terminal.New(rt.orchestrator, terminal.Options{
		In:        in,
		Out:       out,
		Interrupt: interrupts,
		Banner:    banner,
	})
	return term.Run(ctx, initialPrompt)
}

func (a *app) runServe(ctx context.Context, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           wsbridge.New(rt.orchestrator, rt.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(out, "WebSocket server running on ws://%s/ws\n", a.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) runACP(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	return acp.Run(ctx, rt.orchestrator, in, out, rt.logger)
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "docseek"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
