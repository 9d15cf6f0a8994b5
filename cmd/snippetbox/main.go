package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/snippetbox/config"
	"github.com/isdmx/snippetbox/logger"
	"github.com/isdmx/snippetbox/mcpserver"
	"github.com/isdmx/snippetbox/policy"
	"github.com/isdmx/snippetbox/sandbox"
)

// errExecutionFailed makes "run" exit non-zero after printing a failed result.
var errExecutionFailed = errors.New("execution failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errExecutionFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "snippetbox",
		Short:         "Sandboxed snippet execution server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		runCmd(),
		policyCmd(),
		workerCmd(),
	)
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the executor over MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := newApp()
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newApp() *fx.App {
	return fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			policy.NewFromConfig,
			fx.Annotate(sandbox.NewFromConfig, fx.As(new(sandbox.SnippetExecutor))),
			mcpserver.New,
		),

		fx.Invoke(
			registerMetricsServer,
			registerTransport,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

// registerTransport serves MCP in the background and stops the app once the
// transport returns, which for stdio means the client went away.
func registerTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, server *mcpserver.MCPServer, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.Serve(); err != nil {
					log.Error("MCP server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
	})
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	if cfg.Server.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func runCmd() *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Execute one snippet and print the result as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSnippet(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			executor, cleanup, err := newExecutor()
			if err != nil {
				return err
			}
			defer cleanup()

			result := executor.Run(cmd.Context(), code, timeout)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errExecutionFailed
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", 0, "timeout in seconds (0 uses sandbox.timeout_sec)")
	return cmd
}

func policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			pol, err := policy.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			data, err := pol.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run a single snippet request (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(sandbox.RunWorkerProcess())
		},
	}
}

// newExecutor wires the executor without fx for one-shot use.
func newExecutor() (*sandbox.Executor, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	pol, err := policy.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	executor, err := sandbox.NewFromConfig(log, cfg, pol)
	if err != nil {
		return nil, nil, err
	}
	return executor, func() { _ = log.Sync() }, nil
}

func readSnippet(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read snippet from stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read snippet: %w", err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
