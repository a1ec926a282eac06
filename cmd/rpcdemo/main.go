package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rpcdemo/internal/client"
	"rpcdemo/internal/config"
	"rpcdemo/internal/jsonrpc"
	"rpcdemo/internal/rpc"
	"rpcdemo/internal/server"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "rpcdemo",
		Short:        "Remote functions with request batching",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to config file")

	root.AddCommand(newServeCommand(&configPath), newDemoCommand(&configPath))
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := setupLogger(cfg.LogLevel)
			logger.Info().
				Str("config", *configPath).
				Str("host", cfg.Host).
				Int("rpcPort", cfg.RPCPort).
				Int("wsPort", cfg.WSPort).
				Float64("delayScale", cfg.GetDelayScale()).
				Msg("starting rpcdemo")

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			sig := <-quit

			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			return srv.Stop(ctx)
		},
	}
}

func newDemoCommand(configPath *string) *cobra.Command {
	var url string
	var useWS bool
	var retries int

	demo := &cobra.Command{
		Use:   "demo",
		Short: "Run demo scenarios against a running server",
	}
	demo.PersistentFlags().StringVar(&url, "url", "", "server URL (defaults to the configured host and port)")
	demo.PersistentFlags().BoolVar(&useWS, "ws", false, "use the WebSocket endpoint")
	demo.PersistentFlags().IntVar(&retries, "retries", 3, "attempts per HTTP request")

	// connect builds a client for the selected transport
	connect := func(ctx context.Context) (*client.Client, zerolog.Logger, error) {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
		}
		logger := setupLogger(cfg.LogLevel)

		target := url
		if useWS {
			if target == "" {
				target = fmt.Sprintf("ws://%s:%d", cfg.Host, cfg.WSPort)
			}
			transport, err := client.DialWS(ctx, target, logger)
			if err != nil {
				return nil, logger, err
			}
			return client.New(transport, logger), logger, nil
		}

		if target == "" {
			target = fmt.Sprintf("http://%s:%d%s", cfg.Host, cfg.RPCPort, rpc.PathRPC)
		}
		transport := client.NewRetryTransport(
			client.NewHTTPTransport(target, cfg.GetRequestTimeoutDuration(), logger),
			client.RetryConfig{MaxAttempts: retries, Backoff: 200 * time.Millisecond},
			logger,
		)
		return client.New(transport, logger), logger, nil
	}

	demo.AddCommand(
		&cobra.Command{
			Use:   "waterfall",
			Short: "Run the five dependent queries in sequence",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				c, logger, err := connect(ctx)
				if err != nil {
					return err
				}
				defer c.Close()

				res, err := c.Waterfall(ctx)
				if err != nil {
					return err
				}
				logger.Info().Dur("took", res.Took).Msg("waterfall completed")
				return printJSON(cmd, res)
			},
		},
		&cobra.Command{
			Use:   "users [id...]",
			Short: "Fetch users and their posts in one batch",
			RunE: func(cmd *cobra.Command, args []string) error {
				ids := args
				if len(ids) == 0 {
					ids = []string{"1", "2", "3", "admin"}
				}

				ctx := cmd.Context()
				c, logger, err := connect(ctx)
				if err != nil {
					return err
				}
				defer c.Close()

				start := time.Now()
				users, err := c.Users(ctx, ids)
				if err != nil {
					return err
				}
				logger.Info().
					Int("users", len(users)).
					Dur("took", time.Since(start)).
					Msg("users fetched")
				return printJSON(cmd, users)
			},
		},
		&cobra.Command{
			Use:   "call <function> [params-json]",
			Short: "Call a single remote function",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var params interface{}
				if len(args) == 2 {
					if !json.Valid([]byte(args[1])) {
						return fmt.Errorf("params must be valid JSON")
					}
					params = json.RawMessage(args[1])
				}

				ctx := cmd.Context()
				c, logger, err := connect(ctx)
				if err != nil {
					return err
				}
				defer c.Close()

				var result json.RawMessage
				err = c.Call(ctx, args[0], params, &result)
				var rpcErr *jsonrpc.Error
				if errors.As(err, &rpcErr) {
					var data interface{}
					if rpcErr.DecodeData(&data) == nil && data != nil {
						logger.Error().
							Int("code", rpcErr.Code).
							Interface("data", data).
							Msg(rpcErr.Message)
					}
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			},
		},
	)

	return demo
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
