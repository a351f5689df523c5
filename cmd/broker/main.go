// Command broker runs the hydra-router broker process: the `start`
// subcommand binds a router endpoint and serves peers until it receives
// SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/NadimGhaznavi/hydra-router/internal/broker"
	"github.com/NadimGhaznavi/hydra-router/internal/config"
	"github.com/NadimGhaznavi/hydra-router/internal/transport/zmqtransport"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: broker start [--address HOST] [--port N] [--log-level LEVEL]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		if err := runStart(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "broker: "+err.Error())
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	address := fs.String("address", "127.0.0.1", "bind address")
	port := fs.Int("port", 5556, "bind port")
	logLevel := fs.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING, ERROR")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.DefaultBrokerConfig()
	cfg.Address = *address
	cfg.Port = *port
	cfg.LogLevel = *logLevel
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(parseLevel(cfg.LogLevel))

	t := zmqtransport.NewRouter()
	b := broker.New(cfg, t, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	return b.Run(ctx)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
