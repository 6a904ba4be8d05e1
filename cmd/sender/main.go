// Command sender runs the counterparty half of the protocol: it either
// dials a receiver (sender client role) or listens for one (sender
// server role), per the "sender.server_role" field in its config file.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crowdlink/internal/config"
	"crowdlink/internal/diagnostics"
	"crowdlink/internal/sender"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	diagAddr := flag.String("diagnostics-addr", ":9091", "address for the /healthz and /metrics HTTP surface")
	flag.Parse()

	log := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	applyLogLevel(cfg.Log.Level)

	s := sender.NewSender(sender.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Sender.Password,
		ServerRole: cfg.Sender.ServerRole,
	}, sender.Config{
		InitialResponseTimeout: cfg.Sender.InitialResponseTimeout,
		MaxRetries:             cfg.Sender.MaxRetries,
	}, log)

	if err := s.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start sender")
	}
	log.Info().Str("addr", cfg.Addr()).Bool("server_role", cfg.Sender.ServerRole).Msg("sender started")

	shuttingDown := false
	diag := diagnostics.NewServer(*diagAddr, func() bool { return !shuttingDown }, log)
	go func() {
		if err := diag.Start(); err != nil {
			log.Debug().Err(err).Msg("diagnostics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	shuttingDown = true
	s.Shutdown()
	_ = diag.Shutdown()
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func applyLogLevel(level string) {
	if level == "" {
		return
	}
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(parsed)
	}
}
