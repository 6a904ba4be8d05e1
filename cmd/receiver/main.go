// Command receiver runs the game-side half of the protocol: it either
// dials a sender (receiver client role) or listens for one (receiver
// server role), per the "role" field in its config file.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crowdlink/internal/config"
	"crowdlink/internal/diagnostics"
	"crowdlink/internal/receiver"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	diagAddr := flag.String("diagnostics-addr", ":9090", "address for the /healthz and /metrics HTTP surface")
	flag.Parse()

	log := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	applyLogLevel(cfg.Log.Level)

	r := receiver.New(receiver.Config{
		Addr:         cfg.Addr(),
		Password:     cfg.Receiver.Password,
		ServerRole:   cfg.Role == config.RoleReceiverServer,
		AsyncWorkers: cfg.Receiver.AsyncWorkers,
		LoginLimiter: rate.NewLimiter(rate.Limit(cfg.Receiver.LoginRatePerSecond), cfg.Receiver.LoginRateBurst),
	}, log)

	if err := r.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start receiver")
	}
	log.Info().Str("addr", cfg.Addr()).Bool("server_role", cfg.Role == config.RoleReceiverServer).Msg("receiver started")

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
	r.Shutdown()
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
