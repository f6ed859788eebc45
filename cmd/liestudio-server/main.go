// Command liestudio-server hosts the LIEStudio realm: the WAMP router with
// the liestudio.user.* and liestudio.logger.* procedures, the guarded views
// and the metrics endpoint.
//
// Configuration comes from LIESTUDIO_* environment variables and an
// optional .env file. Without LIESTUDIO_REDIS_ADDR the server runs against
// an in-process Redis; without LIESTUDIO_POSTGRES_DSN users live in memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/liestudio/studio/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "liestudio-server:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("liestudio-server", pflag.ContinueOnError)
	var (
		listen  = flags.StringP("listen", "l", "", "listen address (overrides LIESTUDIO_LISTEN_ADDRESS)")
		dev     = flags.Bool("dev", false, "force development mode: generated secrets, in-process redis")
		verbose = flags.BoolP("verbose", "v", false, "log at debug level")
		jsonLog = flags.Bool("json", false, "log JSON instead of console output")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log := zerolog.New(out).With().Timestamp().Logger()
	if *jsonLog {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *dev {
		cfg.Environment = "development"
		cfg.RedisAddr = ""
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}
	if *verbose || !cfg.IsEnvProduction() {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("environment", cfg.Environment).Msg("starting up...")
	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddress).Str("realm", cfg.Realm).Msg("listening")
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
