package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-patient-auth/internal/config"
	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/internal/logging"
)

func main() {
	c := config.New()
	logging.Setup(c.IsDev(), c.GetLogLevel())
	displayAppname(c.GetAppName())

	for {
		err := run(c)
		if err == nil {
			break
		}
		if errors.KindOf(err) == errors.ConfigurationError {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		log.Error().Err(err).Msg("server failed, restarting")
		time.Sleep(1 * time.Second)
	}
	log.Info().Msg("server stopped")
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = stderrors.New("panic recovered")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	app, err := newApp(ctx, c)
	cancel()
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              c.GetPort(),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(server) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
