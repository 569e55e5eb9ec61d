package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/landwatch/landwatch/internal/buildinfo"
	"github.com/landwatch/landwatch/internal/config"
	"github.com/landwatch/landwatch/internal/store"
)

const shutdownGrace = 5 * time.Second

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("landwatch %s (%s) starting", buildinfo.Version, buildinfo.GitCommit)

	st, err := store.NewRedis(envCfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	app, err := newApp(envCfg, st)
	if err != nil {
		_ = st.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	serverErrCh := app.start()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	app.shutdown(ctx)

	if err := st.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}
	log.Println("Shutdown complete")

	if runtimeErr != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", runtimeErr)
		os.Exit(1)
	}
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	}
}

func reportServerErr(ch chan<- error, name string, err error) {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	wrapped := fmt.Errorf("%s: %w", name, err)
	select {
	case ch <- wrapped:
	default:
	}
}
