package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/internal/server"
	"github.com/CK6170/forcecal-go/models"
)

func main() {
	var (
		addr   = flag.String("addr", "127.0.0.1:8080", "http listen address")
		config = flag.String("config", "", "parameters JSON file (watched for changes)")
		demo   = flag.Bool("demo", false, "use a simulated sensor")
		outDir = flag.String("out", ".", "directory for exported calibration files")
		debug  = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	p := forcecal.DefaultParameters()
	if *config != "" {
		var err error
		if p, err = forcecal.LoadParameters(*config); err != nil {
			slog.Error("server: load parameters", "path", *config, "err", err)
			os.Exit(1)
		}
	}

	level := slog.LevelInfo
	if *debug || p.DEBUG {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	srv := server.New(server.Options{
		Params:     p,
		ConfigPath: *config,
		Demo:       *demo,
		OutputDir:  *outDir,
	})
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server: listening", "addr", *addr, "demo", *demo)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if *config != "" {
		g.Go(func() error {
			return forcecal.WatchParameters(ctx, *config, func(np *models.PARAMETERS) {
				srv.SetParameters(np)
			})
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server: exited", "err", err)
		os.Exit(1)
	}
	slog.Info("server: stopped")
}
