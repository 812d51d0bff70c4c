// @title         Stallwatch API
// @version       0.1.0
// @description   Lot management and per stall occupancy

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stallwatch/internal/platform/config"
	"stallwatch/internal/platform/logger"
	phttp "stallwatch/internal/platform/net/http"
	"stallwatch/internal/platform/store"

	"stallwatch/internal/services/api"
)

func main() {
	root := config.New()
	apiCfg := root.Prefix("STALLWATCH_API_")

	fData := flag.String("data", root.MayString("DATA_DIR", "data"), "root of the per lot directories")
	fSwagger := flag.Bool("swagger", apiCfg.MayBool("SWAGGER", true), "serve swagger ui under /api/docs")
	fProfiler := flag.Bool("profiler", apiCfg.MayBool("PROFILER", false), "serve pprof under /debug")
	flag.Parse()

	l := logger.Get()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*fData, 0o755); err != nil {
		l.Panic().Err(err).Str("dir", *fData).Msg("data dir unusable")
	}

	st, err := store.Open(ctx, store.ConfigFromEnv(root, "stallwatch", "api"), store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	opt := api.Options{
		Config:         apiCfg,
		Store:          st,
		Logger:         l,
		DataDir:        *fData,
		EnableSwagger:  *fSwagger,
		EnableProfiler: *fProfiler,
	}
	app, err := api.Build(ctx, opt)
	if err != nil {
		l.Panic().Err(err).Msg("api build failed")
	}

	// http server (reads STALLWATCH_API_ADDR)
	srv := phttp.NewServer(apiCfg)
	app.Mount(srv.Router(), opt)

	loops := make(chan error, 1)
	go func() { loops <- app.Run(ctx) }()

	served := make(chan error, 1)
	go func() { served <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-served:
		if err != nil {
			l.Error().Err(err).Msg("http server stopped")
		}
		stop()
	case err := <-loops:
		if err != nil {
			l.Error().Err(err).Msg("background loops stopped")
		}
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Error().Err(err).Msg("http shutdown")
	}
	select {
	case <-loops:
	case <-sctx.Done():
		l.Warn().Msg("workers did not stop before shutdown deadline")
	}
	l.Info().Msg("stallwatch stopped")
}
