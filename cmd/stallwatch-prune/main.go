package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"stallwatch/internal/modkit"
	"stallwatch/internal/modkit/module"
	"stallwatch/internal/platform/config"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/platform/store"

	sinkdomain "stallwatch/internal/services/sink/domain"
	sinkmod "stallwatch/internal/services/sink/module"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	root := config.New()

	var (
		fData   = flag.String("data", root.MayString("DATA_DIR", "data"), "root of the per lot directories")
		fDryRun = flag.Bool("dry-run", false, "report what would be removed without removing it")
		fLot    = flag.Int64("lot", 0, "only sweep this lot id (0 sweeps every lot)")
	)
	flag.Parse()

	l := logger.Get()
	if *fLot < 0 {
		l.Fatal().Int64("lot", *fLot).Msg("-lot must be positive")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.ConfigFromEnv(root, "stallwatch", "prune"), store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	sink, err := sinkmod.New(modkit.FromStore(st, root, *fData))
	if err != nil {
		l.Panic().Err(err).Msg("invalid retention policy")
	}
	pruner := module.MustPortsOf[sinkmod.Ports](sink).Pruner

	rep, err := pruner.Prune(ctx, sinkdomain.PruneOptions{LotID: *fLot, DryRun: *fDryRun})
	ev := l.Info()
	if err != nil {
		ev = l.Error().Err(err)
	}
	if *fDryRun {
		ev = ev.Strs("selected", rep.Selected)
	}
	ev.Bool("dry_run", *fDryRun).
		Int("lots", rep.Lots).
		Int("files", rep.Files).
		Int64("bytes", rep.Bytes).
		Int64("rows", rep.Rows).
		Msg("retention sweep")
	return err
}
