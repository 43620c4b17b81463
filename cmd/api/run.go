package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voting-ledger/api"
	"voting-ledger/blockchain/ledger"
	"voting-ledger/config"
	"voting-ledger/logging"
	"voting-ledger/registry"
	"voting-ledger/service"
	"voting-ledger/storage"
)

const (
	metricsNamespace = "voting"
	shutdownTimeout  = 30 * time.Second
)

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	log := logging.Module("main")

	chainStore, err := storage.New(cfg.StorageDir, cfg.SnapshotKeep)
	if err != nil {
		return errors.Wrap(err, "opening chain storage")
	}
	voterStore, err := storage.NewVoterStorage(cfg.StorageDir)
	if err != nil {
		return errors.Wrap(err, "opening voter storage")
	}

	l, err := openLedger(chainStore, cfg)
	if err != nil {
		return err
	}

	voters, err := voterStore.LoadVoters()
	if err != nil {
		return errors.Wrap(err, "loading voters")
	}
	reg, err := registry.New(cfg.AdminKey, voters, voterStore)
	if err != nil {
		return errors.Wrap(err, "creating registry")
	}

	metrics := service.PrometheusMetrics(metricsNamespace)
	vs := service.NewVotingService(l, reg, service.Options{
		BatchSize:  cfg.BatchSize,
		Difficulty: cfg.Difficulty,
		Session:    service.NewVotingSession(cfg.SessionDuration),
		Store:      chainStore,
		Metrics:    metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := service.NewQueueProcessor(vs, cfg.QueueSize, cfg.Workers, metrics)
	queue.Start(ctx)

	server := api.NewServer(vs, queue, api.ServerOptions{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	log.WithFields(logging.Fields{
		"blocks":     l.Len(),
		"voters":     reg.Count(),
		"difficulty": cfg.Difficulty,
	}).Info("ledger ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		queue.Stop()

		if ferr := vs.Flush(shutdownCtx); ferr != nil {
			log.WithError(ferr).Error("flushing pending votes")
		}
		if serr := chainStore.SaveChain(vs.Chain()); serr != nil {
			log.WithError(serr).Error("saving final chain snapshot")
		}
		return err
	})

	return g.Wait()
}

// openLedger restores the newest snapshot in store, or starts a fresh chain
// when there is none. A snapshot that fails validation is an error.
func openLedger(store *storage.BlockchainStorage, cfg *config.Config) (*ledger.Ledger, error) {
	opts := []ledger.Option{ledger.WithMaxPending(cfg.MaxPending)}

	blocks, err := store.LoadLatestChain()
	if err != nil {
		return nil, errors.Wrap(err, "loading chain snapshot")
	}
	if blocks == nil {
		return ledger.New(cfg.Difficulty, opts...), nil
	}

	l, err := ledger.Restore(blocks, cfg.Difficulty, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot in %s", store.Dir())
	}
	return l, nil
}
