// Command mynosqlserver runs the in-memory NoSQL document server:
// REST, gRPC and the TCP change-feed, backed by an asynchronous
// persistence loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MyJetTools/my-no-sql-server-sub000/api"
	"github.com/MyJetTools/my-no-sql-server-sub000/app"
	"github.com/MyJetTools/my-no-sql-server-sub000/grpcapi"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
	"github.com/MyJetTools/my-no-sql-server-sub000/settings"
	"github.com/MyJetTools/my-no-sql-server-sub000/tcpserver"

	// Storage backends register themselves on import.
	_ "github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/azureblob"
	_ "github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/bboltbackend"
	_ "github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/fsbackend"
	_ "github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/memory"
	_ "github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/sqlitebackend"
)

const shutdownGrace = 30 * time.Second

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := run(); err != nil {
		log.WithError(err).Error("server failed")
		os.Exit(1)
	}
}

func buildBackend(cfg settings.Settings) (storage.Backend, error) {
	kind, destination := cfg.Backend()
	log.WithFields(log.Fields{
		"backend":     string(kind),
		"destination": destination,
	}).Info("selected persistence backend")

	backend, err := storage.Create(string(kind), destination)
	if err != nil {
		return nil, err
	}
	backend = storage.WithRetry(backend, storage.DefaultRetryBackoff, 0)
	if cfg.CompressData {
		backend = storage.WithCompression(backend)
	}
	return backend, nil
}

func run() error {
	cfg, err := settings.Load()
	if err != nil {
		return err
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	a := app.New(cfg, backend)

	loadStarted := time.Now()
	err = persistence.Load(context.Background(), backend, a.DB, persistence.LoaderOptions{
		Threads:              cfg.InitTablesThreadsAmount,
		SkipBrokenPartitions: cfg.SkipBrokenPartitions,
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"tables":   a.DB.TablesCount(),
		"duration": time.Since(loadStarted),
	}).Info("tables loaded")

	a.StartDispatcher()
	a.CompleteInitialization()

	timersCtx, stopTimers := context.WithCancel(context.Background())
	defer stopTimers()
	a.StartTimers(timersCtx)

	httpServer := api.NewServer(a, fmt.Sprintf(":%d", cfg.HTTPPort))
	grpcServer := grpcapi.NewServer(a, fmt.Sprintf(":%d", cfg.GRPCPort))
	tcpServer := tcpserver.NewServer(a.Core, a.Registry)

	var group errgroup.Group
	group.Go(httpServer.Serve)
	group.Go(grpcServer.Serve)
	group.Go(func() error {
		return tcpServer.Serve(fmt.Sprintf(":%d", cfg.TCPPort))
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	sig := <-signals
	log.WithField("signal", sig.String()).Info("shutting down")

	stopTimers()
	tcpServer.Stop()
	grpcServer.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warning("http server did not stop cleanly")
	}
	if err := group.Wait(); err != nil {
		log.WithError(err).Warning("a listener exited with an error")
	}

	return a.Shutdown(shutdownCtx)
}
