package app

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nordlib/patron-engine/config"
	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/bookdb"
	"github.com/nordlib/patron-engine/internal/bookdb/migrations"
	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/controller"
	"github.com/nordlib/patron-engine/internal/handler"
	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/opds"
	"github.com/nordlib/patron-engine/internal/retry"
	"github.com/nordlib/patron-engine/internal/server"
	libsync "github.com/nordlib/patron-engine/internal/sync"
	"github.com/nordlib/patron-engine/internal/tasks"
	"github.com/nordlib/patron-engine/pkg/logger"
	"github.com/nordlib/patron-engine/pkg/postgres"
	"github.com/nordlib/patron-engine/pkg/validate"
	"go.uber.org/zap"
)

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "patron")
	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		log.Fatal("db init", zap.Error(err))
	}

	descs, err := loadProviders(cfg.Engine.ProvidersFile)
	if err != nil {
		log.Fatal("providers", zap.Error(err))
	}
	store := accounts.NewStore(descs)

	client := httpx.NewClient(log, cfg.Client)
	profiles := accounts.NewProfileClient(client, log)
	machine := accounts.NewMachine(client, profiles, nil, nil, log)
	resolver := accounts.NewResolver(client, accounts.NewDocumentParser(), log)

	bookDB := bookdb.NewPostgres(db, log)
	registry := books.NewRegistry()
	recon := libsync.NewReconciler(opds.NewLoader(client, log), bookDB, registry, resolver, profiles, nil, log)

	exec := tasks.NewExecutor(log, cfg.Engine.Workers)
	wrapper := retry.NewWrapper(machine, exec, log)
	ctrl := controller.New(store, machine, recon, wrapper, exec, client, bookDB, registry, log)

	h := handler.New(ctrl, registry, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.DPanic("srv.Stop", zap.Error(err))
	}
	if err = exec.Shutdown(closeCtx); err != nil {
		log.Error("executor shutdown", zap.Error(err))
	}
	db.Close()
	log.Info("Graceful shutdown finished")
}

func loadProviders(path string) ([]accounts.ProviderDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var descs []accounts.ProviderDescription
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, err
	}
	for _, d := range descs {
		if err := validate.Struct(d); err != nil {
			return nil, err
		}
	}
	return descs, nil
}
