package main

import (
	"context"
	"time"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/events"
	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/preview"
	"github.com/dropgate/dropgate/routes"
	"github.com/dropgate/dropgate/store"
	"github.com/dropgate/dropgate/sweeper"
	"github.com/dropgate/dropgate/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.Grant{}, &models.ArchivedGrant{}, &models.DownloadEvent{})

	blobs, err := store.NewS3BlobStore(cfg)
	if err != nil {
		utils.Sugar.Fatalf("blob store init failed: %v", err)
	}
	kv, err := store.NewRedisKV(cfg)
	if err != nil {
		// the cache is advisory; keep serving from the ledger alone
		utils.Sugar.Warnf("redis unavailable, continuing degraded: %v", err)
	}

	ledger := store.NewGormLedger(db)
	cache := store.NewGrantCache(kv, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	policy := delivery.NewPolicy(cfg.SensitiveExtensions, cfg.PreviewMimePrefixes)
	engine := delivery.NewEngine(ledger, blobs, cache, policy, utils.Sugar)
	broker := preview.NewBroker(kv, cfg.PreviewSecret, time.Duration(cfg.PreviewTTLSeconds)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := events.NewRecorder(ledger, utils.Sugar, 0)
	recorder.Start(ctx)
	defer recorder.Close()
	sink := events.Multi(recorder, events.NewLogSink(utils.Sugar))

	sw := sweeper.New(engine, ledger, sink, utils.Sugar, time.Duration(cfg.RetentionHours)*time.Hour)
	go sw.Run(ctx, time.Duration(cfg.SweepIntervalSeconds)*time.Second)

	r := routes.SetupRouter(routes.Deps{
		Engine:  engine,
		Ledger:  ledger,
		Blobs:   blobs,
		Cache:   cache,
		Policy:  policy,
		Broker:  broker,
		Sweeper: sw,
		Sink:    sink,
		Log:     utils.Sugar,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
