package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polyforensic/pipeline/params"
	"github.com/polyforensic/pipeline/pkg/api"
	"github.com/polyforensic/pipeline/pkg/forensics/alertbus"
	"github.com/polyforensic/pipeline/pkg/forensics/chain"
	"github.com/polyforensic/pipeline/pkg/forensics/health"
	"github.com/polyforensic/pipeline/pkg/forensics/ingest"
	"github.com/polyforensic/pipeline/pkg/forensics/market"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
	"github.com/polyforensic/pipeline/pkg/forensics/stream"
	"github.com/polyforensic/pipeline/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/forensics.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc, err := chain.Dial(ctx, cfg.Chain.RPCURL, sugar)
	if err != nil {
		sugar.Fatalw("chain_dial_failed", "err", err)
	}
	defer cc.Close()

	decoder := &ingest.Decoder{
		BlockTimestamp: func(blockNumber int64) (int64, error) {
			return cc.GetBlockTimestamp(ctx, blockNumber)
		},
		GasPrice: nil, // gas price is not retrievable from logs alone; left unset until a receipts fetcher is wired
	}

	pebbleCache, err := market.OpenPebbleCache(cfg.Store.DBPath + ".markets")
	if err != nil {
		sugar.Fatalw("market_cache_open_failed", "err", err)
	}
	defer pebbleCache.Close()

	fetcher := market.NewCachingFetcher(market.NewGammaFetcher(""), pebbleCache)
	registry := market.NewRegistry(fetcher)
	if err := pebbleCache.LoadAll(registry); err != nil {
		sugar.Warnw("market_cache_warm_start_failed", "err", err)
	} else {
		sugar.Infow("market_cache_warm_started", "count", registry.Count())
	}

	bus := alertbus.New(sugar)

	st := store.New(cfg.Store.RingTrades, cfg.Store.RingAlerts, sugar, bus)

	durable, err := store.OpenDurableStore(cfg.Store.DBPath)
	if err != nil {
		sugar.Fatalw("durable_store_open_failed", "err", err)
	}
	defer durable.Close()

	startBlock := int64(0)
	if syncState, err := durable.LoadSyncState(); err == nil {
		startBlock = syncState.LastBlock
	}

	ctrl := stream.New(sugar, cc, decoder, registry, st, startBlock, cfg.Controller.Confirmations, nil)

	agg := health.New()

	server := api.NewServer(sugar, st, registry, agg, bus, ctrl, cc, cfg.Chain.ExchangeAddresses)

	go func() {
		if err := server.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctrl.Start(ctx, cfg.Controller.PollInterval, cfg.Controller.BlocksPerPoll, cfg.Chain.ExchangeAddresses)
	st.SetStreaming(true)
	sugar.Infow("stream_controller_started", "start_block", startBlock)

	spillTicker := time.NewTicker(cfg.Store.SpillPeriod)
	defer spillTicker.Stop()
	lastSpill := time.Now().Unix()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutdown_signal_received")
			ctrl.Stop()
			return
		case now := <-spillTicker.C:
			cutoff := lastSpill
			lastSpill = now.Unix()
			trades := st.QueryTrades(store.TradeFilter{Since: cutoff, Limit: cfg.Store.RingTrades})
			if len(trades) > 0 {
				if err := durable.SpillTrades(trades); err != nil {
					sugar.Warnw("spill_trades_failed", "err", err)
					lastSpill = cutoff
					continue
				}
			}
			alerts := st.RecentAlerts(cfg.Store.RingAlerts)
			if err := durable.SpillAlerts(alerts); err != nil {
				sugar.Warnw("spill_alerts_failed", "err", err)
			}
			if err := durable.SaveSyncState(ctrl.SyncState(), now.Unix()); err != nil {
				sugar.Warnw("spill_sync_state_failed", "err", err)
			}
		}
	}
}
