package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-agent/internal/api"
	"trading-agent/internal/events"
	"trading-agent/internal/execution"
	"trading-agent/internal/market"
	"trading-agent/internal/marketdata"
	"trading-agent/internal/risk"
	"trading-agent/internal/scheduler"
	"trading-agent/pkg/config"
	"trading-agent/pkg/db"
	"trading-agent/pkg/exchanges/binance/futures"
	"trading-agent/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputFile: cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	trading, err := config.LoadTrading(cfg.TradingConfigPath)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}

	gateway := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	}, log.Named("gateway"))
	if err := gateway.SyncTime(); err != nil {
		log.Warn("initial time sync failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(log.Named("events"))

	pipeline := marketdata.NewPipeline(gateway, database, bus, trading.Symbols, log.Named("pipeline"))
	sched := scheduler.New(trading.Intervals, pipeline.FetchAndStore, log.Named("scheduler"))

	riskEngine := risk.NewEngine(trading.Cooldown)
	paper := execution.NewPaperAdapter(gateway, trading.PaperFeeRate, trading.PaperSlippageBps, log.Named("paper"))
	live := execution.NewLiveAdapter(gateway, log.Named("live"))
	exec := execution.NewService(database, gateway, bus, riskEngine, paper, live, log.Named("execution"))

	// Price ticks keep open positions marked to market between fills.
	bus.Register(events.EventPriceTick, "position-marker", func(ctx context.Context, payload any) {
		tick, ok := payload.(events.PriceTick)
		if !ok {
			return
		}
		if err := exec.MarkPrice(ctx, tick.Symbol, tick.Price); err != nil {
			log.Warn("mark price failed", zap.String("symbol", tick.Symbol), zap.Error(err))
		}
	}, "")

	if cfg.EnablePriceFeed {
		feed := &market.Feed{
			Gateway: gateway,
			Stream:  futures.NewStreamClient(cfg.BinanceTestnet, log.Named("stream")),
			Bus:     bus,
			Symbols: trading.Symbols,
			Log:     log.Named("feed"),
		}
		feed.Start(ctx)
	}

	go reconcileLoop(ctx, database, exec, cfg.ReconcileInterval, log.Named("reconcile"))

	sched.Start()
	defer sched.Stop()

	server := api.NewServer(database, sched, exec, log.Named("api"))
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	sched.Stop()
	cancel()
	bus.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// reconcileLoop periodically aligns live accounts with exchange state.
func reconcileLoop(ctx context.Context, database *db.Database, exec *execution.Service, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			accounts, err := database.Queries().ListLiveAccounts(ctx)
			if err != nil {
				log.Error("list live accounts failed", zap.Error(err))
				continue
			}
			for _, account := range accounts {
				report, err := exec.ReconcilePositions(ctx, account)
				if err != nil {
					log.Error("reconciliation failed",
						zap.String("account", account.ID), zap.Error(err))
					continue
				}
				if len(report.Closed) > 0 || len(report.RemoteOnly) > 0 {
					log.Info("reconciliation report",
						zap.String("account", account.ID),
						zap.Strings("closed", report.Closed),
						zap.Strings("remote_only", report.RemoteOnly))
				}
			}
		}
	}
}
