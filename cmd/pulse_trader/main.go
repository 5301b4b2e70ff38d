package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"pulse_trading/internal/broker"
	alpacagw "pulse_trading/internal/broker/alpaca"
	"pulse_trading/internal/config"
	"pulse_trading/internal/health"
	"pulse_trading/internal/logger"
	"pulse_trading/internal/models"
	"pulse_trading/internal/orchestrator"
	"pulse_trading/internal/order"
	"pulse_trading/internal/pdt"
	"pulse_trading/internal/risk"
	"pulse_trading/internal/storage"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)

	gateway := alpacagw.NewGateway()
	retry := broker.NewRetryPolicy()

	riskMgr, err := risk.NewManager(risk.Config{
		ReservePct: decimal.NewFromFloat(cfg.ReservePct),
		MaxPositions: map[models.AssetClass]int{
			models.AssetStock:  cfg.MaxStockPositions,
			models.AssetETF:    cfg.MaxETFPositions,
			models.AssetCrypto: cfg.MaxCryptoPositions,
		},
		MilestoneFloorsEnabled: cfg.MilestoneFloorsEnabled,
		FloorPct:               decimal.NewFromFloat(cfg.MilestoneFloorPct),
		FloorBufferPct:         decimal.NewFromFloat(cfg.MilestoneFloorBuffer),
		APIErrorThreshold:      cfg.APIErrorThreshold,
		TriggerOnFloorApproach: cfg.TriggerOnFloorApproach,
		TriggerOnDrawdown:      cfg.TriggerOnDrawdown,
		TriggerOnAPIErrors:     cfg.TriggerOnAPIErrors,
	})
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	pdtMgr := pdt.NewManager(pdt.Config{
		Enabled:                  cfg.PDTEnabled,
		MinHoldDays:              cfg.MinHoldDays,
		RemoveHoldAboveThreshold: cfg.RemoveHoldAboveThreshold,
	})

	keys := order.NewKeyGenerator(cfg.IdempotencyPrefix)
	orders := order.NewManager(gateway, retry, riskMgr, pdtMgr, keys)

	monitor := health.NewMonitor(gateway, health.Config{
		CheckInterval:         time.Duration(cfg.HealthCheckIntervalSec) * time.Second,
		ErrorThreshold:        cfg.HealthErrorThreshold,
		SlowResponseThreshold: time.Duration(cfg.SlowResponseThresholdSec) * time.Second,
	})

	store := storage.NewStore(cfg.StateFile)

	orch := orchestrator.New(gateway, retry, orders, riskMgr, pdtMgr, monitor, store, keys,
		orchestrator.Config{
			DisableEntries: cfg.PreserveDisableEntries,
			CloseLosers:    cfg.PreserveCloseLosers,
			TightenStops:   cfg.PreserveTightenStops,
			PollInterval:   time.Duration(cfg.PollIntervalSec) * time.Second,
			KillSwitchFile: cfg.KillSwitchFile,
		})
	monitor.SetPreservationCallback(orch.EnterPreservationMode)

	orch.RestoreState()

	var account *models.Account
	err = retry.Do("get_account", func() error {
		var e error
		account, e = gateway.GetAccount()
		return e
	})
	if err != nil {
		log.Fatalf("CRITICAL: Cannot reach the broker: %v", err)
	}
	orch.StartupBanner(account)

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("📊 Metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.Printf("❌ Metrics server stopped: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor.Start()
	defer monitor.Stop()

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("❌ Main loop exited with error: %v", err)
	}
	log.Println("👋 PulseTrader stopped")
}
