package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kafitramarna/TransisiDB/internal/circuitbreaker"
	"github.com/kafitramarna/TransisiDB/internal/config"
	"github.com/kafitramarna/TransisiDB/internal/logger"
	"github.com/kafitramarna/TransisiDB/internal/metrics"
	"github.com/kafitramarna/TransisiDB/internal/mysqlconn"
	"github.com/kafitramarna/TransisiDB/internal/pool"
	"github.com/kafitramarna/TransisiDB/internal/proxy"
	"github.com/kafitramarna/TransisiDB/internal/replica"
	"github.com/kafitramarna/TransisiDB/internal/tls"

	"github.com/kafitramarna/TransisiDB/internal/api"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()
	printBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level)
	logger.Info("poold starting", "version", version, "build_time", buildTime)
	logger.Info("configuration loaded", "path", *configPath)

	tlsManager, err := tls.NewManager(
		&tls.Config{
			Enabled:    cfg.TLS.Client.Enabled,
			CertFile:   cfg.TLS.Client.CertFile,
			KeyFile:    cfg.TLS.Client.KeyFile,
			CAFile:     cfg.TLS.Client.CAFile,
			ServerName: cfg.TLS.Client.ServerName,
			SkipVerify: cfg.TLS.Client.SkipVerify,
		},
		&tls.Config{
			Enabled:    cfg.TLS.Backend.Enabled,
			CertFile:   cfg.TLS.Backend.CertFile,
			KeyFile:    cfg.TLS.Backend.KeyFile,
			CAFile:     cfg.TLS.Backend.CAFile,
			ServerName: cfg.TLS.Backend.ServerName,
			SkipVerify: cfg.TLS.Backend.SkipVerify,
		},
	)
	if err != nil {
		log.Fatalf("Failed to initialize TLS manager: %v", err)
	}

	replicaCfg := &replica.Config{
		Primary: replica.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
		},
		Strategy: cfg.Replica.Strategy,
	}
	if cfg.Replica.Enabled {
		for _, r := range cfg.Replica.Replicas {
			replicaCfg.Replicas = append(replicaCfg.Replicas, replica.DatabaseConfig{
				Host:     r.Host,
				Port:     r.Port,
				User:     r.User,
				Password: r.Password,
				Database: r.Database,
			})
		}
	}

	router, err := replica.NewRouter(replicaCfg, tlsManager.GetBackendConfig())
	if err != nil {
		log.Fatalf("Failed to initialize replica router: %v", err)
	}

	connector := mysqlconn.New(router, circuitbreaker.DefaultCircuitBreakerConfig(), logger.With("component", "mysqlconn"))

	p := pool.New[*mysqlconn.Conn](connector, pool.Config{
		MaxCapacity:        cfg.Pool.MaxCapacity,
		MinIdleTimeForGC:   cfg.Pool.MinIdleTimeBeforeGC,
		AdjustmentInterval: cfg.Pool.AdjustmentInterval,
		GCInterval:         cfg.Pool.GCInterval,
		DemandHalfLife:     cfg.Pool.DemandHalfLife,
		Logger:             logger.With("component", "pool"),
	})

	proxyServer := proxy.NewServer(cfg, p)

	var redisStore *config.RedisStore
	if store, err := config.NewRedisStore(&cfg.Redis); err != nil {
		logger.Warn("redis connection failed, admin config endpoints will be limited", "error", err)
	} else {
		redisStore = store
	}
	apiServer := api.NewServer(&cfg.API, redisStore, p, tlsManager, router)

	snapshotTicker := time.NewTicker(cfg.Pool.AdjustmentInterval * 10)
	defer snapshotTicker.Stop()
	snapshotDone := make(chan struct{})
	go reportPoolSnapshots(p, snapshotTicker, snapshotDone)

	go func() {
		logger.Info("proxy listening", "host", cfg.Proxy.Host, "port", cfg.Proxy.Port)
		if err := proxyServer.Start(); err != nil {
			logger.Error("proxy server stopped with error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		logger.Info("admin API listening", "host", cfg.API.Host, "port", cfg.API.Port)
		if err := apiServer.Start(); err != nil {
			logger.Error("API server stopped with error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received, draining")

	close(snapshotDone)
	proxyServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", "error", err)
	}
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown did not complete cleanly", "error", err)
	}

	logger.Info("poold shutdown complete")
}

// reportPoolSnapshots periodically pushes the pool's metrics snapshot into
// Prometheus, the way the source's host runtime polls its metrics contract
// for external observability (spec.md §6).
func reportPoolSnapshots(p *pool.Pool[*mysqlconn.Conn], ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := p.Metrics()
			blocks := make([]metrics.PoolBlockState, 0, len(snap.Blocks))
			for name, b := range snap.Blocks {
				blocks = append(blocks, metrics.PoolBlockState{
					DB:     name,
					Total:  float64(b.Counts.Total()),
					Idle:   float64(b.Counts.Get(pool.VarIdle)),
					Active: float64(b.Counts.Get(pool.VarActive)),
					Quota:  float64(b.Quota),
				})
			}
			reconnectsPerQuery := 0.0
			if snap.AllTime.Total() > 0 {
				reconnectsPerQuery = float64(snap.AllTime.Get(pool.VarReconnecting)) / float64(snap.AllTime.Total())
			}
			metrics.RecordPoolSnapshot(blocks, reconnectsPerQuery)
		}
	}
}

func printBanner() {
	banner := `
╔════════════════════════════════════════════════════════════════╗
║                            poold                                ║
║        Adaptive connection pool daemon for MySQL proxying       ║
║                                                                  ║
║  Version: %-20s Build: %-20s ║
╚════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, version, buildTime)
}
