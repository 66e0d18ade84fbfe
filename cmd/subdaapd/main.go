// Command subdaapd wires the catalog store, state store, file caches,
// Subsonic clients, synchronizers and scheduler together for every
// configured connection. It deliberately stops short of the DAAP wire
// protocol, Zeroconf advertisement and the web admin surface: those are
// external collaborators per the bridge's scope, left to the process that
// embeds this package. Grounded on catalog-api's main.go for the zap
// logger setup, HTTP server wiring and signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/basilfx/subdaap/cache"
	"github.com/basilfx/subdaap/catalogsync"
	"github.com/basilfx/subdaap/config"
	"github.com/basilfx/subdaap/database"
	"github.com/basilfx/subdaap/metrics"
	"github.com/basilfx/subdaap/provider"
	"github.com/basilfx/subdaap/scheduler"
	"github.com/basilfx/subdaap/state"
	"github.com/basilfx/subdaap/subsonic"
)

func main() {
	configPath := flag.String("config", "./subdaap.json", "path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9112", "address to serve Prometheus metrics on")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(*configPath, *metricsAddr, logger); err != nil {
		logger.Fatal("subdaapd exited with error", zap.Error(err))
	}
}

func run(configPath, metricsAddr string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := database.Open(database.Options{Path: cfg.Provider.DatabasePath})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateSchema(context.Background(), false); err != nil {
		return err
	}

	store, err := state.Open(cfg.Provider.StatePath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	sched := scheduler.New(logger)
	var jobs []scheduler.Job
	providers := make(map[string]*provider.Provider, len(cfg.Connections))

	for _, connCfg := range cfg.Connections {
		connCfg := connCfg
		connLogger := logger.With(zap.String("connection", connCfg.Name))

		client, err := subsonic.New(connCfg.URL, connCfg.Username, connCfg.Password)
		if err != nil {
			return err
		}

		itemCache, err := cache.New(cache.Options{
			Dir:     cfg.Provider.ItemCacheDir + "/" + connCfg.Name,
			MaxSize: int64(cfg.Provider.ItemCacheSizeMB) * 1024 * 1024,
		})
		if err != nil {
			return err
		}
		hit, miss, evict := metrics.HookCache(connCfg.Name + "-items")
		itemCache.OnMetrics(hit, miss, evict)

		artworkCache, err := cache.New(cache.Options{
			Dir:     cfg.Provider.ArtworkCacheDir + "/" + connCfg.Name,
			MaxSize: int64(cfg.Provider.ArtworkCacheSizeMB) * 1024 * 1024,
		})
		if err != nil {
			return err
		}
		hit, miss, evict = metrics.HookCache(connCfg.Name + "-artwork")
		artworkCache.OnMetrics(hit, miss, evict)

		manager := cache.NewManager(itemCache, artworkCache)
		prov := provider.New(connCfg.Name, client, manager, connCfg)
		providers[connCfg.Name] = prov

		databaseID, err := ensureDatabase(context.Background(), db, connCfg.Name)
		if err != nil {
			return err
		}

		identity := catalogsync.Identity{URL: connCfg.URL, Username: connCfg.Username, Password: connCfg.Password}
		syncer := catalogsync.New(db, client, connLogger, store, connCfg.Name, identity)

		runSync := func(ctx context.Context) error {
			start := time.Now()
			result, err := syncer.Sync(ctx, databaseID)
			metrics.SyncDuration.WithLabelValues(connCfg.Name).Observe(time.Since(start).Seconds())
			if err != nil {
				return err
			}
			metrics.SyncRowsChanged.WithLabelValues(connCfg.Name, "upserted").Add(
				float64(result.ArtistsUpserted + result.AlbumsUpserted + result.ItemsUpserted + result.ContainersUpserted))
			metrics.SyncRowsChanged.WithLabelValues(connCfg.Name, "removed").Add(float64(result.Removed))

			changed := result.ArtistsUpserted+result.AlbumsUpserted+result.ItemsUpserted+result.ContainersUpserted+result.Removed > 0
			if changed {
				if err := prov.PrefetchPinned(ctx, db, databaseID, connLogger); err != nil {
					connLogger.Warn("prefetch pinned items failed", zap.Error(err))
				}
			}

			store.Set(connCfg.Name+".last_sync", time.Now().Unix())
			return store.Save()
		}

		switch connCfg.Synchronization {
		case config.SyncStartup:
			jobs = append(jobs, scheduler.Job{Name: "sync-" + connCfg.Name, RunNow: true, Fn: runSync})
		case config.SyncInterval:
			jobs = append(jobs, scheduler.Job{
				Name:     "sync-" + connCfg.Name,
				RunNow:   true,
				Interval: time.Duration(connCfg.SynchronizationInterval) * time.Minute,
				Fn:       runSync,
			})
		}

		jobs = append(jobs, scheduler.Job{
			Name:     "clean-" + connCfg.Name,
			Interval: 5 * time.Minute,
			Fn: func(ctx context.Context) error {
				manager.Clean()
				return nil
			},
		})
	}

	logger.Info("providers ready", zap.Int("count", len(providers)))

	sched.Start(jobs)
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		logger.Info("serving metrics", zap.String("addr", metricsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(ctx)
}

func ensureDatabase(ctx context.Context, db *database.DB, name string) (int64, error) {
	var id int64
	err := db.QueryValue(ctx, &id, `SELECT id FROM databases WHERE name = ?`, name)
	if err == nil {
		return id, nil
	}

	return db.InsertReturningIDAutoCommit(ctx,
		`INSERT INTO databases (persistent_id, name) VALUES (?, ?)`, uuid.NewString(), name)
}
