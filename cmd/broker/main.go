// Copyright 2025 The kafbridge Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamgate/kafbridge/pkg/broker"
	"github.com/streamgate/kafbridge/pkg/cache"
	"github.com/streamgate/kafbridge/pkg/config"
	"github.com/streamgate/kafbridge/pkg/fetch"
	"github.com/streamgate/kafbridge/pkg/metadata"
	"github.com/streamgate/kafbridge/pkg/migration"
	"github.com/streamgate/kafbridge/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the bridge YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Level)

	store, closeStore, err := buildMigrationStore(cfg)
	if err != nil {
		logger.Error("build migration store failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	engine := storage.NewMemoryEngine()
	managers := cache.NewManagerCache(cfg.Fetch.ManagerCacheSize, func(ctx context.Context, fullTopicName string) (storage.ConsumerManager, error) {
		return engine.GetConsumerManager(ctx, fullTopicName)
	})

	var legacy fetch.LegacyReader
	if len(cfg.Legacy.SeedBrokers) > 0 {
		pool := migration.NewClientPool(cfg.Legacy.SeedBrokers, logger)
		defer pool.Close()
		legacy = migration.NewReader(pool, time.Duration(cfg.Legacy.PollWaitMs)*time.Millisecond, logger)
	}

	handler := fetch.NewHandler(fetch.Config{
		Namespace:      cfg.Broker.Namespace,
		MaxReadEntries: cfg.Fetch.MaxReadEntries,
	}, fetch.Deps{
		Topics: managers,
		Oracle: migration.NewOracle(store),
		Legacy: legacy,
		Logger: logger,
	})
	// Appends wake fetches parked on min-bytes.
	engine.OnAppend(func(fullTopicName string) {
		handler.Purgatory().CheckAndComplete(fullTopicName)
	})

	startMetricsServer(ctx, cfg.Broker.MetricsAddr, logger)

	srv := &broker.Server{
		Addr:    cfg.Broker.ListenAddr,
		Handler: broker.NewDispatcher(handler, logger),
		Logger:  logger,
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("broker server error", "error", err)
		os.Exit(1)
	}
	srv.Wait()
}

func buildMigrationStore(cfg config.Config) (metadata.Store, func(), error) {
	switch cfg.Migration.Backend {
	case "etcd":
		store, err := metadata.NewEtcdStore(metadata.EtcdStoreConfig{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: time.Duration(cfg.Etcd.DialTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return metadata.NewInMemoryStore(), func() {}, nil
	}
}

func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	})
	return slog.New(handler).With("component", "broker")
}
