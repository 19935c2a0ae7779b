// cmd/master is the entrypoint for the master node: accepts appends,
// fans them out to registered secondaries, and waits for write concern.
//
// Example:
//
//	./master --addr :8080 --secondaries http://localhost:8081,http://localhost:8082
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"replicatedlog/internal/api"
	"replicatedlog/internal/config"
	"replicatedlog/internal/replication"
)

func main() {
	fs := pflag.NewFlagSet("master", pflag.ExitOnError)
	fs.String("addr", ":8080", "listen address (host:port)")
	fs.String("secondaries", "", "comma-separated seed list of secondary URLs")
	fs.Int("write-concern-timeout-seconds", 5, "default append wait timeout")
	fs.Duration("retry-delay-initial", 100*time.Millisecond, "initial replication retry backoff")
	fs.Duration("retry-delay-max", 5*time.Second, "maximum replication retry backoff")
	fs.Duration("secondary-request-timeout", 2*time.Second, "per-replicate RPC timeout")
	fs.Int("heartbeat-interval-seconds", 2, "heartbeat probe interval")
	fs.Int("heartbeat-timeout-seconds", 1, "heartbeat RPC timeout")
	fs.Int("heartbeat-unhealthy-threshold", 3, "consecutive heartbeat failures before Unhealthy")
	fs.Parse(os.Args[1:])

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.LoadMaster(fs)
	if err != nil {
		log.Fatalw("load config", "err", err)
	}

	coord := replication.NewCoordinator(replication.CoordinatorConfig{
		DefaultWriteConcernTimeout:  cfg.WriteConcernTimeout,
		Worker:                      replication.WorkerConfig{InitialRetryDelay: cfg.RetryDelayInitial, MaxRetryDelay: cfg.RetryDelayMax, RequestTimeout: cfg.RequestTimeout},
		HeartbeatInterval:           cfg.HeartbeatInterval,
		HeartbeatTimeout:            cfg.HeartbeatTimeout,
		HeartbeatUnhealthyThreshold: cfg.HeartbeatThreshold,
	}, log)

	for _, url := range cfg.Secondaries {
		coord.RegisterSecondary(url)
	}

	router := api.NewRouter(log)
	handler := api.NewMasterHandler(coord, log)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("master listening", "addr", cfg.Addr, "secondaries", cfg.Secondaries)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down master")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	coord.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown error", "err", err)
	}
}
