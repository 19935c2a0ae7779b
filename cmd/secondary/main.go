// cmd/secondary is the entrypoint for a secondary node: receives
// replicated messages, reconstructs total order, and self-registers
// with the master on startup.
//
// Example:
//
//	./secondary --addr :8081 --master-url http://localhost:8080 --server-id s1
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
	"replicatedlog/internal/client"
	"replicatedlog/internal/config"
	"replicatedlog/internal/replication"
)

func main() {
	fs := pflag.NewFlagSet("secondary", pflag.ExitOnError)
	fs.String("addr", ":8081", "listen address (host:port)")
	fs.String("master-url", "", "master URL to self-register against")
	fs.String("server-id", "", "identity reported in acks and health (default secondary-<pid>)")
	fs.Duration("replication-delay", 0, "artificial per-replicate delay (test hook)")
	fs.Float64("error-rate", 0.0, "post-commit error injection probability (test hook)")
	fs.Parse(os.Args[1:])

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.LoadSecondary(fs)
	if err != nil {
		log.Fatalw("load config", "err", err)
	}

	recv := replication.NewReceiver(replication.ReceiverConfig{
		ServerID:         cfg.ServerID,
		ReplicationDelay: cfg.ReplicationDelay,
		ErrorRate:        cfg.ErrorRate,
	}, log)

	router := api.NewRouter(log)
	handler := api.NewSecondaryHandler(recv, log)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("secondary listening", "addr", cfg.Addr, "server_id", cfg.ServerID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "err", err)
		}
	}()

	if cfg.MasterURL != "" {
		go selfRegister(cfg.MasterURL, cfg.Addr, log)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down secondary")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown error", "err", err)
	}
}

// selfRegister retries registration against the master until it
// succeeds, since the master may start after this secondary does.
func selfRegister(masterURL, selfAddr string, log *zap.SugaredLogger) {
	c := client.New(masterURL, 5*time.Second)
	selfURL := "http://" + publicHost(selfAddr)

	delay := 200 * time.Millisecond
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.RegisterSecondary(ctx, selfURL)
		cancel()
		if err == nil {
			log.Infow("registered with master", "master_url", masterURL, "self_url", selfURL)
			return
		}
		log.Warnw("self-registration failed, retrying", "err", err, "delay", delay)
		time.Sleep(delay)
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}

// publicHost turns a listen address like ":8081" into a dialable
// loopback host:port; a caller behind a real network should instead
// pass --addr as an already-dialable host:port.
func publicHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
