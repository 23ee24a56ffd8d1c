package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rollcall/internal/config"
	"rollcall/internal/feed"
	"rollcall/internal/store"
)

var liveAttendees = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "rollcall_live_attendees",
	Help: "Current attendee count per session, maintained from the feed.",
}, []string{"session_id"})

// Worker is a reference feed consumer: it follows attendee insert/delete
// events across all sessions and keeps live counts for dashboards.
func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" || cfg.Env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		logger.Fatal("redis not reachable", zap.String("addr", cfg.RedisAddr))
	}

	f := feed.NewRedisFeed(redisClient.Client, "")
	events, err := f.SubscribeAll(ctx)
	if err != nil {
		logger.Fatal("feed subscribe failed", zap.Error(err))
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+cfg.MetricsPort, nil); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("worker started, following the attendee feed")
	counts := map[string]int{}
	for evt := range events {
		switch evt.Type {
		case feed.TypeInsert:
			counts[evt.SessionID]++
		case feed.TypeDelete:
			if counts[evt.SessionID] > 0 {
				counts[evt.SessionID]--
			}
		default:
			continue
		}
		liveAttendees.WithLabelValues(evt.SessionID).Set(float64(counts[evt.SessionID]))
		logger.Debug("feed event",
			zap.String("type", evt.Type),
			zap.String("session_id", evt.SessionID),
			zap.Int("live", counts[evt.SessionID]))
	}

	logger.Info("worker stopped")
}
