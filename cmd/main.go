// jobwatch search-service
//
// Scheduled job-search pipeline: converts each user's search configuration
// into concrete run times, fans searches out across job sites, deduplicates
// and filters the results, and delivers an email digest with retry-safe,
// at-most-once semantics per run.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"jobwatch/search-service/internal/api"
	"jobwatch/search-service/internal/config"
	"jobwatch/search-service/internal/db"
	"jobwatch/search-service/internal/executor"
	"jobwatch/search-service/internal/notify"
	"jobwatch/search-service/internal/search"
	"jobwatch/search-service/internal/store"
)

const version = "1.0.0"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("postgres")
	}
	defer pool.Close()

	log.Info("connecting to Redis")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("redis")
	}
	defer rdb.Close()

	st := store.New(pool)
	recent := store.NewRecentLinkCache(rdb, cfg.RecentLinksTTL)
	claims := store.NewRunClaims(rdb, 2*cfg.RunTimeout)
	marks := store.NewDispatchMarks(rdb, cfg.RecentLinksTTL)
	events := store.NewEvents(rdb)

	backend := search.NewWebSearchClient(cfg.SearchAPIKey, cfg.SearchEngineID, cfg.SearchRPS)
	if cfg.SearchAPIKey == "" || cfg.SearchEngineID == "" {
		log.Warn("search credentials not set, aggregator will serve flagged sample results")
	}
	aggregator := search.NewAggregator(backend, recent,
		log.WithField("component", "aggregator"), cfg.SearchWorkers, 20*time.Second)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	creds := notify.NewOAuthCredentialSource(st, oauthCfg)
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
		UseTLS:   true,
	})
	dispatcher := notify.NewDispatcher(mailer, creds, marks,
		log.WithField("component", "dispatcher"))

	exec := executor.New(st, claims, aggregator, dispatcher, events,
		log.WithField("component", "executor"), cfg.ScanInterval, cfg.RunTimeout)
	if err := exec.Start(); err != nil {
		log.WithError(err).Fatal("executor")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	h := api.NewHandler(st, aggregator, exec, log.WithField("component", "api"))
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Infof("search-service v%s listening", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	exec.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.Info("stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "search-service",
		"version": version,
	})
}
