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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	app "teen-chats/internal/app"
	httpx "teen-chats/internal/http"
	"teen-chats/internal/realtime"
	store "teen-chats/internal/store"
	ws "teen-chats/internal/ws"
	"teen-chats/pkg/ratelimit"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)
	logger.Info("config.loaded", cfg.LogArgs()...)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres connection + migrations
	pg, err := store.NewPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Error("postgres connect", "err", err)
		log.Fatal(err)
	}
	defer pg.Close()
	if err := store.RunMigrations(ctx, pg, logger); err != nil {
		logger.Error("migrations", "err", err)
		log.Fatal(err)
	}

	opts := realtime.Options{
		PersistTimeout: cfg.PersistTimeout,
		MaxContentLen:  cfg.MaxContentLen,
		GroupJoinAuthz: cfg.GroupJoinAuthz,
		Members:        pg,
	}

	// Redis bus for fanout across instances, optional
	var bus *ws.RedisBus
	if cfg.RedisAddr != "" {
		bus, err = ws.NewRedisBus(ctx, cfg, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			log.Fatal(err)
		}
		defer bus.Close()
		opts.Bus = bus
	}

	router := realtime.NewRouter(logger, pg, opts)
	hub := ws.NewHub(logger, router, bus, ratelimit.New(cfg.WSEventRate, time.Second))

	// HTTP + WS router
	mw := httpx.NewMiddleware(cfg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(cfg, logger, mw, hub, pg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return mw.SweepLoop(gctx) })
	g.Go(func() error {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "instance", router.InstanceID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown.start")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server.crash", "err", err)
	}
	logger.Info("server.shutdown.complete", "connections", router.Registry().Count())
	_ = os.Stdout.Sync()
}
