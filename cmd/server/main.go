package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/seat-coordinator/internal/app"
	"github.com/iliyamo/seat-coordinator/internal/config"
	"github.com/iliyamo/seat-coordinator/internal/handler"
	"github.com/iliyamo/seat-coordinator/internal/logger"
	"github.com/iliyamo/seat-coordinator/internal/middleware"
	"github.com/iliyamo/seat-coordinator/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg, err := config.Load()
	log := logger.New("seat-server", cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.Logger = log
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	deps := map[string]handler.Pinger{"seat store": a.Store}
	if a.Redis != nil {
		deps["redis"] = redisPinger{a}
	}
	router.RegisterRoutes(e, deps)

	rh := handler.NewReservationHandler(a.Coordinator)
	rh.RetryAfter = int(a.Coordinator.MaxLatency()/time.Second) + 1
	var limit, cache []echo.MiddlewareFunc
	if a.Redis != nil {
		limit = append(limit, middleware.NewTokenBucket(cfg.RateLimit, a.Redis))
		cache = append(cache, middleware.NewRedisCache(cfg.Cache, a.Redis))
	}
	router.RegisterSeats(e, rh, limit...)
	router.RegisterCatalog(e, handler.NewCatalogHandler(a.Catalog), cache...)

	if c := a.Consumer(); c != nil {
		go func() {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("event consumer stopped: %v", err)
			}
		}()
	}

	addr := ":" + cfg.Port
	log.Infof("listening on %s (env=%s)", addr, cfg.Env)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Infof("stopped")
}

// redisPinger reports the shared Redis used by the rate limit and cache.
type redisPinger struct{ a *app.App }

func (p redisPinger) Ping(ctx context.Context) error { return p.a.Redis.Ping(ctx).Err() }
