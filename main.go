package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cppla/roxy/config"
	"github.com/cppla/roxy/controllers"
	"github.com/cppla/roxy/middleware"
	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/routes"
	"github.com/cppla/roxy/utils"
)

func main() {
	cfg := config.Load(config.DefaultDataPath())

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync()

	db := config.InitDatabase(models.All()...)

	rdb, err := utils.NewRedisClient(cfg)
	if err != nil {
		utils.Sugar.Fatalf("redis: %v", err)
	}

	var locator utils.Locator
	if cfg.GeoIPDBPath != "" {
		geo, err := utils.NewGeoIPLocator(cfg.GeoIPDBPath, rdb)
		if err != nil {
			utils.Sugar.Warnf("geoip disabled: %v", err)
		} else {
			locator = geo
			defer geo.Close()
		}
	}

	clock := utils.SystemClock{}
	factory := middleware.MemoryStoreFactory(clock)
	if cfg.RateLimitStore == "redis" {
		if rdb == nil {
			utils.Sugar.Fatal("rateLimitStore is redis but no redisAddr is configured")
		}
		factory = middleware.RedisStoreFactory(rdb, clock)
	}
	limiter := middleware.NewLimiter(factory, middleware.Rule{
		Max:        cfg.GlobalRateLimitPerSecond,
		Window:     middleware.Seconds(1),
		Exceptions: cfg.RateLimitExceptions,
	}, cfg.IsProxied, clock)

	clicks := utils.NewClickStore(utils.ClickDedupWindow, clock)
	codec := utils.NewTokenCodec(cfg.Secrets)

	deps := controllers.Deps{
		DB:      db,
		Config:  cfg,
		Codec:   codec,
		Locator: locator,
		Tracker: utils.NewClickTracker(db, clicks, locator),
		Clock:   clock,
	}
	r := routes.SetupRouter(routes.Options{
		Deps:    deps,
		Guard:   middleware.NewGuard(db, codec),
		Limiter: limiter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	utils.NewCleaner(db, cfg.FilesPath(), time.Duration(cfg.Secrets.RefreshTokenTTL)*time.Second).Start(ctx, time.Hour)

	srv := utils.NewServer(fmt.Sprintf(":%d", cfg.Port), r)
	if cfg.UseHTTPS {
		srv.WithTLS(cfg.SSLCertPath, cfg.SSLKeyPath)
	}
	// closers run in reverse order, so redis goes last
	if rdb != nil {
		srv.OnShutdown(rdb.Close)
	}
	srv.OnShutdown(limiter.Close)
	srv.OnShutdown(func() error {
		clicks.Close()
		cancel()
		return nil
	})

	utils.Sugar.Infof("Starting roxy on port %d (graceful) url=%s", cfg.Port, cfg.URL)
	if err := srv.Run(ctx); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
