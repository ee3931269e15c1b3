package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/config"     // Internal config loader
	"github.com/iliyamo/lab-device-reservation/internal/credential" // PIN issuing and hashing
	"github.com/iliyamo/lab-device-reservation/internal/database"
	"github.com/iliyamo/lab-device-reservation/internal/handler"
	"github.com/iliyamo/lab-device-reservation/internal/logging"
	"github.com/iliyamo/lab-device-reservation/internal/metrics"
	"github.com/iliyamo/lab-device-reservation/internal/middleware"
	"github.com/iliyamo/lab-device-reservation/internal/mqtt"
	"github.com/iliyamo/lab-device-reservation/internal/queue"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
	"github.com/iliyamo/lab-device-reservation/internal/router" // Internal router setup
	"github.com/iliyamo/lab-device-reservation/internal/service"
)

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		Driver: cfg.DBDriver,
		User:   cfg.DBUser,
		Pass:   cfg.DBPass,
		Host:   cfg.DBHost,
		Port:   cfg.DBPort,
		Name:   cfg.DBName,
		Path:   cfg.DBPath,
	})
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	catalog, err := config.LoadDevices(cfg.DevicesFile)
	if err != nil {
		log.WithError(err).Fatal("device catalog")
	}

	// Redis is optional; nil disables rate limiting and caching.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting and statistics cache disabled")
	} else {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()
	rateCfg := config.LoadRateLimitConfig()

	// Event sinks.  Each one is optional and none of them can fail a request.
	var sinks service.Sinks

	amqpCfg := config.LoadAMQPConfig()
	if amqpCfg.Enabled {
		pub := queue.NewPublisher(amqpCfg, log)
		defer pub.Close()
		sinks = append(sinks, pub)
		queue.StartAuditConsumer(ctx, amqpCfg, queue.DefaultAuditLog, log)
	}

	mqttCfg := config.LoadMQTTConfig()
	var bus *mqtt.Bus
	if mqttCfg.Enabled {
		bus = mqtt.NewBus(mqttCfg, log)
		sinks = append(sinks, bus)
	}

	rec, err := metrics.Connect(config.LoadInfluxConfig(), log)
	switch {
	case err == nil:
		defer rec.Close()
		sinks = append(sinks, rec)
	case !errors.Is(err, metrics.ErrDisabled):
		log.WithError(err).Warn("influxdb unavailable; usage metrics disabled")
	}

	if inv := middleware.NewCacheInvalidator(cacheCfg, rdb, log); inv != nil {
		sinks = append(sinks, inv)
	}

	reservations := repository.NewReservationRepo(db)
	registry := service.NewDeviceRegistry(repository.NewDeviceRepo(db), catalog, sinks, log)
	engine := service.NewReservationEngine(registry, reservations, credential.NewGenerator(cfg.PINCost), sinks, log)
	query := service.NewAdminQuery(reservations, registry, cfg.Location)

	// Agent status reports flow into the registry, so the bus connects last.
	if bus != nil {
		if err := bus.Connect(registry); err != nil {
			log.WithError(err).Warn("mqtt unavailable; agents must use /update_status")
		}
		defer bus.Close()
	}

	deviceH := handler.NewDeviceHandler(engine, registry, log)
	adminH := handler.NewAdminHandler(query, registry, log)
	authH := handler.NewAuthHandler(cfg, repository.NewAdminRepo(db), log)

	limiter := middleware.NewTokenBucket(rateCfg, rdb, log)
	limits := router.Limits{
		Reserve:    limiter,
		VerifyPIN:  limiter,
		Login:      limiter,
		Statistics: middleware.NewRedisCache(cacheCfg, rdb),
	}

	e := router.New(log) // Create Echo instance
	router.RegisterRoutes(e, db)
	router.RegisterDevices(e, deviceH, cfg.AgentAPIKey, limits)
	router.RegisterAdmin(e, authH, adminH, deviceH, cfg.JWTSecret, limits)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "devices": len(catalog)}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
