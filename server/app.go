package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"espvote/config"
	"espvote/internal/api"
	"espvote/internal/broker"
	"espvote/internal/cache"
	"espvote/internal/db"
	"espvote/internal/espctl"
	"espvote/internal/health"
	"espvote/internal/logs"
	"espvote/internal/metrics"
	"espvote/internal/middleware"
	"espvote/internal/repo"
	"espvote/internal/window"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db      *gorm.DB
	mqtt    *broker.MQTT
	rdb     *redis.Client
	devices *cache.Devices
	coord   *espctl.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД + миграции
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, a.cfg.Database.LogSQL)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d
	if err := db.Migrate(a.db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}
	store := repo.New(a.db)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 3) Транспорт: MQTT, либо in-process шина без брокера
	var transport broker.Transport
	if url := a.cfg.MQTT.BrokerURL; url != "" {
		a.mqtt = broker.NewMQTT(broker.Options{
			BrokerURL:      url,
			ClientID:       a.cfg.MQTT.ClientID,
			Username:       a.cfg.MQTT.Username,
			Password:       a.cfg.MQTT.Password,
			QoS:            a.cfg.MQTT.QoS,
			KeepAlive:      a.cfg.MQTT.KeepAlive,
			ConnectTimeout: a.cfg.MQTT.ConnectTimeout,
		})
		if err := a.mqtt.Connect(ctx); err != nil {
			log.Fatalf("mqtt connect %s failed: %v", url, err)
		}
		transport = a.mqtt
	} else {
		logs.Logger.Warn("mqtt.broker_url is empty: using in-process bus, devices cannot connect")
		transport = broker.NewMemory()
	}

	// 4) Redis (опционально) — кэш списка зарегистрированных устройств
	if addr := a.cfg.Redis.Addr; addr != "" {
		rdb, err := cache.Connect(ctx, addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			logs.Logger.Warnf("redis %s: %v (cache disabled)", addr, err)
		} else {
			a.rdb = rdb
		}
	}
	a.devices = cache.NewDevices(a.rdb, store.Devices().ListRegistered, 2*a.cfg.Redis.RefreshInterval)

	// 5) Координатор: подписки на registration/+, setupVote/resync и vote/<session>
	a.coord = espctl.New(store, window.New(), transport,
		espctl.WithMessageTimeout(a.cfg.Voting.MessageTimeout),
		espctl.WithDevicesChanged(a.devices.Invalidate),
	)
	if err := a.coord.Start(ctx); err != nil {
		log.Fatalf("coordinator start failed: %v", err)
	}

	// 6) Роутер + middleware
	metrics.MustRegister()
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)
	a.Router.Use(middleware.WithMetrics)

	// 7) Health: /healthz и /readyz (БД + брокер + redis)
	checks := map[string]health.Check{}
	if a.mqtt != nil {
		checks["mqtt"] = a.mqtt.Ping
	}
	if a.rdb != nil {
		checks["redis"] = a.devices.Ping
	}
	health.RegisterRoutesWithDB(a.Router, a.db, checks)
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// 8) API
	api.NewHTTP(store, a.coord, a.devices, a.cfg.Server.DebugRoutes).RegisterRoutes(a.Router)

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	if a.rdb != nil {
		go a.devices.Run(a.ctx, a.cfg.Redis.RefreshInterval)
	}

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	logs.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)

	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
