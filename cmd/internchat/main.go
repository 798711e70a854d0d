package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ageniuscoder/internchat/backend/internal/attachments"
	"github.com/ageniuscoder/internchat/backend/internal/auth"
	"github.com/ageniuscoder/internchat/backend/internal/chat"
	"github.com/ageniuscoder/internchat/backend/internal/config"
	"github.com/ageniuscoder/internchat/backend/internal/conversations"
	"github.com/ageniuscoder/internchat/backend/internal/delivery"
	"github.com/ageniuscoder/internchat/backend/internal/httpx"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/messages"
	"github.com/ageniuscoder/internchat/backend/internal/participants"
	"github.com/ageniuscoder/internchat/backend/internal/presence"
	"github.com/ageniuscoder/internchat/backend/internal/reactions"
	"github.com/ageniuscoder/internchat/backend/internal/retention"
	"github.com/ageniuscoder/internchat/backend/internal/session"
	"github.com/ageniuscoder/internchat/backend/internal/snowflake"
	"github.com/ageniuscoder/internchat/backend/internal/storage/postgres"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
	"github.com/ageniuscoder/internchat/backend/internal/ws"
)

type database interface {
	Migrate() error
	Ping(ctx context.Context) error
	Close() error
}

func openDB(cfg config.Config) (*sql.DB, sqlstore.Dialect, database, error) {
	if cfg.DBDriver == "postgres" {
		conn, err := postgres.New(cfg.PostgresDsn)
		if err != nil {
			return nil, 0, nil, err
		}
		return conn.Db, sqlstore.Postgres, conn, nil
	}
	conn, err := sqlite.New(cfg.SQLITEDsn)
	if err != nil {
		return nil, 0, nil, err
	}
	return conn.Db, sqlstore.SQLite, conn, nil
}

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exits")
	flag.Parse()

	//config part
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Fatalf("Error Loading Env file: %v", err)
	}
	cfg := config.MustLoad()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "main")

	//database handling
	db, dialect, conn, err := openDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Error connecting to database")
	}
	defer conn.Close()

	if *migrate || cfg.AutoMigrate {
		if err := conn.Migrate(); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		log.WithField("driver", cfg.DBDriver).Info("Migration Completed")
		if *migrate {
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.WithError(err).Fatal("invalid node id")
	}
	store := sqlstore.New(db, dialect, node, logging.Component(logger, "store"))
	hub := chat.NewHub(store, logging.Component(logger, "hub"), chat.NewMetrics(reg), cfg.SubBuffer)
	store.SetPublisher(hub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Run(ctx); err != nil {
			log.WithError(err).Error("hub stopped")
			stop()
		}
	}()

	var pres presence.Tracker = presence.NewMemory()
	if cfg.RedisAddr != "" {
		rp := presence.NewRedis(cfg.RedisAddr)
		if err := rp.Ping(ctx); err != nil {
			log.WithError(err).Fatal("redis unreachable")
		}
		defer rp.Close()
		pres = rp
	}

	disk, err := attachments.NewDisk(cfg.UploadDir, cfg.PublicURL+"/files")
	if err != nil {
		log.WithError(err).Fatal("upload dir")
	}
	uploader := attachments.NewUploader(disk, cfg.MaxUploadBytes, logging.Component(logger, "attachments"))
	ledger := reactions.NewLedger(store, logging.Component(logger, "reactions"))

	deps := &session.Deps{
		Store:     store,
		Hub:       hub,
		Tracker:   delivery.NewTracker(store, logging.Component(logger, "delivery"), delivery.NewMetrics(reg)),
		Ledger:    ledger,
		Uploader:  uploader,
		Presence:  pres,
		Log:       logging.Component(logger, "session"),
		ReadWatch: cfg.ReadWatchInterval,
		SendRate:  rate.Limit(cfg.SendRate),
		SendBurst: cfg.SendBurst,
	}

	runner, err := retention.NewRunner(store, cfg.RetentionSchedule, cfg.EventRetention, logging.Component(logger, "retention"))
	if err != nil {
		log.WithError(err).Fatal("retention schedule")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestLogger(logging.Component(logger, "http")))

	r.GET("/healthz", func(c *gin.Context) {
		if err := conn.Ping(c.Request.Context()); err != nil {
			httpx.Err(c, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		httpx.OK(c, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.Static("/files", disk.Dir())

	authn := auth.NewAuthenticator(cfg.JWTSecret, store, logging.Component(logger, "auth"))
	ws.RegisterWS(r.Group("/api"), ws.NewHandler(ctx, authn, deps, logging.Component(logger, "ws"), ws.NewMetrics(reg)))

	api := r.Group("/api")
	api.Use(authn.Middleware())
	apiLog := logging.Component(logger, "api")
	participants.Register(api, &participants.Service{Store: store, Presence: pres, Log: apiLog})
	conversations.Register(api, &conversations.Service{Store: store, Presence: pres, Log: apiLog})
	messages.Register(api, &messages.Service{
		Store:     store,
		Ledger:    ledger,
		Uploader:  uploader,
		MaxUpload: cfg.MaxUploadBytes,
		Log:       apiLog,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	wg.Wait()
}
