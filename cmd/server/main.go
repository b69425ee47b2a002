package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/account-service/internal/config"
	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/logging"
	"github.com/iliyamo/account-service/internal/media"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/router"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/utils"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; real env vars win
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := utils.NewIssuer(utils.IssuerConfig{
		AccessSecret:  cfg.AccessTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshSecret: cfg.RefreshTokenSecret,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		log.WithError(err).Fatal("token issuer")
	}
	hasher, err := utils.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.WithError(err).Fatal("password hasher")
	}

	mongoClient, err := database.OpenMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("profile store")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	users := repository.NewUserRepo(mongoClient.Database(cfg.MongoDB))
	if err := users.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Fatal("profile store indexes")
	}

	// Redis backs the rate limiter and optionally the session store; without
	// it credential routes are simply not limited.
	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		if cfg.SessionStore == config.SessionStoreRedis {
			log.WithError(err).Fatal("redis session store")
		}
		log.WithError(err).Warn("redis unavailable; rate limiting disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	checks := map[string]handler.Pinger{
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var sessions service.SessionStore
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		sessions = repository.NewRedisSessionStore(rdb, "session")
	default:
		db := openSessionDB(ctx, cfg, log)
		defer func() { _ = db.Close() }()
		checks["mysql"] = db.PingContext
		sessions = repository.NewSessionRepo(db)
	}

	uploader, err := media.NewS3Uploader(ctx, cfg.S3)
	if err != nil {
		log.WithError(err).Fatal("media uploader")
	}

	svc := &service.AuthService{
		Users:    users,
		Sessions: sessions,
		Uploader: uploader,
		Issuer:   issuer,
		Hasher:   hasher,
		Log:      log,
	}
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL)
		pub.Log = log
		defer func() { _ = pub.Close() }()
		go pub.Run(ctx)
		svc.Events = pub

		if cfg.AuditConsumer {
			consumer := &queue.AuditConsumer{URL: cfg.RabbitMQURL, Dir: "logs", Log: log}
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.WithError(err).Error("audit consumer stopped")
				}
			}()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(middleware.RequestLogger(log))

	router.RegisterRoutes(e, router.Deps{
		Users:     handler.NewAuthHandler(svc, cfg.CookieSecure, cfg.UploadDir),
		Health:    &handler.Health{Checks: checks},
		Auth:      middleware.VerifyJWT(issuer, users, handler.AccessCookie),
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
	})

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "session_store": cfg.SessionStore}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

func openSessionDB(ctx context.Context, cfg config.Config, log *logrus.Logger) *sql.DB {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("session database")
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.WithError(err).Fatal("session schema")
	}
	return db
}
