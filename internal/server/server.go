package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/cache"
	"github.com/OFFIS-RIT/regnet/internal/db"
	"github.com/OFFIS-RIT/regnet/internal/queue"
	mid "github.com/OFFIS-RIT/regnet/internal/server/middleware"
	"github.com/OFFIS-RIT/regnet/internal/storage"
	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	pgstore "github.com/OFFIS-RIT/regnet/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

// Init connects the infrastructure, serves the API and blocks until the
// process is interrupted.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(dbURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	conn, err := pgstore.NewPool(ctx, dbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	engine, err := analysis.NewEngine(analysis.NewEngineParams{Config: analysis.ConfigFromEnv()})
	if err != nil {
		logger.Fatal("Invalid analysis configuration", "err", err)
	}

	que, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.PassQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	app := &mid.App{
		Storage: pgstore.NewAnalysisDBStorageWithConnection(conn),
		Engine:  engine,
		Queue:   ch,
	}

	if s3Client, err := storage.NewS3Client(ctx); err != nil {
		logger.Warn("Report downloads disabled", "err", err)
	} else {
		app.Reports = storage.NewReportStore(storage.NewReportStoreParams{
			Client:         s3Client,
			Bucket:         util.GetEnv("AWS_BUCKET"),
			PublicEndpoint: util.GetEnvString("AWS_PUBLIC_ENDPOINT", ""),
		})
	}

	var redisClient cache.Interface
	if url := util.GetEnvString("REDIS_URL", ""); url != "" {
		client, err := cache.NewRedisClient(ctx, url)
		if err != nil {
			logger.Warn("Network cache disabled", "err", err)
		} else {
			defer client.Close()
			redisClient = client
		}
	}
	app.Networks = cache.NewNetworkCache(redisClient, util.GetEnvDuration("NETWORK_CACHE_TTL", 10*time.Minute))

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
