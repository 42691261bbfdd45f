package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/hairstyle-api/internal/auth"
	"github.com/example/hairstyle-api/internal/blobstore"
	"github.com/example/hairstyle-api/internal/handlers"
	"github.com/example/hairstyle-api/internal/inference"
	"github.com/example/hairstyle-api/internal/logging"
	"github.com/example/hairstyle-api/internal/pipeline"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	dsn := mustEnv("DATABASE_DSN", logger)
	apiToken := mustEnv("API_TOKEN", logger)

	db := initDatabase(ctx, dsn, logger)

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, logger)

	store := blobstore.New(db, blobstore.NewRedisCache(redisClient), logger)
	if err := store.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	analysisAddr := getEnv("ANALYSIS_ADDR", "hair-analysis:50051")
	analysisClient, analysisConn, err := inference.Dial(ctx, analysisAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to analysis backend", zap.Error(err))
	}
	defer analysisConn.Close()

	synthesisAddr := getEnv("SYNTHESIS_ADDR", "hair-synthesis:50051")
	synthesisClient, synthesisConn, err := inference.Dial(ctx, synthesisAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to synthesis backend", zap.Error(err))
	}
	defer synthesisConn.Close()

	pipe := pipeline.New(store, analysisClient, synthesisClient, opsFromEnv(), logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, pipe, auth.TokenMiddleware(apiToken))

	addr := getEnv("LISTEN_ADDR", ":8080")
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	logger.Info("hairstyle API listening", zap.String("addr", addr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, zapLogger *zap.Logger) *redis.Client {
	addr := getEnv("REDIS_ADDR", "redis:6379")
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// opsFromEnv resolves the remote operation names, falling back to the
// names the hosted models expose.
func opsFromEnv() pipeline.Ops {
	ops := pipeline.DefaultOps()
	if v := os.Getenv("ANALYSIS_OPS"); v != "" {
		var names []string
		for _, part := range strings.Split(v, ",") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			ops.Analysis = names
		}
	}
	if v := os.Getenv("SWAP_ALIGN_OP"); v != "" {
		ops.Align = v
	}
	if v := os.Getenv("SWAP_BLEND_OP"); v != "" {
		ops.Blend = v
	}
	if v := os.Getenv("BLEND_MODE"); v != "" {
		ops.BlendMode = v
	}
	return ops
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func mustEnv(key string, logger *zap.Logger) string {
	value := os.Getenv(key)
	if value == "" {
		logger.Fatal("required environment variable is not set", zap.String("key", key))
	}
	return value
}
