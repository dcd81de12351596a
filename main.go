package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/peterbourgon/ff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/idcard-ocr/internal/auth"
	"github.com/example/idcard-ocr/internal/config"
	"github.com/example/idcard-ocr/internal/extractor"
	"github.com/example/idcard-ocr/internal/handlers"
	"github.com/example/idcard-ocr/internal/healthcheck"
	"github.com/example/idcard-ocr/internal/logging"
	"github.com/example/idcard-ocr/internal/opencv"
	"github.com/example/idcard-ocr/internal/repository"
	"github.com/example/idcard-ocr/internal/tesseract"
	"github.com/example/idcard-ocr/internal/usecase"
)

func main() {
	cfg, err := config.Load("idscan", os.Args[1:])
	if err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewScanRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	engine := tesseract.NewEngine(tesseract.Config{
		TessdataPrefix: cfg.TessdataPrefix,
		Languages:      cfg.Languages,
	}, logger)

	preprocessor, err := opencv.NewPreprocessor(cfg.WorkDir, opencv.DefaultParams(), logger)
	if err != nil {
		logger.Fatal("failed to prepare work directory", zap.Error(err), zap.String("work_dir", cfg.WorkDir))
	}

	ex := extractor.New(extractor.Options{
		StripFraction:  cfg.CropFraction,
		NameLineWindow: cfg.NameLineWindow,
		NameMinLength:  cfg.NameMinLength,
	})

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewScanUseCase(repo, cache, preprocessor, engine, ex, logger, usecase.WithResultTTL(cfg.ResultTTL))

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := healthcheck.NewMonitor(engine, logger)
	go monitor.Run(monitorCtx)

	grpcServer := grpc.NewServer()
	monitor.Register(grpcServer)
	grpcListener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		logger.Fatal("failed to listen for grpc health", zap.Error(err), zap.String("addr", cfg.GRPCHealthAddr))
	}
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	defer grpcServer.GracefulStop()

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(auth.Config{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})
	handlers.RegisterRoutes(r, uc, monitor, authMiddleware, handlers.Options{ScanTimeout: cfg.ScanTimeout})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("id scanner listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("grpc_health_addr", cfg.GRPCHealthAddr),
		zap.String("languages", engine.Languages()),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
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

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
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

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

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
