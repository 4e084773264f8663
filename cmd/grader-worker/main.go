package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instagrade/internal/common/cache"
	"instagrade/internal/common/db"
	commonmw "instagrade/internal/common/http/middleware"
	"instagrade/internal/common/mq"
	"instagrade/internal/common/storage"
	"instagrade/internal/grading/compare"
	"instagrade/internal/grading/controller"
	"instagrade/internal/grading/files"
	"instagrade/internal/grading/repository"
	"instagrade/internal/grading/sandbox"
	"instagrade/internal/grading/service"
	"instagrade/internal/similarity"
	"instagrade/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/grader_worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "grader worker stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	mysqlDB, err := db.NewMySQL(ctx, appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	store := repository.NewMySQLStore(mysqlDB)

	redisCache, err := cache.NewRedisCache(ctx, appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()
	summaries := repository.NewSummaryCache(redisCache, appCfg.Grading.SummaryTTL, appCfg.Plagiarism.LockTTL)

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		objStorage = minioStorage
	} else {
		logger.Info(ctx, "object storage not configured, only local paths resolve")
	}
	resolver := files.NewResolver(objStorage, appCfg.MinIO.Bucket, appCfg.Grading.MaxFileBytes)

	strategy, checks, closeStrategy, err := buildStrategy(ctx, appCfg.Sandbox)
	if err != nil {
		return err
	}
	defer closeStrategy()
	runner, err := sandbox.NewRunner(sandbox.Config{Strategy: strategy, WorkRoot: appCfg.Sandbox.WorkRoot})
	if err != nil {
		return fmt.Errorf("init sandbox runner failed: %w", err)
	}

	comparator, err := compare.ByName(appCfg.Grading.Comparator)
	if err != nil {
		return fmt.Errorf("init comparator failed: %w", err)
	}
	grader, err := service.NewGrader(service.GraderConfig{
		Executor:         runner,
		Comparator:       comparator,
		Files:            resolver,
		Writer:           store,
		StageRoot:        appCfg.Grading.StageRoot,
		DefaultTimeLimit: appCfg.Grading.DefaultTimeLimit,
		PersistTimeout:   appCfg.Grading.PersistTimeout,
	})
	if err != nil {
		return fmt.Errorf("init grader failed: %w", err)
	}
	scanner := similarity.NewScanner(store, resolver, similarity.ScannerConfig{
		Threshold: appCfg.Plagiarism.Threshold,
		Workers:   appCfg.Plagiarism.Workers,
	})

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		return fmt.Errorf("init kafka failed: %w", err)
	}
	defer func() {
		_ = mqClient.Close()
	}()
	publisher := repository.NewMQEventPublisher(mqClient, appCfg.Kafka.EvaluationTopic, appCfg.Kafka.ScanTopic)

	jobSvc, err := service.NewJobService(service.JobConfig{
		Store:           store,
		Grader:          grader,
		Scanner:         scanner,
		Summaries:       summaries,
		Events:          publisher,
		Scans:           publisher,
		Queue:           mqClient,
		RetryTopic:      appCfg.Kafka.RetryTopic,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		PoolSize:        appCfg.Grading.PoolSize,
		PoolRetryMax:    appCfg.Kafka.PoolRetryMax,
		PoolRetryBase:   appCfg.Kafka.PoolRetryBase,
		PoolRetryMaxDel: appCfg.Kafka.PoolRetryMaxD,
		JobTimeout:      appCfg.Grading.JobTimeout,
		ScanThreshold:   appCfg.Plagiarism.Threshold,
		ScanAfterGrade:  appCfg.Grading.ScanAfterGrade,
	})
	if err != nil {
		return fmt.Errorf("init job service failed: %w", err)
	}

	gradeOpts := appCfg.Kafka.subscribeOptions(appCfg.Kafka.ConsumerGroup)
	gradeOpts.Limiter = mq.NewTokenLimiter(appCfg.Grading.PoolSize)
	if err := mqClient.Subscribe(ctx, appCfg.Kafka.gradeTopics(), jobSvc.HandleGradeMessage, gradeOpts); err != nil {
		return fmt.Errorf("subscribe grade topics failed: %w", err)
	}
	scanOpts := appCfg.Kafka.subscribeOptions("")
	scanOpts.Concurrency = 1
	if err := mqClient.Subscribe(ctx, mq.Topic(appCfg.Kafka.ScanTopic), jobSvc.HandleScanMessage, scanOpts); err != nil {
		return fmt.Errorf("subscribe scan topic failed: %w", err)
	}
	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start kafka consumer failed: %w", err)
	}
	logger.Info(ctx, "grading consumers started",
		zap.String("grade_topic", appCfg.Kafka.GradeTopic),
		zap.String("scan_topic", appCfg.Kafka.ScanTopic),
		zap.String("sandbox", runner.Strategy()),
		zap.Int("pool_size", appCfg.Grading.PoolSize),
	)

	checks = append(checks,
		controller.Check{Name: "mysql", Ping: mysqlDB.Ping},
		controller.Check{Name: "redis", Ping: redisCache.Ping},
		controller.Check{Name: "kafka", Ping: mqClient.Ping},
		controller.Check{Name: "storage", Ping: resolver.Ping},
	)
	httpServer := buildHTTPServer(appCfg.Server, controller.NewGradingController(jobSvc, publisher, checks...))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "grader http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	// Waits for in-flight handlers; uncommitted jobs are redelivered.
	_ = mqClient.Stop()
	return nil
}

// buildStrategy returns the configured isolation backend, its readiness
// checks and a close func.
func buildStrategy(ctx context.Context, cfg SandboxConfig) (sandbox.Strategy, []controller.Check, func(), error) {
	switch cfg.Strategy {
	case "direct":
		return sandbox.NewDirectStrategy(ctx, cfg.directConfig()), nil, func() {}, nil
	default:
		docker, err := sandbox.NewDockerStrategy(cfg.dockerConfig())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init docker sandbox failed: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := docker.Ping(pingCtx); err != nil {
			logger.Warn(ctx, "docker daemon not reachable yet", zap.Error(err))
		}
		checks := []controller.Check{{Name: "docker", Ping: docker.Ping}}
		return docker, checks, func() { _ = docker.Close() }, nil
	}
}

func buildHTTPServer(cfg ServerConfig, grading *controller.GradingController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())
	grading.Register(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
