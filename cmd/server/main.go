package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/analyzer"
	"github.com/qs3c/review_go_server/internal/api"
	"github.com/qs3c/review_go_server/internal/api/handler"
	"github.com/qs3c/review_go_server/internal/database"
	"github.com/qs3c/review_go_server/internal/pkg/cron"
	"github.com/qs3c/review_go_server/internal/pkg/jobs"
	"github.com/qs3c/review_go_server/internal/pkg/oss"
	"github.com/qs3c/review_go_server/internal/pkg/procs"
	"github.com/qs3c/review_go_server/internal/pkg/pubsub"
	"github.com/qs3c/review_go_server/internal/pkg/ws"
	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis（可选，进度跨实例镜像用）
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Printf("Warning: redis unavailable, progress mirroring disabled: %v", err)
		rdb = nil
	} else {
		log.Println("Redis connected")
	}

	// 核心组件：注册表、广播器、进程协调器
	registry := jobs.NewRegistry(cfg.Limits.MaxActiveJobs)
	broadcaster := jobs.NewBroadcaster(registry, cfg.Limits.MaxObserversPerJob)
	tracker := procs.NewTracker()

	// WebSocket Hub
	wsHub := ws.NewHub()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	reviewRepo := repository.NewReviewRepository(db)
	runRepo := repository.NewRunRepository(db)
	suggestionRepo := repository.NewSuggestionRepository(db)

	// 外部分析器
	cliAnalyzer := analyzer.NewCLIAnalyzer(&cfg.Analyzer, tracker)

	// 初始化 Service
	reviewService := service.NewReviewService(reviewRepo)
	analysisService := service.NewAnalysisService(
		reviewRepo, runRepo, suggestionRepo,
		registry, broadcaster, tracker,
		cliAnalyzer, cfg,
	)
	analysisService.SetHub(wsHub)
	runService := service.NewRunService(runRepo, reviewRepo)
	suggestionService := service.NewSuggestionService(suggestionRepo, runRepo, reviewRepo)

	if rdb != nil {
		analysisService.SetPublisher(pubsub.NewPublisher(rdb))

		// 订阅其他实例镜像出来的进度，桥接进本地广播面；
		// 本实例发布的消息本地已送达，按任务归属去重
		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
				if _, ok := registry.Get(msg.JobID); ok {
					return
				}
				broadcaster.Publish(msg.Status)
				wsHub.SendToJob(msg.JobID, &ws.Message{Type: "progress", Data: msg.Status})
			})
			if err != nil && err != context.Canceled {
				log.Printf("Progress subscriber stopped: %v", err)
			}
		}()
	}

	// OSS（可选）
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			analysisService.SetOSSClient(ossClient)
			log.Println("OSS client initialized")
		}
	}

	// 注册表清扫
	cronService := cron.NewService(registry, time.Duration(cfg.Limits.RegistryRetentionHours)*time.Hour)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	reviewHandler := handler.NewReviewHandler(reviewService)
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	runHandler := handler.NewRunHandler(runService, suggestionService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, analysisService, cfg.JWT.Secret)
	healthHandler := handler.NewHealthHandler(db, rdb)

	// 初始化 Router
	router := api.NewRouter(
		reviewHandler,
		analysisHandler,
		runHandler,
		websocketHandler,
		healthHandler,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
