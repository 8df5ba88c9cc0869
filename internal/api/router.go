package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/api/handler"
	"github.com/qs3c/review_go_server/internal/api/middleware"
)

type Router struct {
	reviewHandler    *handler.ReviewHandler
	analysisHandler  *handler.AnalysisHandler
	runHandler       *handler.RunHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	cfg              *config.Config
}

func NewRouter(
	reviewHandler *handler.ReviewHandler,
	analysisHandler *handler.AnalysisHandler,
	runHandler *handler.RunHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		reviewHandler:    reviewHandler,
		analysisHandler:  analysisHandler,
		runHandler:       runHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// 健康检查
		api.GET("/health", r.healthHandler.Check)

		// WebSocket 进度流（token 在 handler 内校验）
		api.GET("/analysis/ws/:jobID", r.websocketHandler.Handle)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 评审目标
			authenticated.POST("/reviews", r.reviewHandler.Create)
			authenticated.GET("/reviews/:id", r.reviewHandler.Get)

			// 分析编排
			authenticated.POST("/reviews/:id/analysis", r.analysisHandler.Trigger)
			authenticated.GET("/reviews/:id/analysis/active", r.analysisHandler.Active)
			authenticated.GET("/analysis/jobs/:jobID", r.analysisHandler.Status)
			authenticated.POST("/analysis/jobs/:jobID/cancel", r.analysisHandler.Cancel)
			authenticated.GET("/analysis/jobs/:jobID/stream", r.analysisHandler.Stream)

			// 运行历史与建议
			authenticated.GET("/reviews/:id/runs", r.runHandler.List)
			authenticated.GET("/reviews/:id/runs/latest", r.runHandler.Latest)
			authenticated.GET("/runs/:runID", r.runHandler.Get)
			authenticated.GET("/reviews/:id/suggestions", r.runHandler.Suggestions)
		}
	}

	return engine
}
