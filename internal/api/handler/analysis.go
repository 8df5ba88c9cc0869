package handler

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/jobs"
	"github.com/qs3c/review_go_server/internal/pkg/response"
	"github.com/qs3c/review_go_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Trigger 触发分析
// POST /api/v1/reviews/:id/analysis
func (h *AnalysisHandler) Trigger(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的评审 ID")
		return
	}

	var req dto.TriggerAnalysisRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, err.Error())
			return
		}
	}

	resp, err := h.analysisService.Trigger(reviewID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReviewNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrInvalidTier),
			errors.Is(err, service.ErrInstructionsTooLong):
			response.ParamError(c, err.Error())
		case errors.Is(err, jobs.ErrTooManyJobs):
			response.TooManyJobsError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Created(c, "分析已启动", resp)
}

// Status 查询任务状态
// GET /api/v1/analysis/jobs/:jobID
func (h *AnalysisHandler) Status(c *gin.Context) {
	status, err := h.analysisService.GetStatus(c.Param("jobID"))
	if err != nil {
		response.NotFoundError(c, err.Error())
		return
	}

	response.Success(c, status)
}

// Cancel 取消任务
// POST /api/v1/analysis/jobs/:jobID/cancel
func (h *AnalysisHandler) Cancel(c *gin.Context) {
	resp, err := h.analysisService.Cancel(c.Param("jobID"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, resp)
}

// Active 查询评审当前活跃的任务
// GET /api/v1/reviews/:id/analysis/active
func (h *AnalysisHandler) Active(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的评审 ID")
		return
	}

	response.Success(c, h.analysisService.ActiveJob(reviewID))
}

// Stream SSE 实时进度流
// GET /api/v1/analysis/jobs/:jobID/stream
// 首帧固定为 connected 哨兵，之后每帧是完整状态快照；
// 送出终态帧后服务端主动断流。
func (h *AnalysisHandler) Stream(c *gin.Context) {
	jobID := c.Param("jobID")

	broadcaster := h.analysisService.Broadcaster()
	ch, err := broadcaster.Attach(jobID)
	if err != nil {
		response.TooManyJobsError(c, err.Error())
		return
	}
	defer broadcaster.Detach(jobID, ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{"type": "connected"})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case status, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("message", progressFrame(status))
			c.Writer.Flush()
			if status.Terminal() {
				return
			}
		}
	}
}

// progressFrame 把状态快照打平成带 type 标记的进度帧
func progressFrame(status *jobs.JobStatus) gin.H {
	data, err := json.Marshal(status)
	if err != nil {
		return gin.H{"type": "progress"}
	}
	frame := gin.H{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return gin.H{"type": "progress"}
	}
	frame["type"] = "progress"
	return frame
}
