package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/review_go_server/internal/pkg/response"
	"github.com/qs3c/review_go_server/internal/service"
)

type RunHandler struct {
	runService        *service.RunService
	suggestionService *service.SuggestionService
}

func NewRunHandler(runService *service.RunService, suggestionService *service.SuggestionService) *RunHandler {
	return &RunHandler{
		runService:        runService,
		suggestionService: suggestionService,
	}
}

// List 某评审的运行历史，新的在前
// GET /api/v1/reviews/:id/runs
func (h *RunHandler) List(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的评审 ID")
		return
	}

	runs, err := h.runService.List(reviewID)
	if err != nil {
		if errors.Is(err, service.ErrReviewNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, runs)
}

// Latest 某评审最近一次运行
// GET /api/v1/reviews/:id/runs/latest
func (h *RunHandler) Latest(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的评审 ID")
		return
	}

	run, err := h.runService.Latest(reviewID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReviewNotFound), errors.Is(err, service.ErrRunNotFound):
			response.NotFoundError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, run)
}

// Get 按 ID 取单次运行
// GET /api/v1/runs/:runID
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.runService.Get(c.Param("runID"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, run)
}

// Suggestions 某评审的建议，默认只看最近一次运行
// GET /api/v1/reviews/:id/suggestions?all=true
func (h *RunHandler) Suggestions(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的评审 ID")
		return
	}

	all := c.Query("all") == "true"
	list, err := h.suggestionService.List(reviewID, all)
	if err != nil {
		if errors.Is(err, service.ErrReviewNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, list)
}
