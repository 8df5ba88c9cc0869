package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/pkg/response"
	"github.com/qs3c/review_go_server/internal/service"
)

type ReviewHandler struct {
	reviewService *service.ReviewService
}

func NewReviewHandler(reviewService *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
	}
}

// Create 登记评审目标
// POST /api/v1/reviews
func (h *ReviewHandler) Create(c *gin.Context) {
	var review model.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if review.RepoOwner == "" || review.RepoName == "" || review.PRNumber <= 0 {
		response.ParamError(c, "repo_owner、repo_name、pr_number 不能为空")
		return
	}

	if err := h.reviewService.Create(&review); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Created(c, "创建成功", review)
}

// Get 获取评审详情
// GET /api/v1/reviews/:id
func (h *ReviewHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的评审 ID")
		return
	}

	review, err := h.reviewService.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrReviewNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, review)
}
