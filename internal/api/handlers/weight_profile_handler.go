package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/apk-analysis/apk-risk-analyzer/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WeightProfileHandler 自定义评分权重
type WeightProfileHandler struct {
	svc    service.ScanService
	logger *logrus.Logger
}

// NewWeightProfileHandler 创建权重方案处理器
func NewWeightProfileHandler(svc service.ScanService, logger *logrus.Logger) *WeightProfileHandler {
	return &WeightProfileHandler{
		svc:    svc,
		logger: logger,
	}
}

// weightProfileRequest 创建/更新请求
type weightProfileRequest struct {
	Name    string          `json:"name"`
	Weights scoring.Weights `json:"weights"`
}

// List 列出全部方案
// GET /api/weight-profiles
func (h *WeightProfileHandler) List(c *gin.Context) {
	profiles, err := h.svc.ListWeightProfiles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"defaults": scoring.DefaultWeights(),
	})
}

// Create 新建方案
// POST /api/weight-profiles
func (h *WeightProfileHandler) Create(c *gin.Context) {
	var req weightProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"name\": ..., \"weights\": {...}}"})
		return
	}

	profile, err := h.svc.CreateWeightProfile(c.Request.Context(), req.Name, req.Weights)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// Get 查询方案
// GET /api/weight-profiles/:id
func (h *WeightProfileHandler) Get(c *gin.Context) {
	id, err := profileID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	profile, err := h.svc.GetWeightProfile(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Update 更新权重
// PUT /api/weight-profiles/:id
func (h *WeightProfileHandler) Update(c *gin.Context) {
	id, err := profileID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req weightProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	profile, err := h.svc.UpdateWeightProfile(c.Request.Context(), id, req.Weights)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Delete 删除方案
// DELETE /api/weight-profiles/:id
func (h *WeightProfileHandler) Delete(c *gin.Context) {
	id, err := profileID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.svc.DeleteWeightProfile(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithField("profile_id", id).Info("Weight profile deleted")
	c.JSON(http.StatusOK, gin.H{"message": "weight profile deleted"})
}

func profileID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("profile id %q: %w", c.Param("id"), errBadParam)
	}
	return uint(id), nil
}
