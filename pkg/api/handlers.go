package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"TriggerRadar/pkg/model"
	"TriggerRadar/pkg/monitor"
	"TriggerRadar/pkg/playbook"
	"TriggerRadar/pkg/registry"
)

// TriggerHistory 触发历史查询协作方
type TriggerHistory interface {
	History(symbol string, limit int) ([]*model.TriggerEvent, error)
}

// PlaybookStore 剧本持久化协作方
type PlaybookStore interface {
	Save(pb *model.Playbook) error
	Delete(playbookID string) error
	SetEntryEnabled(entryID string, enabled bool) error
}

// Handlers API处理程序
type Handlers struct {
	registry *registry.Registry
	engine   *playbook.Engine
	triggers TriggerHistory // 可为nil
	store    PlaybookStore  // 可为nil
	health   *monitor.Monitor
}

// NewHandlers 创建新的API处理程序
func NewHandlers(reg *registry.Registry, engine *playbook.Engine,
	triggers TriggerHistory, store PlaybookStore, health *monitor.Monitor) *Handlers {
	return &Handlers{
		registry: reg,
		engine:   engine,
		triggers: triggers,
		store:    store,
		health:   health,
	}
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.health != nil {
		resp["components"] = h.health.GetAllStatus()
		if !h.health.Healthy() {
			resp["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ReadinessCheck 就绪检查处理程序
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// RegisterCondition 注册条件，语义等价的输入落到同一个指纹
func (h *Handlers) RegisterCondition(c *gin.Context) {
	var raw model.RawCondition
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
		return
	}

	fingerprint, err := h.registry.Register(raw)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fingerprint": fingerprint})
}

// SubscribeRequest 订阅请求
type SubscribeRequest struct {
	SubscriberID string `json:"subscriber_id" binding:"required"`
	Channel      string `json:"channel"`
}

// Subscribe 建立订阅处理程序
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
		return
	}

	if err := h.registry.Subscribe(c.Param("fingerprint"), req.SubscriberID, req.Channel); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Unsubscribe 解除订阅处理程序
func (h *Handlers) Unsubscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
		return
	}

	if err := h.registry.Unsubscribe(c.Param("fingerprint"), req.SubscriberID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetStatus 查询条件状态处理程序
func (h *Handlers) GetStatus(c *gin.Context) {
	status, err := h.registry.GetStatus(c.Param("fingerprint"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetStats 聚合统计处理程序
func (h *Handlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.registry.Stats()})
}

// PlaybookRequest 创建剧本请求
// enabled缺省为true，显式传false则创建为停用状态
type PlaybookRequest struct {
	OwnerID         string                 `json:"owner_id" binding:"required"`
	Name            string                 `json:"name"`
	GateLogic       model.GateLogic        `json:"gate_logic"`
	EvaluationOrder model.EvaluationOrder  `json:"evaluation_order"`
	Channel         string                 `json:"channel"`
	Enabled         *bool                  `json:"enabled"`
	Entries         []PlaybookEntryRequest `json:"entries" binding:"required"`
}

// PlaybookEntryRequest 创建剧本条目请求
type PlaybookEntryRequest struct {
	Fingerprint      string             `json:"fingerprint" binding:"required"`
	Priority         int                `json:"priority"`
	Logic            model.ChainLogic   `json:"logic"`
	ValidityDuration int                `json:"validity_duration"`
	ValidityUnit     model.ValidityUnit `json:"validity_unit"`
	Enabled          *bool              `json:"enabled"`
}

// CreatePlaybook 创建剧本处理程序
func (h *Handlers) CreatePlaybook(c *gin.Context) {
	var req PlaybookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
		return
	}
	if len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entries不能为空"})
		return
	}

	pb := buildPlaybook(req)
	for _, entry := range pb.Entries {
		if _, err := h.registry.GetStatus(entry.Fingerprint); err != nil {
			respondError(c, err)
			return
		}
	}

	if h.store != nil {
		if err := h.store.Save(pb); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "保存剧本失败: " + err.Error()})
			return
		}
	}
	if err := h.engine.Upsert(pb); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pb})
}

// GetPlaybook 查询剧本处理程序
func (h *Handlers) GetPlaybook(c *gin.Context) {
	pb, err := h.engine.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pb})
}

// DeletePlaybook 删除剧本处理程序
func (h *Handlers) DeletePlaybook(c *gin.Context) {
	id := c.Param("id")
	if h.store != nil {
		if err := h.store.Delete(id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "删除剧本失败: " + err.Error()})
			return
		}
	}
	h.engine.Remove(id)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// EntryUpdateRequest 条目更新请求
type EntryUpdateRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// UpdatePlaybookEntry 启用/停用剧本条目处理程序
func (h *Handlers) UpdatePlaybookEntry(c *gin.Context) {
	var req EntryUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
		return
	}

	if err := h.engine.SetEntryEnabled(c.Param("id"), c.Param("entry_id"), *req.Enabled); err != nil {
		respondError(c, err)
		return
	}
	if h.store != nil {
		if err := h.store.SetEntryEnabled(c.Param("entry_id"), *req.Enabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "持久化条目状态失败: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetTriggerHistory 触发历史处理程序
func (h *Handlers) GetTriggerHistory(c *gin.Context) {
	if h.triggers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "触发历史不可用"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.triggers.History(c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询触发历史失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

// buildPlaybook 把创建请求组装为剧本模型，填缺省值
// 条目按提交顺序编号，priority相同时以此为稳定决胜
func buildPlaybook(req PlaybookRequest) *model.Playbook {
	pb := &model.Playbook{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		Name:            req.Name,
		GateLogic:       req.GateLogic,
		EvaluationOrder: req.EvaluationOrder,
		Channel:         req.Channel,
		Enabled:         req.Enabled == nil || *req.Enabled,
	}
	if pb.GateLogic == "" {
		pb.GateLogic = model.GateAll
	}
	if pb.EvaluationOrder == "" {
		pb.EvaluationOrder = model.OrderPriority
	}
	if pb.Channel == "" {
		pb.Channel = "alert"
	}

	pb.Entries = make([]model.PlaybookEntry, len(req.Entries))
	for i, e := range req.Entries {
		entry := model.PlaybookEntry{
			ID:               uuid.New().String(),
			PlaybookID:       pb.ID,
			Fingerprint:      e.Fingerprint,
			Seq:              i,
			Priority:         e.Priority,
			Logic:            e.Logic,
			ValidityDuration: e.ValidityDuration,
			ValidityUnit:     e.ValidityUnit,
			Enabled:          e.Enabled == nil || *e.Enabled,
		}
		if entry.Logic == "" {
			entry.Logic = model.ChainAnd
		}
		if entry.ValidityUnit == "" {
			entry.ValidityUnit = model.ValidityBars
		}
		pb.Entries[i] = entry
	}
	return pb
}

// respondError 按错误分类映射HTTP状态码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
