package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"crm-telephony/internal/auth"
	"crm-telephony/internal/cache"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/config"
	"crm-telephony/internal/smartflo"
	"crm-telephony/internal/users"
	"crm-telephony/pkg/logger"
)

const historyPageSize = 20

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls      calls.Repository
	Users      users.Repository
	Reconciler *calls.Reconciler
	Smartflo   *smartflo.Client
	Cache      *cache.Store
	CacheCfg   config.CacheConfig
}

// Register mounts the authenticated CRM routes. requireAuth must be
// the access-token middleware; admin routes stack RequireAdmin on top.
func (h Handlers) Register(r gin.IRouter, requireAuth gin.HandlerFunc) {
	api := r.Group("/api", requireAuth)
	api.POST("/calls/click-to-call", h.ClickToCall)
	api.GET("/calls/history", h.CallHistory)
	api.GET("/calls/stats", h.CallStats)
	api.GET("/calls/:id", h.CallDetail)
	api.GET("/leads/:id/calls", h.LeadCalls)

	admin := api.Group("", auth.RequireAdmin())
	admin.POST("/admin/cache/invalidate", h.InvalidateCache)
}

// --- Click to call ---

type clickToCallRequest struct {
	LeadID            string `json:"lead_id"`
	DestinationNumber string `json:"destination_number"`
}

// ClickToCall originates an outbound call from the signed-in agent to
// the given number and records the initiated call so the provider's
// later webhooks reconcile against it via the correlation token.
func (h Handlers) ClickToCall(c *gin.Context) {
	if h.Smartflo == nil || h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req clickToCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.LeadID == "" || req.DestinationNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead_id and destination_number required"})
		return
	}

	agent, err := h.Users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	if agent.SmartfloAgentNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no agent number configured for user"})
		return
	}

	token := calls.NewCorrelationToken(req.LeadID, time.Now())
	resp, err := h.Smartflo.ClickToCall(c.Request.Context(), smartflo.ClickToCallRequest{
		AgentNumber:       agent.SmartfloAgentNumber,
		DestinationNumber: req.DestinationNumber,
		CustomID:          token,
	})
	if err != nil {
		logger.FromGin(c).Error("click-to-call origination failed", "lead_id", req.LeadID, "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call origination failed"})
		return
	}

	rec, err := h.Reconciler.RecordOrigination(c.Request.Context(), req.LeadID, userID,
		agent.SmartfloAgentNumber, req.DestinationNumber, h.Smartflo.CallerID(), token)
	if err != nil {
		// The call is already ringing; the webhook path will create
		// the record from the token if this insert failed.
		logger.FromGin(c).Error("record origination", "lead_id", req.LeadID, "error", err)
		c.JSON(http.StatusOK, gin.H{"success": true, "provider_call_id": resp.CallID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call_log_id": rec.ID, "provider_call_id": resp.CallID})
}

// --- Cached reads ---

func (h Handlers) CallHistory(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}

	key := cache.KeyPrefixCallHistory + userID + "_" + strconv.Itoa(page)
	if v, ok := h.Cache.Get(key); ok {
		c.JSON(http.StatusOK, v)
		return
	}

	records, err := h.Calls.ListByUser(c.Request.Context(), userID, historyPageSize, (page-1)*historyPageSize)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	body := gin.H{"page": page, "page_size": historyPageSize, "calls": records}
	h.cacheSet(c, key, body, h.CacheCfg.DefaultTTL)
	c.JSON(http.StatusOK, body)
}

func (h Handlers) CallStats(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	key := cache.KeyPrefixCallStats + userID
	if v, ok := h.Cache.Get(key); ok {
		c.JSON(http.StatusOK, v)
		return
	}

	summary, err := h.Calls.SummaryForUser(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats lookup failed"})
		return
	}
	h.cacheSet(c, key, summary, h.CacheCfg.StatsTTL)
	c.JSON(http.StatusOK, summary)
}

func (h Handlers) CallDetail(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	key := cache.KeyPrefixCallDetail + id
	if v, ok := h.Cache.Get(key); ok {
		c.JSON(http.StatusOK, v)
		return
	}

	rec, err := h.Calls.GetByID(c.Request.Context(), id)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	h.cacheSet(c, key, rec, h.CacheCfg.DetailTTL)
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) LeadCalls(c *gin.Context) {
	leadID := c.Param("id")
	if leadID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	records, err := h.Calls.ListByLead(c.Request.Context(), leadID, historyPageSize, 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lead call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lead_id": leadID, "calls": records})
}

// --- Cache admin ---

type invalidateRequest struct {
	Domain  string `json:"domain"`
	OwnerID string `json:"owner_id"`
}

func (h Handlers) InvalidateCache(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Domain == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "domain required"})
		return
	}
	removed := h.Cache.SmartInvalidate(cache.Domain(req.Domain), req.OwnerID)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h Handlers) cacheSet(c *gin.Context, key string, value any, ttl time.Duration) {
	if err := h.Cache.Set(key, value, ttl); err != nil {
		logger.FromGin(c).Warn("cache set failed", "key", key, "error", err)
	}
}
