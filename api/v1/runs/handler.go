package runs

import (
	"strconv"

	"certops/internal/httpx"
	"certops/internal/model"
	"certops/internal/pipeline"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler handles issuance run requests
type Handler struct {
	store *pipeline.Store
}

// NewHandler creates a runs handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{store: pipeline.NewStore(db)}
}

// CreateRequest enqueues a new issuance run
type CreateRequest struct {
	Domain      string `json:"domain" binding:"required"`
	Target      string `json:"target" binding:"required"`
	Site        string `json:"site" binding:"required"`
	Port        int    `json:"port"`
	Environment string `json:"environment"`
	MaxAttempts int    `json:"maxAttempts"`
}

// Create enqueues a run; the worker picks it up
// POST /api/v1/runs
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	if req.Environment != "" &&
		req.Environment != model.EnvironmentProduction &&
		req.Environment != model.EnvironmentStaging {
		httpx.FailErr(c, httpx.ErrParamInvalid("environment must be production or staging"))
		return
	}

	request := &model.IssuanceRequest{
		Domain:      req.Domain,
		Target:      req.Target,
		Site:        req.Site,
		Port:        req.Port,
		Environment: req.Environment,
		MaxAttempts: req.MaxAttempts,
	}
	if err := h.store.CreateRequest(request); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to enqueue run", err))
		return
	}

	httpx.OK(c, request)
}

// Get returns one run by ID
// GET /api/v1/runs/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid run id"))
		return
	}

	request, err := h.store.GetRequest(id)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query run", err))
		return
	}
	if request == nil {
		httpx.FailErr(c, httpx.ErrNotFound("run not found"))
		return
	}

	httpx.OK(c, request)
}

// List returns runs, paginated and optionally filtered
// GET /api/v1/runs?status=&domain=&page=&pageSize=
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if domain := c.Query("domain"); domain != "" {
		filters["domain"] = domain
	}

	requests, total, err := h.store.ListRequests(page, pageSize, filters)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list runs", err))
		return
	}

	httpx.OKItems(c, requests, total, page, pageSize)
}

// Retry requeues a failed run
// POST /api/v1/runs/:id/retry
func (h *Handler) Retry(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid run id"))
		return
	}

	request, err := h.store.GetRequest(id)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query run", err))
		return
	}
	if request == nil {
		httpx.FailErr(c, httpx.ErrNotFound("run not found"))
		return
	}

	if err := h.store.ResetRetry(id); err != nil {
		httpx.FailErr(c, httpx.ErrStateConflict("only failed runs can be retried"))
		return
	}

	httpx.OK(c, gin.H{"id": id, "status": model.IssuanceRequestStatusPending})
}

// Activity returns the audit trail of one run
// GET /api/v1/runs/:id/activity
func (h *Handler) Activity(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid run id"))
		return
	}

	request, err := h.store.GetRequest(id)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query run", err))
		return
	}
	if request == nil {
		httpx.FailErr(c, httpx.ErrNotFound("run not found"))
		return
	}

	entries, err := h.store.ListActivity(request.RunID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list activity", err))
		return
	}

	httpx.OK(c, entries)
}
