package certificates

import (
	"strconv"

	"certops/internal/httpx"
	"certops/internal/model"
	"certops/internal/pipeline"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler handles certificate queries
type Handler struct {
	db    *gorm.DB
	store *pipeline.Store
}

// NewHandler creates a certificates handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, store: pipeline.NewStore(db)}
}

// List returns issued certificates, paginated
// GET /api/v1/certificates?page=&pageSize=
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	certs, total, err := h.store.ListCertificates(page, pageSize)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list certificates", err))
		return
	}

	httpx.OKItems(c, certs, total, page, pageSize)
}

// Get returns one certificate by fingerprint
// GET /api/v1/certificates/:fingerprint
func (h *Handler) Get(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	var cert model.Certificate
	err := h.db.Where("fingerprint = ?", fingerprint).First(&cert).Error
	if err == gorm.ErrRecordNotFound {
		httpx.FailErr(c, httpx.ErrNotFound("certificate not found"))
		return
	}
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query certificate", err))
		return
	}

	httpx.OK(c, cert)
}
