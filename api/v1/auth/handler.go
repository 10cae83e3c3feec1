package auth

import (
	"time"

	"certops/internal/auth"
	"certops/internal/config"
	"certops/internal/httpx"

	"github.com/gin-gonic/gin"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler authenticates the operator and returns a bearer token
// POST /api/v1/auth/login
func LoginHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
			return
		}

		if cfg.Admin.PasswordHash == "" {
			httpx.FailErr(c, httpx.ErrInternalError("operator credentials not configured", nil))
			return
		}

		if req.Username != cfg.Admin.Username || !auth.CheckPassword(req.Password, cfg.Admin.PasswordHash) {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid username or password"))
			return
		}

		expireAt := time.Now().Add(time.Duration(cfg.JWT.ExpireMinutes) * time.Minute)
		token, err := auth.GenerateToken(req.Username, "operator", expireAt, cfg.JWT.Issuer)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to generate token", err))
			return
		}

		httpx.OK(c, gin.H{
			"token":    token,
			"expireAt": expireAt.Unix(),
		})
	}
}
