package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"booth-pos/middlewares"
	"booth-pos/utils"
)

type AuthController struct {
	auth *middlewares.Authenticator
	ttl  time.Duration
	now  func() time.Time
	log  logrus.FieldLogger
}

func NewAuthController(auth *middlewares.Authenticator, ttl time.Duration, log logrus.FieldLogger) *AuthController {
	return &AuthController{auth: auth, ttl: ttl, now: time.Now, log: log.WithField("component", "auth_api")}
}

type loginRequest struct {
	Role     utils.Role `json:"role" binding:"required"`
	Password string     `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	Role      utils.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Login trades a role password for a signed token.
func (ac *AuthController) Login(c *gin.Context) {
	defer middlewares.RecordOperation(c, "login")

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "role and password are required")
		return
	}
	if !ac.auth.CheckPassword(req.Role, req.Password) {
		ac.log.WithField("role", req.Role).Warn("login rejected")
		respondError(c, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
		return
	}
	if len(ac.auth.Secret()) == 0 {
		respondError(c, http.StatusServiceUnavailable, CodeInternal, "token signing is not configured")
		return
	}

	token, expires, err := utils.GenerateToken(ac.auth.Secret(), req.Role, ac.ttl, ac.now())
	if err != nil {
		respondServiceError(c, ac.log, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, Role: req.Role, ExpiresAt: expires})
}
