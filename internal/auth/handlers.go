package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/logging"
	"github.com/widemind/coursepay/internal/users"
)

// Handler provides registration and session endpoints.
type Handler struct {
	manager *Manager
	users   *users.Service
	secure  bool
}

// NewHandler creates an auth handler. secure controls the cookie's Secure
// flag; only off for local development.
func NewHandler(manager *Manager, userSvc *users.Service, secure bool) *Handler {
	return &Handler{manager: manager, users: userSvc, secure: secure}
}

// RegisterRoutes sets up the public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /api/register
func (h *Handler) Register(c *gin.Context) {
	var in users.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	u, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "email_taken",
				"message": "An account with this email already exists",
			})
		case errors.Is(err, users.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Name, valid email and a password of at least 8 characters are required",
			})
		default:
			logging.L(c.Request.Context()).Error("registration failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Could not create account",
			})
		}
		return
	}

	h.startSession(c, u, http.StatusCreated)
}

// Login handles POST /api/login
func (h *Handler) Login(c *gin.Context) {
	var in loginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	u, err := h.users.Authenticate(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, users.ErrSuspended) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "suspended",
				"message": "This account is suspended",
			})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Invalid email or password",
		})
		return
	}

	h.startSession(c, u, http.StatusOK)
}

// Logout handles POST /api/logout
func (h *Handler) Logout(c *gin.Context) {
	h.manager.Revoke(c.Request.Context(), tokenFrom(c))
	c.SetCookie(SessionCookie, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// startSession issues a token, sets the cookie, and renders the account.
func (h *Handler) startSession(c *gin.Context, u *users.User, status int) {
	token, err := h.manager.Issue(c.Request.Context(), u.ID)
	if err != nil {
		logging.L(c.Request.Context()).Error("session issue failed", "user", u.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not start session",
		})
		return
	}

	maxAge := int(h.manager.TTL().Seconds())
	c.SetCookie(SessionCookie, token, maxAge, "/", "", h.secure, true)
	c.JSON(status, gin.H{
		"token": token,
		"user":  u,
	})
}
