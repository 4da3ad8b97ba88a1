package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/users"
)

// SessionCookie is the browser-facing token carrier. API clients may send
// the same token as a bearer header instead.
const SessionCookie = "coursepay_session"

// tokenFrom extracts the session token from the request, header first.
func tokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// RequireUser rejects unauthenticated requests and publishes the account
// identity to downstream handlers via userID, userEmail and userRole.
func (m *Manager) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := m.Validate(c.Request.Context(), tokenFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Login required",
			})
			return
		}
		c.Set("userID", u.ID)
		c.Set("userEmail", u.Email)
		c.Set("userRole", u.Role)
		c.Next()
	}
}

// RequireAdmin builds on RequireUser and additionally rejects non-admins.
func (m *Manager) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := m.Validate(c.Request.Context(), tokenFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Login required",
			})
			return
		}
		if u.Role != users.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access required",
			})
			return
		}
		c.Set("userID", u.ID)
		c.Set("userEmail", u.Email)
		c.Set("userRole", u.Role)
		c.Next()
	}
}
