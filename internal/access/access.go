// Package access gates course content on effective payment status.
package access

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/logging"
	"github.com/widemind/coursepay/internal/payments"
	"github.com/widemind/coursepay/internal/users"
)

// RequirePaid allows admins and effectively paid users through; everyone else
// gets 402. Assumes an auth middleware already populated the identity keys.
func RequirePaid(engine *payments.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") == users.RoleAdmin {
			c.Next()
			return
		}

		userID := c.GetString("userID")
		status, err := engine.EffectiveStatus(c.Request.Context(), userID)
		if err != nil {
			logging.L(c.Request.Context()).Error("access check failed", "user", userID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Could not determine payment status",
			})
			return
		}
		if status != payments.StatusPaid {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":   "payment_required",
				"message": "Course access requires payment",
			})
			return
		}
		c.Next()
	}
}
