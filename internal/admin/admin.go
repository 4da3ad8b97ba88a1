// Package admin is the operator surface: user listing, payment inspection,
// and the override controls that outrank gateway history.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/logging"
	"github.com/widemind/coursepay/internal/payments"
	"github.com/widemind/coursepay/internal/users"
)

// Handler provides admin-only endpoints. All routes assume RequireAdmin ran.
type Handler struct {
	users  *users.Service
	engine *payments.Engine
}

// NewHandler creates an admin handler.
func NewHandler(userSvc *users.Service, engine *payments.Engine) *Handler {
	return &Handler{users: userSvc, engine: engine}
}

// RegisterRoutes sets up admin routes on an already-guarded group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id/payment", h.GetPayment)
	r.POST("/users/:id/mark-paid", h.TogglePaid)
	r.POST("/users/:id/clear-override", h.ClearOverride)
	r.POST("/users/:id/suspend", h.Suspend)
	r.POST("/users/:id/unsuspend", h.Unsuspend)
	r.DELETE("/users/:id", h.DeleteUser)
}

// userView joins the account with its effective payment status.
type userView struct {
	*users.User
	PaymentStatus string `json:"paymentStatus"`
}

// ListUsers handles GET /api/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	all, err := h.users.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}

	out := make([]userView, 0, len(all))
	for _, u := range all {
		view := userView{User: u, PaymentStatus: "admin"}
		if u.Role != users.RoleAdmin {
			status, err := h.engine.EffectiveStatus(c.Request.Context(), u.ID)
			if err != nil {
				// A user without a record shows as unpaid rather than
				// breaking the whole listing.
				status = payments.StatusUnpaid
			}
			view.PaymentStatus = string(status)
		}
		out = append(out, view)
	}

	c.JSON(http.StatusOK, gin.H{"users": out, "count": len(out)})
}

// GetPayment handles GET /api/admin/users/:id/payment
func (h *Handler) GetPayment(c *gin.Context) {
	rec, err := h.engine.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, payments.ErrUserNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record": rec,
		"status": string(rec.Effective()),
	})
}

// TogglePaid handles POST /api/admin/users/:id/mark-paid
//
// Flips the override: an effectively paid user becomes forced unpaid, an
// effectively unpaid user becomes forced paid. Admin accounts have no payment
// status to flip and are refused.
func (h *Handler) TogglePaid(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	subject, err := h.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}
	if subject.Role == users.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "admin_subject",
			"message": "Admin accounts have no payment status",
		})
		return
	}

	status, err := h.engine.EffectiveStatus(ctx, id)
	if err != nil {
		if errors.Is(err, payments.ErrUserNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}

	next := payments.OverrideForcedPaid
	if status == payments.StatusPaid {
		next = payments.OverrideForcedUnpaid
	}
	if err := h.engine.SetOverride(ctx, id, next); err != nil {
		h.internalError(c, err)
		return
	}

	logging.L(ctx).Info("admin toggled payment status",
		"admin", c.GetString("userID"), "subject", id, "override", string(next))
	c.JSON(http.StatusOK, gin.H{
		"override": string(next),
		"status":   string(effectiveAfterOverride(next)),
	})
}

// ClearOverride handles POST /api/admin/users/:id/clear-override
func (h *Handler) ClearOverride(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.engine.ClearOverride(ctx, id); err != nil {
		if errors.Is(err, payments.ErrUserNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}

	status, err := h.engine.EffectiveStatus(ctx, id)
	if err != nil {
		h.internalError(c, err)
		return
	}
	logging.L(ctx).Info("admin cleared override",
		"admin", c.GetString("userID"), "subject", id)
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

// Suspend handles POST /api/admin/users/:id/suspend
func (h *Handler) Suspend(c *gin.Context) {
	h.setSuspended(c, true)
}

// Unsuspend handles POST /api/admin/users/:id/unsuspend
func (h *Handler) Unsuspend(c *gin.Context) {
	h.setSuspended(c, false)
}

func (h *Handler) setSuspended(c *gin.Context, suspended bool) {
	id := c.Param("id")
	if id == c.GetString("userID") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "self_target",
			"message": "Cannot change suspension on your own account",
		})
		return
	}
	if err := h.users.SetSuspended(c.Request.Context(), id, suspended); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspended": suspended})
}

// DeleteUser handles DELETE /api/admin/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == c.GetString("userID") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "self_target",
			"message": "Cannot delete your own account",
		})
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func effectiveAfterOverride(o payments.OverrideStatus) payments.EffectiveStatus {
	if o == payments.OverrideForcedPaid {
		return payments.StatusPaid
	}
	return payments.StatusUnpaid
}

func (h *Handler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "No such user",
	})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("admin operation failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
