package courses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/logging"
)

// Handler provides the read-only catalog endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a course handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up catalog routes. The caller wraps the group with the
// payment gate; nothing here checks access.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/courses", h.ListCourses)
	r.GET("/courses/:id", h.GetCourse)
	r.GET("/courses/:id/materials", h.ListMaterials)
}

// ListCourses handles GET /api/courses
func (h *Handler) ListCourses(c *gin.Context) {
	all, err := h.store.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": all, "count": len(all)})
}

// GetCourse handles GET /api/courses/:id
func (h *Handler) GetCourse(c *gin.Context) {
	course, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

// ListMaterials handles GET /api/courses/:id/materials
func (h *Handler) ListMaterials(c *gin.Context) {
	mats, err := h.store.Materials(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.notFound(c)
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": mats, "count": len(mats)})
}

func (h *Handler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "No such course",
	})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("catalog read failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
