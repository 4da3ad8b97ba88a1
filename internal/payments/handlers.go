package payments

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/logging"
	"github.com/widemind/coursepay/internal/paystack"
)

// Initializer is the slice of the gateway client used to start a checkout.
type Initializer interface {
	Initialize(ctx context.Context, email string, amount int64, callbackURL string) (*paystack.InitResult, error)
}

// UserResolver maps a gateway customer email to a local user ID. The callback
// redirect carries no session, so it is the only way to attribute a reference.
type UserResolver interface {
	ResolveUserByEmail(ctx context.Context, email string) (string, error)
}

// Handler provides the user-facing payment endpoints.
type Handler struct {
	engine   *Engine
	verifier *Verifier
	gateway  Initializer
	users    UserResolver
	baseURL  string
}

// NewHandler creates a new payment handler. baseURL is the externally visible
// origin used to build the gateway callback URL.
func NewHandler(engine *Engine, verifier *Verifier, gateway Initializer, users UserResolver, baseURL string) *Handler {
	return &Handler{engine: engine, verifier: verifier, gateway: gateway, users: users, baseURL: baseURL}
}

// RegisterRoutes sets up authenticated payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payment/init", h.InitPayment)
	r.GET("/payment/status", h.PaymentStatus)
}

// RegisterCallbackRoute sets up the browser-redirect callback. The gateway
// sends the user here after checkout; it carries no session, only a reference.
func (h *Handler) RegisterCallbackRoute(r *gin.RouterGroup) {
	r.GET("/payment/callback", h.PaymentCallback)
}

// InitPayment handles POST /api/payment/init
func (h *Handler) InitPayment(c *gin.Context) {
	userID := c.GetString("userID")
	email := c.GetString("userEmail")

	if c.GetString("userRole") == "admin" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "admin_account",
			"message": "Admin accounts do not purchase access",
		})
		return
	}

	status, err := h.engine.EffectiveStatus(c.Request.Context(), userID)
	if err != nil {
		h.renderStatusError(c, err)
		return
	}
	if status == StatusPaid {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_paid",
			"message": "Access is already paid for",
		})
		return
	}

	callbackURL := h.baseURL + "/payment/callback"
	init, err := h.gateway.Initialize(c.Request.Context(), email, h.engine.AmountExpected(), callbackURL)
	if err != nil {
		logging.L(c.Request.Context()).Error("payment initialization failed", "user", userID, "error", err)
		if errors.Is(err, paystack.ErrGatewayUnreachable) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "gateway_unreachable",
				"message": "Payment gateway is unavailable, try again shortly",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not initialize payment",
		})
		return
	}

	if err := h.engine.TrackPendingReference(c.Request.Context(), userID, init.Reference); err != nil {
		h.renderStatusError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": init.AuthorizationURL,
		"access_code":       init.AccessCode,
		"reference":         init.Reference,
	})
}

// PaymentStatus handles GET /api/payment/status
//
// Admins report "admin" rather than a payment status. For regular users the
// local record is authoritative, except that an unpaid record with a pending
// reference triggers one pull verification so a missed webhook still resolves.
func (h *Handler) PaymentStatus(c *gin.Context) {
	if c.GetString("userRole") == "admin" {
		c.JSON(http.StatusOK, gin.H{"status": "admin"})
		return
	}
	userID := c.GetString("userID")

	rec, err := h.engine.Record(c.Request.Context(), userID)
	if err != nil {
		h.renderStatusError(c, err)
		return
	}

	status := rec.Effective()
	if status == StatusUnpaid && rec.PendingReference != "" {
		outcome, verr := h.verifier.Confirm(c.Request.Context(), userID, rec.PendingReference)
		switch {
		case verr != nil:
			logging.L(c.Request.Context()).Error("pull verification failed", "user", userID, "error", verr)
		case outcome.Status != status:
			status = outcome.Status
			// The transition stamped reference and paidAt; reflect them.
			if fresh, gerr := h.engine.Record(c.Request.Context(), userID); gerr == nil {
				rec = fresh
			}
		}
	}

	c.JSON(http.StatusOK, statusBody(rec, status))
}

// statusBody renders the payment status contract: status, amount, reference,
// and paidAt (null until the paid transition).
func statusBody(rec *Record, status EffectiveStatus) gin.H {
	body := gin.H{
		"status":    string(status),
		"amount":    rec.AmountExpected,
		"reference": rec.Reference,
		"paidAt":    nil,
	}
	if !rec.PaidAt.IsZero() {
		body["paidAt"] = rec.PaidAt
	}
	return body
}

// PaymentCallback handles GET /payment/callback?reference=...
//
// Redirect target after gateway checkout. The reference in the query string is
// untrusted browser input, so the outcome comes from verify-by-reference, never
// from the redirect itself.
func (h *Handler) PaymentCallback(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}
	if reference == "" {
		c.Redirect(http.StatusFound, "/?payment=failed")
		return
	}

	flag := h.resolveCallback(c.Request.Context(), reference)
	c.Redirect(http.StatusFound, "/?payment="+url.QueryEscape(flag))
}

// resolveCallback maps a callback reference to a redirect flag. Gateway
// unreachability is not a verdict: the redirect says pending and a later
// webhook or status poll settles the reference.
func (h *Handler) resolveCallback(ctx context.Context, reference string) string {
	result, err := h.gatewayVerify(ctx, reference)
	if errors.Is(err, paystack.ErrGatewayUnreachable) {
		logging.L(ctx).Warn("callback verification deferred, gateway unreachable", "reference", reference)
		return "pending"
	}
	if err != nil {
		logging.L(ctx).Warn("callback verification failed", "reference", reference, "error", err)
		return "failed"
	}
	switch result {
	case Transitioned, Duplicate, NoOpAlreadyPaid, AlreadyOverridden:
		return "success"
	case InvalidAmount:
		return "invalid_amount"
	case BlockedByOverride:
		return "blocked"
	default:
		return "failed"
	}
}

// gatewayVerify verifies reference with the gateway and, on success, feeds it
// through reconciliation, attributing it by the gateway's customer email.
func (h *Handler) gatewayVerify(ctx context.Context, reference string) (Result, error) {
	vr, err := h.verifier.gateway.Verify(ctx, reference)
	if err != nil {
		return "", err
	}
	if !vr.Success {
		return "", paystack.ErrTransactionFailed
	}
	userID, err := h.users.ResolveUserByEmail(ctx, vr.CustomerEmail)
	if err != nil {
		return "", err
	}
	return h.engine.ApplyGatewaySuccess(ctx, vr.Reference, vr.Amount, userID)
}

func (h *Handler) renderStatusError(c *gin.Context, err error) {
	if errors.Is(err, ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No payment record for this user",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
