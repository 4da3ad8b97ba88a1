// Package webhook receives gateway event deliveries. Signature verification
// happens over the raw body before any parsing; everything after a valid
// signature is acknowledged with 200 so the gateway stops redelivering, with
// reconciliation outcomes recorded in logs and metrics instead of the status
// code.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/widemind/coursepay/internal/logging"
	"github.com/widemind/coursepay/internal/metrics"
	"github.com/widemind/coursepay/internal/payments"
	"github.com/widemind/coursepay/internal/paystack"
	"github.com/widemind/coursepay/internal/users"
)

// Gateway deliveries are small; anything larger is hostile.
const maxBodyBytes = 512 * 1024

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Paystack-Signature"

// UserResolver maps a gateway customer email to a local user ID.
type UserResolver interface {
	ResolveUserByEmail(ctx context.Context, email string) (string, error)
}

// Handler receives gateway webhook deliveries.
type Handler struct {
	engine *payments.Engine
	users  UserResolver
	secret string
}

// NewHandler creates a webhook handler. secret is the gateway signing key.
func NewHandler(engine *payments.Engine, resolver UserResolver, secret string) *Handler {
	return &Handler{engine: engine, users: resolver, secret: secret}
}

// RegisterRoutes sets up the webhook route. Unauthenticated by design; the
// signature is the authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhook/paystack", h.Receive)
}

// event is the envelope of one gateway delivery.
type event struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// Receive handles POST /webhook/paystack
func (h *Handler) Receive(c *gin.Context) {
	log := logging.L(c.Request.Context())

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("read_error").Inc()
		c.Status(http.StatusBadRequest)
		return
	}

	if !paystack.VerifySignature(body, c.GetHeader(SignatureHeader), h.secret) {
		metrics.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		log.Warn("webhook rejected, bad signature", "remote", c.ClientIP())
		c.Status(http.StatusUnauthorized)
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		log.Warn("webhook rejected, malformed payload", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}

	if ev.Event != "charge.success" {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		log.Debug("webhook event ignored", "event", ev.Event)
		c.JSON(http.StatusOK, gin.H{"message": "ignored"})
		return
	}

	// A charge.success without a reference, customer, or positive amount can
	// never reconcile; 400 here rather than a 500 that invites redelivery.
	if ev.Data.Reference == "" || ev.Data.Customer.Email == "" || ev.Data.Amount <= 0 {
		metrics.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		log.Warn("charge.success missing reference, customer email, or amount")
		c.Status(http.StatusBadRequest)
		return
	}

	userID, err := h.users.ResolveUserByEmail(c.Request.Context(), ev.Data.Customer.Email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			// No matching account. Acknowledge so the gateway stops retrying
			// a delivery that can never attach; the reference stays unspent.
			metrics.WebhookEventsTotal.WithLabelValues("unknown_user").Inc()
			log.Warn("charge.success for unknown customer", "reference", ev.Data.Reference)
			c.JSON(http.StatusOK, gin.H{"message": "no matching account"})
			return
		}
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		log.Error("webhook user lookup failed", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	result, err := h.engine.ApplyGatewaySuccess(c.Request.Context(), ev.Data.Reference, ev.Data.Amount, userID)
	if err != nil {
		if errors.Is(err, payments.ErrUserNotFound) {
			metrics.WebhookEventsTotal.WithLabelValues("unknown_user").Inc()
			c.JSON(http.StatusOK, gin.H{"message": "no payment record"})
			return
		}
		// Transient fault: 500 invites a redelivery, which is safe to replay.
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		log.Error("webhook reconciliation failed", "reference", ev.Data.Reference, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	c.JSON(http.StatusOK, gin.H{"result": string(result)})
}
