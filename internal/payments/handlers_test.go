package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/widemind/coursepay/internal/paystack"
)

type fakeInitializer struct {
	result *paystack.InitResult
	err    error
}

func (f *fakeInitializer) Initialize(ctx context.Context, email string, amount int64, callbackURL string) (*paystack.InitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeResolver struct {
	users map[string]string // email -> userID
}

func (f *fakeResolver) ResolveUserByEmail(ctx context.Context, email string) (string, error) {
	if id, ok := f.users[email]; ok {
		return id, nil
	}
	return "", errors.New("no user for email")
}

type handlerFixture struct {
	router  *gin.Engine
	engine  *Engine
	gateway *fakeGateway
	init    *fakeInitializer
}

func setupHandlerTestRouter(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine, _ := newTestEngine(t)
	gw := &fakeGateway{}
	init := &fakeInitializer{result: &paystack.InitResult{
		AuthorizationURL: "https://checkout.paystack.com/abc",
		AccessCode:       "abc",
		Reference:        "ref_init",
	}}
	verifier := NewVerifier(gw, engine, nil)
	resolver := &fakeResolver{users: map[string]string{"ada@example.com": "usr_1"}}
	handler := NewHandler(engine, verifier, init, resolver, "https://coursepay.example.com")

	r := gin.New()

	// Simulate auth middleware
	api := r.Group("/api")
	api.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set("userID", id)
			c.Set("userEmail", c.GetHeader("X-Test-Email"))
			c.Set("userRole", c.GetHeader("X-Test-Role"))
		}
		c.Next()
	})
	handler.RegisterRoutes(api)
	handler.RegisterCallbackRoute(r.Group(""))

	return &handlerFixture{router: r, engine: engine, gateway: gw, init: init}
}

func doRequest(f *handlerFixture, method, path, user, email, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Email", email)
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHandler_InitPayment_ReturnsAuthorizationURL(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")

	w := doRequest(f, http.MethodPost, "/api/payment/init", "usr_1", "ada@example.com", "user")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://checkout.paystack.com/abc", body["authorization_url"])
	assert.Equal(t, "ref_init", body["reference"])

	// The pending reference is tracked for later status polls.
	rec, err := f.engine.Record(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "ref_init", rec.PendingReference)
}

func TestHandler_InitPayment_RefusesAdmins(t *testing.T) {
	f := setupHandlerTestRouter(t)

	w := doRequest(f, http.MethodPost, "/api/payment/init", "usr_admin", "root@example.com", "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "admin_account")
}

func TestHandler_InitPayment_AlreadyPaid(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	_, err := f.engine.ApplyGatewaySuccess(context.Background(), "ref_0", testAmount, "usr_1")
	require.NoError(t, err)

	w := doRequest(f, http.MethodPost, "/api/payment/init", "usr_1", "ada@example.com", "user")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_InitPayment_GatewayUnreachable(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	f.init.err = paystack.ErrGatewayUnreachable

	w := doRequest(f, http.MethodPost, "/api/payment/init", "usr_1", "ada@example.com", "user")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandler_PaymentStatus_AdminShortCircuits(t *testing.T) {
	f := setupHandlerTestRouter(t)

	w := doRequest(f, http.MethodGet, "/api/payment/status", "usr_admin", "root@example.com", "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"admin"}`, w.Body.String())
}

func TestHandler_PaymentStatus_Unpaid(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")

	w := doRequest(f, http.MethodGet, "/api/payment/status", "usr_1", "ada@example.com", "user")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"unpaid","amount":10000,"reference":"","paidAt":null}`, w.Body.String())
	assert.Zero(t, f.gateway.calls, "no pending reference, no pull verification")
}

func TestHandler_PaymentStatus_PaidCarriesReferenceAndPaidAt(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	_, err := f.engine.ApplyGatewaySuccess(context.Background(), "ref_done", testAmount, "usr_1")
	require.NoError(t, err)

	w := doRequest(f, http.MethodGet, "/api/payment/status", "usr_1", "ada@example.com", "user")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "paid", body["status"])
	assert.Equal(t, float64(testAmount), body["amount"])
	assert.Equal(t, "ref_done", body["reference"])
	assert.NotEmpty(t, body["paidAt"])
}

func TestHandler_PaymentStatus_PendingTriggersPullVerification(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	require.NoError(t, f.engine.TrackPendingReference(context.Background(), "usr_1", "ref_p"))
	f.gateway.result = &paystack.VerifyResult{Success: true, Amount: testAmount, Reference: "ref_p"}

	w := doRequest(f, http.MethodGet, "/api/payment/status", "usr_1", "ada@example.com", "user")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.gateway.calls)

	// The response reflects the record the verification just transitioned.
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "paid", body["status"])
	assert.Equal(t, "ref_p", body["reference"])
	assert.NotEmpty(t, body["paidAt"])
}

func TestHandler_PaymentStatus_PullVerificationFallback(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	require.NoError(t, f.engine.TrackPendingReference(context.Background(), "usr_1", "ref_p"))
	f.gateway.err = paystack.ErrGatewayUnreachable

	w := doRequest(f, http.MethodGet, "/api/payment/status", "usr_1", "ada@example.com", "user")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"unpaid","amount":10000,"reference":"","paidAt":null}`, w.Body.String())
}

func TestHandler_PaymentStatus_UnknownUser(t *testing.T) {
	f := setupHandlerTestRouter(t)

	w := doRequest(f, http.MethodGet, "/api/payment/status", "usr_ghost", "ghost@example.com", "user")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_PaymentCallback_SuccessRedirect(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	f.gateway.result = &paystack.VerifyResult{
		Success:       true,
		Amount:        testAmount,
		Reference:     "ref_cb",
		CustomerEmail: "ada@example.com",
	}

	w := doRequest(f, http.MethodGet, "/payment/callback?reference=ref_cb", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=success", w.Header().Get("Location"))

	status, err := f.engine.EffectiveStatus(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, status)
}

func TestHandler_PaymentCallback_TrxrefFallback(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	f.gateway.result = &paystack.VerifyResult{
		Success:       true,
		Amount:        testAmount,
		Reference:     "ref_cb",
		CustomerEmail: "ada@example.com",
	}

	w := doRequest(f, http.MethodGet, "/payment/callback?trxref=ref_cb", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=success", w.Header().Get("Location"))
}

func TestHandler_PaymentCallback_InvalidAmountRedirect(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	f.gateway.result = &paystack.VerifyResult{
		Success:       true,
		Amount:        1,
		Reference:     "ref_cb",
		CustomerEmail: "ada@example.com",
	}

	w := doRequest(f, http.MethodGet, "/payment/callback?reference=ref_cb", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=invalid_amount", w.Header().Get("Location"))
}

func TestHandler_PaymentCallback_BlockedRedirect(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	require.NoError(t, f.engine.SetOverride(context.Background(), "usr_1", OverrideForcedUnpaid))
	f.gateway.result = &paystack.VerifyResult{
		Success:       true,
		Amount:        testAmount,
		Reference:     "ref_cb",
		CustomerEmail: "ada@example.com",
	}

	w := doRequest(f, http.MethodGet, "/payment/callback?reference=ref_cb", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=blocked", w.Header().Get("Location"))
}

func TestHandler_PaymentCallback_MissingReference(t *testing.T) {
	f := setupHandlerTestRouter(t)

	w := doRequest(f, http.MethodGet, "/payment/callback", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=failed", w.Header().Get("Location"))
}

func TestHandler_PaymentCallback_GatewayUnreachableIsPending(t *testing.T) {
	f := setupHandlerTestRouter(t)
	mustCreate(t, f.engine, "usr_1")
	f.gateway.err = paystack.ErrGatewayUnreachable

	// No confirmation is not a failure: the redirect defers to a later
	// webhook or status poll instead of telling the user the charge failed.
	w := doRequest(f, http.MethodGet, "/payment/callback?reference=ref_cb", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=pending", w.Header().Get("Location"))

	status, err := f.engine.EffectiveStatus(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnpaid, status)
}

func TestHandler_PaymentCallback_FailedCharge(t *testing.T) {
	f := setupHandlerTestRouter(t)
	f.gateway.result = &paystack.VerifyResult{Success: false, Reference: "ref_cb"}

	w := doRequest(f, http.MethodGet, "/payment/callback?reference=ref_cb", "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?payment=failed", w.Header().Get("Location"))
}
