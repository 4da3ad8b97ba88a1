package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/widemind/coursepay/internal/payments"
)

const testAmount int64 = 10000

func setupGate(t *testing.T) (*gin.Engine, *payments.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := payments.NewEngine(payments.NewMemoryStore(), testAmount, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", c.GetHeader("X-Test-User"))
		c.Set("userRole", c.GetHeader("X-Test-Role"))
		c.Next()
	})
	r.GET("/courses", RequirePaid(engine), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r, engine
}

func get(r *gin.Engine, user, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/courses", nil)
	req.Header.Set("X-Test-User", user)
	req.Header.Set("X-Test-Role", role)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequirePaid_UnpaidGets402(t *testing.T) {
	r, engine := setupGate(t)
	require.NoError(t, engine.CreateRecord(context.Background(), "usr_1"))

	w := get(r, "usr_1", "user")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestRequirePaid_PaidPasses(t *testing.T) {
	r, engine := setupGate(t)
	ctx := context.Background()
	require.NoError(t, engine.CreateRecord(ctx, "usr_1"))
	_, err := engine.ApplyGatewaySuccess(ctx, "ref_1", testAmount, "usr_1")
	require.NoError(t, err)

	w := get(r, "usr_1", "user")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePaid_AdminBypasses(t *testing.T) {
	r, _ := setupGate(t)
	w := get(r, "usr_admin", "admin")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePaid_ForcedUnpaidBlocked(t *testing.T) {
	r, engine := setupGate(t)
	ctx := context.Background()
	require.NoError(t, engine.CreateRecord(ctx, "usr_1"))
	_, err := engine.ApplyGatewaySuccess(ctx, "ref_1", testAmount, "usr_1")
	require.NoError(t, err)
	require.NoError(t, engine.SetOverride(ctx, "usr_1", payments.OverrideForcedUnpaid))

	w := get(r, "usr_1", "user")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestRequirePaid_ForcedPaidPasses(t *testing.T) {
	r, engine := setupGate(t)
	ctx := context.Background()
	require.NoError(t, engine.CreateRecord(ctx, "usr_1"))
	require.NoError(t, engine.SetOverride(ctx, "usr_1", payments.OverrideForcedPaid))

	w := get(r, "usr_1", "user")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePaid_MissingRecordIs500(t *testing.T) {
	r, _ := setupGate(t)
	w := get(r, "usr_ghost", "user")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
