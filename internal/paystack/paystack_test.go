package paystack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("sk_test_secret", WithBaseURL(srv.URL), WithTimeout(2*time.Second)), srv
}

func TestVerify_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref_abc", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"status": "success",
				"amount": 10000,
				"reference": "ref_abc",
				"customer": {"email": "student@example.com"}
			}
		}`))
	})

	result, err := client.Verify(context.Background(), "ref_abc")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(10000), result.Amount)
	assert.Equal(t, "ref_abc", result.Reference)
	assert.Equal(t, "student@example.com", result.CustomerEmail)
}

func TestVerify_FailedCharge(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": true,
			"data": {"status": "failed", "amount": 10000, "reference": "ref_x", "customer": {"email": "a@b.c"}}
		}`))
	})

	result, err := client.Verify(context.Background(), "ref_x")
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestVerify_EmptyReference(t *testing.T) {
	client := NewClient("sk_test_secret")
	_, err := client.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestVerify_UnknownReference(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status": false, "message": "Transaction reference not found"}`))
	})

	_, err := client.Verify(context.Background(), "ref_unknown")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestVerify_ServerErrorRetriesThenUnreachable(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Verify(context.Background(), "ref_abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayUnreachable)
	assert.Equal(t, int32(verifyAttempts), calls.Load(), "5xx should be retried")
}

func TestVerify_TransientErrorRecovers(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{
			"status": true,
			"data": {"status": "success", "amount": 10000, "reference": "ref_abc", "customer": {"email": "a@b.c"}}
		}`))
	})

	result, err := client.Verify(context.Background(), "ref_abc")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVerify_TimeoutIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient("sk_test_secret", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := client.Verify(context.Background(), "ref_abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayUnreachable)
}

func TestInitialize_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)

		_, _ = w.Write([]byte(`{
			"status": true,
			"data": {
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code": "abc123",
				"reference": "ref_new"
			}
		}`))
	})

	result, err := client.Initialize(context.Background(), "student@example.com", 10000, "https://app.example.com/payment/callback")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc123", result.AuthorizationURL)
	assert.Equal(t, "ref_new", result.Reference)
}

func TestInitialize_GatewayDeclines(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid email address"}`))
	})

	_, err := client.Initialize(context.Background(), "not-an-email", 10000, "https://app.example.com/cb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid email address")
}

func TestInitialize_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status": false, "message": "amount required"}`))
	})

	_, err := client.Initialize(context.Background(), "a@b.c", 0, "https://cb")
	require.Error(t, err)

	var se *statusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, int32(1), calls.Load())
}
