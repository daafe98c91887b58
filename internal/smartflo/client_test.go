package smartflo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-telephony/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.SmartfloConfig{
		BaseURL:    srv.URL,
		Email:      "agent@example.com",
		Password:   "pw",
		CallerID:   "8888888888",
		MaxRetries: 2,
	})
	c.sleep = func(time.Duration) {}
	return c
}

func loginOK(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(loginResponse{AccessToken: "tok-1", ExpiresIn: 3600})
}

func TestClient_LoginAndClickToCall(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		loginOK(w)
	})
	mux.HandleFunc("/v1/click_to_call", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req ClickToCallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "8888888888", req.CallerID)
		json.NewEncoder(w).Encode(ClickToCallResponse{Success: true, CallID: "prov-1"})
	})

	c := newTestClient(t, mux)
	resp, err := c.ClickToCall(context.Background(), ClickToCallRequest{
		AgentNumber:       "1001",
		DestinationNumber: "9999999999",
		CustomID:          "CRM_lead42_1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", resp.CallID)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestClient_TokenReusedUntilExpiry(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		loginOK(w)
	})
	mux.HandleFunc("/v1/call/recording", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(recordingResponse{RecordingURL: "https://rec.example/a.mp3"})
	})

	c := newTestClient(t, mux)
	for i := 0; i < 3; i++ {
		url, err := c.FetchRecordingURL(context.Background(), "prov-1")
		require.NoError(t, err)
		assert.Equal(t, "https://rec.example/a.mp3", url)
	}
	assert.Equal(t, int32(1), logins.Load())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) { loginOK(w) })
	mux.HandleFunc("/v1/call/records", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(cdrResponse{Results: []CDR{{CallID: "c1", Status: "completed"}}})
	})

	c := newTestClient(t, mux)
	cdrs, err := c.FetchCDRs(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, cdrs, 1)
	assert.Equal(t, "c1", cdrs[0].CallID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) { loginOK(w) })
	mux.HandleFunc("/v1/click_to_call", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid destination"}`))
	})

	c := newTestClient(t, mux)
	_, err := c.ClickToCall(context.Background(), ClickToCallRequest{DestinationNumber: "bad"})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_ReauthenticatesOn401(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := logins.Add(1)
		json.NewEncoder(w).Encode(loginResponse{AccessToken: "tok-" + string(rune('0'+n)), ExpiresIn: 3600})
	})
	mux.HandleFunc("/v1/call/recording", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(recordingResponse{URL: "https://rec.example/b.mp3"})
	})

	c := newTestClient(t, mux)
	url, err := c.FetchRecordingURL(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "https://rec.example/b.mp3", url)
	assert.Equal(t, int32(2), logins.Load())
}

func TestClient_BadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, mux)
	_, err := c.FetchRecordingURL(context.Background(), "prov-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
