package bankapi_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/mobilecore/bankapi"
	"github.com/meridianbank/mobilecore/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func newBackend(t *testing.T) (*chi.Mux, *httptest.Server) {
	t.Helper()
	router := chi.NewRouter()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return router, server
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestLoginSuccess(t *testing.T) {
	router, server := newBackend(t)
	router.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req bankapi.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user@x.com", req.Username)

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "tok-abc",
			"refresh_token": "refresh-abc",
			"expires_in":    900,
			"user": map[string]any{
				"id":        "u1",
				"email":     "user@x.com",
				"full_name": "Test User",
			},
		})
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, nil, testLogger())

	resp, err := client.Login(context.Background(), "user@x.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", resp.AccessToken)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, "u1", resp.User.ID)
}

func TestLoginUnauthorizedMapsToInvalidCredentials(t *testing.T) {
	router, server := newBackend(t)
	router.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "invalid credentials",
		})
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, nil, testLogger())

	_, err := client.Login(context.Background(), "user@x.com", "wrongpass1")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthedUnauthorizedMapsToSessionExpired(t *testing.T) {
	router, server := newBackend(t)
	router.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "token expired",
		})
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, func() string { return "stale" }, testLogger())

	_, err := client.Notifications(context.Background())
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}

func TestBearerTokenAttached(t *testing.T) {
	router, server := newBackend(t)
	var gotAuth string
	router.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, func() string { return "tok-xyz" }, testLogger())

	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, "Bearer tok-xyz", gotAuth)
}

func TestVerifyFaceEncodesPhoto(t *testing.T) {
	router, server := newBackend(t)
	photo := []byte{0xff, 0xd8, 0xff, 0xe0}

	router.Post("/transfer/{id}/verify-face", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txn-42", chi.URLParam(r, "id"))

		var req bankapi.VerifyFaceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		decoded, err := base64.StdEncoding.DecodeString(req.Photo)
		require.NoError(t, err)
		assert.Equal(t, photo, decoded)

		writeJSON(w, http.StatusOK, bankapi.VerifyFaceResponse{Verified: true, Status: "completed"})
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, func() string { return "tok" }, testLogger())

	resp, err := client.VerifyFace(context.Background(), "txn-42", photo)
	require.NoError(t, err)
	assert.True(t, resp.Verified)
	assert.Equal(t, "completed", resp.Status)
}

func TestCancelTransfer(t *testing.T) {
	router, server := newBackend(t)
	var cancelled string
	router.Post("/transfer/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancelled = chi.URLParam(r, "id")
		w.WriteHeader(http.StatusOK)
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, func() string { return "tok" }, testLogger())

	require.NoError(t, client.CancelTransfer(context.Background(), "txn-42"))
	assert.Equal(t, "txn-42", cancelled)
}

func TestNotificationsRoundTrip(t *testing.T) {
	router, server := newBackend(t)
	router.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []models.Notification{
			{ID: "n1", Title: "Transfer complete", Read: false},
			{ID: "n2", Title: "New statement", Read: true},
		})
	})
	var markedRead, deleted string
	router.Put("/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		markedRead = chi.URLParam(r, "id")
		w.WriteHeader(http.StatusOK)
	})
	router.Put("/notifications/read-all", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Delete("/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = chi.URLParam(r, "id")
		w.WriteHeader(http.StatusOK)
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, func() string { return "tok" }, testLogger())
	ctx := context.Background()

	notifications, err := client.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "Transfer complete", notifications[0].Title)

	require.NoError(t, client.MarkNotificationRead(ctx, "n1"))
	assert.Equal(t, "n1", markedRead)

	require.NoError(t, client.MarkAllNotificationsRead(ctx))

	require.NoError(t, client.DeleteNotification(ctx, "n2"))
	assert.Equal(t, "n2", deleted)
}

func TestTransportFailureMapsToNetworkError(t *testing.T) {
	_, server := newBackend(t)
	server.Close()

	client := bankapi.NewClient(server.URL, time.Second, nil, testLogger())

	_, err := client.Login(context.Background(), "user@x.com", "correct-horse")
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestServerErrorMapsToUnknown(t *testing.T) {
	router, server := newBackend(t)
	router.Put("/auth/password", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal_error",
			"message": "something broke",
		})
	})

	client := bankapi.NewClient(server.URL, 5*time.Second, func() string { return "tok" }, testLogger())

	err := client.ChangePassword(context.Background(), "oldpassword", "newpassword")
	assert.ErrorIs(t, err, models.ErrUnknown)
	assert.Contains(t, err.Error(), "something broke")
}
