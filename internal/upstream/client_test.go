package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wardwatch/internal/config"
	"wardwatch/internal/model"
	"wardwatch/internal/upstream"
)

func newTestClient(baseURL string) *upstream.Client {
	return upstream.NewClient(config.UpstreamConfig{
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
		StreamPath:     "/api/v1/events/stream",
	}, zap.NewNop())
}

func TestFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("skip"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.Event{
			{ID: "e1", EventType: "fall"},
			{ID: "e2", EventType: "bedsore", Handled: true},
		})
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL).FetchEvents(context.Background(), "tok", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.True(t, events[1].Handled)
}

func TestFetchEvents_NoCredentialShortCircuits(t *testing.T) {
	requested := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchEvents(context.Background(), "", 0, 100)
	require.ErrorIs(t, err, upstream.ErrNoCredential)
	assert.False(t, requested, "no request may be issued without a credential")
}

func TestFetchEvents_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchEvents(context.Background(), "tok", 0, 100)
	var httpErr *upstream.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
}

func TestFetchEvents_UnauthorizedMapsToCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchEvents(context.Background(), "expired", 0, 100)
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)
}

func TestFetchEvents_NetworkError(t *testing.T) {
	// Closed server: transport failure, not an HTTP status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).FetchEvents(context.Background(), "tok", 0, 100)
	require.Error(t, err)
	var httpErr *upstream.HTTPError
	assert.False(t, errors.As(err, &httpErr), "transport failures must not masquerade as HTTP errors")
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["username"] == "nurse" && body["password"] == "pw" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"access_token": "upstream-token"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	token, err := client.Login(context.Background(), "nurse", "pw")
	require.NoError(t, err)
	assert.Equal(t, "upstream-token", token)

	_, err = client.Login(context.Background(), "nurse", "wrong")
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)
}

func TestFetchCCTVsAndBedMappings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/cctvs/":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]model.CCTV{{ID: "cam-1", Name: "ward A"}})
		case "/api/v1/beds/":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]model.BedMapping{{ID: "m1", CCTVID: "cam-1", BedID: "bed-1"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	cctvs, err := client.FetchCCTVs(context.Background(), "tok", 0, 100)
	require.NoError(t, err)
	require.Len(t, cctvs, 1)
	assert.Equal(t, "cam-1", cctvs[0].ID)

	mappings, err := client.FetchBedMappings(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "bed-1", mappings[0].BedID)
}

func TestManageOperations(t *testing.T) {
	var lastPath, lastMethod, lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath, lastMethod, lastQuery = r.URL.Path, r.Method, r.URL.RawQuery
		if r.Method == http.MethodPost && r.URL.Path == "/api/v1/cctvs" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(model.CCTV{ID: "new-cam", Name: "ward B"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	created, err := client.CreateCCTV(ctx, "tok", model.CCTVCreateRequest{Name: "ward B"})
	require.NoError(t, err)
	assert.Equal(t, "new-cam", created.ID)

	require.NoError(t, client.DeleteCCTV(ctx, "tok", "cam-9"))
	assert.Equal(t, "/api/v1/cctvs/cam-9", lastPath)
	assert.Equal(t, http.MethodDelete, lastMethod)

	require.NoError(t, client.AssignBed(ctx, "tok", "bed-7", "김환자"))
	assert.Equal(t, "/api/v1/beds/bed-7/assign", lastPath)
	assert.Contains(t, lastQuery, "patient_name=")

	require.NoError(t, client.AutoDetectBed(ctx, "tok", "bed-7"))
	assert.Equal(t, "/api/v1/beds/bed-7/auto", lastPath)
}

func TestURLBuilders(t *testing.T) {
	client := newTestClient("http://backend:7420")
	assert.Equal(t, "http://backend:7420/api/v1/events/ev-1/image", client.EventImageURL("ev-1"))
	assert.Equal(t, "http://backend:7420/api/v1/stream/cam-1", client.StreamURL("cam-1"))
	assert.Equal(t, "http://backend:7420/api/v1/events/stream", client.EventStreamURL("/api/v1/events/stream"))
}
