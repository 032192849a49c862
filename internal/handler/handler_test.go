package handler_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wardwatch/internal/client"
	"wardwatch/internal/config"
	"wardwatch/internal/handler"
	"wardwatch/internal/model"
	redisrepo "wardwatch/internal/repository/redis"
	"wardwatch/internal/service"
	"wardwatch/internal/store"
	"wardwatch/internal/upstream"
)

// fakeUpstream stands in for the video-analysis backend
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req model.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "ward-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"access_token": "upstream-tok"})
	})
	mux.HandleFunc("/api/v1/events/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.Event{})
	})
	mux.HandleFunc("/api/v1/cctvs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.CCTV{{ID: "cam-a", Name: "ward 1"}})
	})
	mux.HandleFunc("/api/v1/cctvs", func(w http.ResponseWriter, r *http.Request) {
		var req model.CCTVCreateRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.CCTV{ID: "cam-new", Name: req.Name})
	})
	mux.HandleFunc("/api/v1/beds/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.BedMapping{{ID: "m1", CCTVID: "cam-a", BedID: "bed-1"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testStack struct {
	api   *httptest.Server
	store *store.Store
}

func newStack(t *testing.T) *testStack {
	t.Helper()

	upstreamSrv := fakeUpstream(t)
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:        upstreamSrv.URL,
			RequestTimeout: 2 * time.Second,
			StreamPath:     "/api/v1/events/stream",
		},
		Monitor: config.MonitorConfig{
			PollInterval:     time.Hour,
			SnapshotLimit:    100,
			RecentBufferSize: 50,
			ReconnectMin:     10 * time.Millisecond,
			ReconnectMax:     time.Second,
		},
		Auth: config.AuthConfig{SessionTTL: time.Hour},
		Redis: config.RedisConfig{
			URL:      "redis://" + mr.Addr(),
			PoolSize: 5,
		},
		Identity: config.IdentityConfig{
			CCTVIDs:  []string{"cam-a", "cam-b"},
			BedPairs: []string{"cam-a:bed-1", "cam-a:bed-2", "cam-b:bed-3"},
		},
	}

	logger := zap.NewNop()
	redisClient, err := client.NewRedisClient(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	upClient := upstream.NewClient(cfg.Upstream, logger)
	st := store.New(logger)

	sessions := redisrepo.NewSessionCache(redisClient)
	limiter := redisrepo.NewLoginLimiter(redisClient, 3, time.Minute)

	authSvc := service.NewAuthService(cfg.Auth, upClient, sessions, limiter, nil, nil, logger)
	identitySvc := service.NewIdentityService(cfg.Identity, upClient, nil, logger)
	manageSvc := service.NewManageService(upClient, identitySvc, nil, logger)
	monitor := service.NewMonitor(cfg, upClient, st, nil, logger)

	router := handler.NewRouter(
		handler.NewAuthHandler(authSvc, cfg.Auth.SessionTTL, logger),
		handler.NewEventHandler(st, monitor, authSvc, identitySvc, upClient, nil, logger),
		handler.NewManageHandler(manageSvc, authSvc, upClient, logger),
		nil,
		logger,
	)

	api := httptest.NewServer(router)
	t.Cleanup(api.Close)
	return &testStack{api: api, store: st}
}

func (s *testStack) login(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(s.api.URL+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"nurse01","password":"ward-pass"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == handler.SessionCookie {
			return c.Value
		}
	}
	t.Fatal("login response carried no session cookie")
	return ""
}

func (s *testStack) get(t *testing.T, path, sessionID string) (*http.Response, handler.Response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.api.URL+path, nil)
	require.NoError(t, err)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope handler.Response
	json.NewDecoder(resp.Body).Decode(&envelope)
	return resp, envelope
}

func TestLoginLifecycle(t *testing.T) {
	s := newStack(t)

	sessionID := s.login(t)
	assert.NotEmpty(t, sessionID)

	resp, body := s.get(t, "/api/v1/auth/me", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	// Logout, then the session is rejected
	req, _ := http.NewRequest(http.MethodPost, s.api.URL+"/api/v1/auth/logout", nil)
	req.Header.Set("X-Session-ID", sessionID)
	logoutResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	logoutResp.Body.Close()
	require.Equal(t, http.StatusOK, logoutResp.StatusCode)

	resp, _ = s.get(t, "/api/v1/auth/me", sessionID)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newStack(t)

	resp, err := http.Post(s.api.URL+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"nurse01","password":"wrong"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	s := newStack(t)

	for i := 0; i < 3; i++ {
		resp, err := http.Post(s.api.URL+"/api/v1/auth/login", "application/json",
			strings.NewReader(`{"username":"nurse02","password":"wrong"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, err := http.Post(s.api.URL+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"nurse02","password":"ward-pass"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestEventsRequireSession(t *testing.T) {
	s := newStack(t)

	resp, _ := s.get(t, "/api/v1/events/", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListEventsWithLabels(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	s.store.SetEvents([]model.Event{
		{ID: "e1", CCTVID: "cam-a", BedID: "bed-2", EventType: model.EventFall},
		{ID: "e2", CCTVID: "cam-x", BedID: "bed-9", EventType: "unknown_kind", Handled: true},
	})

	resp, body := s.get(t, "/api/v1/events/", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Success)

	data := body.Data.(map[string]interface{})
	assert.Equal(t, "ready", data["fetch_state"])
	assert.Equal(t, float64(1), data["unhandled_count"])

	events := data["events"].([]interface{})
	require.Len(t, events, 2)

	first := events[0].(map[string]interface{})
	assert.Equal(t, "destructive", first["badge"])
	assert.Equal(t, "낙상 감지", first["type_label"])
	assert.Equal(t, "1번 CCTV", first["cctv_label"])
	assert.Equal(t, "환자2", first["patient_label"])

	// Unknown camera and kind degrade, never error
	second := events[1].(map[string]interface{})
	assert.Equal(t, "default", second["badge"])
	assert.Equal(t, "unknown_kind", second["type_label"])
	assert.Equal(t, "-", second["cctv_label"])
	assert.Equal(t, "-", second["patient_label"])
}

func TestGetEventDetail(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	s.store.SetEvents([]model.Event{{ID: "e1", CCTVID: "cam-a", EventType: model.EventBedsore}})

	resp, body := s.get(t, "/api/v1/events/e1", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := body.Data.(map[string]interface{})
	assert.Equal(t, "욕창 감지", detail["type_label"])

	resp, _ = s.get(t, "/api/v1/events/nope", sessionID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecentEventsAndClear(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	resp, body := s.get(t, "/api/v1/events/recent", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, false, data["connected"])

	req, _ := http.NewRequest(http.MethodDelete, s.api.URL+"/api/v1/events/recent", nil)
	req.Header.Set("X-Session-ID", sessionID)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
}

func TestStats(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	s.store.SetStats(model.DashboardStats{FallDetected: 3, TotalEvents24h: 5})

	resp, body := s.get(t, "/api/v1/stats", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body.Data.(map[string]interface{})
	stats := data["stats"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["fall_detected"])
	assert.Equal(t, float64(5), stats["total_events_24h"])
}

func TestSearchUnavailableWithoutBackend(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	resp, _ := s.get(t, "/api/v1/events/search?q=fall", sessionID)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestManageCCTVs(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	resp, body := s.get(t, "/api/v1/cctvs/", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cctvs := body.Data.([]interface{})
	require.Len(t, cctvs, 1)

	req, _ := http.NewRequest(http.MethodPost, s.api.URL+"/api/v1/cctvs/",
		strings.NewReader(`{"name":"ward 2","rtsp_url":"rtsp://cam"}`))
	req.Header.Set("X-Session-ID", sessionID)
	req.Header.Set("Content-Type", "application/json")
	createResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	var envelope handler.Response
	json.NewDecoder(createResp.Body).Decode(&envelope)
	created := envelope.Data.(map[string]interface{})
	assert.Equal(t, "ward 2", created["name"])

	// Missing name is rejected before the upstream sees it
	req, _ = http.NewRequest(http.MethodPost, s.api.URL+"/api/v1/cctvs/", strings.NewReader(`{}`))
	req.Header.Set("X-Session-ID", sessionID)
	badResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	badResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestEventStreamFansOutStoreChanges(t *testing.T) {
	s := newStack(t)
	sessionID := s.login(t)

	req, err := http.NewRequest(http.MethodGet, s.api.URL+"/api/v1/events/stream?session_id="+sessionID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		// Give the subscription a moment to attach before mutating
		time.Sleep(100 * time.Millisecond)
		s.store.AddEvent(model.Event{ID: "live-1", CCTVID: "cam-a", BedID: "bed-1", EventType: model.EventFall})
	}()

	scanner := bufio.NewScanner(resp.Body)
	var dataLine string
	deadline := time.Now().Add(3 * time.Second)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: {") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
		require.True(t, time.Now().Before(deadline), "no SSE data frame arrived")
	}
	require.NotEmpty(t, dataLine)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(dataLine), &view))
	assert.Equal(t, "live-1", view["_id"])
	assert.Equal(t, "낙상 감지", view["type_label"])
	assert.Equal(t, "환자1", view["patient_label"])
}
