package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wardwatch/internal/config"
	"wardwatch/internal/model"
	"wardwatch/internal/store"
	"wardwatch/internal/upstream"
)

func upstreamClient(baseURL string) *upstream.Client {
	return upstream.NewClient(config.UpstreamConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
	}, zap.NewNop())
}

type stubStats struct {
	stats model.DashboardStats
}

func (s *stubStats) Stats24h(ctx context.Context) (*model.DashboardStats, error) {
	out := s.stats
	return &out, nil
}

func TestPollOnceReplacesStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/events/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.Event{
			{ID: "e2", EventType: model.EventFall},
			{ID: "e1", EventType: model.EventBedsore},
		})
	}))
	defer srv.Close()

	st := store.New(zap.NewNop())
	creds := NewCredentials()
	creds.Set("tok")
	p := NewPoller(upstreamClient(srv.URL), st, creds, &stubStats{stats: model.DashboardStats{TotalEvents24h: 7}}, time.Hour, 100, zap.NewNop())

	p.pollOnce(context.Background())

	assert.Equal(t, store.StateReady, st.FetchState())
	events := st.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, uint64(7), st.Stats().TotalEvents24h)
}

func TestPollOnceWithoutCredential(t *testing.T) {
	st := store.New(zap.NewNop())
	p := NewPoller(upstreamClient("http://127.0.0.1:1"), st, NewCredentials(), nil, time.Hour, 100, zap.NewNop())

	p.pollOnce(context.Background())

	// No request was possible, but the state is no-auth, never fetch-failed
	assert.Equal(t, store.StateNoAuth, st.FetchState())
}

func TestPollOnceFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.New(zap.NewNop())
	st.SetEvents([]model.Event{{ID: "keep"}})
	creds := NewCredentials()
	creds.Set("tok")
	p := NewPoller(upstreamClient(srv.URL), st, creds, nil, time.Hour, 100, zap.NewNop())

	p.pollOnce(context.Background())

	assert.Equal(t, store.StateFetchFailed, st.FetchState())
	// The last good snapshot stays visible
	require.Len(t, st.Events(), 1)
	assert.Equal(t, "keep", st.Events()[0].ID)
}

func TestPollOnceRejectedCredentialClearsIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	st := store.New(zap.NewNop())
	creds := NewCredentials()
	creds.Set("expired")
	p := NewPoller(upstreamClient(srv.URL), st, creds, nil, time.Hour, 100, zap.NewNop())

	p.pollOnce(context.Background())

	assert.Equal(t, store.StateNoAuth, st.FetchState())
	token, _ := creds.Get()
	assert.Empty(t, token)
}

func TestPollOnceDiscardsStraggler(t *testing.T) {
	st := store.New(zap.NewNop())
	creds := NewCredentials()
	creds.Set("tok")

	// The logout lands while the poll request is in flight
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds.Clear()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.Event{{ID: "stale"}})
	}))
	defer srv.Close()

	p := NewPoller(upstreamClient(srv.URL), st, creds, nil, time.Hour, 100, zap.NewNop())
	p.pollOnce(context.Background())

	assert.Empty(t, st.Events())
	assert.NotEqual(t, store.StateReady, st.FetchState())
}

func TestFetchNowTriggersOutOfCadencePoll(t *testing.T) {
	polled := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polled <- struct{}{}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.Event{{ID: "e1"}})
	}))
	defer srv.Close()

	st := store.New(zap.NewNop())
	creds := NewCredentials()
	creds.Set("tok")
	p := NewPoller(upstreamClient(srv.URL), st, creds, nil, time.Hour, 100, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// The immediate startup poll
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("startup poll never happened")
	}

	// The ticker is an hour out; only FetchNow can cause this one
	p.FetchNow()
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("FetchNow did not trigger a poll")
	}
}

func TestCredentialsGenerationAndChanged(t *testing.T) {
	creds := NewCredentials()
	_, gen := creds.Get()

	ch := creds.Changed()
	select {
	case <-ch:
		t.Fatal("changed fired before any change")
	default:
	}

	creds.Set("tok")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed did not fire on set")
	}

	token, newGen := creds.Get()
	assert.Equal(t, "tok", token)
	assert.Greater(t, newGen, gen)

	creds.Clear()
	token, clearedGen := creds.Get()
	assert.Empty(t, token)
	assert.Greater(t, clearedGen, newGen)
}
