package guardian

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopApprovesEverything(t *testing.T) {
	var g Client = Noop{}

	dec, err := g.ValidateAction(context.Background(), Action{Kind: KindTierPre, Subject: "alice"})
	require.NoError(t, err)
	assert.True(t, dec.Approved)
	assert.Zero(t, dec.RiskScore)

	require.NoError(t, g.MonitorBehavior(context.Background(), Event{Type: "login", At: time.Now()}))
}

func TestHTTPValidateAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/actions/validate", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		var a Action
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		assert.Equal(t, KindTokenUse, a.Kind)
		assert.Equal(t, "alice", a.Subject)

		json.NewEncoder(w).Encode(Decision{Approved: false, Reason: "blocked_by_policy", RiskScore: 0.9})
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "sekrit", time.Second, nil)
	dec, err := g.ValidateAction(context.Background(), Action{Kind: KindTokenUse, Subject: "alice"})
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Equal(t, "blocked_by_policy", dec.Reason)
	assert.InDelta(t, 0.9, dec.RiskScore, 1e-9)
}

func TestHTTPValidateActionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "", time.Second, nil)
	_, err := g.ValidateAction(context.Background(), Action{Kind: KindTierPre})
	require.Error(t, err)
}

func TestHTTPValidateActionContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "", 5*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := g.ValidateAction(ctx, Action{Kind: KindSessionRisk})
	require.Error(t, err)
}

func TestHTTPMonitorBehavior(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/behavior", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "", time.Second, nil)
	err := g.MonitorBehavior(context.Background(), Event{Type: "rate_limited", ThreatLevel: "medium", Actor: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, "rate_limited", got.Type)
}

func TestNewSelectsImplementation(t *testing.T) {
	g, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, g)

	g, err = New(Config{Kind: "http", BaseURL: "http://guardian:8080"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, g)

	_, err = New(Config{Kind: "http"}, nil)
	require.Error(t, err)

	_, err = New(Config{Kind: "carrier-pigeon"}, nil)
	require.Error(t, err)
}
