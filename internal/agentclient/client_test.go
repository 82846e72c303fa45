package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/relayfleet/internal/model"
)

func TestFetchConfig_CachesETag(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/internal/v1/nodes/n1/config", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		json.NewEncoder(w).Encode(ConfigResponse{
			Document: &model.DesiredConfig{Inbounds: []model.InboundSection{{ID: "in-1", Port: 443}}},
			Token:    "v1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "n1", zerolog.Nop())
	ctx := context.Background()

	first, err := c.FetchConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "v1", first.Token)
	assert.Equal(t, 443, first.Document.Inbounds[0].Port)

	second, err := c.FetchConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	c.ResetTokens()
	third, err := c.FetchConfig(ctx)
	require.NoError(t, err)
	assert.NotNil(t, third)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchUsers_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"node not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "ghost", zerolog.Nop())
	_, err := c.FetchUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 404")
}

func TestReportPresence_ReturnsKickList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body struct {
			Entries []model.PresenceEntry `json:"entries"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Entries, 2)

		json.NewEncoder(w).Encode(map[string]any{"success": true, "kick_users": []string{"alice"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "n1", zerolog.Nop())
	kick, err := c.ReportPresence(context.Background(), []model.PresenceEntry{
		{Principal: "alice", IP: "198.51.100.1"},
		{Principal: "bob", DeviceID: "phone"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, kick)
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/v1/nodes/n1/register", r.URL.Path)
		json.NewEncoder(w).Encode(model.Registration{NodeID: "n1", Intervals: model.PollIntervals{TrafficReport: 60}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "n1", zerolog.Nop())
	reg, err := c.Register(context.Background(), model.AgentInfo{Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, 60, reg.Intervals.TrafficReport)
}

func TestReportTraffic_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "n1", zerolog.Nop())
	err := c.ReportTraffic(context.Background(), []model.TrafficSample{{Principal: "a", Upload: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 500")
}
