package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://127.0.0.1:8375", c.BaseURL())
}

func TestStatusRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Status{
			Blackout:        BlackoutStatus{Active: true, RemainingSeconds: 90, Locked: true},
			AllowlistActive: true,
			Platforms: []PlatformStatus{
				{ID: "video", UsedSeconds: 600, LimitSeconds: 1800, Remaining: "20:00"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	st, err := c.Status()
	require.NoError(t, err)
	assert.True(t, st.Blackout.Locked)
	assert.Equal(t, 90, st.Blackout.RemainingSeconds)
	require.Len(t, st.Platforms, 1)
	assert.Equal(t, "video", st.Platforms[0].ID)
}

func TestStartBlackoutPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blackout/start", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	require.NoError(t, c.StartBlackout(90*time.Minute, true, false))
	assert.Equal(t, float64(90), got["duration_minutes"])
	assert.Equal(t, true, got["locked"])
	assert.Equal(t, false, got["break"])
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "blackout session is locked"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.StopBlackout()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blackout session is locked")
}

func TestIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	c := New(Config{BaseURL: srv.URL})
	assert.True(t, c.IsReachable())
	srv.Close()
	assert.False(t, c.IsReachable())
}

func TestScheduleAndBlockEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /schedules", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Schedule{{Name: "evening", Days: []int{1}, Start: "20:00", End: "22:00", Enabled: true}})
	})
	mux.HandleFunc("DELETE /schedules/evening", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /blocks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"count": 3})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	schedules, err := c.Schedules()
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "evening", schedules[0].Name)

	require.NoError(t, c.RemoveSchedule("evening"))

	n, err := c.AddBlocks(nil, "tiktok")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
