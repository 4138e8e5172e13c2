package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimitStatsFetchesFromOpsServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ratelimit/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active_buckets":3,"limit_hits":{"user:U1":2},"stats_window_start":"2026-01-01T00:00:00Z"}`))
	}))
	defer ts.Close()

	s := &DonaServer{opsURL: ts.URL, logger: zap.NewNop()}
	_, out, err := s.RateLimitStats(context.Background(), nil, RateLimitStatsInput{})
	require.NoError(t, err)

	assert.Equal(t, 3, out.ActiveBuckets)
	assert.Equal(t, int64(2), out.LimitHits["user:U1"])
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), out.WindowStart)
}

func TestRateLimitStatsSurfacesOpsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	s := &DonaServer{opsURL: ts.URL, logger: zap.NewNop()}
	_, _, err := s.RateLimitStats(context.Background(), nil, RateLimitStatsInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
