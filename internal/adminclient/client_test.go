package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festalink/backend/internal/apperr"
)

type sleeps struct{ calls []time.Duration }

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newClient(url string, s *sleeps) *Client {
	return New(url, "admin-token", withSleep(s.sleep))
}

func TestRetriesGatewayStatusesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	var batches []uuid.UUID
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		var req BonusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, req.BatchID)
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"batch_id": req.BatchID, "succeeded": []any{}, "failed": []any{}})
	}))
	defer srv.Close()
	s := &sleeps{}

	res, err := newClient(srv.URL, s).ApplyBonusToMany(context.Background(), BonusRequest{VendorIDs: []uuid.UUID{uuid.New()}, Amount: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{DefaultDelay, DefaultDelay}, s.calls)
	require.Len(t, batches, 3)
	assert.Equal(t, batches[0], batches[2], "every attempt carries the same batch id")
	assert.Equal(t, batches[0], res.BatchID)
}

func TestGivesUpAfterThreeAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, &sleeps{}).SendMessageToMany(context.Background(), MessageRequest{Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.EqualValues(t, 3, hits.Load())
}

func TestApplicationRejectionsAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusInternalServerError} {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"forbidden"}`))
		}))
		s := &sleeps{}

		_, err := newClient(srv.URL, s).ApplyBonusToMany(context.Background(), BonusRequest{Amount: 1})
		srv.Close()

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "status %d", status)
		assert.Equal(t, status, apiErr.Status)
		assert.Equal(t, "forbidden", apiErr.Message)
		assert.EqualValues(t, 1, hits.Load(), "status %d", status)
		assert.Empty(t, s.calls)
	}
}

func TestNetworkErrorsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	s := &sleeps{}

	_, err := newClient(url, s).ApplyBonusToMany(context.Background(), BonusRequest{Amount: 1})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Len(t, s.calls, 2)
}

func TestCancelDuringDelayStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, "t", withSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.ApplyBonusToMany(ctx, BonusRequest{Amount: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
