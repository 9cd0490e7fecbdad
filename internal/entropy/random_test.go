package entropy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientWithoutKey(t *testing.T) {
	c := NewClient("")
	assert.Nil(t, c)
	assert.False(t, c.Enabled())
	assert.GreaterOrEqual(t, c.Seed(context.Background()), int64(0))
}

func TestSeedFromRandomOrg(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "generateIntegers", req.Method)
		assert.Equal(t, "k", req.Params["apiKey"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"result":  map[string]any{"random": map[string]any{"data": []int64{1, 2, 3, 4}}},
			"id":      1,
		})
	}))
	defer srv.Close()

	c := NewClient("k").WithEndpoint(srv.URL)
	require.True(t, c.Enabled())

	ctx := context.Background()
	assert.Equal(t, int64(1<<31|2), c.Seed(ctx))
	assert.Equal(t, int64(3<<31|4), c.Seed(ctx))
	assert.Equal(t, int32(1), calls.Load())

	// Pool drained: the next seed triggers another refill.
	c.Seed(ctx)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSeedFallsBackOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"message":"quota exceeded"},"id":1}`))
	}))
	defer srv.Close()

	c := NewClient("k").WithEndpoint(srv.URL)
	seed := c.Seed(context.Background())
	assert.GreaterOrEqual(t, seed, int64(0))
	assert.Empty(t, c.pool)
}

func TestSeedFallsBackOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("k").WithEndpoint(srv.URL)
	assert.GreaterOrEqual(t, c.Seed(context.Background()), int64(0))
}

func TestNewSourceReplays(t *testing.T) {
	seed := CryptoSeed()
	a, b := NewSource(seed), NewSource(seed)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
		assert.Equal(t, a.Intn(10), b.Intn(10))
	}
}
