package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	t.Setenv("ENDOCHAT_TEST_KEY", "secret")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "ENDOCHAT_TEST_KEY"})
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("ENDOCHAT_EMPTY_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "ENDOCHAT_EMPTY_KEY"})
	assert.Error(t, err)
}

func TestClient_OpenAIShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	assert.Zero(t, c.Dimension())

	v, err := c.Embed(context.Background(), "insulin")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, v)
	assert.Equal(t, 3, c.Dimension())
}

func TestClient_OllamaShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[1,0]}`))
	}))
	defer srv.Close()

	v, err := newTestClient(t, srv.URL).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, v)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	v, err := newTestClient(t, srv.URL).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL)
	go cancel()
	_, err := c.Embed(ctx, "x")
	assert.Error(t, err)
}
