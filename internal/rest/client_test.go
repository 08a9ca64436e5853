package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_ValidatesConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: "not a url", Timeout: time.Second})
	assert.Error(t, err)

	client, err := NewClient(DefaultConfig("https://exchange.example"))
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/ticker", r.URL.Path)
		assert.Equal(t, "BTC/USDT", r.URL.Query().Get("pair"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pair":"BTC/USDT"}`))
	}))
	defer server.Close()

	client, err := NewClient(DefaultConfig(server.URL))
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(context.Background(), "/market/ticker", WithQueryParam("pair", "BTC/USDT"))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Contains(t, string(resp.Bytes()), "BTC/USDT")
}

func TestClient_GetWithResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pair":"ETH/USDT"}`))
	}))
	defer server.Close()

	client, err := NewClient(DefaultConfig(server.URL))
	require.NoError(t, err)
	defer client.Close()

	var result struct {
		Pair string `json:"pair"`
	}
	resp, err := client.Get(context.Background(), "/market/ticker", WithResult(&result))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "ETH/USDT", result.Pair)
}

func TestClient_AuthTokenHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.AuthToken = "secret-token"

	client, err := NewClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
}

func TestClient_GetAfterClose(t *testing.T) {
	client, err := NewClient(DefaultConfig("https://exchange.example"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.Get(context.Background(), "/market/ticker")
	assert.Error(t, err)
}
