package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideline/internal/httpx"
)

func TestDoSendsJSONAndToken(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/things", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := httpx.New(srv.URL+"/", time.Second)
	c.BearerToken = "tok"
	var out map[string]string
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/things", map[string]string{"name": "a"}, &out))
	assert.Equal(t, "a", out["echo"])
}

func TestDoWrapsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	}))
	defer srv.Close()

	err := httpx.New(srv.URL, 0).Do(context.Background(), http.MethodGet, "x", nil, nil)
	var apiErr *httpx.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "nope")
}
