package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

func TestClient_SearchEntities(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "the vendor", body["query"])

		_, _ = w.Write([]byte(`{"hits":[{"entity_id":"e1","name":"Acme Corp","type":"org","score":0.91}]}`))
	}))
	defer srv.Close()

	c := NewClient(&config.SearchConfig{URL: srv.URL + "/", APIKey: "k", Timeout: time.Second})
	hits, err := c.SearchEntities(context.Background(), "the vendor", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.SemanticHit{EntityID: "e1", Name: "Acme Corp", Type: core.EntityOrg, Score: 0.91}, hits[0])
}

func TestClient_Failures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(&config.SearchConfig{URL: srv.URL, Timeout: time.Second})

	_, err := c.SearchEntities(context.Background(), "x", 1)
	require.ErrorIs(t, err, core.ErrCollaboratorUnavailable)

	require.NoError(t, c.IndexEntity(context.Background(), core.Entity{ID: "e1", Type: core.EntityPerson, DisplayName: "David"}))

	srv.Close()
	_, err = c.SearchEntities(context.Background(), "x", 1)
	require.ErrorIs(t, err, core.ErrCollaboratorUnavailable)
}
