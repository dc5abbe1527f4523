package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/internal/server"
	"github.com/hupe1980/vectorize/model"
	"github.com/hupe1980/vectorize/observability"
)

func newTestServer(t *testing.T, cfg server.RegistryConfig) (*server.Server, *server.Registry) {
	t.Helper()
	reg := server.NewRegistry(cfg)
	t.Cleanup(func() {
		_ = reg.Close(context.Background())
	})
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Gatherer:   prometheus.NewRegistry(),
	}, reg)
	require.NoError(t, err)
	return srv, reg
}

func do(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createIndex(t *testing.T, srv *server.Server, name string) {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/indexes", map[string]any{
		"name":       name,
		"dimensions": 3,
		"metric":     "euclidean",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

var sample = map[string]any{
	"vectors": []map[string]any{
		{"id": "a", "values": []float32{0, 0, 0}, "metadata": map[string]any{"cat": "x", "n": 1}},
		{"id": "b", "values": []float32{1, 0, 0}, "metadata": map[string]any{"cat": "y", "n": 2}},
		{"id": "c", "values": []float32{2, 0, 0}, "metadata": map[string]any{"cat": "x", "n": 3}},
	},
}

func matchIDs(res vectorize.QueryResult) []string {
	out := make([]string, len(res.Matches))
	for i, m := range res.Matches {
		out[i] = m.VectorID
	}
	return out
}

func TestServer_New(t *testing.T) {
	reg := server.NewRegistry(server.RegistryConfig{})

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, reg)
	require.NoError(t, err)
	assert.NotNil(t, srv)

	_, err = server.New(server.Config{}, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen address is required")

	_, err = server.New(server.Config{ListenAddr: "127.0.0.1:0"}, nil)
	require.Error(t, err)
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, server.RegistryConfig{})

	w := do(t, srv, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := server.NewRegistry(server.RegistryConfig{
		IndexOptions: []vectorize.Option{
			vectorize.WithMetricsCollector(observability.NewPrometheusCollector(promReg)),
		},
	})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Gatherer: promReg}, reg)
	require.NoError(t, err)

	createIndex(t, srv, "docs")
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/indexes/docs/insert", sample).Code)

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `vectorize_records_total{op="insert"} 3`)
}

func TestServer_IndexLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, server.RegistryConfig{})

	createIndex(t, srv, "docs")

	t.Run("Duplicate", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes", map[string]any{"name": "docs", "dimensions": 3, "metric": "cosine"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("QueryEmpty", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/query", map[string]any{"vector": []float32{1, 0, 0}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"matches":[],"count":0}`, w.Body.String())
	})

	t.Run("Insert", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/insert", sample)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decodeBody[vectorize.MutationResult](t, w)
		assert.Equal(t, 3, res.Count)
		assert.NotEmpty(t, res.MutationID)
		assert.Empty(t, res.Rejected)
	})

	t.Run("Describe", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/indexes/docs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		info := decodeBody[vectorize.Info](t, w)
		assert.Equal(t, "docs", info.Name)
		assert.Equal(t, 3, info.Dimensions)
		assert.Equal(t, "euclidean", info.Metric)
		assert.Equal(t, 3, info.VectorCount)
	})

	t.Run("List", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/indexes", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody[struct {
			Indexes []vectorize.Info `json:"indexes"`
		}](t, w)
		require.Len(t, body.Indexes, 1)
		assert.Equal(t, "docs", body.Indexes[0].Name)
	})

	t.Run("Query", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/query", map[string]any{"vector": []float32{1.9, 0, 0}, "topK": 2})
		require.Equal(t, http.StatusOK, w.Code)
		res := decodeBody[vectorize.QueryResult](t, w)
		assert.Equal(t, []string{"c", "b"}, matchIDs(res))
		assert.Equal(t, 2, res.Count)
	})

	t.Run("FilteredQuery", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/query", map[string]any{
			"vector":        []float32{0, 0, 0},
			"topK":          10,
			"returnVectors": true,
			"filter":        map[string]any{"cat": "x", "n": map[string]any{"$gte": 2}},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decodeBody[vectorize.QueryResult](t, w)
		assert.Equal(t, []string{"c"}, matchIDs(res))
		require.NotNil(t, res.Matches[0].Vector)
		assert.Equal(t, []float32{2, 0, 0}, res.Matches[0].Vector.Values)
	})

	t.Run("Upsert", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/upsert", map[string]any{
			"vectors": []map[string]any{
				{"id": "a", "values": []float32{5, 0, 0}},
				{"id": "bad", "values": []float32{1}},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)
		res := decodeBody[vectorize.MutationResult](t, w)
		assert.Equal(t, 1, res.Count)
		require.Len(t, res.Rejected, 1)
		assert.Equal(t, "bad", res.Rejected[0].ID)
		assert.Equal(t, 1, res.Rejected[0].Index)
	})

	t.Run("GetByIDs", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/get_by_ids", map[string]any{"ids": []string{"a", "missing", "b"}})
		require.Equal(t, http.StatusOK, w.Code)
		res := decodeBody[server.VectorsResponse](t, w)
		require.Equal(t, 2, res.Count)
		assert.Equal(t, "a", res.Vectors[0].ID)
		assert.Equal(t, []float32{5, 0, 0}, res.Vectors[0].Values)
		assert.Equal(t, "b", res.Vectors[1].ID)
	})

	t.Run("DeleteByIDs", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/indexes/docs/delete_by_ids", map[string]any{"ids": []string{"b", "missing"}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ids":["b"],"count":1}`, w.Body.String())

		w = do(t, srv, http.MethodPost, "/indexes/docs/delete_by_ids", map[string]any{"ids": []string{"b"}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ids":[],"count":0}`, w.Body.String())
	})

	t.Run("DeleteIndex", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/indexes/docs", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/indexes/docs", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/indexes/docs", nil).Code)
	})
}

func TestServer_Errors(t *testing.T) {
	srv, _ := newTestServer(t, server.RegistryConfig{})
	createIndex(t, srv, "docs")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"UnknownMetric", http.MethodPost, "/indexes", map[string]any{"name": "x", "dimensions": 3, "metric": "manhattan"}, http.StatusBadRequest, "invalid_request"},
		{"ZeroDimensions", http.MethodPost, "/indexes", map[string]any{"name": "x", "metric": "cosine"}, http.StatusBadRequest, "invalid_request"},
		{"BadName", http.MethodPost, "/indexes", map[string]any{"name": "../x", "dimensions": 3, "metric": "cosine"}, http.StatusBadRequest, "invalid_request"},
		{"MalformedJSON", http.MethodPost, "/indexes/docs/insert", "{", http.StatusBadRequest, "invalid_request"},
		{"QueryDimension", http.MethodPost, "/indexes/docs/query", map[string]any{"vector": []float32{1}}, http.StatusBadRequest, "invalid_request"},
		{"NegativeTopK", http.MethodPost, "/indexes/docs/query", map[string]any{"vector": []float32{1, 0, 0}, "topK": -1}, http.StatusBadRequest, "invalid_request"},
		{"UnknownOperator", http.MethodPost, "/indexes/docs/query", map[string]any{"vector": []float32{1, 0, 0}, "filter": map[string]any{"n": map[string]any{"$regex": "x"}}}, http.StatusBadRequest, "invalid_request"},
		{"UnknownIndex", http.MethodPost, "/indexes/nope/query", map[string]any{"vector": []float32{1, 0, 0}}, http.StatusNotFound, "not_found"},
		{"SnapshotsDisabled", http.MethodPost, "/indexes/docs/snapshot", nil, http.StatusNotImplemented, "not_implemented"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody[map[string]any](t, w)
			assert.Equal(t, tt.kind, body["error"])
			assert.EqualValues(t, tt.status, body["code"])
		})
	}
}

func TestServer_Preset(t *testing.T) {
	srv, _ := newTestServer(t, server.RegistryConfig{})

	w := do(t, srv, http.MethodPost, "/indexes", map[string]any{
		"name":   "bge",
		"metric": "cosine",
		"preset": model.ModelBGESmallENv15,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 384, decodeBody[vectorize.Info](t, w).Dimensions)
}

func TestServer_Snapshot(t *testing.T) {
	store := blobstore.NewMemoryStore()
	srv, reg := newTestServer(t, server.RegistryConfig{Snapshots: store})

	createIndex(t, srv, "docs")
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/indexes/docs/insert", sample).Code)

	w := do(t, srv, http.MethodPost, "/indexes/docs/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decodeBody[vectorize.SnapshotInfo](t, w)
	assert.Equal(t, "docs.snap", info.Name)
	assert.Equal(t, 3, info.Records)

	require.NoError(t, reg.Close(context.Background()))

	reloaded := server.NewRegistry(server.RegistryConfig{Snapshots: store})
	t.Cleanup(func() { _ = reloaded.Close(context.Background()) })
	require.NoError(t, reloaded.Load(context.Background()))

	idx, err := reloaded.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Describe().VectorCount)
	assert.Equal(t, "euclidean", idx.Describe().Metric)
}
