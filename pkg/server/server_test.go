package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/server/dto"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/vectorstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
			Mode: gin.TestMode,
		},
	}
}

func newTestServer(t *testing.T, engine strata.Engine) *Server {
	t.Helper()
	s := New(testConfig(), engine, nil)
	s.Setup()
	return s
}

func newClient(t *testing.T) *strata.Client {
	t.Helper()
	client, err := strata.NewClient(strata.Deps{
		Graph:   graphstore.NewMemoryStore(nil),
		Vectors: vectorstore.NewMemoryStore(),
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestSetup(t *testing.T) {
	s := newTestServer(t, nil)
	require.NotNil(t, s.router)
	require.NotNil(t, s.server)
	assert.Equal(t, "localhost:8080", s.server.Addr)
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		engine bool
		path   string
		want   int
	}{
		{name: "health", path: "/health", want: http.StatusOK},
		{name: "live", path: "/live", want: http.StatusOK},
		{name: "detailed", path: "/health/detailed", want: http.StatusOK},
		{name: "metrics", path: "/metrics", want: http.StatusOK},
		{name: "ready without engine", path: "/ready", want: http.StatusServiceUnavailable},
		{name: "ready with engine", engine: true, path: "/ready", want: http.StatusOK},
		{name: "api disabled without engine", path: "/api/v1/skeleton/acme", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var engine strata.Engine
			if tt.engine {
				engine = newClient(t)
			}
			w := do(t, newTestServer(t, engine), http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

const policyPayload = `{
	"tenant_id": "acme",
	"document_id": "refunds-1",
	"content_hash": "h1",
	"category": "policy",
	"entities": [
		{"name": "Refund Policy", "type": "concept"},
		{"name": "Payments Team", "type": "team"}
	],
	"relationships": [
		{"source": "Refund Policy", "target": "Payments Team", "type": "owned_by", "confidence": 0.9}
	],
	"chunks": [{"chunk_id": "refunds-1-c1", "entity_names": ["Refund Policy"]}]
}`

func TestIngestAndRetrieve(t *testing.T) {
	client := newClient(t)
	s := newTestServer(t, client)

	w := do(t, s, http.MethodPost, "/api/v1/ingest", policyPayload, map[string]string{"X-Tenant-ID": "acme"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ingested dto.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ingested))
	require.NotNil(t, ingested.Result)
	assert.True(t, ingested.Result.GraphIndexed)
	assert.Len(t, ingested.Result.Decisions, 2)
	assert.False(t, ingested.Repaired)

	body := `{"tenant_id": "acme", "query": "Who owns Refund Policy?", "strategy": "graph_only"}`
	w = do(t, s, http.MethodPost, "/api/v1/retrieve", body, map[string]string{"X-Tenant-ID": "acme"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res strata.RetrievalResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, types.StrategyGraphOnly, res.Metadata.StrategyUsed)
	require.NotNil(t, res.Context)
	assert.NotEmpty(t, res.Context.Items)

	w = do(t, s, http.MethodPost, "/api/v1/traverse", `{"tenant_id": "acme", "entry_hints": ["Refund Policy"]}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var traversed struct {
		Paths []*types.Path `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &traversed))
	assert.NotEmpty(t, traversed.Paths)

	w = do(t, s, http.MethodDelete, "/api/v1/documents/acme/refunds-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodDelete, "/api/v1/documents/acme/refunds-1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestIngestRepairsMalformedJSON(t *testing.T) {
	s := newTestServer(t, newClient(t))
	body := `{"tenant_id": "acme", "document_id": "refunds-2", "content_hash": "h1", "category": "policy",
		"entities": [{"name": "Refund Policy", "type": "concept",},],}`

	w := do(t, s, http.MethodPost, "/api/v1/ingest", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dto.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Repaired)
	assert.Len(t, resp.Result.Decisions, 1)
}

func TestIngestValidation(t *testing.T) {
	s := newTestServer(t, newClient(t))

	w := do(t, s, http.MethodPost, "/api/v1/ingest", `{"tenant_id": "acme", "document_id": "x", "entities": [{"name": "A", "type": "spaceship"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.CodeInvalidRequest, decodeError(t, w).Error)

	w = do(t, s, http.MethodPost, "/api/v1/ingest", `{"document_id": "x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenantHeaderMismatch(t *testing.T) {
	s := newTestServer(t, newClient(t))
	header := map[string]string{"X-Tenant-ID": "globex"}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "ingest", method: http.MethodPost, path: "/api/v1/ingest", body: policyPayload},
		{name: "retrieve", method: http.MethodPost, path: "/api/v1/retrieve", body: `{"tenant_id": "acme", "query": "refunds"}`},
		{name: "resolve", method: http.MethodPost, path: "/api/v1/entities/resolve", body: `{"tenant_id": "acme", "entity": {"name": "A", "type": "team"}}`},
		{name: "delete", method: http.MethodDelete, path: "/api/v1/documents/acme/refunds-1"},
		{name: "skeleton", method: http.MethodGet, path: "/api/v1/skeleton/acme"},
		{name: "recompute", method: http.MethodPost, path: "/api/v1/skeleton/acme/recompute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, tt.body, header)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, dto.CodeTenantMismatch, decodeError(t, w).Error)
		})
	}
}

func TestResolveAndSkeleton(t *testing.T) {
	client := newClient(t)
	s := newTestServer(t, client)

	w := do(t, s, http.MethodPost, "/api/v1/entities/resolve", `{"tenant_id": "acme", "entity": {"name": "Payments Team", "type": "team"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decision struct {
		TargetID string `json:"target_id"`
		Created  bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.True(t, decision.Created)
	assert.NotEmpty(t, decision.TargetID)

	w = do(t, s, http.MethodGet, "/api/v1/entities/review/acme", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/skeleton/acme", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/ingest", policyPayload, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/api/v1/skeleton/acme/recompute", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/v1/skeleton/acme", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap struct {
		Skeleton []string `json:"skeleton"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Contains(t, snap.Skeleton, "refunds-1")
}

// failingEngine returns a fixed error from Retrieve.
type failingEngine struct {
	strata.Engine
	err error
}

func (f *failingEngine) Retrieve(ctx context.Context, q strata.Query) (*strata.RetrievalResult, error) {
	return nil, f.err
}

func TestRetrieveErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "tenant violation", err: types.NewTenantViolation("search", "acme", "chunk", "c1", "globex"), wantCode: http.StatusForbidden, wantErr: dto.CodeSecurityViolation},
		{name: "backend unavailable", err: fmt.Errorf("%w: both down", types.ErrBackendUnavailable), wantCode: http.StatusServiceUnavailable, wantErr: dto.CodeBackendUnavailable},
		{name: "validation", err: types.NewValidationError("strategy", "unknown"), wantCode: http.StatusBadRequest, wantErr: dto.CodeInvalidRequest},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: http.StatusGatewayTimeout, wantErr: dto.CodeTimeout},
		{name: "internal", err: fmt.Errorf("boom"), wantCode: http.StatusInternalServerError, wantErr: dto.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &failingEngine{err: tt.err})
			w := do(t, s, http.MethodPost, "/api/v1/retrieve", `{"tenant_id": "acme", "query": "refunds"}`, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantErr, resp.Error)
			if tt.wantErr == dto.CodeSecurityViolation {
				assert.NotContains(t, resp.Message, "globex")
			}
		})
	}
}

func TestRetrieveRequestValidation(t *testing.T) {
	s := newTestServer(t, newClient(t))

	tests := []struct {
		name string
		body string
	}{
		{name: "missing tenant", body: `{"query": "refunds"}`},
		{name: "missing query", body: `{"tenant_id": "acme"}`},
		{name: "bad direction", body: `{"tenant_id": "acme", "query": "refunds", "direction": "sideways"}`},
		{name: "bad relationship type", body: `{"tenant_id": "acme", "query": "refunds", "relationship_types": ["likes"]}`},
		{name: "too many hops", body: `{"tenant_id": "acme", "query": "refunds", "max_hops": 50}`},
		{name: "not json", body: `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/retrieve", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}
