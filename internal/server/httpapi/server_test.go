package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/a2a"
	"sage/internal/config"
	"sage/internal/server/app"
)

type recordingDispatcher struct {
	last    *app.Request
	content string
}

func (r *recordingDispatcher) Handle(ctx context.Context, req app.Request) a2a.Response {
	r.last = &req
	content := r.content
	if content == "" {
		content = "dispatched"
	}
	return a2a.NewResult(req.ID, content)
}

func newTestServer() (*Server, *recordingDispatcher) {
	cfg := config.Load(config.MapEnvLookup(nil))
	dispatcher := &recordingDispatcher{}
	return NewServer(cfg, dispatcher, nil), dispatcher
}

func postInvoke(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, a2a.Response) {
	t.Helper()
	return post(t, s, "/invoke", body, nil)
}

func post(t *testing.T, s *Server, path, body string, headers map[string]string) (*httptest.ResponseRecorder, a2a.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp a2a.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHelpMethodEchoesID(t *testing.T) {
	s, _ := newTestServer()
	rec, resp := postInvoke(t, s, `{"jsonrpc":"2.0","id":42,"method":"help"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, json.RawMessage(`42`), resp.ID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "markdown", resp.Result.Format)
	assert.Contains(t, resp.Result.Content, "price of <coin>")
}

func TestInvokeDispatchesWithIdentity(t *testing.T) {
	s, dispatcher := newTestServer()
	_, resp := postInvoke(t, s, `{
		"jsonrpc":"2.0","id":"req-1","method":"invoke",
		"params":{"text":"  price of bitcoin  ","userId":"u1","orgId":"o1","temperature":2.5}
	}`)

	require.NotNil(t, resp.Result)
	assert.Equal(t, json.RawMessage(`"req-1"`), resp.ID)

	require.NotNil(t, dispatcher.last)
	assert.Equal(t, "price of bitcoin", dispatcher.last.Text)
	assert.Equal(t, "u1", dispatcher.last.Identity.UserID)
	assert.Equal(t, "o1", dispatcher.last.Identity.OrgID)
	assert.Equal(t, 1.0, dispatcher.last.Temperature, "out-of-range temperature clamps")
}

func TestInvokeMissingTextIsInvalidParams(t *testing.T) {
	s, dispatcher := newTestServer()
	for _, body := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"invoke"}`,
		`{"jsonrpc":"2.0","id":1,"method":"invoke","params":{}}`,
		`{"jsonrpc":"2.0","id":1,"method":"invoke","params":{"text":"   "}}`,
	} {
		rec, resp := postInvoke(t, s, body)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, resp.Error, body)
		assert.Equal(t, a2a.CodeInvalidParams, resp.Error.Code)
	}
	assert.Nil(t, dispatcher.last)
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer()
	rec, resp := postInvoke(t, s, `{"jsonrpc":"2.0","id":7,"method":"tasks/list"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, json.RawMessage(`7`), resp.ID)
}

func TestMalformedBodyIsInternalErrorAt200(t *testing.T) {
	s, _ := newTestServer()
	rec, resp := postInvoke(t, s, `{"jsonrpc":`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeInternalError, resp.Error.Code)
}

func TestSendWithoutTextIsInvalidParams(t *testing.T) {
	s, dispatcher := newTestServer()
	for _, body := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"message/send"}`,
		`{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[]}}}`,
		`{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":"bogus"}}}`,
	} {
		rec, resp := postInvoke(t, s, body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		require.NotNil(t, resp.Error, body)
		assert.Equal(t, a2a.CodeInvalidParams, resp.Error.Code, body)
	}
	assert.Nil(t, dispatcher.last)
}

func TestSendExtractsTextAndInlineHistory(t *testing.T) {
	s, dispatcher := newTestServer()
	_, resp := postInvoke(t, s, `{
		"jsonrpc":"2.0","id":9,"method":"message/send",
		"params":{"message":{"parts":[
			{"kind":"text","text":"ignored when data present"},
			{"kind":"data","data":[
				{"kind":"text","text":"<p>earlier turn</p>"},
				{"kind":"text","text":"price of  bitcoin"}
			]}
		]}}
	}`)

	require.NotNil(t, resp.Result)
	require.NotNil(t, dispatcher.last)
	assert.Equal(t, "price of bitcoin", dispatcher.last.Text)
	assert.Equal(t, []string{"earlier turn", "price of bitcoin"}, dispatcher.last.InlineHistory)
}

func TestDeploymentLabelPrecedence(t *testing.T) {
	s, dispatcher := newTestServer()

	// message/send: header wins over metadata.
	post(t, s, "/invoke", `{
		"jsonrpc":"2.0","id":1,"method":"message/send",
		"params":{"message":{"text":"hello"},"metadata":{"deployment_label":"From Meta"}}
	}`, map[string]string{"X-Deployment-Label": "From Header"})
	require.NotNil(t, dispatcher.last)
	assert.Equal(t, "From Header", dispatcher.last.DeploymentLabel)

	// invoke: metadata wins over header.
	post(t, s, "/invoke", `{
		"jsonrpc":"2.0","id":2,"method":"invoke",
		"params":{"text":"hello","metadata":{"deployment_label":"From Meta"}}
	}`, map[string]string{"X-Deployment-Label": "From Header"})
	assert.Equal(t, "From Meta", dispatcher.last.DeploymentLabel)

	// Neither present: configured default.
	post(t, s, "/invoke", `{"jsonrpc":"2.0","id":3,"method":"invoke","params":{"text":"hello"}}`, nil)
	assert.Equal(t, "CryptoSage A2A", dispatcher.last.DeploymentLabel)
}

func TestHelpRouteAcceptsEmptyBody(t *testing.T) {
	s, _ := newTestServer()
	rec, resp := post(t, s, "/help", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Result)
	assert.Contains(t, resp.Result.Content, "trending coins")
}

func TestManifestEndpoints(t *testing.T) {
	s, _ := newTestServer()
	for _, path := range []string{"/agent.json", "/.well-known/agent.json"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Host = "agent.example.com"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))

		var manifest map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
		assert.Equal(t, "CryptoSage AI", manifest["name"])
		endpoints := manifest["endpoints"].(map[string]any)
		assert.Equal(t, "http://agent.example.com/invoke", endpoints["a2a"])
	}
}

func TestHealthAndRoot(t *testing.T) {
	s, _ := newTestServer()
	for _, path := range []string{"/health", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`, path)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))
}
