package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"strudelbridge/internal/browser"
	"strudelbridge/internal/config"
	"strudelbridge/internal/files"
	"strudelbridge/internal/nvim"
	"strudelbridge/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct {
	connected bool
	address   string
	pid       int
	entries   []files.Entry
}

func (p *stubPeer) Connect(ctx context.Context, opts nvim.DiscoveryOptions) error {
	p.connected = true
	return nil
}
func (p *stubPeer) Connected() bool { return p.connected }
func (p *stubPeer) Address() string { return p.address }
func (p *stubPeer) Pid() int        { return p.pid }
func (p *stubPeer) Close()          { p.connected = false }
func (p *stubPeer) ScanBuffers(ctx context.Context) ([]files.Entry, error) {
	return p.entries, nil
}

type stubRemote struct {
	ready    bool
	sentCode []string
	stops    int
}

func (r *stubRemote) Initialize(ctx context.Context) bool {
	r.ready = true
	return true
}
func (r *stubRemote) Initialized() bool { return r.ready }
func (r *stubRemote) Ready() bool       { return r.ready }
func (r *stubRemote) SendCode(ctx context.Context, code string) bool {
	r.sentCode = append(r.sentCode, code)
	return true
}
func (r *stubRemote) StopPlayback(ctx context.Context) bool {
	r.stops++
	return true
}
func (r *stubRemote) Status() browser.Status {
	return browser.Status{Initialized: r.ready, Ready: r.ready}
}
func (r *stubRemote) Cleanup() { r.ready = false }

type testServer struct {
	srv    *Server
	peer   *stubPeer
	remote *stubRemote
	root   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Workspace = root
	store := files.NewStore(root)
	scanner := files.NewScanner(root, cfg.Files.Extensions, 1<<20)
	peer := &stubPeer{}
	remote := &stubRemote{}
	orch := session.New(cfg, store, scanner, nil, peer, remote)
	return &testServer{srv: New(orch, 0), peer: peer, remote: remote, root: root}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seed(entries ...files.Entry) {
	ts.srv.orch.Store().ReplaceAll(entries)
}

func TestListFilesOmitsContent(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(
		files.Entry{Path: "beats.strdl", Name: "beats.strdl", Content: `s("bd sd")`},
		files.Entry{Path: "nvim-buffer/scratch-1", Name: "scratch", Content: "note(1)", IsVirtual: true},
	)

	rec := ts.do(t, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "beats.strdl", out[0]["path"])
	assert.NotContains(t, out[0], "content", "the list view never carries file bodies")
	assert.Equal(t, true, out[1]["isVirtual"])
}

func TestRefreshScansFilesystem(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(ts.root, "live.strdl"), []byte(`s("hh")`), 0o644))

	rec := ts.do(t, http.MethodPost, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.srv.orch.Store().Count())
}

func TestGetFileByEscapedPath(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(files.Entry{Path: "nvim-buffer/scratch-1", Name: "scratch", Content: "note(1)", IsVirtual: true})

	rec := ts.do(t, http.MethodGet, "/api/file/"+url.PathEscape("nvim-buffer/scratch-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entry files.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "note(1)", entry.Content)
	assert.True(t, entry.IsVirtual)
}

func TestGetUnknownFile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/file/nope.strdl", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"file not found"}`, rec.Body.String())
}

func TestPutFileUpdatesVirtualEntry(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(files.Entry{Path: "nvim-buffer/scratch-1", Name: "scratch", Content: "old", IsVirtual: true})

	rec := ts.do(t, http.MethodPut, "/api/file/"+url.PathEscape("nvim-buffer/scratch-1"),
		`{"content":"new"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	entry, ok := ts.srv.orch.Store().Get("nvim-buffer/scratch-1")
	require.True(t, ok)
	assert.Equal(t, "new", entry.Content)
}

func TestPutFileRejectsBadJSON(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(files.Entry{Path: "a.strdl", Name: "a.strdl"})

	rec := ts.do(t, http.MethodPut, "/api/file/a.strdl", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreflightShortCircuits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodOptions, "/api/files", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestSendCodeEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/browser/send-code", `{"code":"note(\"c3\")"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, []string{`note("c3")`}, ts.remote.sentCode)
}

func TestSendCodeRejectsEmpty(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/browser/send-code", `{"code":"  "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Success)
	assert.Equal(t, "no code to send", out.Message)
	assert.Empty(t, ts.remote.sentCode)
}

func TestSendCurrentBufferPlainText(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/send-current-buffer", `s("bd*4")`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestSendCurrentBufferEmptyBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/send-current-buffer", "   ")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error: no code to send\n", rec.Body.String())
}

func TestHush(t *testing.T) {
	ts := newTestServer(t)
	ts.remote.ready = true

	rec := ts.do(t, http.MethodPost, "/api/hush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
	assert.Equal(t, 1, ts.remote.stops)
}

func TestNeovimStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.peer.connected = true
	ts.peer.address = "/tmp/strudel-nvim.sock"
	ts.peer.pid = 99

	rec := ts.do(t, http.MethodGet, "/api/neovim/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, true, out["connected"])
	assert.Equal(t, "/tmp/strudel-nvim.sock", out["address"])
	assert.Equal(t, float64(99), out["pid"])
}

func TestNeovimConnectMirrorsBuffers(t *testing.T) {
	ts := newTestServer(t)
	ts.peer.address = "/tmp/s.sock"
	ts.peer.entries = []files.Entry{{Path: "a.strdl", Name: "a.strdl", Content: "x"}}

	rec := ts.do(t, http.MethodPost, "/api/neovim/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.srv.orch.Store().Count())
}

func TestHealthShape(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(files.Entry{Path: "a.strdl", Name: "a.strdl", Content: "abcd"})

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ok", out["status"])
	assert.NotEmpty(t, out["timestamp"])
	assert.Equal(t, false, out["neovim"])
	assert.Equal(t, false, out["browser"])
	filesInfo, ok := out["files"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), filesInfo["count"])
}

func TestIndexServesREPLHostPage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "strudel-editor")
}

func TestUnknownPathIs404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/api/files", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
