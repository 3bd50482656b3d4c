// Package server exposes the bridge's HTTP surface: the file index API, the
// Neovim and browser control endpoints, the plain-text editor-plugin hooks,
// and the embedded REPL host page the browser session navigates to.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"strudelbridge/internal/logging"
	"strudelbridge/internal/session"
	"strudelbridge/web"
)

// Server wraps the HTTP listener around one orchestrator.
type Server struct {
	orch *session.Orchestrator
	http *http.Server
}

// New builds the server on the given port.
func New(orch *session.Orchestrator, port int) *Server {
	s := &Server{orch: orch}
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.routes(),
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
// A bind failure here is fatal to startup by design.
func (s *Server) ListenAndServe() error {
	logging.Boot("http: listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the route tree (exposed for httptest).
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/file/", s.handleFile)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/neovim/connect", s.handleNeovimConnect)
	mux.HandleFunc("/api/neovim/status", s.handleNeovimStatus)
	mux.HandleFunc("/api/browser/init", s.handleBrowserInit)
	mux.HandleFunc("/api/browser/send-code", s.handleBrowserSendCode)
	mux.HandleFunc("/api/browser/stop", s.handleBrowserStop)
	mux.HandleFunc("/api/browser/status", s.handleBrowserStatus)
	mux.HandleFunc("/api/send-current-buffer", s.handleSendCurrentBuffer)
	mux.HandleFunc("/api/hush", s.handleHush)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)

	return withCORS(mux)
}

// withCORS applies the permissive cross-origin policy the editor plugin and
// the REPL page rely on, and short-circuits preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryServer).Error("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// fileSummary is the list-view shape; content is only served per-file.
type fileSummary struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModified"`
	IsVirtual    bool      `json:"isVirtual,omitempty"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := s.orch.Store().List()
		out := make([]fileSummary, 0, len(entries))
		for _, e := range entries {
			out = append(out, fileSummary{
				Path:         e.Path,
				Name:         e.Name,
				LastModified: e.LastModified,
				IsVirtual:    e.IsVirtual,
			})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		s.orch.RefreshContent(r.Context())
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	encoded := strings.TrimPrefix(r.URL.Path, "/api/file/")
	path, err := url.PathUnescape(encoded)
	if err != nil || path == "" {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry, ok := s.orch.Store().Get(path)
		if !ok {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		found, err := s.orch.Store().Persist(path, body.Content)
		if !found {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		if err != nil {
			logging.Get(logging.CategoryServer).Error("persist %s: %v", path, err)
			writeJSON(w, http.StatusInternalServerError, successResponse{Success: false, Message: "write failed"})
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Store().Stats())
}

func (s *Server) handleNeovimConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ok, msg := s.orch.ConnectPeer(r.Context())
	writeJSON(w, http.StatusOK, successResponse{Success: ok, Message: msg})
}

func (s *Server) handleNeovimStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.orch.Status()
	out := map[string]interface{}{"connected": snap.PeerConnected}
	if snap.PeerAddress != "" {
		out["address"] = snap.PeerAddress
	}
	if snap.PeerPid != 0 {
		out["pid"] = snap.PeerPid
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBrowserInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ok, msg := s.orch.InitBrowser(r.Context())
	writeJSON(w, http.StatusOK, successResponse{Success: ok, Message: msg})
}

func (s *Server) handleBrowserSendCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok, msg := s.orch.Deliver(r.Context(), body.Code)
	writeJSON(w, http.StatusOK, successResponse{Success: ok, Message: msg})
}

func (s *Server) handleBrowserStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ok, msg := s.orch.Stop(r.Context())
	writeJSON(w, http.StatusOK, successResponse{Success: ok, Message: msg})
}

func (s *Server) handleBrowserStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Remote().Status())
}

// handleSendCurrentBuffer is the fast path for the editor plugin: raw code in
// the body, a plain-text marker back.
func (s *Server) handleSendCurrentBuffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	ok, msg := s.orch.Deliver(r.Context(), string(body))
	w.Header().Set("Content-Type", "text/plain")
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "error: %s\n", msg)
		return
	}
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleHush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ok, msg := s.orch.Stop(r.Context())
	w.Header().Set("Content-Type", "text/plain")
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "error: %s\n", msg)
		return
	}
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Status()
	stats := s.orch.Store().Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"neovim":    snap.PeerConnected,
		"browser":   snap.BrowserReady,
		"files": map[string]interface{}{
			"count":      stats.Total,
			"totalSize":  stats.TotalBytes,
			"extensions": stats.Extensions,
		},
	})
}

// handleIndex serves the embedded REPL host page, the fixed navigation target
// of the browser session.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(web.IndexHTML)
}
