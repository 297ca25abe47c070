// Package server exposes the orchestrator over HTTP and the observer push
// channel over websocket.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/config"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/file"
	"github.com/mensylisir/xmbench/history"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/orchestrator"
)

const (
	logListLimit  = 20
	logTailLines  = 1000
	stopTimeout   = 30 * time.Second
	historyLimit  = 100
	maxBodyBytes  = 1 << 20
	readTimeout   = 10 * time.Second
	probeTimeout  = 15 * time.Second
	shutdownGrace = 5 * time.Second
)

// Server is the HTTP front of one Manager.
type Server struct {
	mgr     *orchestrator.Manager
	hub     *notify.Hub
	spec    *config.SupervisorSpec
	history *history.Store
	logger  *logrus.Entry
	server  *http.Server
}

// New builds a server. history may be nil.
func New(mgr *orchestrator.Manager, hub *notify.Hub, spec *config.SupervisorSpec, hist *history.Store, logger *logrus.Entry) *Server {
	return &Server{mgr: mgr, hub: hub, spec: spec, history: hist, logger: logger}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("POST /api/benchmark/start", s.handleStart)
	mux.HandleFunc("POST /api/benchmark/stop", s.handleStop)
	mux.HandleFunc("GET /api/benchmark/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSaveConfig)
	mux.HandleFunc("GET /api/logs", s.handleListLogs)
	mux.HandleFunc("GET /api/logs/{name}", s.handleGetLog)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("GET /api/system-info", s.handleSystemInfo)
	return mux
}

// ListenAndServe blocks until the server stops or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindConfiguration, "listen", "cannot listen on "+addr)
	}
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readTimeout}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("address", ln.Addr().String()).Info("supervisor listening")
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: message, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errdefs.KindOf(err) {
	case errdefs.KindConfiguration, errdefs.KindProtocolParse:
		code = http.StatusBadRequest
	case errdefs.KindConflict:
		code = http.StatusConflict
	case errdefs.KindNotFound:
		code = http.StatusNotFound
	case errdefs.KindPermission:
		code = http.StatusForbidden
	case errdefs.KindConnection:
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		s.logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, code, response{Success: false, Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errdefs.Wrap(err, errdefs.KindConfiguration, "decodeRequest", "request body is not valid JSON")
	}
	return nil
}

type startRequest struct {
	SessionID string         `json:"session_id"`
	Config    map[string]any `json:"config"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			s.fail(w, err)
			return
		}
	}
	runID, err := s.mgr.Start(req.SessionID, req.Config)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, "Benchmark started", map[string]string{"run_id": runID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	stopped, err := s.mgr.Stop(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !stopped {
		ok(w, "No benchmark running", nil)
		return
	}
	ok(w, "Benchmark stopped", nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ok(w, "", s.mgr.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.mgr.SavedConfig()
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, "", cfg)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]any
	if err := decodeBody(w, r, &cfg); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.mgr.SaveConfig(cfg); err != nil {
		s.fail(w, err)
		return
	}
	ok(w, "Config updated", nil)
}

func (s *Server) handleListLogs(w http.ResponseWriter, _ *http.Request) {
	entries, err := file.ListNewest(s.spec.LogsPath(), "*.log", logListLimit)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, "", entries)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		s.fail(w, errdefs.Newf(errdefs.KindNotFound, "getLog", "log file %q not found", name))
		return
	}
	lines, err := file.TailLines(filepath.Join(s.spec.LogsPath(), name), logTailLines)
	if err != nil {
		if os.IsNotExist(err) {
			err = errdefs.New(errdefs.KindNotFound, "getLog", "Log file not found")
		}
		s.fail(w, err)
		return
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	ok(w, "", content)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		ok(w, "", []history.Run{})
		return
	}
	limit := historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, errdefs.Newf(errdefs.KindConfiguration, "history", "invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	ok(w, "", runs)
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	dirs, err := file.ListResults(s.spec.ResultsPath())
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, "", dirs)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	info, err := s.mgr.SystemInfo(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, "", info)
}
