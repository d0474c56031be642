package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pdfchat/config"
	"pdfchat/internal/app"
	"pdfchat/logger"
	"pdfchat/rag"
	"pdfchat/telemetry"
)

const sessionHeader = "X-Session-ID"

type Server struct {
	sessions    *rag.SessionRegistry
	log         logger.Logger
	maxUpload   int64
	frontendDir string
}

func NewServer(sessions *rag.SessionRegistry, log logger.Logger, cfg config.ServerConfig) *Server {
	return &Server{
		sessions:    sessions,
		log:         log,
		maxUpload:   int64(cfg.MaxUploadMB) << 20,
		frontendDir: cfg.FrontendDir,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/upload", s.uploadHandler)
	mux.HandleFunc("/upload-pdf", s.uploadPDFHandler)
	mux.HandleFunc("/query", s.queryHandler)
	mux.HandleFunc("/ask", s.askHandler)
	mux.HandleFunc("/history", s.historyHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/status", s.statusHandler)

	if s.frontendDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	}
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("server", "request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// session picks the engine named by the X-Session-ID header or the
// session_id query parameter, falling back to the default session.
func (s *Server) session(r *http.Request, bodyID string) *rag.ChatEngine {
	id := bodyID
	if id == "" {
		id = r.Header.Get(sessionHeader)
	}
	if id == "" {
		id = r.URL.Query().Get("session_id")
	}
	return s.sessions.GetOrCreate(r.Context(), id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

// loadFailed maps a failed load onto a status code.
func (s *Server) loadFailed(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrEmptyDocument):
		http.Error(w, "no text extracted from document", http.StatusUnprocessableEntity)
	case errors.Is(err, rag.ErrExtraction):
		http.Error(w, "could not read document", http.StatusUnprocessableEntity)
	case errors.Is(err, rag.ErrEmbedding):
		http.Error(w, "embedding service unavailable", http.StatusServiceUnavailable)
	default:
		s.log.Error("server", "load failed", map[string]interface{}{"error": err})
		http.Error(w, "failed to index document", http.StatusInternalServerError)
	}
}

type loadResponse struct {
	*rag.LoadResult
	ChunksAdded int    `json:"chunks_added"`
	SessionID   string `json:"session_id"`
}

// POST /upload?name=notes.txt  (body: raw text)
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	text := string(body)
	if strings.TrimSpace(text) == "" {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.txt"
	}

	engine := s.session(r, "")
	res, err := engine.LoadText(r.Context(), name, text)
	if err != nil {
		s.loadFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{LoadResult: res, ChunksAdded: res.Chunks, SessionID: engine.SessionID()})
}

// POST /upload-pdf  (multipart form, field "file")
func (s *Server) uploadPDFHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	engine := s.session(r, r.FormValue("session_id"))
	res, err := engine.Load(r.Context(), header.Filename, data)
	if err != nil {
		s.loadFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{LoadResult: res, ChunksAdded: res.Chunks, SessionID: engine.SessionID()})
}

type queryRequest struct {
	Query     string `json:"query"`
	K         int    `json:"k"`
	SessionID string `json:"session_id"`
}

// POST /query  { "query": "your question" }
func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	results, err := s.session(r, req.SessionID).Search(r.Context(), req.Query, req.K)
	switch {
	case errors.Is(err, rag.ErrIndexNotBuilt):
		http.Error(w, rag.GuardMessage, http.StatusConflict)
		return
	case errors.Is(err, rag.ErrDimensionMismatch):
		http.Error(w, rag.IncompatibleIndexMessage, http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "embedding service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

// POST /ask  { "question": "..." }
// Always 200 once the request is valid; the answer's status says what happened.
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.session(r, req.SessionID).Ask(r.Context(), req.Question))
}

// GET /history returns the session's turns, DELETE /history clears them.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	engine := s.session(r, "")
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, engine.History())
	case http.MethodDelete:
		engine.ClearHistory(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// POST /sessions starts a fresh session.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	engine := s.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": engine.SessionID()})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session(r, "").Status())
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := logger.New(cfg.Log.File, cfg.Log.Production)
	defer zl.Sync()

	shutdownTracer := telemetry.InitTracer(cfg.Telemetry, zl)

	a, err := app.Build(context.Background(), cfg, zl)
	if err != nil {
		zl.Error("main", "startup failed", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	defer a.Close()

	srv := NewServer(a.Sessions, zl, cfg.Server)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		zl.Info("main", "server running", map[string]interface{}{"addr": cfg.Server.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("main", "server stopped", map[string]interface{}{"error": err})
			done <- syscall.SIGTERM
		}
	}()

	<-done
	zl.Info("main", "shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		zl.Error("main", "server shutdown error", map[string]interface{}{"error": err})
	}
	if err := shutdownTracer(ctx); err != nil {
		zl.Warn("main", "tracer shutdown error", map[string]interface{}{"error": err})
	}
}
