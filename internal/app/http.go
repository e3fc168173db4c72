package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"noteforge/api/internal/content"
	"noteforge/api/internal/notify"
	"noteforge/api/internal/store"
)

// Pinger reports whether a dependency is reachable for /api/ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPServer struct {
	service    *Service
	bus        *notify.Bus
	corsOrigin string
	log        logrus.FieldLogger
	checks     map[string]Pinger
}

// NewHTTPServer builds the API surface. bus may be nil, which disables
// /api/events.
func NewHTTPServer(service *Service, bus *notify.Bus, corsOrigin string, log logrus.FieldLogger) *HTTPServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPServer{
		service:    service,
		bus:        bus,
		corsOrigin: corsOrigin,
		log:        log.WithField("component", "http"),
		checks:     make(map[string]Pinger),
	}
}

// AddReadyCheck registers a dependency probed by /api/ready.
func (s *HTTPServer) AddReadyCheck(name string, p Pinger) {
	s.checks[name] = p
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withMiddleware)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)

	r.HandleFunc("/api/documents", s.handleListDocuments).Methods(http.MethodGet)
	r.HandleFunc("/api/documents", s.handleCreateDocument).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/active", s.handleActiveDocument).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}", s.handleSaveDocument).Methods(http.MethodPut)
	r.HandleFunc("/api/documents/{id}", s.handleDeleteDocument).Methods(http.MethodDelete)
	r.HandleFunc("/api/documents/{id}/open", s.handleOpenDocument).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/content", s.handleUpdateContent).Methods(http.MethodPatch)
	r.HandleFunc("/api/documents/{id}/title", s.handleUpdateTitle).Methods(http.MethodPatch)
	r.HandleFunc("/api/documents/{id}/save", s.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/export", s.handleExport).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/documents/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/history/{hash}", s.handleRevision).Methods(http.MethodGet)

	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/api/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/api/settings", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", s.handleUpdateSettings).Methods(http.MethodPut, http.MethodPatch)

	r.HandleFunc("/api/dropbox/connect", s.handleDropboxConnect).Methods(http.MethodPost)
	r.HandleFunc("/api/dropbox/callback", s.handleDropboxCallback).Methods(http.MethodGet)
	r.HandleFunc("/api/dropbox/disconnect", s.handleDropboxDisconnect).Methods(http.MethodPost)

	r.NotFoundHandler = s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}))
	r.MethodNotAllowedHandler = s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}))
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.State(r.Context()))
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.service.ListDocuments()})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.CreateDocument(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

func (s *HTTPServer) handleActiveDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.service.ActiveDocument()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"document": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *HTTPServer) handleOpenDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.OpenDocument(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *HTTPServer) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	delta, err := content.Parse(body.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content must be a delta", nil)
		return
	}
	doc, err := s.service.UpdateContent(mux.Vars(r)["id"], delta)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc, "dirty": s.service.Dirty()})
}

func (s *HTTPServer) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.UpdateTitle(mux.Vars(r)["id"], body.Title)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

// handleSaveDocument replaces title and content in one request and persists.
func (s *HTTPServer) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title   *string         `json:"title"`
		Content json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	edit := DocumentEdit{Title: body.Title}
	if len(body.Content) > 0 {
		delta, err := content.Parse(body.Content)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content must be a delta", nil)
			return
		}
		edit.Content = &delta
	}
	s.save(w, r, edit)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	s.save(w, r, DocumentEdit{})
}

func (s *HTTPServer) save(w http.ResponseWriter, r *http.Request, edit DocumentEdit) {
	doc, err := s.service.SaveDocument(r.Context(), mux.Vars(r)["id"], edit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := s.service.DeleteDocument(r.Context(), mux.Vars(r)["id"], confirmed); err != nil {
		s.fail(w, err)
		return
	}
	state := s.service.State(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "activeId": state.ActiveID})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if r.Method == http.MethodPost {
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Format != "" {
			format = body.Format
		}
	}

	id := mux.Vars(r)["id"]
	if id == "active" {
		id = ""
	}
	result, err := s.service.ExportDocument(r.Context(), id, format)
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.DocumentHistory(mux.Vars(r)["id"], limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

func (s *HTTPServer) handleRevision(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.service.DocumentRevision(vars["id"], vars["hash"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": snap})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query.Get("q"), limit, offset))
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Sync(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.service.Settings()})
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch store.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	// The connection flag is owned by the connect flow.
	patch.DropboxConnected = nil

	settings, err := s.service.UpdateSettings(r.Context(), patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *HTTPServer) handleDropboxConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	url, err := s.service.ConnectDropbox(r.Context(), body.Key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorizeUrl": url})
}

func (s *HTTPServer) handleDropboxCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "AUTHORIZATION_DENIED", denied, nil)
		return
	}
	if err := s.service.CompleteDropbox(r.Context(), query.Get("code"), query.Get("state")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "dropboxConnected": true})
}

func (s *HTTPServer) handleDropboxDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DisconnectDropbox(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("code", code).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		// CORS preflight is answered for every path.
		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
