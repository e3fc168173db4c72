package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"noteforge/api/internal/notify"
	"noteforge/api/internal/store"
)

func newTestServer(t *testing.T, opts ...testOption) (*testApp, http.Handler) {
	t.Helper()
	app := newTestApp(t, nil, opts...)
	return app, NewHTTPServer(app.svc, nil, "*", quietLogger()).Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealthRoute(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ok, _ := decodeResponse(t, rec)["ok"].(bool); !ok {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestCreateThenListDocuments(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodPost, "/api/documents", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/documents", "")
	docs, _ := decodeResponse(t, rec)["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %s", rec.Body.String())
	}
	item := docs[0].(map[string]any)
	if item["title"] != store.DefaultTitle || item["modified"] != "Today" || item["active"] != true {
		t.Fatalf("unexpected list item %v", item)
	}
}

func TestDeleteWithoutConfirmation(t *testing.T) {
	app, h := newTestServer(t)
	doc, _ := app.svc.CreateDocument(t.Context())

	rec := doRequest(t, h, http.MethodDelete, "/api/documents/"+doc.ID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeResponse(t, rec)["code"]; code != "CONFIRMATION_REQUIRED" {
		t.Fatalf("unexpected code %v", code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/documents/"+doc.ID+"?confirm=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(app.svc.ListDocuments()) != 0 {
		t.Fatal("document not deleted")
	}
}

func TestUnknownDocumentIs404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/api/documents/doc_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeResponse(t, rec)
	if body["code"] != "NOT_FOUND" || body["error"] == "" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected error body: %+v", payload)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/documents/doc_1/nope", "{}")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown POST route, got %d", rec.Code)
	}
}

func TestWrongMethodIs405(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodDelete, "/api/settings", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestPreflightAnswersNoContent(t *testing.T) {
	_, h := newTestServer(t)
	for _, path := range []string{"/api/documents", "/api/documents/doc_1/content", "/api/nope"} {
		rec := doRequest(t, h, http.MethodOptions, path, "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("%s: expected empty body, got %q", path, rec.Body.String())
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s: unexpected allow-origin %q", path, got)
		}
	}
}

func TestExportHeaders(t *testing.T) {
	app, h := newTestServer(t)
	doc, _ := app.svc.CreateDocument(t.Context())
	if _, err := app.svc.UpdateContent(doc.ID, textDelta("hello export\n")); err != nil {
		t.Fatalf("update content: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/documents/active/export?format=txt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="Untitled-Document.txt"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Body.String() != "hello export\n" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	app, h := newTestServer(t)
	doc, _ := app.svc.CreateDocument(t.Context())

	rec := doRequest(t, h, http.MethodPost, "/api/documents/"+doc.ID+"/export", `{"format":"rtf"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if code := decodeResponse(t, rec)["code"]; code != "UNSUPPORTED_FORMAT" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestContentPatchReportsDirty(t *testing.T) {
	app, h := newTestServer(t)
	doc, _ := app.svc.CreateDocument(t.Context())

	rec := doRequest(t, h, http.MethodPatch, "/api/documents/"+doc.ID+"/content",
		`{"content":{"ops":[{"insert":"typed\n"}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if dirty, _ := decodeResponse(t, rec)["dirty"].(bool); !dirty {
		t.Fatalf("expected dirty=true, got %s", rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/state", "")
	state := decodeResponse(t, rec)
	if state["dirty"] != true || state["activeId"] != doc.ID {
		t.Fatalf("unexpected state %v", state)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/documents/"+doc.ID+"/save", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if app.svc.Dirty() {
		t.Fatal("expected clean after save")
	}
}

func TestInvalidSettingsIs422(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodPut, "/api/settings", `{"fontSize":400}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSettingsCannotForceConnection(t *testing.T) {
	app, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodPatch, "/api/settings", `{"dropboxConnected":true,"theme":"dark"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	settings := app.svc.Settings()
	if settings.DropboxConnected || settings.Theme != "dark" {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

func TestEventStreamDeliversDirtyChange(t *testing.T) {
	bus := notify.NewBus()
	app := newTestApp(t, nil, func(o *Options) { o.Events = bus })
	doc, _ := app.svc.CreateDocument(t.Context())

	srv := httptest.NewServer(NewHTTPServer(app.svc, bus, "*", quietLogger()).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected upgrade status %d", resp.StatusCode)
	}

	msg := map[string]any{
		"type":       "content",
		"documentId": doc.ID,
		"content":    map[string]any{"ops": []any{map[string]any{"insert": "live\n"}}},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var event notify.Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read: %v", err)
		}
		if event.Type != notify.TypeDirtyChanged {
			continue
		}
		if event.DocumentID != doc.ID || event.Dirty == nil || !*event.Dirty {
			t.Fatalf("unexpected dirty event %+v", event)
		}
		break
	}

	got, err := app.svc.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "live\n" {
		t.Fatalf("edit not applied, text %q", got.Text)
	}
}

func TestEventStreamDisabledWithoutBus(t *testing.T) {
	_, h := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
