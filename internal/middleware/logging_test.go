package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	logger, buf := captureLogger()

	handler := NewLoggingMiddleware(logger)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/memos", nil))

	entry := decodeLogEntry(t, buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" || entry["path"] != "/memos" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if status, _ := entry["status"].(float64); status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
	if _, ok := entry["account_id"]; ok {
		t.Error("account_id should be omitted for anonymous requests")
	}

	requestID, _ := entry["request_id"].(string)
	if requestID == "" {
		t.Fatal("expected request_id in log entry")
	}
	if got := w.Header().Get(RequestIDHeader); got != requestID {
		t.Errorf("%s header = %q, want %q", RequestIDHeader, got, requestID)
	}
}

// TestLoggingMiddleware_ReusesIncomingRequestID は受け取ったX-Request-IDを引き継ぐことを検証する。
func TestLoggingMiddleware_ReusesIncomingRequestID(t *testing.T) {
	logger, buf := captureLogger()

	var inHandler string
	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if inHandler != "req-abc" {
		t.Errorf("request ID in handler = %q, want req-abc", inHandler)
	}
	if entry := decodeLogEntry(t, buf); entry["request_id"] != "req-abc" {
		t.Errorf("request_id = %v, want req-abc", entry["request_id"])
	}
}

// TestLoggingMiddleware_IncludesAccountIDFromInnerSession は内側のセッションミドルウェアが
// 解決したアカウントIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesAccountIDFromInnerSession(t *testing.T) {
	logger, buf := captureLogger()

	handler := NewLoggingMiddleware(logger)(
		NewSessionMiddleware(validAuthenticator("tok", 77))(okHandler()),
	)

	req := httptest.NewRequest(http.MethodGet, "/memos", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, buf)
	if id, _ := entry["account_id"].(float64); id != 77 {
		t.Errorf("account_id = %v, want 77", entry["account_id"])
	}
}

// TestLoggingMiddleware_LevelFollowsStatus はステータスコードに応じてログレベルが変わることを検証する。
func TestLoggingMiddleware_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := captureLogger()
			handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			entry := decodeLogEntry(t, buf)
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if status, _ := entry["status"].(float64); int(status) != tt.status {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
		})
	}
}
