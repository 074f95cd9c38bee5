package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"validation", func(w http.ResponseWriter) { ValidationError(w, "плохо") }, http.StatusBadRequest, CodeValidationError},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "нет") }, http.StatusNotFound, CodeNotFound},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "кто вы") }, http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "нельзя") }, http.StatusForbidden, CodeForbidden},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "занято") }, http.StatusConflict, CodeConflict},
		{"too large", func(w http.ResponseWriter) { FileTooLarge(w, "много") }, http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{"reconcile", func(w http.ResponseWriter) { ReconcileInProgress(w, "идёт") }, http.StatusConflict, CodeReconcileInProgress},
		{"internal", func(w http.ResponseWriter) { InternalError(w, "ой") }, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.wantStatus {
				t.Errorf("ожидался статус %d, получен %d", tt.wantStatus, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("ожидался Content-Type application/json, получен %q", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("ожидался код %s, получен %s", tt.wantCode, body.Error.Code)
			}
			if body.Error.Message == "" {
				t.Error("пустое сообщение")
			}
		})
	}
}
