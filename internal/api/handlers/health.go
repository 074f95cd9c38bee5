// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/filevault/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexReadinessChecker — проверка готовности индекса метаданных.
type IndexReadinessChecker interface {
	IsLoaded() bool
}

// DBReadinessChecker — проверка доступности базы пользователей.
type DBReadinessChecker interface {
	CheckReady(ctx context.Context) (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version   string
	serviceID string
	// dataDir — путь к директории blob-ов (для проверки FS)
	dataDir string
	idx     IndexReadinessChecker
	// users — nil в режиме JWKS
	users DBReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(serviceID, dataDir string, idx IndexReadinessChecker, users DBReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		serviceID: serviceID,
		dataDir:   dataDir,
		idx:       idx,
		users:     users,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   h.serviceID,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, загрузка индекса, база пользователей.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{
		"filesystem": h.checkFilesystem(),
		"index":      h.checkIndex(),
	}
	if h.users != nil {
		status, message := h.users.CheckReady(r.Context())
		checks["users_db"] = map[string]any{"status": status, "message": message}
	}

	overallStatus := "ok"
	httpStatus := http.StatusOK
	for _, c := range checks {
		if c.(map[string]any)["status"] != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   h.serviceID,
		"checks":    checks,
	})
}

// checkFilesystem проверяет доступность директории данных на запись.
// Служебный файл начинается с точки и пропускается сверкой.
func (h *HealthHandler) checkFilesystem() map[string]any {
	testFile := filepath.Join(h.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория данных недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

func (h *HealthHandler) checkIndex() map[string]any {
	if h.idx == nil || !h.idx.IsLoaded() {
		return map[string]any{
			"status":  statusFail,
			"message": "Индекс метаданных не загружен",
		}
	}
	return map[string]any{
		"status": "ok",
	}
}
