// handler.go — APIHandler собирает доменные handlers и регистрирует
// их маршруты в chi-роутере.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/filevault/internal/api/middleware"
)

// AdminScope — scope, необходимый для endpoints обслуживания.
const AdminScope = "files:admin"

// APIHandler — единая точка регистрации всех endpoints.
type APIHandler struct {
	files       *FilesHandler
	auth        *AuthHandler
	system      *SystemHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
// auth может быть nil — тогда /auth/* не регистрируется.
func NewAPIHandler(
	files *FilesHandler,
	auth *AuthHandler,
	system *SystemHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		files:       files,
		auth:        auth,
		system:      system,
		maintenance: maintenance,
		health:      health,
	}
}

// Register регистрирует маршруты. authenticate — middleware проверки
// Bearer token для защищённых endpoints.
func (h *APIHandler) Register(r chi.Router, authenticate func(http.Handler) http.Handler) {
	// --- Health и информация (без аутентификации) ---
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/info", h.system.GetInfo)

	// --- Auth (только локальный выпуск токенов) ---
	if h.auth != nil {
		r.Post("/auth/register", h.auth.Register)
		r.Post("/auth/login", h.auth.Login)
	}

	// --- Защищённые endpoints ---
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Post("/files/upload", h.files.UploadFile)
		r.Get("/files", h.files.ListFiles)
		r.Get("/files/{id}/download", h.files.DownloadFile)
		r.Delete("/files/{id}", h.files.DeleteFile)

		r.With(middleware.RequireScope(AdminScope)).
			Post("/maintenance/reconcile", h.maintenance.Reconcile)
	})
}
