// system.go — обработчик GET /info (информация о сервисе).
// Публичный endpoint (без аутентификации) для мониторинга.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/config"
	"github.com/bigkaa/filevault/internal/storage/index"
)

// IndexStats — агрегированные показатели индекса.
type IndexStats interface {
	Stats(ctx context.Context) (index.Stats, error)
}

// DiskUsageFunc возвращает ёмкость файловой системы, на которой лежит path.
type DiskUsageFunc func(path string) (total, used, available int64, err error)

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	idx       IndexStats
	diskUsage DiskUsageFunc
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil — тогда блок disk в ответе отсутствует.
func NewSystemHandler(cfg *config.Config, idx IndexStats, diskUsage DiskUsageFunc, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		idx:       idx,
		diskUsage: diskUsage,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

type diskInfo struct {
	TotalBytes     int64 `json:"totalBytes"`
	UsedBytes      int64 `json:"usedBytes"`
	AvailableBytes int64 `json:"availableBytes"`
}

type infoResponse struct {
	Service           string    `json:"service"`
	Version           string    `json:"version"`
	AuthMode          string    `json:"authMode"`
	MaxFileSize       int64     `json:"maxFileSize"`
	AllowedExtensions []string  `json:"allowedExtensions"`
	Files             int       `json:"files"`
	StoredBytes       int64     `json:"storedBytes"`
	Disk              *diskInfo `json:"disk,omitempty"`
}

// GetInfo обрабатывает GET /info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	st, err := h.idx.Stats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка чтения статистики индекса", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка чтения метаданных")
		return
	}

	authMode := "jwks"
	if h.cfg.LocalAuth() {
		authMode = "local"
	}

	resp := infoResponse{
		Service:           h.cfg.ServiceID,
		Version:           config.Version,
		AuthMode:          authMode,
		MaxFileSize:       h.cfg.MaxFileSize,
		AllowedExtensions: h.cfg.AllowedExtensions,
		Files:             st.Files,
		StoredBytes:       st.Bytes,
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage(h.cfg.DataDir)
		if err != nil {
			h.logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
		} else {
			resp.Disk = &diskInfo{TotalBytes: total, UsedBytes: used, AvailableBytes: available}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
