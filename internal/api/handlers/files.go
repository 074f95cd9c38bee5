// files.go — HTTP handlers файловых операций: загрузка, список, скачивание, удаление.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/service"
)

// multipartOverhead — запас на заголовки multipart сверх максимального размера файла.
const multipartOverhead = 1 << 20

// multipartMemory — часть формы, удерживаемая в памяти; остальное во временных файлах.
const multipartMemory = 8 << 20

// FileOperations — операции сервиса файлов, используемые handler.
type FileOperations interface {
	Upload(ctx context.Context, p service.UploadParams) (*model.FileRecord, error)
	List(ctx context.Context, ownerID string) ([]model.FileRecord, error)
	Download(ctx context.Context, ownerID string, id int64) (*service.Download, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	files       FileOperations
	maxFileSize int64
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(files FileOperations, maxFileSize int64) *FilesHandler {
	return &FilesHandler{
		files:       files,
		maxFileSize: maxFileSize,
	}
}

// uploadResponse — тело ответа POST /files/upload.
type uploadResponse struct {
	ID               int64     `json:"id"`
	OriginalFileName string    `json:"originalFileName"`
	Size             int64     `json:"size"`
	CreatedAt        time.Time `json:"createdAt"`
}

// fileListItem — элемент ответа GET /files.
type fileListItem struct {
	ID               int64     `json:"id"`
	OriginalFileName string    `json:"originalFileName"`
	Size             int64     `json:"size"`
	ContentType      string    `json:"contentType"`
	CreatedAt        time.Time `json:"createdAt"`
}

// UploadFile обрабатывает POST /files/upload.
// Multipart form: file (обязательно).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает максимум %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	rec, err := h.files.Upload(r.Context(), service.UploadParams{
		OwnerID:      subject,
		Reader:       file,
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/files/%d/download", rec.ID))
	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:               rec.ID,
		OriginalFileName: rec.OriginalFileName,
		Size:             rec.Size,
		CreatedAt:        rec.CreatedAt,
	})
}

// ListFiles обрабатывает GET /files. Возвращает файлы пользователя, новые первыми.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.files.List(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]fileListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, fileListItem{
			ID:               rec.ID,
			OriginalFileName: rec.OriginalFileName,
			Size:             rec.Size,
			ContentType:      rec.ContentType,
			CreatedAt:        rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// DownloadFile обрабатывает GET /files/{id}/download.
// Содержимое отдаётся целиком: заголовок Range игнорируется.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	dl, err := h.files.Download(r.Context(), middleware.SubjectFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer dl.Content.Close()

	w.Header().Set("Content-Type", dl.Record.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(dl.Record.OriginalFileName))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if info, err := dl.Content.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	// Статус уже отправлен, ошибку копирования клиенту не сообщить
	_, _ = io.Copy(w, dl.Content)
}

// DeleteFile обрабатывает DELETE /files/{id}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	if err := h.files.Delete(r.Context(), middleware.SubjectFromContext(r.Context()), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileID извлекает числовой {id} из пути. При ошибке пишет 400.
func fileID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор файла: %q", raw))
		return 0, false
	}
	return id, true
}

// isBodyTooLarge — тело запроса оборвано http.MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// contentDisposition формирует attachment с исходным именем файла.
// Для имён вне ASCII mime.FormatMediaType использует filename* (RFC 2231).
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, err error) {
	msg := service.MessageOf(err)
	switch service.KindOf(err) {
	case service.KindValidation:
		if errors.Is(err, service.ErrFileTooLarge) {
			apierrors.FileTooLarge(w, msg)
			return
		}
		apierrors.ValidationError(w, msg)
	case service.KindUnauthenticated:
		apierrors.Unauthorized(w, msg)
	case service.KindForbidden:
		apierrors.Forbidden(w, msg)
	case service.KindNotFound:
		apierrors.NotFound(w, msg)
	case service.KindConflict:
		apierrors.Conflict(w, msg)
	default:
		apierrors.InternalError(w, msg)
	}
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
