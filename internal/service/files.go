// Пакет service — бизнес-логика filevault.
// files.go — доступ к файлам пользователя: загрузка, список, скачивание, удаление.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
)

// BlobStorage — хранилище содержимого файлов.
type BlobStorage interface {
	Save(ctx context.Context, r io.Reader, ext string) (blobstore.SaveResult, error)
	Open(ctx context.Context, name string) (*os.File, error)
	Delete(ctx context.Context, name string) error
}

// RecordIndex — индекс метаданных файлов.
type RecordIndex interface {
	Add(ctx context.Context, rec model.FileRecord) (model.FileRecord, error)
	Get(ctx context.Context, id int64) (*model.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// FileServiceConfig — ограничения на загружаемые файлы.
type FileServiceConfig struct {
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
	// AllowedExtensions — допустимые расширения с точкой (".txt"), регистр учитывается
	AllowedExtensions []string
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// OwnerID — идентификатор пользователя (sub из JWT)
	OwnerID string
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalName — имя файла, переданное клиентом
	OriginalName string
	// ContentType — MIME-тип из multipart part
	ContentType string
	// Size — заявленный размер файла
	Size int64
}

// Download — открытый для чтения файл. Вызывающий код обязан закрыть Content.
type Download struct {
	Record  model.FileRecord
	Content *os.File
}

// FileService — сервис доступа к файлам с проверкой владельца.
type FileService struct {
	blobs   BlobStorage
	records RecordIndex
	maxSize int64
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewFileService создаёт сервис доступа к файлам.
func NewFileService(blobs BlobStorage, records RecordIndex, cfg FileServiceConfig, logger *slog.Logger) *FileService {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[ext] = struct{}{}
	}
	return &FileService{
		blobs:   blobs,
		records: records,
		maxSize: cfg.MaxFileSize,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "file_service")),
	}
}

// Upload сохраняет файл и создаёт запись о нём.
//
// Поток:
//  1. Проверка владельца, размера и расширения (до обращения к диску)
//  2. Запись blob-а (не более MaxFileSize+1 байт)
//  3. index.Add
//
// Если запись в индекс не удалась, blob удаляется.
func (s *FileService) Upload(ctx context.Context, p UploadParams) (*model.FileRecord, error) {
	if p.OwnerID == "" {
		return nil, newError(KindUnauthenticated, nil, "Требуется аутентификация")
	}
	if p.Reader == nil || p.Size <= 0 {
		return nil, newError(KindValidation, nil, "Файл не передан или пуст")
	}
	if p.Size > s.maxSize {
		return nil, newError(KindValidation, ErrFileTooLarge,
			"Размер файла %d байт превышает максимум %d байт", p.Size, s.maxSize)
	}

	ext := filepath.Ext(p.OriginalName)
	if _, ok := s.allowed[ext]; !ok || ext == "" {
		return nil, newError(KindValidation, nil, "Тип файла не разрешён")
	}

	saved, err := s.blobs.Save(ctx, io.LimitReader(p.Reader, s.maxSize+1), ext)
	if err != nil {
		s.fail("upload")
		s.logger.Error("Ошибка сохранения файла",
			slog.String("owner_id", p.OwnerID),
			slog.String("error", err.Error()),
		)
		return nil, newError(KindInternal, err, "Ошибка сохранения файла на диск")
	}

	// Фактический размер потока может отличаться от заявленного
	if saved.Size > s.maxSize || saved.Size == 0 {
		s.removeBlob(ctx, saved.Name)
		if saved.Size == 0 {
			return nil, newError(KindValidation, nil, "Файл не передан или пуст")
		}
		return nil, newError(KindValidation, ErrFileTooLarge,
			"Размер файла превышает максимум %d байт", s.maxSize)
	}

	rec, err := s.records.Add(ctx, model.FileRecord{
		OwnerID:          p.OwnerID,
		OriginalFileName: p.OriginalName,
		StoredFileName:   saved.Name,
		ContentType:      detectContentType(p.ContentType),
		Size:             saved.Size,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		s.fail("upload")
		s.logger.Error("Ошибка записи метаданных, blob удаляется",
			slog.String("stored_file_name", saved.Name),
			slog.String("error", err.Error()),
		)
		s.removeBlob(ctx, saved.Name)
		return nil, newError(KindInternal, err, "Ошибка записи метаданных")
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.FilesTotal.Inc()
	middleware.StoredBytes.Add(float64(rec.Size))

	s.logger.Info("Файл загружен",
		slog.Int64("id", rec.ID),
		slog.String("filename", rec.OriginalFileName),
		slog.Int64("size", rec.Size),
		slog.String("owner_id", rec.OwnerID),
	)
	return &rec, nil
}

// List возвращает файлы владельца, новые первыми.
func (s *FileService) List(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	if ownerID == "" {
		return nil, newError(KindUnauthenticated, nil, "Требуется аутентификация")
	}

	records, err := s.records.ListByOwner(ctx, ownerID)
	if err != nil {
		s.fail("list")
		return nil, newError(KindInternal, err, "Ошибка чтения метаданных")
	}
	return records, nil
}

// Download открывает файл владельца для чтения.
func (s *FileService) Download(ctx context.Context, ownerID string, id int64) (*Download, error) {
	rec, err := s.authorize(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	f, err := s.blobs.Open(ctx, rec.StoredFileName)
	if err != nil {
		switch {
		case errors.Is(err, blobstore.ErrNotFound):
			s.logger.Warn("Запись есть, blob отсутствует",
				slog.Int64("id", rec.ID),
				slog.String("stored_file_name", rec.StoredFileName),
			)
			return nil, newError(KindNotFound, err, "Файл не найден на сервере")
		case errors.Is(err, blobstore.ErrPathTraversal), errors.Is(err, blobstore.ErrInvalidName):
			s.logger.Error("Некорректное имя blob-а в метаданных",
				slog.String("category", "integrity"),
				slog.Int64("id", rec.ID),
				slog.String("stored_file_name", rec.StoredFileName),
			)
		default:
			s.logger.Error("Ошибка открытия файла",
				slog.Int64("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		s.fail("download")
		return nil, newError(KindInternal, err, "Ошибка чтения файла")
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return &Download{Record: *rec, Content: f}, nil
}

// Delete удаляет запись и blob. Запись удаляется первой: после неё файл
// недоступен, даже если удаление blob-а не удастся.
func (s *FileService) Delete(ctx context.Context, ownerID string, id int64) error {
	rec, err := s.authorize(ctx, ownerID, id)
	if err != nil {
		return err
	}

	deleted, err := s.records.Delete(ctx, id)
	if err != nil {
		s.fail("delete")
		return newError(KindInternal, err, "Ошибка удаления метаданных")
	}
	if !deleted {
		// Удалено конкурентным запросом
		return newError(KindNotFound, nil, "Файл %d не найден", id)
	}

	s.removeBlob(ctx, rec.StoredFileName)

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	middleware.FilesTotal.Dec()
	middleware.StoredBytes.Sub(float64(rec.Size))

	s.logger.Info("Файл удалён",
		slog.Int64("id", rec.ID),
		slog.String("owner_id", rec.OwnerID),
	)
	return nil
}

// authorize находит запись и проверяет владельца.
func (s *FileService) authorize(ctx context.Context, ownerID string, id int64) (*model.FileRecord, error) {
	if ownerID == "" {
		return nil, newError(KindUnauthenticated, nil, "Требуется аутентификация")
	}

	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, newError(KindInternal, err, "Ошибка чтения метаданных")
	}
	if rec == nil {
		return nil, newError(KindNotFound, nil, "Файл %d не найден", id)
	}
	if !rec.OwnedBy(ownerID) {
		s.logger.Warn("Попытка доступа к чужому файлу",
			slog.Int64("id", id),
			slog.String("owner_id", ownerID),
		)
		return nil, newError(KindForbidden, nil, "Нет доступа к файлу %d", id)
	}
	return rec, nil
}

// removeBlob удаляет blob без учёта отмены запроса. Ошибка только логируется:
// оставшийся blob найдёт сверка.
func (s *FileService) removeBlob(ctx context.Context, name string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), name); err != nil {
		s.logger.Error("Ошибка удаления blob-а",
			slog.String("stored_file_name", name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) fail(operation string) {
	middleware.OperationsTotal.WithLabelValues(operation, "error").Inc()
}

// detectContentType определяет Content-Type из заголовка multipart part.
// Если не указан — используется application/octet-stream.
func detectContentType(contentType string) string {
	// Убираем параметры (charset и т.д.)
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return model.ContentTypeDefault
	}
	return contentType
}
