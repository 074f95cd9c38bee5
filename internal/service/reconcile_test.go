package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
	"github.com/bigkaa/filevault/internal/storage/docstore"
	"github.com/bigkaa/filevault/internal/storage/index"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupReconcileTestEnv создаёт тестовое окружение для reconciliation тестов.
func setupReconcileTestEnv(t *testing.T) (string, *blobstore.BlobStore, *index.Index) {
	t.Helper()

	dir := t.TempDir()
	store, err := blobstore.New(dir)
	if err != nil {
		t.Fatalf("Ошибка создания BlobStore: %v", err)
	}

	return dir, store, index.New(docstore.NewMemory(nil), testLogger())
}

// writeBlob создаёт blob с заданным содержимым и временем модификации.
func writeBlob(t *testing.T, dir, name string, data []byte, modTime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("Ошибка записи файла: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("Ошибка установки времени файла: %v", err)
	}
}

// addRecord добавляет запись в индекс.
func addRecord(t *testing.T, idx *index.Index, stored string, size int64) model.FileRecord {
	t.Helper()
	rec, err := idx.Add(context.Background(), model.FileRecord{
		OwnerID:          "alice",
		OriginalFileName: stored,
		StoredFileName:   stored,
		ContentType:      "text/plain",
		Size:             size,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Ошибка добавления записи: %v", err)
	}
	return rec
}

func defaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{Interval: time.Hour, OrphanGrace: time.Hour, DeleteOrphans: true}
}

func TestReconcileRunOnce_NoIssues(t *testing.T) {
	dir, store, idx := setupReconcileTestEnv(t)

	writeBlob(t, dir, "good.txt", []byte("test data"), time.Now())
	addRecord(t, idx, "good.txt", 9)

	rs := NewReconcileService(store, idx, defaultReconcileConfig(), testLogger())
	result, skipped := rs.RunOnce(context.Background())

	if skipped {
		t.Fatal("Reconciliation пропущена")
	}
	if result == nil {
		t.Fatal("Результат nil")
	}
	if len(result.Issues) != 0 {
		t.Errorf("Найдено %d проблем, ожидалось 0", len(result.Issues))
		for _, issue := range result.Issues {
			t.Logf("  %s: %s (%s)", issue.Type, issue.Description, issue.StoredFileName)
		}
	}
	if result.Summary.OK != 1 {
		t.Errorf("OK: хотели 1, получили %d", result.Summary.OK)
	}
	if result.FilesChecked != 1 || result.BlobsScanned != 1 {
		t.Errorf("FilesChecked/BlobsScanned: хотели 1/1, получили %d/%d", result.FilesChecked, result.BlobsScanned)
	}
}

func TestReconcileRunOnce_OrphanedBlobDeleted(t *testing.T) {
	dir, store, idx := setupReconcileTestEnv(t)

	// Blob без записи, старше grace-периода
	writeBlob(t, dir, "orphaned.txt", []byte("data"), time.Now().Add(-2*time.Hour))

	rs := NewReconcileService(store, idx, defaultReconcileConfig(), testLogger())
	result, _ := rs.RunOnce(context.Background())

	if result == nil {
		t.Fatal("Результат nil")
	}

	found := false
	for _, issue := range result.Issues {
		if issue.Type == IssueOrphanedBlob && issue.StoredFileName == "orphaned.txt" {
			found = true
			if !issue.Resolved {
				t.Error("orphan должен быть помечен как устранённый")
			}
		}
	}
	if !found {
		t.Error("Не обнаружен orphaned_blob для orphaned.txt")
	}
	if result.Summary.OrphanedBlobs != 1 || result.Summary.OrphansDeleted != 1 {
		t.Errorf("OrphanedBlobs/OrphansDeleted: хотели 1/1, получили %d/%d",
			result.Summary.OrphanedBlobs, result.Summary.OrphansDeleted)
	}
	if store.Exists("orphaned.txt") {
		t.Error("orphan blob не удалён")
	}
}

func TestReconcileRunOnce_OrphanedBlobKept(t *testing.T) {
	dir, store, idx := setupReconcileTestEnv(t)
	writeBlob(t, dir, "orphaned.txt", []byte("data"), time.Now().Add(-2*time.Hour))

	cfg := defaultReconcileConfig()
	cfg.DeleteOrphans = false
	rs := NewReconcileService(store, idx, cfg, testLogger())
	result, _ := rs.RunOnce(context.Background())

	if result.Summary.OrphanedBlobs != 1 || result.Summary.OrphansDeleted != 0 {
		t.Errorf("OrphanedBlobs/OrphansDeleted: хотели 1/0, получили %d/%d",
			result.Summary.OrphanedBlobs, result.Summary.OrphansDeleted)
	}
	if !store.Exists("orphaned.txt") {
		t.Error("blob удалён при выключенном DeleteOrphans")
	}
}

func TestReconcileRunOnce_FreshBlobSkipped(t *testing.T) {
	dir, store, idx := setupReconcileTestEnv(t)

	// Blob моложе grace-периода: загрузка может быть в процессе
	writeBlob(t, dir, "uploading.txt", []byte("data"), time.Now())

	rs := NewReconcileService(store, idx, defaultReconcileConfig(), testLogger())
	result, _ := rs.RunOnce(context.Background())

	if len(result.Issues) != 0 {
		t.Errorf("свежий blob не должен считаться orphan: %+v", result.Issues)
	}
	if !store.Exists("uploading.txt") {
		t.Error("свежий blob удалён")
	}
}

func TestReconcileRunOnce_MissingBlob(t *testing.T) {
	_, store, idx := setupReconcileTestEnv(t)
	rec := addRecord(t, idx, "missing.txt", 100)

	rs := NewReconcileService(store, idx, defaultReconcileConfig(), testLogger())
	result, _ := rs.RunOnce(context.Background())

	if result == nil {
		t.Fatal("Результат nil")
	}

	found := false
	for _, issue := range result.Issues {
		if issue.Type == IssueMissingBlob && issue.StoredFileName == "missing.txt" {
			found = true
			if issue.FileID == nil || *issue.FileID != rec.ID {
				t.Errorf("FileID: хотели %d, получили %v", rec.ID, issue.FileID)
			}
		}
	}
	if !found {
		t.Error("Не обнаружен missing_blob для missing.txt")
	}
	if result.Summary.MissingBlobs != 1 {
		t.Errorf("MissingBlobs: хотели 1, получили %d", result.Summary.MissingBlobs)
	}
}

func TestReconcileRunOnce_SizeMismatch(t *testing.T) {
	dir, store, idx := setupReconcileTestEnv(t)

	writeBlob(t, dir, "size_mismatch.txt", []byte("actual data"), time.Now())
	addRecord(t, idx, "size_mismatch.txt", 999)

	rs := NewReconcileService(store, idx, defaultReconcileConfig(), testLogger())
	result, _ := rs.RunOnce(context.Background())

	if result == nil {
		t.Fatal("Результат nil")
	}
	if result.Summary.SizeMismatches != 1 {
		t.Errorf("SizeMismatches: хотели 1, получили %d", result.Summary.SizeMismatches)
	}
	if len(result.Issues) != 1 || result.Issues[0].Type != IssueSizeMismatch {
		t.Errorf("ожидалась одна проблема size_mismatch, получено %+v", result.Issues)
	}
}

func TestReconcileRunOnce_Concurrent(t *testing.T) {
	_, store, idx := setupReconcileTestEnv(t)
	rs := NewReconcileService(store, idx, defaultReconcileConfig(), testLogger())

	// Имитируем выполняющуюся сверку
	rs.mu.Lock()
	rs.inProcess = true
	rs.mu.Unlock()

	if !rs.IsInProgress() {
		t.Error("IsInProgress должен вернуть true")
	}

	result, skipped := rs.RunOnce(context.Background())
	if !skipped {
		t.Error("Ожидался пропуск при параллельном запуске")
	}
	if result != nil {
		t.Error("Результат должен быть nil при пропуске")
	}
}

func TestReconcileStartStop(t *testing.T) {
	_, store, idx := setupReconcileTestEnv(t)

	cfg := defaultReconcileConfig()
	cfg.Interval = 10 * time.Millisecond
	rs := NewReconcileService(store, idx, cfg, testLogger())

	rs.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	rs.Stop()

	if rs.IsInProgress() {
		t.Error("После Stop сверка не должна выполняться")
	}
}
