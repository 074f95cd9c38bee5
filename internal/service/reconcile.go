// reconcile.go — сервис фоновой сверки (Reconciliation) blob-ов с индексом.
//
// Reconciliation сравнивает blob-ы в директории данных с записями индекса.
//
// Обнаруживает проблемы:
//   - orphaned_blob: blob без записи (старше grace-периода); удаляется,
//     если включено FV_RECONCILE_DELETE_ORPHANS
//   - missing_blob: запись в индексе, но blob-а нет
//   - size_mismatch: размер blob-а не совпадает с записью
//
// Запускается как горутина с периодическим тикером (FV_RECONCILE_INTERVAL)
// и по запросу через POST /maintenance/reconcile.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fv_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fv_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип проблемы, найденной сверкой.
type IssueType string

const (
	IssueOrphanedBlob IssueType = "orphaned_blob"
	IssueMissingBlob  IssueType = "missing_blob"
	IssueSizeMismatch IssueType = "size_mismatch"
)

// ReconcileIssue — одна найденная проблема.
type ReconcileIssue struct {
	Type           IssueType `json:"type"`
	FileID         *int64    `json:"fileId,omitempty"`
	StoredFileName string    `json:"storedFileName"`
	Description    string    `json:"description"`
	// Resolved — проблема устранена в ходе сверки (orphan удалён)
	Resolved bool `json:"resolved"`
}

// ReconcileSummary — сводка по типам проблем.
type ReconcileSummary struct {
	OK             int `json:"ok"`
	OrphanedBlobs  int `json:"orphanedBlobs"`
	MissingBlobs   int `json:"missingBlobs"`
	SizeMismatches int `json:"sizeMismatches"`
	OrphansDeleted int `json:"orphansDeleted"`
}

// ReconcileReport — результат одного цикла сверки.
type ReconcileReport struct {
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  time.Time        `json:"completedAt"`
	FilesChecked int              `json:"filesChecked"`
	BlobsScanned int              `json:"blobsScanned"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileBlobs — операции blob-хранилища, нужные сверке.
type ReconcileBlobs interface {
	List(ctx context.Context) ([]blobstore.BlobInfo, error)
	Exists(name string) bool
	Delete(ctx context.Context, name string) error
}

// ReconcileRecords — операции индекса, нужные сверке.
type ReconcileRecords interface {
	All(ctx context.Context) ([]model.FileRecord, error)
}

// ReconcileConfig — параметры сверки.
type ReconcileConfig struct {
	// Interval — период фонового запуска
	Interval time.Duration
	// OrphanGrace — минимальный возраст blob-а без записи, после которого
	// он считается orphan (загрузка ещё может быть в процессе)
	OrphanGrace time.Duration
	// DeleteOrphans — удалять найденные orphan blob-ы
	DeleteOrphans bool
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	blobs   ReconcileBlobs
	records ReconcileRecords
	cfg     ReconcileConfig
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	blobs ReconcileBlobs,
	records ReconcileRecords,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		blobs:   blobs,
		records: records,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.cfg.Interval.String()),
		slog.Bool("delete_orphans", rs.cfg.DeleteOrphans),
	)
}

// Stop останавливает фоновой процесс и дожидается завершения текущего цикла.
func (rs *ReconcileService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Потокобезопасен: если reconciliation уже выполняется, возвращает nil, true.
//
// Возвращает:
//   - *ReconcileReport — результат сверки (nil при ошибке чтения индекса или диска)
//   - bool — true если reconciliation уже выполнялась (skipped)
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := rs.now().UTC()
	rs.logger.Info("Reconciliation начата")

	report, err := rs.reconcile(ctx)
	if err != nil {
		rs.logger.Error("Ошибка reconciliation", slog.String("error", err.Error()))
		return nil, false
	}

	report.StartedAt = startedAt
	report.CompletedAt = rs.now().UTC()
	duration := report.CompletedAt.Sub(startedAt)

	// Обновляем Prometheus метрики
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("files_checked", report.FilesChecked),
		slog.Int("blobs_scanned", report.BlobsScanned),
		slog.Int("issues", len(report.Issues)),
		slog.Int("orphans_deleted", report.Summary.OrphansDeleted),
		slog.Duration("duration", duration),
	)

	return report, false
}

// reconcile сверяет blob-ы на диске с записями индекса.
func (rs *ReconcileService) reconcile(ctx context.Context) (*ReconcileReport, error) {
	// Сначала blob-ы, затем индекс. Запись, добавленная между этими шагами,
	// перепроверяется через Exists
	blobs, err := rs.blobs.List(ctx)
	if err != nil {
		return nil, err
	}
	records, err := rs.records.All(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		FilesChecked: len(records),
		BlobsScanned: len(blobs),
		Issues:       []ReconcileIssue{},
	}

	onDisk := make(map[string]blobstore.BlobInfo, len(blobs))
	for _, b := range blobs {
		onDisk[b.Name] = b
	}
	indexed := make(map[string]bool, len(records))

	// 1. Записи без blob-а и несовпадение размера
	for _, rec := range records {
		indexed[rec.StoredFileName] = true
		id := rec.ID

		blob, ok := onDisk[rec.StoredFileName]
		switch {
		case !ok && rs.blobs.Exists(rec.StoredFileName):
			report.Summary.OK++
		case !ok:
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:           IssueMissingBlob,
				FileID:         &id,
				StoredFileName: rec.StoredFileName,
				Description:    "Запись в индексе без blob-а на диске",
			})
			report.Summary.MissingBlobs++
		case blob.Size != rec.Size:
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:           IssueSizeMismatch,
				FileID:         &id,
				StoredFileName: rec.StoredFileName,
				Description:    "Размер blob-а не совпадает с записью в индексе",
			})
			report.Summary.SizeMismatches++
		default:
			report.Summary.OK++
		}
	}

	// 2. Blob-ы без записи
	cutoff := rs.now().Add(-rs.cfg.OrphanGrace)
	for _, b := range blobs {
		if indexed[b.Name] || b.ModTime.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		issue := ReconcileIssue{
			Type:           IssueOrphanedBlob,
			StoredFileName: b.Name,
			Description:    "Blob на диске без записи в индексе",
		}
		report.Summary.OrphanedBlobs++

		if rs.cfg.DeleteOrphans {
			if err := rs.blobs.Delete(ctx, b.Name); err != nil {
				rs.logger.Warn("Ошибка удаления orphan blob-а",
					slog.String("stored_file_name", b.Name),
					slog.String("error", err.Error()),
				)
			} else {
				issue.Resolved = true
				report.Summary.OrphansDeleted++
			}
		}
		report.Issues = append(report.Issues, issue)
	}

	return report, nil
}
