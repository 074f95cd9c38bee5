// Пакет index — индекс метаданных файлов с персистентностью в документ.
//
// Индекс загружается из документа лениво, при первой операции (или явно через
// Load при старте), и синхронно перезаписывает документ целиком при каждом
// изменении. Все операции выполняются под одной эксклюзивной блокировкой:
// проверка загрузки, чтение/изменение и запись на диск образуют одну
// критическую секцию. Ожидание блокировки прерывается отменой контекста.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/storage/docstore"
)

// Index — персистентный индекс записей о файлах.
type Index struct {
	sem       *semaphore.Weighted
	persister docstore.Persister
	logger    *slog.Logger

	// Состояние ниже защищено sem
	records []model.FileRecord
	lastID  int64
	loadErr error

	loaded atomic.Bool
}

// Stats — агрегированные показатели индекса.
type Stats struct {
	Files int
	Bytes int64
}

// New создаёт индекс в состоянии Unloaded.
func New(persister docstore.Persister, logger *slog.Logger) *Index {
	return &Index{
		sem:       semaphore.NewWeighted(1),
		persister: persister,
		logger:    logger.With(slog.String("component", "index")),
	}
}

// Load загружает документ, если это ещё не сделано.
// Повреждённый документ оставляет индекс незагруженным: ошибка
// возвращается из Load и из каждой последующей операции.
func (idx *Index) Load(ctx context.Context) error {
	if err := idx.lock(ctx); err != nil {
		return err
	}
	defer idx.sem.Release(1)
	return idx.ensureLoaded(ctx)
}

// IsLoaded возвращает true, если документ успешно загружен.
func (idx *Index) IsLoaded() bool {
	return idx.loaded.Load()
}

// Add присваивает записи следующий id, добавляет её и сохраняет документ.
// При ошибке сохранения изменение откатывается.
func (idx *Index) Add(ctx context.Context, rec model.FileRecord) (model.FileRecord, error) {
	if err := idx.lock(ctx); err != nil {
		return model.FileRecord{}, err
	}
	defer idx.sem.Release(1)

	if err := idx.ensureLoaded(ctx); err != nil {
		return model.FileRecord{}, err
	}

	prevLastID := idx.lastID
	rec.ID = idx.nextID()
	idx.records = append(idx.records, rec)
	idx.lastID = rec.ID

	if err := idx.persist(ctx); err != nil {
		idx.records = idx.records[:len(idx.records)-1]
		idx.lastID = prevLastID
		return model.FileRecord{}, err
	}

	idx.logger.Debug("Запись добавлена",
		slog.Int64("id", rec.ID),
		slog.String("owner_id", rec.OwnerID),
	)
	return rec, nil
}

// Get возвращает копию записи по id или nil, если записи нет.
func (idx *Index) Get(ctx context.Context, id int64) (*model.FileRecord, error) {
	if err := idx.lock(ctx); err != nil {
		return nil, err
	}
	defer idx.sem.Release(1)

	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	if i := idx.find(id); i >= 0 {
		copied := idx.records[i]
		return &copied, nil
	}
	return nil, nil
}

// ListByOwner возвращает записи владельца, новые первыми
// (при равном времени — больший id первым).
func (idx *Index) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	if err := idx.lock(ctx); err != nil {
		return nil, err
	}
	defer idx.sem.Release(1)

	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	result := make([]model.FileRecord, 0)
	for _, rec := range idx.records {
		if rec.OwnedBy(ownerID) {
			result = append(result, rec)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// All возвращает копию всех записей в порядке добавления.
func (idx *Index) All(ctx context.Context) ([]model.FileRecord, error) {
	if err := idx.lock(ctx); err != nil {
		return nil, err
	}
	defer idx.sem.Release(1)

	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	result := make([]model.FileRecord, len(idx.records))
	copy(result, idx.records)
	return result, nil
}

// Delete удаляет запись по id и сохраняет документ.
// Возвращает false, если записи не было.
func (idx *Index) Delete(ctx context.Context, id int64) (bool, error) {
	if err := idx.lock(ctx); err != nil {
		return false, err
	}
	defer idx.sem.Release(1)

	if err := idx.ensureLoaded(ctx); err != nil {
		return false, err
	}

	i := idx.find(id)
	if i < 0 {
		return false, nil
	}

	prev := idx.records
	next := make([]model.FileRecord, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)
	idx.records = next

	if err := idx.persist(ctx); err != nil {
		idx.records = prev
		return false, err
	}

	idx.logger.Debug("Запись удалена", slog.Int64("id", id))
	return true, nil
}

// Stats возвращает количество записей и их суммарный размер.
func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	if err := idx.lock(ctx); err != nil {
		return Stats{}, err
	}
	defer idx.sem.Release(1)

	if err := idx.ensureLoaded(ctx); err != nil {
		return Stats{}, err
	}

	st := Stats{Files: len(idx.records)}
	for _, rec := range idx.records {
		st.Bytes += rec.Size
	}
	return st, nil
}

// lock захватывает эксклюзивную блокировку с учётом ctx.
func (idx *Index) lock(ctx context.Context) error {
	if err := idx.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	// Acquire может успеть захватить блокировку одновременно с отменой
	if err := ctx.Err(); err != nil {
		idx.sem.Release(1)
		return err
	}
	return nil
}

// ensureLoaded выполняет переход Unloaded → Loaded. Вызывается под блокировкой.
func (idx *Index) ensureLoaded(ctx context.Context) error {
	if idx.loaded.Load() {
		return nil
	}
	if idx.loadErr != nil {
		return idx.loadErr
	}

	doc, err := idx.persister.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Отмена не делает документ повреждённым, следующий вызов повторит загрузку
			return err
		}
		idx.loadErr = fmt.Errorf("ошибка загрузки индекса: %w", err)
		idx.logger.Error("Не удалось загрузить документ метаданных",
			slog.String("error", err.Error()),
		)
		return idx.loadErr
	}

	idx.records = doc.Files
	if idx.records == nil {
		idx.records = []model.FileRecord{}
	}
	idx.lastID = doc.LastID
	idx.loaded.Store(true)

	idx.logger.Info("Индекс метаданных загружен",
		slog.Int("files", len(idx.records)),
		slog.Int64("last_id", idx.lastID),
	)
	return nil
}

// persist сохраняет документ целиком. Вызывается под блокировкой.
func (idx *Index) persist(ctx context.Context) error {
	doc := docstore.Document{LastID: idx.lastID, Files: idx.records}
	if err := idx.persister.Save(ctx, doc); err != nil {
		idx.logger.Error("Не удалось сохранить документ метаданных",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ошибка сохранения индекса: %w", err)
	}
	return nil
}

// nextID — следующий идентификатор: id не переиспользуются даже после удаления.
func (idx *Index) nextID() int64 {
	maxID := idx.lastID
	for _, rec := range idx.records {
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	return maxID + 1
}

func (idx *Index) find(id int64) int {
	for i := range idx.records {
		if idx.records[i].ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(records []model.FileRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}
