// Пакет docstore — персистентность индекса метаданных одним документом.
// Документ целиком перечитывается при загрузке и целиком перезаписывается
// при каждом изменении (без инкрементального журнала).
// Запись на диск атомарна: temp → fsync → rename.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bigkaa/filevault/internal/domain/model"
)

// ErrCorrupt — документ существует, но не десериализуется.
var ErrCorrupt = errors.New("документ метаданных повреждён")

// Document — содержимое документа метаданных.
type Document struct {
	// LastID — последний выданный идентификатор (id не переиспользуются)
	LastID int64 `json:"lastId"`
	// Files — упорядоченная коллекция записей
	Files []model.FileRecord `json:"files"`
}

// Persister — чтение и запись документа целиком.
type Persister interface {
	// Load возвращает пустой Document, если документ отсутствует или пуст.
	Load(ctx context.Context) (Document, error)
	// Save атомарно заменяет документ.
	Save(ctx context.Context, doc Document) error
}

// Encode сериализует документ в человекочитаемый JSON.
func Encode(doc Document) ([]byte, error) {
	if doc.Files == nil {
		doc.Files = []model.FileRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации документа: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode разбирает документ. Пустой ввод — пустой документ.
// Помимо объекта {"lastId", "files"} принимается устаревший формат —
// JSON-массив записей без счётчика.
func Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Document{}, nil
	}

	var doc Document
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Files); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return doc, nil
	}

	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return doc, nil
}

// JSONFile — документ в JSON-файле на диске.
type JSONFile struct {
	path string
}

// NewJSONFile создаёт Persister для файла path.
// Создаёт родительскую директорию, если она не существует.
func NewJSONFile(path string) (*JSONFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	return &JSONFile{path: path}, nil
}

// Path возвращает путь к документу.
func (f *JSONFile) Path() string {
	return f.path
}

// Load читает документ с диска.
func (f *JSONFile) Load(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("ошибка чтения документа %s: %w", f.path, err)
	}

	doc, err := Decode(data)
	if err != nil {
		return Document{}, fmt.Errorf("документ %s: %w", f.path, err)
	}
	return doc, nil
}

// Save атомарно заменяет документ на диске.
// Паттерн: JSON → temp файл в той же директории → fsync → rename.
// Если ctx отменён до rename, исходный документ остаётся нетронутым.
func (f *JSONFile) Save(ctx context.Context, doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Memory — документ в памяти. Хранит сериализованные байты, поэтому
// проходит тот же кодек, что и JSONFile.
type Memory struct {
	mu   sync.Mutex
	data []byte
	// failSave — ошибка, возвращаемая из Save (для тестов отказов)
	failSave error
}

// NewMemory создаёт in-memory Persister с начальным содержимым data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

// Load разбирает хранимые байты.
func (m *Memory) Load(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Decode(m.data)
}

// Save заменяет хранимые байты.
func (m *Memory) Save(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

// SetFailSave задаёт ошибку для последующих вызовов Save (nil — сброс).
func (m *Memory) SetFailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

// Bytes возвращает копию текущего содержимого.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.data)
}
