// Пакет blobstore — хранение содержимого файлов (blob-ов) на диске.
// Blob-ы лежат плоско в одной корневой директории под сгенерированными
// именами. Запись всегда создаёт новый файл и никогда не перезаписывает
// существующий, все пути проходят проверку на выход за пределы корня.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — blob отсутствует на диске.
	ErrNotFound = errors.New("blob не найден")
	// ErrCreateCollision — файл со сгенерированным именем уже существует.
	ErrCreateCollision = errors.New("коллизия имени blob-а")
	// ErrPathTraversal — путь выходит за пределы корневой директории.
	ErrPathTraversal = errors.New("путь выходит за пределы корневой директории")
	// ErrInvalidName — недопустимое имя или расширение.
	ErrInvalidName = errors.New("недопустимое имя blob-а")
)

// tmpPrefix — префикс служебных файлов, которые пропускает List.
const tmpPrefix = "."

// BlobStore — управление blob-ами в корневой директории.
type BlobStore struct {
	// root — канонический абсолютный путь корневой директории
	root string
	// realRoot — root с раскрытыми symlink-ами
	realRoot string
	// newName — генератор имён (подменяется в тестах)
	newName func(ext string) string
}

// SaveResult — результат сохранения blob-а.
type SaveResult struct {
	// Name — сгенерированное имя blob-а (относительно root)
	Name string
	// Size — количество записанных байт
	Size int64
}

// BlobInfo — сведения о blob-е на диске (для сверки с индексом).
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New создаёт BlobStore. Создаёт корневую директорию, если она
// не существует, и приводит путь к каноническому виду.
func New(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", root, err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить абсолютный путь %s: %w", root, err)
	}

	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("не удалось раскрыть symlink-и пути %s: %w", abs, err)
	}

	return &BlobStore{root: filepath.Clean(abs), realRoot: realRoot, newName: generateName}, nil
}

// Root возвращает канонический путь корневой директории.
func (s *BlobStore) Root() string {
	return s.root
}

// Save записывает поток в новый blob с уникальным именем {uuid}{ext}.
// Файл создаётся с O_EXCL: существующий файл никогда не перезаписывается,
// при совпадении имени возвращается ErrCreateCollision.
// При ошибке записи или отмене ctx частично записанный файл удаляется.
func (s *BlobStore) Save(ctx context.Context, r io.Reader, ext string) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	if strings.ContainsAny(ext, `/\`+"\x00") {
		return SaveResult{}, fmt.Errorf("%w: расширение %q", ErrInvalidName, ext)
	}

	name := s.newName(ext)
	fullPath, err := s.Resolve(name)
	if err != nil {
		return SaveResult{}, err
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return SaveResult{}, fmt.Errorf("%w: %s", ErrCreateCollision, name)
		}
		return SaveResult{}, fmt.Errorf("ошибка создания файла %s: %w", name, err)
	}

	size, err := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		os.Remove(fullPath)
		return SaveResult{}, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(fullPath)
		return SaveResult{}, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return SaveResult{}, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return SaveResult{Name: name, Size: size}, nil
}

// Resolve возвращает абсолютный путь blob-а. Путь канонизируется,
// и если корневая директория не является его строгим префиксом,
// возвращается ErrPathTraversal. То же, если путь (или его директория,
// когда файла ещё нет) через symlink указывает за пределы корня.
func (s *BlobStore) Resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	fullPath, err := filepath.Abs(filepath.Join(s.root, name))
	if err != nil {
		return "", fmt.Errorf("ошибка канонизации пути %q: %w", name, err)
	}

	if !strings.HasPrefix(fullPath, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}

	if err := s.checkSymlinks(fullPath); err != nil {
		return "", fmt.Errorf("%w: %q", err, name)
	}

	return fullPath, nil
}

// checkSymlinks раскрывает symlink-и пути и проверяет, что цель
// осталась внутри realRoot.
func (s *BlobStore) checkSymlinks(fullPath string) error {
	target, err := filepath.EvalSymlinks(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		// Файла ещё нет: проверяем директорию, в которой он будет создан
		dir, dirErr := filepath.EvalSymlinks(filepath.Dir(fullPath))
		if dirErr != nil {
			// Директории тоже нет, открыть или создать файл не получится
			return nil
		}
		if dir == s.realRoot || s.insideRealRoot(dir) {
			return nil
		}
		return ErrPathTraversal
	}
	if err != nil {
		return fmt.Errorf("ошибка раскрытия symlink-ов: %w", err)
	}
	if !s.insideRealRoot(target) {
		return ErrPathTraversal
	}
	return nil
}

func (s *BlobStore) insideRealRoot(path string) bool {
	return strings.HasPrefix(path, s.realRoot+string(os.PathSeparator))
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
func (s *BlobStore) Open(ctx context.Context, name string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}

	return f, nil
}

// Delete удаляет blob. Удаление отсутствующего blob-а не является ошибкой.
func (s *BlobStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.Resolve(name)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Exists проверяет существование blob-а.
func (s *BlobStore) Exists(name string) bool {
	fullPath, err := s.Resolve(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// List возвращает все blob-ы в корневой директории.
// Служебные файлы (начинающиеся с точки) и поддиректории пропускаются.
func (s *BlobStore) List(ctx context.Context) ([]BlobInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.root, err)
	}

	result := make([]BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", entry.Name(), err)
		}

		result = append(result, BlobInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return result, nil
}

// generateName генерирует имя blob-а: UUID v4 без дефисов + расширение.
// Пример: 9f1c2e7a4b3d4e8f9a0b1c2d3e4f5a6b.png
func generateName(ext string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}

// contextReader прерывает чтение при отмене контекста.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
