package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
	"github.com/bigkaa/filevault/internal/storage/docstore"
	"github.com/bigkaa/filevault/internal/storage/index"
)

const testMaxFileSize = 1024

// fileEnv — тестовое окружение FileService.
type fileEnv struct {
	dir   string
	blobs *blobstore.BlobStore
	mem   *docstore.Memory
	idx   *index.Index
	svc   *FileService
}

func setupFileEnv(t *testing.T) *fileEnv {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.New(dir)
	if err != nil {
		t.Fatalf("Ошибка создания BlobStore: %v", err)
	}
	mem := docstore.NewMemory(nil)
	idx := index.New(mem, testLogger())
	svc := NewFileService(blobs, idx, FileServiceConfig{
		MaxFileSize:       testMaxFileSize,
		AllowedExtensions: []string{".txt", ".pdf", ".png", ".jpg", ".jpeg"},
	}, testLogger())
	return &fileEnv{dir: dir, blobs: blobs, mem: mem, idx: idx, svc: svc}
}

// blobCount возвращает количество blob-ов на диске.
func (e *fileEnv) blobCount(t *testing.T) int {
	t.Helper()
	list, err := e.blobs.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(list)
}

func upload(t *testing.T, svc *FileService, owner, name string, data []byte) (*model.FileRecord, error) {
	t.Helper()
	return svc.Upload(context.Background(), UploadParams{
		OwnerID:      owner,
		Reader:       bytes.NewReader(data),
		OriginalName: name,
		ContentType:  "text/plain; charset=utf-8",
		Size:         int64(len(data)),
	})
}

func TestUpload_AssignsSequentialIDs(t *testing.T) {
	env := setupFileEnv(t)

	first, err := upload(t, env.svc, "alice", "a.txt", []byte("0123456789"))
	if err != nil {
		t.Fatalf("Ошибка Upload: %v", err)
	}
	if first.ID != 1 || first.Size != 10 || first.OwnerID != "alice" {
		t.Errorf("неожиданная запись: %+v", first)
	}
	if first.ContentType != "text/plain" {
		t.Errorf("ContentType: хотели text/plain, получили %q", first.ContentType)
	}
	if first.StoredFileName == "a.txt" || !strings.HasSuffix(first.StoredFileName, ".txt") {
		t.Errorf("имя blob-а должно быть сгенерировано с расширением .txt: %q", first.StoredFileName)
	}

	second, err := upload(t, env.svc, "bob", "b.txt", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != 2 {
		t.Errorf("ожидался id 2, получен %d", second.ID)
	}

	aliceFiles, _ := env.svc.List(context.Background(), "alice")
	if len(aliceFiles) != 1 || aliceFiles[0].ID != 1 {
		t.Errorf("alice должна видеть только свой файл: %+v", aliceFiles)
	}
}

func TestUpload_RejectedWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		file  string
		data  []byte
		size  int64
		kind  ErrorKind
	}{
		{"запрещённое расширение", "alice", "evil.exe", []byte("MZ"), 2, KindValidation},
		{"без расширения", "alice", "README", []byte("text"), 4, KindValidation},
		{"регистр расширения", "alice", "photo.PNG", []byte("png"), 3, KindValidation},
		{"пустой файл", "alice", "empty.txt", nil, 0, KindValidation},
		{"заявлен слишком большой", "alice", "big.txt", []byte("x"), testMaxFileSize + 1, KindValidation},
		{"без владельца", "", "a.txt", []byte("x"), 1, KindUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupFileEnv(t)

			_, err := env.svc.Upload(context.Background(), UploadParams{
				OwnerID:      tt.owner,
				Reader:       bytes.NewReader(tt.data),
				OriginalName: tt.file,
				Size:         tt.size,
			})
			if KindOf(err) != tt.kind {
				t.Fatalf("ожидалась ошибка %s, получено %v", tt.kind, err)
			}

			if n := env.blobCount(t); n != 0 {
				t.Errorf("на диске остались blob-ы: %d", n)
			}
			all, _ := env.idx.All(context.Background())
			if len(all) != 0 {
				t.Errorf("в индексе остались записи: %d", len(all))
			}
		})
	}
}

func TestUpload_TooLargeFlag(t *testing.T) {
	env := setupFileEnv(t)

	_, err := upload(t, env.svc, "alice", "big.txt", bytes.Repeat([]byte("x"), testMaxFileSize+1))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("ожидалась ErrFileTooLarge, получено %v", err)
	}
}

func TestUpload_StreamLargerThanDeclared(t *testing.T) {
	env := setupFileEnv(t)

	// Заявлено 10 байт, фактически поток больше лимита
	_, err := env.svc.Upload(context.Background(), UploadParams{
		OwnerID:      "alice",
		Reader:       bytes.NewReader(bytes.Repeat([]byte("x"), testMaxFileSize*2)),
		OriginalName: "lie.txt",
		Size:         10,
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("ожидалась ErrFileTooLarge, получено %v", err)
	}
	if n := env.blobCount(t); n != 0 {
		t.Errorf("blob превышающего лимит файла должен быть удалён, осталось %d", n)
	}
}

func TestUpload_IndexFailureRemovesBlob(t *testing.T) {
	env := setupFileEnv(t)
	env.mem.SetFailSave(errors.New("disk full"))

	_, err := upload(t, env.svc, "alice", "a.txt", []byte("data"))
	if KindOf(err) != KindInternal {
		t.Fatalf("ожидалась внутренняя ошибка, получено %v", err)
	}
	if n := env.blobCount(t); n != 0 {
		t.Errorf("blob должен быть удалён после ошибки индекса, осталось %d", n)
	}
}

func TestDownload_RoundTrip(t *testing.T) {
	env := setupFileEnv(t)
	content := []byte("hello, filevault")
	rec, err := upload(t, env.svc, "alice", "hello.txt", content)
	if err != nil {
		t.Fatal(err)
	}

	dl, err := env.svc.Download(context.Background(), "alice", rec.ID)
	if err != nil {
		t.Fatalf("Ошибка Download: %v", err)
	}
	defer dl.Content.Close()

	got, _ := io.ReadAll(dl.Content)
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: %q", got)
	}
	if dl.Record.OriginalFileName != "hello.txt" {
		t.Errorf("OriginalFileName: получили %q", dl.Record.OriginalFileName)
	}
}

func TestDownload_AccessErrors(t *testing.T) {
	env := setupFileEnv(t)
	rec, _ := upload(t, env.svc, "alice", "a.txt", []byte("secret"))

	tests := []struct {
		name  string
		owner string
		id    int64
		kind  ErrorKind
	}{
		{"чужой файл", "bob", rec.ID, KindForbidden},
		{"нет записи", "alice", 999, KindNotFound},
		{"без владельца", "", rec.ID, KindUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Download(context.Background(), tt.owner, tt.id)
			if KindOf(err) != tt.kind {
				t.Errorf("ожидалась ошибка %s, получено %v", tt.kind, err)
			}
		})
	}
}

func TestDownload_MissingBlob(t *testing.T) {
	env := setupFileEnv(t)
	rec, _ := upload(t, env.svc, "alice", "a.txt", []byte("data"))

	if err := os.Remove(env.dir + "/" + rec.StoredFileName); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.Download(context.Background(), "alice", rec.ID)
	if KindOf(err) != KindNotFound {
		t.Errorf("ожидалась NotFound, получено %v", err)
	}
}

func TestDownload_TraversalInRecord(t *testing.T) {
	env := setupFileEnv(t)

	// Повреждённая запись с путём за пределами корня
	rec, err := env.idx.Add(context.Background(), model.FileRecord{
		OwnerID:        "alice",
		StoredFileName: "../../etc/passwd",
		Size:           1,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.Download(context.Background(), "alice", rec.ID)
	if KindOf(err) != KindInternal {
		t.Errorf("ожидалась внутренняя ошибка, получено %v", err)
	}
	if !errors.Is(err, blobstore.ErrPathTraversal) {
		t.Errorf("ожидалась ErrPathTraversal в цепочке, получено %v", err)
	}
}

func TestDelete(t *testing.T) {
	env := setupFileEnv(t)
	rec, _ := upload(t, env.svc, "alice", "a.txt", []byte("data"))

	if err := env.svc.Delete(context.Background(), "bob", rec.ID); KindOf(err) != KindForbidden {
		t.Errorf("удаление чужого файла: ожидалась Forbidden, получено %v", err)
	}

	if err := env.svc.Delete(context.Background(), "alice", rec.ID); err != nil {
		t.Fatalf("Ошибка Delete: %v", err)
	}
	if env.blobs.Exists(rec.StoredFileName) {
		t.Error("blob должен быть удалён")
	}

	if _, err := env.svc.Download(context.Background(), "alice", rec.ID); KindOf(err) != KindNotFound {
		t.Errorf("скачивание после удаления: ожидалась NotFound, получено %v", err)
	}
	if err := env.svc.Delete(context.Background(), "alice", rec.ID); KindOf(err) != KindNotFound {
		t.Errorf("повторное удаление: ожидалась NotFound, получено %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	env := setupFileEnv(t)
	upload(t, env.svc, "alice", "first.txt", []byte("1"))
	upload(t, env.svc, "alice", "second.txt", []byte("2"))

	list, err := env.svc.List(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].OriginalFileName != "second.txt" {
		t.Errorf("ожидалось second.txt первым: %+v", list)
	}

	empty, err := env.svc.List(context.Background(), "carol")
	if err != nil || len(empty) != 0 {
		t.Errorf("ожидался пустой список: %v, %v", empty, err)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", model.ContentTypeDefault},
		{"image/png", "image/png"},
		{"text/plain; charset=utf-8", "text/plain"},
		{"  ; x=y", model.ContentTypeDefault},
	}
	for _, tt := range tests {
		if got := detectContentType(tt.in); got != tt.want {
			t.Errorf("detectContentType(%q) = %q, хотели %q", tt.in, got, tt.want)
		}
	}
}
