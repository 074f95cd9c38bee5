package userdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// openTestDB открывает базу во временной директории.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "users.db"), testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия базы: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCreateAndGet проверяет создание и поиск пользователя.
func TestCreateAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	created, err := db.Create(ctx, "alice", "hash-1")
	if err != nil {
		t.Fatalf("ошибка Create: %v", err)
	}
	if created.ID == 0 {
		t.Error("ожидался ненулевой id")
	}

	got, err := db.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("ошибка GetByUsername: %v", err)
	}
	if got.ID != created.ID || got.PasswordHash != "hash-1" {
		t.Errorf("неожиданный пользователь: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt: ожидалось %v, получено %v", created.CreatedAt, got.CreatedAt)
	}
}

// TestGet_CaseInsensitive проверяет поиск без учёта регистра.
func TestGet_CaseInsensitive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Create(ctx, "Alice", "h"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("ожидался найденный пользователь: %v", err)
	}
	if got.Username != "Alice" {
		t.Errorf("ожидалось исходное имя Alice, получено %q", got.Username)
	}
}

// TestCreate_Duplicate проверяет отказ при повторной регистрации.
func TestCreate_Duplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Create(ctx, "bob", "h"); err != nil {
		t.Fatal(err)
	}
	_, err := db.Create(ctx, "BOB", "h2")
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("ожидалась ErrUserExists, получено %v", err)
	}
}

// TestGet_NotFound проверяет отсутствующего пользователя.
func TestGet_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetByUsername(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ожидалась ErrUserNotFound, получено %v", err)
	}
}

// TestReopen проверяет повторное открытие (миграции идемпотентны).
func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	ctx := context.Background()

	db, err := Open(ctx, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	db.Create(ctx, "carol", "h")
	db.Close()

	db, err = Open(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("ошибка повторного открытия: %v", err)
	}
	defer db.Close()

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ожидался 1 пользователь, получено %d", n)
	}

	if status, msg := db.CheckReady(ctx); status != "ok" {
		t.Errorf("ожидался статус ok, получено %s: %s", status, msg)
	}
}

// TestCreate_Concurrent проверяет конкурентную регистрацию разных имён.
func TestCreate_Concurrent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := db.Create(ctx, fmt.Sprintf("user%d", i), "h"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ошибка конкурентного Create: %v", err)
	}

	count, _ := db.Count(ctx)
	if count != n {
		t.Errorf("ожидалось %d пользователей, получено %d", n, count)
	}
}
